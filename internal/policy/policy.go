// Package policy carries the operating mode and capability set that
// gates what the Workflow conductor and worker invoker are allowed to
// do, hot-reloadable from config.yaml without a daemon restart.
package policy

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
)

// OperationMode controls how far the system is allowed to act without
// a human in the loop.
type OperationMode string

// Operation modes, from most to least conservative.
const (
	// ModeSandbox drafts nothing; the worker output is logged only.
	ModeSandbox OperationMode = "sandbox"
	// ModeSuggest drafts are produced but never auto-approved.
	ModeSuggest OperationMode = "suggest"
	// ModeAssist allows auto-approval of minor edits under the
	// configured edit-ratio threshold.
	ModeAssist OperationMode = "assist"
	// ModeAutonomous allows drafts to be sent without review for
	// agent types explicitly marked autonomous-eligible.
	ModeAutonomous OperationMode = "autonomous"
)

// Valid reports whether m is one of the four known operation modes.
func (m OperationMode) Valid() bool {
	switch m {
	case ModeSandbox, ModeSuggest, ModeAssist, ModeAutonomous:
		return true
	}
	return false
}

// Policy is the serializable policy configuration.
type Policy struct {
	Mode                  OperationMode `yaml:"mode"`
	AutoApproveEditRatio  float64       `yaml:"auto_approve_edit_ratio"`
	AutonomousAgentTypes  []string      `yaml:"autonomous_agent_types"`
	AllowCapabilities     []string      `yaml:"allow_capabilities"`
}

// Default returns the most conservative policy.
func Default() Policy {
	return Policy{Mode: ModeSandbox, AutoApproveEditRatio: 0.1}
}

// Checker is the read-only interface consumers use to gate behavior.
type Checker interface {
	Mode() OperationMode
	AllowCapability(capability string) bool
	AutonomousEligible(agentType string) bool
	AutoApproveThreshold() float64
	Version() string
}

func (p Policy) normalized() Policy {
	if !p.Mode.Valid() {
		p.Mode = ModeSandbox
	}
	return p
}

// Live wraps a Policy with thread-safe hot-reload, the way the
// teacher's LivePolicy backs config file watches.
type Live struct {
	mu   sync.RWMutex
	data Policy
}

// NewLive creates a Live policy from an initial snapshot.
func NewLive(initial Policy) *Live {
	return &Live{data: initial.normalized()}
}

// Mode returns the current operation mode.
func (l *Live) Mode() OperationMode {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.data.Mode
}

// AllowCapability reports whether capability is granted.
func (l *Live) AllowCapability(capability string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	capability = strings.ToLower(strings.TrimSpace(capability))
	for _, c := range l.data.AllowCapabilities {
		if strings.ToLower(strings.TrimSpace(c)) == capability {
			return true
		}
	}
	return false
}

// AutonomousEligible reports whether agentType may send drafts without
// review in ModeAutonomous.
func (l *Live) AutonomousEligible(agentType string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.data.AutonomousAgentTypes {
		if strings.EqualFold(t, agentType) {
			return true
		}
	}
	return false
}

// AutoApproveThreshold returns the maximum edit ratio that still
// counts as a minor edit eligible for auto-approval in ModeAssist.
func (l *Live) AutoApproveThreshold() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.data.AutoApproveEditRatio
}

// Version returns a content-addressed identifier for the current
// policy, recorded on every audit entry so a reviewer can tell which
// policy was active for a given decision.
func (l *Live) Version() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return versionFor(l.data)
}

// Reload atomically swaps in a freshly loaded policy. Invalid modes
// fall back to ModeSandbox rather than erroring, since a malformed
// config edit must never widen what the system is allowed to do.
func (l *Live) Reload(p Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data = p.normalized()
}

// Snapshot returns a copy of the current policy data.
func (l *Live) Snapshot() Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := l.data
	cp.AutonomousAgentTypes = append([]string(nil), l.data.AutonomousAgentTypes...)
	cp.AllowCapabilities = append([]string(nil), l.data.AllowCapabilities...)
	return cp
}

func versionFor(p Policy) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(fmt.Sprintf("mode=%s|ratio=%f|", p.Mode, p.AutoApproveEditRatio)))
	for _, v := range p.AutonomousAgentTypes {
		_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(v)) + "|"))
	}
	for _, v := range p.AllowCapabilities {
		_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(v)) + "|"))
	}
	return "policy-" + strconv.FormatUint(h.Sum64(), 16)
}
