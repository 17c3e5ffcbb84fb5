package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TriageRuleFile is the on-disk shape of the rule file named by
// Config.TriageRulesFile: an ordered ladder of rules, checked in
// order, the first match winning.
type TriageRuleFile struct {
	Rules []TriageRuleConfig `yaml:"rules"`
}

// LoadTriageRules reads the triage rule ladder from the file named by
// cfg.TriageRulesFile, relative to cfg.HomeDir. A missing file or an
// unset TriageRulesFile falls back to DefaultTriageRuleConfigs, so the
// Inbox conductor always has a ladder to apply rather than routing
// every message to the default rung.
func LoadTriageRules(cfg Config) ([]TriageRuleConfig, error) {
	if cfg.TriageRulesFile == "" {
		return DefaultTriageRuleConfigs(), nil
	}
	path := cfg.TriageRulesFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.HomeDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultTriageRuleConfigs(), nil
		}
		return nil, fmt.Errorf("read triage rules: %w", err)
	}
	var file TriageRuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse triage rules: %w", err)
	}
	return file.Rules, nil
}

// DefaultTriageRuleConfigs is the ladder applied when the operator has
// not supplied a triage_rules.yaml. It covers the handful of rungs
// every deployment needs before any domain-specific tuning.
func DefaultTriageRuleConfigs() []TriageRuleConfig {
	return []TriageRuleConfig{
		{
			Keywords:  []string{"urgent", "asap", "emergency"},
			Category:  "escalation",
			Priority:  "urgent",
			AgentType: "reply",
			Reason:    "urgent keyword match",
		},
		{
			Keywords:  []string{"invoice", "billing", "refund", "charge"},
			Category:  "billing",
			Priority:  "normal",
			AgentType: "billing",
			Reason:    "billing keyword match",
		},
		{
			Keywords:  []string{"bug", "error", "broken", "not working"},
			Category:  "support",
			Priority:  "high",
			AgentType: "research",
			Reason:    "support issue keyword match",
		},
	}
}
