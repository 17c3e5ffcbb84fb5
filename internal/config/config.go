// Package config loads coreclaw's single YAML configuration file and
// applies environment overrides on top of it. Exactly one environment
// variable is part of the stable contract (CORECLAW_STORE_PATH, read
// directly by internal/store); every other knob lives in config.yaml
// and is merely mirrored by a handful of CORECLAW_* overrides for
// container deployments.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coreclaw/coreclaw/internal/policy"
)

// WorkerTypeConfig describes one entry in the sandbox worker-type
// registry (internal/agent.Registry), as data that can be edited in
// config.yaml instead of compiled in.
type WorkerTypeConfig struct {
	Name           string   `yaml:"name"`
	Image          string   `yaml:"image"`
	MemoryMB       int64    `yaml:"memory_mb"`
	NetworkMode    string   `yaml:"network_mode"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Env            []string `yaml:"env"`
}

// KnowledgeSourceConfig names a read-only knowledge source the Context
// conductor may query during triage. The concrete client for a given
// Type is out of scope; this is the registration record only.
type KnowledgeSourceConfig struct {
	Name           string `yaml:"name"`
	Type           string `yaml:"type"`
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// TriageRuleConfig is one rung of the Inbox conductor's triage ladder,
// as loaded from YAML. A message matches a rule when its channel (if
// set) equals Channel and either its body contains any of Keywords or
// its subject contains any of SubjectKeywords, case-insensitively; the
// conductor builds the runtime TriageRule.Match closure from this
// data.
type TriageRuleConfig struct {
	Channel         string   `yaml:"channel"`
	Keywords        []string `yaml:"keywords"`
	SubjectKeywords []string `yaml:"subject_keywords"`
	Category        string   `yaml:"category"`
	Priority        string   `yaml:"priority"`
	AgentType       string   `yaml:"agent_type"`
	Reason          string   `yaml:"reason"`
}

// ChannelConfig holds the credentials and toggle for one business
// communication channel adapter. Concrete adapters are out of scope;
// Credentials is opaque key/value data the adapter interprets itself.
type ChannelConfig struct {
	Name        string            `yaml:"name"`
	Enabled     bool              `yaml:"enabled"`
	Credentials map[string]string `yaml:"credentials"`
}

// SkillsConfig locates the directories the skill engine watches for
// SKILL.yaml manifests.
type SkillsConfig struct {
	ProjectDir string   `yaml:"project_dir"`
	ExtraDirs  []string `yaml:"extra_dirs"`
}

// OTelConfig controls whether tracing/metrics are emitted and at what
// sample rate; see internal/otel.Config.
type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// QueueConfig tunes the task queue's polling and retry behavior; see
// internal/queue.Config.
type QueueConfig struct {
	Concurrency          int `yaml:"concurrency"`
	PollIntervalMillis   int `yaml:"poll_interval_ms"`
	RetryBaseWaitSeconds int `yaml:"retry_base_wait_seconds"`
}

// Config is the root configuration document, unmarshaled from
// $CORECLAW_HOME/config.yaml.
type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	// MaxQueueDepth bounds pending tasks before the Inbox conductor
	// applies backpressure. 0 means unlimited.
	MaxQueueDepth int `yaml:"max_queue_depth"`

	// DrainTimeoutSeconds bounds how long a shutdown waits for
	// in-flight tasks before forcing termination. 0 uses the default.
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`

	RetentionTaskEventsDays int `yaml:"retention_task_events_days"`
	RetentionAuditLogDays   int `yaml:"retention_audit_log_days"`
	RetentionMessagesDays   int `yaml:"retention_messages_days"`

	// HeartbeatIntervalMinutes drives the Chief conductor's periodic
	// briefing timer (internal/cron).
	HeartbeatIntervalMinutes int `yaml:"heartbeat_interval_minutes"`

	// LearningIntervalMinutes drives the Learning conductor's periodic
	// correction-analysis timer (internal/cron).
	LearningIntervalMinutes int `yaml:"learning_interval_minutes"`

	Queue QueueConfig `yaml:"queue"`

	Policy policy.Policy `yaml:"policy"`

	WorkerTypes      []WorkerTypeConfig      `yaml:"worker_types"`
	KnowledgeSources []KnowledgeSourceConfig `yaml:"knowledge_sources"`
	TriageRulesFile  string                  `yaml:"triage_rules_file"`

	Skills   SkillsConfig    `yaml:"skills"`
	Channels []ChannelConfig `yaml:"channels"`
	OTel     OTelConfig      `yaml:"otel"`

	NeedsGenesis bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// loadRawConfig reads config.yaml into a generic map, returning an empty map if the file doesn't exist.
func loadRawConfig(path string) (map[string]interface{}, error) {
	raw := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return raw, nil
}

// saveRawConfig marshals and writes a generic map back to config.yaml.
func saveRawConfig(path string, raw map[string]interface{}) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// SetPolicyMode updates the operation mode in config.yaml, preserving other settings.
func SetPolicyMode(homeDir string, mode string) error {
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	policySection, _ := raw["policy"].(map[string]interface{})
	if policySection == nil {
		policySection = make(map[string]interface{})
	}
	policySection["mode"] = mode
	raw["policy"] = policySection
	return saveRawConfig(configPath, raw)
}

// AppendWorkerType adds a worker type to config.yaml.
// WARNING: round-trips through yaml.Marshal — strips comments, may reorder fields.
func AppendWorkerType(configPath string, wt WorkerTypeConfig) error {
	cfg := Config{}
	data, err := os.ReadFile(configPath)
	if err == nil && len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}

	for _, existing := range cfg.WorkerTypes {
		if existing.Name == wt.Name {
			return fmt.Errorf("worker type %q already exists — use a different name or remove the existing entry first", wt.Name)
		}
	}

	cfg.WorkerTypes = append(cfg.WorkerTypes, wt)
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(configPath, out, 0o644)
}

// Fingerprint returns a stable hash of the active config, useful for
// detecting whether a running daemon's effective config has drifted
// from what is now on disk.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "queue=%+v|mode=%s|maxdepth=%d|drain=%d|workertypes=%d",
		c.Queue, c.Policy.Mode, c.MaxQueueDepth, c.DrainTimeoutSeconds, len(c.WorkerTypes))
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel:                 "info",
		MaxQueueDepth:            100,
		DrainTimeoutSeconds:      5,
		RetentionTaskEventsDays:  90,
		RetentionAuditLogDays:    365,
		RetentionMessagesDays:    90,
		HeartbeatIntervalMinutes: 60,
		LearningIntervalMinutes:  1440,
		Queue: QueueConfig{
			Concurrency:          4,
			PollIntervalMillis:   500,
			RetryBaseWaitSeconds: 5,
		},
		Policy: policy.Default(),
		Skills: SkillsConfig{
			ProjectDir: "./skills",
		},
	}
}

// HomeDir resolves coreclaw's home directory: $CORECLAW_HOME if set,
// else ~/.coreclaw.
func HomeDir() string {
	if override := os.Getenv("CORECLAW_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".coreclaw")
}

// Load reads config.yaml from the resolved home directory, applying
// environment overrides and defaults. A missing config.yaml is not an
// error; NeedsGenesis is set so the caller can write out a starter file.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create coreclaw home: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 4
	}
	if cfg.Queue.PollIntervalMillis <= 0 {
		cfg.Queue.PollIntervalMillis = 500
	}
	if cfg.Queue.RetryBaseWaitSeconds <= 0 {
		cfg.Queue.RetryBaseWaitSeconds = 5
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		cfg.DrainTimeoutSeconds = 5
	}
	if !cfg.Policy.Mode.Valid() {
		cfg.Policy.Mode = policy.ModeSandbox
	}
	if cfg.Skills.ProjectDir == "" {
		cfg.Skills.ProjectDir = "./skills"
	}
	if len(cfg.WorkerTypes) == 0 {
		cfg.WorkerTypes = StarterWorkerTypes()
	}
}

// PollInterval returns Queue.PollIntervalMillis as a time.Duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Queue.PollIntervalMillis) * time.Millisecond
}

// RetryBaseWait returns Queue.RetryBaseWaitSeconds as a time.Duration.
func (c Config) RetryBaseWait() time.Duration {
	return time.Duration(c.Queue.RetryBaseWaitSeconds) * time.Second
}

// DrainTimeout returns DrainTimeoutSeconds as a time.Duration.
func (c Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("CORECLAW_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("CORECLAW_QUEUE_CONCURRENCY"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Queue.Concurrency = v
		}
	}
	if raw := os.Getenv("CORECLAW_MAX_QUEUE_DEPTH"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxQueueDepth = v
		}
	}
	if raw := os.Getenv("CORECLAW_DRAIN_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.DrainTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("CORECLAW_POLICY_MODE"); raw != "" {
		cfg.Policy.Mode = policy.OperationMode(raw)
	}
}
