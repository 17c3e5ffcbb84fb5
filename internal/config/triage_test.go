package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTriageRules_FallsBackToDefaultWhenUnset(t *testing.T) {
	rules, err := LoadTriageRules(Config{HomeDir: t.TempDir()})
	if err != nil {
		t.Fatalf("LoadTriageRules: %v", err)
	}
	if len(rules) != len(DefaultTriageRuleConfigs()) {
		t.Fatalf("expected default ladder, got %v", rules)
	}
}

func TestLoadTriageRules_MissingFileFallsBackToDefault(t *testing.T) {
	cfg := Config{HomeDir: t.TempDir(), TriageRulesFile: "triage_rules.yaml"}
	rules, err := LoadTriageRules(cfg)
	if err != nil {
		t.Fatalf("LoadTriageRules: %v", err)
	}
	if len(rules) != len(DefaultTriageRuleConfigs()) {
		t.Fatalf("expected default ladder for missing file, got %v", rules)
	}
}

func TestLoadTriageRules_ParsesLadder(t *testing.T) {
	homeDir := t.TempDir()
	yaml := `
rules:
  - keywords: ["urgent", "asap"]
    category: escalation
    priority: high
    agent_type: reply
    reason: "urgent keyword match"
  - keywords: ["invoice", "billing"]
    category: billing
    priority: normal
    agent_type: research
    reason: "billing keyword match"
`
	if err := os.WriteFile(filepath.Join(homeDir, "triage_rules.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Config{HomeDir: homeDir, TriageRulesFile: "triage_rules.yaml"}

	rules, err := LoadTriageRules(cfg)
	if err != nil {
		t.Fatalf("LoadTriageRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].Category != "escalation" || rules[0].Priority != "high" {
		t.Fatalf("unexpected first rule: %+v", rules[0])
	}
}
