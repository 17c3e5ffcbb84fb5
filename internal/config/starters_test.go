package config

import "testing"

func TestStarterWorkerTypes_Count(t *testing.T) {
	types := StarterWorkerTypes()
	if len(types) != 2 {
		t.Fatalf("expected 2 starter worker types, got %d", len(types))
	}
}

func TestStarterWorkerTypes_ExpectedNames(t *testing.T) {
	types := StarterWorkerTypes()
	expected := map[string]bool{"reply": true, "research": true}
	for _, wt := range types {
		if !expected[wt.Name] {
			t.Errorf("unexpected worker type name: %q", wt.Name)
		}
		delete(expected, wt.Name)
	}
	for missing := range expected {
		t.Errorf("missing expected worker type: %q", missing)
	}
}

func TestStarterWorkerTypes_FieldsNonEmpty(t *testing.T) {
	for _, wt := range StarterWorkerTypes() {
		if wt.Image == "" {
			t.Errorf("worker type %s: empty Image", wt.Name)
		}
		if wt.MemoryMB <= 0 {
			t.Errorf("worker type %s: non-positive MemoryMB", wt.Name)
		}
		if wt.TimeoutSeconds <= 0 {
			t.Errorf("worker type %s: non-positive TimeoutSeconds", wt.Name)
		}
	}
}

func TestStarterWorkerTypes_UniqueNames(t *testing.T) {
	seen := make(map[string]bool)
	for _, wt := range StarterWorkerTypes() {
		if seen[wt.Name] {
			t.Errorf("duplicate worker type name: %q", wt.Name)
		}
		seen[wt.Name] = true
	}
}
