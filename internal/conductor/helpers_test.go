package conductor

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/draft"
	"github.com/coreclaw/coreclaw/internal/policy"
	"github.com/coreclaw/coreclaw/internal/safety"
	"github.com/coreclaw/coreclaw/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeChecker is a minimal policy.Checker for conductor tests that
// only ever need to pin the operation mode.
type fakeChecker struct {
	mode policy.OperationMode
}

func (f *fakeChecker) Mode() policy.OperationMode     { return f.mode }
func (f *fakeChecker) AllowCapability(string) bool    { return true }
func (f *fakeChecker) AutonomousEligible(string) bool { return false }
func (f *fakeChecker) AutoApproveThreshold() float64  { return 0.1 }
func (f *fakeChecker) Version() string                { return "test" }

func newDraftEngine(t *testing.T, st *store.Store, eb *bus.Bus, detector *safety.Detector, mode policy.OperationMode) *draft.Engine {
	t.Helper()
	if detector == nil {
		detector = safety.NewDetector()
	}
	return draft.New(st, eb, &fakeChecker{mode: mode}, detector, slog.Default())
}
