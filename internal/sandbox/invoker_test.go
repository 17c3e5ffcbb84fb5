package sandbox

import (
	"strings"
	"testing"
)

func newTestInvokerForParsing(t *testing.T) *Invoker {
	t.Helper()
	inv := &Invoker{}
	compiler := newCompilerForTest(t)
	inv.schema = compiler
	return inv
}

func TestParseFrames_SingleValidFrame(t *testing.T) {
	inv := newTestInvokerForParsing(t)
	stdout := strings.Join([]string{
		"some log noise",
		sentinelStart,
		`{"status":"completed","summary":"done handling the request","outputs":[]}`,
		sentinelEnd,
		"trailing noise",
	}, "\n")

	frames := inv.parseFrames(stdout)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Output.Status != "completed" {
		t.Fatalf("unexpected frame status: %+v", frames[0].Output)
	}
	if frames[0].Output.Summary != "done handling the request" {
		t.Fatalf("unexpected frame summary: %+v", frames[0].Output)
	}
}

func TestParseFrames_InvalidJSONIsSkipped(t *testing.T) {
	inv := newTestInvokerForParsing(t)
	stdout := strings.Join([]string{
		sentinelStart,
		`not json`,
		sentinelEnd,
	}, "\n")

	frames := inv.parseFrames(stdout)
	if len(frames) != 0 {
		t.Fatalf("expected invalid frame to be skipped, got %d", len(frames))
	}
}

func TestParseFrames_SchemaViolationIsSkipped(t *testing.T) {
	inv := newTestInvokerForParsing(t)
	stdout := strings.Join([]string{
		sentinelStart,
		`{"status":"bogus","summary":"missing a valid status"}`,
		sentinelEnd,
	}, "\n")

	frames := inv.parseFrames(stdout)
	if len(frames) != 0 {
		t.Fatalf("expected schema-invalid frame to be skipped, got %d", len(frames))
	}
}

func TestParseFrames_MultipleFrames(t *testing.T) {
	inv := newTestInvokerForParsing(t)
	stdout := strings.Join([]string{
		sentinelStart, `{"status":"partial","summary":"first step finished"}`, sentinelEnd,
		sentinelStart, `{"status":"completed","summary":"second step finished"}`, sentinelEnd,
	}, "\n")

	frames := inv.parseFrames(stdout)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
}

func TestParseFrames_OutputsAndMetadataSurvive(t *testing.T) {
	inv := newTestInvokerForParsing(t)
	stdout := strings.Join([]string{
		sentinelStart,
		`{"status":"completed","priority":"high","summary":"drafted a reply for review","needsReview":true,"outputs":[{"type":"reply","content":"Hi there"}],"metadata":{"source":"triage"}}`,
		sentinelEnd,
	}, "\n")

	frames := inv.parseFrames(stdout)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	out := frames[0].Output
	if out.Priority != "high" || !out.NeedsReview {
		t.Fatalf("unexpected output: %+v", out)
	}
	if len(out.Outputs) != 1 || out.Outputs[0].Type != "reply" || out.Outputs[0].Content != "Hi there" {
		t.Fatalf("unexpected outputs: %+v", out.Outputs)
	}
	if out.Metadata["source"] != "triage" {
		t.Fatalf("unexpected metadata: %+v", out.Metadata)
	}
}
