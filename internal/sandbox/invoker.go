// Package sandbox launches each task as an isolated child process (a
// Docker container), streams its stdout for sentinel-delimited output
// frames, validates them against the agent-output JSON Schema, and
// offers a filesystem mailbox for mid-run follow-up messages.
package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	sentinelStart = "---CORECLAW_OUTPUT_START---"
	sentinelEnd   = "---CORECLAW_OUTPUT_END---"

	mailboxCloseFile = "_close"

	defaultGrace = 10 * time.Second
)

// FaultKind classifies InvocationFault so callers can switch on it.
type FaultKind string

// Fault kinds raised by the worker invoker.
const (
	FaultSpawn   FaultKind = "spawn"
	FaultTimeout FaultKind = "timeout"
	FaultKill    FaultKind = "kill"
	FaultParse   FaultKind = "parse"
)

// InvocationFault is the typed error returned for worker lifecycle
// failures, mirroring the teacher's SkillFault shape.
type InvocationFault struct {
	Kind   FaultKind
	TaskID string
	Err    error
}

func (f *InvocationFault) Error() string {
	return fmt.Sprintf("invocation fault (%s) for task %s: %v", f.Kind, f.TaskID, f.Err)
}

func (f *InvocationFault) Unwrap() error { return f.Err }

// AgentOutputItem is one entry in an Agent-Output's outputs array: a
// typed piece of work product, such as a drafted reply or a research
// finding.
type AgentOutputItem struct {
	Type     string                 `json:"type"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AgentOutput is the structured result a worker emits in its final
// output frame.
type AgentOutput struct {
	Status      string                 `json:"status"`
	Priority    string                 `json:"priority"`
	Summary     string                 `json:"summary"`
	NeedsReview bool                   `json:"needsReview"`
	Outputs     []AgentOutputItem      `json:"outputs"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// Frame is a single parsed Agent-Output frame: the JSON object found
// between the sentinel markers.
type Frame struct {
	Raw    string
	Output AgentOutput
}

// Profile describes how to invoke a given task type: container image,
// resource caps and timeout. It is resolved by internal/agent.Registry.
type Profile struct {
	Image       string
	MemoryMB    int64
	NetworkMode string
	Timeout     time.Duration
	Env         []string
}

// Invoker launches worker containers and parses their output.
type Invoker struct {
	docker *client.Client
	schema *jsonschema.Schema
	mailboxRoot string
}

// New creates an Invoker. schemaJSON is the Agent-Output JSON Schema
// document used to validate every parsed frame.
func New(mailboxRoot string, schemaJSON []byte) (*Invoker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("agent-output.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add agent-output schema: %w", err)
	}
	schema, err := compiler.Compile("agent-output.json")
	if err != nil {
		return nil, fmt.Errorf("compile agent-output schema: %w", err)
	}

	if mailboxRoot == "" {
		mailboxRoot = filepath.Join(os.TempDir(), "coreclaw-mailboxes")
	}
	if err := os.MkdirAll(mailboxRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create mailbox root: %w", err)
	}

	return &Invoker{docker: cli, schema: schema, mailboxRoot: mailboxRoot}, nil
}

// Close releases the docker client.
func (inv *Invoker) Close() error { return inv.docker.Close() }

// Invoke launches a container for taskID, streams its stdout for
// Agent-Output frames, and returns the last valid frame's body along
// with the full transcript of frames seen. It enforces profile.Timeout
// with a grace period before a forced kill.
func (inv *Invoker) Invoke(ctx context.Context, taskID, payload string, profile Profile) ([]Frame, error) {
	mailbox, err := newMailbox(inv.mailboxRoot, taskID)
	if err != nil {
		return nil, &InvocationFault{Kind: FaultSpawn, TaskID: taskID, Err: err}
	}
	defer mailbox.cleanup()

	timeout := profile.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	containerID, err := inv.start(runCtx, taskID, payload, profile, mailbox.dir)
	if err != nil {
		return nil, &InvocationFault{Kind: FaultSpawn, TaskID: taskID, Err: err}
	}

	frames, runErr := inv.stream(runCtx, containerID)
	if runErr != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			inv.forceKillWithGrace(ctx, containerID)
			return frames, &InvocationFault{Kind: FaultTimeout, TaskID: taskID, Err: runErr}
		}
		return frames, &InvocationFault{Kind: FaultKill, TaskID: taskID, Err: runErr}
	}
	return frames, nil
}

func (inv *Invoker) start(ctx context.Context, taskID, payload string, profile Profile, mailboxDir string) (string, error) {
	memoryMB := profile.MemoryMB
	if memoryMB <= 0 {
		memoryMB = 512
	}
	networkMode := profile.NetworkMode
	if networkMode == "" {
		networkMode = "none"
	}
	image := profile.Image
	if image == "" {
		return "", fmt.Errorf("profile has no image configured")
	}

	resp, err := inv.docker.ContainerCreate(ctx, &container.Config{
		Image: image,
		Env:   append(profile.Env, "CORECLAW_TASK_PAYLOAD="+payload, "CORECLAW_MAILBOX=/mailbox"),
		Tty:   false,
	}, &container.HostConfig{
		Resources:   container.Resources{Memory: memoryMB * 1024 * 1024},
		NetworkMode: container.NetworkMode(networkMode),
		Binds:       []string{mailboxDir + ":/mailbox"},
		AutoRemove:  false,
	}, nil, nil, "coreclaw-task-"+taskID)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	if err := inv.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}
	return resp.ID, nil
}

func (inv *Invoker) stream(ctx context.Context, containerID string) ([]Frame, error) {
	out, err := inv.docker.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		return nil, fmt.Errorf("attach logs: %w", err)
	}
	defer out.Close()

	var stdoutBuf bytes.Buffer
	pr, pw := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(pw, io.Discard, out)
		_ = pw.CloseWithError(copyErr)
	}()
	go func() {
		_, _ = io.Copy(&stdoutBuf, pr)
	}()

	statusCh, errCh := inv.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return nil, fmt.Errorf("wait container: %w", err)
	case <-statusCh:
	case <-ctx.Done():
		return inv.parseFrames(stdoutBuf.String()), ctx.Err()
	}
	return inv.parseFrames(stdoutBuf.String()), nil
}

func (inv *Invoker) parseFrames(stdout string) []Frame {
	var frames []Frame
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var inFrame bool
	var buf strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.TrimSpace(line) == sentinelStart:
			inFrame = true
			buf.Reset()
		case strings.TrimSpace(line) == sentinelEnd:
			if inFrame {
				if frame, ok := inv.validateFrame(buf.String()); ok {
					frames = append(frames, frame)
				}
			}
			inFrame = false
		case inFrame:
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	return frames
}

func (inv *Invoker) validateFrame(raw string) (Frame, bool) {
	var body map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return Frame{}, false
	}
	if err := inv.schema.Validate(body); err != nil {
		return Frame{}, false
	}
	var output AgentOutput
	if err := json.Unmarshal([]byte(raw), &output); err != nil {
		return Frame{}, false
	}
	return Frame{Raw: raw, Output: output}, true
}

func (inv *Invoker) forceKillWithGrace(ctx context.Context, containerID string) {
	graceCtx, cancel := context.WithTimeout(ctx, defaultGrace)
	defer cancel()
	_ = inv.docker.ContainerStop(graceCtx, containerID, container.StopOptions{})
	<-graceCtx.Done()
	_ = inv.docker.ContainerKill(ctx, containerID, "SIGKILL")
	_ = inv.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

type mailbox struct {
	dir string
}

func newMailbox(root, taskID string) (*mailbox, error) {
	dir := filepath.Join(root, taskID+"-"+uuid.NewString()[:8])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create mailbox dir: %w", err)
	}
	return &mailbox{dir: dir}, nil
}

// Send writes a follow-up message into the mailbox via a temp-file
// rename, so the reading side never observes a partial write.
func (m *mailbox) Send(name, content string) error {
	tmp := filepath.Join(m.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write mailbox temp file: %w", err)
	}
	return os.Rename(tmp, filepath.Join(m.dir, name))
}

// Close drops the _close sentinel file, signalling the running worker
// that no further follow-ups will arrive.
func (m *mailbox) Close() error {
	return os.WriteFile(filepath.Join(m.dir, mailboxCloseFile), nil, 0o644)
}

func (m *mailbox) cleanup() {
	_ = os.RemoveAll(m.dir)
}
