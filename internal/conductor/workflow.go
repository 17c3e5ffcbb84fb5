package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/draft"
	"github.com/coreclaw/coreclaw/internal/policy"
	"github.com/coreclaw/coreclaw/internal/sandbox"
	"github.com/coreclaw/coreclaw/internal/store"
)

// draftBodyTypes lists the output item types Workflow treats as draft
// material, checked in order against an Agent-Output's outputs[].
var draftBodyTypes = map[string]bool{
	"email": true,
	"reply": true,
	"draft": true,
}

// complexTaskTypes fan out into a multi-step plan instead of running
// as a single task.
var complexTaskTypes = map[string]bool{
	"multi-step-response":  true,
	"batch-processing":     true,
	"research-and-report":  true,
}

// draftProducingTaskTypes produce a reply that needs human review once
// they complete.
var draftProducingTaskTypes = map[string]bool{
	"reply":                true,
	"multi-step-response":  true,
	"research-and-report":  true,
}

// PlanStep is one node of a Workflow plan: a task to create, and the
// steps (by ID) that must complete first. Grounded on the teacher's
// coordinator.PlanStep/topoSort wave scheduling.
type PlanStep struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Payload   string   `json:"payload"`
	DependsOn []string `json:"dependsOn,omitempty"`
}

// multiStepPayload is the shape a "multi-step-response" task's payload
// must have to carry an explicit step graph.
type multiStepPayload struct {
	Steps []PlanStep `json:"steps"`
}

// batchPayload is the shape a "batch-processing" task's payload
// carries: one parallel step per item.
type batchPayload struct {
	Items []json.RawMessage `json:"items"`
}

// topoSort arranges steps into waves via Kahn's algorithm: wave 0 has
// no unsatisfied dependencies, wave 1 depends only on wave 0, and so
// on. It returns an error if steps form a cycle or reference an
// unknown dependency.
func topoSort(steps []PlanStep) ([][]PlanStep, error) {
	byID := make(map[string]PlanStep, len(steps))
	indegree := make(map[string]int, len(steps))
	for _, s := range steps {
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate step id %q", s.ID)
		}
		byID[s.ID] = s
		indegree[s.ID] = 0
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("step %q depends on unknown step %q", s.ID, dep)
			}
			indegree[s.ID]++
		}
	}

	remaining := len(steps)
	var waves [][]PlanStep
	satisfied := make(map[string]bool, len(steps))
	for remaining > 0 {
		var wave []PlanStep
		for _, s := range steps {
			if satisfied[s.ID] {
				continue
			}
			ready := true
			for _, dep := range s.DependsOn {
				if !satisfied[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, s)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("dependency cycle detected among %d remaining steps", remaining)
		}
		for _, s := range wave {
			satisfied[s.ID] = true
		}
		remaining -= len(wave)
		waves = append(waves, wave)
	}
	return waves, nil
}

// execution tracks one in-flight plan's remaining waves, keyed by the
// parent task that spawned it. Plan state lives in memory only: a
// daemon restart loses in-flight plan progress the same way the
// teacher's Executor does not persist waves either.
type execution struct {
	planType       string
	remainingWaves [][]PlanStep
	outstanding    map[string]bool // subtask IDs still running in the current wave
}

// Workflow subscribes to task.queued and task.completed. It fans
// complex task types out into dependency-ordered subtask waves, and on
// completion of a draft-producing task creates a draft and requests a
// quality review — or, in sandbox mode, logs what would have happened
// instead.
type Workflow struct {
	base
	st       *store.Store
	draftEng *draft.Engine
	pc       policy.Checker

	mu         sync.Mutex
	executions map[string]*execution // parent task ID -> execution
	bySubtask  map[string]string     // subtask ID -> parent task ID
}

// NewWorkflow creates the Workflow conductor.
func NewWorkflow(st *store.Store, eb *bus.Bus, logger *slog.Logger, draftEng *draft.Engine, pc policy.Checker) *Workflow {
	return &Workflow{
		base:       newBase("workflow", eb, logger),
		st:         st,
		draftEng:   draftEng,
		pc:         pc,
		executions: make(map[string]*execution),
		bySubtask:  make(map[string]string),
	}
}

// Start subscribes to task.queued and task.completed. It is idempotent.
func (w *Workflow) Start() {
	if !w.markStarted() {
		return
	}
	w.on(bus.TopicTaskQueued, w.handleTaskQueued)
	w.on(bus.TopicTaskCompleted, w.handleTaskCompleted)
}

func (w *Workflow) handleTaskQueued(env bus.Envelope) {
	ev, ok := env.Payload.(bus.TaskStateChangedEvent)
	if !ok {
		return
	}
	ctx := context.Background()
	task, err := w.st.GetTask(ctx, ev.TaskID)
	if err != nil {
		w.logger.Error("workflow_get_task_failed", slog.String("task_id", ev.TaskID), slog.String("error", err.Error()))
		return
	}
	if task.ParentTaskID != "" {
		return // a subtask of a plan already in flight; nothing to plan
	}
	if !complexTaskTypes[task.Type] {
		return // simple task; the queue will pick it up directly
	}

	steps, err := w.planSteps(task)
	if err != nil {
		w.logger.Error("workflow_plan_failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
		return
	}
	waves, err := topoSort(steps)
	if err != nil {
		w.logger.Error("workflow_topo_sort_failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
		return
	}
	if len(waves) == 0 {
		return
	}

	subtaskIDs, err := w.scheduleWave(ctx, task.ID, waves[0])
	if err != nil {
		w.logger.Error("workflow_schedule_wave_failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	w.executions[task.ID] = &execution{
		planType:       task.Type,
		remainingWaves: waves[1:],
		outstanding:    toSet(subtaskIDs),
	}
	for _, id := range subtaskIDs {
		w.bySubtask[id] = task.ID
	}
	w.mu.Unlock()

	if err := w.st.MarkSupersededByPlan(ctx, task.ID); err != nil {
		w.logger.Error("workflow_supersede_parent_failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
	}

	w.eb.Publish(bus.TopicConductorWorkflowPlanned, bus.WorkflowPlannedEvent{TaskID: task.ID, PlanType: task.Type, SubtaskIDs: subtaskIDs})
}

func (w *Workflow) planSteps(task *store.Task) ([]PlanStep, error) {
	switch task.Type {
	case "research-and-report":
		return []PlanStep{
			{ID: "research", Type: "research", Payload: task.Payload},
			{ID: "report", Type: "reply", Payload: task.Payload, DependsOn: []string{"research"}},
		}, nil
	case "batch-processing":
		var p batchPayload
		if err := json.Unmarshal([]byte(task.Payload), &p); err != nil {
			return nil, fmt.Errorf("parse batch payload: %w", err)
		}
		steps := make([]PlanStep, len(p.Items))
		for i, item := range p.Items {
			steps[i] = PlanStep{ID: fmt.Sprintf("item-%d", i), Type: "batch-item", Payload: string(item)}
		}
		return steps, nil
	case "multi-step-response":
		var p multiStepPayload
		if err := json.Unmarshal([]byte(task.Payload), &p); err != nil || len(p.Steps) == 0 {
			return []PlanStep{{ID: "step-1", Type: "reply", Payload: task.Payload}}, nil
		}
		return p.Steps, nil
	default:
		return nil, fmt.Errorf("unknown complex task type %q", task.Type)
	}
}

func (w *Workflow) scheduleWave(ctx context.Context, parentTaskID string, wave []PlanStep) ([]string, error) {
	ids := make([]string, 0, len(wave))
	for _, step := range wave {
		sub, err := w.st.CreateSubtask(ctx, parentTaskID, step.Type, step.Payload, PriorityNormal)
		if err != nil {
			return nil, fmt.Errorf("create subtask %q: %w", step.ID, err)
		}
		ids = append(ids, sub.ID)
		w.eb.Publish(bus.TopicTaskQueued, bus.TaskStateChangedEvent{TaskID: sub.ID, OldStatus: "", NewStatus: string(store.TaskStatusQueued)})
	}
	return ids, nil
}

func (w *Workflow) handleTaskCompleted(env bus.Envelope) {
	ev, ok := env.Payload.(bus.TaskStateChangedEvent)
	if !ok {
		return
	}
	ctx := context.Background()

	w.advancePlan(ctx, ev.TaskID)

	task, err := w.st.GetTask(ctx, ev.TaskID)
	if err != nil {
		w.logger.Error("workflow_get_completed_task_failed", slog.String("task_id", ev.TaskID), slog.String("error", err.Error()))
		return
	}
	if !draftProducingTaskTypes[task.Type] {
		return
	}
	output, ok := parseAgentOutput(task.Result)
	if !ok || len(output.Outputs) == 0 {
		return
	}

	agentType := task.Type
	body := draftBody(output)
	if w.pc != nil && w.pc.Mode() == policy.ModeSandbox {
		w.eb.Publish(bus.TopicConductorSandboxDryrun, bus.SandboxDryrunEvent{TaskID: task.ID, AgentType: agentType, Summary: summarize(body)})
		return
	}

	if w.draftEng != nil {
		if _, err := w.draftEng.Create(ctx, task.ID, task.MessageID, agentType, body); err != nil {
			w.logger.Error("workflow_create_draft_failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
			return
		}
	}
	w.eb.Publish(bus.TopicConductorReviewRequest, bus.ReviewRequestEvent{TaskID: task.ID})
}

// advancePlan marks a completed subtask off its execution's current
// wave and, once the wave is fully done, schedules the next one.
func (w *Workflow) advancePlan(ctx context.Context, subtaskID string) {
	w.mu.Lock()
	parentID, tracked := w.bySubtask[subtaskID]
	if !tracked {
		w.mu.Unlock()
		return
	}
	exec := w.executions[parentID]
	delete(exec.outstanding, subtaskID)
	delete(w.bySubtask, subtaskID)
	waveDone := len(exec.outstanding) == 0
	var nextWave []PlanStep
	if waveDone && len(exec.remainingWaves) > 0 {
		nextWave = exec.remainingWaves[0]
		exec.remainingWaves = exec.remainingWaves[1:]
	} else if waveDone {
		delete(w.executions, parentID)
	}
	w.mu.Unlock()

	if nextWave == nil {
		return
	}
	ids, err := w.scheduleWave(ctx, parentID, nextWave)
	if err != nil {
		w.logger.Error("workflow_schedule_next_wave_failed", slog.String("parent_task_id", parentID), slog.String("error", err.Error()))
		return
	}
	w.mu.Lock()
	exec.outstanding = toSet(ids)
	for _, id := range ids {
		w.bySubtask[id] = parentID
	}
	w.mu.Unlock()
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// parseAgentOutput decodes a task's result payload as an Agent-Output
// frame. ok is false if result isn't valid JSON for that shape.
func parseAgentOutput(result string) (sandbox.AgentOutput, bool) {
	var out sandbox.AgentOutput
	if err := json.Unmarshal([]byte(result), &out); err != nil {
		return sandbox.AgentOutput{}, false
	}
	return out, true
}

// draftBody picks the first output item whose type is email/reply/draft
// as the draft body, falling back to the summary if none matches.
func draftBody(output sandbox.AgentOutput) string {
	for _, item := range output.Outputs {
		if draftBodyTypes[item.Type] {
			return item.Content
		}
	}
	return output.Summary
}

func summarize(body string) string {
	if len(body) > 160 {
		return body[:160] + "..."
	}
	return body
}
