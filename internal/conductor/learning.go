package conductor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/learning"
)

// bufferTrigger is the number of buffered corrections for one agent
// type that forces an immediate analysis instead of waiting for the
// periodic timer.
const bufferTrigger = 5

// Learning subscribes to correction.recorded, buffering corrections
// per agent type and running the learning analyser either once a
// buffer reaches bufferTrigger or on its own periodic timer, whichever
// comes first. It also retallies an agent type's active prompt metrics
// whenever a review result or human feedback event names it.
type Learning struct {
	base
	analyser *learning.Analyser

	mu     sync.Mutex
	buffer map[string]int // agent type -> buffered correction count since last analysis
}

// NewLearning creates the Learning conductor.
func NewLearning(eb *bus.Bus, logger *slog.Logger, analyser *learning.Analyser) *Learning {
	return &Learning{
		base:     newBase("learning", eb, logger),
		analyser: analyser,
		buffer:   make(map[string]int),
	}
}

// Start subscribes to correction.recorded, conductor.review_result and
// conductor.feedback. It is idempotent.
func (l *Learning) Start() {
	if !l.markStarted() {
		return
	}
	l.on(bus.TopicCorrectionRecorded, l.handleCorrectionRecorded)
	l.on(bus.TopicConductorReviewResult, l.handleReviewResult)
	l.on(bus.TopicConductorFeedback, l.handleFeedback)
}

func (l *Learning) handleCorrectionRecorded(env bus.Envelope) {
	ev, ok := env.Payload.(bus.CorrectionRecordedEvent)
	if !ok || ev.AgentType == "" {
		return
	}

	l.mu.Lock()
	l.buffer[ev.AgentType]++
	fire := l.buffer[ev.AgentType] >= bufferTrigger
	if fire {
		l.buffer[ev.AgentType] = 0
	}
	l.mu.Unlock()

	if fire {
		l.analyze(context.Background(), ev.AgentType)
	}
}

func (l *Learning) handleReviewResult(env bus.Envelope) {
	ev, ok := env.Payload.(bus.ReviewResultEvent)
	if !ok || ev.AgentType == "" {
		return
	}
	l.updatePromptMetrics(context.Background(), ev.AgentType)
}

func (l *Learning) handleFeedback(env bus.Envelope) {
	ev, ok := env.Payload.(bus.FeedbackEvent)
	if !ok || ev.AgentType == "" {
		return
	}
	l.updatePromptMetrics(context.Background(), ev.AgentType)
}

func (l *Learning) updatePromptMetrics(ctx context.Context, agentType string) {
	if err := l.analyser.UpdatePromptMetrics(ctx, agentType); err != nil {
		l.logger.Error("learning_update_prompt_metrics_failed", slog.String("agent_type", agentType), slog.String("error", err.Error()))
	}
}

// RunPeriodicAnalysis is registered with cron.LearningAnalysisJob. It
// analyzes every agent type with at least one buffered correction
// since the last run, then resets their buffers.
func (l *Learning) RunPeriodicAnalysis(ctx context.Context) {
	l.mu.Lock()
	var agentTypes []string
	for agentType, count := range l.buffer {
		if count > 0 {
			agentTypes = append(agentTypes, agentType)
		}
		l.buffer[agentType] = 0
	}
	l.mu.Unlock()

	for _, agentType := range agentTypes {
		l.analyze(ctx, agentType)
	}
}

func (l *Learning) analyze(ctx context.Context, agentType string) {
	since := time.Now().Add(-30 * 24 * time.Hour)
	insight, err := l.analyser.AnalyzeAgentType(ctx, agentType, since)
	if err != nil {
		l.logger.Error("learning_analyze_failed", slog.String("agent_type", agentType), slog.String("error", err.Error()))
		return
	}
	if insight == nil || len(insight.Suggestions) == 0 {
		return
	}
	l.eb.Publish(bus.TopicConductorLearningInsight, bus.LearningInsightEvent{
		AgentTypes:  []string{agentType},
		Suggestions: len(insight.Suggestions),
	})
}
