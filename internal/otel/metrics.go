package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all coreclaw metrics instruments.
type Metrics struct {
	TaskDuration      metric.Float64Histogram
	TaskRetries       metric.Int64Counter
	QueueDepth        metric.Int64UpDownCounter
	InvocationErrors  metric.Int64Counter
	DraftDuration     metric.Float64Histogram
	DraftsCreated     metric.Int64Counter
	CorrectionsTotal  metric.Int64Counter
	SkillApplyErrors  metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TaskDuration, err = meter.Float64Histogram("coreclaw.task.duration",
		metric.WithDescription("Task processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskRetries, err = meter.Int64Counter("coreclaw.task.retries",
		metric.WithDescription("Total task retry attempts"),
	)
	if err != nil {
		return nil, err
	}

	m.QueueDepth, err = meter.Int64UpDownCounter("coreclaw.queue.depth",
		metric.WithDescription("Number of tasks currently queued or running"),
	)
	if err != nil {
		return nil, err
	}

	m.InvocationErrors, err = meter.Int64Counter("coreclaw.sandbox.invocation_errors",
		metric.WithDescription("Sandbox invocation faults by kind"),
	)
	if err != nil {
		return nil, err
	}

	m.DraftDuration, err = meter.Float64Histogram("coreclaw.draft.review_duration",
		metric.WithDescription("Time from draft creation to review decision in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.DraftsCreated, err = meter.Int64Counter("coreclaw.draft.created",
		metric.WithDescription("Total drafts created"),
	)
	if err != nil {
		return nil, err
	}

	m.CorrectionsTotal, err = meter.Int64Counter("coreclaw.correction.total",
		metric.WithDescription("Total human corrections recorded, by classification"),
	)
	if err != nil {
		return nil, err
	}

	m.SkillApplyErrors, err = meter.Int64Counter("coreclaw.skill.apply_errors",
		metric.WithDescription("Skill apply failures that triggered a rollback"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
