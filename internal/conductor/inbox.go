package conductor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/config"
	"github.com/coreclaw/coreclaw/internal/store"
)

// TriageRule is one rung of the Inbox conductor's rule ladder, built
// at Start from config.TriageRuleConfig. Rules are checked in order;
// the first whose Match returns true wins. Match inspects the whole
// message, not just its body, so a rule can key off channel or
// subject as well as keyword content.
type TriageRule struct {
	Match     func(store.Message) bool
	Category  string
	Priority  int
	AgentType string
	Reason    string
}

// defaultTriageRule is applied when no configured rule matches a
// message, so every message is still routed somewhere.
var defaultTriageRule = TriageRule{
	Category:  "general",
	Priority:  PriorityNormal,
	AgentType: "reply",
	Reason:    "no triage rule matched; routed to default reply handling",
}

// BuildTriageRules compiles config.TriageRuleConfig entries into
// runtime TriageRule matchers. A rule matches a message body when the
// body contains any of its keywords, case-insensitively.
func BuildTriageRules(configs []config.TriageRuleConfig) []TriageRule {
	rules := make([]TriageRule, 0, len(configs))
	for _, c := range configs {
		channel := strings.ToLower(strings.TrimSpace(c.Channel))
		keywords := lowerAll(c.Keywords)
		subjectKeywords := lowerAll(c.SubjectKeywords)
		rules = append(rules, TriageRule{
			Match: func(msg store.Message) bool {
				if channel != "" && strings.ToLower(msg.Channel) != channel {
					return false
				}
				if containsAny(strings.ToLower(msg.Body), keywords) {
					return true
				}
				return len(subjectKeywords) > 0 && containsAny(strings.ToLower(msg.Subject), subjectKeywords)
			},
			Category:  c.Category,
			Priority:  parsePriority(c.Priority),
			AgentType: c.AgentType,
			Reason:    c.Reason,
		})
	}
	return rules
}

func lowerAll(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// taskPayload is the JSON payload attached to a task created from a
// triaged message.
type taskPayload struct {
	MessageID    string `json:"messageId"`
	Category     string `json:"category"`
	TriageReason string `json:"triageReason"`
}

// Inbox subscribes to message.received, runs the triage rule ladder,
// and creates the task that the queue will dispatch. It performs no
// I/O beyond the store writes this requires, and is a pure function of
// the matched rule and the message body.
type Inbox struct {
	base
	st    *store.Store
	rules []TriageRule
}

// NewInbox creates the Inbox conductor. rules should come from
// BuildTriageRules and is read at Start time only — callers that want
// a hot-reloaded ladder must Stop and re-Start with fresh rules.
func NewInbox(st *store.Store, eb *bus.Bus, logger *slog.Logger, rules []TriageRule) *Inbox {
	return &Inbox{base: newBase("inbox", eb, logger), st: st, rules: rules}
}

// Start subscribes to message.received. It is idempotent.
func (in *Inbox) Start() {
	if !in.markStarted() {
		return
	}
	in.on(bus.TopicMessageReceived, in.handleMessageReceived)
}

func (in *Inbox) handleMessageReceived(env bus.Envelope) {
	ev, ok := env.Payload.(bus.MessageReceivedEvent)
	if !ok {
		return
	}
	ctx := context.Background()

	msg, err := in.st.GetMessage(ctx, ev.MessageID)
	if err != nil {
		in.logger.Error("inbox_get_message_failed", slog.String("message_id", ev.MessageID), slog.String("error", err.Error()))
		return
	}

	rule := in.match(*msg)

	if err := in.st.TriageMessage(ctx, msg.ID, rule.Category, rule.Priority, rule.AgentType, rule.Reason); err != nil {
		in.logger.Error("inbox_triage_failed", slog.String("message_id", msg.ID), slog.String("error", err.Error()))
		return
	}

	payload, err := json.Marshal(taskPayload{MessageID: msg.ID, Category: rule.Category, TriageReason: rule.Reason})
	if err != nil {
		in.logger.Error("inbox_payload_marshal_failed", slog.String("message_id", msg.ID), slog.String("error", err.Error()))
		return
	}

	task, err := in.st.CreateTask(ctx, msg.ID, rule.AgentType, string(payload), rule.Priority, 3)
	if err != nil {
		in.logger.Error("inbox_create_task_failed", slog.String("message_id", msg.ID), slog.String("error", err.Error()))
		return
	}

	if err := in.st.LinkMessageTask(ctx, msg.ID, task.ID); err != nil {
		in.logger.Error("inbox_link_message_task_failed", slog.String("message_id", msg.ID), slog.String("error", err.Error()))
	}

	in.eb.Publish(bus.TopicMessageTriaged, bus.MessageTriagedEvent{
		MessageID: msg.ID,
		Category:  rule.Category,
		Priority:  rule.Priority,
		AgentType: rule.AgentType,
		Reason:    rule.Reason,
	})
	in.eb.Publish(bus.TopicTaskQueued, bus.TaskStateChangedEvent{TaskID: task.ID, OldStatus: "", NewStatus: string(store.TaskStatusQueued)})
}

func (in *Inbox) match(msg store.Message) TriageRule {
	for _, rule := range in.rules {
		if rule.Match != nil && rule.Match(msg) {
			return rule
		}
	}
	return defaultTriageRule
}
