// Package learning extracts recurring correction patterns per agent
// type and turns them into confidence-rated prompt suggestions and
// rolling prompt-performance metrics.
package learning

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/store"
)

// toneChangeMinCount, majorRewriteMinCount and rejectionMinPercentage
// are the minimum signal strength a classification needs, within an
// agent type's corrections, before it earns a suggestion.
const (
	toneChangeMinCount     = 2
	majorRewriteMinCount   = 2
	rejectionMinPercentage = 20
	highConfidenceMinCount = 5
	minCorrectionRate      = 10
	generalClarityMinRate  = 50
	correctionHistoryLimit = 200
	draftHistoryLimit      = 500
)

// PatternExample is one correction contributing to a Pattern, carried
// through to the suggestion so a reviewer can see a concrete case.
type PatternExample struct {
	DraftID  string
	Feedback string
}

// Pattern summarizes a recurring classification of correction for one
// agent type: how often it happens, what share of the agent's total
// corrections it represents, and up to 5 example cases.
type Pattern struct {
	AgentType      string
	Classification string
	Count          int
	Percentage     int // of the agent's total corrections, 0-100
	Examples       []PatternExample
}

// Suggestion is a candidate prompt revision produced from one or more
// Patterns, or from the agent's overall correction rate.
type Suggestion struct {
	AgentType  string
	Kind       string // tone_guidance, structural_review, fundamental_rewrite, general_clarity
	Body       string
	Confidence string // high or medium
	Pattern    Pattern
}

// Insight is the result of one agent type's analysis pass: its
// correction patterns, overall correction rate, and any suggestions
// that crossed a confidence threshold.
type Insight struct {
	AgentType      string
	CorrectionRate int
	Patterns       []Pattern
	Suggestions    []Suggestion
}

// Analyser runs the periodic correction sweep and the prompt-metrics
// recompute.
type Analyser struct {
	st *store.Store
	eb *bus.Bus
}

// New creates an Analyser.
func New(st *store.Store, eb *bus.Bus) *Analyser {
	return &Analyser{st: st, eb: eb}
}

// AnalyzeAgentType builds correction patterns for agentType from its
// last 200 corrections and 500 drafts since since, computes the
// correction rate, and generates suggestions per the agent's pattern
// thresholds. Each suggestion is persisted as a new (inactive) prompt
// version and published to the suggestion.generated topic.
func (a *Analyser) AnalyzeAgentType(ctx context.Context, agentType string, since time.Time) (*Insight, error) {
	corrections, err := a.st.ListCorrectionsByAgentType(ctx, agentType, since, correctionHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	drafts, err := a.st.ListDraftsSince(ctx, agentType, since, draftHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}

	insight := &Insight{
		AgentType:      agentType,
		CorrectionRate: percentOf(len(corrections), len(drafts)),
		Patterns:       buildPatterns(agentType, corrections),
	}

	if insight.CorrectionRate < minCorrectionRate {
		return insight, nil
	}

	byClass := make(map[string]Pattern, len(insight.Patterns))
	for _, p := range insight.Patterns {
		byClass[p.Classification] = p
	}

	var suggestions []Suggestion
	if p, ok := byClass["tone_change"]; ok && p.Count >= toneChangeMinCount {
		suggestions = append(suggestions, Suggestion{
			AgentType:  agentType,
			Kind:       "tone_guidance",
			Body:       fmt.Sprintf("Reviewers repeatedly adjusted %s drafts for tone (%d occurrences). Tighten the system prompt's tone guidance.", agentType, p.Count),
			Confidence: confidenceByCount(p.Count),
			Pattern:    p,
		})
	}
	if p, ok := byClass["major_rewrite"]; ok && p.Count >= majorRewriteMinCount {
		suggestions = append(suggestions, Suggestion{
			AgentType:  agentType,
			Kind:       "structural_review",
			Body:       fmt.Sprintf("%s drafts are being substantially rewritten (%d occurrences). Review the prompt's structure and examples.", agentType, p.Count),
			Confidence: confidenceByCount(p.Count),
			Pattern:    p,
		})
	}
	if p, ok := byClass["rejection"]; ok && p.Percentage >= rejectionMinPercentage {
		suggestions = append(suggestions, Suggestion{
			AgentType:  agentType,
			Kind:       "fundamental_rewrite",
			Body:       fmt.Sprintf("%d%% of %s corrections are outright rejections. The prompt needs a fundamental rewrite, not a tweak.", p.Percentage, agentType),
			Confidence: store.ConfidenceHigh,
			Pattern:    p,
		})
	}
	if len(suggestions) == 0 && insight.CorrectionRate >= generalClarityMinRate {
		suggestions = append(suggestions, Suggestion{
			AgentType:  agentType,
			Kind:       "general_clarity",
			Body:       fmt.Sprintf("%d%% of %s drafts need correction with no single dominant pattern. Clarify the prompt's instructions overall.", insight.CorrectionRate, agentType),
			Confidence: store.ConfidenceMedium,
		})
	}

	for _, s := range suggestions {
		pv, err := a.st.AddPromptVersion(ctx, agentType, s.Body, s.Confidence)
		if err != nil {
			return nil, fmt.Errorf("add prompt version: %w", err)
		}
		a.eb.Publish(bus.TopicSuggestionGenerated, bus.SuggestionGeneratedEvent{
			SuggestionID: pv.ID,
			AgentType:    agentType,
			Kind:         s.Kind,
			Confidence:   s.Confidence,
		})
	}
	insight.Suggestions = suggestions
	return insight, nil
}

// UpdatePromptMetrics recomputes agentType's active prompt's rolling
// usage and outcome tallies from its recent drafts.
func (a *Analyser) UpdatePromptMetrics(ctx context.Context, agentType string) error {
	drafts, err := a.st.ListDraftsSince(ctx, agentType, time.Time{}, draftHistoryLimit)
	if err != nil {
		return fmt.Errorf("list drafts for metrics: %w", err)
	}

	var m store.PromptMetrics
	m.UsageCount = len(drafts)
	var corrected int
	for _, d := range drafts {
		switch d.Status {
		case store.DraftStatusApproved, store.DraftStatusSent:
			m.PositiveRating++
		case store.DraftStatusRejected:
			m.NegativeRating++
			corrected++
		case store.DraftStatusEditedAndSent:
			corrected++
		}
	}
	m.CorrectionRate = percentOf(corrected, len(drafts))

	if err := a.st.UpdatePromptMetrics(ctx, agentType, m); err != nil {
		return fmt.Errorf("update prompt metrics: %w", err)
	}
	return nil
}

func buildPatterns(agentType string, corrections []*store.Correction) []Pattern {
	byClass := map[string]*Pattern{}
	for _, c := range corrections {
		p, ok := byClass[c.Classification]
		if !ok {
			p = &Pattern{AgentType: agentType, Classification: c.Classification}
			byClass[c.Classification] = p
		}
		p.Count++
		if len(p.Examples) < 5 {
			p.Examples = append(p.Examples, PatternExample{DraftID: c.DraftID, Feedback: c.Feedback})
		}
	}
	out := make([]Pattern, 0, len(byClass))
	for _, p := range byClass {
		p.Percentage = percentOf(p.Count, len(corrections))
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func confidenceByCount(count int) string {
	if count >= highConfidenceMinCount {
		return store.ConfidenceHigh
	}
	return store.ConfidenceMedium
}

func percentOf(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(total)))
}
