package sandbox

// DefaultAgentOutputSchema is the JSON Schema every worker output frame
// must satisfy: a status, a priority, a summary long enough to drive
// auto-approval decisions, and zero or more typed output items.
const DefaultAgentOutputSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["status", "summary"],
	"properties": {
		"status": {"type": "string", "enum": ["completed", "failed", "partial", "escalated"]},
		"priority": {"type": "string", "enum": ["urgent", "high", "normal", "low"]},
		"summary": {"type": "string"},
		"needsReview": {"type": "boolean"},
		"outputs": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["type", "content"],
				"properties": {
					"type": {"type": "string"},
					"content": {"type": "string"},
					"metadata": {"type": "object"}
				}
			}
		},
		"metadata": {"type": "object"},
		"error": {"type": "string"}
	}
}`
