// File: internal/llmclient/prompts.go
package llmclient

import (
	"fmt"
	"strings"

	"github.com/stepbooklabs/stepbook-cli/api/schemas"
)

// contextTruncateLimit caps the neighbor-step text included in generation
// prompts so the screenshot stays the dominant signal.
const contextTruncateLimit = 200

const systemPrompt = `You are a meticulous UI automation auditor. You are shown a screenshot taken during an automated browser or desktop session, together with the narration recorded for that step. Your job is to verify that the observation accurately describes what is visible in the screenshot and that the thought is a plausible rationale for the next action.

Respond with a single JSON object and nothing else:
{"observation": "...", "thought": "...", "validation_reasoning": "..."}

Rules:
- If the existing narration is accurate, return it unchanged.
- If it contradicts the screenshot, rewrite only the inaccurate parts.
- Keep the narration in the first person and the present tense.
- validation_reasoning briefly explains what you checked and what, if anything, you changed.`

// BuildUserPrompt renders the text portion of the validation request. Empty
// narration switches to generation mode, which also folds in truncated
// neighbor-step context for continuity.
func BuildUserPrompt(req schemas.ValidationRequest) string {
	var b strings.Builder

	record := schemas.NarrationRecord{Observation: req.Observation, Thought: req.Thought}
	if record.IsEmpty() {
		fmt.Fprintf(&b, "Step %d has no recorded narration. Write an observation describing what the screenshot shows and a thought explaining what a user would plausibly do next.\n", req.StepNumber)
		writeNeighbor(&b, "previous", req.PreviousStep)
		writeNeighbor(&b, "next", req.NextStep)
		return b.String()
	}

	fmt.Fprintf(&b, "Validate the narration recorded for step %d against the screenshot.\n\n", req.StepNumber)
	fmt.Fprintf(&b, "Observation:\n%s\n\n", req.Observation)
	fmt.Fprintf(&b, "Thought:\n%s\n", req.Thought)
	return b.String()
}

func writeNeighbor(b *strings.Builder, label string, record *schemas.NarrationRecord) {
	if record == nil || record.IsEmpty() {
		return
	}
	fmt.Fprintf(b, "\nFor continuity, the %s step's narration was:\n", label)
	if obs := strings.TrimSpace(record.Observation); obs != "" {
		fmt.Fprintf(b, "Observation: %s\n", truncate(obs, contextTruncateLimit))
	}
	if th := strings.TrimSpace(record.Thought); th != "" {
		fmt.Fprintf(b, "Thought: %s\n", truncate(th, contextTruncateLimit))
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
