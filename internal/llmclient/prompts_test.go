// File: internal/llmclient/prompts_test.go
package llmclient

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stepbooklabs/stepbook-cli/api/schemas"
)

func TestBuildUserPromptValidationMode(t *testing.T) {
	prompt := BuildUserPrompt(schemas.ValidationRequest{
		StepNumber:  4,
		Observation: "The settings page is open.",
		Thought:     "I will toggle dark mode.",
	})

	assert.Contains(t, prompt, "Validate the narration recorded for step 4")
	assert.Contains(t, prompt, "The settings page is open.")
	assert.Contains(t, prompt, "I will toggle dark mode.")
	assert.NotContains(t, prompt, "continuity")
}

func TestBuildUserPromptGenerationMode(t *testing.T) {
	prompt := BuildUserPrompt(schemas.ValidationRequest{
		StepNumber:   2,
		PreviousStep: &schemas.NarrationRecord{Observation: "Home page loaded.", Thought: "Open the menu."},
		NextStep:     &schemas.NarrationRecord{Observation: "Menu is expanded."},
	})

	assert.Contains(t, prompt, "Step 2 has no recorded narration")
	assert.Contains(t, prompt, "previous step's narration")
	assert.Contains(t, prompt, "Home page loaded.")
	assert.Contains(t, prompt, "next step's narration")
	assert.Contains(t, prompt, "Menu is expanded.")
}

func TestBuildUserPromptTruncatesNeighborContext(t *testing.T) {
	long := strings.Repeat("a", contextTruncateLimit+50)
	prompt := BuildUserPrompt(schemas.ValidationRequest{
		StepNumber:   1,
		PreviousStep: &schemas.NarrationRecord{Observation: long},
	})

	assert.Contains(t, prompt, strings.Repeat("a", contextTruncateLimit)+"...")
	assert.NotContains(t, prompt, long)
}

func TestBuildUserPromptSkipsEmptyNeighbors(t *testing.T) {
	prompt := BuildUserPrompt(schemas.ValidationRequest{
		StepNumber:   1,
		PreviousStep: &schemas.NarrationRecord{},
	})
	assert.NotContains(t, prompt, "previous step")
}
