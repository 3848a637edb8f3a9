package schemas

import "time"

// -- Narration Validation Schemas --

// TokenUsage tracks API token consumption for a validation call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage sample into the receiver.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// ValidationRequest describes one step to validate against its screenshot.
// PreviousStep and NextStep provide continuity context and are only populated
// when the step's own narration is empty (generation mode).
type ValidationRequest struct {
	TaskID         string           `json:"task_id"`
	StepKey        string           `json:"step_key"`
	StepNumber     int              `json:"step_number"`
	ScreenshotPath string           `json:"screenshot_path"`
	Observation    string           `json:"observation"`
	Thought        string           `json:"thought"`
	PreviousStep   *NarrationRecord `json:"previous_step,omitempty"`
	NextStep       *NarrationRecord `json:"next_step,omitempty"`
}

// ValidationResponse is the per-step result of a validation or generation
// call. Failed calls keep the original narration and carry Error; the batch
// as a whole never aborts on a single step.
type ValidationResponse struct {
	TaskID              string      `json:"task_id"`
	StepNumber          int         `json:"step_number"`
	StepKey             string      `json:"step_key"`
	UpdatedObservation  string      `json:"updated_observation"`
	UpdatedThought      string      `json:"updated_thought"`
	ValidationReasoning string      `json:"validation_reasoning"`
	OriginalObservation string      `json:"original_observation"`
	OriginalThought     string      `json:"original_thought"`
	ScreenshotPath      string      `json:"screenshot_path"`
	Timestamp           time.Time   `json:"timestamp"`
	TokensUsed          *TokenUsage `json:"tokens_used,omitempty"`
	Success             bool        `json:"success"`
	Error               string      `json:"error,omitempty"`
}

// TaskValidationResult summarizes a full validation run over one task.
type TaskValidationResult struct {
	TaskID                string                         `json:"task_id"`
	RunID                 string                         `json:"run_id"`
	TotalSteps            int                            `json:"total_steps"`
	SuccessfulValidations int                            `json:"successful_validations"`
	FailedValidations     int                            `json:"failed_validations"`
	Steps                 map[string]*ValidationResponse `json:"steps"`
	OutputPath            string                         `json:"output_path,omitempty"`
	TotalTokensUsed       *TokenUsage                    `json:"total_tokens_used,omitempty"`
}
