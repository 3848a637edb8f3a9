// File: internal/validator/validator_test.go
package validator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stepbooklabs/stepbook-cli/api/schemas"
	"github.com/stepbooklabs/stepbook-cli/internal/task"
)

// mockVisionClient fakes per-step model behavior keyed by step key.
type mockVisionClient struct {
	mu       sync.Mutex
	requests []schemas.ValidationRequest
	failOn   map[string]error
}

func (m *mockVisionClient) ValidateStep(ctx context.Context, req schemas.ValidationRequest) (*schemas.ValidationResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	resp := &schemas.ValidationResponse{
		TaskID:              req.TaskID,
		StepNumber:          req.StepNumber,
		StepKey:             req.StepKey,
		OriginalObservation: req.Observation,
		OriginalThought:     req.Thought,
		TokensUsed:          &schemas.TokenUsage{InputTokens: 100, OutputTokens: 10},
	}
	if err, ok := m.failOn[req.StepKey]; ok {
		resp.Error = err.Error()
		return resp, err
	}
	resp.Success = true
	resp.UpdatedObservation = "validated: " + req.Observation
	resp.UpdatedThought = "validated: " + req.Thought
	resp.ValidationReasoning = "checked"
	return resp, nil
}

func (m *mockVisionClient) requestFor(key string) (schemas.ValidationRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.StepKey == key {
			return r, true
		}
	}
	return schemas.ValidationRequest{}, false
}

func setupTask(t *testing.T, narration schemas.NarrationMap, screenshotSteps ...int) *task.Task {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "task_1")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, task.ScreenshotsDirName), 0o755))

	tk, err := task.Open(dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, task.SaveNarration(tk.NarrationPath(), narration))

	for _, n := range screenshotSteps {
		require.NoError(t, os.WriteFile(tk.ScreenshotPath(n), []byte("png"), 0o644))
	}
	return tk
}

func TestRunValidatesAllSteps(t *testing.T) {
	narration := schemas.NarrationMap{
		"step_1": {Observation: "o1", Thought: "t1"},
		"step_2": {Observation: "o2", Thought: "t2"},
	}
	tk := setupTask(t, narration, 1, 2)
	client := &mockVisionClient{}

	result, err := New(client, 2, zap.NewNop()).Run(context.Background(), tk)
	require.NoError(t, err)

	assert.Equal(t, "task_1", result.TaskID)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 2, result.TotalSteps)
	assert.Equal(t, 2, result.SuccessfulValidations)
	assert.Equal(t, 0, result.FailedValidations)
	assert.Equal(t, 200, result.TotalTokensUsed.InputTokens)
	assert.Equal(t, 20, result.TotalTokensUsed.OutputTokens)

	validated, err := task.LoadNarration(tk.ValidatedNarrationPath())
	require.NoError(t, err)
	assert.Equal(t, "validated: o1", validated["step_1"].Observation)
	assert.Equal(t, "validated: t2", validated["step_2"].Thought)

	report, err := os.ReadFile(tk.ReportPath())
	require.NoError(t, err)
	assert.Contains(t, string(report), result.RunID)
}

func TestRunFailedStepKeepsOriginalNarration(t *testing.T) {
	narration := schemas.NarrationMap{
		"step_1": {Observation: "o1", Thought: "t1"},
		"step_2": {Observation: "o2", Thought: "t2"},
	}
	tk := setupTask(t, narration, 1, 2)
	client := &mockVisionClient{failOn: map[string]error{"step_2": fmt.Errorf("model refused")}}

	result, err := New(client, 2, zap.NewNop()).Run(context.Background(), tk)
	require.NoError(t, err)

	assert.Equal(t, 1, result.SuccessfulValidations)
	assert.Equal(t, 1, result.FailedValidations)
	assert.Contains(t, result.Steps["step_2"].Error, "model refused")

	validated, err := task.LoadNarration(tk.ValidatedNarrationPath())
	require.NoError(t, err)
	assert.Equal(t, "validated: o1", validated["step_1"].Observation)
	assert.Equal(t, "o2", validated["step_2"].Observation)
}

func TestRunEmptyStepGetsNeighborContext(t *testing.T) {
	narration := schemas.NarrationMap{
		"step_1": {Observation: "o1", Thought: "t1"},
		"step_2": {},
		"step_3": {Observation: "o3", Thought: "t3"},
	}
	tk := setupTask(t, narration, 1, 2, 3)
	client := &mockVisionClient{}

	_, err := New(client, 1, zap.NewNop()).Run(context.Background(), tk)
	require.NoError(t, err)

	req, ok := client.requestFor("step_2")
	require.True(t, ok)
	require.NotNil(t, req.PreviousStep)
	assert.Equal(t, "o1", req.PreviousStep.Observation)
	require.NotNil(t, req.NextStep)
	assert.Equal(t, "o3", req.NextStep.Observation)

	// Non-empty steps validate without neighbor context.
	req, ok = client.requestFor("step_1")
	require.True(t, ok)
	assert.Nil(t, req.PreviousStep)
	assert.Nil(t, req.NextStep)
}

func TestRunSkipsStepWithoutScreenshot(t *testing.T) {
	narration := schemas.NarrationMap{
		"step_1": {Observation: "o1", Thought: "t1"},
		"step_2": {Observation: "o2", Thought: "t2"},
	}
	tk := setupTask(t, narration, 1) // no screenshot for step 2
	client := &mockVisionClient{}

	result, err := New(client, 1, zap.NewNop()).Run(context.Background(), tk)
	require.NoError(t, err)

	_, validated := client.requestFor("step_2")
	assert.False(t, validated)
	assert.NotContains(t, result.Steps, "step_2")

	// Skipped step carries through unchanged.
	out, err := task.LoadNarration(tk.ValidatedNarrationPath())
	require.NoError(t, err)
	assert.Equal(t, "o2", out["step_2"].Observation)
}

func TestRunEmptyStepWithoutScreenshotFails(t *testing.T) {
	narration := schemas.NarrationMap{
		"step_1": {},
	}
	tk := setupTask(t, narration) // no screenshots at all
	client := &mockVisionClient{}

	_, err := New(client, 1, zap.NewNop()).Run(context.Background(), tk)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no narration and no screenshot")
}

func TestRunNoNarration(t *testing.T) {
	tk := setupTask(t, schemas.NarrationMap{})
	_, err := New(&mockVisionClient{}, 1, zap.NewNop()).Run(context.Background(), tk)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no narration to validate"))
}
