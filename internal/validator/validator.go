// File: internal/validator/validator.go
// Package validator runs a full narration validation pass over one task:
// every step's observation/thought pair is checked against its screenshot by
// the vision model, empty steps are regenerated, and the results are written
// back next to the originals.
package validator

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stepbooklabs/stepbook-cli/api/schemas"
	"github.com/stepbooklabs/stepbook-cli/internal/task"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Validator fans step validation requests out to a vision client.
type Validator struct {
	client      schemas.VisionClient
	concurrency int
	logger      *zap.Logger
}

// New creates a Validator. Concurrency caps the in-flight API calls.
func New(client schemas.VisionClient, concurrency int, logger *zap.Logger) *Validator {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Validator{
		client:      client,
		concurrency: concurrency,
		logger:      logger.Named("validator"),
	}
}

// Run validates every step of the task's narration map. Individual step
// failures are recorded in the result rather than aborting the run; the
// returned error covers setup problems only (missing narration file, or an
// empty step whose screenshot never downloaded, which makes generation
// impossible).
func (v *Validator) Run(ctx context.Context, tk *task.Task) (*schemas.TaskValidationResult, error) {
	narration, err := task.LoadNarration(tk.NarrationPath())
	if err != nil {
		return nil, err
	}
	if len(narration) == 0 {
		return nil, fmt.Errorf("no narration to validate in %s", tk.NarrationPath())
	}

	steps := narration.StepNumbers()
	sort.Ints(steps)

	requests, err := v.buildRequests(tk, narration, steps)
	if err != nil {
		return nil, err
	}

	result := &schemas.TaskValidationResult{
		TaskID:          tk.ID,
		RunID:           uuid.NewString(),
		TotalSteps:      len(steps),
		Steps:           make(map[string]*schemas.ValidationResponse, len(requests)),
		TotalTokensUsed: &schemas.TokenUsage{},
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)

	for _, req := range requests {
		g.Go(func() error {
			resp, err := v.client.ValidateStep(gctx, req)
			if resp == nil {
				resp = &schemas.ValidationResponse{
					TaskID:              req.TaskID,
					StepNumber:          req.StepNumber,
					StepKey:             req.StepKey,
					OriginalObservation: req.Observation,
					OriginalThought:     req.Thought,
					Error:               err.Error(),
				}
			}
			if err != nil {
				v.logger.Warn("Step validation failed",
					zap.String("step", req.StepKey), zap.Error(err))
			}

			mu.Lock()
			defer mu.Unlock()
			result.Steps[req.StepKey] = resp
			if resp.TokensUsed != nil {
				result.TotalTokensUsed.Add(*resp.TokensUsed)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, resp := range result.Steps {
		if resp.Success {
			result.SuccessfulValidations++
		} else {
			result.FailedValidations++
		}
	}

	if err := v.writeOutputs(tk, narration, result); err != nil {
		return nil, err
	}

	v.logger.Info("Validation run complete",
		zap.String("task", tk.ID),
		zap.String("run_id", result.RunID),
		zap.Int("total", result.TotalSteps),
		zap.Int("succeeded", result.SuccessfulValidations),
		zap.Int("failed", result.FailedValidations),
		zap.Int("input_tokens", result.TotalTokensUsed.InputTokens),
		zap.Int("output_tokens", result.TotalTokensUsed.OutputTokens),
	)
	return result, nil
}

// buildRequests maps steps to validation requests. Steps with narration but
// without a screenshot are skipped with a warning; an empty step without a
// screenshot is unrecoverable and fails the run. Neighbor context is attached
// only to empty steps, which run in generation mode.
func (v *Validator) buildRequests(tk *task.Task, narration schemas.NarrationMap, steps []int) ([]schemas.ValidationRequest, error) {
	requests := make([]schemas.ValidationRequest, 0, len(steps))
	for _, n := range steps {
		key := schemas.StepKey(n)
		record := narration[key]
		screenshot := tk.ScreenshotPath(n)

		if _, err := os.Stat(screenshot); err != nil {
			if record.IsEmpty() {
				return nil, fmt.Errorf("step %d has no narration and no screenshot; nothing to generate from", n)
			}
			v.logger.Warn("Screenshot missing, skipping step validation",
				zap.Int("step", n), zap.String("path", screenshot))
			continue
		}

		req := schemas.ValidationRequest{
			TaskID:         tk.ID,
			StepKey:        key,
			StepNumber:     n,
			ScreenshotPath: screenshot,
			Observation:    record.Observation,
			Thought:        record.Thought,
		}
		if record.IsEmpty() {
			if prev, ok := narration[schemas.StepKey(n-1)]; ok && !prev.IsEmpty() {
				req.PreviousStep = &prev
			}
			if next, ok := narration[schemas.StepKey(n+1)]; ok && !next.IsEmpty() {
				req.NextStep = &next
			}
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// writeOutputs persists the validated narration map and the run report.
// Failed and skipped steps keep their original narration.
func (v *Validator) writeOutputs(tk *task.Task, original schemas.NarrationMap, result *schemas.TaskValidationResult) error {
	validated := make(schemas.NarrationMap, len(original))
	for key, record := range original {
		validated[key] = record
	}
	for key, resp := range result.Steps {
		if resp.Success {
			validated[key] = schemas.NarrationRecord{
				Observation: resp.UpdatedObservation,
				Thought:     resp.UpdatedThought,
			}
		}
	}

	outPath := tk.ValidatedNarrationPath()
	if err := task.SaveNarration(outPath, validated); err != nil {
		return err
	}
	result.OutputPath = outPath

	report, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal validation report: %w", err)
	}
	if err := os.WriteFile(tk.ReportPath(), report, 0o644); err != nil {
		return fmt.Errorf("failed to write validation report: %w", err)
	}
	return nil
}
