// File: internal/screenshots/fetcher.go
// Package screenshots downloads the per-event screenshots of a recorded
// session. Downloads run concurrently with bounded fan-out; individual
// failures are collected as per-item markers and never abort the batch.
package screenshots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stepbooklabs/stepbook-cli/api/schemas"
	"github.com/stepbooklabs/stepbook-cli/internal/config"
)

var _ schemas.ScreenshotFetcher = (*Fetcher)(nil)

// Fetcher implements schemas.ScreenshotFetcher over HTTP.
type Fetcher struct {
	cfg    config.FetchConfig
	client *http.Client
	logger *zap.Logger
}

// New creates a Fetcher.
func New(cfg config.FetchConfig, logger *zap.Logger) *Fetcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("screenshots"),
	}
}

// FetchAll downloads every event's screenshot into destDir as <n>.png, where
// n is the 1-based event index. Events without a usable URL are counted as
// skipped; failed downloads are recorded in the summary and do not stop the
// rest of the batch.
func (f *Fetcher) FetchAll(ctx context.Context, events []schemas.Event, destDir string) (*schemas.FetchSummary, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create screenshots directory %s: %w", destDir, err)
	}

	summary := &schemas.FetchSummary{Requested: len(events)}
	failures := make([]*schemas.FetchError, len(events))
	downloaded := make([]bool, len(events))

	var g errgroup.Group
	g.SetLimit(f.cfg.Concurrency)

	for i, event := range events {
		index := i + 1
		url, ok := event.ScreenshotURL()
		if !ok {
			summary.Skipped++
			f.logger.Warn("Event has no screenshot URL",
				zap.Int("event", index), zap.String("type", string(event.Type)))
			continue
		}

		dest := filepath.Join(destDir, fmt.Sprintf("%d.png", index))
		g.Go(func() error {
			if err := f.download(ctx, url, dest); err != nil {
				f.logger.Warn("Screenshot download failed",
					zap.Int("event", index), zap.String("url", url), zap.Error(err))
				failures[i] = &schemas.FetchError{EventIndex: index, URL: url, Reason: err.Error()}
				return nil
			}
			downloaded[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range events {
		if downloaded[i] {
			summary.Downloaded++
		}
		if failures[i] != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, *failures[i])
		}
	}

	f.logger.Info("Screenshot batch complete",
		zap.Int("requested", summary.Requested),
		zap.Int("downloaded", summary.Downloaded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// download fetches one URL to a file, retrying transient failures with
// exponential backoff.
func (f *Fetcher) download(ctx context.Context, url, dest string) error {
	retries := f.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries))

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("unexpected status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read body: %w", err)
		}
		if err := os.WriteFile(dest, body, 0o644); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to write %s: %w", dest, err))
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}
