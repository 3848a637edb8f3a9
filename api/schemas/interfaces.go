package schemas

import "context"

// -- Collaborator Interfaces --

// VisionClient defines the contract for a vision-capable LLM backend. The
// narration validator depends on this abstraction rather than a concrete API
// client so tests can substitute a stub.
type VisionClient interface {
	// ValidateStep sends one screenshot plus its narration to the model and
	// returns the corrected (or newly generated) narration. Implementations
	// are expected to retry transient transport failures internally.
	ValidateStep(ctx context.Context, req ValidationRequest) (*ValidationResponse, error)
}

// ScreenshotFetcher downloads the per-event screenshots of a session into a
// directory, naming each file <index>.png with a 1-based event index.
type ScreenshotFetcher interface {
	FetchAll(ctx context.Context, events []Event, destDir string) (*FetchSummary, error)
}

// FetchSummary aggregates the outcome of a screenshot download batch.
// Individual failures are recorded, never fatal to the batch.
type FetchSummary struct {
	Requested  int          `json:"requested"`
	Downloaded int          `json:"downloaded"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Errors     []FetchError `json:"errors,omitempty"`
}

// FetchError is the per-item failure marker for a screenshot download.
type FetchError struct {
	EventIndex int    `json:"event_index"`
	URL        string `json:"url"`
	Reason     string `json:"reason"`
}
