// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/stepbooklabs/stepbook-cli/internal/observability"
)

// executeCommand runs the CLI with fresh root/viper/logger state and captures
// its output. Global state resets keep the tests independent.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	observability.ResetForTest()
	cfgFile = ""
	cfg = nil
	t.Setenv("STEPBOOK_LOGGER_LEVEL", "error")

	rootCmd := NewRootCommand()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// notebookJSON assembles a minimal nbformat document from markdown cell
// texts.
func notebookJSON(t *testing.T, texts ...string) []byte {
	t.Helper()
	cells := make([]map[string]any, 0, len(texts))
	for _, text := range texts {
		cells = append(cells, map[string]any{
			"cell_type": "markdown",
			"metadata":  map[string]any{},
			"source":    []string{text},
		})
	}
	doc := map[string]any{
		"cells":          cells,
		"metadata":       map[string]any{},
		"nbformat":       4,
		"nbformat_minor": 5,
	}
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(doc)
	require.NoError(t, err)
	return data
}

// taskFixture lays out a complete task directory: event log, source
// notebook, narration and a downloaded screenshot.
func taskFixture(t *testing.T, screenshotURL string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "task_1")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "screenshots"), 0o755))

	events := `{"events": [{"type": "click", "data": {"x": 100, "y": 200, "text": "left click"}, "screenshots": {"start": "` + screenshotURL + `", "end": "` + screenshotURL + `"}}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events.json"), []byte(events), 0o644))

	nb := notebookJSON(t,
		"# Session intro",
		"## Step 1",
		"### Observation\n\nA login form is visible.",
		"### Thought\n\nI should click the submit button.",
		"### Action\n\nClicked the submit button.",
	)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.ipynb"), nb, 0o644))

	narration := `{"step_1": {"observation": "A login form is visible.", "thought": "I should click the submit button."}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "observation_thought.json"), []byte(narration), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "screenshots", "1.png"), []byte("fake-png"), 0o644))
	return dir
}
