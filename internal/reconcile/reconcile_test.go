// File: internal/reconcile/reconcile_test.go
package reconcile_test

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stepbooklabs/stepbook-cli/api/schemas"
	"github.com/stepbooklabs/stepbook-cli/internal/notebook"
	"github.com/stepbooklabs/stepbook-cli/internal/reconcile"
	"github.com/stepbooklabs/stepbook-cli/internal/segment"
)

func buildNotebook(t *testing.T, texts ...string) *notebook.Notebook {
	t.Helper()

	type cell struct {
		CellType string         `json:"cell_type"`
		Metadata map[string]any `json:"metadata"`
		Source   []string       `json:"source"`
	}
	cells := make([]cell, 0, len(texts))
	for _, text := range texts {
		cells = append(cells, cell{CellType: "markdown", Metadata: map[string]any{}, Source: []string{text}})
	}
	raw, err := jsoniter.Marshal(map[string]any{
		"cells":          cells,
		"metadata":       map[string]any{},
		"nbformat":       4,
		"nbformat_minor": 5,
	})
	require.NoError(t, err)
	nb, err := notebook.Parse(raw)
	require.NoError(t, err)
	return nb
}

func cellTexts(nb *notebook.Notebook) []string {
	texts := make([]string, 0, len(nb.Cells))
	for _, c := range nb.Cells {
		texts = append(texts, c.Text())
	}
	return texts
}

// pngBytes is a tiny stand-in payload; the engine never inspects pixels.
var pngBytes = []byte("\x89PNG\r\n\x1a\nfakeimagedata")

func writeScreenshot(t *testing.T, dir string, step int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.png", step)), pngBytes, 0o644))
}

func newEngine() *reconcile.Engine {
	return reconcile.New(zap.NewNop())
}

func TestReconcile_EmptyInputsIsRoundTrip(t *testing.T) {
	nb := buildNotebook(t,
		"# Task 9",
		"## Step 1",
		"### Observation",
		"Old observation.",
		"### Action\n\npg.click(5, 6)",
		"## Step 2",
		"free text",
	)

	before, err := nb.Marshal()
	require.NoError(t, err)

	err = newEngine().Reconcile(nb, reconcile.Inputs{
		Narration:      schemas.NarrationMap{},
		ScreenshotsDir: t.TempDir(),
	})
	require.NoError(t, err)

	after, err := nb.Marshal()
	require.NoError(t, err)

	if diff := cmp.Diff(string(before), string(after)); diff != "" {
		t.Fatalf("empty-input reconcile changed the document (-before +after):\n%s", diff)
	}
}

func TestReconcile_HeaderImageMarkupStripped(t *testing.T) {
	nb := buildNotebook(t,
		"## Step 1 ![Step Image](stale.png)",
		"content",
	)

	err := newEngine().Reconcile(nb, reconcile.Inputs{
		Narration:      schemas.NarrationMap{},
		ScreenshotsDir: t.TempDir(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"## Step 1", "content"}, cellTexts(nb))
}

func TestReconcile_EndToEndScenario(t *testing.T) {
	dir := t.TempDir()
	writeScreenshot(t, dir, 2)

	nb := buildNotebook(t,
		"# Task",
		"## Step 1",
		"### Observation",
		"step one stays",
		"## Step 2",
		"### Observation",
		"stale observation",
		"### Thought",
		"stale thought",
		"### Action\n\npg.click(42, 7)",
		"## Step 3",
		"### Thought",
		"step three stays",
	)

	in := reconcile.Inputs{
		Narration: schemas.NarrationMap{
			"step_2": {Observation: "A", Thought: "B"},
		},
		ScreenshotsDir: dir,
		Commands:       []string{"cmdA", "cmdB", "cmdC"},
	}
	require.NoError(t, newEngine().Reconcile(nb, in))

	want := []string{
		"# Task",
		"## Step 1",
		"### Observation",
		"step one stays",
		"## Step 2",
		"![Step Image](data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes) + ")",
		"### Observation\n\nA",
		"### Thought\n\nB",
		"### Action\n\npg.click(42, 7)",
		"### Code",
		"cmdB",
		"## Step 3",
		"### Thought",
		"step three stays",
	}
	assert.Equal(t, want, cellTexts(nb))
}

func TestReconcile_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeScreenshot(t, dir, 1)

	nb := buildNotebook(t,
		"## Step 1 ![Step Image](old.png)",
		"![Step Image](old-embed)",
		"### Observation",
		"stale",
		"### Action\n\npg.press(\"enter\")",
	)

	in := reconcile.Inputs{
		Narration:      schemas.NarrationMap{"step_1": {Observation: "Fresh", Thought: "Fresh thought"}},
		ScreenshotsDir: dir,
		Commands:       []string{"pg.press(\"enter\")"},
	}

	engine := newEngine()
	require.NoError(t, engine.Reconcile(nb, in))
	first, err := nb.Marshal()
	require.NoError(t, err)

	second := mustReparse(t, first)
	require.NoError(t, engine.Reconcile(second, in))
	out, err := second.Marshal()
	require.NoError(t, err)

	assert.Equal(t, string(first), string(out))
}

func TestReconcile_StepIsolation(t *testing.T) {
	build := func() *notebook.Notebook {
		return buildNotebook(t,
			"## Step 1",
			"### Observation",
			"one",
			"## Step 2",
			"### Observation",
			"two",
			"## Step 3",
			"### Observation",
			"three",
		)
	}

	base := build()
	require.NoError(t, newEngine().Reconcile(base, reconcile.Inputs{
		Narration:      schemas.NarrationMap{"step_2": {Observation: "original"}},
		ScreenshotsDir: t.TempDir(),
	}))

	mutated := build()
	require.NoError(t, newEngine().Reconcile(mutated, reconcile.Inputs{
		Narration:      schemas.NarrationMap{"step_2": {Observation: "mutated"}},
		ScreenshotsDir: t.TempDir(),
	}))

	baseTexts, mutatedTexts := cellTexts(base), cellTexts(mutated)
	require.Equal(t, len(baseTexts), len(mutatedTexts))
	for i := range baseTexts {
		if strings.Contains(baseTexts[i], "original") {
			assert.Contains(t, mutatedTexts[i], "mutated")
			continue
		}
		assert.Equal(t, baseTexts[i], mutatedTexts[i], "cell %d outside step 2 changed", i)
	}
}

func TestReconcile_ActionPreservedVerbatim(t *testing.T) {
	const actionText = "### Action\n\nAny free text here, not a command: ~~weird~~ [markup](x) 123"
	nb := buildNotebook(t,
		"## Step 1",
		"### Observation",
		"stale",
		actionText,
	)

	require.NoError(t, newEngine().Reconcile(nb, reconcile.Inputs{
		Narration:      schemas.NarrationMap{"step_1": {Observation: "new obs", Thought: "new thought"}},
		ScreenshotsDir: t.TempDir(),
	}))

	assert.Contains(t, cellTexts(nb), actionText)
}

func TestReconcile_MissingScreenshotTolerated(t *testing.T) {
	nb := buildNotebook(t,
		"## Step 1",
		"### Observation",
		"stale",
	)

	require.NoError(t, newEngine().Reconcile(nb, reconcile.Inputs{
		Narration:      schemas.NarrationMap{"step_1": {Observation: "obs"}},
		ScreenshotsDir: t.TempDir(),
	}))

	for _, text := range cellTexts(nb) {
		assert.False(t, strings.HasPrefix(text, "![Step Image]"), "unexpected image cell: %q", text)
	}
}

func TestReconcile_OldImageCellReplaced(t *testing.T) {
	dir := t.TempDir()
	writeScreenshot(t, dir, 1)

	nb := buildNotebook(t,
		"## Step 1",
		"![Step Image](../Screenshots/task_9/1.png)",
		"### Observation",
		"kept, no narration entry",
	)

	require.NoError(t, newEngine().Reconcile(nb, reconcile.Inputs{
		Narration:      schemas.NarrationMap{},
		ScreenshotsDir: dir,
	}))

	texts := cellTexts(nb)
	require.Len(t, texts, 4)
	assert.True(t, strings.HasPrefix(texts[1], "![Step Image](data:image/png;base64,"))
	assert.Equal(t, "### Observation", texts[2])
	assert.Equal(t, "kept, no narration entry", texts[3])
}

func TestReconcile_ThoughtSanitized(t *testing.T) {
	nb := buildNotebook(t,
		"## Step 1",
		"placeholder",
	)

	require.NoError(t, newEngine().Reconcile(nb, reconcile.Inputs{
		Narration: schemas.NarrationMap{
			"step_1": {Thought: "Real thought content.\n\n### Action\n\nresidue from a bad parse"},
		},
		ScreenshotsDir: t.TempDir(),
	}))

	assert.Contains(t, cellTexts(nb), "### Thought\n\nReal thought content.")
}

func TestReconcile_EmptyNarrationFieldsOmitted(t *testing.T) {
	nb := buildNotebook(t,
		"## Step 1",
		"### Observation",
		"stale",
		"### Action\n\npg.click(1, 1)",
	)

	require.NoError(t, newEngine().Reconcile(nb, reconcile.Inputs{
		Narration:      schemas.NarrationMap{"step_1": {Observation: "", Thought: ""}},
		ScreenshotsDir: t.TempDir(),
		Commands:       []string{"pg.click(1, 1)"},
	}))

	assert.Equal(t, []string{
		"## Step 1",
		"### Action\n\npg.click(1, 1)",
		"### Code",
		"pg.click(1, 1)",
	}, cellTexts(nb))
}

func TestReconcile_CommandListShorterThanSteps(t *testing.T) {
	nb := buildNotebook(t,
		"## Step 5",
		"stale",
	)

	require.NoError(t, newEngine().Reconcile(nb, reconcile.Inputs{
		Narration:      schemas.NarrationMap{"step_5": {Observation: "obs"}},
		ScreenshotsDir: t.TempDir(),
		Commands:       []string{"only", "two"},
	}))

	texts := cellTexts(nb)
	assert.NotContains(t, texts, "### Code")
}

func TestReconcile_DuplicateHeadersProcessedIndependently(t *testing.T) {
	dir := t.TempDir()
	writeScreenshot(t, dir, 2)

	nb := buildNotebook(t,
		"## Step 2",
		"first occurrence stale",
		"## Step 2",
		"second occurrence stale",
	)

	require.NoError(t, newEngine().Reconcile(nb, reconcile.Inputs{
		Narration:      schemas.NarrationMap{"step_2": {Observation: "obs"}},
		ScreenshotsDir: dir,
		Commands:       []string{"a", "b"},
	}))

	texts := cellTexts(nb)
	// Both occurrences get the same treatment: image, observation, command.
	var headers, images, observations int
	for _, text := range texts {
		switch {
		case text == "## Step 2":
			headers++
		case strings.HasPrefix(text, "![Step Image](data:"):
			images++
		case text == "### Observation\n\nobs":
			observations++
		}
	}
	assert.Equal(t, 2, headers)
	assert.Equal(t, 2, images)
	assert.Equal(t, 2, observations)
}

func TestReconcile_PreambleUntouched(t *testing.T) {
	nb := buildNotebook(t,
		"# Title ![logo](logo.png)",
		"Setup instructions with ![an image](x.png) inline.",
		"## Step 1",
		"body",
	)

	require.NoError(t, newEngine().Reconcile(nb, reconcile.Inputs{
		Narration:      schemas.NarrationMap{},
		ScreenshotsDir: t.TempDir(),
	}))

	texts := cellTexts(nb)
	// Image markup outside step headers is not the engine's business.
	assert.Equal(t, "# Title ![logo](logo.png)", texts[0])
	assert.Equal(t, "Setup instructions with ![an image](x.png) inline.", texts[1])
}

func TestSegmentAfterReconcile_StructureReadable(t *testing.T) {
	dir := t.TempDir()
	writeScreenshot(t, dir, 1)

	nb := buildNotebook(t,
		"## Step 1",
		"stale",
	)
	require.NoError(t, newEngine().Reconcile(nb, reconcile.Inputs{
		Narration:      schemas.NarrationMap{"step_1": {Observation: "obs", Thought: "thought"}},
		ScreenshotsDir: dir,
		Commands:       []string{"cmd"},
	}))

	region := segment.Segment(nb).Regions[0]
	obs, ok := region.Content(segment.SectionObservation)
	require.True(t, ok)
	assert.Equal(t, "obs", obs)
	thought, ok := region.Content(segment.SectionThought)
	require.True(t, ok)
	assert.Equal(t, "thought", thought)
	code, ok := region.Content(segment.SectionCode)
	require.True(t, ok)
	assert.Equal(t, "cmd", code)
}

func mustReparse(t *testing.T, data []byte) *notebook.Notebook {
	t.Helper()
	nb, err := notebook.Parse(data)
	require.NoError(t, err)
	return nb
}
