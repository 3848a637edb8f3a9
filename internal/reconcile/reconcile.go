// File: internal/reconcile/reconcile.go
// Package reconcile merges externally validated narration, downloaded
// screenshots, and recorded action commands back into a task notebook. The
// pass is idempotent and leaves everything it does not recognize alone.
package reconcile

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stepbooklabs/stepbook-cli/api/schemas"
	"github.com/stepbooklabs/stepbook-cli/internal/notebook"
	"github.com/stepbooklabs/stepbook-cli/internal/segment"
)

// imageReadConcurrency bounds the parallel screenshot reads that happen
// before cell assembly. Assembly itself stays sequential so cell order is
// always step order.
const imageReadConcurrency = 4

// Inputs are the three external content sources of a reconciliation pass.
// All of them are already materialized; the engine performs no network I/O.
type Inputs struct {
	// Narration maps step_<n> keys to validated narration. A step absent
	// from the map keeps its original interior untouched.
	Narration schemas.NarrationMap
	// ScreenshotsDir holds <n>.png files. A missing file for a step means
	// that step simply gets no image cell.
	ScreenshotsDir string
	// Commands is the positional action-command list; entry i-1 belongs to
	// step i. A step beyond the list gets no Code section.
	Commands []string
}

// Engine rebuilds step regions in place.
type Engine struct {
	logger *zap.Logger
}

// New creates a reconciliation engine.
func New(logger *zap.Logger) *Engine {
	return &Engine{logger: logger.Named("reconcile")}
}

// Reconcile rewrites the notebook's cells according to the inputs. Cells
// before the first step header and whole regions without a narration entry
// pass through unchanged; everything else is rebuilt in the fixed
// image/Observation/Thought/Action/Code order. The notebook is mutated in
// place.
func (e *Engine) Reconcile(nb *notebook.Notebook, in Inputs) error {
	seg := segment.Segment(nb)
	images, err := e.loadImages(seg, in.ScreenshotsDir)
	if err != nil {
		return err
	}

	newCells := make([]*notebook.Cell, 0, len(nb.Cells))
	for _, idx := range seg.Preamble {
		newCells = append(newCells, nb.Cells[idx])
	}

	for ri, region := range seg.Regions {
		header := nb.Cells[region.HeaderIndex]
		header.SetSourceLines([]string{segment.StripImages(header.Text())})
		newCells = append(newCells, header)

		elements := region.Elements
		// An image cell directly after the header is superseded by the
		// freshly embedded screenshot (or dropped when none exists).
		if len(elements) > 0 && elements[0].Class == segment.ClassImage {
			elements = elements[1:]
		}

		if img := images[ri]; img != nil {
			newCells = append(newCells, img)
		}

		record, ok := in.Narration[schemas.StepKey(region.Number)]
		if !ok {
			// Outside the validated set: the region interior is not ours
			// to touch.
			for _, el := range elements {
				newCells = append(newCells, nb.Cells[el.Index])
			}
			continue
		}

		var action *notebook.Cell
		if idx := region.ActionCell(nb); idx >= 0 {
			action = nb.Cells[idx].Clone()
		}

		if obs := strings.TrimSpace(record.Observation); obs != "" {
			newCells = append(newCells, notebook.NewMarkdownCell("### Observation\n\n"+obs))
		}
		if thought := sanitizeThought(record.Thought); thought != "" {
			newCells = append(newCells, notebook.NewMarkdownCell("### Thought\n\n"+thought))
		}
		if action != nil {
			newCells = append(newCells, action)
		}
		if region.Number >= 1 && region.Number <= len(in.Commands) {
			newCells = append(newCells,
				notebook.NewMarkdownCell("### Code"),
				notebook.NewMarkdownCell(in.Commands[region.Number-1]))
		}
	}

	nb.Cells = newCells
	return nil
}

// loadImages reads the expected screenshot of every region concurrently and
// returns ready-to-insert image cells keyed by region ordinal. Regions whose
// screenshot does not exist get no entry.
func (e *Engine) loadImages(seg *segment.Segmentation, dir string) (map[int]*notebook.Cell, error) {
	images := make(map[int]*notebook.Cell, len(seg.Regions))
	var g errgroup.Group
	g.SetLimit(imageReadConcurrency)

	results := make([]*notebook.Cell, len(seg.Regions))
	for ri, region := range seg.Regions {
		path := filepath.Join(dir, fmt.Sprintf("%d.png", region.Number))
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				// An unreadable existing file still must not abort the
				// pass; fall back to a path reference so the step keeps
				// an image cell.
				e.logger.Warn("Could not read screenshot, embedding reference instead",
					zap.String("path", path), zap.Error(err))
				results[ri] = notebook.NewMarkdownCell(fmt.Sprintf("![Step Image](%s)", path))
				return nil
			}
			encoded := base64.StdEncoding.EncodeToString(data)
			results[ri] = notebook.NewMarkdownCell("![Step Image](data:image/png;base64," + encoded + ")")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for ri, cell := range results {
		if cell != nil {
			images[ri] = cell
		}
	}
	return images, nil
}

// sanitizeThought trims a thought and truncates it at an embedded Action
// header, residue occasionally left behind by earlier malformed parses.
func sanitizeThought(thought string) string {
	if before, _, found := strings.Cut(thought, "### Action"); found {
		thought = before
	}
	return strings.TrimSpace(thought)
}
