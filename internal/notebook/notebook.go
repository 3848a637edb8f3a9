// File: internal/notebook/notebook.go
// Package notebook implements the document model for Jupyter-format task
// notebooks. Parsing and serialization preserve everything the tool does not
// understand: unknown top-level fields, unknown cell fields, and the original
// shape of each cell's source (single string vs. line list) all survive a
// round trip.
package notebook

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MarkdownCell and CodeCell are the cell_type values the tool recognizes.
const (
	MarkdownCell = "markdown"
	CodeCell     = "code"
)

// Cell is one atomic unit of the notebook. The logical content is the
// concatenation of the source fragments; the fragment list shape is retained
// so the cell can be written back the way it arrived.
type Cell struct {
	Type string

	source   []string
	listForm bool

	// extra holds every cell field other than cell_type and source
	// (metadata, outputs, execution_count, id, ...), verbatim.
	extra map[string]jsoniter.RawMessage
}

// NewMarkdownCell builds a fresh markdown cell holding the given content as a
// single-element source list, the shape the upstream tooling emits.
func NewMarkdownCell(content string) *Cell {
	return &Cell{
		Type:     MarkdownCell,
		source:   []string{content},
		listForm: true,
		extra: map[string]jsoniter.RawMessage{
			"metadata": jsoniter.RawMessage("{}"),
		},
	}
}

// Text returns the cell's logical content: all source fragments joined
// without a separator, matching the Jupyter convention where each fragment
// carries its own trailing newline.
func (c *Cell) Text() string {
	if len(c.source) == 1 {
		return c.source[0]
	}
	return strings.Join(c.source, "")
}

// SetSourceLines replaces the cell content with an explicit fragment list.
// The cell is list-form afterwards regardless of its original shape.
func (c *Cell) SetSourceLines(lines []string) {
	c.source = append([]string(nil), lines...)
	c.listForm = true
}

// IsMarkdown reports whether the cell is a markdown cell.
func (c *Cell) IsMarkdown() bool {
	return c.Type == MarkdownCell
}

// Clone returns a deep copy of the cell.
func (c *Cell) Clone() *Cell {
	dup := &Cell{
		Type:     c.Type,
		source:   append([]string(nil), c.source...),
		listForm: c.listForm,
	}
	if c.extra != nil {
		dup.extra = make(map[string]jsoniter.RawMessage, len(c.extra))
		for k, v := range c.extra {
			dup.extra[k] = append(jsoniter.RawMessage(nil), v...)
		}
	}
	return dup
}

// UnmarshalJSON decodes a cell, normalizing string and list sources into the
// internal fragment list while remembering which shape was used.
func (c *Cell) UnmarshalJSON(data []byte) error {
	raw := map[string]jsoniter.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("cell is not a JSON object: %w", err)
	}

	typeRaw, ok := raw["cell_type"]
	if !ok {
		return fmt.Errorf("cell is missing cell_type")
	}
	if err := json.Unmarshal(typeRaw, &c.Type); err != nil {
		return fmt.Errorf("invalid cell_type: %w", err)
	}
	delete(raw, "cell_type")

	if srcRaw, ok := raw["source"]; ok {
		trimmed := bytes.TrimLeft(srcRaw, " \t\r\n")
		if len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(srcRaw, &c.source); err != nil {
				return fmt.Errorf("invalid source list: %w", err)
			}
			c.listForm = true
		} else {
			var s string
			if err := json.Unmarshal(srcRaw, &s); err != nil {
				return fmt.Errorf("invalid source string: %w", err)
			}
			c.source = []string{s}
			c.listForm = false
		}
		delete(raw, "source")
	}

	c.extra = raw
	return nil
}

// MarshalJSON encodes the cell with deterministic key order (alphabetical,
// which matches the nbformat convention of cell_type/.../source).
func (c *Cell) MarshalJSON() ([]byte, error) {
	fields := make(map[string]jsoniter.RawMessage, len(c.extra)+2)
	for k, v := range c.extra {
		fields[k] = v
	}

	typeRaw, err := json.Marshal(c.Type)
	if err != nil {
		return nil, err
	}
	fields["cell_type"] = typeRaw

	var srcRaw jsoniter.RawMessage
	if c.listForm {
		srcRaw, err = json.Marshal(c.source)
	} else {
		srcRaw, err = json.Marshal(c.Text())
	}
	if err != nil {
		return nil, err
	}
	fields["source"] = srcRaw

	return marshalOrdered(fields)
}

// Notebook is an ordered sequence of cells plus the untouched remainder of
// the notebook file (metadata, nbformat, ...).
type Notebook struct {
	Cells []*Cell

	extra map[string]jsoniter.RawMessage
}

// Parse decodes a notebook file into the document model.
func Parse(data []byte) (*Notebook, error) {
	raw := map[string]jsoniter.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("notebook is not a JSON object: %w", err)
	}

	cellsRaw, ok := raw["cells"]
	if !ok {
		return nil, fmt.Errorf("notebook has no cells field")
	}

	var cells []*Cell
	if err := json.Unmarshal(cellsRaw, &cells); err != nil {
		return nil, fmt.Errorf("failed to decode cells: %w", err)
	}
	delete(raw, "cells")

	return &Notebook{Cells: cells, extra: raw}, nil
}

// Marshal serializes the notebook with one-space indentation, the formatting
// the upstream notebook tooling writes. Output is deterministic, so
// serializing the same document twice yields identical bytes.
func (n *Notebook) Marshal() ([]byte, error) {
	fields := make(map[string]jsoniter.RawMessage, len(n.extra)+1)
	for k, v := range n.extra {
		fields[k] = v
	}

	cellsRaw, err := json.Marshal(n.Cells)
	if err != nil {
		return nil, err
	}
	fields["cells"] = cellsRaw

	compact, err := marshalOrdered(fields)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stdjson.Indent(&buf, compact, "", " "); err != nil {
		return nil, fmt.Errorf("failed to indent notebook: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadFile reads and parses a notebook from disk.
func LoadFile(path string) (*Notebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read notebook %s: %w", path, err)
	}
	nb, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse notebook %s: %w", path, err)
	}
	return nb, nil
}

// WriteFile serializes the notebook to the given path.
func (n *Notebook) WriteFile(path string) error {
	data, err := n.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write notebook %s: %w", path, err)
	}
	return nil
}

// marshalOrdered assembles a JSON object with keys in sorted order from
// pre-marshaled values. encoding/json randomizes nothing here: the output is
// stable across runs.
func marshalOrdered(fields map[string]jsoniter.RawMessage) ([]byte, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyRaw, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyRaw)
		buf.WriteByte(':')
		buf.Write(fields[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
