// File: internal/segment/segment.go
// Package segment scans a notebook's cell sequence and partitions it into
// step regions. Scanning is a single forward pass driven by an explicit state
// machine over cell classifications; no index arithmetic or lookahead.
package segment

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/stepbooklabs/stepbook-cli/api/schemas"
	"github.com/stepbooklabs/stepbook-cli/internal/notebook"
)

var (
	// stepHeaderRe matches "## Step <n>" at the start of any line, matching
	// the recorder's header convention. Trailing content on the header line
	// (including embedded image markup) is ignored for matching.
	stepHeaderRe = regexp.MustCompile(`(?im)^##\s+Step\s+(\d+)`)

	// sectionHeaderRe recognizes the fixed section vocabulary.
	sectionHeaderRe = regexp.MustCompile(`(?i)^###\s+(Observation|Thought|Action|Code)`)

	// imageMarkupRe matches inline markdown image references.
	imageMarkupRe = regexp.MustCompile(`!\[.*?\]\(.*?\)`)
)

// Section identifies one of the per-step section kinds.
type Section int

const (
	SectionObservation Section = iota
	SectionThought
	SectionAction
	SectionCode
)

func (s Section) String() string {
	switch s {
	case SectionObservation:
		return "Observation"
	case SectionThought:
		return "Thought"
	case SectionAction:
		return "Action"
	case SectionCode:
		return "Code"
	}
	return "Unknown"
}

// Class is the coarse classification of a cell within a step region.
type Class int

const (
	// ClassImage is an image reference cell (screenshot embed).
	ClassImage Class = iota
	// ClassSectionHeader is a cell opening one of the known sections.
	ClassSectionHeader
	// ClassContent is any other cell; it belongs to the preceding section
	// when one is open, and is opaque filler otherwise.
	ClassContent
)

// Element is one classified cell inside a step region, in document order.
type Element struct {
	Index   int
	Class   Class
	Section Section // valid when Class == ClassSectionHeader
	Inline  string  // header-cell content after the header line, if any
	Text    string  // trimmed logical cell text
}

// Region is the contiguous span of cells owned by one step header.
type Region struct {
	// Number is the integer parsed from the header; duplicates and gaps are
	// reported as-is, each header occurrence owning its own region.
	Number      int
	HeaderIndex int
	// Start and End delimit the region as a half-open cell index range
	// [Start, End); Start is always HeaderIndex.
	Start, End int
	// Elements covers every cell after the header, classified.
	Elements []Element
}

// Segmentation is the result of scanning a notebook.
type Segmentation struct {
	// Preamble holds the indices of cells before the first step header.
	// These pass through reconciliation untouched.
	Preamble []int
	Regions  []Region
}

// StepNumber extracts the step number from a cell's text, if the cell is a
// step header.
func StepNumber(text string) (int, bool) {
	m := stepHeaderRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// StripImages removes inline markdown image references from text. Used to
// clean step header lines before re-emission.
func StripImages(text string) string {
	return strings.TrimSpace(imageMarkupRe.ReplaceAllString(text, ""))
}

// IsImageText reports whether a cell's text is a screenshot embed cell.
func IsImageText(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "![Step Image]")
}

// SectionOf classifies a cell's text against the section vocabulary and, for
// header cells carrying content in the same cell, splits off that content.
func SectionOf(text string) (Section, string, bool) {
	trimmed := strings.TrimSpace(text)
	m := sectionHeaderRe.FindStringSubmatch(trimmed)
	if m == nil {
		return 0, "", false
	}

	var kind Section
	switch strings.ToLower(m[1]) {
	case "observation":
		kind = SectionObservation
	case "thought":
		kind = SectionThought
	case "action":
		kind = SectionAction
	case "code":
		kind = SectionCode
	}

	inline := ""
	if _, rest, found := strings.Cut(trimmed, "\n"); found {
		inline = strings.TrimSpace(rest)
	}
	return kind, inline, true
}

// scanState names the segmenter's position in the document.
type scanState int

const (
	beforeFirstStep scanState = iota
	inStepBody
	atSectionContent
)

// Segment partitions the notebook into preamble cells and step regions in a
// single pass. The final region extends to the end of the document.
func Segment(nb *notebook.Notebook) *Segmentation {
	seg := &Segmentation{}
	state := beforeFirstStep
	var current *Region

	closeRegion := func(end int) {
		if current != nil {
			current.End = end
			seg.Regions = append(seg.Regions, *current)
			current = nil
		}
	}

	for i, cell := range nb.Cells {
		text := strings.TrimSpace(cell.Text())

		if cell.IsMarkdown() {
			if num, ok := StepNumber(text); ok {
				closeRegion(i)
				current = &Region{Number: num, HeaderIndex: i, Start: i}
				state = inStepBody
				continue
			}
		}

		if state == beforeFirstStep {
			seg.Preamble = append(seg.Preamble, i)
			continue
		}

		el := Element{Index: i, Class: ClassContent, Text: text}
		if cell.IsMarkdown() {
			if IsImageText(text) {
				el.Class = ClassImage
			} else if kind, inline, ok := SectionOf(text); ok {
				el.Class = ClassSectionHeader
				el.Section = kind
				el.Inline = inline
				state = atSectionContent
			}
		}
		current.Elements = append(current.Elements, el)
	}
	closeRegion(len(nb.Cells))

	return seg
}

// Content assembles the logical text of a section within the region: the
// header cell's inline remainder plus every following content cell up to the
// next recognized header, joined with blank lines. The second return reports
// whether the section is present at all.
func (r *Region) Content(kind Section) (string, bool) {
	var parts []string
	found := false
	collecting := false

	for _, el := range r.Elements {
		switch el.Class {
		case ClassSectionHeader:
			collecting = el.Section == kind && !found
			if collecting {
				found = true
				if el.Inline != "" {
					parts = append(parts, el.Inline)
				}
			}
		case ClassContent:
			if collecting && el.Text != "" {
				parts = append(parts, el.Text)
			}
		case ClassImage:
			collecting = false
		}
	}

	return strings.Join(parts, "\n\n"), found
}

// ActionCell returns the index of the first cell in the region whose text
// contains an Action header anywhere, or -1. The containment check (rather
// than a prefix match) deliberately also catches cells where the Action
// header is buried mid-text, so such cells are preserved whole.
func (r *Region) ActionCell(nb *notebook.Notebook) int {
	for _, el := range r.Elements {
		if nb.Cells[el.Index].IsMarkdown() && strings.Contains(nb.Cells[el.Index].Text(), "### Action") {
			return el.Index
		}
	}
	return -1
}

// ExtractNarration walks the notebook and builds the step_<n> narration map
// from its Observation and Thought sections. Steps whose sections are missing
// get empty strings, which downstream validation treats as "generate from
// the screenshot".
func ExtractNarration(nb *notebook.Notebook) schemas.NarrationMap {
	out := schemas.NarrationMap{}
	for _, region := range Segment(nb).Regions {
		key := schemas.StepKey(region.Number)
		record := schemas.NarrationRecord{}
		if obs, ok := region.Content(SectionObservation); ok {
			record.Observation = obs
		}
		if thought, ok := region.Content(SectionThought); ok {
			record.Thought = thought
		}
		// First header occurrence wins for duplicate step numbers.
		if _, exists := out[key]; !exists {
			out[key] = record
		}
	}
	return out
}
