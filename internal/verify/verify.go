// File: internal/verify/verify.go
// Package verify re-scans a reconciled notebook and reports structural
// deviations per step. It never mutates the document and never fails fast:
// every finding is collected into an itemized report and the caller decides
// the pass/fail threshold.
package verify

import (
	"fmt"
	"strings"

	"github.com/stepbooklabs/stepbook-cli/internal/notebook"
	"github.com/stepbooklabs/stepbook-cli/internal/segment"
)

// expectedOrder is the canonical section sequence inside a step region. The
// image cell precedes all of them.
var expectedOrder = []segment.Section{
	segment.SectionObservation,
	segment.SectionThought,
	segment.SectionAction,
	segment.SectionCode,
}

// Report is the structured result of a verification pass. Issues are hard
// deviations; warnings alone still count as passing, with a softer status.
type Report struct {
	Issues    []string `json:"issues"`
	Warnings  []string `json:"warnings"`
	StepCount int      `json:"step_count"`
	// MaxStep is the highest step number seen, used for the command audit.
	MaxStep int `json:"max_step"`
}

// Passed reports whether the notebook is structurally sound (no issues;
// warnings are tolerated).
func (r *Report) Passed() bool {
	return len(r.Issues) == 0
}

// Status summarizes the report in one word.
func (r *Report) Status() string {
	switch {
	case len(r.Issues) > 0:
		return "failed"
	case len(r.Warnings) > 0:
		return "passed-with-warnings"
	default:
		return "passed"
	}
}

// Verify checks every step region for the fixed section sequence:
// image, Observation, content, Thought, content, Action, content, Code,
// content. Missing or duplicate headers and ordering violations are issues;
// a present header with empty content is a warning.
func Verify(nb *notebook.Notebook) *Report {
	report := &Report{}

	for _, region := range segment.Segment(nb).Regions {
		report.StepCount++
		if region.Number > report.MaxStep {
			report.MaxStep = region.Number
		}
		verifyRegion(report, region)
	}

	return report
}

func verifyRegion(report *Report, region segment.Region) {
	step := region.Number

	var (
		imageCount   int
		counts       = map[segment.Section]int{}
		headerOrder  []segment.Section
		imageLate    bool
		sectionsSeen bool
		hasContent   = map[segment.Section]bool{}
		current      = segment.Section(-1)
	)

	for _, el := range region.Elements {
		switch el.Class {
		case segment.ClassImage:
			imageCount++
			if sectionsSeen {
				imageLate = true
			}
			current = -1
		case segment.ClassSectionHeader:
			sectionsSeen = true
			counts[el.Section]++
			headerOrder = append(headerOrder, el.Section)
			current = el.Section
			if el.Inline != "" {
				hasContent[el.Section] = true
			}
		case segment.ClassContent:
			if current >= 0 && el.Text != "" {
				hasContent[current] = true
			}
		}
	}

	if imageCount == 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("Step %d: missing image", step))
	} else if imageCount > 1 {
		report.Issues = append(report.Issues, fmt.Sprintf("Step %d: %d images (expected 1)", step, imageCount))
	}
	if imageLate {
		report.Issues = append(report.Issues, fmt.Sprintf("Step %d: image appears after section headers", step))
	}

	for _, kind := range expectedOrder {
		n := counts[kind]
		switch {
		case n == 0:
			report.Issues = append(report.Issues,
				fmt.Sprintf("Step %d: 0 %s (expected 1)", step, sectionNoun(kind)))
		case n > 1:
			report.Issues = append(report.Issues,
				fmt.Sprintf("Step %d: %d %s (expected 1)", step, n, sectionNoun(kind)))
		default:
			if !hasContent[kind] {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("Step %d: %s header has no content", step, kind))
			}
		}
	}

	if misordered(headerOrder) {
		report.Issues = append(report.Issues,
			fmt.Sprintf("Step %d: sections out of order (%s), expected image, Observation, Thought, Action, Code",
				step, joinSections(headerOrder)))
	}
}

// misordered reports whether the observed header sequence violates the
// expected relative order. Duplicates are already reported as count issues,
// so only the first occurrence of each kind participates.
func misordered(order []segment.Section) bool {
	rank := map[segment.Section]int{}
	for i, kind := range expectedOrder {
		rank[kind] = i
	}

	last := -1
	seen := map[segment.Section]bool{}
	for _, kind := range order {
		if seen[kind] {
			continue
		}
		seen[kind] = true
		if rank[kind] < last {
			return true
		}
		last = rank[kind]
	}
	return false
}

func joinSections(order []segment.Section) string {
	names := make([]string, 0, len(order))
	for _, kind := range order {
		names = append(names, kind.String())
	}
	return strings.Join(names, ", ")
}

func sectionNoun(kind segment.Section) string {
	switch kind {
	case segment.SectionObservation:
		return "observations"
	case segment.SectionThought:
		return "thoughts"
	case segment.SectionAction:
		return "actions"
	case segment.SectionCode:
		return "code cells"
	}
	return "sections"
}

// AuditCommands cross-checks the positional action-command list against the
// highest step number in the notebook. Positional alignment silently shifts
// when steps are skipped or renumbered, so a count mismatch is an issue, not
// an assumption.
func (r *Report) AuditCommands(commandCount int) {
	if r.MaxStep == 0 {
		return
	}
	if commandCount != r.MaxStep {
		r.Issues = append(r.Issues, fmt.Sprintf(
			"command list has %d entries but the notebook reaches step %d; positional alignment is unreliable",
			commandCount, r.MaxStep))
	}
}
