// File: internal/llmclient/parser.go
package llmclient

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ParseKind tags how the model output was interpreted.
type ParseKind int

const (
	// ParseParsed means the output was valid JSON as requested.
	ParseParsed ParseKind = iota
	// ParseRecovered means the narration was salvaged from malformed output
	// via a fallback strategy; Reason names the strategy.
	ParseRecovered
	// ParseUnparseable means no narration could be extracted; Raw holds the
	// output for diagnostics.
	ParseUnparseable
)

func (k ParseKind) String() string {
	switch k {
	case ParseParsed:
		return "parsed"
	case ParseRecovered:
		return "recovered"
	case ParseUnparseable:
		return "unparseable"
	default:
		return "unknown"
	}
}

// ParsedNarration is the narration payload extracted from a model response.
type ParsedNarration struct {
	Observation string `json:"observation"`
	Thought     string `json:"thought"`
	Reasoning   string `json:"validation_reasoning"`
}

// ParseOutcome is the result of interpreting raw model output. Callers must
// branch on Kind: Record is only meaningful for Parsed and Recovered.
type ParseOutcome struct {
	Kind   ParseKind
	Record ParsedNarration
	Reason string
	Raw    string
}

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	fieldRes      = map[string]*regexp.Regexp{
		"observation":          regexp.MustCompile(`"observation"\s*:\s*"((?:[^"\\]|\\.)*)"`),
		"thought":              regexp.MustCompile(`"thought"\s*:\s*"((?:[^"\\]|\\.)*)"`),
		"validation_reasoning": regexp.MustCompile(`"validation_reasoning"\s*:\s*"((?:[^"\\]|\\.)*)"`),
	}
)

// ParseNarration interprets raw model output. It tries, in order: the whole
// output as JSON, the first fenced JSON block, and finally per-field regex
// extraction from the raw text.
func ParseNarration(raw string) ParseOutcome {
	trimmed := strings.TrimSpace(raw)

	var record ParsedNarration
	if err := json.Unmarshal([]byte(trimmed), &record); err == nil {
		return ParseOutcome{Kind: ParseParsed, Record: record, Raw: raw}
	}

	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &record); err == nil {
			return ParseOutcome{
				Kind:   ParseRecovered,
				Record: record,
				Reason: "extracted fenced JSON block",
				Raw:    raw,
			}
		}
	}

	record = ParsedNarration{}
	found := false
	for field, re := range fieldRes {
		m := re.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		value, ok := unquoteJSONString(m[1])
		if !ok {
			continue
		}
		found = true
		switch field {
		case "observation":
			record.Observation = value
		case "thought":
			record.Thought = value
		case "validation_reasoning":
			record.Reasoning = value
		}
	}
	if found {
		return ParseOutcome{
			Kind:   ParseRecovered,
			Record: record,
			Reason: "per-field regex extraction",
			Raw:    raw,
		}
	}

	return ParseOutcome{Kind: ParseUnparseable, Raw: raw}
}

// unquoteJSONString decodes the inner text of a JSON string literal.
func unquoteJSONString(inner string) (string, bool) {
	var s string
	if err := json.Unmarshal([]byte(`"`+inner+`"`), &s); err != nil {
		return "", false
	}
	return s, true
}
