package schemas

import (
	"fmt"
	"strconv"
	"strings"
)

// -- Narration Schemas --

// NarrationRecord is the observation/thought pair attached to a single step.
// Either field may be empty; an entirely empty record signals that the
// narration must be generated from the screenshot rather than validated.
type NarrationRecord struct {
	Observation string `json:"observation"`
	Thought     string `json:"thought"`
}

// IsEmpty reports whether the record carries no usable narration text.
func (r NarrationRecord) IsEmpty() bool {
	return strings.TrimSpace(r.Observation) == "" && strings.TrimSpace(r.Thought) == ""
}

// NarrationMap maps "step_<n>" keys to their narration records. It is the
// shape of both observation_thought.json and
// validated_observation_thought.json.
type NarrationMap map[string]NarrationRecord

// StepKey builds the canonical map key for a step number.
func StepKey(stepNumber int) string {
	return fmt.Sprintf("step_%d", stepNumber)
}

// ParseStepKey extracts the step number from a "step_<n>" key. Keys that do
// not follow the convention are reported via ok=false rather than an error so
// callers can skip foreign keys.
func ParseStepKey(key string) (int, bool) {
	rest, found := strings.CutPrefix(key, "step_")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// StepNumbers returns the step numbers present in the map, unsorted. Keys
// that do not match the step_<n> convention are ignored.
func (m NarrationMap) StepNumbers() []int {
	nums := make([]int, 0, len(m))
	for key := range m {
		if n, ok := ParseStepKey(key); ok {
			nums = append(nums, n)
		}
	}
	return nums
}
