package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Step is one entry of a decomposed plan.
type Step struct {
	Expert      string `json:"expert"`
	Instruction string `json:"instruction"`
	// Independent marks a step that needs no earlier result.
	Independent bool `json:"independent,omitempty"`
}

type planReply struct {
	Plan []Step `json:"plan"`
}

// ParsePlan reads the coordinator's reply. It accepts {"plan": [...]} or a
// bare array, optionally wrapped in prose or a code fence.
func ParsePlan(text string) ([]Step, error) {
	text = strings.TrimSpace(text)
	obj := strings.IndexByte(text, '{')
	arr := strings.IndexByte(text, '[')

	if arr >= 0 && (obj < 0 || arr < obj) {
		end := strings.LastIndexByte(text, ']')
		if end < arr {
			return nil, fmt.Errorf("unterminated plan array")
		}
		var steps []Step
		if err := json.Unmarshal([]byte(text[arr:end+1]), &steps); err != nil {
			return nil, fmt.Errorf("plan is not valid JSON: %w", err)
		}
		return normalize(steps), nil
	}

	if obj < 0 {
		return nil, fmt.Errorf("no plan found in reply")
	}
	end := strings.LastIndexByte(text, '}')
	if end < obj {
		return nil, fmt.Errorf("unterminated plan object")
	}
	var reply planReply
	if err := json.Unmarshal([]byte(text[obj:end+1]), &reply); err != nil {
		return nil, fmt.Errorf("plan is not valid JSON: %w", err)
	}
	return normalize(reply.Plan), nil
}

func normalize(steps []Step) []Step {
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		s.Expert = strings.TrimSpace(s.Expert)
		s.Instruction = strings.TrimSpace(s.Instruction)
		if s.Expert == "" && s.Instruction == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// groups splits steps into runs executed together. Without parallelism
// every step is its own group; with it, consecutive independent steps
// share one.
func groups(steps []Step, parallel bool) [][]int {
	var out [][]int
	for i, s := range steps {
		if parallel && s.Independent && len(out) > 0 {
			last := out[len(out)-1]
			if steps[last[len(last)-1]].Independent {
				out[len(out)-1] = append(last, i)
				continue
			}
		}
		out = append(out, []int{i})
	}
	return out
}
