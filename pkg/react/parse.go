package react

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError reports model output that is not a valid decision. It is fed
// back to the model as a corrective observation.
type ParseError struct {
	Component string
	Operation string
	Message   string
	Raw       string
	Err       error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func newParseError(raw, message string, err error) *ParseError {
	return &ParseError{
		Component: "react",
		Operation: "parse",
		Message:   message,
		Raw:       raw,
		Err:       err,
	}
}

// Validator checks a tool call against the tool catalog.
type Validator interface {
	Validate(name string, args map[string]any) error
}

// Action is a tool call chosen by the model.
type Action struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// Decision is one parsed model turn: either an action or a final answer.
type Decision struct {
	Thought     string
	Action      *Action
	FinalAnswer string
}

// IsFinal reports whether the decision ends the loop.
func (d *Decision) IsFinal() bool {
	return d.Action == nil
}

type rawDecision struct {
	Thought string `json:"thought"`
	Action  *struct {
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"action"`
	FinalAnswer *string `json:"final_answer"`
}

// ParseDecision decodes a model reply. The reply must hold one JSON object
// with a thought and exactly one of action or final_answer; code fences and
// surrounding prose are tolerated. Actions are checked against v.
func ParseDecision(text string, v Validator) (*Decision, error) {
	obj, ok := extractObject(text)
	if !ok {
		return nil, newParseError(text, "no JSON object found in reply", nil)
	}

	var raw rawDecision
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, newParseError(text, "reply is not valid JSON", err)
	}

	d := &Decision{Thought: strings.TrimSpace(raw.Thought)}
	switch {
	case raw.Action != nil && raw.FinalAnswer != nil:
		return nil, newParseError(text, "reply must contain either action or final_answer, not both", nil)

	case raw.FinalAnswer != nil:
		d.FinalAnswer = strings.TrimSpace(*raw.FinalAnswer)
		if d.FinalAnswer == "" {
			return nil, newParseError(text, "final_answer must not be empty", nil)
		}
		return d, nil

	case raw.Action != nil:
		name := strings.TrimSpace(raw.Action.Name)
		if name == "" {
			return nil, newParseError(text, "action.name is required", nil)
		}
		input, err := decodeInput(raw.Action.Input)
		if err != nil {
			return nil, newParseError(text, "action.input must be a JSON object", err)
		}
		if v != nil {
			if err := v.Validate(name, input); err != nil {
				return nil, newParseError(text, fmt.Sprintf("invalid call to %s", name), err)
			}
		}
		d.Action = &Action{Name: name, Input: input}
		return d, nil
	}

	return nil, newParseError(text, "reply must contain action or final_answer", nil)
}

// decodeInput accepts an object, a JSON-encoded object string, or nothing.
func decodeInput(data json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, nil
	}

	var input map[string]any
	if err := json.Unmarshal(data, &input); err == nil {
		if input == nil {
			input = map[string]any{}
		}
		return input, nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("got %s", trimmed)
	}
	if err := json.Unmarshal([]byte(s), &input); err != nil {
		return nil, fmt.Errorf("got string %q", s)
	}
	return input, nil
}

// extractObject returns the outermost {...} span of text.
func extractObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
