// Package a2a implements the agent-to-agent message protocol used between
// the orchestrator, the experts and the web crawler.
//
// A request names its sender, recipient, action and params. The reply is a
// message with action "response" whose params carry the result, a success
// flag, an optional error and the id of the request it answers.
package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionResponse is the action of every reply envelope.
const ActionResponse = "response"

// Response param keys.
const (
	ParamResult            = "result"
	ParamSuccess           = "success"
	ParamError             = "error"
	ParamOriginalMessageID = "original_message_id"
)

var (
	ErrUnknownAgent   = errors.New("unknown agent")
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is the A2A envelope, used for both requests and responses.
type Message struct {
	MessageID string         `json:"message_id"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	InReplyTo string         `json:"in_reply_to,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Agent handles requests addressed to its id. A handler may return both a
// result and an error; the error marks the response unsuccessful while the
// result is still delivered as the payload.
type Agent interface {
	AgentID() string
	Handle(ctx context.Context, req *Message) (any, error)
}

// NewRequest builds a request envelope with a fresh uuid.
func NewRequest(sender, recipient, action string, params map[string]any) *Message {
	if params == nil {
		params = map[string]any{}
	}
	return &Message{
		MessageID: uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Action:    action,
		Params:    params,
		Timestamp: time.Now().UTC(),
	}
}

// NewResponse builds the reply to req sent by sender.
func NewResponse(req *Message, sender string, result any, err error) *Message {
	params := map[string]any{
		ParamResult:            result,
		ParamSuccess:           err == nil,
		ParamOriginalMessageID: req.MessageID,
	}
	if err != nil {
		params[ParamError] = err.Error()
	}
	return &Message{
		MessageID: uuid.NewString(),
		Sender:    sender,
		Recipient: req.Sender,
		Action:    ActionResponse,
		Params:    params,
		InReplyTo: req.MessageID,
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks the fields every request needs.
func (m *Message) Validate() error {
	switch {
	case m == nil:
		return fmt.Errorf("%w: empty message", ErrInvalidMessage)
	case m.Recipient == "":
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	case m.Action == "":
		return fmt.Errorf("%w: action is required", ErrInvalidMessage)
	}
	return nil
}

// Succeeded reports the success flag of a response.
func (m *Message) Succeeded() bool {
	ok, _ := m.Params[ParamSuccess].(bool)
	return ok
}

// ErrorMessage returns the error text of a response, if any.
func (m *Message) ErrorMessage() string {
	s, _ := m.Params[ParamError].(string)
	return s
}

// Result returns the result payload of a response.
func (m *Message) Result() any {
	return m.Params[ParamResult]
}

// StringParam returns params[key] when it is a string.
func (m *Message) StringParam(key string) string {
	s, _ := m.Params[key].(string)
	return s
}

// DecodeResult converts the result payload into out through JSON, so typed
// results and results decoded from the wire read the same way.
func (m *Message) DecodeResult(out any) error {
	raw, err := json.Marshal(m.Result())
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}
