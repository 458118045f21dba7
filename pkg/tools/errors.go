package tools

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	// ErrWriteNotAllowed is returned when a read-only role submits a write.
	ErrWriteNotAllowed = errors.New("write statements are not allowed for this role")
)

// ToolExecutionError is a failed tool call.
type ToolExecutionError struct {
	Component string
	Operation string
	Message   string
	Err       error
}

func (e *ToolExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

func NewToolExecutionError(tool, message string, err error) *ToolExecutionError {
	return &ToolExecutionError{
		Component: "tools",
		Operation: tool,
		Message:   message,
		Err:       err,
	}
}
