package expert

import "fmt"

// ExpertInvocationError is a failed or incomplete expert run.
type ExpertInvocationError struct {
	Component string
	Operation string
	Message   string
	Err       error
}

func (e *ExpertInvocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *ExpertInvocationError) Unwrap() error {
	return e.Err
}

func NewExpertInvocationError(expert, message string, err error) *ExpertInvocationError {
	return &ExpertInvocationError{
		Component: "expert",
		Operation: expert,
		Message:   message,
		Err:       err,
	}
}
