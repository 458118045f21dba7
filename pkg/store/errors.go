package store

import "fmt"

// DatabaseError reports a failed store operation.
type DatabaseError struct {
	Component string
	Operation string
	Message   string
	Err       error
}

func (e *DatabaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

func NewDatabaseError(operation, message string, err error) *DatabaseError {
	return &DatabaseError{
		Component: "store",
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
