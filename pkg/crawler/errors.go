package crawler

import "fmt"

// FetchError reports a page that could not be retrieved.
type FetchError struct {
	Component  string
	Operation  string
	Message    string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s (%s): %v", e.Component, e.Operation, e.Message, e.URL, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s (%s)", e.Component, e.Operation, e.Message, e.URL)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRetryable lets the resilience executor retry server-side and
// throttling failures only.
func (e *FetchError) IsRetryable() bool {
	if e.StatusCode == 0 {
		return e.Err != nil
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func NewFetchError(url, message string, status int, err error) *FetchError {
	return &FetchError{
		Component:  "crawler",
		Operation:  "fetch",
		Message:    message,
		URL:        url,
		StatusCode: status,
		Err:        err,
	}
}
