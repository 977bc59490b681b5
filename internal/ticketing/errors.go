package ticketing

import "fmt"

// APIError is a non-success response from the ticket system. It carries the
// HTTP status structurally so retry classification never has to scan message
// text.
type APIError struct {
	Op         string // "fetch_ticket", "post_comment", "attach_file", "test_connection"
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("jira: unexpected status %d", e.StatusCode)
}

// Retryable classifies the status: 429 and 5xx are plausibly transient on
// the far side; every other status is deterministic for the same input and
// retrying it would only delay the real failure.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func apiErr(op string, status int, format string, args ...any) *APIError {
	return &APIError{Op: op, StatusCode: status, Message: fmt.Sprintf(format, args...)}
}
