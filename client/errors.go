package client

import "fmt"

// TransientError wraps a network-level failure. State is left untouched
// and the caller may retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ServerRejection is a non-2xx response from the server. It is never
// fatal; the request simply did not take effect.
type ServerRejection struct {
	Op      string
	Status  int
	Message string
}

func (e *ServerRejection) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: server rejected with %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: server rejected with %d", e.Op, e.Status)
}
