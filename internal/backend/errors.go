package backend

import (
	"errors"
	"fmt"
)

// ErrNoAnswer means the endpoint was reached but did not return a usable answer.
var ErrNoAnswer = errors.New("no answer in response")

// NetworkError wraps a failure to reach the endpoint at all.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-2xx reply. It unwraps to ErrNoAnswer.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

func (e *StatusError) Unwrap() error {
	return ErrNoAnswer
}

// TooLargeError reports a reply body over the size limit. It unwraps to
// ErrNoAnswer.
type TooLargeError struct {
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("response larger than %d bytes", e.Limit)
}

func (e *TooLargeError) Unwrap() error {
	return ErrNoAnswer
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
