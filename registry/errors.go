package registry

import (
	"fmt"

	"github.com/pkg/errors"
)

// RequestFailedError is returned when the registry answers outside the 2xx range.
type RequestFailedError struct {
	StatusCode int
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("the server responded with the status code %d", e.StatusCode)
}

// DecodeFailedError is returned when a 200 response body is not valid JSON.
type DecodeFailedError struct {
	Err  error
	Body string
}

func (e *DecodeFailedError) Error() string {
	return fmt.Sprintf("%v\nInput: %s", e.Err, e.Body)
}

func (e *DecodeFailedError) Unwrap() error {
	return e.Err
}

// IsRequestFailed reports the status code carried by err, if any.
func IsRequestFailed(err error) (int, bool) {
	var rf *RequestFailedError
	if errors.As(err, &rf) {
		return rf.StatusCode, true
	}
	return 0, false
}
