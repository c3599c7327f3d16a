package boatrace

import (
	"errors"
	"fmt"
)

// ErrNetworkUnavailable is returned when the client believes it is offline.
var ErrNetworkUnavailable = errors.New("network unavailable")

// ErrInvalidArgument is returned by the typed helpers before any request is
// made, e.g. for a venue code outside 01-24.
var ErrInvalidArgument = errors.New("invalid argument")

// RequestFailedError reports a non-2xx response or a transport error for
// which no usable cache entry existed.
type RequestFailedError struct {
	URL        string
	StatusCode int // zero for transport errors
	Err        error
}

func (e *RequestFailedError) Error() string {
	if e.StatusCode != 0 {
		if e.Err != nil {
			return fmt.Sprintf("request %s failed: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
		}
		return fmt.Sprintf("request %s failed: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("request %s failed: %v", e.URL, e.Err)
}

func (e *RequestFailedError) Unwrap() error { return e.Err }

// MalformedResponseError reports a body that is not JSON or lacks a field the
// caller needs.
type MalformedResponseError struct {
	URL string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.URL, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
