package dnspod

import (
	"errors"
	"fmt"
)

// ErrUnusable matches every failed DNSPod call: transport failure, non-2xx
// status, malformed body, missing status, or a status code other than "1".
var ErrUnusable = errors.New("dnspod: unusable response")

// APIError describes one failed DNSPod call.
type APIError struct {
	// Op is the API action, e.g. "Record.List".
	Op string
	// Target is the request URL.
	Target string
	// StatusCode is the HTTP status, or 0 when no response arrived.
	StatusCode int
	// Code and Message come from the response's status object when present.
	Code    string
	Message string
	// Body is the raw response body.
	Body string
	// Err is the underlying transport or decode error, if any.
	Err error
}

func (e *APIError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("dnspod %s %s: %v", e.Op, e.Target, e.Err)
	case e.Code != "":
		return fmt.Sprintf("dnspod %s %s: status code %s: %s", e.Op, e.Target, e.Code, e.Message)
	default:
		return fmt.Sprintf("dnspod %s %s: http %d", e.Op, e.Target, e.StatusCode)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// Is reports whether target is ErrUnusable.
func (e *APIError) Is(target error) bool { return target == ErrUnusable }
