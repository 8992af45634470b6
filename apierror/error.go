package apierror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a request failure. The kind determines whether the failure
// is eligible for retry.
type Kind int

const (
	// KindUnknown is a failure that could not be classified.
	KindUnknown Kind = iota
	// KindNetwork is a transport-level failure with no HTTP response.
	KindNetwork
	// KindServer is an HTTP 5xx response.
	KindServer
	// KindClient is an HTTP 4xx response.
	KindClient
	// KindTimeout is a deadline that expired before a response arrived.
	KindTimeout
	// KindMalformed is a response whose payload does not have the expected
	// structure.
	KindMalformed
)

// String returns the name of the failure kind.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindTimeout:
		return "timeout"
	case KindMalformed:
		return "malformed"
	}
	return "unknown"
}

// Transient returns true if failures of this kind may succeed on retry.
// Client errors and malformed payloads are terminal; retrying them repeats the
// same outcome.
func (k Kind) Transient() bool {
	switch k {
	case KindNetwork, KindServer, KindTimeout:
		return true
	}
	return false
}

// Error is the type of error returned by a source client. It carries the HTTP
// status code, when one was received, and a failure kind so that callers can
// decide whether the request is worth retrying.
type Error struct {
	err    error
	status int
	kind   Kind
}

// New creates an Error with an explicit kind.
func New(kind Kind, err error) *Error {
	return &Error{
		err:  err,
		kind: kind,
	}
}

// FromStatus creates an Error from a non-2xx HTTP response. The kind is
// derived from the status code class.
func FromStatus(status int, body []byte) *Error {
	var err error
	text := strings.TrimSpace(string(body))
	if text != "" {
		err = errors.New(text)
	}
	kind := KindUnknown
	switch {
	case status >= 500:
		kind = KindServer
	case status >= 400:
		kind = KindClient
	}
	return &Error{
		err:    err,
		status: status,
		kind:   kind,
	}
}

func (e *Error) Error() string {
	var parts []string
	if e.status != 0 {
		if text := http.StatusText(e.status); text != "" {
			parts = append(parts, fmt.Sprintf("%d %s", e.status, text))
		} else {
			parts = append(parts, fmt.Sprintf("%d", e.status))
		}
	} else if e.kind != KindUnknown {
		parts = append(parts, e.kind.String()+" error")
	}
	if e.err != nil {
		parts = append(parts, e.err.Error())
	}
	return strings.Join(parts, ": ")
}

// Status returns the HTTP status code, or 0 if no response was received.
func (e *Error) Status() int {
	return e.status
}

// Kind returns the failure classification.
func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Unwrap() error {
	return e.err
}

// Classify returns the failure kind of any error. Errors that are not *Error
// are inspected for context and net timeout conditions; anything else is a
// network failure, since it means no usable response was received.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return Classify(err).Transient()
}
