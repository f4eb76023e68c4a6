package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a platform failure for retry decisions
type Kind uint8

const (
	// Transient failures may succeed on retry: network, rate limits, 5xx
	Transient Kind = iota + 1
	// Permanent failures cannot succeed on retry: bad credentials, missing resource, rejected payload
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is a classified platform failure
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("platform %s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("platform %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a retryable failure of op
func NewTransient(op string, err error) *Error {
	return &Error{Kind: Transient, Op: op, Err: err}
}

// NewPermanent wraps err as a non-retryable failure of op
func NewPermanent(op string, err error) *Error {
	return &Error{Kind: Permanent, Op: op, Err: err}
}

// Classify returns the kind of err. Anything not explicitly classified is
// Transient so that a claimed item is retried rather than silently dropped.
func Classify(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind != 0 {
		return pe.Kind
	}
	return Transient
}

// IsPermanent reports whether err can never succeed on retry
func IsPermanent(err error) bool {
	return err != nil && Classify(err) == Permanent
}

// KindForStatus maps an HTTP status to a failure kind
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return Transient
	case status >= 400:
		return Permanent
	}
	return Transient
}
