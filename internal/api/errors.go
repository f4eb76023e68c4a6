package api

import (
	"errors"
	"fmt"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/store"
)

// Application error codes, outside the reserved JSON-RPC range
const (
	ErrNotFound = -32004
	ErrConflict = -32009
	ErrServer   = -32000
)

// Error represents an API error
type Error struct {
	Code    int
	Message string
}

// NewError creates a new API error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// invalidParams wraps a params decoding problem
func invalidParams(err error) *Error {
	return NewError(ErrInvalidParams, err.Error())
}

// errorCode maps a handler error to its JSON-RPC code and message
func errorCode(err error) (int, string) {
	var apiErr *Error
	var verr *models.ValidationError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Code, apiErr.Message
	case errors.As(err, &verr):
		return ErrInvalidParams, "Invalid params"
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound, "Not found"
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicateExternalID):
		return ErrConflict, "Conflict"
	}
	return ErrServer, "Server error"
}
