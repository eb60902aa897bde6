package protocol

import (
	"errors"
	"fmt"

	"github.com/dendrascience/dendra-blockstore/store"
)

// Code is the failure class carried by an ERROR packet.
type Code uint32

const (
	CodeAlreadyExists     Code = 1
	CodeNotFound          Code = 2
	CodeForbidden         Code = 3
	CodeBadSize           Code = 4
	CodeOutOfBounds       Code = 5
	CodeInsufficientSpace Code = 6
	CodeInvalidBlock      Code = 7
	CodeInternal          Code = 8
	CodeInvalidName       Code = 9
	CodeBadRequest        Code = 10
)

var codeErrors = map[Code]error{
	CodeAlreadyExists:     store.ErrAlreadyExists,
	CodeNotFound:          store.ErrNotFound,
	CodeForbidden:         store.ErrForbidden,
	CodeBadSize:           store.ErrBadSize,
	CodeOutOfBounds:       store.ErrOutOfBounds,
	CodeInsufficientSpace: store.ErrInsufficientSpace,
	CodeInvalidBlock:      store.ErrInvalidBlock,
	CodeInvalidName:       store.ErrInvalidName,
}

// ErrInternal stands in for server-side failures with no specific code.
var ErrInternal = errors.New("internal storage error")

// ErrBadRequest is returned for packets the server could not decode.
var ErrBadRequest = errors.New("malformed request")

// CodeOf classifies err for the wire.
func CodeOf(err error) Code {
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	if errors.Is(err, ErrBadRequest) {
		return CodeBadRequest
	}
	return CodeInternal
}

// NewError builds the ERROR response for err.
func NewError(err error) *Error {
	return &Error{Code: CodeOf(err), Message: err.Error()}
}

// RemoteError is an ERROR packet received from the server. It unwraps to
// the matching store sentinel so errors.Is works across the connection.
type RemoteError struct {
	Code    Code
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("storage error %d: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	if sentinel, ok := codeErrors[e.Code]; ok {
		return sentinel
	}
	if e.Code == CodeBadRequest {
		return ErrBadRequest
	}
	return ErrInternal
}

// Err converts an ERROR packet body into a Go error.
func (m *Error) Err() error {
	return &RemoteError{Code: m.Code, Message: m.Message}
}
