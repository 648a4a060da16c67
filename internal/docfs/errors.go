package docfs

import (
	"errors"
	"fmt"
)

// Code classifies a provider error the way a filesystem host reports it.
type Code string

const (
	CodeFileNotFound  Code = "FileNotFound"
	CodeUnavailable   Code = "Unavailable"
	CodeNoPermissions Code = "NoPermissions"
	CodeRemoteFailure Code = "RemoteFailure"
)

var (
	ErrServiceNotReady = errors.New("tasks service is not ready")
	ErrNoPermissions   = errors.New("operation not permitted")
)

type Error struct {
	Code    Code
	Op      string
	Address string
	Err     error
}

func (e *Error) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Address, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var docErr *Error
	if errors.As(err, &docErr) {
		return docErr.Code, true
	}
	return "", false
}

func noPermissions(op, address, message string) *Error {
	return &Error{Code: CodeNoPermissions, Op: op, Address: address, Err: fmt.Errorf("%w: %s", ErrNoPermissions, message)}
}
