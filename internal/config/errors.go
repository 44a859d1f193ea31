package config

import "errors"

// Validation causes.
var (
	ErrMissing    = errors.New("missing")
	ErrOutOfRange = errors.New("out of range")
	ErrInvalid    = errors.New("invalid")
)

// Error reports a configuration problem for one key. It is fatal and
// returned before any media graph is built.
type Error struct {
	Key     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return "config " + e.Key + ": " + e.Message
	}
	return "config " + e.Key + ": " + e.Message + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}
