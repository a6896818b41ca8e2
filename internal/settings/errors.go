package settings

import (
	"errors"
	"fmt"
)

// ErrInvalidMode is returned by BeginAwaiting for a mode other than
// AwaitingSource or AwaitingTarget.
var ErrInvalidMode = errors.New("settings: invalid pending-input mode")

// PersistenceError reports that the configuration store could not be
// read or written.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("settings: %s: persistence failure: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ParseError reports operator input that is not an integer.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("settings: %q is not a numeric channel id", e.Input)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports an integer that does not look like a channel id.
type ValidationError struct {
	ChannelID int64
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("settings: %d is not a channel id: %s", e.ChannelID, e.Reason)
}

// IsRecoverable reports whether err is an input error the operator can
// fix by sending another value.
func IsRecoverable(err error) bool {
	var pe *ParseError
	var ve *ValidationError
	return errors.As(err, &pe) || errors.As(err, &ve)
}
