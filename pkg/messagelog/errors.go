package messagelog

import (
	"errors"
	"fmt"
)

// Code is a stable error code callers can alert on.
type Code string

const (
	CodeValidation             Code = "message_log.validation_failed"
	CodeNoTimestampingProvider Code = "message_log.no_timestamping_provider"
	// CodeTimestampingFailed means timestamping has been failing for longer
	// than the acceptable period and new messages are refused.
	CodeTimestampingFailed Code = "message_log.timestamping_failed"
	CodeStoreFailed        Code = "message_log.store_failed"
	// CodeTimestampFailed reports a single forced or immediate timestamping
	// attempt that failed.
	CodeTimestampFailed Code = "message_log.timestamp_failed"
	CodeRecordNotFound  Code = "message_log.record_not_found"
)

// Error is a coded message log error.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func validationError(format string, args ...any) error {
	return &Error{Code: CodeValidation, Msg: fmt.Sprintf(format, args...)}
}
