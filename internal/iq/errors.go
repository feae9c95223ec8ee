package iq

import "fmt"

// DecodeError reports a malformed intake message. It is never fatal: callers log and
// drop the message.
type DecodeError struct {
	Part int // Index of the offending part, -1 when the message as a whole is at fault
	msg  string
}

func newDecodeError(part int, format string, args ...any) *DecodeError {
	return &DecodeError{Part: part, msg: fmt.Sprintf(format, args...)}
}

func (e *DecodeError) Error() string {
	if e.Part < 0 {
		return "decode: " + e.msg
	}
	return fmt.Sprintf("decode: part %d: %s", e.Part, e.msg)
}
