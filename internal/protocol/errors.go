package protocol

import (
	"errors"
	"fmt"
)

// Parse fault kinds. A *ParseError unwraps to exactly one of these.
var (
	ErrTruncated      = errors.New("truncated")
	ErrNegativeLength = errors.New("negative length")
	ErrInvalidUTF8    = errors.New("invalid utf-8")
	ErrUnknownTag     = errors.New("unknown tag")
	ErrInvalidBool    = errors.New("invalid bool")
	ErrTrailingBytes  = errors.New("trailing bytes")
)

// ParseError reports why a frame or message could not be decoded.
type ParseError struct {
	Kind  error  // one of the Err* kinds above
	Tag   byte   // message or frame tag being decoded
	Field string // field that failed, e.g. "room_id" or "payload"
	Need  int    // bytes required (0 when not applicable)
	Have  int    // bytes available
}

func (e *ParseError) Error() string {
	switch {
	case e.Need > 0:
		return fmt.Sprintf("protocol: %v for %s (tag %d): need %d bytes, have %d", e.Kind, e.Field, e.Tag, e.Need, e.Have)
	case e.Field != "":
		return fmt.Sprintf("protocol: %v for %s (tag %d)", e.Kind, e.Field, e.Tag)
	default:
		return fmt.Sprintf("protocol: %v (tag %d)", e.Kind, e.Tag)
	}
}

func (e *ParseError) Unwrap() error { return e.Kind }
