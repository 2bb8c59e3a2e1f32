package protocol

import (
	"encoding/binary"
	"unicode/utf8"
)

// writer appends big-endian primitives to a growing buffer.
type writer struct {
	buf []byte
}

func (w *writer) u8(v byte) { w.buf = append(w.buf, v) }

func (w *writer) i32(v int32) { w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v)) }

func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *writer) str(s string) {
	w.i32(int32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) bytes(b []byte) {
	w.i32(int32(len(b)))
	w.buf = append(w.buf, b...)
}

// reader consumes primitives from a byte slice. The first failure is sticky:
// later reads return zero values and err keeps the first fault.
type reader struct {
	tag  byte
	data []byte
	err  error
}

func (r *reader) fail(kind error, field string, need int) {
	if r.err != nil {
		return
	}
	r.err = &ParseError{Kind: kind, Tag: r.tag, Field: field, Need: need, Have: len(r.data)}
}

func (r *reader) u8(field string) byte {
	if r.err != nil {
		return 0
	}
	if len(r.data) < 1 {
		r.fail(ErrTruncated, field, 1)
		return 0
	}
	v := r.data[0]
	r.data = r.data[1:]
	return v
}

func (r *reader) i32(field string) int32 {
	if r.err != nil {
		return 0
	}
	if len(r.data) < 4 {
		r.fail(ErrTruncated, field, 4)
		return 0
	}
	v := int32(binary.BigEndian.Uint32(r.data[:4]))
	r.data = r.data[4:]
	return v
}

func (r *reader) boolean(field string) bool {
	v := r.u8(field)
	if r.err != nil {
		return false
	}
	switch v {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail(ErrInvalidBool, field, 0)
		return false
	}
}

// raw reads a length-prefixed byte run without copying.
func (r *reader) raw(field string) []byte {
	n := r.i32(field)
	if r.err != nil {
		return nil
	}
	if n < 0 {
		r.fail(ErrNegativeLength, field, 0)
		return nil
	}
	if int(n) > len(r.data) {
		r.fail(ErrTruncated, field, int(n))
		return nil
	}
	v := r.data[:n]
	r.data = r.data[n:]
	return v
}

func (r *reader) str(field string) string {
	b := r.raw(field)
	if r.err != nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.fail(ErrInvalidUTF8, field, 0)
		return ""
	}
	return string(b)
}

func (r *reader) bytes(field string) []byte {
	b := r.raw(field)
	if r.err != nil || len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// count reads a list length and rejects counts that cannot fit in the
// remaining input given the minimum encoded size of one element.
func (r *reader) count(field string, minElem int) int {
	n := r.i32(field)
	if r.err != nil {
		return 0
	}
	if n < 0 {
		r.fail(ErrNegativeLength, field, 0)
		return 0
	}
	if need := int64(n) * int64(minElem); need > int64(len(r.data)) {
		r.fail(ErrTruncated, field, int(need))
		return 0
	}
	return int(n)
}

func (r *reader) finish() error {
	if r.err == nil && len(r.data) > 0 {
		r.err = &ParseError{Kind: ErrTrailingBytes, Tag: r.tag, Have: len(r.data)}
	}
	return r.err
}
