// Package secret holds short-lived sensitive byte strings such as PINs,
// client-secret shares and time permits.
//
// Wipe overwrites the backing array before it is released. This is best
// effort only: the Go runtime may have copied the data during growth or
// garbage collection, and strings derived from the buffer are not covered.
// It narrows the window in which material stays resident; it is not a
// memory-safety boundary.
package secret

import (
	"encoding/hex"
	"runtime"
)

// Bytes is an owned sensitive buffer. The zero value is empty.
type Bytes struct {
	b []byte
}

// New copies b into a fresh buffer owned by the returned value.
func New(b []byte) *Bytes {
	out := make([]byte, len(b))
	copy(out, b)
	return &Bytes{b: out}
}

// FromString copies s. The source string cannot be wiped.
func FromString(s string) *Bytes {
	return New([]byte(s))
}

// FromHex decodes s into a new buffer.
func FromHex(s string) (*Bytes, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return &Bytes{b: raw}, nil
}

// Bytes exposes the underlying slice. Callers must not retain it past Wipe.
func (s *Bytes) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Len returns the buffer length; a wiped buffer has length zero.
func (s *Bytes) Len() int {
	if s == nil {
		return 0
	}
	return len(s.b)
}

// Empty reports whether the buffer holds no data.
func (s *Bytes) Empty() bool {
	return s.Len() == 0
}

// Clone returns an independent copy.
func (s *Bytes) Clone() *Bytes {
	if s == nil {
		return nil
	}
	return New(s.b)
}

// Hex encodes the buffer. The returned string is not wiped by Wipe.
func (s *Bytes) Hex() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s.b)
}

// Equal compares contents.
func (s *Bytes) Equal(o *Bytes) bool {
	a, b := s.Bytes(), o.Bytes()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Wipe zeroes the buffer and drops it. Safe on nil and repeatable.
func (s *Bytes) Wipe() {
	if s == nil {
		return
	}
	Zero(s.b)
	s.b = nil
}

// Zero overwrites b in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// String never reveals content.
func (s *Bytes) String() string {
	return "secret.Bytes(redacted)"
}

// GoString keeps %#v redacted as well.
func (s *Bytes) GoString() string {
	return s.String()
}

// List is an ordered group of buffers wiped together, such as the two
// shares of a client secret.
type List []*Bytes

// Raw returns the underlying slices in order.
func (l List) Raw() [][]byte {
	out := make([][]byte, 0, len(l))
	for _, b := range l {
		out = append(out, b.Bytes())
	}
	return out
}

// Complete reports whether the list holds want non-empty buffers.
func (l List) Complete(want int) bool {
	if len(l) != want {
		return false
	}
	for _, b := range l {
		if b.Empty() {
			return false
		}
	}
	return true
}

// Wipe wipes every member.
func (l List) Wipe() {
	for _, b := range l {
		b.Wipe()
	}
}
