// Package dcp implements the DCP wire frame in its two dialects: the
// length-prefixed null-separated binary form and the JSON form. Both carry
// the same semantics and share the 1400 byte frame limit.
package dcp

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// MaxFrame is the largest encoded frame either dialect accepts,
	// including length prefix and terminator.
	MaxFrame = 1400

	// MaxTarget bounds source and target identifiers.
	MaxTarget = 48
)

// Kval is the key to ordered-value-list multimap carried by every frame.
type Kval map[string][]string

// First returns the first value under key, or def when the key is absent
// or empty.
func (kv Kval) First(key, def string) string {
	if v, ok := kv[key]; ok && len(v) > 0 {
		return v[0]
	}
	return def
}

// Clone returns a deep copy. A nil Kval clones to an empty one.
func (kv Kval) Clone() Kval {
	out := make(Kval, len(kv))
	for k, v := range kv {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Keys returns the keys in sorted order. Encoders iterate in this order so
// that encoding is deterministic.
func (kv Kval) Keys() []string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Frame is one protocol message unit.
type Frame struct {
	Source  string
	Target  string
	Command string
	Kval    Kval
}

// NewFrame builds a frame with a non-nil kval.
func NewFrame(source, target, command string, kval Kval) *Frame {
	if kval == nil {
		kval = Kval{}
	}
	return &Frame{Source: source, Target: target, Command: command, Kval: kval}
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame(source=%s, target=%s, command=%s, kval=%v)",
		f.Source, f.Target, f.Command, f.Kval)
}

// Codec encodes and decodes one frame dialect.
type Codec interface {
	// Encode serializes the frame, returning ErrFrameOversize when it
	// cannot fit on the wire.
	Encode(f *Frame) ([]byte, error)

	// Decode parses exactly one frame, terminator included.
	Decode(data []byte) (*Frame, error)

	// Terminator is the byte sequence ending every frame of the dialect.
	Terminator() []byte

	// Fit reports the byte budget left for additional payload in a frame
	// carrying command and kval, assuming source and target both occupy
	// their maximum length. Emitters that paginate use this.
	Fit(command string, kval Kval) int
}

// NewCodec returns the codec for a configured dialect name.
func NewCodec(dialect string) (Codec, error) {
	switch strings.ToLower(dialect) {
	case "", "binary":
		return BinaryCodec{}, nil
	case "json":
		return JSONCodec{}, nil
	}
	return nil, fmt.Errorf("dcp: unknown dialect %q", dialect)
}

// replaceInvalid substitutes invalid UTF-8 sequences instead of rejecting
// them, so a hostile client cannot poison the stream.
func replaceInvalid(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
