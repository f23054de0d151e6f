package dcp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

var binaryTerminator = []byte{0, 0}

// BinaryCodec implements the null-separated binary dialect:
//
//	[len_hi][len_lo][0x00]source[0x00]target[0x00]command[0x00](key[0x00]value[0x00])*[0x00]
//
// len is the big-endian byte count of the whole frame, length prefix and
// separator included. The final field separator plus the terminator null
// form the trailing double null.
type BinaryCodec struct{}

func (BinaryCodec) Terminator() []byte { return binaryTerminator }

func (BinaryCodec) Decode(data []byte) (*Frame, error) {
	if !bytes.HasSuffix(data, binaryTerminator) || len(data) < 10 {
		return nil, ErrFrameIncomplete
	}

	// The declared length and the actual byte count are both bounded; a
	// lying length prefix must not smuggle an oversized frame through.
	llen := int(binary.BigEndian.Uint16(data[:2]))
	if llen > MaxFrame || len(data) > MaxFrame {
		return nil, ErrFrameOversize
	}

	toks := bytes.Split(data[3:len(data)-2], []byte{0})
	if n := len(toks); n > 0 && len(toks[n-1]) == 0 {
		toks = toks[:n-1]
	}
	if len(toks) < 3 {
		return nil, fmt.Errorf("%w: missing header fields", ErrFrameInvalid)
	}

	f := &Frame{
		Source:  strings.ToLower(replaceInvalid(toks[0])),
		Target:  strings.ToLower(replaceInvalid(toks[1])),
		Command: strings.ToLower(replaceInvalid(toks[2])),
		Kval:    Kval{},
	}

	rest := toks[3:]
	if len(rest)%2 != 0 {
		// Lenient padding for clients that omit a trailing value.
		rest = append(rest, []byte{'*'})
	}
	for i := 0; i < len(rest); i += 2 {
		k := strings.ToLower(replaceInvalid(rest[i]))
		v := replaceInvalid(rest[i+1])
		for _, prev := range f.Kval[k] {
			if prev == v {
				return nil, fmt.Errorf("%w: duplicate value under key %q", ErrFrameInvalid, k)
			}
		}
		f.Kval[k] = append(f.Kval[k], v)
	}

	return f, nil
}

func (c BinaryCodec) Encode(f *Frame) ([]byte, error) {
	total := c.encodedLen(f.Source, f.Target, f.Command, f.Kval)
	// Keep headroom so the same frame also fits the JSON dialect.
	if total > MaxFrame-20 {
		return nil, ErrFrameOversize
	}

	buf := make([]byte, 2, total)
	buf = append(buf, 0)
	buf = append(buf, f.Source...)
	buf = append(buf, 0)
	buf = append(buf, f.Target...)
	buf = append(buf, 0)
	buf = append(buf, f.Command...)
	for _, k := range f.Kval.Keys() {
		for _, v := range f.Kval[k] {
			buf = append(buf, 0)
			buf = append(buf, k...)
			buf = append(buf, 0)
			buf = append(buf, v...)
		}
	}
	buf = append(buf, 0, 0)
	binary.BigEndian.PutUint16(buf[:2], uint16(len(buf)))
	return buf, nil
}

func (c BinaryCodec) Fit(command string, kval Kval) int {
	return MaxFrame - c.encodedLen(strings.Repeat("x", MaxTarget),
		strings.Repeat("x", MaxTarget), command, kval)
}

// encodedLen counts the two byte length, every null we know of up front
// (separators plus the trailing double null) and the key/value payload.
func (BinaryCodec) encodedLen(source, target, command string, kval Kval) int {
	llen := 3 + len(source) + 1 + len(target) + 1 + len(command) + 1 + 2
	if len(kval) > 0 {
		for k, vals := range kval {
			for _, v := range vals {
				llen += len(k) + len(v) + 2
			}
		}
		llen--
	}
	return llen
}
