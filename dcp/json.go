package dcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

var jsonTerminator = []byte{0}

type jsonHeader struct {
	Source  *string `json:"source"`
	Target  *string `json:"target"`
	Command *string `json:"command"`
}

// JSONCodec implements the JSON dialect: a two element array of header
// object and kval object, terminated by a single null byte.
type JSONCodec struct{}

func (JSONCodec) Terminator() []byte { return jsonTerminator }

func (JSONCodec) Decode(data []byte) (*Frame, error) {
	if !bytes.HasSuffix(data, jsonTerminator) || len(data) < 10 {
		return nil, ErrFrameIncomplete
	}
	if len(data) < 20 {
		return nil, fmt.Errorf("%w: frame too small", ErrFrameOversize)
	}
	if len(data) > MaxFrame {
		return nil, ErrFrameOversize
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(bytes.TrimSuffix(data, jsonTerminator), &parts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFrameInvalid, err)
	}
	if len(parts) < 1 {
		return nil, fmt.Errorf("%w: empty frame array", ErrFrameInvalid)
	}

	var hdr jsonHeader
	if err := json.Unmarshal(parts[0], &hdr); err != nil {
		return nil, fmt.Errorf("%w: bad frame header", ErrFrameInvalid)
	}
	if hdr.Source == nil || hdr.Target == nil || hdr.Command == nil {
		return nil, fmt.Errorf("%w: bad frame header", ErrFrameInvalid)
	}

	kval := Kval{}
	if len(parts) > 1 {
		raw := map[string][]string{}
		if err := json.Unmarshal(parts[1], &raw); err != nil {
			return nil, fmt.Errorf("%w: bad frame key/values", ErrFrameInvalid)
		}
		for k, v := range raw {
			kval[strings.ToLower(k)] = v
		}
	}

	return &Frame{
		Source:  strings.ToLower(*hdr.Source),
		Target:  strings.ToLower(*hdr.Target),
		Command: strings.ToLower(*hdr.Command),
		Kval:    kval,
	}, nil
}

func (JSONCodec) Encode(f *Frame) ([]byte, error) {
	kval := f.Kval
	if kval == nil {
		kval = Kval{}
	}
	hdr := map[string]string{
		"source":  f.Source,
		"target":  f.Target,
		"command": f.Command,
	}
	data, err := json.Marshal([2]interface{}{hdr, kval})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFrameInvalid, err)
	}
	data = append(data, 0)
	if len(data) > MaxFrame {
		return nil, ErrFrameOversize
	}
	return data, nil
}

func (c JSONCodec) Fit(command string, kval Kval) int {
	return MaxFrame - c.encodedLen(strings.Repeat("x", MaxTarget),
		strings.Repeat("x", MaxTarget), command, kval)
}

// encodedLen estimates the serialized size: 44 bytes of fixed framing and
// quoting around the header, 6 per key and 3 per value of punctuation.
func (JSONCodec) encodedLen(source, target, command string, kval Kval) int {
	baselen := 44 + len(source) + len(target) + len(command)
	if len(kval) > 0 {
		for k, vals := range kval {
			baselen += 6 + len(k)
			for _, v := range vals {
				baselen += 3 + len(v)
			}
			baselen--
		}
		baselen--
	}
	return baselen
}
