package dcp

import "errors"

// Parse and encode failures fall into three kinds. Callers buffering a
// stream should treat ErrFrameIncomplete as "feed me more bytes"; the other
// two are protocol errors to report to the peer.
var (
	ErrFrameIncomplete = errors.New("dcp: incomplete frame")
	ErrFrameOversize   = errors.New("dcp: frame too large for the wire")
	ErrFrameInvalid    = errors.New("dcp: invalid frame")
)
