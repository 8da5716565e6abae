package domain

import "errors"

// Error kinds reported by the acquirer and packager. The coordinator is the
// single place that decides which of these are recoverable; the HTTP layer
// only ever sees the registry's (status, error message) pair.
var (
	ErrNotFound     = errors.New("stream not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrNoMedia      = errors.New("no suitable video file in torrent")
	ErrDeadTorrent  = errors.New("dead torrent")
	ErrEngine       = errors.New("torrent engine error")
	ErrFileNotReady = errors.New("input file not ready")
	ErrCodec        = errors.New("codec error")
	ErrIO           = errors.New("filesystem error")
	ErrCancelled    = errors.New("stream cancelled")
	ErrUnsupported  = errors.New("unsupported operation")
)
