package core

import "errors"

// Error kinds shared by the torrent metadata engine and the uTP transport.
// See spec §7 for the recovery policy attached to each.
var (
	// ErrInvalidField is returned when a wire field or metadata value
	// violates its declared range or invariant.
	ErrInvalidField = errors.New("invalid field")

	// ErrTruncated is returned when input is too short to parse.
	ErrTruncated = errors.New("truncated input")

	// ErrMalformedExtension is returned when an extension chain could not
	// be fully decoded; the packet body is still delivered.
	ErrMalformedExtension = errors.New("malformed extension chain")

	// ErrInvalidTorrent is returned when torrent metadata fails structural
	// or semantic validation.
	ErrInvalidTorrent = errors.New("invalid torrent metadata")

	// ErrHashMismatch is returned when a computed digest does not match an
	// expected value.
	ErrHashMismatch = errors.New("hash mismatch")
)
