package ngramtrie

import "errors"

// Sentinel errors for conditions that are fatal at build or at load.
// Query-time conditions (out-of-vocabulary tokens, short top-k ranges)
// are not errors: they're handled by trimming context instead.

var (
	// ErrInvalidARPA marks a malformed header, missing section, or
	// unparseable line while reading an ARPA file. Load also returns it
	// for a malformed snapshot header or metadata block and for a
	// snapshot vocabulary whose hashes are not sorted.
	ErrInvalidARPA = errors.New("ngramtrie: invalid arpa input")

	// ErrUnknownToken marks a build-time token that fails vocabulary
	// lookup; this indicates a corrupt or inconsistent ARPA file.
	ErrUnknownToken = errors.New("ngramtrie: unknown token during build")

	// ErrTruncatedSnapshot marks a snapshot stream shorter than its own
	// header declares.
	ErrTruncatedSnapshot = errors.New("ngramtrie: truncated snapshot")

	// ErrCountMismatch marks an observed ngram count that disagrees with
	// the ARPA header's declared count for that order.
	ErrCountMismatch = errors.New("ngramtrie: ngram count mismatch")

	// ErrBadMagic marks a snapshot stream that doesn't start with the
	// expected magic bytes.
	ErrBadMagic = errors.New("ngramtrie: not a ngramtrie snapshot")

	// ErrUnsupportedVersion marks a snapshot whose version byte this
	// build doesn't understand.
	ErrUnsupportedVersion = errors.New("ngramtrie: unsupported snapshot version")

	// ErrChecksumMismatch marks a snapshot whose trailing checksum
	// doesn't match its contents.
	ErrChecksumMismatch = errors.New("ngramtrie: snapshot checksum mismatch")
)
