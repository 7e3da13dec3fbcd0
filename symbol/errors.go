package symbol

import (
	"errors"

	"github.com/skdltmxn/dbgsym/affinity"
)

var (
	// ErrNotFound reports an absent type, field, base class, global or
	// enumerator. Callers treat it as recoverable.
	ErrNotFound = errors.New("symbol: not found")

	// ErrUnsupportedLocation reports a storage location kind that cannot
	// be interpreted.
	ErrUnsupportedLocation = errors.New("symbol: unsupported location")

	// ErrUnsupportedFormat reports a layout or architecture that cannot be
	// interpreted.
	ErrUnsupportedFormat = errors.New("symbol: unsupported format")

	// ErrCorruptData reports malformed notes, segments or offsets.
	ErrCorruptData = errors.New("symbol: corrupt data")

	// ErrMarshalling reports a thread affinity violation.
	ErrMarshalling = affinity.ErrMarshalling
)
