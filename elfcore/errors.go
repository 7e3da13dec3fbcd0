package elfcore

import (
	"errors"
	"fmt"

	"github.com/skdltmxn/dbgsym/symbol"
)

var (
	ErrNotCore     = errors.New("elfcore: not a core file")
	ErrUnsupported = fmt.Errorf("elfcore: %w", symbol.ErrUnsupportedFormat)
)

// NoteError describes a note that could not be decoded. It always matches
// symbol.ErrCorruptData, and Err when set.
type NoteError struct {
	Type    NoteType
	Offset  int64 // byte offset of the note header in the file, -1 when unknown
	Message string
	Err     error
}

func (e *NoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("elfcore: bad %s note at offset 0x%x: %s: %v",
			e.Type, e.Offset, e.Message, e.Err)
	}
	return fmt.Sprintf("elfcore: bad %s note at offset 0x%x: %s",
		e.Type, e.Offset, e.Message)
}

func (e *NoteError) Unwrap() []error {
	if e.Err == nil {
		return []error{symbol.ErrCorruptData}
	}
	return []error{symbol.ErrCorruptData, e.Err}
}

func noteError(n *Note, msg string, err error) *NoteError {
	return &NoteError{Type: n.Type, Offset: n.Offset, Message: msg, Err: err}
}
