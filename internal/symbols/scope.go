package symbols

import (
	"fmt"

	"github.com/skdltmxn/dbgsym/internal/tpi"
)

// ModuleSignature is the first word of every module symbol stream (C13).
const ModuleSignature = 4

// Variable is a local or parameter visible at some address. Kind is the
// record it came from; for S_LOCAL the location is Live.
type Variable struct {
	Kind     SymbolRecordKind
	Name     string
	Type     tpi.TypeIndex
	Register uint16
	Offset   int32
	Flags    LocalFlags
	Live     *DefRange
}

// Frame is the procedure around an address with the variables in scope.
type Frame struct {
	Proc      *ProcSym
	FrameProc *FrameProcSym // nil when the procedure has none
	Variables []Variable
}

// FindFrame locates the procedure containing seg:off in a module symbol
// stream and collects the variables of every enclosing block. S_LOCAL
// records without a def-range covering the address are dropped.
// A nil Frame with no error means no procedure covers the address.
func FindFrame(data []byte, seg uint16, off uint32) (*Frame, error) {
	it := NewSymbolIteratorAt(data, ModuleSignature)
	for {
		rec, err := it.Next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, nil
		}
		if !rec.Kind.IsProc() {
			continue
		}
		proc, err := ParseProcSym(rec.Data)
		if err != nil {
			return nil, err
		}
		if !proc.Contains(seg, off) {
			if err := skipScope(it, proc.PtrEnd); err != nil {
				return nil, err
			}
			continue
		}
		return walkProc(it, proc, seg, off)
	}
}

func walkProc(it *SymbolIterator, proc *ProcSym, seg uint16, off uint32) (*Frame, error) {
	f := &Frame{Proc: proc}
	depth := 1
	var local *Variable

	for depth > 0 {
		rec, err := it.Next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("%w: procedure %q is not closed", ErrUnexpectedEnd, proc.Name)
		}

		if !rec.Kind.IsDefRange() {
			if local != nil && local.Live != nil {
				f.Variables = append(f.Variables, *local)
			}
			local = nil
		}

		switch k := rec.Kind; {
		case k.ClosesScope():
			depth--

		case k == S_BLOCK32:
			b, err := ParseBlockSym(rec.Data)
			if err != nil {
				return nil, err
			}
			if b.Contains(seg, off) {
				depth++
			} else if err := skipScope(it, b.PtrEnd); err != nil {
				return nil, err
			}

		case k == S_INLINESITE:
			if len(rec.Data) < 8 {
				return nil, ErrInvalidSymbolRecord
			}
			end := uint32(rec.Data[4]) | uint32(rec.Data[5])<<8 | uint32(rec.Data[6])<<16 | uint32(rec.Data[7])<<24
			if err := skipScope(it, end); err != nil {
				return nil, err
			}

		case k == S_FRAMEPROC:
			if depth == 1 {
				if f.FrameProc, err = ParseFrameProcSym(rec.Data); err != nil {
					return nil, err
				}
			}

		case k == S_REGREL32:
			s, err := ParseRegRelSym(rec.Data)
			if err != nil {
				return nil, err
			}
			f.Variables = append(f.Variables, Variable{Kind: k, Name: s.Name, Type: s.Type, Register: s.Register, Offset: s.Offset})

		case k == S_BPREL32:
			s, err := ParseBPRelSym(rec.Data)
			if err != nil {
				return nil, err
			}
			f.Variables = append(f.Variables, Variable{Kind: k, Name: s.Name, Type: s.Type, Offset: s.Offset})

		case k == S_REGISTER:
			s, err := ParseRegisterSym(rec.Data)
			if err != nil {
				return nil, err
			}
			f.Variables = append(f.Variables, Variable{Kind: k, Name: s.Name, Type: s.Type, Register: s.Register})

		case k == S_LOCAL:
			s, err := ParseLocalSym(rec.Data)
			if err != nil {
				return nil, err
			}
			local = &Variable{Kind: k, Name: s.Name, Type: s.Type, Flags: s.Flags}

		case k.IsDefRange():
			if local == nil || local.Live != nil {
				continue
			}
			dr, err := ParseDefRange(k, rec.Data)
			if err != nil {
				return nil, err
			}
			if dr.Covers(seg, off) {
				local.Live = dr
			}
		}
	}
	return f, nil
}

// skipScope jumps to the S_END at end and consumes it.
func skipScope(it *SymbolIterator, end uint32) error {
	if int(end) < it.Offset() {
		return fmt.Errorf("%w: scope end %d before %d", ErrInvalidSymbolRecord, end, it.Offset())
	}
	it.Seek(int(end))
	rec, err := it.Next()
	if err != nil {
		return err
	}
	if rec == nil || !rec.Kind.ClosesScope() {
		return fmt.Errorf("%w: no scope end at %d", ErrInvalidSymbolRecord, end)
	}
	return nil
}
