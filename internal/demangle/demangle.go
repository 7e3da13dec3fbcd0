// Package demangle decodes the MSVC decorated names the engine needs:
// qualified class names, vftable symbols and simple template arguments.
// Anything else is reported as unsupported and callers fall back to the
// raw name.
package demangle

import (
	"errors"
	"strconv"
	"strings"
)

var (
	ErrEmptyInput     = errors.New("demangle: empty input")
	ErrInvalidMangled = errors.New("demangle: invalid mangled name")
	ErrUnexpectedEnd  = errors.New("demangle: unexpected end of input")
	ErrInvalidBackref = errors.New("demangle: invalid back-reference")
	ErrUnsupported    = errors.New("demangle: unsupported encoding")
)

// Vftable is a decoded `??_7Class@@6B...@` symbol. Base is empty for the
// primary vftable; otherwise it names the base-class subobject the table
// belongs to.
type Vftable struct {
	Class string
	Base  string
}

// ParseVftable decodes a vftable public symbol name.
func ParseVftable(decorated string) (*Vftable, error) {
	if decorated == "" {
		return nil, ErrEmptyInput
	}
	rest, ok := strings.CutPrefix(decorated, "??_7")
	if !ok {
		return nil, ErrUnsupported
	}
	d := &demangler{input: rest}
	class, err := d.qualifiedName()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(d.input[d.pos:], "6B") {
		return nil, ErrUnsupported
	}
	d.pos += 2

	vt := &Vftable{Class: class}
	if d.peek() == '@' {
		return vt, nil
	}
	if vt.Base, err = d.qualifiedName(); err != nil {
		return nil, err
	}
	return vt, nil
}

// Demangle returns the undecorated form of a class or data symbol name
// when it can, and the decorated name with an error otherwise.
func Demangle(decorated string) (string, error) {
	if decorated == "" {
		return "", ErrEmptyInput
	}
	if vt, err := ParseVftable(decorated); err == nil {
		if vt.Base == "" {
			return vt.Class + "::`vftable'", nil
		}
		return vt.Class + "::`vftable'{for `" + vt.Base + "'}", nil
	}
	if decorated[0] != '?' {
		return decorated, nil
	}
	d := &demangler{input: decorated[1:]}
	name, err := d.qualifiedName()
	if err != nil {
		return decorated, err
	}
	return name, nil
}

// DemangleSimple is Demangle without the error.
func DemangleSimple(decorated string) string {
	s, _ := Demangle(decorated)
	return s
}

// IsMangled reports whether name looks like an MSVC decorated name.
func IsMangled(name string) bool {
	return len(name) > 0 && (name[0] == '?' || strings.HasPrefix(name, "@?"))
}

type demangler struct {
	input string
	pos   int
	names []string // back-references, at most 10
}

func (d *demangler) peek() byte {
	if d.pos >= len(d.input) {
		return 0
	}
	return d.input[d.pos]
}

func (d *demangler) memorize(s string) {
	if len(d.names) == 10 {
		return
	}
	for _, n := range d.names {
		if n == s {
			return
		}
	}
	d.names = append(d.names, s)
}

// qualifiedName reads fragments up to the terminating '@' and returns
// them outermost first.
func (d *demangler) qualifiedName() (string, error) {
	var parts []string
	for {
		switch c := d.peek(); {
		case c == 0:
			return "", ErrUnexpectedEnd
		case c == '@':
			d.pos++
			for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
				parts[i], parts[j] = parts[j], parts[i]
			}
			if len(parts) == 0 {
				return "", ErrInvalidMangled
			}
			return strings.Join(parts, "::"), nil
		}
		p, err := d.fragment()
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}
}

func (d *demangler) fragment() (string, error) {
	c := d.peek()
	switch {
	case c >= '0' && c <= '9':
		d.pos++
		i := int(c - '0')
		if i >= len(d.names) {
			return "", ErrInvalidBackref
		}
		return d.names[i], nil
	case strings.HasPrefix(d.input[d.pos:], "?$"):
		d.pos += 2
		t, err := d.template()
		if err != nil {
			return "", err
		}
		d.memorize(t)
		return t, nil
	case c == '?':
		return "", ErrUnsupported
	}
	end := strings.IndexByte(d.input[d.pos:], '@')
	if end < 0 {
		return "", ErrUnexpectedEnd
	}
	if end == 0 {
		return "", ErrInvalidMangled
	}
	name := d.input[d.pos : d.pos+end]
	d.pos += end + 1
	d.memorize(name)
	return name, nil
}

// template parses `name@args@` with its own back-reference scope.
func (d *demangler) template() (string, error) {
	saved := d.names
	d.names = nil
	defer func() { d.names = saved }()

	end := strings.IndexByte(d.input[d.pos:], '@')
	if end <= 0 {
		return "", ErrInvalidMangled
	}
	name := d.input[d.pos : d.pos+end]
	d.pos += end + 1
	d.memorize(name)

	var args []string
	for d.peek() != '@' {
		if d.peek() == 0 {
			return "", ErrUnexpectedEnd
		}
		a, err := d.templateArg()
		if err != nil {
			return "", err
		}
		args = append(args, a)
	}
	d.pos++

	s := name + "<" + strings.Join(args, ",")
	if strings.HasSuffix(s, ">") {
		s += " "
	}
	return s + ">", nil
}

func (d *demangler) templateArg() (string, error) {
	if strings.HasPrefix(d.input[d.pos:], "$0") {
		d.pos += 2
		v, err := d.number()
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(v, 10), nil
	}
	return d.typ()
}

var builtins = map[byte]string{
	'C': "signed char",
	'D': "char",
	'E': "unsigned char",
	'F': "short",
	'G': "unsigned short",
	'H': "int",
	'I': "unsigned int",
	'J': "long",
	'K': "unsigned long",
	'M': "float",
	'N': "double",
	'O': "long double",
	'X': "void",
}

var extBuiltins = map[byte]string{
	'J': "__int64",
	'K': "unsigned __int64",
	'N': "bool",
	'W': "wchar_t",
}

func (d *demangler) typ() (string, error) {
	c := d.peek()
	if c == 0 {
		return "", ErrUnexpectedEnd
	}
	d.pos++
	if s, ok := builtins[c]; ok {
		return s, nil
	}
	switch c {
	case '_':
		e := d.peek()
		d.pos++
		if s, ok := extBuiltins[e]; ok {
			return s, nil
		}
		return "", ErrUnsupported
	case 'U', 'V', 'T':
		// struct, class and union names appear bare in type records.
		return d.qualifiedName()
	case 'W':
		if d.peek() != '4' {
			return "", ErrUnsupported
		}
		d.pos++
		return d.qualifiedName()
	case 'P':
		if strings.HasPrefix(d.input[d.pos:], "EA") {
			d.pos += 2
		} else if d.peek() == 'A' {
			d.pos++
		} else {
			return "", ErrUnsupported
		}
		t, err := d.typ()
		if err != nil {
			return "", err
		}
		return t + " *", nil
	}
	return "", ErrUnsupported
}

// number decodes the MSVC integer encoding: digits 0-9 stand for 1-10,
// otherwise hex with A-P as digits terminated by '@'.
func (d *demangler) number() (int64, error) {
	neg := d.peek() == '?'
	if neg {
		d.pos++
	}
	c := d.peek()
	var v int64
	switch {
	case c >= '0' && c <= '9':
		d.pos++
		v = int64(c-'0') + 1
	default:
		for {
			c = d.peek()
			if c == '@' {
				d.pos++
				break
			}
			if c < 'A' || c > 'P' {
				return 0, ErrInvalidMangled
			}
			d.pos++
			v = v*16 + int64(c-'A')
		}
	}
	if neg {
		v = -v
	}
	return v, nil
}
