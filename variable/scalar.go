package variable

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"math/bits"
)

// Int128 is a signed 128-bit integer read as two 64-bit halves.
type Int128 struct {
	Lo uint64
	Hi int64
}

func (v Int128) Big() *big.Int {
	hi := big.NewInt(v.Hi)
	hi.Lsh(hi, 64)
	return hi.Add(hi, new(big.Int).SetUint64(v.Lo))
}

func (v Int128) String() string { return v.Big().String() }

// Uint128 is an unsigned 128-bit integer read as two 64-bit halves.
type Uint128 struct {
	Lo, Hi uint64
}

func (v Uint128) Big() *big.Int {
	hi := new(big.Int).SetUint64(v.Hi)
	hi.Lsh(hi, 64)
	return hi.Or(hi, new(big.Int).SetUint64(v.Lo))
}

func (v Uint128) String() string { return v.Big().String() }

// Float80 is an x87 extended precision value in memory order: a 64-bit
// significand with an explicit integer bit followed by the sign and a
// 15-bit exponent.
type Float80 [10]byte

const float80Bias = 16383

func (f Float80) parts() (neg bool, exp uint16, mant uint64) {
	mant = binary.LittleEndian.Uint64(f[:8])
	se := binary.LittleEndian.Uint16(f[8:])
	return se&0x8000 != 0, se & 0x7fff, mant
}

// IsNaN reports whether f is not a number.
func (f Float80) IsNaN() bool {
	_, exp, mant := f.parts()
	return exp == 0x7fff && mant<<1 != 0
}

// Big returns the exact value of f. It returns nil for NaN.
func (f Float80) Big() *big.Float {
	neg, exp, mant := f.parts()
	if exp == 0x7fff {
		if mant<<1 != 0 {
			return nil
		}
		return new(big.Float).SetInf(neg)
	}
	e := int(exp) - float80Bias - 63
	if exp == 0 {
		// denormal
		e = 1 - float80Bias - 63
	}
	v := new(big.Float).SetPrec(64).SetUint64(mant)
	v.SetMantExp(v, e)
	if neg {
		v.Neg(v)
	}
	return v
}

// Float64 rounds f to the nearest float64.
func (f Float80) Float64() float64 {
	b := f.Big()
	if b == nil {
		return math.NaN()
	}
	v, _ := b.Float64()
	return v
}

func (f Float80) String() string {
	b := f.Big()
	if b == nil {
		return "NaN"
	}
	return b.Text('g', 21)
}

// NewFloat80 encodes v in extended precision.
func NewFloat80(v float64) Float80 {
	var f Float80
	raw := math.Float64bits(v)
	sign := uint16(raw>>48) & 0x8000
	exp := int(raw>>52) & 0x7ff
	frac := raw & (1<<52 - 1)

	var se uint16
	var mant uint64
	switch {
	case exp == 0x7ff:
		se, mant = 0x7fff, 1<<63|frac<<11
	case exp == 0 && frac == 0:
	case exp == 0:
		// float64 denormals are normal in extended precision
		lz := bits.LeadingZeros64(frac)
		se, mant = uint16(float80Bias+63-1074-lz), frac<<lz
	default:
		se, mant = uint16(exp-1023+float80Bias), 1<<63|frac<<11
	}
	binary.LittleEndian.PutUint64(f[:8], mant)
	binary.LittleEndian.PutUint16(f[8:], se|sign)
	return f
}

// decodeFloat converts raw little-endian bytes of a float kind.
func decodeFloat(b []byte) (any, error) {
	switch len(b) {
	case 4:
		return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
	case 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case 10:
		return Float80(b), nil
	}
	return nil, fmt.Errorf("variable: no float of %d bytes", len(b))
}
