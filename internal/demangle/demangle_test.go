package demangle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVftable(t *testing.T) {
	tests := []struct {
		in    string
		class string
		base  string
	}{
		{"??_7Derived@@6B@", "Derived", ""},
		{"??_7Derived@app@@6BBase@@@", "app::Derived", "Base"},
		{"??_7Impl@detail@ns@@6BIface@1@@", "ns::detail::Impl", "detail::Iface"},
		{"??_7?$Box@H@@6B@", "Box<int>", ""},
		{"??_7?$Pair@VA@@VB@@@@6B@", "Pair<A,B>", ""},
		{"??_7?$Arr@H$0BA@@@6B@", "Arr<int,16>", ""},
		{"??_7?$Outer@V?$Inner@H@@@@6B@", "Outer<Inner<int> >", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			vt, err := ParseVftable(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.class, vt.Class)
			assert.Equal(t, tt.base, vt.Base)
		})
	}
}

func TestParseVftableRejects(t *testing.T) {
	_, err := ParseVftable("")
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = ParseVftable("??_R4Derived@@6B@")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = ParseVftable("??_7Derived@@")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = ParseVftable("??_7Derived")
	assert.ErrorIs(t, err, ErrUnexpectedEnd)
}

func TestDemangle(t *testing.T) {
	assert.Equal(t, "Derived::`vftable'", DemangleSimple("??_7Derived@@6B@"))
	assert.Equal(t, "g_count", DemangleSimple("g_count"))
	assert.Equal(t, "ns::value", DemangleSimple("?value@ns@@3HA"))
	assert.True(t, IsMangled("?value@ns@@3HA"))
	assert.False(t, IsMangled("main"))
}
