package doc

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalScalars(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"bool", Bool(false), "false"},
		{"null", Null{}, "null"},
		{"go nil", nil, "null"},
		{"float", Float(9.99), "9.99"},
		{"go float", 0.5, "0.5"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"go string", "hello", `"hello"`},
		{"go int", 7, "7"},
		{"go slice", []any{int64(1), "two", true}, `[1,"two",true]`},
		{"go map", map[string]any{"b": int64(1), "a": "x"}, `{"a":"x","b":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalTime(t *testing.T) {
	ts := time.Date(2000, 1, 1, 3, 0, 0, 0, time.FixedZone("X", 3600))

	result, err := MarshalCanonical(NewTime(ts))
	require.NoError(t, err)
	assert.Equal(t, `{"$time":"2000-01-01T02:00:00Z"}`, string(result))

	// A raw time.Time renders the same way.
	raw, err := MarshalCanonical(ts)
	require.NoError(t, err)
	assert.Equal(t, result, raw)
}

func TestMarshalCanonicalSortsKeysByUTF16(t *testing.T) {
	obj := Object{
		"z":          Object{"b": Int(1), "a": Int(2)},
		"a":          Int(3),
		"\uE000":     Int(4),
		"\U00010000": Int(5), // surrogate pair 0xD800 sorts before 0xE000
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":3,\"z\":{\"a\":2,\"b\":1},\"\U00010000\":5,\"\uE000\":4}", string(result))
}

func TestMarshalCanonicalRejects(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"nan", Float(math.NaN()), "not finite"},
		{"infinity", Float(math.Inf(1)), "not finite"},
		{"go infinity", math.Inf(-1), "not finite"},
		{"nested nan", Object{"a": Array{Float(math.NaN())}}, "not finite"},
		{"unsupported", struct{}{}, "unsupported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalCanonical(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// Expected strings follow the number serialization samples of RFC 8785
// Appendix B.
func TestMarshalCanonicalFloats(t *testing.T) {
	tests := []struct {
		input    float64
		expected string
	}{
		{0, "0"},
		{math.Copysign(0, -1), "0"},
		{1, "1"},
		{-1.5, "-1.5"},
		{9.99, "9.99"},
		{0.1 + 0.2, "0.30000000000000004"},
		{1e-6, "0.000001"},
		{1e-7, "1e-7"},
		{1.5e-7, "1.5e-7"},
		{1e20, "100000000000000000000"},
		{1e21, "1e+21"},
		{1e+100, "1e+100"},
		{-5e-324, "-5e-324"},
		{math.MaxFloat64, "1.7976931348623157e+308"},
		{333333333.33333329, "333333333.3333333"},
		{9007199254740992, "9007199254740992"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result, err := MarshalCanonical(Float(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNumbersRoundTrip(t *testing.T) {
	inputs := []string{
		`{"price":9.99,"ratio":-0.125,"tiny":1e-7,"huge":1e+21,"big":1e20,"note":null}`,
		`[1.0,2.50,1E3,0.1]`,
	}

	for _, input := range inputs {
		first, err := ParseValue([]byte(input))
		require.NoError(t, err)
		canonical, err := MarshalCanonical(first)
		require.NoError(t, err)

		second, err := ParseValue(canonical)
		require.NoError(t, err)
		again, err := MarshalCanonical(second)
		require.NoError(t, err)
		assert.Equal(t, string(canonical), string(again))
	}

	arr, err := ParseValue([]byte(`[1.0,2.50,1E3,0.1]`))
	require.NoError(t, err)
	canonical, err := MarshalCanonical(arr)
	require.NoError(t, err)
	assert.Equal(t, `[1,2.5,1000,0.1]`, string(canonical))
}

func TestDocumentHashStableForFloatsAndNull(t *testing.T) {
	a := NewDocument("item", O("price", Float(9.99)), O("note", Null{}))
	require.NoError(t, a.Validate())

	parsed, err := ParseValue([]byte(`{"note":null,"price":9.990}`))
	require.NoError(t, err)
	b := Document{ID: "item", Attrs: parsed.(Object)}

	assert.Equal(t, MustDocumentHash(a), MustDocumentHash(b))
	assert.True(t, a.Equal(b))

	// An absent attribute is a different document from a null one.
	c := NewDocument("item", O("price", Float(9.99)))
	assert.NotEqual(t, MustDocumentHash(a), MustDocumentHash(c))

	// Integral floats hash like the matching integer.
	assert.Equal(t,
		MustDocumentHash(NewDocument("item", O("n", Float(3)))),
		MustDocumentHash(NewDocument("item", O("n", Int(3)))))
}

func TestMarshalCanonicalStrings(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"html not escaped", "<b>a & b</b>", `"<b>a & b</b>"`},
		{"newline", "a\nb", `"a\nb"`},
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
		{"line separator literal", "a\u2028b\u2029c", "\"a\u2028b\u2029c\""},
		{"escaped backslash before u2028 text", `see \u2028`, `"see \\u2028"`},
		{"mixed", "x \\u2029 and \u2029", "\"x \\\\u2029 and \u2029\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(String(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNFC(t *testing.T) {
	composed, err := MarshalCanonical(Object{"caf\u00e9": String("caf\u00e9")})
	require.NoError(t, err)
	decomposed, err := MarshalCanonical(Object{"cafe\u0301": String("cafe\u0301")})
	require.NoError(t, err)

	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonicalIdempotent(t *testing.T) {
	values := []Value{
		String("hello"),
		Array{Int(1), String("two"), Bool(false)},
		Object{
			"born":   NewTime(time.Date(1881, 10, 25, 0, 0, 0, 0, time.UTC)),
			"nested": Object{"list": Array{Int(1), Int(2)}},
		},
	}

	for _, v := range values {
		first, err := MarshalCanonical(v)
		require.NoError(t, err)

		parsed, err := ParseValue(first)
		require.NoError(t, err)

		second, err := MarshalCanonical(parsed)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(second))
	}
}

func FuzzMarshalCanonicalIdempotent(f *testing.F) {
	f.Add(`{"a":1,"b":"test"}`)
	f.Add(`[1,2,3]`)
	f.Add(`{"$time":"2000-01-01T00:00:00Z"}`)
	f.Add(`{"nested":{"deep":{"value":123}}}`)

	f.Fuzz(func(t *testing.T, input string) {
		val, err := ParseValue([]byte(input))
		if err != nil {
			t.Skip()
		}
		first, err := MarshalCanonical(val)
		if err != nil {
			t.Skip()
		}
		val2, err := ParseValue(first)
		require.NoError(t, err)
		second, err := MarshalCanonical(val2)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}
