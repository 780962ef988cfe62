package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuantityString(t *testing.T) {
	cases := []struct {
		in   string
		want Quantity
	}{
		{"0", 0},
		{"12", NewQuantityFromInt(12)},
		{"-3", NewQuantityFromInt(-3)},
		{"+7", NewQuantityFromInt(7)},
		{"2.5", NewQuantityFromInt64Scaled(25_000)},
		{"0.0001", NewQuantityFromInt64Scaled(1)},
		{".5", NewQuantityFromInt64Scaled(5_000)},
		{"1.23456", NewQuantityFromInt64Scaled(12_345)}, // extra digits truncated
		{" 4 ", NewQuantityFromInt(4)},
	}
	for _, tc := range cases {
		got, err := parseQuantityString(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseQuantityStringRejectsExponentForms(t *testing.T) {
	for _, in := range []string{"1e2", "1E2", "1.5e-3", "2e0"} {
		_, err := parseQuantityString(in)
		assert.Error(t, err, in)
	}
}

func TestParseQuantityStringRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "1.2.3", "1,5"} {
		_, err := parseQuantityString(in)
		assert.Error(t, err, in)
	}
}

func TestQuantityJSONRoundTrip(t *testing.T) {
	q := NewQuantityFromInt64Scaled(1_234_567) // 123.4567
	b, err := json.Marshal(q)
	require.NoError(t, err)
	assert.Equal(t, "123.4567", string(b))

	var back Quantity
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, q, back)

	var fromString Quantity
	require.NoError(t, json.Unmarshal([]byte(`"123.4567"`), &fromString))
	assert.Equal(t, q, fromString)
}

func TestQuantityUnmarshalRejectsExponentNumber(t *testing.T) {
	var q Quantity
	assert.Error(t, json.Unmarshal([]byte(`1e4`), &q))
}
