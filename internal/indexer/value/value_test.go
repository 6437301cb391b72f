package value

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 17, 10, 30, 0, 123456000, time.UTC)
	values := []Value{
		String("Report"),
		Bool(true),
		Bool(false),
		Int(0),
		Int(-42),
		Int(math.MaxInt32),
		Int(math.MinInt32),
		Long(0),
		Long(-1),
		Long(math.MaxInt64),
		Long(math.MinInt64),
		Float(3.5),
		Float(-0.25),
		Double(math.Pi),
		Double(-1e300),
		DateTime(now),
	}
	for _, v := range values {
		t.Run(v.Kind.String()+"/"+v.String(), func(t *testing.T) {
			decoded, err := Decode(v.Kind, v.Encode())
			require.NoError(t, err)
			assert.True(t, v.Equal(decoded), "got %v, want %v", decoded, v)
		})
	}
}

func TestEncodePreservesOrder(t *testing.T) {
	t.Run("long", func(t *testing.T) {
		nums := []int64{math.MinInt64, -1000, -1, 0, 1, 7, 1000, math.MaxInt64}
		assertSortedEncoding(t, nums, func(i int64) Value { return Long(i) })
	})
	t.Run("int", func(t *testing.T) {
		nums := []int32{math.MinInt32, -5, 0, 5, math.MaxInt32}
		assertSortedEncoding(t, nums, func(i int32) Value { return Int(i) })
	})
	t.Run("double", func(t *testing.T) {
		nums := []float64{math.Inf(-1), -1e10, -2.5, -0.0001, 0, 0.0001, 2.5, 1e10, math.Inf(1)}
		assertSortedEncoding(t, nums, func(f float64) Value { return Double(f) })
	})
	t.Run("float", func(t *testing.T) {
		nums := []float32{-100, -1.5, 0, 1.5, 100}
		assertSortedEncoding(t, nums, func(f float32) Value { return Float(f) })
	})
	t.Run("datetime", func(t *testing.T) {
		base := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
		times := []time.Time{base.AddDate(-100, 0, 0), base, base.Add(time.Second), base.AddDate(60, 0, 0)}
		assertSortedEncoding(t, times, DateTime)
	})
}

func assertSortedEncoding[T any](t *testing.T, ordered []T, mk func(T) Value) {
	t.Helper()
	encoded := make([]string, len(ordered))
	for i, n := range ordered {
		encoded[i] = mk(n).Encode()
	}
	assert.True(t, sort.StringsAreSorted(encoded), "encoded terms out of order: %v", encoded)
}

func TestDecodeRejectsMalformedTerms(t *testing.T) {
	_, err := Decode(KindLong, "12")
	assert.Error(t, err)
	_, err = Decode(KindInt, "zzzzzzzz")
	assert.Error(t, err)
	_, err = Decode(KindBool, "maybe")
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	v, err := Parse(KindInt, " 12 ")
	require.NoError(t, err)
	assert.Equal(t, Int(12), v)

	v, err = Parse(KindBool, "yes")
	require.NoError(t, err)
	assert.True(t, v.Bool)

	v, err = Parse(KindDateTime, "2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, 2024, v.Time.Year())

	_, err = Parse(KindLong, "abc")
	assert.Error(t, err)

	k, err := ParseKind("Double")
	require.NoError(t, err)
	assert.Equal(t, KindDouble, k)
}
