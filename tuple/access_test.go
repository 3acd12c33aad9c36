package tuple

import (
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScalarAccess(t *testing.T) {
	tup, err := Make("scalars",
		ScalarField{Int8, "i8"},
		ScalarField{UInt8, "u8"},
		ScalarField{Int16, "i16"},
		ScalarField{UInt16, "u16"},
		ScalarField{Int32, "i32"},
		ScalarField{UInt32, "u32"},
		ScalarField{Int64, "i64"},
		ScalarField{UInt64, "u64"},
		ScalarField{Float32, "f32"},
		ScalarField{Float64, "f64"},
		ScalarField{Pointer, "ptr"},
	)
	assert.NoError(t, err)

	Put(tup, 0, int8(math.MinInt8))
	Put(tup, 1, uint8(math.MaxUint8))
	Put(tup, 2, int16(math.MinInt16))
	Put(tup, 3, uint16(math.MaxUint16))
	Put(tup, 4, int32(math.MinInt32))
	Put(tup, 5, uint32(math.MaxUint32))
	Put(tup, 6, int64(math.MinInt64))
	Put(tup, 7, uint64(math.MaxUint64))
	Put(tup, 8, float32(math.MaxFloat32))
	Put(tup, 9, math.MaxFloat64)
	Put(tup, 10, uintptr(0xcafe))

	assert.Equal(t, int8(math.MinInt8), Get[int8](tup, 0))
	assert.Equal(t, uint8(math.MaxUint8), Get[uint8](tup, 1))
	assert.Equal(t, int16(math.MinInt16), Get[int16](tup, 2))
	assert.Equal(t, uint16(math.MaxUint16), Get[uint16](tup, 3))
	assert.Equal(t, int32(math.MinInt32), Get[int32](tup, 4))
	assert.Equal(t, uint32(math.MaxUint32), Get[uint32](tup, 5))
	assert.Equal(t, int64(math.MinInt64), Get[int64](tup, 6))
	assert.Equal(t, uint64(math.MaxUint64), Get[uint64](tup, 7))
	assert.Equal(t, float32(math.MaxFloat32), Get[float32](tup, 8))
	assert.Equal(t, math.MaxFloat64, Get[float64](tup, 9))
	assert.Equal(t, uintptr(0xcafe), Get[uintptr](tup, 10))
}

func TestAccessContract(t *testing.T) {
	tup, err := Make("contract",
		ScalarField{UInt8, "u8"},
		ArrayField{Int32, "arr", 3},
		TextField{"text", 4},
		TextArrayField{"texts", 3, 2},
	)
	assert.NoError(t, err)

	tt := []struct {
		Name string
		Call func()
	}{
		{"field index too large", func() { Get[uint8](tup, 4) }},
		{"negative field index", func() { Put(tup, -1, uint8(1)) }},
		{"scalar kind mismatch", func() { Get[int32](tup, 0) }},
		{"scalar on array", func() { Get[int32](tup, 1) }},
		{"array on scalar", func() { GetArray[uint8](tup, 0) }},
		{"array length mismatch", func() { PutArray(tup, 1, []int32{1, 2}) }},
		{"array index too large", func() { GetAt[int32](tup, 1, 3) }},
		{"negative array index", func() { PutAt(tup, 1, -1, int32(0)) }},
		{"text on scalar", func() { tup.Text(0) }},
		{"text on text array", func() { tup.Text(3) }},
		{"text too long", func() { tup.PutText(2, "abcd") }},
		{"text array element too long", func() { tup.PutTextAt(3, 0, "abc") }},
		{"text array index too large", func() { tup.TextAt(3, 2) }},
		{"numeric on text", func() { Get[uint8](tup, 2) }},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			assert.Panics(t, tc.Call)
		})
	}

	t.Run("access error value", func(t *testing.T) {
		defer func() {
			err, ok := recover().(*AccessError)
			if assert.True(t, ok) {
				assert.Equal(t, 2, err.Field)
				assert.Equal(t, "text", err.Name)
				assert.Contains(t, err.Error(), "capacity 4")
			}
		}()
		tup.PutText(2, "toolong")
	})
}

func TestArrayAccess(t *testing.T) {
	tup, err := Make("arrays",
		ArrayField{Int16, "i16", 4},
		ArrayField{Float32, "f32", 2},
		ArrayField{UInt8, "bytes", 3},
	)
	assert.NoError(t, err)

	PutArray(tup, 0, []int16{-1, 2, -3, 4})
	PutArray(tup, 1, []float32{0.5, -0.25})
	PutAt(tup, 2, 1, uint8(7))

	assert.Equal(t, []int16{-1, 2, -3, 4}, GetArray[int16](tup, 0))
	assert.Equal(t, int16(-3), GetAt[int16](tup, 0, 2))
	assert.Equal(t, []float32{0.5, -0.25}, GetArray[float32](tup, 1))
	assert.Equal(t, []uint8{0, 7, 0}, GetArray[uint8](tup, 2))

	// the returned slice is a copy
	values := GetArray[int16](tup, 0)
	values[0] = 100
	assert.Equal(t, int16(-1), GetAt[int16](tup, 0, 0))

	PutAt(tup, 0, 3, int16(40))
	assert.Equal(t, []int16{-1, 2, -3, 40}, GetArray[int16](tup, 0))
}

func TestTextAccess(t *testing.T) {
	tup, err := Make("texts",
		TextField{"b", 8},
		TextArrayField{"names", 4, 3},
	)
	assert.NoError(t, err)

	assert.Equal(t, "", tup.Text(0))
	tup.PutText(0, "hi")
	assert.Equal(t, "hi", tup.Text(0))
	tup.PutText(0, "1234567")
	assert.Equal(t, "1234567", tup.Text(0))
	tup.PutText(0, "x")
	assert.Equal(t, "x", tup.Text(0))

	for j, s := range []string{"x", "yy", "zzz"} {
		tup.PutTextAt(1, j, s)
	}
	assert.Equal(t, "x", tup.TextAt(1, 0))
	assert.Equal(t, "yy", tup.TextAt(1, 1))
	assert.Equal(t, "zzz", tup.TextAt(1, 2))

	t.Run("missing terminator", func(t *testing.T) {
		// write the full capacity without a terminator through the buffer
		tup.buf.Put(0, []byte("abcdefgh"))
		assert.Equal(t, "abcdefg", tup.Text(0))
		tup.buf.Put(8, []byte("wxyz"))
		assert.Equal(t, "wxy", tup.TextAt(1, 0))
		assert.Equal(t, "yy", tup.TextAt(1, 1))
	})
}

func TestCloneReset(t *testing.T) {
	tup, err := Make("clone", ScalarField{Int32, "a"}, TextField{"b", 8})
	assert.NoError(t, err)
	Put(tup, 0, int32(42))
	tup.PutText(1, "hi")

	clone := tup.Clone()
	assert.True(t, clone.Schema() == tup.Schema())
	Put(clone, 0, int32(7))
	assert.Equal(t, int32(42), Get[int32](tup, 0))
	assert.Equal(t, "hi", clone.Text(1))

	tup.Reset()
	assert.Equal(t, int32(0), Get[int32](tup, 0))
	assert.Equal(t, "", tup.Text(1))
}

func TestString(t *testing.T) {
	tup, err := Make("rec",
		ScalarField{Int32, "a"},
		TextField{"b", 8},
		ArrayField{Float64, "c", 2},
		TextArrayField{"d", 4, 2},
	)
	assert.NoError(t, err)
	Put(tup, 0, int32(-5))
	tup.PutText(1, "hi")
	PutArray(tup, 2, []float64{1.5, 2})
	tup.PutTextAt(3, 1, "yo")
	assert.Equal(t, `rec{a=-5, b="hi", c=[1.5 2], d=["" "yo"]}`, tup.String())
	assert.True(t, strings.HasPrefix(tup.Dump(), "00000000  "))
	assert.Contains(t, tup.Dump(), " 68 69 00 ")
}

func TestConcurrentAccess(t *testing.T) {
	tup, err := Make("counter", ArrayField{Int64, "slots", 8})
	assert.NoError(t, err)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				PutAt(tup, 0, w, int64(i))
				_ = GetArray[int64](tup, 0)
			}
		}(w)
	}
	wg.Wait()
	for w := 0; w < 8; w++ {
		assert.Equal(t, int64(999), GetAt[int64](tup, 0, w))
	}
}
