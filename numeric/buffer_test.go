package numeric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillAndAllEqual(t *testing.T) {
	buf := NewBuffer(Float64, []int{3, 5})
	buf.Fill(FloatValue(Float64, 2.5))
	for _, v := range buf.Float64s() {
		assert.Equal(t, 2.5, v)
	}
	assert.True(t, buf.AllEqual(FloatValue(Float64, 2.5)))
	buf.Float64s()[7] = 1
	assert.False(t, buf.AllEqual(FloatValue(Float64, 2.5)))
}

func TestFillNaNCompares(t *testing.T) {
	buf := NewBuffer(Float64, []int{4})
	buf.Fill(FloatValue(Float64, math.NaN()))
	assert.True(t, buf.AllEqual(FloatValue(Float64, math.NaN())))
}

func TestCopyRegion(t *testing.T) {
	src := NewBuffer(Int32, []int{4, 4})
	vals := src.Int32s()
	for i := range vals {
		vals[i] = int32(i)
	}
	dst := NewBuffer(Int32, []int{2, 2})
	require.NoError(t, CopyRegion(dst, []int{0, 0}, src, []int{1, 1}, []int{2, 2}))
	assert.Equal(t, []int32{5, 6, 9, 10}, dst.Int32s())
}

func TestCopyRegionBoundsChecked(t *testing.T) {
	src := NewBuffer(Int32, []int{4})
	dst := NewBuffer(Int32, []int{4})
	assert.Error(t, CopyRegion(dst, []int{3}, src, []int{0}, []int{2}))
	assert.Error(t, CopyRegion(dst, []int{0}, src, []int{-1}, []int{2}))
}

func TestRegionAndFillRegion(t *testing.T) {
	buf := NewBuffer(Float32, []int{4, 4})
	buf.Fill(FloatValue(Float32, 1))
	require.NoError(t, buf.FillRegion([]int{1, 1}, []int{2, 2}, FloatValue(Float32, 9)))

	region, err := buf.Region([]int{1, 1}, []int{2, 2})
	require.NoError(t, err)
	assert.True(t, region.AllEqual(FloatValue(Float32, 9)))
	assert.Equal(t, float32(1), buf.Float32s()[0])
}

func TestFromSliceAndConvert(t *testing.T) {
	buf, err := FromSlice([]int{2, 3}, []int32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, Int32, buf.Type())

	converted, err := buf.Convert(Int64)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, converted.Int64s())

	_, err = buf.Convert(Int16)
	assert.Error(t, err)

	_, err = FromSlice([]int{2, 2}, []int32{1, 2, 3})
	assert.Error(t, err)
}

func TestConvertibleMatrix(t *testing.T) {
	assert.True(t, Int8.ConvertibleTo(Float32))
	assert.True(t, Int32.ConvertibleTo(Float64))
	assert.False(t, Int32.ConvertibleTo(Float32))
	assert.False(t, Int64.ConvertibleTo(Float64))
	assert.True(t, Float32.ConvertibleTo(Complex64))
	assert.False(t, Float64.ConvertibleTo(Complex64))
	assert.True(t, Complex64.ConvertibleTo(Complex128))
}

func TestValueJSONRoundTrip(t *testing.T) {
	cases := []Value{
		IntValue(Int64, -42),
		FloatValue(Float64, 3.25),
		FloatValue(Float64, math.NaN()),
		FloatValue(Float64, math.Inf(1)),
		ComplexValue(Complex128, complex(1, -2)),
	}
	for _, v := range cases {
		restored, err := ValueFromJSON(v.Type(), v.JSON())
		require.NoError(t, err)
		assert.True(t, v.Equal(restored), "value %v", v.JSON())
	}
}

func TestReshapeSharesData(t *testing.T) {
	buf := NewBuffer(Int16, []int{2, 3})
	buf.Int16s()[0] = 7
	flat, err := buf.Reshape([]int{6})
	require.NoError(t, err)
	assert.Equal(t, int16(7), flat.Int16s()[0])

	_, err = buf.Reshape([]int{4})
	assert.Error(t, err)
}
