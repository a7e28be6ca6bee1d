package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/numeric"
)

func weatherDims() []DimensionSchema {
	return []DimensionSchema{
		TimeDimAttr("dt", 24, "$dt", time.Hour),
		ScaledDim("y", 3, 90.0, -1.0),
		ScaledDim("x", 3, -180.0, 1.0),
		LabeledDim("w", 2, "t", "h"),
	}
}

func weatherAttrs() []AttributeSchema {
	return []AttributeSchema{{Name: "dt", Kind: AttrDatetime, Primary: true}}
}

func TestArraySchemaValid(t *testing.T) {
	s, err := NewArraySchema(numeric.Float64, weatherDims(), weatherAttrs(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{24, 3, 3, 2}, s.Shape())
	assert.Equal(t, 24*3*3*2*8, s.Bytes())
	assert.Len(t, s.PrimaryAttributes(), 1)
}

func TestSchemaValidation(t *testing.T) {
	_, err := NewArraySchema(numeric.Float64, nil, nil, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = NewArraySchema(numeric.Float64,
		[]DimensionSchema{Dim("", 4)}, nil, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = NewArraySchema(numeric.Float64,
		[]DimensionSchema{Dim("x", 0)}, nil, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = NewArraySchema(numeric.Float64,
		[]DimensionSchema{Dim("x", 4), Dim("x", 4)}, nil, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = NewArraySchema(numeric.Float64,
		[]DimensionSchema{ScaledDim("x", 4, 0, 0)}, nil, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = NewArraySchema(numeric.Float64,
		[]DimensionSchema{LabeledDim("x", 3, "a", "b")}, nil, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = NewArraySchema(numeric.Float64,
		[]DimensionSchema{LabeledDim("x", 2, "a", "a")}, nil, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	// Time dimension referencing a missing or non-datetime attribute.
	_, err = NewArraySchema(numeric.Float64,
		[]DimensionSchema{TimeDimAttr("t", 4, "$nope", time.Hour)}, nil, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = NewArraySchema(numeric.Float64,
		[]DimensionSchema{TimeDimAttr("t", 4, "$k", time.Hour)},
		[]AttributeSchema{{Name: "k", Kind: AttrString, Primary: true}}, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	// Integer dtypes need an explicit fill value.
	_, err = NewArraySchema(numeric.Int32,
		[]DimensionSchema{Dim("x", 4)}, nil, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	fill := numeric.IntValue(numeric.Int32, -1)
	_, err = NewArraySchema(numeric.Int32,
		[]DimensionSchema{Dim("x", 4)}, nil, &fill)
	assert.NoError(t, err)

	// Reserved attribute names are refused.
	_, err = NewArraySchema(numeric.Float64,
		[]DimensionSchema{Dim("x", 4)},
		[]AttributeSchema{{Name: "vid", Kind: AttrString, Primary: true}}, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestVArraySchemaGrid(t *testing.T) {
	s, err := NewVArraySchema(numeric.Float64, weatherDims(), weatherAttrs(), nil,
		GridSpec{VGrid: []int{2, 1, 3, 1}})
	require.NoError(t, err)
	assert.Equal(t, []int{12, 3, 1, 2}, s.ArraysShape())
	assert.Equal(t, 6, s.Tiles())

	// The grid given as a tile shape stores canonically as vgrid.
	s, err = NewVArraySchema(numeric.Float64, weatherDims(), weatherAttrs(), nil,
		GridSpec{ArraysShape: []int{12, 3, 1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 3, 1}, s.VGrid)

	// vgrid x arrays_shape x shape stay consistent.
	total := 1
	for _, g := range s.VGrid {
		total *= g
	}
	cells := 1
	for _, a := range s.ArraysShape() {
		cells *= a
	}
	assert.Equal(t, numeric.Elements(s.Shape()), total*cells)
}

func TestVArraySchemaGridErrors(t *testing.T) {
	_, err := NewVArraySchema(numeric.Float64, weatherDims(), weatherAttrs(), nil,
		GridSpec{VGrid: []int{2, 1, 3, 1}, ArraysShape: []int{12, 3, 1, 2}})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = NewVArraySchema(numeric.Float64, weatherDims(), weatherAttrs(), nil, GridSpec{})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = NewVArraySchema(numeric.Float64, weatherDims(), weatherAttrs(), nil,
		GridSpec{VGrid: []int{5, 1, 1, 1}})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = NewVArraySchema(numeric.Float64, weatherDims(), weatherAttrs(), nil,
		GridSpec{VGrid: []int{2, 1}})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestManifestRoundTrip(t *testing.T) {
	s, err := NewVArraySchema(numeric.Float64, weatherDims(), weatherAttrs(), nil,
		GridSpec{VGrid: []int{2, 1, 3, 1}})
	require.NoError(t, err)
	in := &Manifest{
		Name:   "weather",
		VArray: s,
		Options: StorageOptions{
			Chunks:      &ChunkSpec{Shape: []int{12, 3, 1, 2}},
			Compression: &CompressionSpec{Filter: "xz", Level: 3},
		},
		Version: ManifestVersion,
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Manifest
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "weather", out.Name)
	require.True(t, out.IsVArray())
	assert.Equal(t, []int{2, 1, 3, 1}, out.VArray.VGrid)
	assert.Equal(t, in.Options.Chunks.Shape, out.Options.Chunks.Shape)
	assert.Equal(t, "xz", out.Options.Compression.Filter)
	assert.Equal(t, "$dt", "$"+out.Schema().Dimensions[0].Time.StartAttr)
	assert.Equal(t, time.Hour, out.Schema().Dimensions[0].Time.Step)
	assert.Equal(t, []interface{}{"t", "h"}, out.Schema().Dimensions[3].Labels)
}

func TestManifestChunksVariants(t *testing.T) {
	s, err := NewArraySchema(numeric.Float64,
		[]DimensionSchema{Dim("x", 8)}, nil, nil)
	require.NoError(t, err)

	for _, chunks := range []*ChunkSpec{nil, {Auto: true}, {Shape: []int{4}}} {
		in := &Manifest{Name: "c", Array: s, Options: StorageOptions{Chunks: chunks}, Version: 1}
		data, err := json.Marshal(in)
		require.NoError(t, err)
		var out Manifest
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, chunks, out.Options.Chunks)
	}
}

func TestResolveDims(t *testing.T) {
	s, err := NewArraySchema(numeric.Float64, weatherDims(), weatherAttrs(), nil)
	require.NoError(t, err)
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	dims, err := s.ResolveDims(map[string]interface{}{"dt": start})
	require.NoError(t, err)
	assert.Equal(t, start, dims[0].TimeStart)
	assert.Equal(t, time.Hour, dims[0].TimeStep)

	_, err = s.ResolveDims(map[string]interface{}{})
	assert.ErrorIs(t, err, errs.ErrValidation)
}
