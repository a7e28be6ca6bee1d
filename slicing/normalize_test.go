package slicing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowflk/gridstore/errs"
)

func testDims() []Dim {
	return []Dim{
		{Name: "t", Size: 24, Kind: Time,
			TimeStart: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			TimeStep:  time.Hour},
		{Name: "y", Size: 3, Kind: Scaled, Start: 90.0, Step: -1.0},
		{Name: "x", Size: 3, Kind: Scaled, Start: -180.0, Step: 1.0},
		{Name: "w", Size: 2, Kind: Labeled, Labels: []interface{}{"t", "h"}},
	}
}

func TestNormalizeFullRange(t *testing.T) {
	sel, err := Normalize(testDims(), []Indexer{Ellipsis()})
	require.NoError(t, err)
	assert.Equal(t, []int{24, 3, 3, 2}, sel.Shape())
	for i, b := range sel.Bounds {
		assert.Equal(t, 0, b.Lo)
		assert.Equal(t, testDims()[i].Size, b.Hi)
	}
}

func TestNormalizeMissingTrailingDims(t *testing.T) {
	sel, err := Normalize(testDims(), []Indexer{At(0)})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 2}, sel.Shape())
	assert.True(t, sel.Bounds[0].Collapsed)
}

func TestNormalizeEllipsisInMiddle(t *testing.T) {
	sel, err := Normalize(testDims(), []Indexer{At(1), Ellipsis(), At(0)})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3}, sel.Shape())
	assert.Equal(t, Bound{Lo: 1, Hi: 2, Collapsed: true}, sel.Bounds[0])
	assert.Equal(t, Bound{Lo: 0, Hi: 1, Collapsed: true}, sel.Bounds[3])
}

func TestDoubleEllipsisRejected(t *testing.T) {
	_, err := Normalize(testDims(), []Indexer{Ellipsis(), At(0), Ellipsis()})
	assert.ErrorIs(t, err, errs.ErrIndex)
}

func TestStepRejected(t *testing.T) {
	_, err := Normalize(testDims(), []Indexer{StepRange(0, 10, 2)})
	assert.ErrorIs(t, err, errs.ErrIndex)

	sel, err := Normalize(testDims(), []Indexer{StepRange(0, 10, 1)})
	require.NoError(t, err)
	assert.Equal(t, Bound{Lo: 0, Hi: 10}, sel.Bounds[0])
}

func TestNegativeIndexes(t *testing.T) {
	dims := []Dim{{Name: "x", Size: 5}}

	sel, err := Normalize(dims, []Indexer{At(-5)})
	require.NoError(t, err)
	assert.Equal(t, Bound{Lo: 0, Hi: 1, Collapsed: true}, sel.Bounds[0])

	_, err = Normalize(dims, []Indexer{At(-6)})
	assert.ErrorIs(t, err, errs.ErrIndex)

	_, err = Normalize(dims, []Indexer{At(5)})
	assert.ErrorIs(t, err, errs.ErrIndex)
}

func TestRangeClamping(t *testing.T) {
	dims := []Dim{{Name: "x", Size: 5}}
	sel, err := Normalize(dims, []Indexer{Range(-2, 100)})
	require.NoError(t, err)
	assert.Equal(t, Bound{Lo: 3, Hi: 5}, sel.Bounds[0])

	sel, err = Normalize(dims, []Indexer{Range(4, 2)})
	require.NoError(t, err)
	assert.Equal(t, 0, sel.Bounds[0].Len())
}

func TestScaleValues(t *testing.T) {
	dims := testDims()

	sel, err := Normalize(dims, []Indexer{All(), Value(89.0)})
	require.NoError(t, err)
	assert.Equal(t, Bound{Lo: 1, Hi: 2, Collapsed: true}, sel.Bounds[1])

	// Descending scale: 90, 89, 88 with the exclusive edge at 87.
	sel, err = Normalize(dims, []Indexer{All(), ValueRange(90.0, 87.0)})
	require.NoError(t, err)
	assert.Equal(t, Bound{Lo: 0, Hi: 3}, sel.Bounds[1])

	_, err = Normalize(dims, []Indexer{All(), Value(89.5)})
	assert.ErrorIs(t, err, errs.ErrIndex)

	_, err = Normalize(dims, []Indexer{All(), Value(91.0)})
	assert.ErrorIs(t, err, errs.ErrIndex)
}

func TestScaleMisalignmentTolerance(t *testing.T) {
	dims := []Dim{{Name: "x", Size: 10, Kind: Scaled, Start: 0, Step: 0.25}}

	// Within half an ulp of the step the value still resolves.
	sel, err := Normalize(dims, []Indexer{Value(0.25)})
	require.NoError(t, err)
	assert.Equal(t, 1, sel.Bounds[0].Lo)

	_, err = Normalize(dims, []Indexer{Value(0.26)})
	assert.ErrorIs(t, err, errs.ErrIndex)
}

func TestLabels(t *testing.T) {
	dims := testDims()

	sel, err := Normalize(dims, []Indexer{All(), All(), All(), Label("h")})
	require.NoError(t, err)
	assert.Equal(t, Bound{Lo: 1, Hi: 2, Collapsed: true}, sel.Bounds[3])

	sel, err = Normalize(dims, []Indexer{All(), All(), All(), LabelRange("t", "h")})
	require.NoError(t, err)
	assert.Equal(t, Bound{Lo: 0, Hi: 1}, sel.Bounds[3])

	_, err = Normalize(dims, []Indexer{All(), All(), All(), Label("missing")})
	assert.ErrorIs(t, err, errs.ErrIndex)
}

func TestTimeIndexing(t *testing.T) {
	dims := testDims()

	sel, err := Normalize(dims, []Indexer{Moment("2023-01-01T05:00:00")})
	require.NoError(t, err)
	assert.Equal(t, Bound{Lo: 5, Hi: 6, Collapsed: true}, sel.Bounds[0])

	// A non-UTC input normalizes to UTC before lookup.
	berlin := time.FixedZone("CET", 3600)
	sel, err = Normalize(dims, []Indexer{TimeAt(time.Date(2023, 1, 1, 6, 0, 0, 0, berlin))})
	require.NoError(t, err)
	assert.Equal(t, 5, sel.Bounds[0].Lo)

	sel, err = Normalize(dims, []Indexer{MomentRange("2023-01-01T00:00:00", "2023-01-01T06:00:00")})
	require.NoError(t, err)
	assert.Equal(t, Bound{Lo: 0, Hi: 6}, sel.Bounds[0])

	_, err = Normalize(dims, []Indexer{Moment("2023-01-01T05:30:00")})
	assert.ErrorIs(t, err, errs.ErrIndex)

	_, err = Normalize(dims, []Indexer{Moment("2024-01-01T00:00:00")})
	assert.ErrorIs(t, err, errs.ErrIndex)
}

func TestDescribeDeterministic(t *testing.T) {
	dims := testDims()
	sel, err := Normalize(dims, []Indexer{Range(0, 2), Value(89.0), All(), Label("h")})
	require.NoError(t, err)

	first := sel.Describe()
	second := sel.Describe()
	assert.Equal(t, first, second)

	assert.Equal(t, []interface{}{
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 1, 1, 0, 0, 0, time.UTC),
	}, first[0].Values)
	assert.Equal(t, []interface{}{89.0}, first[1].Values)
	assert.Equal(t, []interface{}{-180.0, -179.0, -178.0}, first[2].Values)
	assert.Equal(t, []interface{}{"h"}, first[3].Values)
}

func TestBoundsWithinSize(t *testing.T) {
	dims := testDims()
	exprs := [][]Indexer{
		{Ellipsis()},
		{At(0), Range(0, 2)},
		{MomentRange("2023-01-01T00:00:00", "2023-01-02T00:00:00")},
		{Range(-100, 100), ValueRange(90.0, 88.0)},
	}
	for _, expr := range exprs {
		sel, err := Normalize(dims, expr)
		require.NoError(t, err)
		for i, b := range sel.Bounds {
			assert.GreaterOrEqual(t, b.Lo, 0)
			assert.LessOrEqual(t, b.Lo, b.Hi)
			assert.LessOrEqual(t, b.Hi, dims[i].Size)
		}
	}
}
