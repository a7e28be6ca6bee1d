package slicing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowflk/gridstore/errs"
)

func TestFormatCanonical(t *testing.T) {
	expr := []Indexer{
		MomentRange("2023-01-01T00:00:00", "2023-02-01T00:00:00"),
		ValueRange(0.1, 0.9),
		At(3),
		All(),
		Label("h"),
	}
	assert.Equal(t,
		"[`2023-01-01T00:00:00`:`2023-02-01T00:00:00`, 0.1:0.9, 3, :, `h`]",
		Format(expr))
}

func TestParseRoundTrip(t *testing.T) {
	dims := []Dim{
		{Name: "t", Size: 24, Kind: Time,
			TimeStart: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			TimeStep:  time.Hour},
		{Name: "s", Size: 10, Kind: Scaled, Start: 0, Step: 0.1},
		{Name: "w", Size: 2, Kind: Labeled, Labels: []interface{}{"t", "h"}},
	}
	parsed, err := Parse("[`2023-01-01T02:00:00`:`2023-01-01T07:00:00`, 0.1:0.9, `h`]")
	require.NoError(t, err)
	sel, err := Normalize(dims, parsed)
	require.NoError(t, err)
	assert.Equal(t, Bound{Lo: 2, Hi: 7}, sel.Bounds[0])
	assert.Equal(t, Bound{Lo: 1, Hi: 9}, sel.Bounds[1])
	assert.Equal(t, Bound{Lo: 1, Hi: 2, Collapsed: true}, sel.Bounds[2])
}

func TestParseIntegersAndOpenRanges(t *testing.T) {
	parsed, err := Parse("[0:5, 3, :, ...]")
	require.NoError(t, err)
	require.Len(t, parsed, 4)
	assert.Equal(t, Range(0, 5), parsed[0])
	assert.Equal(t, At(3), parsed[1])
	assert.Equal(t, All(), parsed[2])
	assert.Equal(t, Ellipsis(), parsed[3])
}

func TestParseRejectsStep(t *testing.T) {
	_, err := Parse("[0:10:2]")
	assert.ErrorIs(t, err, errs.ErrIndex)
}

func TestParseRejectsUnbracketed(t *testing.T) {
	_, err := Parse("0:10")
	assert.ErrorIs(t, err, errs.ErrIndex)
}
