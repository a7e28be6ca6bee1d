package paths

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowflk/gridstore/schema"
)

func TestVArrayIDDeterministic(t *testing.T) {
	a := VArrayID("weather", "dt=2023-01-01")
	b := VArrayID("weather", "dt=2023-01-01")
	c := VArrayID("weather", "dt=2023-01-02")
	d := VArrayID("climate", "dt=2023-01-01")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestTileIDDeterministic(t *testing.T) {
	vid := VArrayID("weather", "k")
	assert.Equal(t, TileID(vid, []int{0, 1, 2}), TileID(vid, []int{0, 1, 2}))
	assert.NotEqual(t, TileID(vid, []int{0, 1, 2}), TileID(vid, []int{0, 1, 3}))
}

func TestEncodeAttrValue(t *testing.T) {
	assert.Equal(t, "42", EncodeAttrValue(int64(42)))
	assert.Equal(t, "1.5", EncodeAttrValue(1.5))
	assert.Equal(t, "plain-string", EncodeAttrValue("plain-string"))

	// Separators and path characters are escaped away.
	encoded := EncodeAttrValue("a/b:c d")
	assert.NotContains(t, encoded, "/")
	assert.NotContains(t, encoded, " ")
	assert.Equal(t, "a%2Fb%3Ac%20d", encoded)

	// Datetimes carry the explicit UTC offset.
	dt := time.Date(2023, 1, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2023-01-01T11%3A00%3A00%2B00%3A00", EncodeAttrValue(dt))

	// Tuple elements join with the reserved separator, which escaping keeps
	// out of the elements themselves.
	assert.Equal(t, "a:b%3Ac", EncodeAttrValue([]interface{}{"a", "b:c"}))
}

func TestPositionRoundTrip(t *testing.T) {
	pos := []int{0, 12, 3}
	parsed, err := ParsePosition(PositionString(pos))
	require.NoError(t, err)
	assert.Equal(t, pos, parsed)

	_, err = ParsePosition("1-x-2")
	assert.Error(t, err)
}

func TestSymlinkPath(t *testing.T) {
	attrs := []schema.AttributeSchema{
		{Name: "region", Kind: schema.AttrString, Primary: true},
		{Name: "day", Kind: schema.AttrDatetime, Primary: true},
	}
	values := map[string]interface{}{
		"region": "eu/west",
		"day":    time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	path, err := SymlinkPath("/root/sym", attrs, values, "id-1")
	require.NoError(t, err)
	parts := strings.Split(path, "/")
	// One directory per attribute in declared order, id as the leaf.
	assert.Equal(t, "id-1", parts[len(parts)-1])
	assert.Equal(t, "eu%2Fwest", parts[len(parts)-3])

	_, err = SymlinkPath("/root/sym", attrs, map[string]interface{}{"region": "eu"}, "id-1")
	assert.Error(t, err)
}

func TestPrimaryKeyStable(t *testing.T) {
	attrs := []schema.AttributeSchema{
		{Name: "a", Kind: schema.AttrString, Primary: true},
		{Name: "b", Kind: schema.AttrInt, Primary: true},
	}
	k1, err := PrimaryKey(attrs, map[string]interface{}{"a": "x", "b": int64(1)})
	require.NoError(t, err)
	k2, err := PrimaryKey(attrs, map[string]interface{}{"b": int64(1), "a": "x"})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}
