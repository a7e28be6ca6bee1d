package gridstore

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/internal/paths"
	"github.com/snowflk/gridstore/numeric"
	"github.com/snowflk/gridstore/schema"
	"github.com/snowflk/gridstore/slicing"
)

func testClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	client, err := Open("file://"+t.TempDir(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func weatherSchema(t *testing.T) *schema.ArraySchema {
	t.Helper()
	s, err := schema.NewArraySchema(numeric.Float64,
		[]schema.DimensionSchema{
			schema.TimeDimAttr("dt", 24, "$dt", time.Hour),
			schema.ScaledDim("y", 3, 90.0, -1.0),
			schema.ScaledDim("x", 3, -180.0, 1.0),
			schema.LabeledDim("w", 2, "t", "h"),
		},
		[]schema.AttributeSchema{
			{Name: "dt", Kind: schema.AttrDatetime, Primary: true},
		}, nil)
	require.NoError(t, err)
	return s
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

var testStart = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// Scenario: a weather collection with a time dimension bound to the primary
// datetime attribute, written fully and read back through fancy indexers.
func TestWeatherArrayEndToEnd(t *testing.T) {
	client := testClient(t, Config{})
	col, err := client.CreateCollection("weather", weatherSchema(t), schema.StorageOptions{})
	require.NoError(t, err)

	arrays, err := col.Arrays()
	require.NoError(t, err)
	arr, err := arrays.Create(map[string]interface{}{"dt": testStart}, nil)
	require.NoError(t, err)

	full, err := arr.Subset(slicing.Ellipsis())
	require.NoError(t, err)
	require.NoError(t, full.UpdateSlice(ones(24*3*3*2)))

	sub, err := arr.Subset(
		slicing.At(0), slicing.At(0), slicing.At(0), slicing.LabelRange("t", "h"))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, sub.Shape())

	buf, err := sub.Read()
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0}, buf.Float64s())

	// The same cell addressed by domain values.
	sub, err = arr.Subset(
		slicing.TimeAt(testStart), slicing.Value(90.0), slicing.Value(-180.0), slicing.Label("t"))
	require.NoError(t, err)
	buf, err = sub.Read()
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0}, buf.Float64s())
}

// Scenario: the same schema as a virtual array with vgrid (2,1,3,1) splits
// into six tile files of shape (12,3,1,2).
func TestVArrayTileLayout(t *testing.T) {
	client := testClient(t, Config{})
	ws := weatherSchema(t)
	vs, err := schema.NewVArraySchema(numeric.Float64, ws.Dimensions, ws.Attributes, nil,
		schema.GridSpec{VGrid: []int{2, 1, 3, 1}})
	require.NoError(t, err)

	col, err := client.CreateVArrayCollection("weather", vs, schema.StorageOptions{})
	require.NoError(t, err)
	varrays, err := col.VArrays()
	require.NoError(t, err)
	va, err := varrays.Create(map[string]interface{}{"dt": testStart}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{12, 3, 1, 2}, va.ArraysShape())

	sub, err := va.Subset(slicing.Ellipsis())
	require.NoError(t, err)
	require.NoError(t, sub.UpdateSlice(ones(24*3*3*2)))

	entries, err := os.ReadDir(filepath.Join(col.Path(), paths.ArrayDataDir))
	require.NoError(t, err)
	var bodies, metas int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".gsd"):
			bodies++
		case strings.HasSuffix(e.Name(), ".json"):
			metas++
		}
	}
	assert.Equal(t, 6, bodies)
	assert.Equal(t, 6, metas)

	buf, err := sub.Read()
	require.NoError(t, err)
	assert.Equal(t, []int{24, 3, 3, 2}, buf.Shape())
	for _, v := range buf.Float64s() {
		assert.Equal(t, 1.0, v)
	}
}

// Scenario: duplicate primary tuples conflict, and the first array survives
// untouched.
func TestDuplicatePrimaryConflicts(t *testing.T) {
	client := testClient(t, Config{})
	s, err := schema.NewArraySchema(numeric.Float64,
		[]schema.DimensionSchema{schema.Dim("x", 4)},
		[]schema.AttributeSchema{
			{Name: "region", Kind: schema.AttrString, Primary: true},
			{Name: "run", Kind: schema.AttrInt, Primary: true},
		}, nil)
	require.NoError(t, err)
	col, err := client.CreateCollection("runs", s, schema.StorageOptions{})
	require.NoError(t, err)

	arrays, err := col.Arrays()
	require.NoError(t, err)
	key := map[string]interface{}{"region": "eu", "run": 7}
	first, err := arrays.Create(key, nil)
	require.NoError(t, err)

	_, err = arrays.Create(key, nil)
	assert.ErrorIs(t, err, errs.ErrConflict)

	found, err := arrays.Filter(key)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), found.ID())
}

// Scenario: concurrent writers on disjoint tiles of one virtual array both
// commit.
func TestConcurrentDisjointTileWriters(t *testing.T) {
	client := testClient(t, Config{})
	ws := weatherSchema(t)
	vs, err := schema.NewVArraySchema(numeric.Float64, ws.Dimensions, ws.Attributes, nil,
		schema.GridSpec{VGrid: []int{2, 1, 3, 1}})
	require.NoError(t, err)
	col, err := client.CreateVArrayCollection("weather", vs, schema.StorageOptions{})
	require.NoError(t, err)
	varrays, err := col.VArrays()
	require.NoError(t, err)
	va, err := varrays.Create(map[string]interface{}{"dt": testStart}, nil)
	require.NoError(t, err)

	lo, err := va.Subset(slicing.Range(0, 12))
	require.NoError(t, err)
	hi, err := va.Subset(slicing.Range(12, 24))
	require.NoError(t, err)

	fill := func(v float64, n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh <- lo.UpdateSlice(fill(1, 12*3*3*2))
	}()
	go func() {
		defer wg.Done()
		errCh <- hi.UpdateSlice(fill(2, 12*3*3*2))
	}()
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	all, err := va.Subset(slicing.Ellipsis())
	require.NoError(t, err)
	buf, err := all.Read()
	require.NoError(t, err)
	vals := buf.Float64s()
	assert.Equal(t, 1.0, vals[0])
	assert.Equal(t, 2.0, vals[len(vals)-1])
}

// Scenario: the admission gate refuses a million-cell float64 subset under a
// one-megabyte limit, while the skip flag lets the collection itself exist.
func TestMemoryLimit(t *testing.T) {
	client := testClient(t, Config{
		MemoryLimit:                     "1M",
		SkipCollectionCreateMemoryCheck: true,
	})
	s, err := schema.NewArraySchema(numeric.Float64,
		[]schema.DimensionSchema{schema.Dim("r", 1000), schema.Dim("c", 1000)}, nil, nil)
	require.NoError(t, err)
	col, err := client.CreateCollection("big", s, schema.StorageOptions{})
	require.NoError(t, err)

	arrays, err := col.Arrays()
	require.NoError(t, err)
	arr, err := arrays.Create(nil, nil)
	require.NoError(t, err)

	_, err = arr.Subset(slicing.Ellipsis())
	assert.ErrorIs(t, err, errs.ErrMemoryLimit)

	// A small subset still passes the gate.
	_, err = arr.Subset(slicing.Range(0, 2), slicing.Range(0, 2))
	require.NoError(t, err)

	// Without the skip flag, creating the oversized collection is refused.
	strict := testClient(t, Config{MemoryLimit: "1M"})
	_, err = strict.CreateCollection("big", s, schema.StorageOptions{})
	assert.ErrorIs(t, err, errs.ErrMemoryLimit)
}

func TestRoundTripAndFill(t *testing.T) {
	client := testClient(t, Config{})
	s, err := schema.NewArraySchema(numeric.Float64,
		[]schema.DimensionSchema{schema.Dim("r", 6), schema.Dim("c", 4)}, nil, nil)
	require.NoError(t, err)
	col, err := client.CreateCollection("grid", s, schema.StorageOptions{})
	require.NoError(t, err)
	arrays, err := col.Arrays()
	require.NoError(t, err)
	arr, err := arrays.Create(nil, nil)
	require.NoError(t, err)

	// An untouched array reads as fill.
	sub, err := arr.Subset(slicing.Ellipsis())
	require.NoError(t, err)
	buf, err := sub.Read()
	require.NoError(t, err)
	for _, v := range buf.Float64s() {
		assert.True(t, math.IsNaN(v))
	}

	region, err := arr.Subset(slicing.Range(1, 4), slicing.Range(1, 3))
	require.NoError(t, err)
	in := []float64{1, 2, 3, 4, 5, 6}
	require.NoError(t, region.UpdateSlice(in))

	out, err := region.Read()
	require.NoError(t, err)
	assert.Equal(t, in, out.Float64s())

	// Cells outside the region keep the fill value.
	full, err := sub.Read()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(full.Float64s()[0]))
	assert.Equal(t, 1.0, full.Float64s()[1*4+1])
}

func TestClearIdempotent(t *testing.T) {
	client := testClient(t, Config{})
	s, err := schema.NewArraySchema(numeric.Float64,
		[]schema.DimensionSchema{schema.Dim("r", 8), schema.Dim("c", 8)}, nil, nil)
	require.NoError(t, err)
	col, err := client.CreateCollection("grid", s,
		schema.StorageOptions{Chunks: &schema.ChunkSpec{Shape: []int{4, 4}}})
	require.NoError(t, err)
	arrays, err := col.Arrays()
	require.NoError(t, err)
	arr, err := arrays.Create(nil, nil)
	require.NoError(t, err)

	full, err := arr.Subset(slicing.Ellipsis())
	require.NoError(t, err)
	require.NoError(t, full.UpdateSlice(ones(64)))

	part, err := arr.Subset(slicing.Range(0, 4), slicing.Range(0, 4))
	require.NoError(t, err)
	require.NoError(t, part.Clear())

	bodyPath := col.dataPath(arr.ID())
	after1, err := os.ReadFile(bodyPath)
	require.NoError(t, err)

	require.NoError(t, part.Clear())
	after2, err := os.ReadFile(bodyPath)
	require.NoError(t, err)
	assert.Equal(t, after1, after2, "two clears must leave storage bit-identical")

	// Cleared cells read as fill, the rest survives.
	buf, err := full.Read()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(buf.Float64s()[0]))
	assert.Equal(t, 1.0, buf.Float64s()[4])

	// A whole-array clear truncates the body away.
	require.NoError(t, full.Clear())
	_, err = os.Stat(bodyPath)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, full.Clear())
	_, err = os.Stat(bodyPath)
	assert.True(t, os.IsNotExist(err))
}

func TestCustomAttributes(t *testing.T) {
	client := testClient(t, Config{})
	s, err := schema.NewArraySchema(numeric.Float64,
		[]schema.DimensionSchema{schema.Dim("x", 4)},
		[]schema.AttributeSchema{
			{Name: "run", Kind: schema.AttrInt, Primary: true},
			{Name: "note", Kind: schema.AttrString},
			{Name: "issued", Kind: schema.AttrDatetime},
		}, nil)
	require.NoError(t, err)
	col, err := client.CreateCollection("runs", s, schema.StorageOptions{})
	require.NoError(t, err)
	arrays, err := col.Arrays()
	require.NoError(t, err)

	// A custom datetime attribute must be provided at creation.
	_, err = arrays.Create(map[string]interface{}{"run": 1}, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	arr, err := arrays.Create(map[string]interface{}{"run": 1},
		map[string]interface{}{"issued": testStart})
	require.NoError(t, err)

	require.NoError(t, arr.UpdateCustomAttributes(map[string]interface{}{"note": "ok"}))

	// It must not transition to null afterwards either.
	err = arr.UpdateCustomAttributes(map[string]interface{}{"issued": nil})
	assert.ErrorIs(t, err, errs.ErrValidation)

	// Primary attributes are immutable.
	err = arr.UpdateCustomAttributes(map[string]interface{}{"run": 2})
	assert.ErrorIs(t, err, errs.ErrValidation)

	reloaded, err := arrays.GetByID(arr.ID())
	require.NoError(t, err)
	attrs := reloaded.CustomAttributes()
	byName := map[string]interface{}{}
	for _, a := range attrs {
		byName[a.Name] = a.Value
	}
	assert.Equal(t, "ok", byName["note"])
	assert.Equal(t, testStart, byName["issued"])
}

func TestDTypeAndShapeMismatch(t *testing.T) {
	client := testClient(t, Config{})
	s, err := schema.NewArraySchema(numeric.Int64,
		[]schema.DimensionSchema{schema.Dim("x", 4)}, nil,
		ptrValue(numeric.IntValue(numeric.Int64, -1)))
	require.NoError(t, err)
	col, err := client.CreateCollection("ints", s, schema.StorageOptions{})
	require.NoError(t, err)
	arrays, err := col.Arrays()
	require.NoError(t, err)
	arr, err := arrays.Create(nil, nil)
	require.NoError(t, err)
	sub, err := arr.Subset(slicing.Ellipsis())
	require.NoError(t, err)

	// int32 widens losslessly into int64.
	in, err := numeric.FromSlice([]int{4}, []int32{1, 2, 3, 4})
	require.NoError(t, err)
	require.NoError(t, sub.Update(in))

	out, err := sub.Read()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, out.Int64s())

	// float64 does not.
	bad, err := numeric.FromSlice([]int{4}, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.ErrorIs(t, sub.Update(bad), errs.ErrDTypeMismatch)

	short, err := numeric.FromSlice([]int{2}, []int64{1, 2})
	require.NoError(t, err)
	assert.ErrorIs(t, sub.Update(short), errs.ErrShapeMismatch)
}

func TestCollectionLifecycle(t *testing.T) {
	client := testClient(t, Config{})
	s, err := schema.NewArraySchema(numeric.Float64,
		[]schema.DimensionSchema{schema.Dim("x", 4)}, nil, nil)
	require.NoError(t, err)

	_, err = client.CreateCollection("c1", s, schema.StorageOptions{})
	require.NoError(t, err)

	_, err = client.CreateCollection("c1", s, schema.StorageOptions{})
	assert.ErrorIs(t, err, errs.ErrConflict)

	names, err := client.Collections()
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, names)

	col, err := client.GetCollection("c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", col.Name())

	_, err = client.GetCollection("nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, client.DeleteCollection("c1"))
	_, err = client.GetCollection("c1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestIntegrityCheck(t *testing.T) {
	client := testClient(t, Config{})
	col, err := client.CreateCollection("weather", weatherSchema(t), schema.StorageOptions{})
	require.NoError(t, err)
	arrays, err := col.Arrays()
	require.NoError(t, err)
	arr, err := arrays.Create(map[string]interface{}{"dt": testStart}, nil)
	require.NoError(t, err)
	sub, err := arr.Subset(slicing.Ellipsis())
	require.NoError(t, err)
	require.NoError(t, sub.UpdateSlice(ones(24*3*3*2)))

	report, err := client.CheckIntegrity("", CheckData, false)
	require.NoError(t, err)
	assert.True(t, report.OK())

	// A corrupted metadata file is reported.
	require.NoError(t, os.WriteFile(col.metaPath(arr.ID()), []byte("{broken"), 0644))
	report, err = client.CheckIntegrity("", CheckData, false)
	require.NoError(t, err)
	assert.False(t, report.OK())
}

func TestVArrayIdempotentIDAndConflict(t *testing.T) {
	client := testClient(t, Config{})
	ws := weatherSchema(t)
	vs, err := schema.NewVArraySchema(numeric.Float64, ws.Dimensions, ws.Attributes, nil,
		schema.GridSpec{VGrid: []int{2, 1, 3, 1}})
	require.NoError(t, err)
	col, err := client.CreateVArrayCollection("weather", vs, schema.StorageOptions{})
	require.NoError(t, err)
	varrays, err := col.VArrays()
	require.NoError(t, err)

	va, err := varrays.Create(map[string]interface{}{"dt": testStart}, nil)
	require.NoError(t, err)

	_, err = varrays.Create(map[string]interface{}{"dt": testStart}, nil)
	assert.ErrorIs(t, err, errs.ErrConflict)

	// The id derives from the primary tuple, so a lookup agrees with it.
	found, err := varrays.Filter(map[string]interface{}{"dt": testStart})
	require.NoError(t, err)
	assert.Equal(t, va.ID(), found.ID())
}

func TestVSubsetPartialReadAcrossTiles(t *testing.T) {
	client := testClient(t, Config{})
	s, err := schema.NewArraySchema(numeric.Float64,
		[]schema.DimensionSchema{schema.Dim("r", 100), schema.Dim("c", 200)}, nil, nil)
	require.NoError(t, err)
	vs, err := schema.NewVArraySchema(numeric.Float64, s.Dimensions, nil, nil,
		schema.GridSpec{ArraysShape: []int{50, 20}})
	require.NoError(t, err)
	col, err := client.CreateVArrayCollection("grid", vs, schema.StorageOptions{})
	require.NoError(t, err)
	varrays, err := col.VArrays()
	require.NoError(t, err)
	va, err := varrays.Create(nil, nil)
	require.NoError(t, err)

	sub, err := va.Subset(slicing.Range(10, 60), slicing.Range(5, 25))
	require.NoError(t, err)
	assert.Equal(t, []int{50, 20}, sub.Shape())
	assert.Len(t, sub.Tiles(), 4)

	vals := make([]float64, 50*20)
	for i := range vals {
		vals[i] = float64(i)
	}
	require.NoError(t, sub.UpdateSlice(vals))

	out, err := sub.Read()
	require.NoError(t, err)
	assert.Equal(t, vals, out.Float64s())
}

func ptrValue(v numeric.Value) *numeric.Value { return &v }
