// Package storagetest is the shared contract suite every storage adapter
// must pass. Adapter packages run it from their own tests.
package storagetest

import (
	"math"
	"path/filepath"

	"github.com/stretchr/testify/suite"

	"github.com/snowflk/gridstore/numeric"
	"github.com/snowflk/gridstore/schema"
	"github.com/snowflk/gridstore/slicing"
	"github.com/snowflk/gridstore/storage"
)

// AdapterProvider builds the adapter under test.
type AdapterProvider func() storage.Adapter

type adapterTestSuite struct {
	suite.Suite
	provider AdapterProvider
	adapter  storage.Adapter
	dir      string
}

// NewTestSuite builds the contract suite for one adapter.
func NewTestSuite(provider AdapterProvider) suite.TestingSuite {
	return &adapterTestSuite{provider: provider}
}

func (s *adapterTestSuite) SetupTest() {
	s.adapter = s.provider()
	s.dir = s.T().TempDir()
}

func (s *adapterTestSuite) path(name string) string {
	return filepath.Join(s.dir, name+s.adapter.Ext())
}

func (s *adapterTestSuite) dsSchema(shape []int) storage.DatasetSchema {
	return storage.DatasetSchema{
		DType: numeric.Float64,
		Shape: shape,
		Fill:  numeric.FloatValue(numeric.Float64, math.NaN()),
	}
}

func fullBounds(shape []int) []slicing.Bound {
	out := make([]slicing.Bound, len(shape))
	for i, size := range shape {
		out[i] = slicing.Bound{Lo: 0, Hi: size}
	}
	return out
}

func (s *adapterTestSuite) TestReadWithoutBodySynthesizesFill() {
	shape := []int{4, 4}
	ds, err := s.adapter.Open(s.path("empty"), s.dsSchema(shape), schema.StorageOptions{})
	s.Require().NoError(err)
	defer ds.Close()

	s.False(ds.HasBody())
	buf := numeric.NewBuffer(numeric.Float64, shape)
	s.Require().NoError(ds.Read(fullBounds(shape), buf))
	for _, v := range buf.Float64s() {
		s.True(math.IsNaN(v))
	}
}

func (s *adapterTestSuite) TestWriteMaterializesAndRoundTrips() {
	shape := []int{4, 6}
	ds, err := s.adapter.Open(s.path("rw"), s.dsSchema(shape), schema.StorageOptions{})
	s.Require().NoError(err)
	defer ds.Close()

	in := numeric.NewBuffer(numeric.Float64, shape)
	vals := in.Float64s()
	for i := range vals {
		vals[i] = float64(i)
	}
	s.Require().NoError(ds.Write(fullBounds(shape), in))
	s.True(ds.HasBody())

	out := numeric.NewBuffer(numeric.Float64, shape)
	s.Require().NoError(ds.Read(fullBounds(shape), out))
	s.True(in.Equal(out))
}

func (s *adapterTestSuite) TestPartialWriteKeepsFillElsewhere() {
	shape := []int{4, 4}
	ds, err := s.adapter.Open(s.path("partial"), s.dsSchema(shape), schema.StorageOptions{})
	s.Require().NoError(err)
	defer ds.Close()

	patch := numeric.NewBuffer(numeric.Float64, []int{2, 2})
	patch.Fill(numeric.FloatValue(numeric.Float64, 7))
	bounds := []slicing.Bound{{Lo: 1, Hi: 3}, {Lo: 1, Hi: 3}}
	s.Require().NoError(ds.Write(bounds, patch))

	out := numeric.NewBuffer(numeric.Float64, shape)
	s.Require().NoError(ds.Read(fullBounds(shape), out))
	vals := out.Float64s()
	s.Equal(7.0, vals[1*4+1])
	s.Equal(7.0, vals[2*4+2])
	s.True(math.IsNaN(vals[0]))
	s.True(math.IsNaN(vals[3*4+3]))
}

func (s *adapterTestSuite) TestChunkedAndCompressed() {
	shape := []int{8, 8}
	opts := schema.StorageOptions{
		Chunks:      &schema.ChunkSpec{Shape: []int{4, 4}},
		Compression: &schema.CompressionSpec{Filter: "xz", Level: 3},
	}
	ds, err := s.adapter.Open(s.path("chunked"), s.dsSchema(shape), opts)
	s.Require().NoError(err)
	defer ds.Close()

	in := numeric.NewBuffer(numeric.Float64, shape)
	vals := in.Float64s()
	for i := range vals {
		vals[i] = float64(i % 13)
	}
	s.Require().NoError(ds.Write(fullBounds(shape), in))

	// Reopen to exercise the load path.
	s.Require().NoError(ds.Close())
	ds, err = s.adapter.Open(s.path("chunked"), s.dsSchema(shape), opts)
	s.Require().NoError(err)

	out := numeric.NewBuffer(numeric.Float64, []int{2, 8})
	s.Require().NoError(ds.Read([]slicing.Bound{{Lo: 3, Hi: 5}, {Lo: 0, Hi: 8}}, out))
	expected, err := in.Region([]int{3, 0}, []int{2, 8})
	s.Require().NoError(err)
	s.True(expected.Equal(out))
}

func (s *adapterTestSuite) TestTruncateRemovesBody() {
	shape := []int{4}
	ds, err := s.adapter.Open(s.path("trunc"), s.dsSchema(shape), schema.StorageOptions{})
	s.Require().NoError(err)
	defer ds.Close()

	patch := numeric.NewBuffer(numeric.Float64, shape)
	patch.Fill(numeric.FloatValue(numeric.Float64, 1))
	s.Require().NoError(ds.Write(fullBounds(shape), patch))
	s.True(ds.HasBody())

	s.Require().NoError(ds.Truncate())
	s.False(ds.HasBody())
	out := numeric.NewBuffer(numeric.Float64, shape)
	s.Require().NoError(ds.Read(fullBounds(shape), out))
	s.True(math.IsNaN(out.Float64s()[0]))
}

func (s *adapterTestSuite) TestMetaRoundTrip() {
	sch, err := schema.NewArraySchema(numeric.Float64,
		[]schema.DimensionSchema{schema.Dim("x", 4)},
		[]schema.AttributeSchema{
			{Name: "region", Kind: schema.AttrString, Primary: true},
			{Name: "note", Kind: schema.AttrString},
		}, nil)
	s.Require().NoError(err)

	metaPath := filepath.Join(s.dir, "a1.json")
	in := &storage.Meta{
		ID:         "a1",
		Collection: "c",
		Primary:    []storage.Attr{{Name: "region", Value: "eu"}},
		Custom:     []storage.Attr{{Name: "note", Value: nil}},
		SchemaVersion: 1,
	}
	s.Require().NoError(s.adapter.WriteMeta(metaPath, in))
	out, err := s.adapter.ReadMeta(metaPath, sch)
	s.Require().NoError(err)
	s.Equal(in.ID, out.ID)
	s.Equal("eu", out.Primary[0].Value)
	s.Nil(out.Custom[0].Value)
}

func (s *adapterTestSuite) TestDeleteRemovesDataset() {
	shape := []int{4}
	path := s.path("del")
	ds, err := s.adapter.Open(path, s.dsSchema(shape), schema.StorageOptions{})
	s.Require().NoError(err)
	patch := numeric.NewBuffer(numeric.Float64, shape)
	patch.Fill(numeric.FloatValue(numeric.Float64, 2))
	s.Require().NoError(ds.Write(fullBounds(shape), patch))
	s.Require().NoError(ds.Close())

	s.Require().NoError(s.adapter.Delete(path))
	s.Require().NoError(s.adapter.Delete(path)) // idempotent
}
