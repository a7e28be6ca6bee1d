package gridstore

import (
	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/numeric"
	"github.com/snowflk/gridstore/slicing"
)

// Subset is a lazy descriptor of a slice over an Array: shape, bounds and
// describe are available without touching storage; read, update and clear
// perform the I/O under the array lock.
type Subset struct {
	array    *Array
	sel      *slicing.Selection
	indexers []slicing.Indexer
}

// Shape returns the subset shape with collapsed dimensions dropped.
func (s *Subset) Shape() []int { return s.sel.Shape() }

// Bounds returns the canonical per-dimension half-open ranges.
func (s *Subset) Bounds() []slicing.Bound {
	return append([]slicing.Bound(nil), s.sel.Bounds...)
}

// Describe lists, per dimension, the domain values the subset selects.
func (s *Subset) Describe() []slicing.DimDescription { return s.sel.Describe() }

// String renders the canonical slice string.
func (s *Subset) String() string { return slicing.Format(s.indexers) }

// Read returns a dense buffer of the collection element type shaped like the
// subset. Unwritten regions read as the fill value.
func (s *Subset) Read() (*numeric.Buffer, error) {
	a := s.array
	release, err := a.col.client.locks.Reader(a.lockBase())
	if err != nil {
		return nil, err
	}
	defer release()

	ds, err := a.col.client.adapter.Open(a.dataPath(), a.datasetSchema(), a.col.Options())
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	full := numeric.NewBuffer(a.col.Schema().DType, s.sel.FullShape())
	if err := ds.Read(s.sel.Bounds, full); err != nil {
		return nil, err
	}
	out, err := full.Reshape(s.Shape())
	if err != nil {
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	a.col.client.log.WithField("array", a.meta.ID).
		WithField("bounds", s.String()).Debug("subset read")
	return out, nil
}

// Update writes data into the subset region durably. The buffer shape must
// equal the subset shape; a dtype that converts losslessly to the collection
// dtype is accepted.
func (s *Subset) Update(data *numeric.Buffer) error {
	if data == nil {
		return errors.Wrap(errs.ErrValidation, "update data cannot be nil")
	}
	converted, err := s.conform(data)
	if err != nil {
		return err
	}
	a := s.array
	release, err := a.col.client.locks.Writer(a.lockBase())
	if err != nil {
		return err
	}
	defer release()

	ds, err := a.col.client.adapter.Open(a.dataPath(), a.datasetSchema(), a.col.Options())
	if err != nil {
		return err
	}
	defer ds.Close()
	if err := ds.Write(s.sel.Bounds, converted); err != nil {
		return err
	}
	a.col.client.log.WithField("array", a.meta.ID).
		WithField("bounds", s.String()).Debug("subset updated")
	return nil
}

// UpdateSlice is Update for a plain Go slice, e.g. []float64.
func (s *Subset) UpdateSlice(data interface{}) error {
	buf, err := numeric.FromSlice(s.Shape(), data)
	if err != nil {
		return errors.Wrap(errs.ErrShapeMismatch, err.Error())
	}
	return s.Update(buf)
}

// conform checks the shape and applies a lossless dtype conversion, then
// reshapes to the full-rank bounds the adapter expects.
func (s *Subset) conform(data *numeric.Buffer) (*numeric.Buffer, error) {
	if !shapeEqual(data.Shape(), s.Shape()) {
		return nil, errors.Wrapf(errs.ErrShapeMismatch,
			"data shape %v does not match subset shape %v", data.Shape(), s.Shape())
	}
	want := s.array.col.Schema().DType
	if data.Type() != want {
		if !data.Type().ConvertibleTo(want) {
			return nil, errors.Wrapf(errs.ErrDTypeMismatch,
				"cannot convert %s data to %s", data.Type(), want)
		}
		converted, err := data.Convert(want)
		if err != nil {
			return nil, errors.Wrap(errs.ErrDTypeMismatch, err.Error())
		}
		data = converted
	}
	full, err := data.Reshape(s.sel.FullShape())
	if err != nil {
		return nil, errors.Wrap(errs.ErrShapeMismatch, err.Error())
	}
	return full, nil
}

// Clear resets the subset region to the fill value; when the bounds cover
// the whole array the body is truncated back to non-existent.
func (s *Subset) Clear() error {
	a := s.array
	release, err := a.col.client.locks.Writer(a.lockBase())
	if err != nil {
		return err
	}
	defer release()

	ds, err := a.col.client.adapter.Open(a.dataPath(), a.datasetSchema(), a.col.Options())
	if err != nil {
		return err
	}
	defer ds.Close()

	if s.coversWholeArray() {
		if err := ds.Truncate(); err != nil {
			return err
		}
	} else if ds.HasBody() {
		fill := numeric.NewBuffer(a.col.Schema().DType, s.sel.FullShape())
		fill.Fill(a.col.Schema().FillValue)
		if err := ds.Write(s.sel.Bounds, fill); err != nil {
			return err
		}
	}
	a.col.client.log.WithField("array", a.meta.ID).
		WithField("bounds", s.String()).Debug("subset cleared")
	return nil
}

func (s *Subset) coversWholeArray() bool {
	for i, b := range s.sel.Bounds {
		if b.Lo != 0 || b.Hi != s.sel.Dims[i].Size {
			return false
		}
	}
	return true
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
