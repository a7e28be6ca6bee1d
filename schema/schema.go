package schema

import (
	"math"

	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/numeric"
	"github.com/snowflk/gridstore/slicing"
)

// ArraySchema declares the shape, attributes, element type and fill value
// shared by every array of a collection. Schemas are immutable once the
// collection manifest is written.
type ArraySchema struct {
	Dimensions []DimensionSchema
	Attributes []AttributeSchema
	DType      numeric.ElementType
	FillValue  numeric.Value
}

// NewArraySchema validates and builds an array schema. When fill is nil the
// fill value defaults to NaN for float and complex element types; integer
// types require an explicit fill value.
func NewArraySchema(dtype numeric.ElementType, dims []DimensionSchema,
	attrs []AttributeSchema, fill *numeric.Value) (*ArraySchema, error) {
	s := &ArraySchema{
		Dimensions: append([]DimensionSchema(nil), dims...),
		Attributes: append([]AttributeSchema(nil), attrs...),
		DType:      dtype,
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	fv, err := resolveFill(dtype, fill)
	if err != nil {
		return nil, err
	}
	s.FillValue = fv
	return s, nil
}

func resolveFill(dtype numeric.ElementType, fill *numeric.Value) (numeric.Value, error) {
	if fill == nil {
		switch {
		case dtype.IsFloat():
			return numeric.FloatValue(dtype, math.NaN()), nil
		case dtype.IsComplex():
			return numeric.ComplexValue(dtype, complex(math.NaN(), math.NaN())), nil
		}
		return numeric.Value{}, errors.Wrapf(errs.ErrValidation,
			"integer dtype %s requires an explicit fill value", dtype)
	}
	if fill.Type() != dtype {
		converted, err := fill.Convert(dtype)
		if err != nil {
			return numeric.Value{}, errors.Wrapf(errs.ErrValidation,
				"fill value of type %s does not fit dtype %s", fill.Type(), dtype)
		}
		return converted, nil
	}
	return *fill, nil
}

func (s *ArraySchema) validate() error {
	if !s.DType.Valid() {
		return errors.Wrap(errs.ErrValidation, "invalid element type")
	}
	if len(s.Dimensions) == 0 {
		return errors.Wrap(errs.ErrValidation, "schema needs at least one dimension")
	}
	dimNames := make(map[string]struct{}, len(s.Dimensions))
	for _, d := range s.Dimensions {
		if err := d.validate(s.Attributes); err != nil {
			return err
		}
		if _, dup := dimNames[d.Name]; dup {
			return errors.Wrapf(errs.ErrValidation, "duplicate dimension name %q", d.Name)
		}
		dimNames[d.Name] = struct{}{}
	}
	attrNames := make(map[string]struct{}, len(s.Attributes))
	for _, a := range s.Attributes {
		if err := a.validate(); err != nil {
			return err
		}
		if _, dup := attrNames[a.Name]; dup {
			return errors.Wrapf(errs.ErrValidation, "duplicate attribute name %q", a.Name)
		}
		attrNames[a.Name] = struct{}{}
	}
	return nil
}

// Shape returns the per-dimension sizes.
func (s *ArraySchema) Shape() []int {
	out := make([]int, len(s.Dimensions))
	for i, d := range s.Dimensions {
		out[i] = d.Size
	}
	return out
}

// Bytes returns the full footprint of one array in bytes.
func (s *ArraySchema) Bytes() int {
	return numeric.Elements(s.Shape()) * s.DType.Size()
}

// PrimaryAttributes returns the primary attribute schemas in declared order.
func (s *ArraySchema) PrimaryAttributes() []AttributeSchema {
	var out []AttributeSchema
	for _, a := range s.Attributes {
		if a.Primary {
			out = append(out, a)
		}
	}
	return out
}

// CustomAttributes returns the non-primary attribute schemas in declared order.
func (s *ArraySchema) CustomAttributes() []AttributeSchema {
	var out []AttributeSchema
	for _, a := range s.Attributes {
		if !a.Primary {
			out = append(out, a)
		}
	}
	return out
}

// AttributeByName looks an attribute schema up.
func (s *ArraySchema) AttributeByName(name string) (AttributeSchema, bool) {
	for _, a := range s.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeSchema{}, false
}

// ResolveDims builds the runtime dimension list for one array, resolving
// attribute-referenced time starts against the merged attribute values.
func (s *ArraySchema) ResolveDims(attrs map[string]interface{}) ([]slicing.Dim, error) {
	out := make([]slicing.Dim, len(s.Dimensions))
	for i, d := range s.Dimensions {
		dim, err := d.resolve(attrs)
		if err != nil {
			return nil, err
		}
		out[i] = dim
	}
	return out, nil
}

// VArraySchema extends ArraySchema with a tile grid. VGrid holds one divisor
// per dimension; the tile shape is size/vgrid elementwise.
type VArraySchema struct {
	ArraySchema
	VGrid []int
}

// GridSpec selects the tile grid either by divisors (VGrid) or by tile shape
// (ArraysShape). Exactly one must be set; supplying both is ambiguous and is
// rejected. The canonical stored form is VGrid.
type GridSpec struct {
	VGrid       []int
	ArraysShape []int
}

// NewVArraySchema validates and builds a virtual array schema.
func NewVArraySchema(dtype numeric.ElementType, dims []DimensionSchema,
	attrs []AttributeSchema, fill *numeric.Value, grid GridSpec) (*VArraySchema, error) {
	base, err := NewArraySchema(dtype, dims, attrs, fill)
	if err != nil {
		return nil, err
	}
	if grid.VGrid != nil && grid.ArraysShape != nil {
		return nil, errors.Wrap(errs.ErrValidation,
			"vgrid and arrays_shape are mutually exclusive")
	}
	if grid.VGrid == nil && grid.ArraysShape == nil {
		return nil, errors.Wrap(errs.ErrValidation,
			"either vgrid or arrays_shape is required")
	}
	vgrid := grid.VGrid
	if vgrid == nil {
		// Derive divisors from the tile shape.
		if len(grid.ArraysShape) != len(dims) {
			return nil, errors.Wrapf(errs.ErrValidation,
				"arrays_shape has %d entries for %d dimensions", len(grid.ArraysShape), len(dims))
		}
		vgrid = make([]int, len(dims))
		for i, ts := range grid.ArraysShape {
			if ts <= 0 || dims[i].Size%ts != 0 {
				return nil, errors.Wrapf(errs.ErrValidation,
					"arrays_shape[%d]=%d does not divide dimension %q of size %d",
					i, ts, dims[i].Name, dims[i].Size)
			}
			vgrid[i] = dims[i].Size / ts
		}
	}
	if len(vgrid) != len(dims) {
		return nil, errors.Wrapf(errs.ErrValidation,
			"vgrid has %d entries for %d dimensions", len(vgrid), len(dims))
	}
	for i, g := range vgrid {
		if g <= 0 || dims[i].Size%g != 0 {
			return nil, errors.Wrapf(errs.ErrValidation,
				"vgrid[%d]=%d does not divide dimension %q of size %d",
				i, g, dims[i].Name, dims[i].Size)
		}
	}
	return &VArraySchema{
		ArraySchema: *base,
		VGrid:       append([]int(nil), vgrid...),
	}, nil
}

// ArraysShape returns the tile shape: size/vgrid elementwise.
func (s *VArraySchema) ArraysShape() []int {
	out := make([]int, len(s.VGrid))
	for i, g := range s.VGrid {
		out[i] = s.Dimensions[i].Size / g
	}
	return out
}

// Tiles returns the total tile count of the grid.
func (s *VArraySchema) Tiles() int {
	n := 1
	for _, g := range s.VGrid {
		n *= g
	}
	return n
}
