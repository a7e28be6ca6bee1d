package schema

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
	"github.com/snowflk/gridstore/slicing"
)

// ScaleSpec is an affine mapping between integer indices and a real-valued
// axis: v = start + i*step.
type ScaleSpec struct {
	StartValue float64
	Step       float64
	Name       string
}

// TimeSpec maps integer indices onto a time axis. Start is either a fixed
// UTC instant or a reference "$attrName" to a datetime attribute of the
// schema; in the latter case the start is resolved per array.
type TimeSpec struct {
	StartAttr string // without the leading $
	Start     time.Time
	Step      time.Duration
}

// DimensionSchema declares one dimension: plain, scaled, labeled or time,
// depending on which of the optional specs is present.
type DimensionSchema struct {
	Name   string
	Size   int
	Scale  *ScaleSpec
	Labels []interface{}
	Time   *TimeSpec
}

// Dim declares a plain dimension.
func Dim(name string, size int) DimensionSchema {
	return DimensionSchema{Name: name, Size: size}
}

// ScaledDim declares a dimension with a regular scale.
func ScaledDim(name string, size int, start, step float64) DimensionSchema {
	return DimensionSchema{Name: name, Size: size, Scale: &ScaleSpec{StartValue: start, Step: step}}
}

// LabeledDim declares a dimension indexed by explicit labels.
func LabeledDim(name string, size int, labels ...interface{}) DimensionSchema {
	return DimensionSchema{Name: name, Size: size, Labels: labels}
}

// TimeDim declares a time dimension with a fixed start instant.
func TimeDim(name string, size int, start time.Time, step time.Duration) DimensionSchema {
	return DimensionSchema{Name: name, Size: size, Time: &TimeSpec{Start: start.UTC(), Step: step}}
}

// TimeDimAttr declares a time dimension whose start instant is taken from
// the named datetime attribute of each array. The reference may be written
// with or without the leading $.
func TimeDimAttr(name string, size int, attrRef string, step time.Duration) DimensionSchema {
	return DimensionSchema{
		Name: name,
		Size: size,
		Time: &TimeSpec{StartAttr: strings.TrimPrefix(attrRef, "$"), Step: step},
	}
}

// Kind returns how this dimension is indexed.
func (d DimensionSchema) Kind() slicing.Kind {
	switch {
	case d.Scale != nil:
		return slicing.Scaled
	case d.Labels != nil:
		return slicing.Labeled
	case d.Time != nil:
		return slicing.Time
	}
	return slicing.Plain
}

func (d DimensionSchema) validate(attrs []AttributeSchema) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.Wrap(errs.ErrValidation, "dimension name cannot be empty")
	}
	if d.Size <= 0 {
		return errors.Wrapf(errs.ErrValidation,
			"dimension %q size must be positive, got %d", d.Name, d.Size)
	}
	specs := 0
	if d.Scale != nil {
		specs++
	}
	if d.Labels != nil {
		specs++
	}
	if d.Time != nil {
		specs++
	}
	if specs > 1 {
		return errors.Wrapf(errs.ErrValidation,
			"dimension %q can carry a scale, labels or a time spec, not several", d.Name)
	}
	switch {
	case d.Scale != nil:
		if d.Scale.Step == 0 {
			return errors.Wrapf(errs.ErrValidation,
				"dimension %q scale step cannot be zero", d.Name)
		}
	case d.Labels != nil:
		if len(d.Labels) != d.Size {
			return errors.Wrapf(errs.ErrValidation,
				"dimension %q has %d labels for size %d", d.Name, len(d.Labels), d.Size)
		}
		seen := make(map[interface{}]struct{}, len(d.Labels))
		for _, l := range d.Labels {
			switch l.(type) {
			case string, float64:
			default:
				return errors.Wrapf(errs.ErrValidation,
					"dimension %q labels must be strings or floats, got %T", d.Name, l)
			}
			if _, dup := seen[l]; dup {
				return errors.Wrapf(errs.ErrValidation,
					"dimension %q has duplicate label %v", d.Name, l)
			}
			seen[l] = struct{}{}
		}
	case d.Time != nil:
		if d.Time.Step <= 0 {
			return errors.Wrapf(errs.ErrValidation,
				"dimension %q time step must be positive", d.Name)
		}
		if d.Time.StartAttr != "" {
			found := false
			for _, a := range attrs {
				if a.Name == d.Time.StartAttr {
					if a.Kind != AttrDatetime {
						return errors.Wrapf(errs.ErrValidation,
							"dimension %q references attribute %q which is not datetime",
							d.Name, d.Time.StartAttr)
					}
					found = true
					break
				}
			}
			if !found {
				return errors.Wrapf(errs.ErrValidation,
					"dimension %q references unknown attribute %q", d.Name, d.Time.StartAttr)
			}
		} else if d.Time.Start.IsZero() {
			return errors.Wrapf(errs.ErrValidation,
				"dimension %q needs a start instant or an attribute reference", d.Name)
		}
	}
	return nil
}

// resolve builds the runtime dimension, taking the start instant of
// attribute-referenced time dimensions from the array attributes.
func (d DimensionSchema) resolve(attrs map[string]interface{}) (slicing.Dim, error) {
	dim := slicing.Dim{Name: d.Name, Size: d.Size, Kind: d.Kind()}
	switch dim.Kind {
	case slicing.Scaled:
		dim.Start = d.Scale.StartValue
		dim.Step = d.Scale.Step
	case slicing.Labeled:
		dim.Labels = d.Labels
	case slicing.Time:
		dim.TimeStep = d.Time.Step
		if d.Time.StartAttr == "" {
			dim.TimeStart = d.Time.Start
			break
		}
		raw, ok := attrs[d.Time.StartAttr]
		if !ok || raw == nil {
			return slicing.Dim{}, errors.Wrapf(errs.ErrValidation,
				"attribute %q referenced by dimension %q has no value",
				d.Time.StartAttr, d.Name)
		}
		t, ok := raw.(time.Time)
		if !ok {
			return slicing.Dim{}, errors.Wrapf(errs.ErrValidation,
				"attribute %q referenced by dimension %q is not a datetime",
				d.Time.StartAttr, d.Name)
		}
		dim.TimeStart = t.UTC()
	}
	return dim, nil
}
