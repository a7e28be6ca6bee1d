// Package slicing translates user-facing fancy indexers into canonical
// integer bounds and maps those bounds onto the tile grid of a virtual array.
package slicing

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
)

// Kind discriminates how a dimension is indexed.
type Kind int

const (
	Plain Kind = iota
	Scaled
	Labeled
	Time
)

func (k Kind) String() string {
	switch k {
	case Plain:
		return "plain"
	case Scaled:
		return "scaled"
	case Labeled:
		return "labeled"
	case Time:
		return "time"
	}
	return "unknown"
}

// Dim is a resolved dimension: the schema information plus, for time
// dimensions whose start references an attribute, the concrete start instant.
type Dim struct {
	Name string
	Size int
	Kind Kind

	// Scaled
	Start float64
	Step  float64

	// Labeled. Elements are string or float64.
	Labels []interface{}

	// Time
	TimeStart time.Time
	TimeStep  time.Duration
}

// indexOfValue maps a scale value to its cell index. The value must land
// exactly on a cell within half an ulp of the step.
func (d Dim) indexOfValue(v float64) (int, error) {
	if d.Kind != Scaled {
		return 0, errors.Wrapf(errs.ErrIndex, "dimension %q is not scaled", d.Name)
	}
	idx := int(math.Round((v - d.Start) / d.Step))
	exact := d.Start + float64(idx)*d.Step
	// Half an ulp of the step, widened to the magnitude of the compared
	// values: computing start+i*step itself costs up to two roundings.
	tol := ulp(d.Step)/2 + 2*ulp(math.Max(math.Abs(v), math.Abs(exact)))
	if math.Abs(v-exact) > tol {
		return 0, errors.Wrapf(errs.ErrIndex,
			"value %v does not align with scale of dimension %q (start=%v step=%v)",
			v, d.Name, d.Start, d.Step)
	}
	if idx < 0 || idx >= d.Size {
		return 0, errors.Wrapf(errs.ErrIndex,
			"value %v is out of range of dimension %q", v, d.Name)
	}
	return idx, nil
}

// valueAt is the inverse mapping, used by Describe.
func (d Dim) valueAt(i int) float64 {
	return d.Start + float64(i)*d.Step
}

func (d Dim) indexOfLabel(label interface{}) (int, error) {
	if d.Kind != Labeled {
		return 0, errors.Wrapf(errs.ErrIndex, "dimension %q has no labels", d.Name)
	}
	for i, l := range d.Labels {
		if labelEqual(l, label) {
			return i, nil
		}
	}
	return 0, errors.Wrapf(errs.ErrIndex, "label %v not present in dimension %q", label, d.Name)
}

func labelEqual(a, b interface{}) bool {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	}
	return false
}

// indexOfTime maps an instant to its cell index. The instant is normalized to
// UTC and must land exactly on a step boundary within the dimension.
func (d Dim) indexOfTime(t time.Time) (int, error) {
	if d.Kind != Time {
		return 0, errors.Wrapf(errs.ErrIndex, "dimension %q is not a time dimension", d.Name)
	}
	delta := t.UTC().Sub(d.TimeStart)
	if delta%d.TimeStep != 0 {
		return 0, errors.Wrapf(errs.ErrIndex,
			"time %s does not align with step %s of dimension %q",
			t.UTC().Format(time.RFC3339), d.TimeStep, d.Name)
	}
	idx := int(delta / d.TimeStep)
	if idx < 0 || idx >= d.Size {
		return 0, errors.Wrapf(errs.ErrIndex,
			"time %s is out of range of dimension %q", t.UTC().Format(time.RFC3339), d.Name)
	}
	return idx, nil
}

func (d Dim) timeAt(i int) time.Time {
	return d.TimeStart.Add(time.Duration(i) * d.TimeStep)
}

// ulp returns the distance between |f| and the next representable float.
func ulp(f float64) float64 {
	f = math.Abs(f)
	return math.Nextafter(f, math.Inf(1)) - f
}

// timeLayouts accepted for ISO string inputs. Zone-less layouts are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime parses an ISO-8601 instant and normalizes it to UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Wrapf(errs.ErrIndex, "cannot parse %q as a datetime", s)
}

// resolveTime converts any accepted time input (time.Time, ISO string or
// float seconds since epoch) into a UTC instant.
func resolveTime(v interface{}) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		return ParseTime(x)
	case float64:
		sec, frac := math.Modf(x)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	case int:
		return time.Unix(int64(x), 0).UTC(), nil
	}
	return time.Time{}, errors.Wrapf(errs.ErrIndex, "invalid time value %v", v)
}
