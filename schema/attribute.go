// Package schema defines collection schemas: dimensions, attributes, element
// type and fill value, plus the manifest record they serialize into.
package schema

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/snowflk/gridstore/errs"
)

// AttrKind is the value kind of an attribute.
type AttrKind int

const (
	AttrInt AttrKind = iota
	AttrFloat
	AttrComplex
	AttrString
	AttrTuple
	AttrDatetime
)

var attrKindCodes = map[AttrKind]string{
	AttrInt:      "int",
	AttrFloat:    "float",
	AttrComplex:  "complex",
	AttrString:   "string",
	AttrTuple:    "tuple",
	AttrDatetime: "datetime",
}

func (k AttrKind) String() string {
	if s, ok := attrKindCodes[k]; ok {
		return s
	}
	return "unknown"
}

func ParseAttrKind(code string) (AttrKind, error) {
	for k, c := range attrKindCodes {
		if c == code {
			return k, nil
		}
	}
	return 0, errors.Wrapf(errs.ErrValidation, "unknown attribute kind %q", code)
}

// Attribute names reserved for the tile bookkeeping of virtual arrays.
const (
	ReservedAttrVID       = "vid"
	ReservedAttrVPosition = "v_position"
)

// AttributeSchema describes a primary or custom attribute of every array in
// a collection. Primary attribute values are immutable after creation and
// form the lookup key; custom attributes are mutable.
type AttributeSchema struct {
	Name    string
	Kind    AttrKind
	Primary bool
}

func (a AttributeSchema) validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return errors.Wrap(errs.ErrValidation, "attribute name cannot be empty")
	}
	if a.Name == ReservedAttrVID || a.Name == ReservedAttrVPosition {
		return errors.Wrapf(errs.ErrValidation, "attribute name %q is reserved", a.Name)
	}
	if _, ok := attrKindCodes[a.Kind]; !ok {
		return errors.Wrapf(errs.ErrValidation, "attribute %q has invalid kind", a.Name)
	}
	return nil
}

// ValidateValue checks a concrete attribute value against the schema kind.
// Nil is accepted for non-datetime custom attributes only; primary and
// datetime attributes given nil are rejected here.
func (a AttributeSchema) ValidateValue(v interface{}) error {
	if v == nil {
		if a.Primary {
			return errors.Wrapf(errs.ErrValidation,
				"primary attribute %q cannot be null", a.Name)
		}
		if a.Kind == AttrDatetime {
			return errors.Wrapf(errs.ErrValidation,
				"datetime attribute %q cannot be null", a.Name)
		}
		return nil
	}
	ok := false
	switch a.Kind {
	case AttrInt:
		_, ok = v.(int64)
		if !ok {
			_, ok = v.(int)
		}
	case AttrFloat:
		_, ok = v.(float64)
	case AttrComplex:
		_, ok = v.(complex128)
	case AttrString:
		_, ok = v.(string)
	case AttrTuple:
		_, ok = v.([]interface{})
	case AttrDatetime:
		_, ok = v.(time.Time)
	}
	if !ok {
		return errors.Wrapf(errs.ErrValidation,
			"attribute %q expects a %s value, got %T", a.Name, a.Kind, v)
	}
	return nil
}

// SerializeAttrValue converts an attribute value into its JSON
// representation: datetimes as ISO-8601 with explicit +00:00 offset, complex
// numbers as strings, tuples as arrays.
func SerializeAttrValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.UTC().Format("2006-01-02T15:04:05.999999999+00:00")
	case complex128:
		return strconv.FormatComplex(x, 'g', -1, 128)
	case int:
		return int64(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, el := range x {
			out[i] = SerializeAttrValue(el)
		}
		return out
	default:
		return v
	}
}

// DeserializeAttrValue restores an attribute value of the given kind from its
// JSON representation.
func DeserializeAttrValue(kind AttrKind, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	switch kind {
	case AttrInt:
		f, ok := raw.(float64)
		if !ok {
			return nil, errors.Wrapf(errs.ErrValidation, "invalid int attribute value %v", raw)
		}
		return int64(f), nil
	case AttrFloat:
		f, ok := raw.(float64)
		if !ok {
			return nil, errors.Wrapf(errs.ErrValidation, "invalid float attribute value %v", raw)
		}
		return f, nil
	case AttrComplex:
		s, ok := raw.(string)
		if !ok {
			return nil, errors.Wrapf(errs.ErrValidation, "invalid complex attribute value %v", raw)
		}
		c, err := strconv.ParseComplex(s, 128)
		if err != nil {
			return nil, errors.Wrapf(errs.ErrValidation, "invalid complex attribute value %q", s)
		}
		return c, nil
	case AttrString:
		s, ok := raw.(string)
		if !ok {
			return nil, errors.Wrapf(errs.ErrValidation, "invalid string attribute value %v", raw)
		}
		return s, nil
	case AttrTuple:
		arr, ok := raw.([]interface{})
		if !ok {
			return nil, errors.Wrapf(errs.ErrValidation, "invalid tuple attribute value %v", raw)
		}
		out := make([]interface{}, len(arr))
		for i, el := range arr {
			switch e := el.(type) {
			case float64, string, bool, nil:
				out[i] = e
			case []interface{}:
				nested, err := DeserializeAttrValue(AttrTuple, e)
				if err != nil {
					return nil, err
				}
				out[i] = nested
			default:
				return nil, errors.Wrapf(errs.ErrValidation, "invalid tuple element %v", el)
			}
		}
		return out, nil
	case AttrDatetime:
		s, ok := raw.(string)
		if !ok {
			return nil, errors.Wrapf(errs.ErrValidation, "invalid datetime attribute value %v", raw)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			t, err = time.Parse("2006-01-02T15:04:05.999999999+00:00", s)
		}
		if err != nil {
			return nil, errors.Wrapf(errs.ErrValidation, "invalid datetime attribute value %q", s)
		}
		return t.UTC(), nil
	}
	return nil, errors.Wrapf(errs.ErrValidation, "unknown attribute kind %d", kind)
}
