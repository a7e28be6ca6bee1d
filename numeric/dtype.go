package numeric

import (
	"github.com/pkg/errors"
)

// ElementType identifies the cell type shared by every array in a collection.
type ElementType int

const (
	Invalid ElementType = iota
	Int8
	Int16
	Int32
	Int64
	Float32
	Float64
	Complex64
	Complex128
)

var dtypeCodes = map[ElementType]string{
	Int8:       "int8",
	Int16:      "int16",
	Int32:      "int32",
	Int64:      "int64",
	Float32:    "float32",
	Float64:    "float64",
	Complex64:  "complex64",
	Complex128: "complex128",
}

var dtypeSizes = map[ElementType]int{
	Int8:       1,
	Int16:      2,
	Int32:      4,
	Int64:      8,
	Float32:    4,
	Float64:    8,
	Complex64:  8,
	Complex128: 16,
}

// Code returns the canonical string code used in manifests.
func (t ElementType) Code() string {
	if code, ok := dtypeCodes[t]; ok {
		return code
	}
	return "invalid"
}

func (t ElementType) String() string { return t.Code() }

// Size returns the width of a single element in bytes.
func (t ElementType) Size() int { return dtypeSizes[t] }

func (t ElementType) Valid() bool {
	_, ok := dtypeSizes[t]
	return ok
}

func (t ElementType) IsInt() bool {
	return t == Int8 || t == Int16 || t == Int32 || t == Int64
}

func (t ElementType) IsFloat() bool {
	return t == Float32 || t == Float64
}

func (t ElementType) IsComplex() bool {
	return t == Complex64 || t == Complex128
}

// ParseElementType resolves a manifest dtype code.
func ParseElementType(code string) (ElementType, error) {
	for t, c := range dtypeCodes {
		if c == code {
			return t, nil
		}
	}
	return Invalid, errors.Errorf("unknown dtype code %q", code)
}

// ConvertibleTo reports whether every value of type t can be represented
// exactly as a value of type to. Identity counts as convertible.
func (t ElementType) ConvertibleTo(to ElementType) bool {
	if t == to {
		return true
	}
	switch t {
	case Int8:
		return to == Int16 || to == Int32 || to == Int64 ||
			to == Float32 || to == Float64 || to == Complex64 || to == Complex128
	case Int16:
		return to == Int32 || to == Int64 ||
			to == Float32 || to == Float64 || to == Complex64 || to == Complex128
	case Int32:
		return to == Int64 || to == Float64 || to == Complex128
	case Int64:
		return false
	case Float32:
		return to == Float64 || to == Complex64 || to == Complex128
	case Float64:
		return to == Complex128
	case Complex64:
		return to == Complex128
	}
	return false
}
