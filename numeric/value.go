package numeric

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Byte order of every on-disk element. Matches the rest of the storage format.
var ByteOrder = binary.LittleEndian

// Value is a single scalar of some ElementType. Integer kinds are carried as
// int64, float kinds as float64 and complex kinds as complex128, so any cell
// value round-trips without loss.
type Value struct {
	t ElementType
	i int64
	f float64
	c complex128
}

func IntValue(t ElementType, v int64) Value     { return Value{t: t, i: v} }
func FloatValue(t ElementType, v float64) Value { return Value{t: t, f: v} }
func ComplexValue(t ElementType, v complex128) Value {
	return Value{t: t, c: v}
}

// Zero returns the zero value of the given type.
func Zero(t ElementType) Value { return Value{t: t} }

func (v Value) Type() ElementType { return v.t }

func (v Value) Int() int64         { return v.i }
func (v Value) Float() float64     { return v.f }
func (v Value) Complex() complex128 { return v.c }

func (v Value) Equal(o Value) bool {
	if v.t != o.t {
		return false
	}
	switch {
	case v.t.IsInt():
		return v.i == o.i
	case v.t.IsFloat():
		if math.IsNaN(v.f) && math.IsNaN(o.f) {
			return true
		}
		return v.f == o.f
	default:
		return complexEqual(v.c, o.c)
	}
}

func complexEqual(a, b complex128) bool {
	re := real(a) == real(b) || (math.IsNaN(real(a)) && math.IsNaN(real(b)))
	im := imag(a) == imag(b) || (math.IsNaN(imag(a)) && math.IsNaN(imag(b)))
	return re && im
}

// Encode writes the element bytes of v into dst, which must be at least
// v.Type().Size() long.
func (v Value) Encode(dst []byte) {
	switch v.t {
	case Int8:
		dst[0] = byte(int8(v.i))
	case Int16:
		ByteOrder.PutUint16(dst, uint16(int16(v.i)))
	case Int32:
		ByteOrder.PutUint32(dst, uint32(int32(v.i)))
	case Int64:
		ByteOrder.PutUint64(dst, uint64(v.i))
	case Float32:
		ByteOrder.PutUint32(dst, math.Float32bits(float32(v.f)))
	case Float64:
		ByteOrder.PutUint64(dst, math.Float64bits(v.f))
	case Complex64:
		ByteOrder.PutUint32(dst, math.Float32bits(float32(real(v.c))))
		ByteOrder.PutUint32(dst[4:], math.Float32bits(float32(imag(v.c))))
	case Complex128:
		ByteOrder.PutUint64(dst, math.Float64bits(real(v.c)))
		ByteOrder.PutUint64(dst[8:], math.Float64bits(imag(v.c)))
	}
}

// DecodeValue reads one element of type t from src.
func DecodeValue(t ElementType, src []byte) Value {
	switch t {
	case Int8:
		return IntValue(t, int64(int8(src[0])))
	case Int16:
		return IntValue(t, int64(int16(ByteOrder.Uint16(src))))
	case Int32:
		return IntValue(t, int64(int32(ByteOrder.Uint32(src))))
	case Int64:
		return IntValue(t, int64(ByteOrder.Uint64(src)))
	case Float32:
		return FloatValue(t, float64(math.Float32frombits(ByteOrder.Uint32(src))))
	case Float64:
		return FloatValue(t, math.Float64frombits(ByteOrder.Uint64(src)))
	case Complex64:
		re := math.Float32frombits(ByteOrder.Uint32(src))
		im := math.Float32frombits(ByteOrder.Uint32(src[4:]))
		return ComplexValue(t, complex(float64(re), float64(im)))
	case Complex128:
		re := math.Float64frombits(ByteOrder.Uint64(src))
		im := math.Float64frombits(ByteOrder.Uint64(src[8:]))
		return ComplexValue(t, complex(re, im))
	}
	return Value{}
}

// Strict JSON cannot carry NaN or infinities, so they are serialized through
// reserved string sentinels.
const (
	jsonNaN    = "NaN"
	jsonPosInf = "Infinity"
	jsonNegInf = "-Infinity"
)

func floatToJSON(f float64) interface{} {
	switch {
	case math.IsNaN(f):
		return jsonNaN
	case math.IsInf(f, 1):
		return jsonPosInf
	case math.IsInf(f, -1):
		return jsonNegInf
	}
	return f
}

func floatFromJSON(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		switch x {
		case jsonNaN:
			return math.NaN(), nil
		case jsonPosInf:
			return math.Inf(1), nil
		case jsonNegInf:
			return math.Inf(-1), nil
		}
	}
	return 0, errors.Errorf("invalid float value %v", v)
}

// JSON returns a representation suitable for encoding/json. Complex numbers
// serialize as strings in Go syntax, e.g. "(1+2i)".
func (v Value) JSON() interface{} {
	switch {
	case v.t.IsInt():
		return v.i
	case v.t.IsFloat():
		return floatToJSON(v.f)
	default:
		return strconv.FormatComplex(v.c, 'g', -1, 128)
	}
}

// ValueFromJSON restores a Value of type t from its JSON representation.
func ValueFromJSON(t ElementType, raw interface{}) (Value, error) {
	switch {
	case t.IsInt():
		switch x := raw.(type) {
		case float64:
			return IntValue(t, int64(x)), nil
		case int64:
			return IntValue(t, x), nil
		case int:
			return IntValue(t, int64(x)), nil
		}
		return Value{}, errors.Errorf("invalid integer value %v", raw)
	case t.IsFloat():
		f, err := floatFromJSON(raw)
		if err != nil {
			return Value{}, err
		}
		return FloatValue(t, f), nil
	case t.IsComplex():
		s, ok := raw.(string)
		if !ok {
			return Value{}, errors.Errorf("invalid complex value %v", raw)
		}
		c, err := strconv.ParseComplex(strings.TrimSpace(s), 128)
		if err != nil {
			return Value{}, errors.Wrap(err, "invalid complex value")
		}
		return ComplexValue(t, c), nil
	}
	return Value{}, errors.Errorf("invalid dtype %v", t)
}

// Convert re-types v. The conversion must be lossless, see ElementType.ConvertibleTo.
func (v Value) Convert(to ElementType) (Value, error) {
	if !v.t.ConvertibleTo(to) {
		return Value{}, errors.Errorf("cannot convert %s value to %s", v.t, to)
	}
	if v.t == to {
		return v, nil
	}
	out := Value{t: to}
	switch {
	case to.IsInt():
		out.i = v.i
	case to.IsFloat():
		if v.t.IsInt() {
			out.f = float64(v.i)
		} else {
			out.f = v.f
		}
	default:
		switch {
		case v.t.IsInt():
			out.c = complex(float64(v.i), 0)
		case v.t.IsFloat():
			out.c = complex(v.f, 0)
		default:
			out.c = v.c
		}
	}
	return out, nil
}
