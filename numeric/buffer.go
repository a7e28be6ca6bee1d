package numeric

import (
	"bytes"
	"unsafe"

	"github.com/pkg/errors"
)

// Buffer is a dense, row-major N-dimensional block of elements of a single
// ElementType. A scalar is a buffer with an empty shape.
type Buffer struct {
	dtype ElementType
	shape []int
	data  []byte
}

// NewBuffer allocates a zeroed buffer.
func NewBuffer(dtype ElementType, shape []int) *Buffer {
	return &Buffer{
		dtype: dtype,
		shape: append([]int(nil), shape...),
		data:  make([]byte, Elements(shape)*dtype.Size()),
	}
}

// Wrap builds a buffer over existing element bytes without copying.
func Wrap(dtype ElementType, shape []int, data []byte) (*Buffer, error) {
	if len(data) != Elements(shape)*dtype.Size() {
		return nil, errors.Errorf("data length %d does not match shape %v of dtype %s",
			len(data), shape, dtype)
	}
	return &Buffer{dtype: dtype, shape: append([]int(nil), shape...), data: data}, nil
}

// Elements returns the total cell count of a shape. An empty shape is a
// scalar and holds one element.
func Elements(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func (b *Buffer) Type() ElementType { return b.dtype }
func (b *Buffer) Shape() []int      { return append([]int(nil), b.shape...) }
func (b *Buffer) Len() int          { return len(b.data) / b.dtype.Size() }
func (b *Buffer) Bytes() []byte     { return b.data }

// Reshape reinterprets the buffer with a new shape of the same element count.
// Data is shared, not copied.
func (b *Buffer) Reshape(shape []int) (*Buffer, error) {
	if Elements(shape) != b.Len() {
		return nil, errors.Errorf("cannot reshape %v to %v", b.shape, shape)
	}
	return &Buffer{dtype: b.dtype, shape: append([]int(nil), shape...), data: b.data}, nil
}

// Fill sets every element to v. The value type must equal the buffer type.
func (b *Buffer) Fill(v Value) {
	sz := b.dtype.Size()
	if b.Len() == 0 {
		return
	}
	v.Encode(b.data[:sz])
	// Double the initialized prefix until the whole buffer is covered.
	for filled := sz; filled < len(b.data); filled *= 2 {
		copy(b.data[filled:], b.data[:filled])
	}
}

// ValueAt reads the element at a flat index.
func (b *Buffer) ValueAt(flat int) Value {
	sz := b.dtype.Size()
	return DecodeValue(b.dtype, b.data[flat*sz:])
}

// SetValueAt writes the element at a flat index.
func (b *Buffer) SetValueAt(flat int, v Value) {
	sz := b.dtype.Size()
	v.Encode(b.data[flat*sz : flat*sz+sz])
}

// AllEqual reports whether every element equals v.
func (b *Buffer) AllEqual(v Value) bool {
	sz := b.dtype.Size()
	elem := make([]byte, sz)
	v.Encode(elem)
	for off := 0; off < len(b.data); off += sz {
		if !bytes.Equal(b.data[off:off+sz], elem) {
			return false
		}
	}
	return true
}

// Equal compares dtype, shape and every element bit for bit.
func (b *Buffer) Equal(o *Buffer) bool {
	if b.dtype != o.dtype || len(b.shape) != len(o.shape) {
		return false
	}
	for i := range b.shape {
		if b.shape[i] != o.shape[i] {
			return false
		}
	}
	return bytes.Equal(b.data, o.data)
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	out := &Buffer{dtype: b.dtype, shape: append([]int(nil), b.shape...)}
	out.data = append([]byte(nil), b.data...)
	return out
}

// Typed views over the raw element bytes. The returned slice aliases the
// buffer; it must not outlive it.

func (b *Buffer) Int8s() []int8 {
	return unsafeView[int8](b, Int8)
}

func (b *Buffer) Int16s() []int16 {
	return unsafeView[int16](b, Int16)
}

func (b *Buffer) Int32s() []int32 {
	return unsafeView[int32](b, Int32)
}

func (b *Buffer) Int64s() []int64 {
	return unsafeView[int64](b, Int64)
}

func (b *Buffer) Float32s() []float32 {
	return unsafeView[float32](b, Float32)
}

func (b *Buffer) Float64s() []float64 {
	return unsafeView[float64](b, Float64)
}

func (b *Buffer) Complex64s() []complex64 {
	return unsafeView[complex64](b, Complex64)
}

func (b *Buffer) Complex128s() []complex128 {
	return unsafeView[complex128](b, Complex128)
}

func unsafeView[T any](b *Buffer, want ElementType) []T {
	if b.dtype != want {
		panic(errors.Errorf("buffer holds %s, not %s", b.dtype, want))
	}
	if len(b.data) == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b.data[0])), b.Len())
}

// FromSlice wraps a typed Go slice as a buffer of the matching dtype.
// The slice length must equal the element count of shape.
func FromSlice(shape []int, data interface{}) (*Buffer, error) {
	n := Elements(shape)
	var (
		dtype ElementType
		buf   *Buffer
	)
	switch d := data.(type) {
	case []int8:
		dtype = Int8
		if len(d) != n {
			break
		}
		buf = NewBuffer(dtype, shape)
		copy(buf.Int8s(), d)
	case []int16:
		dtype = Int16
		if len(d) != n {
			break
		}
		buf = NewBuffer(dtype, shape)
		copy(buf.Int16s(), d)
	case []int32:
		dtype = Int32
		if len(d) != n {
			break
		}
		buf = NewBuffer(dtype, shape)
		copy(buf.Int32s(), d)
	case []int64:
		dtype = Int64
		if len(d) != n {
			break
		}
		buf = NewBuffer(dtype, shape)
		copy(buf.Int64s(), d)
	case []float32:
		dtype = Float32
		if len(d) != n {
			break
		}
		buf = NewBuffer(dtype, shape)
		copy(buf.Float32s(), d)
	case []float64:
		dtype = Float64
		if len(d) != n {
			break
		}
		buf = NewBuffer(dtype, shape)
		copy(buf.Float64s(), d)
	case []complex64:
		dtype = Complex64
		if len(d) != n {
			break
		}
		buf = NewBuffer(dtype, shape)
		copy(buf.Complex64s(), d)
	case []complex128:
		dtype = Complex128
		if len(d) != n {
			break
		}
		buf = NewBuffer(dtype, shape)
		copy(buf.Complex128s(), d)
	default:
		return nil, errors.Errorf("unsupported slice type %T", data)
	}
	if buf == nil {
		return nil, errors.Errorf("slice length does not match shape %v", shape)
	}
	return buf, nil
}

// Convert copies the buffer into a new buffer of dtype to. Conversion must
// be lossless; the identity conversion returns the receiver unchanged.
func (b *Buffer) Convert(to ElementType) (*Buffer, error) {
	if b.dtype == to {
		return b, nil
	}
	if !b.dtype.ConvertibleTo(to) {
		return nil, errors.Errorf("cannot convert %s buffer to %s", b.dtype, to)
	}
	out := NewBuffer(to, b.shape)
	for i := 0; i < b.Len(); i++ {
		v, err := b.ValueAt(i).Convert(to)
		if err != nil {
			return nil, err
		}
		out.SetValueAt(i, v)
	}
	return out, nil
}
