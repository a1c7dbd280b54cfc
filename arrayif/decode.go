package arrayif

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/YuminosukeSato/xgbridge/pkg/errors"
)

// Buffer is a host-side copy of the memory a descriptor points at, stored
// in row-major order. Exactly one of the typed slices is set.
type Buffer struct {
	DType   DType
	Shape   []int
	Float32 []float32
	Float64 []float64
	Uint32  []uint32
	Uint64  []uint64
}

// Len is the element count.
func (b *Buffer) Len() int {
	switch b.DType {
	case Float32:
		return len(b.Float32)
	case Float64:
		return len(b.Float64)
	case Uint32:
		return len(b.Uint32)
	case Uint64:
		return len(b.Uint64)
	}
	return 0
}

// AsFloat64 converts the elements to float64.
func (b *Buffer) AsFloat64() []float64 {
	switch b.DType {
	case Float64:
		return append([]float64(nil), b.Float64...)
	case Float32:
		return convert[float32, float64](b.Float32)
	case Uint32:
		return convert[uint32, float64](b.Uint32)
	case Uint64:
		return convert[uint64, float64](b.Uint64)
	}
	return nil
}

// AsFloat32 converts the elements to float32.
func (b *Buffer) AsFloat32() []float32 {
	switch b.DType {
	case Float32:
		return append([]float32(nil), b.Float32...)
	case Float64:
		return convert[float64, float32](b.Float64)
	case Uint32:
		return convert[uint32, float32](b.Uint32)
	case Uint64:
		return convert[uint64, float32](b.Uint64)
	}
	return nil
}

// AsUint64 converts the elements to uint64. Float values are truncated.
func (b *Buffer) AsUint64() []uint64 {
	switch b.DType {
	case Uint64:
		return append([]uint64(nil), b.Uint64...)
	case Uint32:
		return convert[uint32, uint64](b.Uint32)
	case Float32:
		return convert[float32, uint64](b.Float32)
	case Float64:
		return convert[float64, uint64](b.Float64)
	}
	return nil
}

// AsUint32 converts the elements to uint32. Float values are truncated.
func (b *Buffer) AsUint32() []uint32 {
	switch b.DType {
	case Uint32:
		return append([]uint32(nil), b.Uint32...)
	case Uint64:
		return convert[uint64, uint32](b.Uint64)
	case Float32:
		return convert[float32, uint32](b.Float32)
	case Float64:
		return convert[float64, uint32](b.Float64)
	}
	return nil
}

func convert[S, D float32 | float64 | uint32 | uint64](src []S) []D {
	out := make([]D, len(src))
	for i, v := range src {
		out[i] = D(v)
	}
	return out
}

// Decode copies the memory described by d into a row-major Buffer. It is
// used on descriptors produced by native calls and on descriptors received
// by an in-process backend; the address must reference at least NBytes of
// readable memory that stays valid for the duration of the call.
func Decode(d *Descriptor) (*Buffer, error) {
	if d == nil {
		return nil, errors.NewEncodingError("nil descriptor")
	}
	if !d.Typestr.Valid() {
		return nil, errors.NewEncodingError("unsupported typestr %q", string(d.Typestr))
	}
	n, nbytes, err := extent(d.Shape, d.Typestr)
	if err != nil {
		return nil, err
	}
	if d.Address == 0 {
		return nil, errors.NewEncodingError("null data address")
	}
	if d.Strides != nil && !contiguous(d.Shape, d.Strides, d.Typestr.ItemSize()) {
		return nil, errors.NewEncodingError("strides %v are neither row-major nor column-major for shape %v", d.Strides, d.Shape)
	}

	raw := unsafe.Slice((*byte)(unsafe.Pointer(d.Address)), nbytes)
	src := make([]byte, len(raw))
	copy(src, raw)
	d.KeepAlive()

	if d.ColumnMajor() {
		src = transposeToRowMajor(src, d.Shape, d.Typestr.ItemSize())
	}

	buf := &Buffer{DType: d.Typestr, Shape: append([]int(nil), d.Shape...)}
	switch d.Typestr {
	case Float32:
		buf.Float32 = make([]float32, n)
		for i := range buf.Float32 {
			buf.Float32[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		}
	case Float64:
		buf.Float64 = make([]float64, n)
		for i := range buf.Float64 {
			buf.Float64[i] = math.Float64frombits(binary.LittleEndian.Uint64(src[i*8:]))
		}
	case Uint32:
		buf.Uint32 = make([]uint32, n)
		for i := range buf.Uint32 {
			buf.Uint32[i] = binary.LittleEndian.Uint32(src[i*4:])
		}
	case Uint64:
		buf.Uint64 = make([]uint64, n)
		for i := range buf.Uint64 {
			buf.Uint64[i] = binary.LittleEndian.Uint64(src[i*8:])
		}
	}
	return buf, nil
}

// DecodeString parses a JSON array interface and decodes it.
func DecodeString(s string) (*Buffer, error) {
	d, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return Decode(d)
}

// transposeToRowMajor reorders Fortran-ordered elements into C order.
func transposeToRowMajor(src []byte, shape []int, itemsize int) []byte {
	n := len(src) / itemsize
	dst := make([]byte, len(src))
	fstrides := fortranStrides(shape, 1)
	idx := make([]int, len(shape))
	for c := 0; c < n; c++ {
		// c walks C order; idx is its multi-index.
		off := 0
		for k := range idx {
			off += idx[k] * fstrides[k]
		}
		copy(dst[c*itemsize:(c+1)*itemsize], src[off*itemsize:(off+1)*itemsize])
		for k := len(idx) - 1; k >= 0; k-- {
			idx[k]++
			if idx[k] < shape[k] {
				break
			}
			idx[k] = 0
		}
	}
	return dst
}
