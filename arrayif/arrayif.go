// Package arrayif encodes and decodes array interface descriptors: the
// self-describing buffer format (numpy __array_interface__, version 3) the
// native library uses to read host memory without an intermediate copy.
//
// A Descriptor never owns memory. It records the address of a host buffer and
// keeps a reference to it so the garbage collector cannot reclaim the buffer
// while the descriptor is reachable; callers crossing the boundary call
// KeepAlive after the native call returns.
package arrayif

import (
	"encoding/json"
	"math"
	"runtime"
	"strings"
	"unsafe"

	"github.com/YuminosukeSato/xgbridge/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Version is the array interface protocol version written by Encode.
const Version = 3

// DType is an array interface typestr. Only little-endian 32/64-bit floats
// and unsigned integers cross the boundary.
type DType string

const (
	Float32 DType = "<f4"
	Float64 DType = "<f8"
	Uint32  DType = "<u4"
	Uint64  DType = "<u8"
)

// ItemSize returns the element width in bytes, or 0 for an unsupported typestr.
func (d DType) ItemSize() int {
	switch d {
	case Float32, Uint32:
		return 4
	case Float64, Uint64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether d is one of the supported typestrs.
func (d DType) Valid() bool { return d.ItemSize() != 0 }

// Descriptor is an array interface descriptor.
type Descriptor struct {
	Address  uintptr
	ReadOnly bool
	Shape    []int
	// Strides in bytes; nil means C-contiguous (row-major).
	Strides []int
	Typestr DType
	Version int

	keep any
}

// Encode describes buf as an array of the given shape and dtype. The shape
// must be non-empty with positive dimensions and len(buf) must equal
// product(shape)*itemsize(dtype). Nothing is copied: the descriptor points at
// buf.
func Encode(buf []byte, shape []int, dtype DType) (*Descriptor, error) {
	if !dtype.Valid() {
		return nil, errors.NewEncodingError("unsupported typestr %q (want one of <f4, <f8, <u4, <u8)", string(dtype))
	}
	_, want, err := extent(shape, dtype)
	if err != nil {
		return nil, err
	}
	if len(buf) != want {
		return nil, errors.NewEncodingError("buffer holds %d bytes, shape %v of %s needs %d", len(buf), shape, dtype, want)
	}

	return &Descriptor{
		Address:  uintptr(unsafe.Pointer(unsafe.SliceData(buf))),
		ReadOnly: true,
		Shape:    append([]int(nil), shape...),
		Typestr:  dtype,
		Version:  Version,
		keep:     buf,
	}, nil
}

// extent returns the element and byte counts of shape. Products that do
// not fit in an int are rejected.
func extent(shape []int, dtype DType) (n, nbytes int, err error) {
	if len(shape) == 0 {
		return 0, 0, errors.NewEncodingError("shape must not be empty")
	}
	n = 1
	for i, d := range shape {
		if d <= 0 {
			return 0, 0, errors.NewEncodingError("dimension %d of shape %v must be positive", i, shape)
		}
		if n > math.MaxInt/d {
			return 0, 0, errors.NewEncodingError("shape %v overflows the element count", shape)
		}
		n *= d
	}
	size := dtype.ItemSize()
	if n > math.MaxInt/size {
		return 0, 0, errors.NewEncodingError("shape %v of %s overflows the byte count", shape, dtype)
	}
	return n, n * size, nil
}

// shapeOr defaults to a 1-D shape covering n elements.
func shapeOr(shape []int, n int) []int {
	if len(shape) == 0 {
		return []int{n}
	}
	return shape
}

func asBytes[T float32 | float64 | uint32 | uint64](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

func encodeTyped[T float32 | float64 | uint32 | uint64](s []T, shape []int, dtype DType) (*Descriptor, error) {
	d, err := Encode(asBytes(s), shapeOr(shape, len(s)), dtype)
	if err != nil {
		return nil, err
	}
	d.keep = s
	return d, nil
}

// FromFloat32 describes s; shape defaults to [len(s)].
func FromFloat32(s []float32, shape ...int) (*Descriptor, error) {
	return encodeTyped(s, shape, Float32)
}

// FromFloat64 describes s; shape defaults to [len(s)].
func FromFloat64(s []float64, shape ...int) (*Descriptor, error) {
	return encodeTyped(s, shape, Float64)
}

// FromUint32 describes s; shape defaults to [len(s)].
func FromUint32(s []uint32, shape ...int) (*Descriptor, error) {
	return encodeTyped(s, shape, Uint32)
}

// FromUint64 describes s; shape defaults to [len(s)].
func FromUint64(s []uint64, shape ...int) (*Descriptor, error) {
	return encodeTyped(s, shape, Uint64)
}

// FromMat describes a gonum matrix as a row-major [rows, cols] <f8 array.
// Views whose stride differs from their column count are copied first.
func FromMat(m *mat.Dense) (*Descriptor, error) {
	if m == nil || m.IsEmpty() {
		return nil, errors.NewEncodingError("matrix is empty")
	}
	raw := m.RawMatrix()
	data := raw.Data
	if raw.Stride != raw.Cols {
		data = mat.DenseCopyOf(m).RawMatrix().Data
	}
	return FromFloat64(data[:raw.Rows*raw.Cols], raw.Rows, raw.Cols)
}

// Len is the number of elements described.
func (d *Descriptor) Len() int {
	n := 1
	for _, s := range d.Shape {
		n *= s
	}
	return n
}

// NBytes is Len times the item size.
func (d *Descriptor) NBytes() int { return d.Len() * d.Typestr.ItemSize() }

// WithStrides returns a copy of d carrying explicit byte strides. Only
// contiguous row-major or column-major layouts are accepted.
func (d *Descriptor) WithStrides(strides []int) (*Descriptor, error) {
	if strides != nil && !contiguous(d.Shape, strides, d.Typestr.ItemSize()) {
		return nil, errors.NewEncodingError("strides %v are neither row-major nor column-major for shape %v", strides, d.Shape)
	}
	out := *d
	out.Shape = append([]int(nil), d.Shape...)
	out.Strides = append([]int(nil), strides...)
	if strides == nil {
		out.Strides = nil
	}
	return &out, nil
}

// ColumnMajor reports whether d uses Fortran order.
func (d *Descriptor) ColumnMajor() bool {
	if len(d.Strides) == 0 || len(d.Shape) < 2 {
		return false
	}
	return equalInts(d.Strides, fortranStrides(d.Shape, d.Typestr.ItemSize())) &&
		!equalInts(d.Strides, cStrides(d.Shape, d.Typestr.ItemSize()))
}

// KeepAlive marks the backing buffer reachable up to this call. Invoke it
// after the native call that consumed the descriptor.
func (d *Descriptor) KeepAlive() {
	runtime.KeepAlive(d.keep)
}

func cStrides(shape []int, itemsize int) []int {
	strides := make([]int, len(shape))
	acc := itemsize
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

func fortranStrides(shape []int, itemsize int) []int {
	strides := make([]int, len(shape))
	acc := itemsize
	for i := range shape {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

func contiguous(shape, strides []int, itemsize int) bool {
	if len(strides) != len(shape) {
		return false
	}
	return equalInts(strides, cStrides(shape, itemsize)) || equalInts(strides, fortranStrides(shape, itemsize))
}

func equalInts(a, b []int) bool {
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

type wireDescriptor struct {
	Data    []json.RawMessage `json:"data"`
	Shape   []int             `json:"shape"`
	Strides []int             `json:"strides"`
	Typestr string            `json:"typestr"`
	Version int               `json:"version"`
}

type wireOut struct {
	Data    [2]interface{} `json:"data"`
	Shape   []int          `json:"shape"`
	Strides []int          `json:"strides"`
	Typestr string         `json:"typestr"`
	Version int            `json:"version"`
}

// MarshalJSON writes the array interface wire format.
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireOut{
		Data:    [2]interface{}{uint64(d.Address), d.ReadOnly},
		Shape:   d.Shape,
		Strides: d.Strides,
		Typestr: string(d.Typestr),
		Version: d.Version,
	})
}

// String returns the JSON form passed to native entry points.
func (d *Descriptor) String() string {
	b, err := d.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(b)
}

// Parse reads a JSON array interface. It validates the typestr, the shape
// and the strides, but cannot validate the memory behind the address.
func Parse(s string) (*Descriptor, error) {
	var w wireDescriptor
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(&w); err != nil {
		return nil, errors.NewEncodingError("malformed array interface: %v", err)
	}
	if len(w.Data) != 2 {
		return nil, errors.NewEncodingError("data must be a two element [address, readonly] pair")
	}
	var addr uint64
	if err := json.Unmarshal(w.Data[0], &addr); err != nil {
		return nil, errors.NewEncodingError("data address: %v", err)
	}
	var ro bool
	if err := json.Unmarshal(w.Data[1], &ro); err != nil {
		return nil, errors.NewEncodingError("data readonly flag: %v", err)
	}

	dtype := DType(w.Typestr)
	if !dtype.Valid() {
		return nil, errors.NewEncodingError("unsupported typestr %q (want one of <f4, <f8, <u4, <u8)", w.Typestr)
	}
	if _, _, err := extent(w.Shape, dtype); err != nil {
		return nil, err
	}
	if addr == 0 {
		return nil, errors.NewEncodingError("null data address")
	}
	d := &Descriptor{
		Address:  uintptr(addr),
		ReadOnly: ro,
		Shape:    w.Shape,
		Typestr:  dtype,
		Version:  w.Version,
	}
	if w.Strides != nil {
		return d.WithStrides(w.Strides)
	}
	return d, nil
}
