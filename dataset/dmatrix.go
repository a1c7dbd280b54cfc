// Package dataset builds native datasets (DMatrix) from host buffers and
// files, and reads and writes their meta information.
//
// A DMatrix owns one native handle. Free releases it; a DMatrix dropped
// without Free is reclaimed by the garbage collector, which raises a
// HandleLeakWarning. All methods are safe for concurrent use: queries share
// the handle, meta-info writes hold it exclusively.
//
// Host buffers are described with package arrayif and are not copied on the
// way in. Slices returned by accessors are host-owned copies.
package dataset

import (
	"github.com/YuminosukeSato/xgbridge/arrayif"
	"github.com/YuminosukeSato/xgbridge/handle"
	"github.com/YuminosukeSato/xgbridge/native"
	"github.com/YuminosukeSato/xgbridge/pkg/errors"
	"github.com/YuminosukeSato/xgbridge/pkg/log"
	"gonum.org/v1/gonum/mat"
)

// DMatrix is a native dataset.
type DMatrix struct {
	h *handle.Handle
	a *native.Adapter
}

func logger() log.Logger { return log.GetLoggerWithName("dataset") }

// create runs a native constructor and wraps the new pointer in a handle.
func create(op string, fn func(lib native.Library, out *native.Ptr) int) (*DMatrix, error) {
	a, err := native.Default()
	if err != nil {
		return nil, err
	}
	var ptr native.Ptr
	if err := a.Call(op, func(lib native.Library) int { return fn(lib, &ptr) }); err != nil {
		return nil, err
	}
	h := handle.New(handle.Dataset, ptr, func(p native.Ptr) error {
		return a.Call("XGDMatrixFree", func(lib native.Library) int { return lib.DMatrixFree(p) })
	})
	logger().Debug("dataset created", log.NativeOpKey, op, log.HandleIDKey, h.ID())
	return &DMatrix{h: h, a: a}, nil
}

// NewFromDense creates a dataset from a [rows, cols] array. Entries equal to
// cfg.Missing, and NaN entries, are treated as missing. A nil cfg means
// DefaultConfig.
func NewFromDense(desc *arrayif.Descriptor, cfg *Config) (*DMatrix, error) {
	const op = "XGDMatrixCreateFromDense"
	if desc == nil {
		return nil, errors.NewEncodingError("%s: nil descriptor", op)
	}
	if len(desc.Shape) != 2 {
		return nil, errors.NewShapeMismatchError(op, "shape", 2, len(desc.Shape))
	}
	iface, config := desc.String(), cfg.native()
	d, err := create(op, func(lib native.Library, out *native.Ptr) int {
		return lib.DMatrixCreateFromDense(iface, config, out)
	})
	desc.KeepAlive()
	return d, err
}

// NewFromMat creates a dataset from a gonum matrix.
func NewFromMat(m *mat.Dense, cfg *Config) (*DMatrix, error) {
	desc, err := arrayif.FromMat(m)
	if err != nil {
		return nil, err
	}
	return NewFromDense(desc, cfg)
}

// NewFromSparse creates a dataset from compressed sparse components. For
// CSR, indptr has rows+1 entries and n is the column count; for CSC, indptr
// has cols+1 entries and n is the row count. An n of 0 lets the library
// infer the minor dimension from the largest index.
//
// The components are checked before the native call: indices and data must
// have equal length, and indptr must start at 0, be non-decreasing and end
// at len(data).
func NewFromSparse(indptr, indices, data *arrayif.Descriptor, n uint64, cfg *Config, format SparseFormat) (*DMatrix, error) {
	op := "XGDMatrixCreateFromCSR"
	if format == CSC {
		op = "XGDMatrixCreateFromCSC"
	}
	if indptr == nil || indices == nil || data == nil {
		return nil, errors.NewEncodingError("%s: nil descriptor", op)
	}
	if err := checkCompressed(op, indptr, indices, data); err != nil {
		return nil, err
	}

	ip, ix, dv, config := indptr.String(), indices.String(), data.String(), cfg.native()
	d, err := create(op, func(lib native.Library, out *native.Ptr) int {
		if format == CSC {
			return lib.DMatrixCreateFromCSC(ip, ix, dv, n, config, out)
		}
		return lib.DMatrixCreateFromCSR(ip, ix, dv, n, config, out)
	})
	indptr.KeepAlive()
	indices.KeepAlive()
	data.KeepAlive()
	return d, err
}

func checkCompressed(op string, indptr, indices, data *arrayif.Descriptor) error {
	for _, c := range []struct {
		name string
		desc *arrayif.Descriptor
	}{{"indptr", indptr}, {"indices", indices}, {"data", data}} {
		if len(c.desc.Shape) != 1 {
			return errors.NewShapeMismatchError(op, c.name+" dimensions", 1, len(c.desc.Shape))
		}
	}
	nnz := data.Len()
	if indices.Len() != nnz {
		return errors.NewShapeMismatchError(op, "indices", nnz, indices.Len())
	}

	buf, err := arrayif.Decode(indptr)
	indptr.KeepAlive()
	if err != nil {
		return err
	}
	ptr := buf.AsUint64()
	if ptr[0] != 0 {
		return errors.NewShapeMismatchError(op, "indptr[0]", 0, int(ptr[0]))
	}
	for i := 1; i < len(ptr); i++ {
		if ptr[i] < ptr[i-1] {
			return errors.NewShapeMismatchError(op, "non-decreasing indptr", int(ptr[i-1]), int(ptr[i]))
		}
	}
	if last := ptr[len(ptr)-1]; last != uint64(nnz) {
		return errors.NewShapeMismatchError(op, "indptr[last]", nnz, int(last))
	}
	return nil
}

// NewFromCSR creates a dataset from row-compressed slices; ncol is the
// column count (0 to infer).
func NewFromCSR(indptr []uint64, indices []uint32, data []float32, ncol uint64, cfg *Config) (*DMatrix, error) {
	return fromSlices(indptr, indices, data, ncol, cfg, CSR)
}

// NewFromCSC creates a dataset from column-compressed slices; nrow is the
// row count (0 to infer).
func NewFromCSC(indptr []uint64, indices []uint32, data []float32, nrow uint64, cfg *Config) (*DMatrix, error) {
	return fromSlices(indptr, indices, data, nrow, cfg, CSC)
}

func fromSlices(indptr []uint64, indices []uint32, data []float32, n uint64, cfg *Config, format SparseFormat) (*DMatrix, error) {
	ip, err := arrayif.FromUint64(indptr)
	if err != nil {
		return nil, err
	}
	ix, err := arrayif.FromUint32(indices)
	if err != nil {
		return nil, err
	}
	dv, err := arrayif.FromFloat32(data)
	if err != nil {
		return nil, err
	}
	return NewFromSparse(ip, ix, dv, n, cfg, format)
}

// NewFromFile loads a dataset through the native file parser.
//
// The parser runs inside the native library without any host-side
// validation: a malformed or hostile file can crash the process or corrupt
// its memory. Only load files you trust. Every call raises an
// UnsafeInputWarning.
func NewFromFile(path string, silent bool, format FileFormat) (*DMatrix, error) {
	if path == "" {
		return nil, errors.NewInvalidParameterError("path", path, "path must not be empty")
	}
	var uri string
	switch format {
	case Binary:
		uri = path
	case LibSVM, CSV:
		uri = path + "?format=" + string(format)
	default:
		return nil, errors.NewInvalidParameterError("format", string(format), "want libsvm, csv or binary")
	}
	errors.Warn(errors.NewUnsafeInputWarning(path, string(format)))
	return newFromURI(uri, silent)
}

// NewFromURI is NewFromFile with a raw native URI, for parser arguments
// such as "train.csv?format=csv&label_column=0". The same safety caveat
// applies.
func NewFromURI(uri string, silent bool) (*DMatrix, error) {
	errors.Warn(errors.NewUnsafeInputWarning(uri, "uri"))
	return newFromURI(uri, silent)
}

func newFromURI(uri string, silent bool) (*DMatrix, error) {
	config := native.URIConfig{URI: uri, Silent: silent}.String()
	d, err := create("XGDMatrixCreateFromURI", func(lib native.Library, out *native.Ptr) int {
		return lib.DMatrixCreateFromURI(config, out)
	})
	if err == nil {
		logger().Debug("dataset loaded from file", log.PathKey, uri, log.HandleIDKey, d.h.ID())
	}
	return d, err
}

// Handle exposes the underlying handle to packages that pass datasets to
// other native calls.
func (d *DMatrix) Handle() *handle.Handle { return d.h }

// Free releases the native dataset. Calling Free twice returns an
// InvalidHandleError.
func (d *DMatrix) Free() error { return d.h.Release() }

func (d *DMatrix) count(ptr native.Ptr, op string, fn func(native.Library, native.Ptr, *uint64) int) (uint64, error) {
	var n uint64
	err := d.a.Call(op, func(lib native.Library) int { return fn(lib, ptr, &n) })
	return n, err
}

func (d *DMatrix) numRow(ptr native.Ptr) (uint64, error) {
	return d.count(ptr, "XGDMatrixNumRow", native.Library.DMatrixNumRow)
}

func (d *DMatrix) numCol(ptr native.Ptr) (uint64, error) {
	return d.count(ptr, "XGDMatrixNumCol", native.Library.DMatrixNumCol)
}

func (d *DMatrix) query(op string, fn func(native.Library, native.Ptr, *uint64) int) (uint64, error) {
	var n uint64
	err := d.h.Shared(op, func(ptr native.Ptr) error {
		var err error
		n, err = d.count(ptr, op, fn)
		return err
	})
	return n, err
}

// NumRow returns the row count.
func (d *DMatrix) NumRow() (uint64, error) {
	return d.query("XGDMatrixNumRow", native.Library.DMatrixNumRow)
}

// NumCol returns the column count.
func (d *DMatrix) NumCol() (uint64, error) {
	return d.query("XGDMatrixNumCol", native.Library.DMatrixNumCol)
}

// NumNonMissing returns the number of stored (non-missing) entries.
func (d *DMatrix) NumNonMissing() (uint64, error) {
	return d.query("XGDMatrixNumNonMissing", native.Library.DMatrixNumNonMissing)
}

// GetDataAsCSR returns the stored entries in row-compressed form.
func (d *DMatrix) GetDataAsCSR() (indptr []uint64, indices []uint32, data []float32, err error) {
	const op = "XGDMatrixGetDataAsCSR"
	err = d.h.Shared(op, func(ptr native.Ptr) error {
		rows, err := d.numRow(ptr)
		if err != nil {
			return err
		}
		nnz, err := d.count(ptr, "XGDMatrixNumNonMissing", native.Library.DMatrixNumNonMissing)
		if err != nil {
			return err
		}
		indptr = make([]uint64, rows+1)
		indices = make([]uint32, nnz)
		data = make([]float32, nnz)
		return d.a.Call(op, func(lib native.Library) int {
			return lib.DMatrixGetDataAsCSR(ptr, "{}", indptr, indices, data)
		})
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return indptr, indices, data, nil
}

// SaveBinary writes the dataset, meta information included, in the native
// binary format readable by NewFromFile(path, silent, Binary).
func (d *DMatrix) SaveBinary(path string, silent bool) error {
	const op = "XGDMatrixSaveBinary"
	return d.h.Shared(op, func(ptr native.Ptr) error {
		return d.a.Call(op, func(lib native.Library) int { return lib.DMatrixSaveBinary(ptr, path, silent) })
	})
}
