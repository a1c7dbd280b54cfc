package dataset

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/YuminosukeSato/xgbridge/arrayif"
	_ "github.com/YuminosukeSato/xgbridge/native/memlib"
	"github.com/YuminosukeSato/xgbridge/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMain(m *testing.M) {
	errors.SetWarningHandler(func(error) {})
	os.Exit(m.Run())
}

func dense(t *testing.T, values []float32, rows, cols int) *DMatrix {
	t.Helper()
	desc, err := arrayif.FromFloat32(values, rows, cols)
	require.NoError(t, err)
	d, err := NewFromDense(desc, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Free() })
	return d
}

func TestNewFromDenseShape(t *testing.T) {
	tests := []struct {
		name       string
		rows, cols int
	}{
		{"single cell", 1, 1},
		{"wide", 2, 5},
		{"tall", 7, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := make([]float32, tt.rows*tt.cols)
			for i := range values {
				values[i] = float32(i + 1)
			}
			d := dense(t, values, tt.rows, tt.cols)

			rows, err := d.NumRow()
			require.NoError(t, err)
			cols, err := d.NumCol()
			require.NoError(t, err)
			nnz, err := d.NumNonMissing()
			require.NoError(t, err)
			assert.Equal(t, uint64(tt.rows), rows)
			assert.Equal(t, uint64(tt.cols), cols)
			assert.Equal(t, uint64(tt.rows*tt.cols), nnz)
		})
	}
}

func TestNewFromDenseMissing(t *testing.T) {
	nan := float32(math.NaN())
	d := dense(t, []float32{1, nan, 3, nan}, 2, 2)
	nnz, err := d.NumNonMissing()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), nnz)

	desc, err := arrayif.FromFloat32([]float32{0, 1, -1, 2}, 2, 2)
	require.NoError(t, err)
	custom, err := NewFromDense(desc, NewConfig(WithMissing(-1), WithNThread(2)))
	require.NoError(t, err)
	defer custom.Free()
	nnz, err = custom.NumNonMissing()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), nnz)
}

func TestNewFromDenseRejectsNon2D(t *testing.T) {
	desc, err := arrayif.FromFloat32([]float32{1, 2, 3})
	require.NoError(t, err)
	_, err = NewFromDense(desc, nil)
	assert.True(t, errors.Is(err, errors.ErrShapeMismatch))

	_, err = NewFromDense(nil, nil)
	assert.True(t, errors.Is(err, errors.ErrEncoding))
}

func TestNewFromMat(t *testing.T) {
	m := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
	d, err := NewFromMat(m, DefaultConfig())
	require.NoError(t, err)
	defer d.Free()

	rows, _ := d.NumRow()
	cols, _ := d.NumCol()
	assert.Equal(t, uint64(3), rows)
	assert.Equal(t, uint64(2), cols)

	_, _, data, err := d.GetDataAsCSR()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, data)
}

func TestCSRRoundTrip(t *testing.T) {
	indptr := []uint64{0, 2, 2, 5}
	indices := []uint32{0, 3, 1, 2, 3}
	data := []float32{1.5, -2, 3, 4.25, 5}

	d, err := NewFromCSR(indptr, indices, data, 4, nil)
	require.NoError(t, err)
	defer d.Free()

	rows, _ := d.NumRow()
	cols, _ := d.NumCol()
	assert.Equal(t, uint64(3), rows)
	assert.Equal(t, uint64(4), cols)

	gotPtr, gotIdx, gotData, err := d.GetDataAsCSR()
	require.NoError(t, err)
	assert.Equal(t, indptr, gotPtr)
	assert.Equal(t, indices, gotIdx)
	assert.Equal(t, data, gotData)
}

func TestCSCMatchesCSR(t *testing.T) {
	// [[1 0 2]
	//  [0 3 0]]
	csr, err := NewFromCSR([]uint64{0, 2, 3}, []uint32{0, 2, 1}, []float32{1, 2, 3}, 3, nil)
	require.NoError(t, err)
	defer csr.Free()
	csc, err := NewFromCSC([]uint64{0, 1, 2, 3}, []uint32{0, 1, 0}, []float32{1, 3, 2}, 2, nil)
	require.NoError(t, err)
	defer csc.Free()

	p1, i1, d1, err := csr.GetDataAsCSR()
	require.NoError(t, err)
	p2, i2, d2, err := csc.GetDataAsCSR()
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, i1, i2)
	assert.Equal(t, d1, d2)
}

func TestSparseHostChecks(t *testing.T) {
	tests := []struct {
		name    string
		indptr  []uint64
		indices []uint32
		data    []float32
	}{
		{"indices longer than data", []uint64{0, 2}, []uint32{0, 1, 2}, []float32{1, 2}},
		{"indptr ends short", []uint64{0, 1}, []uint32{0, 1}, []float32{1, 2}},
		{"indptr ends long", []uint64{0, 3}, []uint32{0, 1}, []float32{1, 2}},
		{"indptr decreasing", []uint64{0, 2, 1, 2}, []uint32{0, 1}, []float32{1, 2}},
		{"indptr offset", []uint64{1, 2}, []uint32{0, 1}, []float32{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFromCSR(tt.indptr, tt.indices, tt.data, 0, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrShapeMismatch), "got %v", err)
		})
	}
}

func TestNativeRejectsOutOfRangeIndex(t *testing.T) {
	_, err := NewFromCSR([]uint64{0, 1}, []uint32{5}, []float32{1}, 3, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNative))
}

func TestEncodingFailsBeforeNativeCall(t *testing.T) {
	buf := make([]byte, 10)
	_, err := arrayif.Encode(buf, []int{2, 2}, arrayif.Float32)
	assert.True(t, errors.Is(err, errors.ErrEncoding))

	_, err = NewFromCSR([]uint64{0}, nil, nil, 0, nil)
	assert.True(t, errors.Is(err, errors.ErrEncoding))

	// a shape whose product wraps around must not reach the backend
	_, err = arrayif.FromFloat32([]float32{1}, math.MaxInt/2+1, 4, math.MaxInt/2+2)
	assert.True(t, errors.Is(err, errors.ErrEncoding))
}

func TestUseAfterFree(t *testing.T) {
	desc, err := arrayif.FromFloat32([]float32{1, 2}, 1, 2)
	require.NoError(t, err)
	d, err := NewFromDense(desc, nil)
	require.NoError(t, err)
	require.NoError(t, d.Free())

	_, err = d.NumRow()
	assert.True(t, errors.Is(err, errors.ErrInvalidHandle))
	assert.True(t, errors.Is(d.SetLabel([]float32{1}), errors.ErrInvalidHandle))
	_, err = d.FeatureNames()
	assert.True(t, errors.Is(err, errors.ErrInvalidHandle))
	_, _, _, err = d.GetDataAsCSR()
	assert.True(t, errors.Is(err, errors.ErrInvalidHandle))

	err = d.Free()
	var herr *errors.InvalidHandleError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, "dataset", herr.Kind)
}

func TestConcurrentQueries(t *testing.T) {
	d := dense(t, []float32{1, 2, 3, 4, 5, 6}, 3, 2)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				assert.NoError(t, d.SetLabel([]float32{float32(i), 0, 1}))
				return
			}
			rows, err := d.NumRow()
			assert.NoError(t, err)
			assert.Equal(t, uint64(3), rows)
		}(i)
	}
	wg.Wait()

	label, err := d.Label()
	require.NoError(t, err)
	assert.Len(t, label, 3)
}

func TestSaveBinaryRoundTrip(t *testing.T) {
	d := dense(t, []float32{1, 2, 3, 4}, 2, 2)
	require.NoError(t, d.SetLabel([]float32{0, 1}))
	require.NoError(t, d.SetFeatureNames([]string{"a", "b"}))

	path := filepath.Join(t.TempDir(), "train.buffer")
	require.NoError(t, d.SaveBinary(path, true))

	loaded, err := NewFromFile(path, true, Binary)
	require.NoError(t, err)
	defer loaded.Free()

	rows, _ := loaded.NumRow()
	assert.Equal(t, uint64(2), rows)
	label, err := loaded.Label()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, label)
	names, err := loaded.FeatureNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestNewFromFileText(t *testing.T) {
	dir := t.TempDir()
	svm := filepath.Join(dir, "train.libsvm")
	require.NoError(t, os.WriteFile(svm, []byte("1 0:0.5 2:1\n0 1:2\n"), 0o600))
	csv := filepath.Join(dir, "train.csv")
	require.NoError(t, os.WriteFile(csv, []byte("1,2,3\n4,,6\n"), 0o600))

	d, err := NewFromFile(svm, true, LibSVM)
	require.NoError(t, err)
	defer d.Free()
	rows, _ := d.NumRow()
	cols, _ := d.NumCol()
	assert.Equal(t, uint64(2), rows)
	assert.Equal(t, uint64(3), cols)
	label, _ := d.Label()
	assert.Equal(t, []float32{1, 0}, label)

	c, err := NewFromFile(csv, true, CSV)
	require.NoError(t, err)
	defer c.Free()
	nnz, _ := c.NumNonMissing()
	assert.Equal(t, uint64(5), nnz)

	withLabel, err := NewFromURI(csv+"?format=csv&label_column=0", true)
	require.NoError(t, err)
	defer withLabel.Free()
	cols, _ = withLabel.NumCol()
	assert.Equal(t, uint64(2), cols)
}

func TestNewFromFileErrors(t *testing.T) {
	_, err := NewFromFile("data.parquet", true, FileFormat("parquet"))
	var perr *errors.InvalidParameterError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "format", perr.Key)
	assert.Equal(t, "parquet", perr.Value)

	_, err = NewFromFile("", true, LibSVM)
	assert.True(t, errors.Is(err, errors.ErrInvalidParameter))

	_, err = NewFromFile(filepath.Join(t.TempDir(), "absent.libsvm"), true, LibSVM)
	assert.True(t, errors.Is(err, errors.ErrNative))
}

func TestNewFromFileWarns(t *testing.T) {
	var got []error
	errors.SetWarningHandler(func(w error) { got = append(got, w) })
	t.Cleanup(func() { errors.SetWarningHandler(func(error) {}) })

	path := filepath.Join(t.TempDir(), "x.libsvm")
	require.NoError(t, os.WriteFile(path, []byte("1 0:1\n"), 0o600))
	d, err := NewFromFile(path, true, LibSVM)
	require.NoError(t, err)
	defer d.Free()

	require.Len(t, got, 1)
	var w *errors.UnsafeInputWarning
	require.True(t, errors.As(got[0], &w))
	assert.Equal(t, path, w.Path)
	assert.Equal(t, "libsvm", w.Format)
}
