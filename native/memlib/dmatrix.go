package memlib

import (
	"fmt"
	"math"
	"sort"

	"github.com/YuminosukeSato/xgbridge/arrayif"
	"github.com/YuminosukeSato/xgbridge/native"
	"gonum.org/v1/gonum/mat"
)

// metaInfo is the per-dataset auxiliary information.
type metaInfo struct {
	label          []float32
	labelCols      int
	weight         []float32
	baseMargin     []float32
	lowerBound     []float32
	upperBound     []float32
	featureWeights []float32
	groupPtr       []uint32
	featureNames   []string
	featureTypes   []string
}

// dmatrix stores the present entries of a dataset in CSR layout. Entries
// equal to the missing value are never stored.
type dmatrix struct {
	nrow    uint64
	ncol    uint64
	indptr  []uint64
	indices []uint32
	data    []float32
	info    metaInfo
}

func newDMatrix(ncol uint64) *dmatrix {
	return &dmatrix{ncol: ncol, indptr: []uint64{0}}
}

// isMissing reports whether v is dropped for the given missing value. NaN
// is always missing.
func isMissing(v float32, missing float64) bool {
	if math.IsNaN(float64(v)) {
		return true
	}
	return !math.IsNaN(missing) && float64(v) == missing
}

func checkFinite(v float32, missing float64) error {
	if math.IsInf(float64(v), 0) && !math.IsInf(missing, 0) {
		return fmt.Errorf("Input data contains `inf` or a value too large, while `missing` is not set to `inf`")
	}
	return nil
}

func (d *dmatrix) endRow() {
	d.indptr = append(d.indptr, uint64(len(d.data)))
	d.nrow++
}

// row returns the column indices and values of row i.
func (d *dmatrix) row(i int) ([]uint32, []float32) {
	lo, hi := d.indptr[i], d.indptr[i+1]
	return d.indices[lo:hi], d.data[lo:hi]
}

// rowWeights expands per-group weights to one weight per row.
func (d *dmatrix) rowWeights() []float32 {
	w := d.info.weight
	if len(w) == 0 || uint64(len(w)) == d.nrow || len(d.info.groupPtr) != len(w)+1 {
		return w
	}
	out := make([]float32, d.nrow)
	for g := 0; g < len(w); g++ {
		for i := d.info.groupPtr[g]; i < d.info.groupPtr[g+1]; i++ {
			out[i] = w[g]
		}
	}
	return out
}

// dense expands the matrix into a rows x cols gonum matrix with NaN for
// absent entries. Columns beyond the stored width stay NaN.
func (d *dmatrix) dense(cols int) *mat.Dense {
	if cols < int(d.ncol) {
		cols = int(d.ncol)
	}
	rows := int(d.nrow)
	if rows == 0 || cols == 0 {
		return nil
	}
	raw := make([]float64, rows*cols)
	for i := range raw {
		raw[i] = math.NaN()
	}
	for i := 0; i < rows; i++ {
		idx, val := d.row(i)
		for k, j := range idx {
			raw[i*cols+int(j)] = float64(val[k])
		}
	}
	return mat.NewDense(rows, cols, raw)
}

// ===========================================================================
// Construction
// ===========================================================================

func denseFromInterface(iface string, missing float64) (*dmatrix, error) {
	buf, err := arrayif.DecodeString(iface)
	if err != nil {
		return nil, err
	}
	if len(buf.Shape) != 2 {
		return nil, fmt.Errorf("Check failed: array.Shape().size() == 2 (%d vs. 2) : Dense data must be 2-dimensional", len(buf.Shape))
	}
	rows, cols := buf.Shape[0], buf.Shape[1]
	values := buf.AsFloat32()

	d := newDMatrix(uint64(cols))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := values[i*cols+j]
			if err := checkFinite(v, missing); err != nil {
				return nil, err
			}
			if isMissing(v, missing) {
				continue
			}
			d.indices = append(d.indices, uint32(j))
			d.data = append(d.data, v)
		}
		d.endRow()
	}
	return d, nil
}

type compressed struct {
	indptr  []uint64
	indices []uint32
	data    []float32
}

func decodeCompressed(indptrIface, indicesIface, dataIface string) (*compressed, error) {
	indptr, err := arrayif.DecodeString(indptrIface)
	if err != nil {
		return nil, fmt.Errorf("indptr: %w", err)
	}
	var c compressed
	c.indptr = indptr.AsUint64()

	// An empty matrix has no indices or data buffer to describe.
	if len(c.indptr) > 0 && c.indptr[len(c.indptr)-1] > 0 {
		indices, err := arrayif.DecodeString(indicesIface)
		if err != nil {
			return nil, fmt.Errorf("indices: %w", err)
		}
		data, err := arrayif.DecodeString(dataIface)
		if err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
		c.indices = indices.AsUint32()
		c.data = data.AsFloat32()
	}

	if len(c.indptr) == 0 || c.indptr[0] != 0 {
		return nil, fmt.Errorf("Check failed: indptr[0] == 0 : indptr must start at 0")
	}
	for i := 1; i < len(c.indptr); i++ {
		if c.indptr[i] < c.indptr[i-1] {
			return nil, fmt.Errorf("Check failed: indptr is not monotonically increasing at %d", i)
		}
	}
	if last := c.indptr[len(c.indptr)-1]; last != uint64(len(c.data)) {
		return nil, fmt.Errorf("Check failed: indptr.back() == data.Size() (%d vs. %d)", last, len(c.data))
	}
	if len(c.indices) != len(c.data) {
		return nil, fmt.Errorf("Check failed: indices.Size() == data.Size() (%d vs. %d)", len(c.indices), len(c.data))
	}
	return &c, nil
}

func maxIndex(indices []uint32) uint64 {
	var m uint64
	for _, j := range indices {
		if uint64(j)+1 > m {
			m = uint64(j) + 1
		}
	}
	return m
}

func csrFromInterface(indptr, indices, data string, ncol uint64, missing float64) (*dmatrix, error) {
	c, err := decodeCompressed(indptr, indices, data)
	if err != nil {
		return nil, err
	}
	if ncol == 0 {
		ncol = maxIndex(c.indices)
	}
	d := newDMatrix(ncol)
	for r := 0; r+1 < len(c.indptr); r++ {
		for k := c.indptr[r]; k < c.indptr[r+1]; k++ {
			j, v := c.indices[k], c.data[k]
			if uint64(j) >= ncol {
				return nil, fmt.Errorf("Check failed: column index %d < num_col %d", j, ncol)
			}
			if err := checkFinite(v, missing); err != nil {
				return nil, err
			}
			if isMissing(v, missing) {
				continue
			}
			d.indices = append(d.indices, j)
			d.data = append(d.data, v)
		}
		d.endRow()
	}
	return d, nil
}

func cscFromInterface(indptr, indices, data string, nrow uint64, missing float64) (*dmatrix, error) {
	c, err := decodeCompressed(indptr, indices, data)
	if err != nil {
		return nil, err
	}
	if nrow == 0 {
		nrow = maxIndex(c.indices)
	}
	ncol := uint64(len(c.indptr) - 1)

	type entry struct {
		col uint32
		val float32
	}
	rows := make([][]entry, nrow)
	for col := 0; col+1 < len(c.indptr); col++ {
		for k := c.indptr[col]; k < c.indptr[col+1]; k++ {
			r, v := c.indices[k], c.data[k]
			if uint64(r) >= nrow {
				return nil, fmt.Errorf("Check failed: row index %d < num_row %d", r, nrow)
			}
			if err := checkFinite(v, missing); err != nil {
				return nil, err
			}
			if isMissing(v, missing) {
				continue
			}
			rows[r] = append(rows[r], entry{col: uint32(col), val: v})
		}
	}

	d := newDMatrix(ncol)
	for _, es := range rows {
		sort.Slice(es, func(a, b int) bool { return es[a].col < es[b].col })
		for _, e := range es {
			d.indices = append(d.indices, e.col)
			d.data = append(d.data, e.val)
		}
		d.endRow()
	}
	return d, nil
}

// ===========================================================================
// Library entry points
// ===========================================================================

// DMatrixCreateFromDense implements native.Library.
func (l *Lib) DMatrixCreateFromDense(arrayInterface, config string, out *native.Ptr) int {
	var cfg dmatrixConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return l.fail("Invalid DMatrix config: %v", err)
	}
	d, err := denseFromInterface(arrayInterface, cfg.missing())
	if err != nil {
		return l.failErr(err)
	}
	*out = l.put(d)
	return native.OK
}

// DMatrixCreateFromCSR implements native.Library.
func (l *Lib) DMatrixCreateFromCSR(indptr, indices, data string, ncol uint64, config string, out *native.Ptr) int {
	var cfg dmatrixConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return l.fail("Invalid DMatrix config: %v", err)
	}
	d, err := csrFromInterface(indptr, indices, data, ncol, cfg.missing())
	if err != nil {
		return l.failErr(err)
	}
	*out = l.put(d)
	return native.OK
}

// DMatrixCreateFromCSC implements native.Library.
func (l *Lib) DMatrixCreateFromCSC(indptr, indices, data string, nrow uint64, config string, out *native.Ptr) int {
	var cfg dmatrixConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return l.fail("Invalid DMatrix config: %v", err)
	}
	d, err := cscFromInterface(indptr, indices, data, nrow, cfg.missing())
	if err != nil {
		return l.failErr(err)
	}
	*out = l.put(d)
	return native.OK
}

// DMatrixCreateFromURI implements native.Library.
func (l *Lib) DMatrixCreateFromURI(config string, out *native.Ptr) int {
	var cfg uriConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return l.fail("Invalid DMatrix config: %v", err)
	}
	d, err := loadURI(cfg.URI)
	if err != nil {
		return l.failErr(err)
	}
	*out = l.put(d)
	return native.OK
}

// DMatrixFree implements native.Library.
func (l *Lib) DMatrixFree(h native.Ptr) int {
	return l.free(h, "dmatrix")
}

// DMatrixNumRow implements native.Library.
func (l *Lib) DMatrixNumRow(h native.Ptr, out *uint64) int {
	d, ok := l.dmatrix(h)
	if !ok {
		return l.fail(errDisposed)
	}
	*out = d.nrow
	return native.OK
}

// DMatrixNumCol implements native.Library.
func (l *Lib) DMatrixNumCol(h native.Ptr, out *uint64) int {
	d, ok := l.dmatrix(h)
	if !ok {
		return l.fail(errDisposed)
	}
	*out = d.ncol
	return native.OK
}

// DMatrixNumNonMissing implements native.Library.
func (l *Lib) DMatrixNumNonMissing(h native.Ptr, out *uint64) int {
	d, ok := l.dmatrix(h)
	if !ok {
		return l.fail(errDisposed)
	}
	*out = uint64(len(d.data))
	return native.OK
}

// DMatrixSetInfoFromInterface implements native.Library.
func (l *Lib) DMatrixSetInfoFromInterface(h native.Ptr, field, arrayInterface string) int {
	d, ok := l.dmatrix(h)
	if !ok {
		return l.fail(errDisposed)
	}
	buf, err := arrayif.DecodeString(arrayInterface)
	if err != nil {
		return l.failErr(err)
	}
	if err := d.setInfo(field, buf); err != nil {
		return l.failErr(err)
	}
	return native.OK
}

func (d *dmatrix) setInfo(field string, buf *arrayif.Buffer) error {
	rows := int(d.nrow)
	n := buf.Len()
	perRow := func(name string) error {
		if n != rows {
			return fmt.Errorf("Check failed: %s.Size() == num_row_ (%d vs. %d) : Size of %s must equal to number of rows.", name, n, rows, name)
		}
		return nil
	}

	switch field {
	case "label":
		if rows == 0 || n%rows != 0 || (len(buf.Shape) > 0 && buf.Shape[0] != rows) {
			return fmt.Errorf("Check failed: labels.Size() == num_row_ (%d vs. %d) : Size of labels must equal to number of rows.", n, rows)
		}
		d.info.label = buf.AsFloat32()
		d.info.labelCols = n / rows
	case "weight":
		groups := len(d.info.groupPtr) - 1
		if n != rows && (groups <= 0 || n != groups) {
			return fmt.Errorf("Check failed: weights.Size() == num_row_ (%d vs. %d) : Size of weights must equal to the number of query groups when ranking group is used.", n, rows)
		}
		w := buf.AsFloat32()
		for _, v := range w {
			if v < 0 {
				return fmt.Errorf("Weights must be positive values.")
			}
		}
		d.info.weight = w
	case "base_margin":
		if rows == 0 || n%rows != 0 {
			return fmt.Errorf("Check failed: base_margin.Size() %% num_row_ == 0 (%d vs. %d) : Size of base margin must be a multiple of number of rows.", n, rows)
		}
		d.info.baseMargin = buf.AsFloat32()
	case "label_lower_bound":
		if err := perRow("label_lower_bound"); err != nil {
			return err
		}
		d.info.lowerBound = buf.AsFloat32()
	case "label_upper_bound":
		if err := perRow("label_upper_bound"); err != nil {
			return err
		}
		d.info.upperBound = buf.AsFloat32()
	case "feature_weights":
		if n != int(d.ncol) {
			return fmt.Errorf("Check failed: feature_weights.Size() == num_col_ (%d vs. %d) : Size of feature_weights must equal to number of columns.", n, d.ncol)
		}
		fw := buf.AsFloat32()
		for _, v := range fw {
			if v < 0 {
				return fmt.Errorf("Feature weight must be greater than 0.")
			}
		}
		d.info.featureWeights = fw
	case "group":
		sizes := buf.AsUint32()
		ptr := make([]uint32, 1, len(sizes)+1)
		for _, s := range sizes {
			ptr = append(ptr, ptr[len(ptr)-1]+s)
		}
		if int(ptr[len(ptr)-1]) != rows {
			return fmt.Errorf("Invalid group structure. Number of rows obtained from groups doesn't equal to actual number of rows given by data. (%d vs. %d)", ptr[len(ptr)-1], rows)
		}
		d.info.groupPtr = ptr
	case "qid":
		if err := perRow("qid"); err != nil {
			return err
		}
		qid := buf.AsUint64()
		ptr := []uint32{0}
		for i := 1; i < len(qid); i++ {
			if qid[i] < qid[i-1] {
				return fmt.Errorf("qid must be sorted in non-decreasing order along with data.")
			}
			if qid[i] != qid[i-1] {
				ptr = append(ptr, uint32(i))
			}
		}
		d.info.groupPtr = append(ptr, uint32(len(qid)))
	default:
		return fmt.Errorf("Unknown info name: %s", field)
	}
	return nil
}

// DMatrixGetFloatInfo implements native.Library.
func (l *Lib) DMatrixGetFloatInfo(h native.Ptr, field string, out *[]float32) int {
	d, ok := l.dmatrix(h)
	if !ok {
		return l.fail(errDisposed)
	}
	var src []float32
	switch field {
	case "label":
		src = d.info.label
	case "weight":
		src = d.info.weight
	case "base_margin":
		src = d.info.baseMargin
	case "label_lower_bound":
		src = d.info.lowerBound
	case "label_upper_bound":
		src = d.info.upperBound
	case "feature_weights":
		src = d.info.featureWeights
	default:
		return l.fail("Unknown float field name: %s", field)
	}
	*out = src
	return native.OK
}

// DMatrixGetUIntInfo implements native.Library.
func (l *Lib) DMatrixGetUIntInfo(h native.Ptr, field string, out *[]uint32) int {
	d, ok := l.dmatrix(h)
	if !ok {
		return l.fail(errDisposed)
	}
	if field != "group_ptr" {
		return l.fail("Unknown uint field name: %s", field)
	}
	*out = d.info.groupPtr
	return native.OK
}

var validFeatureTypes = map[string]bool{"int": true, "float": true, "i": true, "q": true, "c": true}

func checkStrFeatureInfo(field string, features []string, ncol uint64) error {
	switch field {
	case "feature_name", "feature_type":
	default:
		return fmt.Errorf("Unknown feature info name: %s", field)
	}
	if len(features) != 0 && uint64(len(features)) != ncol {
		return fmt.Errorf("Check failed: size == num_col (%d vs. %d) : Length of %s must be equal to number of columns.", len(features), ncol, field)
	}
	if field == "feature_type" {
		for _, t := range features {
			if !validFeatureTypes[t] {
				return fmt.Errorf("All feature_types must be one of {int, float, i, q, c}, got %q", t)
			}
		}
	}
	return nil
}

// DMatrixSetStrFeatureInfo implements native.Library. An empty list clears
// the field.
func (l *Lib) DMatrixSetStrFeatureInfo(h native.Ptr, field string, features []string) int {
	d, ok := l.dmatrix(h)
	if !ok {
		return l.fail(errDisposed)
	}
	if err := checkStrFeatureInfo(field, features, d.ncol); err != nil {
		return l.failErr(err)
	}
	cp := append([]string(nil), features...)
	if len(cp) == 0 {
		cp = nil
	}
	if field == "feature_name" {
		d.info.featureNames = cp
	} else {
		d.info.featureTypes = cp
	}
	return native.OK
}

// DMatrixGetStrFeatureInfo implements native.Library.
func (l *Lib) DMatrixGetStrFeatureInfo(h native.Ptr, field string, out *[]string) int {
	d, ok := l.dmatrix(h)
	if !ok {
		return l.fail(errDisposed)
	}
	switch field {
	case "feature_name":
		*out = d.info.featureNames
	case "feature_type":
		*out = d.info.featureTypes
	default:
		return l.fail("Unknown feature info name: %s", field)
	}
	return native.OK
}

// DMatrixGetDataAsCSR implements native.Library.
func (l *Lib) DMatrixGetDataAsCSR(h native.Ptr, config string, indptr []uint64, indices []uint32, data []float32) int {
	d, ok := l.dmatrix(h)
	if !ok {
		return l.fail(errDisposed)
	}
	var cfg map[string]interface{}
	if err := decodeConfig(config, &cfg); err != nil {
		return l.fail("Invalid config: %v", err)
	}
	if uint64(len(indptr)) < d.nrow+1 {
		return l.fail("Check failed: out_indptr has %d slots, need %d", len(indptr), d.nrow+1)
	}
	if len(indices) < len(d.indices) || len(data) < len(d.data) {
		return l.fail("Check failed: output buffers hold %d/%d entries, need %d", len(indices), len(data), len(d.data))
	}
	copy(indptr, d.indptr)
	copy(indices, d.indices)
	copy(data, d.data)
	return native.OK
}

// DMatrixSaveBinary implements native.Library.
func (l *Lib) DMatrixSaveBinary(h native.Ptr, fname string, silent bool) int {
	d, ok := l.dmatrix(h)
	if !ok {
		return l.fail(errDisposed)
	}
	if err := saveBinary(d, fname); err != nil {
		return l.failErr(err)
	}
	return native.OK
}
