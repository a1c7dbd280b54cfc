package memlib

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// binaryMagic prefixes files written by DMatrixSaveBinary.
var binaryMagic = [4]byte{'X', 'G', 'B', 'M'}

const binaryVersion uint32 = 1

// uriSpec is a parsed DMatrix URI: path?format=csv&label_column=0#cache.
type uriSpec struct {
	path         string
	format       string
	labelColumn  int
	indexingMode int
}

func parseURI(uri string) (uriSpec, error) {
	spec := uriSpec{labelColumn: -1}
	if i := strings.IndexByte(uri, '#'); i >= 0 {
		uri = uri[:i]
	}
	path, query, _ := strings.Cut(uri, "?")
	spec.path = path
	if path == "" {
		return spec, fmt.Errorf("Empty DMatrix URI")
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return spec, fmt.Errorf("Invalid URI arguments %q: %v", query, err)
	}
	spec.format = values.Get("format")
	if lc := values.Get("label_column"); lc != "" {
		if spec.labelColumn, err = strconv.Atoi(lc); err != nil {
			return spec, fmt.Errorf(paramFormat, "label_column", "int", lc)
		}
	}
	if im := values.Get("indexing_mode"); im != "" {
		if spec.indexingMode, err = strconv.Atoi(im); err != nil {
			return spec, fmt.Errorf(paramFormat, "indexing_mode", "int", im)
		}
	}
	return spec, nil
}

func loadURI(uri string) (*dmatrix, error) {
	spec, err := parseURI(uri)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(spec.path)
	if err != nil {
		return nil, fmt.Errorf("Opening %s failed: %v", spec.path, err)
	}
	if bytes.HasPrefix(raw, binaryMagic[:]) {
		return readBinary(bytes.NewReader(raw))
	}
	switch spec.format {
	case "", "libsvm":
		return parseLibSVM(raw, spec.indexingMode)
	case "csv":
		return parseCSV(raw, spec.labelColumn)
	default:
		return nil, fmt.Errorf("Unknown data type %s", spec.format)
	}
}

// parseLibSVM reads "label[:weight] [qid:q] idx:value ..." lines. Indices are
// zero-based unless indexingMode is positive.
func parseLibSVM(raw []byte, indexingMode int) (*dmatrix, error) {
	var (
		labels  []float32
		weights []float32
		qids    []uint64
	)
	d := newDMatrix(0)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 64*1024), 1<<26)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = strings.TrimSpace(text[:i])
		}
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		labelText, weightText, hasWeight := strings.Cut(fields[0], ":")
		label, err := strconv.ParseFloat(labelText, 32)
		if err != nil {
			return nil, fmt.Errorf("libsvm line %d: invalid label %q", line, labelText)
		}
		labels = append(labels, float32(label))
		if hasWeight {
			w, err := strconv.ParseFloat(weightText, 32)
			if err != nil {
				return nil, fmt.Errorf("libsvm line %d: invalid weight %q", line, weightText)
			}
			weights = append(weights, float32(w))
		}

		for _, f := range fields[1:] {
			key, value, ok := strings.Cut(f, ":")
			if !ok {
				return nil, fmt.Errorf("libsvm line %d: malformed feature %q", line, f)
			}
			if key == "qid" {
				q, err := strconv.ParseUint(value, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("libsvm line %d: invalid qid %q", line, value)
				}
				qids = append(qids, q)
				continue
			}
			idx, err := strconv.ParseUint(key, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("libsvm line %d: invalid feature index %q", line, key)
			}
			if indexingMode > 0 {
				if idx == 0 {
					return nil, fmt.Errorf("libsvm line %d: feature index 0 with one-based indexing", line)
				}
				idx--
			}
			v, err := strconv.ParseFloat(value, 32)
			if err != nil {
				return nil, fmt.Errorf("libsvm line %d: invalid feature value %q", line, value)
			}
			if isMissing(float32(v), math.NaN()) {
				continue
			}
			d.indices = append(d.indices, uint32(idx))
			d.data = append(d.data, float32(v))
			if idx+1 > d.ncol {
				d.ncol = idx + 1
			}
		}
		d.endRow()
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("libsvm: %v", err)
	}

	if d.nrow > 0 {
		d.info.label = labels
		d.info.labelCols = 1
	}
	if len(weights) > 0 {
		if len(weights) != len(labels) {
			return nil, fmt.Errorf("libsvm: %d of %d rows carry a weight", len(weights), len(labels))
		}
		d.info.weight = weights
	}
	if len(qids) > 0 {
		if len(qids) != len(labels) {
			return nil, fmt.Errorf("libsvm: %d of %d rows carry a qid", len(qids), len(labels))
		}
		ptr := []uint32{0}
		for i := 1; i < len(qids); i++ {
			if qids[i] < qids[i-1] {
				return nil, fmt.Errorf("qid must be sorted in non-decreasing order along with data.")
			}
			if qids[i] != qids[i-1] {
				ptr = append(ptr, uint32(i))
			}
		}
		d.info.groupPtr = append(ptr, uint32(len(qids)))
	}
	return d, nil
}

// parseCSV reads headerless comma separated rows. An empty cell is missing.
// labelColumn < 0 means no label column.
func parseCSV(raw []byte, labelColumn int) (*dmatrix, error) {
	var labels []float32
	d := newDMatrix(0)
	width := -1
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 64*1024), 1<<26)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		cells := strings.Split(text, ",")
		if width < 0 {
			width = len(cells)
			if labelColumn >= width {
				return nil, fmt.Errorf("csv: label_column %d out of range for %d columns", labelColumn, width)
			}
			d.ncol = uint64(width)
			if labelColumn >= 0 {
				d.ncol--
			}
		} else if len(cells) != width {
			return nil, fmt.Errorf("csv line %d: expected %d columns, got %d", line, width, len(cells))
		}

		col := uint32(0)
		for j, cell := range cells {
			cell = strings.TrimSpace(cell)
			var v float64
			if cell == "" {
				v = math.NaN()
			} else {
				var err error
				if v, err = strconv.ParseFloat(cell, 32); err != nil {
					return nil, fmt.Errorf("csv line %d: invalid value %q", line, cell)
				}
			}
			if j == labelColumn {
				labels = append(labels, float32(v))
				continue
			}
			if !isMissing(float32(v), math.NaN()) {
				d.indices = append(d.indices, col)
				d.data = append(d.data, float32(v))
			}
			col++
		}
		d.endRow()
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("csv: %v", err)
	}
	if labelColumn >= 0 && d.nrow > 0 {
		d.info.label = labels
		d.info.labelCols = 1
	}
	return d, nil
}

// ===========================================================================
// Binary format
// ===========================================================================

func saveBinary(d *dmatrix, fname string) (err error) {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("Opening %s failed: %v", fname, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	if err := writeBinary(w, d); err != nil {
		return err
	}
	return w.Flush()
}

func writeBinary(w io.Writer, d *dmatrix) error {
	le := binary.LittleEndian
	header := []interface{}{binaryMagic, binaryVersion, d.nrow, d.ncol, uint64(len(d.data)), uint32(d.info.labelCols)}
	for _, v := range header {
		if err := binary.Write(w, le, v); err != nil {
			return err
		}
	}
	for _, s := range []interface{}{d.indptr, d.indices, d.data} {
		if err := binary.Write(w, le, s); err != nil {
			return err
		}
	}
	for _, field := range [][]float32{d.info.label, d.info.weight, d.info.baseMargin, d.info.lowerBound, d.info.upperBound, d.info.featureWeights} {
		if err := writeSlice(w, field); err != nil {
			return err
		}
	}
	if err := writeSlice(w, d.info.groupPtr); err != nil {
		return err
	}
	for _, names := range [][]string{d.info.featureNames, d.info.featureTypes} {
		if err := binary.Write(w, le, uint64(len(names))); err != nil {
			return err
		}
		for _, s := range names {
			if err := writeSlice(w, []byte(s)); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeSlice[T float32 | uint32 | byte](w io.Writer, s []T) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	return binary.Write(w, binary.LittleEndian, s)
}

func readSlice[T float32 | uint32 | byte](r io.Reader, limit uint64) ([]T, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > limit {
		return nil, fmt.Errorf("corrupted binary DMatrix: field length %d exceeds %d", n, limit)
	}
	if n == 0 {
		return nil, nil
	}
	s := make([]T, n)
	if err := binary.Read(r, binary.LittleEndian, s); err != nil {
		return nil, err
	}
	return s, nil
}

func readBinary(r io.Reader) (*dmatrix, error) {
	le := binary.LittleEndian
	var (
		magic     [4]byte
		version   uint32
		nnz       uint64
		labelCols uint32
	)
	d := &dmatrix{}
	for _, v := range []interface{}{&magic, &version, &d.nrow, &d.ncol, &nnz, &labelCols} {
		if err := binary.Read(r, le, v); err != nil {
			return nil, fmt.Errorf("corrupted binary DMatrix header: %v", err)
		}
	}
	if magic != binaryMagic || version != binaryVersion {
		return nil, fmt.Errorf("invalid binary DMatrix (magic %q, version %d)", magic[:], version)
	}
	const maxEntries = 1 << 34
	if d.nrow > maxEntries || nnz > maxEntries {
		return nil, fmt.Errorf("corrupted binary DMatrix: %d rows, %d entries", d.nrow, nnz)
	}
	d.info.labelCols = int(labelCols)

	d.indptr = make([]uint64, d.nrow+1)
	d.indices = make([]uint32, nnz)
	d.data = make([]float32, nnz)
	for _, s := range []interface{}{d.indptr, d.indices, d.data} {
		if err := binary.Read(r, le, s); err != nil {
			return nil, fmt.Errorf("corrupted binary DMatrix body: %v", err)
		}
	}
	if d.indptr[0] != 0 || d.indptr[d.nrow] != nnz {
		return nil, fmt.Errorf("corrupted binary DMatrix: inconsistent row pointer")
	}

	limit := d.nrow * uint64(max(labelCols, 1))
	if d.ncol > limit {
		limit = d.ncol
	}
	floats := []*[]float32{&d.info.label, &d.info.weight, &d.info.baseMargin, &d.info.lowerBound, &d.info.upperBound, &d.info.featureWeights}
	for _, dst := range floats {
		s, err := readSlice[float32](r, limit)
		if err != nil {
			return nil, fmt.Errorf("corrupted binary DMatrix meta info: %v", err)
		}
		*dst = s
	}
	gp, err := readSlice[uint32](r, d.nrow+1)
	if err != nil {
		return nil, fmt.Errorf("corrupted binary DMatrix meta info: %v", err)
	}
	d.info.groupPtr = gp

	for _, dst := range []*[]string{&d.info.featureNames, &d.info.featureTypes} {
		var n uint64
		if err := binary.Read(r, le, &n); err != nil {
			return nil, fmt.Errorf("corrupted binary DMatrix feature info: %v", err)
		}
		if n > d.ncol {
			return nil, fmt.Errorf("corrupted binary DMatrix: %d feature strings for %d columns", n, d.ncol)
		}
		for i := uint64(0); i < n; i++ {
			b, err := readSlice[byte](r, 1<<16)
			if err != nil {
				return nil, fmt.Errorf("corrupted binary DMatrix feature info: %v", err)
			}
			*dst = append(*dst, string(b))
		}
	}
	return d, nil
}
