package memlib

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/YuminosukeSato/xgbridge/native"
	"gonum.org/v1/gonum/mat"
)

// booster is a gradient boosted tree ensemble. Cached datasets are held by
// reference, so freeing a dataset handle does not invalidate the booster.
type booster struct {
	cache  []*dmatrix
	params boosterParams
	trees  []*tree

	// base is the base score in output space; fixed by the first training step.
	base      float64
	baseKnown bool

	numFeature uint64

	attrs        map[string]string
	featureNames []string
	featureTypes []string
}

func (b *booster) objective() (objective, error) {
	return newObjective(b.params.objective, &b.params)
}

// configure fixes the feature count. Before the first tree it grows with
// the widest dataset seen; afterwards wider data is rejected.
func (b *booster) configure(d *dmatrix) error {
	if len(b.trees) == 0 {
		for _, c := range b.cache {
			b.numFeature = max(b.numFeature, c.ncol)
		}
		if d != nil {
			b.numFeature = max(b.numFeature, d.ncol)
		}
		return nil
	}
	if d != nil && d.ncol > b.numFeature {
		return fmt.Errorf("Check failed: learner_model_param_.num_feature >= p_fmat->Info().num_col_ (%d vs. %d) : Number of columns does not match number of features in booster.", b.numFeature, d.ncol)
	}
	return nil
}

func (b *booster) ensureBase(obj objective, d *dmatrix) {
	if b.baseKnown {
		return
	}
	switch {
	case b.params.baseScoreSet:
		b.base = b.params.baseScore
	case len(d.info.label) == int(d.nrow) && d.nrow > 0:
		b.base = obj.initEstimate(d.info.label, d.rowWeights())
	default:
		b.base = 0.5
	}
	b.baseKnown = true
}

func (b *booster) baseMargin(obj objective) float64 {
	if b.baseKnown {
		return obj.probToMargin(b.base)
	}
	if b.params.baseScoreSet {
		return obj.probToMargin(b.params.baseScore)
	}
	return obj.probToMargin(0.5)
}

// margins sums trees [begin, end) over every row of d.
func (b *booster) margins(obj objective, d *dmatrix, data *mat.Dense, begin, end int) []float64 {
	n := int(d.nrow)
	out := make([]float64, n)
	base := b.baseMargin(obj)
	perRowMargin := len(d.info.baseMargin) == n
	for i := 0; i < n; i++ {
		if perRowMargin {
			out[i] = float64(d.info.baseMargin[i])
		} else {
			out[i] = base
		}
	}
	if data == nil {
		return out
	}
	row := make([]float64, data.RawMatrix().Cols)
	for i := 0; i < n; i++ {
		mat.Row(row, i, data)
		for _, t := range b.trees[begin:end] {
			out[i] += t.predict(row)
		}
	}
	return out
}

func checkLabels(d *dmatrix) error {
	if len(d.info.label) == 0 {
		return fmt.Errorf("Check failed: !info.labels.Empty() : Label set is empty.")
	}
	if d.info.labelCols != 1 {
		return fmt.Errorf("Check failed: labels.Shape(1) == 1 (%d vs. 1) : Multi-target labels are not supported by this objective.", d.info.labelCols)
	}
	return nil
}

// ===========================================================================
// Library entry points
// ===========================================================================

// BoosterCreate implements native.Library.
func (l *Lib) BoosterCreate(dmats []native.Ptr, out *native.Ptr) int {
	b := &booster{params: defaultParams(), attrs: make(map[string]string)}
	for _, h := range dmats {
		d, ok := l.dmatrix(h)
		if !ok {
			return l.fail(errDisposed)
		}
		b.cache = append(b.cache, d)
	}
	*out = l.put(b)
	return native.OK
}

// BoosterFree implements native.Library.
func (l *Lib) BoosterFree(h native.Ptr) int {
	return l.free(h, "booster")
}

// BoosterSetParam implements native.Library.
func (l *Lib) BoosterSetParam(h native.Ptr, name, value string) int {
	b, ok := l.booster(h)
	if !ok {
		return l.fail(errDisposed)
	}
	if err := b.params.set(name, value); err != nil {
		return l.failErr(err)
	}
	return native.OK
}

// BoosterGetNumFeature implements native.Library.
func (l *Lib) BoosterGetNumFeature(h native.Ptr, out *uint64) int {
	b, ok := l.booster(h)
	if !ok {
		return l.fail(errDisposed)
	}
	if err := b.configure(nil); err != nil {
		return l.failErr(err)
	}
	*out = b.numFeature
	return native.OK
}

// BoosterBoostedRounds implements native.Library.
func (l *Lib) BoosterBoostedRounds(h native.Ptr, out *int) int {
	b, ok := l.booster(h)
	if !ok {
		return l.fail(errDisposed)
	}
	*out = len(b.trees)
	return native.OK
}

// BoosterUpdateOneIter implements native.Library. The ensemble always
// grows by one tree; the exact builder does not use iter.
func (l *Lib) BoosterUpdateOneIter(h native.Ptr, iter int, dtrain native.Ptr) int {
	b, ok := l.booster(h)
	if !ok {
		return l.fail(errDisposed)
	}
	d, ok := l.dmatrix(dtrain)
	if !ok {
		return l.fail(errDisposed)
	}
	obj, err := b.objective()
	if err != nil {
		return l.failErr(err)
	}
	if err := checkLabels(d); err != nil {
		return l.failErr(err)
	}
	if err := b.configure(d); err != nil {
		return l.failErr(err)
	}
	b.ensureBase(obj, d)

	data := d.dense(int(b.numFeature))
	margin := b.margins(obj, d, data, 0, len(b.trees))
	gpair := make([]gradPair, len(margin))
	if err := obj.gradients(margin, d.info.label, d.rowWeights(), gpair); err != nil {
		return l.failErr(err)
	}
	l.grow(b, data, gpair)
	return native.OK
}

// BoosterBoostOneIter implements native.Library.
func (l *Lib) BoosterBoostOneIter(h native.Ptr, dtrain native.Ptr, grad, hess []float32) int {
	b, ok := l.booster(h)
	if !ok {
		return l.fail(errDisposed)
	}
	d, ok := l.dmatrix(dtrain)
	if !ok {
		return l.fail(errDisposed)
	}
	if len(grad) != len(hess) {
		return l.fail("Check failed: grad.size() == hess.size() (%d vs. %d)", len(grad), len(hess))
	}
	if uint64(len(grad)) != d.nrow {
		return l.fail("Check failed: gpair.Size() == p_fmat->Info().num_row_ (%d vs. %d) : Mismatching size between number of rows from input data and size of gradient vector.", len(grad), d.nrow)
	}
	if !isFinite(grad) || !isFinite(hess) {
		return l.fail("Check failed: gradient and hessian must be finite")
	}
	obj, err := b.objective()
	if err != nil {
		return l.failErr(err)
	}
	if err := b.configure(d); err != nil {
		return l.failErr(err)
	}
	b.ensureBase(obj, d)

	gpair := make([]gradPair, len(grad))
	for i := range grad {
		gpair[i] = gradPair{grad: float64(grad[i]), hess: float64(hess[i])}
	}
	l.grow(b, d.dense(int(b.numFeature)), gpair)
	return native.OK
}

func (l *Lib) grow(b *booster, data *mat.Dense, gpair []gradPair) {
	if data == nil {
		b.trees = append(b.trees, &tree{root: &treeNode{leaf: true}})
		return
	}
	b.trees = append(b.trees, buildTree(data, gpair, b.params.treeParams(l.nthread(0))))
}

// BoosterEvalOneIter implements native.Library.
func (l *Lib) BoosterEvalOneIter(h native.Ptr, iter int, dmats []native.Ptr, names []string, out *string) int {
	b, ok := l.booster(h)
	if !ok {
		return l.fail(errDisposed)
	}
	if len(dmats) != len(names) {
		return l.fail("Check failed: data_sets.size() == data_names.size() (%d vs. %d)", len(dmats), len(names))
	}
	obj, err := b.objective()
	if err != nil {
		return l.failErr(err)
	}

	specs := b.params.metrics
	if len(specs) == 0 && !b.params.disableDefaultMetric {
		specs = []string{obj.defaultMetric()}
	}
	metrics := make([]metric, 0, len(specs))
	for _, s := range specs {
		m, err := newMetric(s, &b.params)
		if err != nil {
			return l.failErr(err)
		}
		metrics = append(metrics, m)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d]", iter)
	for k, h := range dmats {
		d, ok := l.dmatrix(h)
		if !ok {
			return l.fail(errDisposed)
		}
		if err := checkLabels(d); err != nil {
			return l.failErr(err)
		}
		if err := b.configure(d); err != nil {
			return l.failErr(err)
		}
		margin := b.margins(obj, d, d.dense(int(b.numFeature)), 0, len(b.trees))
		pred := make([]float64, len(margin))
		for i, m := range margin {
			pred[i] = obj.transform(m)
		}
		for _, m := range metrics {
			fmt.Fprintf(&sb, "\t%s-%s:%s", names[k], m.name, formatMetric(m.eval(pred, d.info.label, d.rowWeights())))
		}
	}
	*out = sb.String()
	return native.OK
}

// BoosterPredictFromDMatrix implements native.Library.
func (l *Lib) BoosterPredictFromDMatrix(h native.Ptr, dmat native.Ptr, config string, outShape *[]uint64, outResult *[]float32) int {
	b, ok := l.booster(h)
	if !ok {
		return l.fail(errDisposed)
	}
	d, ok := l.dmatrix(dmat)
	if !ok {
		return l.fail(errDisposed)
	}
	var cfg predictConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return l.fail("Invalid prediction config: %v", err)
	}
	if cfg.Type != native.PredictValue && cfg.Type != native.PredictMargin {
		return l.fail("Unsupported prediction type: %d", cfg.Type)
	}
	end := cfg.IterationEnd
	if end == 0 {
		end = len(b.trees)
	}
	if cfg.IterationBegin < 0 || cfg.IterationBegin > end || end > len(b.trees) {
		return l.fail("Check failed: iteration range [%d, %d) is outside of the %d boosted rounds", cfg.IterationBegin, cfg.IterationEnd, len(b.trees))
	}
	obj, err := b.objective()
	if err != nil {
		return l.failErr(err)
	}
	if err := b.configure(d); err != nil {
		return l.failErr(err)
	}
	// a training prediction fixes the base score the next round will use
	if cfg.Training && len(b.trees) == 0 {
		b.ensureBase(obj, d)
	}

	margin := b.margins(obj, d, d.dense(int(b.numFeature)), cfg.IterationBegin, end)
	result := make([]float32, len(margin))
	for i, m := range margin {
		if cfg.Type == native.PredictValue {
			m = obj.transform(m)
		}
		result[i] = float32(m)
	}
	if cfg.StrictShape {
		*outShape = []uint64{d.nrow, 1}
	} else {
		*outShape = []uint64{d.nrow}
	}
	*outResult = result
	return native.OK
}

// BoosterGetAttr implements native.Library.
func (l *Lib) BoosterGetAttr(h native.Ptr, key string, out *string, success *bool) int {
	b, ok := l.booster(h)
	if !ok {
		return l.fail(errDisposed)
	}
	v, found := b.attrs[key]
	*out, *success = v, found
	return native.OK
}

// BoosterSetAttr implements native.Library.
func (l *Lib) BoosterSetAttr(h native.Ptr, key string, value *string) int {
	b, ok := l.booster(h)
	if !ok {
		return l.fail(errDisposed)
	}
	if value == nil {
		delete(b.attrs, key)
		return native.OK
	}
	b.attrs[key] = *value
	return native.OK
}

// BoosterGetAttrNames implements native.Library.
func (l *Lib) BoosterGetAttrNames(h native.Ptr, out *[]string) int {
	b, ok := l.booster(h)
	if !ok {
		return l.fail(errDisposed)
	}
	names := make([]string, 0, len(b.attrs))
	for k := range b.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	*out = names
	return native.OK
}

// BoosterSetStrFeatureInfo implements native.Library.
func (l *Lib) BoosterSetStrFeatureInfo(h native.Ptr, field string, features []string) int {
	b, ok := l.booster(h)
	if !ok {
		return l.fail(errDisposed)
	}
	if err := b.configure(nil); err != nil {
		return l.failErr(err)
	}
	ncol := b.numFeature
	if ncol == 0 {
		ncol = uint64(len(features))
	}
	if err := checkStrFeatureInfo(field, features, ncol); err != nil {
		return l.failErr(err)
	}
	cp := append([]string(nil), features...)
	if len(cp) == 0 {
		cp = nil
	}
	if field == "feature_name" {
		b.featureNames = cp
	} else {
		b.featureTypes = cp
	}
	return native.OK
}

// BoosterGetStrFeatureInfo implements native.Library.
func (l *Lib) BoosterGetStrFeatureInfo(h native.Ptr, field string, out *[]string) int {
	b, ok := l.booster(h)
	if !ok {
		return l.fail(errDisposed)
	}
	switch field {
	case "feature_name":
		*out = b.featureNames
	case "feature_type":
		*out = b.featureTypes
	default:
		return l.fail("Unknown feature info name: %s", field)
	}
	return native.OK
}

// dumpDepths reports the depth of every tree, for diagnostics and tests.
func (b *booster) dumpDepths() []int {
	out := make([]int, len(b.trees))
	for i, t := range b.trees {
		out[i] = t.depth()
	}
	return out
}

var _ native.Library = (*Lib)(nil)

// isFinite reports whether every value is finite.
func isFinite(s []float32) bool {
	for _, v := range s {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}
