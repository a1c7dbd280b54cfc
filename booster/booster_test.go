package booster

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/YuminosukeSato/xgbridge/dataset"
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

// regression builds y = 2*x0 - x1 over a small grid.
func regression(t *testing.T, rows int) *dataset.DMatrix {
	t.Helper()
	x := mat.NewDense(rows, 2, nil)
	y := make([]float32, rows)
	for i := 0; i < rows; i++ {
		a, b := float64(i%7), float64(i%3)
		x.Set(i, 0, a)
		x.Set(i, 1, b)
		y[i] = float32(2*a - b)
	}
	d, err := dataset.NewFromMat(x, nil)
	require.NoError(t, err)
	require.NoError(t, d.SetLabel(y))
	t.Cleanup(func() { _ = d.Free() })
	return d
}

func newBooster(t *testing.T, dmats ...*dataset.DMatrix) *Booster {
	t.Helper()
	b, err := New(dmats...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Free() })
	return b
}

func TestRoundsCountUpdates(t *testing.T) {
	d := regression(t, 30)
	b := newBooster(t, d)

	rounds, err := b.BoostedRounds()
	require.NoError(t, err)
	assert.Equal(t, 0, rounds)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.UpdateOneIter(i, d))
		rounds, err = b.BoostedRounds()
		require.NoError(t, err)
		assert.Equal(t, i+1, rounds)
	}

	n, err := b.NumFeature()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestBoostOneIterRejectsShortGradients(t *testing.T) {
	d := regression(t, 10)
	b := newBooster(t, d)

	grad := make([]float32, 10)
	hess := make([]float32, 10)
	for i := range hess {
		grad[i] = 0.5
		hess[i] = 1
	}

	tests := []struct {
		name  string
		grad  []float32
		hess  []float32
		field string
	}{
		{"short grad", grad[:9], hess, "grad"},
		{"short hess", grad, hess[:3], "hess"},
		{"long grad", append(append([]float32(nil), grad...), 1), hess, "grad"},
		{"empty", nil, nil, "grad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.BoostOneIter(d, tt.grad, tt.hess)
			var serr *errors.ShapeMismatchError
			require.True(t, errors.As(err, &serr), "got %v", err)
			assert.Equal(t, tt.field, serr.Field)
			assert.Equal(t, 10, serr.Expected)

			rounds, err := b.BoostedRounds()
			require.NoError(t, err)
			assert.Equal(t, 0, rounds)
		})
	}

	require.NoError(t, b.BoostOneIter(d, grad, hess))
	rounds, err := b.BoostedRounds()
	require.NoError(t, err)
	assert.Equal(t, 1, rounds)
}

func TestUseAfterFree(t *testing.T) {
	d := regression(t, 8)
	b, err := New(d)
	require.NoError(t, err)
	require.NoError(t, b.Free())

	calls := map[string]func() error{
		"SetParam":      func() error { return b.SetParam("eta", "0.1") },
		"UpdateOneIter": func() error { return b.UpdateOneIter(0, d) },
		"BoostOneIter":  func() error { return b.BoostOneIter(d, []float32{1}, []float32{1}) },
		"BoostedRounds": func() error { _, err := b.BoostedRounds(); return err },
		"EvalOneIter": func() error {
			_, err := b.EvalOneIter(0, []*dataset.DMatrix{d}, []string{"train"})
			return err
		},
		"Predict": func() error { _, err := b.Predict(d, PredictOptions{}); return err },
		"Attr":    func() error { _, err := b.Attr("k"); return err },
		"SetAttr": func() error { return b.SetAttr("k", "v") },
		"Free":    b.Free,
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			var herr *errors.InvalidHandleError
			require.True(t, errors.As(err, &herr), "got %v", err)
			assert.Equal(t, "model", herr.Kind)
		})
	}
}

func TestNewRejectsReleasedDataset(t *testing.T) {
	d, err := dataset.NewFromMat(mat.NewDense(2, 1, []float64{1, 2}), nil)
	require.NoError(t, err)
	require.NoError(t, d.Free())

	_, err = New(d)
	var herr *errors.InvalidHandleError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, "dataset", herr.Kind)

	_, err = New(nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidHandle))
}

func TestBoosterOutlivesDataset(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	d, err := dataset.NewFromMat(x, nil)
	require.NoError(t, err)
	require.NoError(t, d.SetLabel([]float32{1, 2, 3, 4}))
	b := newBooster(t, d)
	require.NoError(t, d.Free())

	n, err := b.NumFeature()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	// The freed dataset can no longer be passed in.
	assert.True(t, errors.Is(b.UpdateOneIter(0, d), errors.ErrInvalidHandle))
}

func TestSetParamErrors(t *testing.T) {
	b := newBooster(t)

	err := b.SetParam("eta", "fast")
	var perr *errors.InvalidParameterError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, "eta", perr.Key)
	assert.Equal(t, "fast", perr.Value)
	assert.Contains(t, perr.Message, "Invalid Parameter format for eta")

	err = b.SetParams(map[string]string{"max_depth": "3", "lambda": "x", "eta": "0.1"})
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "lambda", perr.Key)

	require.NoError(t, b.SetParams(map[string]string{"max_depth": "3", "eta": "0.1", "objective": "reg:squarederror"}))
}

func TestConcurrentParameterErrors(t *testing.T) {
	const workers = 24
	boosters := make([]*Booster, workers)
	for i := range boosters {
		boosters[i] = newBooster(t)
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = boosters[i].SetParam("max_depth", fmt.Sprintf("depth-%d", i))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		var perr *errors.InvalidParameterError
		require.True(t, errors.As(err, &perr), "worker %d: %v", i, err)
		want := fmt.Sprintf("depth-%d", i)
		assert.Equal(t, want, perr.Value)
		assert.Contains(t, perr.Message, "value='"+want+"'")
	}
}

func TestConcurrentMixedParameterOutcomes(t *testing.T) {
	const workers = 24
	boosters := make([]*Booster, workers)
	for i := range boosters {
		boosters[i] = newBooster(t)
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value := fmt.Sprintf("%d", i%5+1)
			if i%2 == 1 {
				value = fmt.Sprintf("depth-%d", i)
			}
			errs[i] = boosters[i].SetParam("max_depth", value)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if i%2 == 0 {
			assert.NoError(t, err, "worker %d", i)
			continue
		}
		var perr *errors.InvalidParameterError
		require.True(t, errors.As(err, &perr), "worker %d: %v", i, err)
		want := fmt.Sprintf("depth-%d", i)
		assert.Equal(t, want, perr.Value)
		assert.Contains(t, perr.Message, "value='"+want+"'")
	}
}

func TestEvalOneIter(t *testing.T) {
	train := regression(t, 21)
	valid := regression(t, 14)
	b := newBooster(t, train, valid)
	require.NoError(t, b.SetParam("eval_metric", "rmse"))
	require.NoError(t, b.SetParam("eval_metric", "mae"))

	var first, last float64
	for i := 0; i < 5; i++ {
		require.NoError(t, b.UpdateOneIter(i, train))
		report, err := b.EvalOneIter(i, []*dataset.DMatrix{train, valid}, []string{"train", "valid"})
		require.NoError(t, err)
		text := report.String()
		assert.True(t, strings.HasPrefix(text, fmt.Sprintf("[%d]\ttrain-rmse:", i)), text)
		assert.Contains(t, text, "\tvalid-mae:")

		var rmse float64
		_, err = fmt.Sscanf(strings.Split(text, "\t")[1], "train-rmse:%g", &rmse)
		require.NoError(t, err)
		if i == 0 {
			first = rmse
		}
		last = rmse
	}
	assert.Less(t, last, first)

	_, err := b.EvalOneIter(0, []*dataset.DMatrix{train, valid}, []string{"train"})
	var serr *errors.ShapeMismatchError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, 2, serr.Expected)
	assert.Equal(t, 1, serr.Got)
}

func TestAttributes(t *testing.T) {
	b := newBooster(t)

	names, err := b.AttrNames()
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = b.Attr("best_iteration")
	var nf *errors.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "best_iteration", nf.Key)

	require.NoError(t, b.SetAttr("best_iteration", "7"))
	require.NoError(t, b.SetAttr("note", ""))
	require.NoError(t, b.SetAttr("best_iteration", "9"))

	v, err := b.Attr("best_iteration")
	require.NoError(t, err)
	assert.Equal(t, "9", v)
	v, err = b.Attr("note")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	names, err = b.AttrNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"best_iteration", "note"}, names)

	require.NoError(t, b.DeleteAttr("note"))
	require.NoError(t, b.DeleteAttr("absent"))
	_, err = b.Attr("note")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestFeatureInfo(t *testing.T) {
	d := regression(t, 6)
	b := newBooster(t, d)

	err := b.SetFeatureNames([]string{"only"})
	var serr *errors.ShapeMismatchError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, 2, serr.Expected)

	require.NoError(t, b.SetFeatureNames([]string{"a", "b"}))
	require.NoError(t, b.SetFeatureTypes([]string{"float", "q"}))
	names, err := b.FeatureNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
	types, err := b.FeatureTypes()
	require.NoError(t, err)
	assert.Equal(t, []string{"float", "q"}, types)

	assert.True(t, errors.Is(b.SetStrFeatureInfo("feature_weights", nil), errors.ErrInvalidField))
	_, err = b.GetStrFeatureInfo("names")
	assert.True(t, errors.Is(err, errors.ErrInvalidField))
}

func TestPredict(t *testing.T) {
	d := regression(t, 28)
	b := newBooster(t, d)
	require.NoError(t, b.SetParams(map[string]string{"eta": "1", "max_depth": "6"}))
	for i := 0; i < 10; i++ {
		require.NoError(t, b.UpdateOneIter(i, d))
	}

	pred, err := b.Predict(d, PredictOptions{})
	require.NoError(t, err)
	assert.Equal(t, []uint64{28}, pred.Shape)
	label, err := d.Label()
	require.NoError(t, err)
	for i := range label {
		assert.InDelta(t, label[i], pred.Values[i], 0.5, "row %d", i)
	}

	strict, err := b.Predict(d, PredictOptions{StrictShape: true})
	require.NoError(t, err)
	assert.Equal(t, []uint64{28, 1}, strict.Shape)
	m := strict.Mat()
	r, c := m.Dims()
	assert.Equal(t, 28, r)
	assert.Equal(t, 1, c)

	partial, err := b.Predict(d, PredictOptions{IterationEnd: 1})
	require.NoError(t, err)
	assert.NotEqual(t, pred.Values, partial.Values)

	_, err = b.Predict(d, PredictOptions{IterationEnd: 11})
	assert.True(t, errors.Is(err, errors.ErrNative))
	_, err = b.Predict(d, PredictOptions{IterationBegin: -1})
	assert.True(t, errors.Is(err, errors.ErrInvalidParameter))
}

func TestTrainingPredictOnFreshModel(t *testing.T) {
	d := regression(t, 21)
	b := newBooster(t, d)

	const workers = 16
	var wg sync.WaitGroup
	margins := make([][]float32, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := b.Predict(d, PredictOptions{OutputMargin: true, Training: i%2 == 0})
			if assert.NoError(t, err) {
				margins[i] = p.Values
			}
		}(i)
	}
	wg.Wait()

	settled, err := b.Predict(d, PredictOptions{OutputMargin: true, Training: true})
	require.NoError(t, err)
	for i := 0; i < workers; i += 2 {
		assert.Equal(t, settled.Values, margins[i], "worker %d", i)
	}
	for _, v := range settled.Values[1:] {
		assert.Equal(t, settled.Values[0], v)
	}

	rounds, err := b.BoostedRounds()
	require.NoError(t, err)
	assert.Zero(t, rounds)
}

func TestPredictLogisticMargin(t *testing.T) {
	x := mat.NewDense(6, 1, []float64{0, 1, 2, 3, 4, 5})
	d, err := dataset.NewFromMat(x, nil)
	require.NoError(t, err)
	defer d.Free()
	require.NoError(t, d.SetLabel([]float32{0, 0, 0, 1, 1, 1}))

	b := newBooster(t, d)
	require.NoError(t, b.SetParams(map[string]string{"objective": "binary:logistic", "min_child_weight": "0"}))
	for i := 0; i < 3; i++ {
		require.NoError(t, b.UpdateOneIter(i, d))
	}

	prob, err := b.Predict(d, PredictOptions{})
	require.NoError(t, err)
	margin, err := b.Predict(d, PredictOptions{OutputMargin: true})
	require.NoError(t, err)
	for i := range prob.Values {
		want := 1 / (1 + math.Exp(-float64(margin.Values[i])))
		assert.InDelta(t, want, float64(prob.Values[i]), 1e-5)
	}
	assert.Less(t, prob.Values[0], float32(0.5))
	assert.Greater(t, prob.Values[5], float32(0.5))
}

func TestConcurrentPredictAndTrain(t *testing.T) {
	d := regression(t, 20)
	b := newBooster(t, d)
	require.NoError(t, b.UpdateOneIter(0, d))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, b.UpdateOneIter(i, d))
				return
			}
			p, err := b.Predict(d, PredictOptions{})
			if assert.NoError(t, err) {
				assert.Len(t, p.Values, 20)
			}
		}(i)
	}
	wg.Wait()

	rounds, err := b.BoostedRounds()
	require.NoError(t, err)
	assert.Equal(t, 5, rounds)
}
