package objective

import (
	"math"
	"os"
	"testing"

	"github.com/YuminosukeSato/xgbridge/booster"
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

func TestDerivativesMatchLoss(t *testing.T) {
	const h = 1e-5
	tests := []struct {
		obj         Objective
		exactHess   bool
		margin, lbl float64
	}{
		{NewSquaredError(), true, 1.3, -0.4},
		{NewPseudoHuber(1.5), true, 2.0, -1.0},
		{NewPseudoHuber(0), true, -0.3, 0.9},
		{NewLogistic(), true, 0.7, 1},
		{NewLogistic(), true, -2.5, 0},
		{NewPoisson(0.7), false, 0.4, 3},
		{NewAbsoluteError(), false, 1.0, 0.2},
		{NewQuantile(0.8), false, -1.0, 0.5},
		{NewQuantile(0.8), false, 2.0, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.obj.Name(), func(t *testing.T) {
			m, y := tt.margin, tt.lbl
			numGrad := (tt.obj.Loss(m+h, y) - tt.obj.Loss(m-h, y)) / (2 * h)
			assert.InDelta(t, numGrad, tt.obj.Gradient(m, y), 1e-5)

			hess := tt.obj.Hessian(m, y)
			assert.Greater(t, hess, 0.0)
			if tt.exactHess {
				numHess := (tt.obj.Gradient(m+h, y) - tt.obj.Gradient(m-h, y)) / (2 * h)
				assert.InDelta(t, numHess, hess, 1e-5)
			}
		})
	}
}

func TestInitScore(t *testing.T) {
	tests := []struct {
		name   string
		obj    Objective
		labels []float64
		want   float64
	}{
		{"mean", NewSquaredError(), []float64{1, 2, 3, 10}, 4},
		{"median", NewAbsoluteError(), []float64{10, 1, 3, 2}, 2},
		{"median huber", NewPseudoHuber(1), []float64{5, 1, 100}, 5},
		{"upper quantile", NewQuantile(0.9), []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}, 9},
		{"log odds", NewLogistic(), []float64{0, 1, 1, 1}, math.Log(3)},
		{"log rate", NewPoisson(0), []float64{2, 2}, math.Log(2)},
		{"empty", NewSquaredError(), nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.obj.InitScore(tt.labels), 1e-9)
		})
	}
}

func TestQuantileAlphaDefault(t *testing.T) {
	assert.Equal(t, 0.5, NewQuantile(0).Alpha())
	assert.Equal(t, 0.5, NewQuantile(1).Alpha())
	assert.Equal(t, 0.25, NewQuantile(0.25).Alpha())
}

func TestNew(t *testing.T) {
	for _, name := range []string{"reg:squarederror", "reg:absoluteerror", "reg:pseudohubererror", "reg:quantileerror", "binary:logistic", "count:poisson"} {
		obj, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, name, obj.Name())
	}

	_, err := New("multi:softprob")
	var perr *errors.InvalidParameterError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "objective", perr.Key)
	assert.Equal(t, "multi:softprob", perr.Value)
}

func TestGradients(t *testing.T) {
	margin := []float32{1, 2, 3, 4}
	label := []float32{0, 0, 0, 0}

	grad, hess, err := Gradients(NewSquaredError(), margin, label, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, grad)
	assert.Equal(t, []float32{1, 1, 1, 1}, hess)

	grad, hess, err = Gradients(NewSquaredError(), margin, label, []float32{2, 0, 1, 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 0, 3, 4}, grad)
	assert.Equal(t, float32(2), hess[0])

	// one weight per query group
	grad, _, err = Gradients(NewSquaredError(), margin, label, []float32{10, 1}, []uint32{0, 1, 4})
	require.NoError(t, err)
	assert.Equal(t, []float32{10, 2, 3, 4}, grad)
}

func TestGradientsShapeErrors(t *testing.T) {
	_, _, err := Gradients(NewSquaredError(), []float32{1, 2}, []float32{1}, nil, nil)
	var serr *errors.ShapeMismatchError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "label", serr.Field)
	assert.Equal(t, 2, serr.Expected)
	assert.Equal(t, 1, serr.Got)

	_, _, err = Gradients(NewSquaredError(), []float32{1, 2}, []float32{1, 2}, []float32{1, 2, 3}, nil)
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "weight", serr.Field)
}

func TestGradientsParallel(t *testing.T) {
	n := parallelThreshold * 3
	margin := make([]float32, n)
	label := make([]float32, n)
	for i := range margin {
		margin[i] = float32(i % 11)
		label[i] = float32(i % 5)
	}
	grad, hess, err := Gradients(NewPseudoHuber(2), margin, label, nil, nil)
	require.NoError(t, err)
	obj := NewPseudoHuber(2)
	for _, i := range []int{0, 1, parallelThreshold, n - 1} {
		m, y := float64(margin[i]), float64(label[i])
		assert.InDelta(t, obj.Gradient(m, y), float64(grad[i]), 1e-6)
		assert.InDelta(t, obj.Hessian(m, y), float64(hess[i]), 1e-6)
	}
}

func TestMeanLoss(t *testing.T) {
	loss, err := MeanLoss(NewAbsoluteError(), []float32{1, 3}, []float32{0, 0}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, loss, 1e-12)

	loss, err = MeanLoss(NewAbsoluteError(), []float32{1, 3}, []float32{0, 0}, []float32{3, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, loss, 1e-12)

	loss, err = MeanLoss(NewAbsoluteError(), nil, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, loss)
}

// regression builds y = 2*x0 - x1 over a small grid.
func regression(t *testing.T, rows int) (*dataset.DMatrix, []float32) {
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
	return d, y
}

func newBooster(t *testing.T, d *dataset.DMatrix) *booster.Booster {
	t.Helper()
	b, err := booster.New(d)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Free() })
	return b
}

func predictLoss(t *testing.T, b *booster.Booster, d *dataset.DMatrix, obj Objective, label []float32) float64 {
	t.Helper()
	pred, err := b.Predict(d, booster.PredictOptions{OutputMargin: true})
	require.NoError(t, err)
	loss, err := MeanLoss(obj, pred.Values, label, nil)
	require.NoError(t, err)
	return loss
}

func TestBoostMatchesBuiltinObjective(t *testing.T) {
	d, y := regression(t, 42)
	custom := newBooster(t, d)
	builtin := newBooster(t, d)

	obj := NewSquaredError()
	for i := 0; i < 8; i++ {
		require.NoError(t, Boost(custom, d, obj))
		require.NoError(t, builtin.UpdateOneIter(i, d))
	}

	rounds, err := custom.BoostedRounds()
	require.NoError(t, err)
	assert.Equal(t, 8, rounds)

	got := predictLoss(t, custom, d, obj, y)
	want := predictLoss(t, builtin, d, obj, y)
	assert.InDelta(t, want, got, 1e-3)
}

func TestBoostReducesLoss(t *testing.T) {
	for _, obj := range []Objective{NewPseudoHuber(1), NewAbsoluteError(), NewQuantile(0.5)} {
		t.Run(obj.Name(), func(t *testing.T) {
			d, y := regression(t, 42)
			b := newBooster(t, d)
			require.NoError(t, b.SetParam("eta", "0.5"))

			require.NoError(t, Boost(b, d, obj))
			first := predictLoss(t, b, d, obj, y)
			for i := 0; i < 15; i++ {
				require.NoError(t, Boost(b, d, obj))
			}
			last := predictLoss(t, b, d, obj, y)
			assert.Less(t, last, first)
		})
	}
}

func TestBoostNeedsLabels(t *testing.T) {
	d, err := dataset.NewFromMat(mat.NewDense(3, 1, []float64{1, 2, 3}), nil)
	require.NoError(t, err)
	defer d.Free()
	b := newBooster(t, d)

	err = Boost(b, d, NewSquaredError())
	assert.True(t, errors.Is(err, errors.ErrShapeMismatch), "got %v", err)

	rounds, err := b.BoostedRounds()
	require.NoError(t, err)
	assert.Zero(t, rounds)
}

func TestBoostReleasedBooster(t *testing.T) {
	d, _ := regression(t, 10)
	b, err := booster.New(d)
	require.NoError(t, err)
	require.NoError(t, b.Free())

	assert.True(t, errors.Is(Boost(b, d, NewSquaredError()), errors.ErrInvalidHandle))
}
