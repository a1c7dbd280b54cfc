// Package objective provides host-side loss functions for training a
// booster from caller-computed gradients.
//
// An Objective supplies the first and second derivative of a pointwise loss
// with respect to the raw margin. Gradients evaluates them over a whole
// dataset and Boost feeds the result to booster.BoostOneIter:
//
//	obj := objective.NewPseudoHuber(1.5)
//	for i := 0; i < rounds; i++ {
//		if err := objective.Boost(b, dtrain, obj); err != nil {
//			return err
//		}
//	}
package objective

import (
	"math"
	"slices"
	"sort"

	"github.com/YuminosukeSato/xgbridge/core/parallel"
	"github.com/YuminosukeSato/xgbridge/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// Objective is a twice-differentiable pointwise loss on margins.
type Objective interface {
	// Gradient is dLoss/dMargin at one row.
	Gradient(margin, label float64) float64
	// Hessian is d2Loss/dMargin2 at one row. It must be positive.
	Hessian(margin, label float64) float64
	// Loss is the loss at one row.
	Loss(margin, label float64) float64
	// InitScore is the constant margin minimising the loss over labels.
	InitScore(labels []float64) float64
	Name() string
}

// minHessian keeps leaf weights finite for losses with a vanishing second
// derivative.
const minHessian = 1e-16

// SquaredError is 0.5 * (margin - label)^2.
type SquaredError struct{}

func NewSquaredError() *SquaredError { return &SquaredError{} }

func (SquaredError) Gradient(margin, label float64) float64 { return margin - label }
func (SquaredError) Hessian(_, _ float64) float64           { return 1 }

func (SquaredError) Loss(margin, label float64) float64 {
	d := margin - label
	return 0.5 * d * d
}

func (SquaredError) InitScore(labels []float64) float64 {
	if len(labels) == 0 {
		return 0
	}
	return stat.Mean(labels, nil)
}

func (SquaredError) Name() string { return "reg:squarederror" }

// AbsoluteError is |margin - label|. Its hessian is constant so every round
// moves leaves by the mean sign of their residuals.
type AbsoluteError struct{}

func NewAbsoluteError() *AbsoluteError { return &AbsoluteError{} }

func (AbsoluteError) Gradient(margin, label float64) float64 {
	switch {
	case margin > label:
		return 1
	case margin < label:
		return -1
	}
	return 0
}

func (AbsoluteError) Hessian(_, _ float64) float64 { return 1 }

func (AbsoluteError) Loss(margin, label float64) float64 { return math.Abs(margin - label) }

func (AbsoluteError) InitScore(labels []float64) float64 { return quantile(labels, 0.5) }

func (AbsoluteError) Name() string { return "reg:absoluteerror" }

// PseudoHuber is slope^2 * (sqrt(1 + ((margin-label)/slope)^2) - 1), a
// smooth approximation of the Huber loss.
type PseudoHuber struct {
	slope float64
}

// NewPseudoHuber returns a PseudoHuber loss. A non-positive slope means 1.
func NewPseudoHuber(slope float64) *PseudoHuber {
	if slope <= 0 {
		slope = 1
	}
	return &PseudoHuber{slope: slope}
}

func (o *PseudoHuber) Gradient(margin, label float64) float64 {
	z := (margin - label) / o.slope
	return (margin - label) / math.Sqrt(1+z*z)
}

func (o *PseudoHuber) Hessian(margin, label float64) float64 {
	z := (margin - label) / o.slope
	s := math.Sqrt(1 + z*z)
	return 1 / (s * s * s)
}

func (o *PseudoHuber) Loss(margin, label float64) float64 {
	z := (margin - label) / o.slope
	return o.slope * o.slope * (math.Sqrt(1+z*z) - 1)
}

func (o *PseudoHuber) InitScore(labels []float64) float64 { return quantile(labels, 0.5) }

func (o *PseudoHuber) Name() string { return "reg:pseudohubererror" }

// Quantile is the pinball loss at level alpha.
type Quantile struct {
	alpha float64
}

// NewQuantile returns a pinball loss. alpha outside (0, 1) means 0.5.
func NewQuantile(alpha float64) *Quantile {
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.5
	}
	return &Quantile{alpha: alpha}
}

// Alpha returns the quantile level.
func (o *Quantile) Alpha() float64 { return o.alpha }

func (o *Quantile) Gradient(margin, label float64) float64 {
	if margin >= label {
		return 1 - o.alpha
	}
	return -o.alpha
}

func (o *Quantile) Hessian(_, _ float64) float64 { return 1 }

func (o *Quantile) Loss(margin, label float64) float64 {
	d := label - margin
	if d >= 0 {
		return o.alpha * d
	}
	return (o.alpha - 1) * d
}

func (o *Quantile) InitScore(labels []float64) float64 { return quantile(labels, o.alpha) }

func (o *Quantile) Name() string { return "reg:quantileerror" }

// Logistic is the binary log loss on a logit margin. Labels are in [0, 1].
type Logistic struct{}

func NewLogistic() *Logistic { return &Logistic{} }

// Sigmoid maps a logit margin to a probability.
func Sigmoid(margin float64) float64 { return 1 / (1 + math.Exp(-margin)) }

func (Logistic) Gradient(margin, label float64) float64 { return Sigmoid(margin) - label }

func (Logistic) Hessian(margin, _ float64) float64 {
	p := Sigmoid(margin)
	return math.Max(p*(1-p), minHessian)
}

func (Logistic) Loss(margin, label float64) float64 {
	// log(1 + exp(m)) - label*m, stable for large |m|
	return math.Max(margin, 0) - label*margin + math.Log1p(math.Exp(-math.Abs(margin)))
}

func (Logistic) InitScore(labels []float64) float64 {
	if len(labels) == 0 {
		return 0
	}
	p := stat.Mean(labels, nil)
	p = math.Min(math.Max(p, 1e-6), 1-1e-6)
	return math.Log(p / (1 - p))
}

func (Logistic) Name() string { return "binary:logistic" }

// Poisson is the Poisson negative log likelihood on a log-rate margin.
type Poisson struct {
	maxDeltaStep float64
}

// NewPoisson returns a Poisson loss whose hessian is inflated by
// exp(maxDeltaStep) to damp early steps. A non-positive value means 0.7.
func NewPoisson(maxDeltaStep float64) *Poisson {
	if maxDeltaStep <= 0 {
		maxDeltaStep = 0.7
	}
	return &Poisson{maxDeltaStep: maxDeltaStep}
}

func (o *Poisson) Gradient(margin, label float64) float64 { return math.Exp(margin) - label }

func (o *Poisson) Hessian(margin, _ float64) float64 {
	return math.Exp(margin + o.maxDeltaStep)
}

func (o *Poisson) Loss(margin, label float64) float64 { return math.Exp(margin) - label*margin }

func (o *Poisson) InitScore(labels []float64) float64 {
	if len(labels) == 0 {
		return 0
	}
	mean := stat.Mean(labels, nil)
	if mean <= 0 {
		return -10
	}
	return math.Log(mean)
}

func (o *Poisson) Name() string { return "count:poisson" }

// New returns the objective registered under name. Names follow the native
// objective parameter.
func New(name string) (Objective, error) {
	switch name {
	case "reg:squarederror":
		return NewSquaredError(), nil
	case "reg:absoluteerror":
		return NewAbsoluteError(), nil
	case "reg:pseudohubererror":
		return NewPseudoHuber(1), nil
	case "reg:quantileerror":
		return NewQuantile(0.5), nil
	case "binary:logistic":
		return NewLogistic(), nil
	case "count:poisson":
		return NewPoisson(0.7), nil
	}
	return nil, errors.NewInvalidParameterError("objective", name, "unknown objective")
}

// parallelThreshold is the row count below which Gradients stays on the
// calling goroutine.
const parallelThreshold = 4096

// Gradients evaluates obj at every row. weight may be empty, one entry per
// row, or one entry per group when groupPtr is given; each row's gradient
// pair is scaled by its weight.
func Gradients(obj Objective, margin, label, weight []float32, groupPtr []uint32) (grad, hess []float32, err error) {
	const op = "Gradients"
	if len(label) != len(margin) {
		return nil, nil, errors.NewShapeMismatchError(op, "label", len(margin), len(label))
	}
	w, err := rowWeights(op, weight, groupPtr, len(margin))
	if err != nil {
		return nil, nil, err
	}

	grad = make([]float32, len(margin))
	hess = make([]float32, len(margin))
	parallel.ParallelizeWithThreshold(len(margin), parallelThreshold, 0, func(start, end int) {
		for i := start; i < end; i++ {
			m, y := float64(margin[i]), float64(label[i])
			g, h := obj.Gradient(m, y), math.Max(obj.Hessian(m, y), minHessian)
			if w != nil {
				g, h = g*w[i], h*w[i]
			}
			grad[i], hess[i] = float32(g), float32(h)
		}
	})
	return grad, hess, nil
}

// MeanLoss is the weighted mean of obj.Loss over all rows.
func MeanLoss(obj Objective, margin, label, weight []float32) (float64, error) {
	const op = "MeanLoss"
	if len(label) != len(margin) {
		return 0, errors.NewShapeMismatchError(op, "label", len(margin), len(label))
	}
	if len(margin) == 0 {
		return 0, nil
	}
	w, err := rowWeights(op, weight, nil, len(margin))
	if err != nil {
		return 0, err
	}
	loss := make([]float64, len(margin))
	for i := range margin {
		loss[i] = obj.Loss(float64(margin[i]), float64(label[i]))
	}
	return stat.Mean(loss, w), nil
}

func rowWeights(op string, weight []float32, groupPtr []uint32, rows int) ([]float64, error) {
	switch {
	case len(weight) == 0:
		return nil, nil
	case len(weight) == rows:
		return toFloat64(weight), nil
	case len(groupPtr) > 1 && len(weight) == len(groupPtr)-1:
		w := make([]float64, rows)
		for g := 0; g+1 < len(groupPtr); g++ {
			for i := groupPtr[g]; i < groupPtr[g+1] && int(i) < rows; i++ {
				w[i] = float64(weight[g])
			}
		}
		return w, nil
	}
	return nil, errors.NewShapeMismatchError(op, "weight", rows, len(weight))
}

func toFloat64(s []float32) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = float64(v)
	}
	return out
}

// quantile is the empirical alpha-quantile of values.
func quantile(values []float64, alpha float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	sort.Float64s(sorted)
	return stat.Quantile(alpha, stat.Empirical, sorted, nil)
}
