package memlib

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// objective computes gradient pairs and maps margins to outputs.
type objective interface {
	name() string
	defaultMetric() string
	gradients(margin []float64, label, weight []float32, out []gradPair) error
	// transform maps a margin to the output space.
	transform(margin float64) float64
	// probToMargin maps a base score to a margin.
	probToMargin(base float64) float64
	// initEstimate estimates the base score from labels.
	initEstimate(label, weight []float32) float64
}

func newObjective(name string, p *boosterParams) (objective, error) {
	switch name {
	case "reg:squarederror":
		return squaredError{}, nil
	case "reg:absoluteerror":
		return absoluteError{}, nil
	case "reg:pseudohubererror":
		return pseudoHuber{slope: p.huberSlope}, nil
	case "reg:quantileerror":
		return quantileError{alpha: p.quantileAlpha}, nil
	case "binary:logistic":
		return logistic{}, nil
	}
	return nil, fmt.Errorf("Unknown objective function: `%s`", name)
}

func weightAt(weight []float32, i int) float64 {
	if len(weight) == 0 {
		return 1
	}
	return float64(weight[i])
}

func toFloat64(s []float32) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = float64(v)
	}
	return out
}

func weightedMean(label, weight []float32) float64 {
	if len(label) == 0 {
		return 0
	}
	var w []float64
	if len(weight) > 0 {
		w = toFloat64(weight)
	}
	return stat.Mean(toFloat64(label), w)
}

func weightedQuantile(label, weight []float32, q float64) float64 {
	if len(label) == 0 {
		return 0
	}
	x := toFloat64(label)
	var w []float64
	if len(weight) > 0 {
		w = toFloat64(weight)
	}
	// stat.Quantile needs x sorted together with its weights
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })
	xs := make([]float64, len(x))
	var ws []float64
	if w != nil {
		ws = make([]float64, len(w))
	}
	for k, i := range idx {
		xs[k] = x[i]
		if w != nil {
			ws[k] = w[i]
		}
	}
	return stat.Quantile(q, stat.Empirical, xs, ws)
}

type squaredError struct{}

func (squaredError) name() string          { return "reg:squarederror" }
func (squaredError) defaultMetric() string { return "rmse" }

func (squaredError) gradients(margin []float64, label, weight []float32, out []gradPair) error {
	for i := range margin {
		w := weightAt(weight, i)
		out[i] = gradPair{grad: (margin[i] - float64(label[i])) * w, hess: w}
	}
	return nil
}

func (squaredError) transform(m float64) float64         { return m }
func (squaredError) probToMargin(b float64) float64      { return b }
func (squaredError) initEstimate(l, w []float32) float64 { return weightedMean(l, w) }

type absoluteError struct{}

func (absoluteError) name() string          { return "reg:absoluteerror" }
func (absoluteError) defaultMetric() string { return "mae" }

func (absoluteError) gradients(margin []float64, label, weight []float32, out []gradPair) error {
	for i := range margin {
		w := weightAt(weight, i)
		diff := margin[i] - float64(label[i])
		var g float64
		switch {
		case diff > 0:
			g = 1
		case diff < 0:
			g = -1
		}
		out[i] = gradPair{grad: g * w, hess: w}
	}
	return nil
}

func (absoluteError) transform(m float64) float64    { return m }
func (absoluteError) probToMargin(b float64) float64 { return b }
func (absoluteError) initEstimate(l, w []float32) float64 {
	return weightedQuantile(l, w, 0.5)
}

type pseudoHuber struct {
	slope float64
}

func (pseudoHuber) name() string          { return "reg:pseudohubererror" }
func (pseudoHuber) defaultMetric() string { return "mphe" }

func (p pseudoHuber) gradients(margin []float64, label, weight []float32, out []gradPair) error {
	for i := range margin {
		w := weightAt(weight, i)
		z := margin[i] - float64(label[i])
		scale := 1 + (z/p.slope)*(z/p.slope)
		sq := math.Sqrt(scale)
		out[i] = gradPair{grad: z / sq * w, hess: w / (scale * sq)}
	}
	return nil
}

func (pseudoHuber) transform(m float64) float64    { return m }
func (pseudoHuber) probToMargin(b float64) float64 { return b }
func (pseudoHuber) initEstimate(l, w []float32) float64 {
	return weightedQuantile(l, w, 0.5)
}

type quantileError struct {
	alpha float64
}

func (quantileError) name() string          { return "reg:quantileerror" }
func (quantileError) defaultMetric() string { return "quantile" }

func (q quantileError) gradients(margin []float64, label, weight []float32, out []gradPair) error {
	for i := range margin {
		w := weightAt(weight, i)
		g := -q.alpha
		if float64(label[i]) < margin[i] {
			g = 1 - q.alpha
		}
		out[i] = gradPair{grad: g * w, hess: w}
	}
	return nil
}

func (quantileError) transform(m float64) float64    { return m }
func (quantileError) probToMargin(b float64) float64 { return b }
func (q quantileError) initEstimate(l, w []float32) float64 {
	return weightedQuantile(l, w, q.alpha)
}

type logistic struct{}

func (logistic) name() string          { return "binary:logistic" }
func (logistic) defaultMetric() string { return "logloss" }

func (logistic) gradients(margin []float64, label, weight []float32, out []gradPair) error {
	for i := range margin {
		y := float64(label[i])
		if y < 0 || y > 1 {
			return fmt.Errorf("label must be in [0,1] for logistic regression")
		}
		w := weightAt(weight, i)
		p := sigmoid(margin[i])
		out[i] = gradPair{grad: (p - y) * w, hess: math.Max(p*(1-p), 1e-16) * w}
	}
	return nil
}

func (logistic) transform(m float64) float64 { return sigmoid(m) }

func (logistic) probToMargin(b float64) float64 {
	b = math.Min(math.Max(b, 1e-16), 1-1e-16)
	return math.Log(b / (1 - b))
}

func (logistic) initEstimate(l, w []float32) float64 { return weightedMean(l, w) }

func sigmoid(x float64) float64 {
	if x > 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
