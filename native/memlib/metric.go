package memlib

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// metric evaluates transformed predictions against labels.
type metric struct {
	name string
	eval func(pred []float64, label, weight []float32) float64
}

func newMetric(spec string, p *boosterParams) (metric, error) {
	name, arg, hasArg := strings.Cut(spec, "@")
	switch name {
	case "rmse":
		return metric{name: spec, eval: func(pred []float64, label, weight []float32) float64 {
			return math.Sqrt(weightedLoss(pred, label, weight, func(p, y float64) float64 { return (p - y) * (p - y) }))
		}}, nil
	case "mae":
		return metric{name: spec, eval: func(pred []float64, label, weight []float32) float64 {
			return weightedLoss(pred, label, weight, func(p, y float64) float64 { return math.Abs(p - y) })
		}}, nil
	case "mphe":
		slope := p.huberSlope
		return metric{name: spec, eval: func(pred []float64, label, weight []float32) float64 {
			return weightedLoss(pred, label, weight, func(p, y float64) float64 {
				z := (p - y) / slope
				return slope * slope * (math.Sqrt(1+z*z) - 1)
			})
		}}, nil
	case "logloss":
		return metric{name: spec, eval: func(pred []float64, label, weight []float32) float64 {
			const eps = 1e-16
			return weightedLoss(pred, label, weight, func(p, y float64) float64 {
				p = math.Min(math.Max(p, eps), 1-eps)
				return -(y*math.Log(p) + (1-y)*math.Log(1-p))
			})
		}}, nil
	case "error":
		threshold := 0.5
		if hasArg {
			t, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return metric{}, fmt.Errorf("Invalid threshold in metric %s", spec)
			}
			threshold = t
		}
		return metric{name: spec, eval: func(pred []float64, label, weight []float32) float64 {
			return weightedLoss(pred, label, weight, func(p, y float64) float64 {
				if (p > threshold) != (y > 0.5) {
					return 1
				}
				return 0
			})
		}}, nil
	case "quantile":
		alpha := p.quantileAlpha
		return metric{name: spec, eval: func(pred []float64, label, weight []float32) float64 {
			return weightedLoss(pred, label, weight, func(p, y float64) float64 {
				d := y - p
				if d >= 0 {
					return alpha * d
				}
				return (alpha - 1) * d
			})
		}}, nil
	}
	return metric{}, fmt.Errorf("Unknown metric function %s", spec)
}

// weightedLoss is sum(w*loss)/sum(w).
func weightedLoss(pred []float64, label, weight []float32, loss func(p, y float64) float64) float64 {
	n := len(pred)
	if n == 0 {
		return math.NaN()
	}
	values := make([]float64, n)
	w := make([]float64, n)
	for i := range pred {
		values[i] = loss(pred[i], float64(label[i]))
		w[i] = weightAt(weight, i)
	}
	sw := floats.Sum(w)
	if sw == 0 {
		return math.NaN()
	}
	return floats.Dot(values, w) / sw
}

func formatMetric(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
