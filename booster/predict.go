package booster

import (
	"fmt"
	"slices"

	"github.com/YuminosukeSato/xgbridge/dataset"
	"github.com/YuminosukeSato/xgbridge/handle"
	"github.com/YuminosukeSato/xgbridge/native"
	"github.com/YuminosukeSato/xgbridge/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// PredictOptions selects what Predict computes.
type PredictOptions struct {
	// OutputMargin returns raw margins instead of transformed predictions.
	OutputMargin bool
	// IterationBegin and IterationEnd restrict the trees used to
	// [begin, end). An end of 0 means all rounds.
	IterationBegin int
	IterationEnd   int
	// StrictShape always returns a [rows, groups] shape.
	StrictShape bool
	// Training marks predictions made inside a training loop.
	Training bool
}

func (o PredictOptions) native() string {
	t := native.PredictValue
	if o.OutputMargin {
		t = native.PredictMargin
	}
	return native.PredictConfig{
		Type:           t,
		Training:       o.Training,
		IterationBegin: o.IterationBegin,
		IterationEnd:   o.IterationEnd,
		StrictShape:    o.StrictShape,
	}.String()
}

// Prediction is a host-owned copy of a native prediction result.
type Prediction struct {
	Shape  []uint64
	Values []float32
}

// Rows returns the leading dimension.
func (p *Prediction) Rows() int {
	if len(p.Shape) == 0 {
		return 0
	}
	return int(p.Shape[0])
}

// Mat returns the prediction as a rows x k matrix.
func (p *Prediction) Mat() *mat.Dense {
	rows := p.Rows()
	if rows == 0 {
		return nil
	}
	data := make([]float64, len(p.Values))
	for i, v := range p.Values {
		data[i] = float64(v)
	}
	return mat.NewDense(rows, len(data)/rows, data)
}

// Predict runs the model on dmat. Plain predictions only read the model
// and may run concurrently with other predictions and evaluations. With
// Training set the backend may settle the base score of a model that has
// no trees yet, so the model is held exclusively for that call.
func (b *Booster) Predict(dmat *dataset.DMatrix, opts PredictOptions) (*Prediction, error) {
	const op = "XGBoosterPredictFromDMatrix"
	hs, err := datasetHandles(op, []*dataset.DMatrix{dmat})
	if err != nil {
		return nil, err
	}
	if opts.IterationBegin < 0 || opts.IterationEnd < 0 {
		return nil, errors.NewInvalidParameterError("iteration_range", fmt.Sprintf("[%d, %d)", opts.IterationBegin, opts.IterationEnd), "iteration bounds must be non-negative")
	}
	config := opts.native()

	lock := b.h.Shared
	if opts.Training {
		lock = b.h.Exclusive
	}
	p := &Prediction{}
	err = lock(op, func(bp native.Ptr) error {
		return handle.SharedAll(op, hs, func(ptrs []native.Ptr) error {
			return b.a.Call(op, func(lib native.Library) int {
				var shape []uint64
				var values []float32
				status := lib.BoosterPredictFromDMatrix(bp, ptrs[0], config, &shape, &values)
				p.Shape, p.Values = slices.Clone(shape), slices.Clone(values)
				return status
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
