// Package booster drives a native gradient-boosted model: parameters,
// training rounds, evaluation, prediction and the string attribute store.
//
// A Booster owns one native model handle. Training steps and parameter or
// attribute writes hold the model exclusively; evaluation, prediction and
// reads share it. Datasets taking part in a call are always locked after the
// model, in shared mode.
package booster

import (
	"slices"
	"sort"
	"time"

	"github.com/YuminosukeSato/xgbridge/dataset"
	"github.com/YuminosukeSato/xgbridge/handle"
	"github.com/YuminosukeSato/xgbridge/native"
	"github.com/YuminosukeSato/xgbridge/pkg/errors"
	"github.com/YuminosukeSato/xgbridge/pkg/log"
)

// Booster is a native model.
type Booster struct {
	h *handle.Handle
	a *native.Adapter
}

// EvalReport is the evaluation text produced by the native library, for
// example "[3]\ttrain-rmse:0.21\tvalid-rmse:0.34". Its format belongs to the
// library and is not interpreted here.
type EvalReport string

func (r EvalReport) String() string { return string(r) }

func logger() log.Logger { return log.GetLoggerWithName("booster") }

func datasetHandles(op string, dmats []*dataset.DMatrix) ([]*handle.Handle, error) {
	hs := make([]*handle.Handle, len(dmats))
	for i, d := range dmats {
		if d == nil {
			return nil, errors.NewInvalidHandleError(op, handle.Dataset.String(), 0, "nil dataset")
		}
		hs[i] = d.Handle()
	}
	return hs, nil
}

// New creates a model whose cache holds dmats. Every dataset must be live.
// The model keeps its own reference to the cached data: freeing a dataset
// afterwards does not invalidate the model.
func New(dmats ...*dataset.DMatrix) (*Booster, error) {
	const op = "XGBoosterCreate"
	hs, err := datasetHandles(op, dmats)
	if err != nil {
		return nil, err
	}
	a, err := native.Default()
	if err != nil {
		return nil, err
	}

	var ptr native.Ptr
	err = handle.SharedAll(op, hs, func(ptrs []native.Ptr) error {
		return a.Call(op, func(lib native.Library) int { return lib.BoosterCreate(ptrs, &ptr) })
	})
	if err != nil {
		return nil, err
	}
	h := handle.New(handle.Model, ptr, func(p native.Ptr) error {
		return a.Call("XGBoosterFree", func(lib native.Library) int { return lib.BoosterFree(p) })
	})
	logger().Debug("booster created", log.HandleIDKey, h.ID(), log.EvalSetsKey, len(dmats))
	return &Booster{h: h, a: a}, nil
}

// Handle exposes the model handle.
func (b *Booster) Handle() *handle.Handle { return b.h }

// Free releases the native model. Calling Free twice returns an
// InvalidHandleError.
func (b *Booster) Free() error { return b.h.Release() }

// SetParam sets one textual parameter. A value the native parser rejects is
// reported as an InvalidParameterError carrying name and value.
func (b *Booster) SetParam(name, value string) error {
	const op = "XGBoosterSetParam"
	return b.h.Exclusive(op, func(ptr native.Ptr) error {
		err := b.a.Call(op, func(lib native.Library) int { return lib.BoosterSetParam(ptr, name, value) })
		if err != nil {
			return native.AsParameterError(err, name, value)
		}
		logger().Debug("parameter set", log.ParamKey, name, log.ParamValue, value)
		return nil
	})
}

// SetParams applies params in key order and stops at the first rejection.
func (b *Booster) SetParams(params map[string]string) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := b.SetParam(k, params[k]); err != nil {
			return err
		}
	}
	return nil
}

// NumFeature returns the number of features the model expects.
func (b *Booster) NumFeature() (uint64, error) {
	const op = "XGBoosterGetNumFeature"
	var n uint64
	err := b.h.Shared(op, func(ptr native.Ptr) error {
		return b.a.Call(op, func(lib native.Library) int { return lib.BoosterGetNumFeature(ptr, &n) })
	})
	return n, err
}

// BoostedRounds returns the number of completed training rounds.
func (b *Booster) BoostedRounds() (int, error) {
	const op = "XGBoosterBoostedRounds"
	var n int
	err := b.h.Shared(op, func(ptr native.Ptr) error {
		return b.a.Call(op, func(lib native.Library) int { return lib.BoosterBoostedRounds(ptr, &n) })
	})
	return n, err
}

// UpdateOneIter runs one training round on dtrain with the configured
// objective.
func (b *Booster) UpdateOneIter(iter int, dtrain *dataset.DMatrix) error {
	const op = "XGBoosterUpdateOneIter"
	hs, err := datasetHandles(op, []*dataset.DMatrix{dtrain})
	if err != nil {
		return err
	}
	start := time.Now()
	err = b.h.Exclusive(op, func(bp native.Ptr) error {
		return hs[0].Shared(op, func(dp native.Ptr) error {
			return b.a.Call(op, func(lib native.Library) int { return lib.BoosterUpdateOneIter(bp, iter, dp) })
		})
	})
	if err == nil {
		logger().Debug("training round", log.IterationKey, iter, log.DurationKey, time.Since(start).Milliseconds())
	}
	return err
}

// BoostOneIter runs one training round from caller-computed gradients and
// hessians, one pair per row of dtrain. Lengths are checked before the
// native call; on a mismatch the model is unchanged.
func (b *Booster) BoostOneIter(dtrain *dataset.DMatrix, grad, hess []float32) error {
	const op = "XGBoosterBoostOneIter"
	hs, err := datasetHandles(op, []*dataset.DMatrix{dtrain})
	if err != nil {
		return err
	}
	return b.h.Exclusive(op, func(bp native.Ptr) error {
		return hs[0].Shared(op, func(dp native.Ptr) error {
			var rows uint64
			if err := b.a.Call("XGDMatrixNumRow", func(lib native.Library) int { return lib.DMatrixNumRow(dp, &rows) }); err != nil {
				return err
			}
			if len(grad) != int(rows) {
				return errors.NewShapeMismatchError(op, "grad", int(rows), len(grad))
			}
			if len(hess) != int(rows) {
				return errors.NewShapeMismatchError(op, "hess", int(rows), len(hess))
			}
			return b.a.Call(op, func(lib native.Library) int { return lib.BoosterBoostOneIter(bp, dp, grad, hess) })
		})
	})
}

// EvalOneIter evaluates the configured metrics on each dataset, labelling
// each with the matching entry of names.
func (b *Booster) EvalOneIter(iter int, dmats []*dataset.DMatrix, names []string) (EvalReport, error) {
	const op = "XGBoosterEvalOneIter"
	if len(names) != len(dmats) {
		return "", errors.NewShapeMismatchError(op, "eval names", len(dmats), len(names))
	}
	hs, err := datasetHandles(op, dmats)
	if err != nil {
		return "", err
	}
	var out string
	err = b.h.Shared(op, func(bp native.Ptr) error {
		return handle.SharedAll(op, hs, func(ptrs []native.Ptr) error {
			return b.a.Call(op, func(lib native.Library) int { return lib.BoosterEvalOneIter(bp, iter, ptrs, names, &out) })
		})
	})
	if err != nil {
		return "", err
	}
	logger().Debug("evaluation", log.IterationKey, iter, log.EvalSetsKey, names)
	return EvalReport(out), nil
}

// ===========================================================================
// Attributes
// ===========================================================================

// AttrNames returns the attribute keys.
func (b *Booster) AttrNames() ([]string, error) {
	const op = "XGBoosterGetAttrNames"
	var out []string
	err := b.h.Shared(op, func(ptr native.Ptr) error {
		return b.a.Call(op, func(lib native.Library) int {
			var src []string
			status := lib.BoosterGetAttrNames(ptr, &src)
			out = slices.Clone(src)
			return status
		})
	})
	return out, err
}

// Attr returns the value stored under key, or a NotFoundError.
func (b *Booster) Attr(key string) (string, error) {
	const op = "XGBoosterGetAttr"
	var (
		value string
		found bool
	)
	err := b.h.Shared(op, func(ptr native.Ptr) error {
		return b.a.Call(op, func(lib native.Library) int { return lib.BoosterGetAttr(ptr, key, &value, &found) })
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", errors.NewNotFoundError(op, key)
	}
	return value, nil
}

// SetAttr stores value under key, replacing any previous value. The empty
// string is stored as is.
func (b *Booster) SetAttr(key, value string) error {
	return b.setAttr(key, &value)
}

// DeleteAttr removes key. Deleting an absent key is not an error.
func (b *Booster) DeleteAttr(key string) error {
	return b.setAttr(key, nil)
}

func (b *Booster) setAttr(key string, value *string) error {
	const op = "XGBoosterSetAttr"
	return b.h.Exclusive(op, func(ptr native.Ptr) error {
		return b.a.Call(op, func(lib native.Library) int { return lib.BoosterSetAttr(ptr, key, value) })
	})
}

// ===========================================================================
// Feature info
// ===========================================================================

var strFields = []string{dataset.FieldFeatureName, dataset.FieldFeatureType}

// SetStrFeatureInfo sets feature_name or feature_type on the model. Once the
// feature count is known, a non-empty list must match it; an empty list
// clears the field.
func (b *Booster) SetStrFeatureInfo(field string, values []string) error {
	const op = "XGBoosterSetStrFeatureInfo"
	if !slices.Contains(strFields, field) {
		return errors.NewInvalidFieldError(op, field, strFields)
	}
	return b.h.Exclusive(op, func(ptr native.Ptr) error {
		var n uint64
		if err := b.a.Call("XGBoosterGetNumFeature", func(lib native.Library) int { return lib.BoosterGetNumFeature(ptr, &n) }); err != nil {
			return err
		}
		if n > 0 && len(values) != 0 && len(values) != int(n) {
			return errors.NewShapeMismatchError(op, field, int(n), len(values))
		}
		return b.a.Call(op, func(lib native.Library) int { return lib.BoosterSetStrFeatureInfo(ptr, field, values) })
	})
}

// GetStrFeatureInfo returns a copy of feature_name or feature_type.
func (b *Booster) GetStrFeatureInfo(field string) ([]string, error) {
	const op = "XGBoosterGetStrFeatureInfo"
	if !slices.Contains(strFields, field) {
		return nil, errors.NewInvalidFieldError(op, field, strFields)
	}
	var out []string
	err := b.h.Shared(op, func(ptr native.Ptr) error {
		return b.a.Call(op, func(lib native.Library) int {
			var src []string
			status := lib.BoosterGetStrFeatureInfo(ptr, field, &src)
			out = slices.Clone(src)
			return status
		})
	})
	return out, err
}

// FeatureNames returns the model's feature names.
func (b *Booster) FeatureNames() ([]string, error) {
	return b.GetStrFeatureInfo(dataset.FieldFeatureName)
}

// SetFeatureNames sets the model's feature names.
func (b *Booster) SetFeatureNames(names []string) error {
	return b.SetStrFeatureInfo(dataset.FieldFeatureName, names)
}

// FeatureTypes returns the model's feature types.
func (b *Booster) FeatureTypes() ([]string, error) {
	return b.GetStrFeatureInfo(dataset.FieldFeatureType)
}

// SetFeatureTypes sets the model's feature types.
func (b *Booster) SetFeatureTypes(types []string) error {
	return b.SetStrFeatureInfo(dataset.FieldFeatureType, types)
}
