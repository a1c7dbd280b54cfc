package objective

import (
	"context"
	"time"

	"github.com/YuminosukeSato/xgbridge/booster"
	"github.com/YuminosukeSato/xgbridge/dataset"
	"github.com/YuminosukeSato/xgbridge/pkg/errors"
	"github.com/YuminosukeSato/xgbridge/pkg/log"
)

// Boost runs one training round of b on dtrain driven by obj: it predicts
// training margins, evaluates obj against the dataset's label, weight and
// group structure, and hands the gradient pairs to BoostOneIter.
func Boost(b *booster.Booster, dtrain *dataset.DMatrix, obj Objective) error {
	const op = "Boost"
	start := time.Now()

	pred, err := b.Predict(dtrain, booster.PredictOptions{OutputMargin: true, Training: true})
	if err != nil {
		return err
	}
	if len(pred.Shape) > 1 && pred.Shape[1] != 1 {
		return errors.NewShapeMismatchError(op, "margin", pred.Rows(), len(pred.Values))
	}

	label, err := dtrain.Label()
	if err != nil {
		return err
	}
	weight, err := dtrain.Weight()
	if err != nil {
		return err
	}
	groupPtr, err := dtrain.GroupPtr()
	if err != nil {
		return err
	}

	grad, hess, err := Gradients(obj, pred.Values, label, weight, groupPtr)
	if err != nil {
		return errors.Wrapf(err, "objective %s", obj.Name())
	}
	if err := b.BoostOneIter(dtrain, grad, hess); err != nil {
		return err
	}

	logger := log.GetLoggerWithName("objective")
	if logger.Enabled(context.Background(), log.LevelDebug) {
		loss, _ := MeanLoss(obj, pred.Values, label, weight)
		logger.Debug("custom objective round", log.ObjectiveKey, obj.Name(), log.LossKey, loss, log.DurationKey, time.Since(start).Milliseconds())
	}
	return nil
}
