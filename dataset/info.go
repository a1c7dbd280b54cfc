package dataset

import (
	"slices"

	"github.com/YuminosukeSato/xgbridge/arrayif"
	"github.com/YuminosukeSato/xgbridge/native"
	"github.com/YuminosukeSato/xgbridge/pkg/errors"
	"github.com/YuminosukeSato/xgbridge/pkg/log"
)

// Meta-info field names.
const (
	FieldLabel           = "label"
	FieldWeight          = "weight"
	FieldBaseMargin      = "base_margin"
	FieldGroup           = "group"
	FieldGroupPtr        = "group_ptr"
	FieldLabelLowerBound = "label_lower_bound"
	FieldLabelUpperBound = "label_upper_bound"
	FieldFeatureWeights  = "feature_weights"
	FieldFeatureName     = "feature_name"
	FieldFeatureType     = "feature_type"
)

var (
	settableFields = []string{FieldBaseMargin, FieldFeatureWeights, FieldGroup, FieldLabel, FieldLabelLowerBound, FieldLabelUpperBound, FieldWeight}
	floatFields    = []string{FieldBaseMargin, FieldFeatureWeights, FieldLabel, FieldLabelLowerBound, FieldLabelUpperBound, FieldWeight}
	uintFields     = []string{FieldGroupPtr}
	strFields      = []string{FieldFeatureName, FieldFeatureType}
)

// SetInfo attaches a meta-info field. field must be one of label, weight,
// base_margin, group, label_lower_bound, label_upper_bound or
// feature_weights.
//
// Lengths are checked against the dataset shape before the native call:
// label and the label bounds need one entry per row (label may carry
// several targets as [rows, k]); base_margin a multiple of the row count;
// weight one entry per row, or per group once groups are set; group sizes
// must sum to the row count; feature_weights one entry per column.
func (d *DMatrix) SetInfo(field string, desc *arrayif.Descriptor) error {
	const op = "XGDMatrixSetInfoFromInterface"
	if !slices.Contains(settableFields, field) {
		return errors.NewInvalidFieldError(op, field, settableFields)
	}
	if desc == nil {
		return errors.NewEncodingError("%s: nil descriptor for %s", op, field)
	}
	return d.h.Exclusive(op, func(ptr native.Ptr) error {
		if err := d.checkInfo(ptr, op, field, desc); err != nil {
			return err
		}
		return d.setInfo(ptr, op, field, desc)
	})
}

// setInfo passes an already checked field to the backend. The caller holds
// the handle exclusively.
func (d *DMatrix) setInfo(ptr native.Ptr, op, field string, desc *arrayif.Descriptor) error {
	iface := desc.String()
	err := d.a.Call(op, func(lib native.Library) int {
		return lib.DMatrixSetInfoFromInterface(ptr, field, iface)
	})
	desc.KeepAlive()
	if err == nil {
		logger().Debug("meta info set", log.FieldKey, field, log.HandleIDKey, d.h.ID(), log.DTypeKey, string(desc.Typestr))
	}
	return err
}

func (d *DMatrix) checkInfo(ptr native.Ptr, op, field string, desc *arrayif.Descriptor) error {
	if field == FieldFeatureWeights {
		cols, err := d.numCol(ptr)
		if err != nil {
			return err
		}
		if desc.Len() != int(cols) {
			return errors.NewShapeMismatchError(op, field, int(cols), desc.Len())
		}
		return nil
	}

	r, err := d.numRow(ptr)
	if err != nil {
		return err
	}
	rows, n := int(r), desc.Len()

	switch field {
	case FieldLabel:
		if desc.Shape[0] != rows || len(desc.Shape) > 2 {
			return errors.NewShapeMismatchError(op, field, rows, desc.Shape[0])
		}
	case FieldBaseMargin:
		if rows == 0 || n%rows != 0 {
			return errors.NewShapeMismatchError(op, field, rows, n)
		}
	case FieldLabelLowerBound, FieldLabelUpperBound:
		if n != rows {
			return errors.NewShapeMismatchError(op, field, rows, n)
		}
	case FieldWeight:
		if n == rows {
			return nil
		}
		groupPtr, err := d.uintInfo(ptr, FieldGroupPtr)
		if err != nil {
			return err
		}
		if groups := len(groupPtr) - 1; groups <= 0 || n != groups {
			return errors.NewShapeMismatchError(op, field, rows, n)
		}
	case FieldGroup:
		buf, err := arrayif.Decode(desc)
		desc.KeepAlive()
		if err != nil {
			return err
		}
		total := 0
		for _, s := range buf.AsUint64() {
			total += int(s)
		}
		if total != rows {
			return errors.NewShapeMismatchError(op, "sum of group sizes", rows, total)
		}
	}
	return nil
}

// SetLabel sets one label per row.
func (d *DMatrix) SetLabel(label []float32) error {
	return d.setFloat32(FieldLabel, label)
}

// SetWeight sets per-row (or, with groups, per-group) instance weights.
func (d *DMatrix) SetWeight(weight []float32) error {
	return d.setFloat32(FieldWeight, weight)
}

// SetBaseMargin sets the starting margin of each row.
func (d *DMatrix) SetBaseMargin(margin []float32) error {
	return d.setFloat32(FieldBaseMargin, margin)
}

// SetGroup sets ranking group sizes; they must sum to the row count.
func (d *DMatrix) SetGroup(sizes []uint32) error {
	desc, err := arrayif.FromUint32(sizes)
	if err != nil {
		return err
	}
	return d.SetInfo(FieldGroup, desc)
}

// SetLabelBounds sets the interval labels used by survival objectives.
// Both bounds are checked against the row count before either is written,
// so a rejected pair leaves the dataset unchanged.
func (d *DMatrix) SetLabelBounds(lower, upper []float32) error {
	const op = "XGDMatrixSetInfoFromInterface"
	lo, err := arrayif.FromFloat32(lower)
	if err != nil {
		return err
	}
	hi, err := arrayif.FromFloat32(upper)
	if err != nil {
		return err
	}
	return d.h.Exclusive(op, func(ptr native.Ptr) error {
		if err := d.checkInfo(ptr, op, FieldLabelLowerBound, lo); err != nil {
			return err
		}
		if err := d.checkInfo(ptr, op, FieldLabelUpperBound, hi); err != nil {
			return err
		}
		if err := d.setInfo(ptr, op, FieldLabelLowerBound, lo); err != nil {
			return err
		}
		return d.setInfo(ptr, op, FieldLabelUpperBound, hi)
	})
}

// SetFeatureWeights sets per-column sampling weights.
func (d *DMatrix) SetFeatureWeights(weights []float32) error {
	return d.setFloat32(FieldFeatureWeights, weights)
}

func (d *DMatrix) setFloat32(field string, values []float32) error {
	desc, err := arrayif.FromFloat32(values)
	if err != nil {
		return err
	}
	return d.SetInfo(field, desc)
}

// GetFloatInfo returns a copy of a float meta-info field: label, weight,
// base_margin, label_lower_bound, label_upper_bound or feature_weights. An
// unset field is empty.
func (d *DMatrix) GetFloatInfo(field string) ([]float32, error) {
	const op = "XGDMatrixGetFloatInfo"
	if !slices.Contains(floatFields, field) {
		return nil, errors.NewInvalidFieldError(op, field, floatFields)
	}
	var out []float32
	err := d.h.Shared(op, func(ptr native.Ptr) error {
		return d.a.Call(op, func(lib native.Library) int {
			var src []float32
			status := lib.DMatrixGetFloatInfo(ptr, field, &src)
			out = slices.Clone(src)
			return status
		})
	})
	return out, err
}

// GetUIntInfo returns a copy of an unsigned meta-info field. Only group_ptr
// is readable: the row offsets of the ranking groups.
func (d *DMatrix) GetUIntInfo(field string) ([]uint32, error) {
	const op = "XGDMatrixGetUIntInfo"
	if !slices.Contains(uintFields, field) {
		return nil, errors.NewInvalidFieldError(op, field, uintFields)
	}
	var out []uint32
	err := d.h.Shared(op, func(ptr native.Ptr) error {
		var err error
		out, err = d.uintInfo(ptr, field)
		return err
	})
	return out, err
}

func (d *DMatrix) uintInfo(ptr native.Ptr, field string) ([]uint32, error) {
	var out []uint32
	err := d.a.Call("XGDMatrixGetUIntInfo", func(lib native.Library) int {
		var src []uint32
		status := lib.DMatrixGetUIntInfo(ptr, field, &src)
		out = slices.Clone(src)
		return status
	})
	return out, err
}

// Label returns the labels.
func (d *DMatrix) Label() ([]float32, error) { return d.GetFloatInfo(FieldLabel) }

// Weight returns the instance weights.
func (d *DMatrix) Weight() ([]float32, error) { return d.GetFloatInfo(FieldWeight) }

// GroupPtr returns the ranking group offsets.
func (d *DMatrix) GroupPtr() ([]uint32, error) { return d.GetUIntInfo(FieldGroupPtr) }

// SetStrFeatureInfo sets feature_name or feature_type. A non-empty list
// must have one entry per column; an empty list clears the field.
func (d *DMatrix) SetStrFeatureInfo(field string, values []string) error {
	const op = "XGDMatrixSetStrFeatureInfo"
	if !slices.Contains(strFields, field) {
		return errors.NewInvalidFieldError(op, field, strFields)
	}
	return d.h.Exclusive(op, func(ptr native.Ptr) error {
		cols, err := d.numCol(ptr)
		if err != nil {
			return err
		}
		if len(values) != 0 && len(values) != int(cols) {
			return errors.NewShapeMismatchError(op, field, int(cols), len(values))
		}
		return d.a.Call(op, func(lib native.Library) int {
			return lib.DMatrixSetStrFeatureInfo(ptr, field, values)
		})
	})
}

// GetStrFeatureInfo returns a copy of feature_name or feature_type.
func (d *DMatrix) GetStrFeatureInfo(field string) ([]string, error) {
	const op = "XGDMatrixGetStrFeatureInfo"
	if !slices.Contains(strFields, field) {
		return nil, errors.NewInvalidFieldError(op, field, strFields)
	}
	var out []string
	err := d.h.Shared(op, func(ptr native.Ptr) error {
		return d.a.Call(op, func(lib native.Library) int {
			var src []string
			status := lib.DMatrixGetStrFeatureInfo(ptr, field, &src)
			out = slices.Clone(src)
			return status
		})
	})
	return out, err
}

// FeatureNames returns the column names.
func (d *DMatrix) FeatureNames() ([]string, error) { return d.GetStrFeatureInfo(FieldFeatureName) }

// SetFeatureNames names the columns.
func (d *DMatrix) SetFeatureNames(names []string) error {
	return d.SetStrFeatureInfo(FieldFeatureName, names)
}

// FeatureTypes returns the column types.
func (d *DMatrix) FeatureTypes() ([]string, error) { return d.GetStrFeatureInfo(FieldFeatureType) }

// SetFeatureTypes sets the column types: "int", "float", "i", "q" or "c".
func (d *DMatrix) SetFeatureTypes(types []string) error {
	return d.SetStrFeatureInfo(FieldFeatureType, types)
}
