package dataset

import (
	"testing"

	"github.com/YuminosukeSato/xgbridge/arrayif"
	"github.com/YuminosukeSato/xgbridge/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetInfoClosedSet(t *testing.T) {
	d := dense(t, []float32{1, 2, 3, 4}, 2, 2)
	desc, err := arrayif.FromFloat32([]float32{1, 2})
	require.NoError(t, err)

	for _, field := range []string{"qid", "labels", "group_ptr", ""} {
		t.Run(field, func(t *testing.T) {
			err := d.SetInfo(field, desc)
			var ferr *errors.InvalidFieldError
			require.True(t, errors.As(err, &ferr), "got %v", err)
			assert.Equal(t, field, ferr.Field)
			assert.Contains(t, ferr.Allowed, FieldLabel)
		})
	}

	_, err = d.GetFloatInfo("group")
	assert.True(t, errors.Is(err, errors.ErrInvalidField))
	_, err = d.GetUIntInfo("label")
	assert.True(t, errors.Is(err, errors.ErrInvalidField))
	_, err = d.GetStrFeatureInfo("feature_names")
	assert.True(t, errors.Is(err, errors.ErrInvalidField))
	assert.True(t, errors.Is(d.SetStrFeatureInfo("feature_weights", nil), errors.ErrInvalidField))
}

func TestSetInfoLengthChecks(t *testing.T) {
	tests := []struct {
		name  string
		field string
		n     int
		ok    bool
	}{
		{"label per row", FieldLabel, 3, true},
		{"label short", FieldLabel, 2, false},
		{"weight per row", FieldWeight, 3, true},
		{"weight long", FieldWeight, 4, false},
		{"base margin multiple", FieldBaseMargin, 6, true},
		{"base margin ragged", FieldBaseMargin, 4, false},
		{"lower bound", FieldLabelLowerBound, 3, true},
		{"upper bound short", FieldLabelUpperBound, 1, false},
		{"feature weights per column", FieldFeatureWeights, 2, true},
		{"feature weights per row", FieldFeatureWeights, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := dense(t, []float32{1, 2, 3, 4, 5, 6}, 3, 2)
			values := make([]float32, tt.n)
			for i := range values {
				values[i] = 1
			}
			desc, err := arrayif.FromFloat32(values)
			require.NoError(t, err)

			err = d.SetInfo(tt.field, desc)
			if tt.ok {
				require.NoError(t, err)
				got, err := d.GetFloatInfo(tt.field)
				require.NoError(t, err)
				assert.Len(t, got, tt.n)
				return
			}
			var serr *errors.ShapeMismatchError
			require.True(t, errors.As(err, &serr), "got %v", err)
			assert.Equal(t, tt.n, serr.Got)
		})
	}
}

func TestMultiTargetLabel(t *testing.T) {
	d := dense(t, []float32{1, 2, 3, 4}, 2, 2)
	desc, err := arrayif.FromFloat32([]float32{0, 1, 1, 0}, 2, 2)
	require.NoError(t, err)
	require.NoError(t, d.SetInfo(FieldLabel, desc))

	wrong, err := arrayif.FromFloat32([]float32{0, 1, 1, 0}, 4, 1)
	require.NoError(t, err)
	assert.True(t, errors.Is(d.SetInfo(FieldLabel, wrong), errors.ErrShapeMismatch))
}

func TestGroups(t *testing.T) {
	d := dense(t, []float32{1, 2, 3, 4, 5}, 5, 1)

	assert.True(t, errors.Is(d.SetGroup([]uint32{2, 2}), errors.ErrShapeMismatch))
	// Per-group weights need groups first.
	assert.True(t, errors.Is(d.SetWeight([]float32{1, 2}), errors.ErrShapeMismatch))

	require.NoError(t, d.SetGroup([]uint32{2, 3}))
	ptr, err := d.GroupPtr()
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2, 5}, ptr)

	require.NoError(t, d.SetWeight([]float32{1, 2}))
	w, err := d.Weight()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, w)
}

func TestNativeValidatesValues(t *testing.T) {
	d := dense(t, []float32{1, 2}, 2, 1)
	err := d.SetWeight([]float32{1, -1})
	var nerr *errors.NativeError
	require.True(t, errors.As(err, &nerr), "got %v", err)
	assert.Contains(t, nerr.Message, "Weights must be positive")
}

func TestGetFloatInfoReturnsCopy(t *testing.T) {
	d := dense(t, []float32{1, 2}, 2, 1)
	require.NoError(t, d.SetLabel([]float32{3, 4}))

	label, err := d.Label()
	require.NoError(t, err)
	label[0] = 99

	again, err := d.Label()
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, again)

	w, err := d.Weight()
	require.NoError(t, err)
	assert.Empty(t, w)
}

func TestLabelBounds(t *testing.T) {
	d := dense(t, []float32{1, 2}, 2, 1)
	require.NoError(t, d.SetLabelBounds([]float32{0, 1}, []float32{2, 3}))

	lower, err := d.GetFloatInfo(FieldLabelLowerBound)
	require.NoError(t, err)
	upper, err := d.GetFloatInfo(FieldLabelUpperBound)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, lower)
	assert.Equal(t, []float32{2, 3}, upper)

	require.NoError(t, d.SetBaseMargin([]float32{0.5, 0.5}))
	require.NoError(t, d.SetFeatureWeights([]float32{1}))
}

func TestLabelBoundsRejectedPairLeavesNoTrace(t *testing.T) {
	d := dense(t, []float32{1, 2}, 2, 1)

	err := d.SetLabelBounds([]float32{0, 1}, []float32{5})
	var serr *errors.ShapeMismatchError
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, FieldLabelUpperBound, serr.Field)
	assert.Equal(t, 2, serr.Expected)
	assert.Equal(t, 1, serr.Got)

	lower, err := d.GetFloatInfo(FieldLabelLowerBound)
	require.NoError(t, err)
	assert.Empty(t, lower)
	upper, err := d.GetFloatInfo(FieldLabelUpperBound)
	require.NoError(t, err)
	assert.Empty(t, upper)

	err = d.SetLabelBounds([]float32{0}, []float32{2, 3})
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, FieldLabelLowerBound, serr.Field)
	upper, err = d.GetFloatInfo(FieldLabelUpperBound)
	require.NoError(t, err)
	assert.Empty(t, upper)
}

func TestFeatureInfo(t *testing.T) {
	d := dense(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)

	err := d.SetFeatureNames([]string{"a", "b"})
	var serr *errors.ShapeMismatchError
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, FieldFeatureName, serr.Field)
	assert.Equal(t, 3, serr.Expected)
	assert.Equal(t, 2, serr.Got)

	names, err := d.FeatureNames()
	require.NoError(t, err)
	assert.Empty(t, names)
	cols, err := d.NumCol()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cols)

	require.NoError(t, d.SetFeatureNames([]string{"a", "b", "c"}))
	names, err = d.FeatureNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)

	require.NoError(t, d.SetFeatureTypes([]string{"float", "int", "q"}))
	types, err := d.FeatureTypes()
	require.NoError(t, err)
	assert.Equal(t, []string{"float", "int", "q"}, types)

	assert.True(t, errors.Is(d.SetFeatureTypes([]string{"float", "int", "date"}), errors.ErrNative))

	require.NoError(t, d.SetFeatureNames(nil))
	names, err = d.FeatureNames()
	require.NoError(t, err)
	assert.Empty(t, names)
}
