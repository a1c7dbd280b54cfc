package log

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	xerrors "github.com/YuminosukeSato/xgbridge/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestLoggerCapturesFields(t *testing.T) {
	logger, buffer := NewTestLogger(LevelDebug)

	logger.Debug("native call", NativeOpKey, "XGDMatrixCreateFromDense", RowsKey, 4, ColsKey, 3)
	logger.Error("native call failed", xerrors.NewNativeError("XGDMatrixNumRow", "boom"), NativeOpKey, "XGDMatrixNumRow")

	require.NotEmpty(t, buffer.String())
	assert.True(t, logger.ContainsField(NativeOpKey, "XGDMatrixCreateFromDense"))
	assert.True(t, logger.ContainsField(RowsKey, 4.0))
	assert.True(t, logger.ContainsMessage("native call failed"))

	entries, err := logger.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "xgbridge: XGDMatrixNumRow: boom", entries[1][ErrAttrKey])
}

func TestTestLoggerWithAndLevel(t *testing.T) {
	logger, _ := NewTestLogger(LevelInfo)
	child := logger.With(ComponentKey, "booster", HandleKindKey, "model")

	child.Debug("hidden")
	child.Info("visible", IterationKey, 3)

	assert.False(t, logger.ContainsMessage("hidden"))
	assert.True(t, logger.ContainsField(ComponentKey, "booster"))
	assert.True(t, logger.ContainsField(IterationKey, 3.0))
	assert.True(t, logger.Enabled(context.Background(), LevelWarn))
	assert.False(t, logger.Enabled(context.Background(), LevelDebug))
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelDebug).With(ComponentKey, "handle")

	logger.Warn("handle reclaimed", HandleKindKey, "dataset", HandleIDKey, uint64(9))
	logger.Error("set_param rejected", xerrors.NewInvalidParameterError("eta", "fast", "expect float"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "warn", first["level"])
	assert.Equal(t, "handle", first[ComponentKey])
	assert.Equal(t, "dataset", first[HandleKindKey])
	assert.EqualValues(t, 9, first[HandleIDKey])

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	detail, ok := second["error_detail"].(map[string]interface{})
	require.True(t, ok, "taxonomy errors must be embedded as objects")
	assert.Equal(t, "eta", detail["key"])
	assert.Equal(t, "fast", detail["value"])
}

func TestZerologLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelWarn)

	logger.Info("dropped")
	assert.Empty(t, buf.String())
	assert.False(t, logger.Enabled(context.Background(), LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), LevelError))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseLevel(in))
		})
	}
}

func TestGlobalLoggerAndWarningHook(t *testing.T) {
	previous := GetLogger()
	defer SetLogger(previous)
	defer xerrors.SetZerologWarnFunc(nil)

	testLogger, _ := NewTestLogger(LevelDebug)
	SetLogger(testLogger)
	InstallWarningHook()

	xerrors.Warn(xerrors.NewHandleLeakWarning("dataset", 42))

	assert.True(t, testLogger.ContainsMessage("dataset handle #42"))
	assert.True(t, testLogger.ContainsField(ComponentKey, "warnings"))
}
