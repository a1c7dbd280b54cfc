package xgbridge

import (
	"os"
	"sync"
	"testing"

	"github.com/YuminosukeSato/xgbridge/native"
	"github.com/YuminosukeSato/xgbridge/pkg/errors"
	"github.com/YuminosukeSato/xgbridge/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger *log.TestLogger

func TestMain(m *testing.M) {
	errors.SetWarningHandler(func(error) {})
	testLogger, _ = log.NewTestLogger(log.LevelDebug)
	if _, err := Load(WithBackend(native.BackendMemlib), WithLogger(testLogger)); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestLoadIsSticky(t *testing.T) {
	first, err := Load()
	require.NoError(t, err)
	assert.Equal(t, native.BackendMemlib, first.Backend())

	again, err := Load(WithBackend("no-such-backend"), WithLogLevel("error"))
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.True(t, testLogger.ContainsMessage("native backend loaded"))
}

func TestVersion(t *testing.T) {
	v, err := Version()
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", v)
}

func restoreGlobalConfig(t *testing.T) {
	t.Helper()
	before, err := GetGlobalConfig()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, SetGlobalConfig(before)) })
}

func TestGlobalConfigRoundTrip(t *testing.T) {
	restoreGlobalConfig(t)

	require.NoError(t, SetGlobalConfig(map[string]string{"verbosity": "2", "use_rmm": "true"}))
	got, err := GetGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, "2", got["verbosity"])
	assert.Equal(t, "true", got["use_rmm"])

	require.NoError(t, SetGlobalConfig(nil))
}

func TestGlobalConfigNamesRejectedKey(t *testing.T) {
	restoreGlobalConfig(t)

	tests := []struct {
		name   string
		config map[string]string
		key    string
		value  string
	}{
		{"mistyped int", map[string]string{"verbosity": "loud"}, "verbosity", "loud"},
		{"out of range", map[string]string{"verbosity": "9"}, "verbosity", "9"},
		{"mistyped bool", map[string]string{"use_rmm": "maybe"}, "use_rmm", "maybe"},
		{"unknown key", map[string]string{"gpu_id": "0"}, "gpu_id", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SetGlobalConfig(tt.config)
			var perr *errors.InvalidParameterError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, tt.key, perr.Key)
			assert.Equal(t, tt.value, perr.Value)
		})
	}
}

func TestGlobalConfigStopsAtFirstRejection(t *testing.T) {
	restoreGlobalConfig(t)

	err := SetGlobalConfig(map[string]string{"nthread": "3", "use_rmm": "x", "verbosity": "0"})
	require.True(t, errors.Is(err, errors.ErrInvalidParameter))

	got, err := GetGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, "3", got["nthread"])
	assert.NotEqual(t, "0", got["verbosity"])
}

func TestGlobalConfigConcurrentErrors(t *testing.T) {
	restoreGlobalConfig(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value := string(rune('a' + i))
			err := SetGlobalConfig(map[string]string{"nthread": value})
			var perr *errors.InvalidParameterError
			if assert.True(t, errors.As(err, &perr)) {
				assert.Equal(t, value, perr.Value)
				assert.Contains(t, perr.Message, value)
			}
		}(i)
	}
	wg.Wait()
}
