package native

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/YuminosukeSato/xgbridge/pkg/errors"
	"github.com/YuminosukeSato/xgbridge/pkg/log"
)

// Adapter owns the loaded backend. It is the process-wide native module
// state: one per process, created by Load.
type Adapter struct {
	backend string
	lib     Library

	// mu serialises every native call together with the error-slot read
	// that follows a failure.
	mu     sync.Mutex
	logger log.Logger
}

// NewAdapter wraps lib without going through the process-wide loader.
// Load is the normal entry point; NewAdapter exists for embedding a
// backend instance directly.
func NewAdapter(backend string, lib Library) *Adapter {
	return &Adapter{
		backend: backend,
		lib:     lib,
		logger:  log.GetLoggerWithName("native").With(log.BackendKey, backend),
	}
}

// Backend returns the name of the loaded backend.
func (a *Adapter) Backend() string { return a.backend }

// Call runs fn against the backend under the global lock. A non-zero
// status is converted into a NativeError carrying the last-error message,
// read before the lock is released so concurrent failures cannot swap
// messages. The goroutine stays on one OS thread from fn until the error
// slot is read, since the native library keeps that slot per thread. A
// panic inside fn is recovered into a NativeError.
func (a *Adapter) Call(op string, fn func(Library) int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	debug := a.logger.Enabled(context.Background(), log.LevelDebug)
	var start time.Time
	if debug {
		start = time.Now()
	}

	status := Fail
	if perr := errors.SafeExecute(op, func() error {
		status = fn(a.lib)
		return nil
	}); perr != nil {
		a.logger.Error("native call panicked", perr, log.NativeOpKey, op)
		return errors.NewNativeError(op, perr.Error())
	}

	if status != OK {
		msg := a.lib.GetLastError()
		if msg == "" {
			msg = fmt.Sprintf("call failed with status %d", status)
		}
		if debug {
			a.logger.Debug("native call failed", log.NativeOpKey, op, log.DurationKey, float64(time.Since(start).Microseconds())/1000, "message", msg)
		}
		return errors.NewNativeError(op, msg)
	}

	if debug {
		a.logger.Debug("native call", log.NativeOpKey, op, log.DurationKey, float64(time.Since(start).Microseconds())/1000)
	}
	return nil
}

// Version reports the backend library version as "major.minor.patch".
func (a *Adapter) Version() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	major, minor, patch := a.lib.Version()
	return fmt.Sprintf("%d.%d.%d", major, minor, patch)
}

// AsParameterError turns a NativeError returned for a textual parameter
// into an InvalidParameterError naming key and value. Other errors pass
// through unchanged.
func AsParameterError(err error, key, value string) error {
	if err == nil {
		return nil
	}
	var nerr *errors.NativeError
	if errors.As(err, &nerr) {
		return errors.NewInvalidParameterError(key, value, nerr.Message)
	}
	return err
}

// loader holds the once-only load result.
type loader struct {
	once    sync.Once
	adapter *Adapter
	err     error
}

func (l *loader) load(cfg Config) (*Adapter, error) {
	l.once.Do(func() {
		l.adapter, l.err = open(cfg)
	})
	return l.adapter, l.err
}

var process loader

// Load initialises the native backend. The first call wins: later calls
// return the same adapter, or the same LoadError, whatever their config.
func Load(cfg Config) (*Adapter, error) {
	return process.load(cfg)
}

// Default returns the loaded adapter, loading with ConfigFromEnv first if
// Load has not been called.
func Default() (*Adapter, error) {
	return process.load(ConfigFromEnv())
}

// MustDefault is Default for program initialisation; it panics on a load
// failure.
func MustDefault() *Adapter {
	a, err := Default()
	if err != nil {
		panic(err)
	}
	return a
}

func open(cfg Config) (*Adapter, error) {
	if cfg.LogLevel != "" {
		log.SetLogger(log.NewZerologLogger(os.Stderr, log.ParseLevel(cfg.LogLevel)))
		log.InstallWarningHook()
	}

	name := cfg.Backend
	if name == "" {
		name = DefaultBackend()
	}
	logger := log.GetLoggerWithName("native")

	factory, ok := lookup(name)
	if !ok {
		err := errors.NewLoadError(name, errors.Newf("backend not registered (available: %v)", Backends()))
		logger.Error("native backend load failed", err, log.BackendKey, name)
		return nil, err
	}

	var lib Library
	if perr := errors.SafeExecute("load "+name, func() error {
		var ferr error
		lib, ferr = factory()
		return ferr
	}); perr != nil {
		err := errors.NewLoadError(name, perr)
		logger.Error("native backend load failed", err, log.BackendKey, name)
		return nil, err
	}
	if lib == nil {
		return nil, errors.NewLoadError(name, errors.New("factory returned no library"))
	}

	a := NewAdapter(name, lib)
	logger.Info("native backend loaded", log.BackendKey, name, log.VersionKey, a.Version())
	return a, nil
}
