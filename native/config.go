package native

import (
	"os"
	"sort"
	"strings"
	"sync"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvBackend  = "XGBRIDGE_BACKEND"
	EnvLogLevel = "XGBRIDGE_LOG_LEVEL"
)

// Names of the bundled backends.
const (
	BackendXGBoost = "xgboost"
	BackendMemlib  = "memlib"
)

// Config selects and configures the backend used by Load.
type Config struct {
	// Backend is a registered backend name. Empty selects DefaultBackend().
	Backend string
	// LogLevel is parsed by log.ParseLevel. Empty keeps the current logger.
	LogLevel string
}

// ConfigFromEnv builds a Config from XGBRIDGE_BACKEND and XGBRIDGE_LOG_LEVEL.
func ConfigFromEnv() Config {
	return Config{
		Backend:  strings.TrimSpace(os.Getenv(EnvBackend)),
		LogLevel: strings.TrimSpace(os.Getenv(EnvLogLevel)),
	}
}

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

// Register makes a backend available under name. It is meant to be called
// from an init function and panics on a duplicate name or nil factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("native: Register factory is nil for " + name)
	}
	if _, dup := factories[name]; dup {
		panic("native: Register called twice for backend " + name)
	}
	factories[name] = f
}

// Backends lists the registered backend names in sorted order.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultBackend is "xgboost" when the cgo backend is linked in and
// "memlib" otherwise.
func DefaultBackend() string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if _, ok := factories[BackendXGBoost]; ok {
		return BackendXGBoost
	}
	return BackendMemlib
}

func lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}
