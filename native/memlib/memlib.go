// Package memlib is a pure Go backend honouring the native C API contract.
//
// It keeps its objects in an arena indexed by opaque pointers, reports
// failures through status codes and one last-error slot, and parses the same
// JSON array interfaces and configs libxgboost does. Training builds exact
// greedy regression trees on gradient statistics.
//
// The package registers itself as the "memlib" backend:
//
//	import _ "github.com/YuminosukeSato/xgbridge/native/memlib"
package memlib

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/YuminosukeSato/xgbridge/native"
)

// Version of the C API this backend mirrors.
const (
	VersionMajor = 2
	VersionMinor = 1
	VersionPatch = 0
)

const errDisposed = "DMatrix/Booster has not been initialized or has already been disposed."

func init() {
	native.Register(native.BackendMemlib, func() (native.Library, error) {
		return New(), nil
	})
}

// Lib is one backend instance. Every exported method is safe for concurrent
// use, but the last-error slot is shared, so callers that need the message
// of their own failure must serialise calls the way native.Adapter does.
type Lib struct {
	mu      sync.Mutex
	objects map[native.Ptr]interface{}
	next    native.Ptr
	lastErr string

	global globalConfig
}

// New returns an empty backend instance.
func New() *Lib {
	return &Lib{
		objects: make(map[native.Ptr]interface{}),
		next:    0x1000,
		global:  globalConfig{Verbosity: 1},
	}
}

// Version implements native.Library.
func (l *Lib) Version() (int, int, int) {
	return VersionMajor, VersionMinor, VersionPatch
}

// GetLastError implements native.Library.
func (l *Lib) GetLastError() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// fail records msg in the error slot and returns native.Fail.
func (l *Lib) fail(format string, args ...interface{}) int {
	l.mu.Lock()
	l.lastErr = fmt.Sprintf(format, args...)
	l.mu.Unlock()
	return native.Fail
}

// failErr records err in the error slot.
func (l *Lib) failErr(err error) int {
	return l.fail("%s", err.Error())
}

func (l *Lib) put(obj interface{}) native.Ptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next += 0x10
	l.objects[l.next] = obj
	return l.next
}

func (l *Lib) dmatrix(h native.Ptr) (*dmatrix, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.objects[h].(*dmatrix)
	return d, ok
}

func (l *Lib) booster(h native.Ptr) (*booster, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.objects[h].(*booster)
	return b, ok
}

func (l *Lib) free(h native.Ptr, want string) int {
	l.mu.Lock()
	obj, ok := l.objects[h]
	if ok {
		switch obj.(type) {
		case *dmatrix:
			ok = want == "dmatrix"
		case *booster:
			ok = want == "booster"
		}
	}
	if ok {
		delete(l.objects, h)
	}
	l.mu.Unlock()
	if !ok {
		return l.fail(errDisposed)
	}
	return native.OK
}

// Live counts the objects currently held by the arena.
func (l *Lib) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.objects)
}

// ===========================================================================
// Global configuration
// ===========================================================================

type globalConfig struct {
	Verbosity int
	UseRMM    bool
	NThread   int
}

// SetGlobalConfig implements native.Library. Values may be JSON strings,
// numbers or booleans.
func (l *Lib) SetGlobalConfig(config string) int {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(config), &raw); err != nil {
		return l.fail("Invalid global config JSON: %v", err)
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	l.mu.Lock()
	next := l.global
	l.mu.Unlock()

	for _, key := range keys {
		value := scalarString(raw[key])
		switch key {
		case "verbosity":
			v, err := strconv.Atoi(value)
			if err != nil {
				return l.fail(paramFormat, key, "int", value)
			}
			if v < 0 || v > 3 {
				return l.fail("Check failed: verbosity in [0, 3]: value '%s' for Parameter verbosity exceeds bound", value)
			}
			next.Verbosity = v
		case "use_rmm":
			v, err := parseBool(value)
			if err != nil {
				return l.fail(paramFormat, key, "boolean", value)
			}
			next.UseRMM = v
		case "nthread":
			v, err := strconv.Atoi(value)
			if err != nil {
				return l.fail(paramFormat, key, "int", value)
			}
			next.NThread = v
		default:
			return l.fail("Unknown global parameter: `%s`", key)
		}
	}

	l.mu.Lock()
	l.global = next
	l.mu.Unlock()
	return native.OK
}

// GetGlobalConfig implements native.Library.
func (l *Lib) GetGlobalConfig(out *string) int {
	l.mu.Lock()
	g := l.global
	l.mu.Unlock()
	b, err := json.Marshal(map[string]interface{}{
		"verbosity": g.Verbosity,
		"use_rmm":   g.UseRMM,
		"nthread":   g.NThread,
	})
	if err != nil {
		return l.failErr(err)
	}
	*out = string(b)
	return native.OK
}

func (l *Lib) nthread(local int) int {
	if local > 0 {
		return local
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.global.NThread
}

// scalarString renders a JSON scalar the way the native parameter parser
// sees it: strings unquoted, everything else verbatim.
func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

const paramFormat = "Invalid Parameter format for %s expect %s but value='%s'"
