package xgbridge

import (
	"encoding/json"
	"sort"

	"github.com/YuminosukeSato/xgbridge/native"
	_ "github.com/YuminosukeSato/xgbridge/native/cxgb"
	_ "github.com/YuminosukeSato/xgbridge/native/memlib"
	"github.com/YuminosukeSato/xgbridge/pkg/errors"
	"github.com/YuminosukeSato/xgbridge/pkg/log"
)

type options struct {
	cfg    native.Config
	logger log.Logger
}

// Option configures Load.
type Option func(*options)

// WithBackend selects a registered backend by name ("xgboost", "memlib").
func WithBackend(name string) Option {
	return func(o *options) {
		o.cfg.Backend = name
	}
}

// WithLogLevel installs a zerolog logger on stderr at level.
func WithLogLevel(level string) Option {
	return func(o *options) {
		o.cfg.LogLevel = level
	}
}

// WithLogger installs logger as the process logger. It takes precedence
// over WithLogLevel.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Load initialises the native backend. Options are layered over the
// XGBRIDGE_BACKEND and XGBRIDGE_LOG_LEVEL environment variables. Only the
// first call in a process takes effect; later calls return the same
// adapter or the same load error.
func Load(opts ...Option) (*native.Adapter, error) {
	o := options{cfg: native.ConfigFromEnv()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		log.SetLogger(o.logger)
		log.InstallWarningHook()
		o.cfg.LogLevel = ""
	}
	return native.Load(o.cfg)
}

// Version reports the loaded native library version as "major.minor.patch".
func Version() (string, error) {
	a, err := native.Default()
	if err != nil {
		return "", err
	}
	return a.Version(), nil
}

// SetGlobalConfig applies process-wide native settings such as verbosity
// or nthread. Keys are applied one at a time in sorted order; the first
// rejected key is reported as an InvalidParameterError and the keys after
// it are not applied.
func SetGlobalConfig(config map[string]string) error {
	const op = "XGBSetGlobalConfig"
	a, err := native.Default()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := config[key]
		doc, err := json.Marshal(map[string]string{key: value})
		if err != nil {
			return errors.NewEncodingError("global config %s: %v", key, err)
		}
		err = a.Call(op, func(lib native.Library) int { return lib.SetGlobalConfig(string(doc)) })
		if err != nil {
			return native.AsParameterError(err, key, value)
		}
		log.GetLoggerWithName("xgbridge").Debug("global config set", log.ParamKey, key, log.ParamValue, value)
	}
	return nil
}

// GetGlobalConfig returns the current process-wide native settings. Scalar
// values are rendered as text: strings unquoted, numbers and booleans as
// their JSON literals.
func GetGlobalConfig() (map[string]string, error) {
	const op = "XGBGetGlobalConfig"
	a, err := native.Default()
	if err != nil {
		return nil, err
	}
	var doc string
	if err := a.Call(op, func(lib native.Library) int { return lib.GetGlobalConfig(&doc) }); err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		return nil, errors.NewEncodingError("global config: %v", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out, nil
}
