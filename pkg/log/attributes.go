package log

// Component and operation context.
const (
	// ComponentKey names the emitting package: "native", "dataset", "booster", ...
	ComponentKey = "component"

	// BackendKey names the loaded native backend ("xgboost", "memlib").
	BackendKey = "native.backend"

	// NativeOpKey is the native entry point, e.g. "XGBoosterUpdateOneIter".
	NativeOpKey = "native.op"

	// VersionKey is the native library version string.
	VersionKey = "native.version"
)

// Handle lifecycle.
const (
	// HandleKindKey is "dataset" or "model".
	HandleKindKey = "handle.kind"

	// HandleIDKey is the registry id of a handle.
	HandleIDKey = "handle.id"

	// ReleaseTriggerKey records how a handle was released: "explicit" or "reclaimed".
	ReleaseTriggerKey = "handle.release"
)

// Data shape.
const (
	RowsKey       = "data.rows"
	ColsKey       = "data.cols"
	NonMissingKey = "data.non_missing"
	FieldKey      = "data.field"
	DTypeKey      = "data.typestr"
	FormatKey     = "data.format"
	PathKey       = "data.path"
)

// Training protocol.
const (
	IterationKey = "training.iteration"
	RoundsKey    = "training.boosted_rounds"
	ParamKey     = "param.key"
	ParamValue   = "param.value"
	EvalSetsKey  = "eval.sets"
	ObjectiveKey = "training.objective"
	LossKey      = "training.loss"
	DurationKey  = "perf.duration_ms"
)

// Error context.
const (
	ErrorTypeKey  = "error.type"
	StacktraceKey = "error.stacktrace"
)

// Release triggers.
const (
	ReleaseExplicit  = "explicit"
	ReleaseReclaimed = "reclaimed"
)
