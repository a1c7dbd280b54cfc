// Package native is the single choke point between Go and the native
// gradient-boosting library.
//
// A backend implements Library, a transliteration of the XGBoost C API:
// every entry point returns 0 on success and -1 on failure, writes its
// outputs through pointers, and leaves a human-readable message in one
// process-wide last-error slot. Nothing outside this package calls a Library
// method directly; all calls go through Adapter.Call, which serialises them
// behind one mutex and reads the error slot before any other caller can
// overwrite it.
//
// Backends register themselves from init functions:
//
//	import _ "github.com/YuminosukeSato/xgbridge/native/memlib"
//
// The cgo backend in native/cxgb only registers when the module is built with
// the "xgboost" build tag and cgo enabled.
package native

// Ptr is an opaque native handle. The host never dereferences it.
type Ptr uintptr

// Status codes returned by every Library entry point.
const (
	OK   = 0
	Fail = -1
)

// Library is the native entry point table. Method names follow the C API.
//
// String arguments carrying structured data (array interfaces, configs) are
// JSON documents. Slices returned through out-parameters are owned by the
// backend and are only valid until the next call on the same handle; the
// adapter copies them before releasing its lock.
type Library interface {
	// Version reports the native library version.
	Version() (major, minor, patch int)
	// GetLastError returns the message left by the most recent failing call.
	GetLastError() string

	SetGlobalConfig(config string) int
	GetGlobalConfig(out *string) int

	DMatrixCreateFromDense(arrayInterface, config string, out *Ptr) int
	DMatrixCreateFromCSR(indptr, indices, data string, ncol uint64, config string, out *Ptr) int
	DMatrixCreateFromCSC(indptr, indices, data string, nrow uint64, config string, out *Ptr) int
	DMatrixCreateFromURI(config string, out *Ptr) int
	DMatrixFree(h Ptr) int

	DMatrixNumRow(h Ptr, out *uint64) int
	DMatrixNumCol(h Ptr, out *uint64) int
	DMatrixNumNonMissing(h Ptr, out *uint64) int

	DMatrixSetInfoFromInterface(h Ptr, field, arrayInterface string) int
	DMatrixGetFloatInfo(h Ptr, field string, out *[]float32) int
	DMatrixGetUIntInfo(h Ptr, field string, out *[]uint32) int
	DMatrixSetStrFeatureInfo(h Ptr, field string, features []string) int
	DMatrixGetStrFeatureInfo(h Ptr, field string, out *[]string) int

	// DMatrixGetDataAsCSR fills caller-allocated buffers sized from
	// NumRow+1 and NumNonMissing.
	DMatrixGetDataAsCSR(h Ptr, config string, indptr []uint64, indices []uint32, data []float32) int
	DMatrixSaveBinary(h Ptr, fname string, silent bool) int

	BoosterCreate(dmats []Ptr, out *Ptr) int
	BoosterFree(h Ptr) int
	BoosterSetParam(h Ptr, name, value string) int
	BoosterGetNumFeature(h Ptr, out *uint64) int
	BoosterBoostedRounds(h Ptr, out *int) int
	BoosterUpdateOneIter(h Ptr, iter int, dtrain Ptr) int
	BoosterBoostOneIter(h Ptr, dtrain Ptr, grad, hess []float32) int
	BoosterEvalOneIter(h Ptr, iter int, dmats []Ptr, names []string, out *string) int
	BoosterPredictFromDMatrix(h Ptr, dmat Ptr, config string, outShape *[]uint64, outResult *[]float32) int

	BoosterGetAttr(h Ptr, key string, out *string, success *bool) int
	// BoosterSetAttr stores value under key; a nil value deletes the key.
	BoosterSetAttr(h Ptr, key string, value *string) int
	BoosterGetAttrNames(h Ptr, out *[]string) int
	BoosterSetStrFeatureInfo(h Ptr, field string, features []string) int
	BoosterGetStrFeatureInfo(h Ptr, field string, out *[]string) int
}

// Factory constructs a backend. It runs once per process, under the load lock.
type Factory func() (Library, error)
