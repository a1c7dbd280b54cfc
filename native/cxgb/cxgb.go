//go:build xgboost && cgo

package cxgb

/*
#cgo LDFLAGS: -lxgboost
#include <stdlib.h>
#include <xgboost/c_api.h>
*/
import "C"

import (
	"unsafe"

	"github.com/YuminosukeSato/xgbridge/native"
)

func init() {
	native.Register(native.BackendXGBoost, func() (native.Library, error) {
		return lib{}, nil
	})
}

// lib forwards every entry point to libxgboost. It holds no state; the
// native library owns the handles and the thread-local error slot.
// native.Adapter.Call pins the calling goroutine to its OS thread until
// GetLastError has been read, so the slot read is the one the failing call
// wrote.
type lib struct{}

var _ native.Library = lib{}

func dm(h native.Ptr) C.DMatrixHandle {
	return C.DMatrixHandle(unsafe.Pointer(uintptr(h))) //nolint:govet // C-owned handle
}

func bh(h native.Ptr) C.BoosterHandle {
	return C.BoosterHandle(unsafe.Pointer(uintptr(h))) //nolint:govet // C-owned handle
}

// cstrings copies ss into a C array. The returned func frees everything.
func cstrings(ss []string) (**C.char, func()) {
	if len(ss) == 0 {
		return nil, func() {}
	}
	arr := unsafe.Slice((**C.char)(C.malloc(C.size_t(len(ss))*C.size_t(unsafe.Sizeof(uintptr(0))))), len(ss))
	for i, s := range ss {
		arr[i] = C.CString(s)
	}
	return &arr[0], func() {
		for _, p := range arr {
			C.free(unsafe.Pointer(p))
		}
		C.free(unsafe.Pointer(&arr[0]))
	}
}

func gostrings(arr **C.char, n C.bst_ulong) []string {
	if n == 0 || arr == nil {
		return nil
	}
	src := unsafe.Slice(arr, int(n))
	out := make([]string, len(src))
	for i, p := range src {
		out[i] = C.GoString(p)
	}
	return out
}

func status(rc C.int) int { return int(rc) }

func (lib) Version() (int, int, int) {
	var major, minor, patch C.int
	C.XGBoostVersion(&major, &minor, &patch)
	return int(major), int(minor), int(patch)
}

func (lib) GetLastError() string {
	return C.GoString(C.XGBGetLastError())
}

func (lib) SetGlobalConfig(config string) int {
	c := C.CString(config)
	defer C.free(unsafe.Pointer(c))
	return status(C.XGBSetGlobalConfig(c))
}

func (lib) GetGlobalConfig(out *string) int {
	var c *C.char
	rc := C.XGBGetGlobalConfig(&c)
	if rc == 0 {
		*out = C.GoString(c)
	}
	return status(rc)
}

func (lib) DMatrixCreateFromDense(arrayInterface, config string, out *native.Ptr) int {
	ai, cfg := C.CString(arrayInterface), C.CString(config)
	defer C.free(unsafe.Pointer(ai))
	defer C.free(unsafe.Pointer(cfg))
	var h C.DMatrixHandle
	rc := C.XGDMatrixCreateFromDense(ai, cfg, &h)
	*out = native.Ptr(uintptr(unsafe.Pointer(h)))
	return status(rc)
}

func (lib) DMatrixCreateFromCSR(indptr, indices, data string, ncol uint64, config string, out *native.Ptr) int {
	ip, ix, dv, cfg := C.CString(indptr), C.CString(indices), C.CString(data), C.CString(config)
	defer func() {
		for _, p := range []*C.char{ip, ix, dv, cfg} {
			C.free(unsafe.Pointer(p))
		}
	}()
	var h C.DMatrixHandle
	rc := C.XGDMatrixCreateFromCSR(ip, ix, dv, C.bst_ulong(ncol), cfg, &h)
	*out = native.Ptr(uintptr(unsafe.Pointer(h)))
	return status(rc)
}

func (lib) DMatrixCreateFromCSC(indptr, indices, data string, nrow uint64, config string, out *native.Ptr) int {
	ip, ix, dv, cfg := C.CString(indptr), C.CString(indices), C.CString(data), C.CString(config)
	defer func() {
		for _, p := range []*C.char{ip, ix, dv, cfg} {
			C.free(unsafe.Pointer(p))
		}
	}()
	var h C.DMatrixHandle
	rc := C.XGDMatrixCreateFromCSC(ip, ix, dv, C.bst_ulong(nrow), cfg, &h)
	*out = native.Ptr(uintptr(unsafe.Pointer(h)))
	return status(rc)
}

func (lib) DMatrixCreateFromURI(config string, out *native.Ptr) int {
	cfg := C.CString(config)
	defer C.free(unsafe.Pointer(cfg))
	var h C.DMatrixHandle
	rc := C.XGDMatrixCreateFromURI(cfg, &h)
	*out = native.Ptr(uintptr(unsafe.Pointer(h)))
	return status(rc)
}

func (lib) DMatrixFree(h native.Ptr) int {
	return status(C.XGDMatrixFree(dm(h)))
}

func (lib) DMatrixNumRow(h native.Ptr, out *uint64) int {
	var n C.bst_ulong
	rc := C.XGDMatrixNumRow(dm(h), &n)
	*out = uint64(n)
	return status(rc)
}

func (lib) DMatrixNumCol(h native.Ptr, out *uint64) int {
	var n C.bst_ulong
	rc := C.XGDMatrixNumCol(dm(h), &n)
	*out = uint64(n)
	return status(rc)
}

func (lib) DMatrixNumNonMissing(h native.Ptr, out *uint64) int {
	var n C.bst_ulong
	rc := C.XGDMatrixNumNonMissing(dm(h), &n)
	*out = uint64(n)
	return status(rc)
}

func (lib) DMatrixSetInfoFromInterface(h native.Ptr, field, arrayInterface string) int {
	f, ai := C.CString(field), C.CString(arrayInterface)
	defer C.free(unsafe.Pointer(f))
	defer C.free(unsafe.Pointer(ai))
	return status(C.XGDMatrixSetInfoFromInterface(dm(h), f, ai))
}

func (lib) DMatrixGetFloatInfo(h native.Ptr, field string, out *[]float32) int {
	f := C.CString(field)
	defer C.free(unsafe.Pointer(f))
	var n C.bst_ulong
	var p *C.float
	rc := C.XGDMatrixGetFloatInfo(dm(h), f, &n, &p)
	if rc == 0 {
		*out = nil
		if n > 0 {
			*out = unsafe.Slice((*float32)(unsafe.Pointer(p)), int(n))
		}
	}
	return status(rc)
}

func (lib) DMatrixGetUIntInfo(h native.Ptr, field string, out *[]uint32) int {
	f := C.CString(field)
	defer C.free(unsafe.Pointer(f))
	var n C.bst_ulong
	var p *C.uint
	rc := C.XGDMatrixGetUIntInfo(dm(h), f, &n, &p)
	if rc == 0 {
		*out = nil
		if n > 0 {
			*out = unsafe.Slice((*uint32)(unsafe.Pointer(p)), int(n))
		}
	}
	return status(rc)
}

func (lib) DMatrixSetStrFeatureInfo(h native.Ptr, field string, features []string) int {
	f := C.CString(field)
	defer C.free(unsafe.Pointer(f))
	arr, free := cstrings(features)
	defer free()
	return status(C.XGDMatrixSetStrFeatureInfo(dm(h), f, arr, C.bst_ulong(len(features))))
}

func (lib) DMatrixGetStrFeatureInfo(h native.Ptr, field string, out *[]string) int {
	f := C.CString(field)
	defer C.free(unsafe.Pointer(f))
	var n C.bst_ulong
	var arr **C.char
	rc := C.XGDMatrixGetStrFeatureInfo(dm(h), f, &n, &arr)
	if rc == 0 {
		*out = gostrings(arr, n)
	}
	return status(rc)
}

func (lib) DMatrixGetDataAsCSR(h native.Ptr, config string, indptr []uint64, indices []uint32, data []float32) int {
	cfg := C.CString(config)
	defer C.free(unsafe.Pointer(cfg))
	var ip *C.bst_ulong
	var ix *C.uint
	var dv *C.float
	if len(indptr) > 0 {
		ip = (*C.bst_ulong)(unsafe.Pointer(&indptr[0]))
	}
	if len(indices) > 0 {
		ix = (*C.uint)(unsafe.Pointer(&indices[0]))
		dv = (*C.float)(unsafe.Pointer(&data[0]))
	}
	return status(C.XGDMatrixGetDataAsCSR(dm(h), cfg, ip, ix, dv))
}

func (lib) DMatrixSaveBinary(h native.Ptr, fname string, silent bool) int {
	f := C.CString(fname)
	defer C.free(unsafe.Pointer(f))
	s := C.int(0)
	if silent {
		s = 1
	}
	return status(C.XGDMatrixSaveBinary(dm(h), f, s))
}

func (lib) BoosterCreate(dmats []native.Ptr, out *native.Ptr) int {
	handles := make([]C.DMatrixHandle, len(dmats))
	for i, d := range dmats {
		handles[i] = dm(d)
	}
	var arr *C.DMatrixHandle
	if len(handles) > 0 {
		arr = &handles[0]
	}
	var h C.BoosterHandle
	rc := C.XGBoosterCreate(arr, C.bst_ulong(len(handles)), &h)
	*out = native.Ptr(uintptr(unsafe.Pointer(h)))
	return status(rc)
}

func (lib) BoosterFree(h native.Ptr) int {
	return status(C.XGBoosterFree(bh(h)))
}

func (lib) BoosterSetParam(h native.Ptr, name, value string) int {
	n, v := C.CString(name), C.CString(value)
	defer C.free(unsafe.Pointer(n))
	defer C.free(unsafe.Pointer(v))
	return status(C.XGBoosterSetParam(bh(h), n, v))
}

func (lib) BoosterGetNumFeature(h native.Ptr, out *uint64) int {
	var n C.bst_ulong
	rc := C.XGBoosterGetNumFeature(bh(h), &n)
	*out = uint64(n)
	return status(rc)
}

func (lib) BoosterBoostedRounds(h native.Ptr, out *int) int {
	var n C.int
	rc := C.XGBoosterBoostedRounds(bh(h), &n)
	*out = int(n)
	return status(rc)
}

func (lib) BoosterUpdateOneIter(h native.Ptr, iter int, dtrain native.Ptr) int {
	return status(C.XGBoosterUpdateOneIter(bh(h), C.int(iter), dm(dtrain)))
}

func (lib) BoosterBoostOneIter(h native.Ptr, dtrain native.Ptr, grad, hess []float32) int {
	var g, hs *C.float
	if len(grad) > 0 {
		g = (*C.float)(unsafe.Pointer(&grad[0]))
	}
	if len(hess) > 0 {
		hs = (*C.float)(unsafe.Pointer(&hess[0]))
	}
	return status(C.XGBoosterBoostOneIter(bh(h), dm(dtrain), g, hs, C.bst_ulong(len(grad))))
}

func (lib) BoosterEvalOneIter(h native.Ptr, iter int, dmats []native.Ptr, names []string, out *string) int {
	handles := make([]C.DMatrixHandle, len(dmats))
	for i, d := range dmats {
		handles[i] = dm(d)
	}
	var arr *C.DMatrixHandle
	if len(handles) > 0 {
		arr = &handles[0]
	}
	cnames, free := cstrings(names)
	defer free()
	var res *C.char
	rc := C.XGBoosterEvalOneIter(bh(h), C.int(iter), arr, cnames, C.bst_ulong(len(handles)), &res)
	if rc == 0 {
		*out = C.GoString(res)
	}
	return status(rc)
}

func (lib) BoosterPredictFromDMatrix(h native.Ptr, dmat native.Ptr, config string, outShape *[]uint64, outResult *[]float32) int {
	cfg := C.CString(config)
	defer C.free(unsafe.Pointer(cfg))
	var shape *C.bst_ulong
	var dim C.bst_ulong
	var result *C.float
	rc := C.XGBoosterPredictFromDMatrix(bh(h), dm(dmat), cfg, &shape, &dim, &result)
	if rc != 0 {
		return status(rc)
	}
	dims := unsafe.Slice((*uint64)(unsafe.Pointer(shape)), int(dim))
	n := 1
	for _, d := range dims {
		n *= int(d)
	}
	*outShape = dims
	*outResult = nil
	if n > 0 {
		*outResult = unsafe.Slice((*float32)(unsafe.Pointer(result)), n)
	}
	return status(rc)
}

func (lib) BoosterGetAttr(h native.Ptr, key string, out *string, success *bool) int {
	k := C.CString(key)
	defer C.free(unsafe.Pointer(k))
	var v *C.char
	var ok C.int
	rc := C.XGBoosterGetAttr(bh(h), k, &v, &ok)
	if rc == 0 {
		*success = ok != 0
		if *success {
			*out = C.GoString(v)
		}
	}
	return status(rc)
}

func (lib) BoosterSetAttr(h native.Ptr, key string, value *string) int {
	k := C.CString(key)
	defer C.free(unsafe.Pointer(k))
	var v *C.char
	if value != nil {
		v = C.CString(*value)
		defer C.free(unsafe.Pointer(v))
	}
	return status(C.XGBoosterSetAttr(bh(h), k, v))
}

func (lib) BoosterGetAttrNames(h native.Ptr, out *[]string) int {
	var n C.bst_ulong
	var arr **C.char
	rc := C.XGBoosterGetAttrNames(bh(h), &n, &arr)
	if rc == 0 {
		*out = gostrings(arr, n)
	}
	return status(rc)
}

func (lib) BoosterSetStrFeatureInfo(h native.Ptr, field string, features []string) int {
	f := C.CString(field)
	defer C.free(unsafe.Pointer(f))
	arr, free := cstrings(features)
	defer free()
	return status(C.XGBoosterSetStrFeatureInfo(bh(h), f, arr, C.bst_ulong(len(features))))
}

func (lib) BoosterGetStrFeatureInfo(h native.Ptr, field string, out *[]string) int {
	f := C.CString(field)
	defer C.free(unsafe.Pointer(f))
	var n C.bst_ulong
	var arr **C.char
	rc := C.XGBoosterGetStrFeatureInfo(bh(h), f, &n, &arr)
	if rc == 0 {
		*out = gostrings(arr, n)
	}
	return status(rc)
}
