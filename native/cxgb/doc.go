// Package cxgb links libxgboost through cgo and registers it as the
// "xgboost" backend.
//
// The binding is compiled only with the xgboost build tag and cgo enabled:
//
//	CGO_CFLAGS="-I/opt/xgboost/include" CGO_LDFLAGS="-L/opt/xgboost/lib" \
//	    go build -tags xgboost ./...
//
// Without the tag the package is empty and a blank import is harmless, so
// programs can import it unconditionally and fall back to memlib.
package cxgb
