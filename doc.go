// Package xgbridge exposes a native gradient-boosted-tree library to Go
// through a narrow boundary: backend loading, opaque dataset and model
// handles, the array-interface data codec, meta-info accessors and the
// booster training protocol.
//
// # Backends
//
// Two backends implement the same C API contract:
//
//   - native/cxgb links libxgboost through cgo (build tag "xgboost")
//   - native/memlib is an in-process engine used when libxgboost is absent
//
// The backend is chosen once per process by Load, or on first use from the
// XGBRIDGE_BACKEND environment variable.
//
// # Quick Start
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/xgbridge"
//	    "github.com/YuminosukeSato/xgbridge/booster"
//	    "github.com/YuminosukeSato/xgbridge/dataset"
//	    "gonum.org/v1/gonum/mat"
//	)
//
//	func main() {
//	    if _, err := xgbridge.Load(xgbridge.WithLogLevel("info")); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
//	    dtrain, err := dataset.NewFromMat(X, nil)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer dtrain.Free()
//	    if err := dtrain.SetLabel([]float32{2, 4, 6, 8}); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    b, err := booster.New(dtrain)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer b.Free()
//	    for i := 0; i < 10; i++ {
//	        if err := b.UpdateOneIter(i, dtrain); err != nil {
//	            log.Fatal(err)
//	        }
//	    }
//	    report, _ := b.EvalOneIter(9, []*dataset.DMatrix{dtrain}, []string{"train"})
//	    fmt.Println(report)
//	}
//
// # Packages
//
//   - native: backend contract, registry and the serialised call adapter
//   - arrayif: array interface descriptors over host buffers
//   - handle: exactly-once release of native handles
//   - dataset: DMatrix construction and meta info
//   - booster: parameters, training rounds, evaluation, prediction, attributes
//   - objective: host-side losses for custom-gradient training
//   - pkg/errors: the error taxonomy shared by every package
//   - pkg/log: structured logging
//
// # Concurrency
//
// Every native call is serialised by one process-wide lock. Handles add a
// reader/writer lock each: training and writes hold a handle exclusively,
// reads and predictions share it. A model is always locked before the
// datasets it uses.
package xgbridge
