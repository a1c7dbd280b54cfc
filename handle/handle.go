// Package handle manages the lifecycle of opaque native handles.
//
// A Handle wraps a native pointer together with its kind and the function
// that releases it. It enforces three rules:
//
//   - a released handle is never passed to the native library again; every
//     operation on it fails with an InvalidHandleError before any native call;
//   - the native release runs exactly once, whether triggered by Release or by
//     the garbage collector reclaiming an unreachable handle;
//   - an operation holding the handle keeps it reachable until the native
//     call has returned.
//
// Reads take the handle's lock in shared mode, mutations and release take it
// exclusively. When an operation spans several handles, acquire the model
// handle first and the dataset handles after it, through Shared or
// SharedAll.
package handle

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/YuminosukeSato/xgbridge/native"
	"github.com/YuminosukeSato/xgbridge/pkg/errors"
	"github.com/YuminosukeSato/xgbridge/pkg/log"
)

// Kind tags the native object a handle refers to.
type Kind int

const (
	// Dataset is a DMatrix handle.
	Dataset Kind = iota + 1
	// Model is a Booster handle.
	Model
)

func (k Kind) String() string {
	switch k {
	case Dataset:
		return "dataset"
	case Model:
		return "model"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

const (
	stateLive int32 = iota + 1
	stateReleased
)

// FreeFunc releases the native object behind ptr.
type FreeFunc func(ptr native.Ptr) error

// Handle is a live or released native handle. The zero value is not usable;
// handles are issued by Registry.New right after a successful create call.
type Handle struct {
	kind  Kind
	id    uint64
	ptr   native.Ptr
	free  FreeFunc
	state atomic.Int32
	mu    sync.RWMutex
	reg   *Registry
}

// New issues a handle in the process registry.
func New(kind Kind, ptr native.Ptr, free FreeFunc) *Handle {
	return defaultRegistry.New(kind, ptr, free)
}

// Kind returns the handle kind.
func (h *Handle) Kind() Kind { return h.kind }

// ID returns the registry-unique handle id.
func (h *Handle) ID() uint64 { return h.id }

// Live reports whether the handle has not been released.
func (h *Handle) Live() bool { return h.state.Load() == stateLive }

func (h *Handle) String() string {
	return fmt.Sprintf("%s#%d", h.kind, h.id)
}

func (h *Handle) invalid(op string) error {
	return errors.NewInvalidHandleError(op, h.kind.String(), h.id, "handle has been released")
}

// Shared runs fn with the native pointer under a shared lock. It fails with
// InvalidHandleError, without calling fn, if the handle was released.
func (h *Handle) Shared(op string, fn func(ptr native.Ptr) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.Live() {
		return h.invalid(op)
	}
	err := fn(h.ptr)
	runtime.KeepAlive(h)
	return err
}

// Exclusive is Shared with an exclusive lock, for mutations.
func (h *Handle) Exclusive(op string, fn func(ptr native.Ptr) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.Live() {
		return h.invalid(op)
	}
	err := fn(h.ptr)
	runtime.KeepAlive(h)
	return err
}

// Release frees the native object. A second call returns an
// InvalidHandleError and changes nothing.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.state.CompareAndSwap(stateLive, stateReleased) {
		return h.invalid("Free")
	}
	runtime.SetFinalizer(h, nil)
	ptr := h.ptr
	h.ptr = 0
	h.reg.released(h, log.ReleaseExplicit)
	return h.free(ptr)
}

// reclaim is the finalizer of a handle that became unreachable while live.
func reclaim(h *Handle) {
	if !h.state.CompareAndSwap(stateLive, stateReleased) {
		return
	}
	ptr := h.ptr
	h.ptr = 0
	h.reg.released(h, log.ReleaseReclaimed)
	if err := h.free(ptr); err != nil {
		logger().Error("reclaiming handle failed", err, log.HandleKindKey, h.kind.String(), log.HandleIDKey, h.id)
	}
	errors.Warn(errors.NewHandleLeakWarning(h.kind.String(), h.id))
}

// SharedAll takes shared locks on every handle, in id order and without
// duplicates, then runs fn with their pointers in argument order.
func SharedAll(op string, hs []*Handle, fn func(ptrs []native.Ptr) error) error {
	order := make([]*Handle, 0, len(hs))
	seen := make(map[*Handle]bool, len(hs))
	for _, h := range hs {
		if !seen[h] {
			seen[h] = true
			order = append(order, h)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i].id < order[j].id })

	for i, h := range order {
		h.mu.RLock()
		if !h.Live() {
			for _, locked := range order[:i+1] {
				locked.mu.RUnlock()
			}
			return h.invalid(op)
		}
	}
	defer func() {
		for _, h := range order {
			h.mu.RUnlock()
		}
	}()

	ptrs := make([]native.Ptr, len(hs))
	for i, h := range hs {
		ptrs[i] = h.ptr
	}
	err := fn(ptrs)
	runtime.KeepAlive(hs)
	return err
}

// ===========================================================================
// Registry
// ===========================================================================

// Registry tracks live handles by id. It never holds a *Handle, so it does
// not keep handles reachable.
type Registry struct {
	mu        sync.Mutex
	live      map[uint64]Kind
	nextID    atomic.Uint64
	freed     atomic.Uint64
	reclaimed atomic.Uint64
}

var defaultRegistry = NewRegistry()

// Default returns the process registry.
func Default() *Registry { return defaultRegistry }

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[uint64]Kind)}
}

func logger() log.Logger { return log.GetLoggerWithName("handle") }

// New issues a live handle for ptr and arms its reclamation.
func (r *Registry) New(kind Kind, ptr native.Ptr, free FreeFunc) *Handle {
	h := &Handle{kind: kind, id: r.nextID.Add(1), ptr: ptr, free: free, reg: r}
	h.state.Store(stateLive)

	r.mu.Lock()
	r.live[h.id] = kind
	r.mu.Unlock()

	runtime.SetFinalizer(h, reclaim)
	logger().Debug("handle issued", log.HandleKindKey, kind.String(), log.HandleIDKey, h.id)
	return h
}

func (r *Registry) released(h *Handle, trigger string) {
	r.mu.Lock()
	delete(r.live, h.id)
	r.mu.Unlock()
	if trigger == log.ReleaseReclaimed {
		r.reclaimed.Add(1)
	} else {
		r.freed.Add(1)
	}
	logger().Debug("handle released",
		log.HandleKindKey, h.kind.String(),
		log.HandleIDKey, h.id,
		log.ReleaseTriggerKey, trigger,
	)
}

// Live counts the live handles of kind.
func (r *Registry) Live(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.live {
		if k == kind {
			n++
		}
	}
	return n
}

// Snapshot is a point-in-time view of a registry.
type Snapshot struct {
	Datasets  int
	Models    int
	Released  uint64
	Reclaimed uint64
}

// Snapshot returns the current counters.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	s := Snapshot{}
	for _, k := range r.live {
		switch k {
		case Dataset:
			s.Datasets++
		case Model:
			s.Models++
		}
	}
	r.mu.Unlock()
	s.Released = r.freed.Load()
	s.Reclaimed = r.reclaimed.Load()
	return s
}
