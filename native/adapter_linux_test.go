package native

import (
	"runtime"
	"sync"
	"syscall"
	"testing"

	"github.com/YuminosukeSato/xgbridge/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// threadLib keeps its error slot per OS thread, the way libxgboost does.
// A failing call yields the processor before returning so the scheduler
// gets a chance to move the goroutine.
type threadLib struct {
	Library
	slots sync.Map // thread id -> message
}

func (f *threadLib) GetLastError() string {
	msg, _ := f.slots.Load(syscall.Gettid())
	s, _ := msg.(string)
	return s
}

func (f *threadLib) DMatrixNumRow(h Ptr, out *uint64) int {
	f.slots.Store(syscall.Gettid(), "thread-local failure")
	for i := 0; i < 4; i++ {
		runtime.Gosched()
	}
	return Fail
}

func TestCallReadsErrorOnFailingThread(t *testing.T) {
	a := NewAdapter("fake", &threadLib{})

	const workers = 32
	const rounds = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				var rows uint64
				err := a.Call("XGDMatrixNumRow", func(lib Library) int { return lib.DMatrixNumRow(1, &rows) })
				var nerr *errors.NativeError
				if !assert.True(t, errors.As(err, &nerr)) {
					return
				}
				assert.Equal(t, "thread-local failure", nerr.Message)
			}
		}()
	}
	wg.Wait()
}

func TestCallReleasesThread(t *testing.T) {
	a := NewAdapter("fake", &fakeLib{})

	runtime.LockOSThread()
	tid := syscall.Gettid()
	var rows uint64
	require.NoError(t, a.Call("XGDMatrixNumRow", func(lib Library) int { return lib.DMatrixNumRow(2, &rows) }))
	// the caller's own pin survives the call
	assert.Equal(t, tid, syscall.Gettid())
	runtime.UnlockOSThread()
}
