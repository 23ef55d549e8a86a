package window

import (
	"context"
	"sync"
)

// OpacityCall records one SetOpacity call made on a Fake
type OpacityCall struct {
	Window  Handle
	Opacity float64
}

// Fake is an in-memory Source for tests
type Fake struct {
	mu       sync.Mutex
	windows  []Handle
	listErr  error
	failures map[uint32]error
	calls    []OpacityCall
	lists    int
	closed   bool
}

// NewFake creates a Fake that reports the given windows
func NewFake(windows ...Handle) *Fake {
	return &Fake{
		windows:  windows,
		failures: make(map[uint32]error),
	}
}

// SetWindows replaces the windows reported by ListWindows
func (f *Fake) SetWindows(windows ...Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = windows
}

// FailList makes ListWindows return err
func (f *Fake) FailList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// FailWindow makes SetOpacity return err for the window with id
func (f *Fake) FailWindow(id uint32, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[id] = err
}

// ListWindows returns the configured windows
func (f *Fake) ListWindows(ctx context.Context) ([]Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]Handle(nil), f.windows...), nil
}

// SetOpacity records the call
func (f *Fake) SetOpacity(ctx context.Context, w Handle, opacity float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[w.ID]; err != nil {
		return err
	}
	f.calls = append(f.calls, OpacityCall{Window: w, Opacity: opacity})
	return nil
}

// Calls returns the successful SetOpacity calls so far
func (f *Fake) Calls() []OpacityCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OpacityCall(nil), f.calls...)
}

// Lists returns how many times ListWindows was called
func (f *Fake) Lists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

// Close marks the fake closed
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Name returns the backend name
func (f *Fake) Name() string {
	return "fake"
}
