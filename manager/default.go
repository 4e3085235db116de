package manager

import (
	"sync"
	"sync/atomic"
)

var (
	defaultMu      sync.Mutex
	defaultOptions Options
	defaultManager atomic.Pointer[Manager]
)

// Configure sets the options used to build the default manager. It must run
// before the first call to Default.
func Configure(opts Options) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultManager.Load() != nil {
		return ErrConfigured
	}
	defaultOptions = opts
	return nil
}

// Default returns the process-wide manager, creating it on first use. It is
// never torn down.
func Default() *Manager {
	if m := defaultManager.Load(); m != nil {
		return m
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if m := defaultManager.Load(); m != nil {
		return m
	}
	m := New(defaultOptions)
	defaultManager.Store(m)
	return m
}
