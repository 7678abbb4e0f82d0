package backend

import (
	"context"
	"sync"
)

type contextKey struct{}

var backendKey contextKey

var (
	defaultMu      sync.RWMutex
	defaultBackend Backend = NewReal()
)

// SetDefaultVirtual installs b as the process-wide fallback backend for any
// task whose context carries no binding of its own. It is a convenience for
// the reference runtime; tests should prefer WithBackend for parallel
// safety, since the global default is shared across every goroutine.
func SetDefaultVirtual(b Backend) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultBackend = b
}

// UseRealTime resets the process-wide default to a fresh Real backend.
func UseRealTime() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultBackend = NewReal()
}

// WithBackend binds b into ctx. A child task started from ctx (or any
// context derived from it) inherits b unless it installs its own.
func WithBackend(ctx context.Context, b Backend) context.Context {
	return context.WithValue(ctx, backendKey, b)
}

// FromContext resolves the Backend bound to ctx, falling back to the
// process-wide default (set via SetDefaultVirtual/UseRealTime, or Real by
// default) when ctx carries none. Local context always wins over the
// global default.
func FromContext(ctx context.Context) Backend {
	if b, ok := ctx.Value(backendKey).(Backend); ok {
		return b
	}
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultBackend
}
