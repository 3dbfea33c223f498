package refresh

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namedTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "schoolhub_refresh_named_triggers_total",
	Help: "Named refresh triggers by outcome",
}, []string{"outcome"})

// Registry fans named triggers out to registered refresh callbacks. A mounted
// view registers its refresh under a stable name; a mutating flow triggers
// the views it knows are affected without holding a reference to them.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registration
}

type registration struct {
	fn Func
}

// NewRegistry creates an empty callback registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registration)}
}

// Register binds fn under name, replacing any previous binding, and returns
// the matching unregister. Unregister is idempotent and leaves a newer
// binding under the same name alone.
func (r *Registry) Register(name string, fn Func) func() {
	reg := &registration{fn: fn}

	r.mu.Lock()
	r.entries[name] = reg
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.entries[name] == reg {
			delete(r.entries, name)
		}
	}
}

// Trigger invokes the callbacks registered under the given names, in order.
// Unknown names are skipped; a view that has unmounted is simply no longer
// interested. Callback failures are joined so one bad view does not stop the
// rest from refreshing.
func (r *Registry) Trigger(ctx context.Context, names ...string) error {
	fns := make([]Func, 0, len(names))
	r.mu.Lock()
	for _, name := range names {
		reg, ok := r.entries[name]
		if !ok {
			namedTriggers.WithLabelValues("unknown").Inc()
			continue
		}
		fns = append(fns, reg.fn)
	}
	r.mu.Unlock()

	var errs []error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			namedTriggers.WithLabelValues("error").Inc()
			errs = append(errs, err)
			continue
		}
		namedTriggers.WithLabelValues("ok").Inc()
	}
	return errors.Join(errs...)
}
