package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
)

// ErrBackendUnreachable is returned when the docker backend was requested
// but cannot be reached and running on the host was not allowed.
var ErrBackendUnreachable = errors.New("requested interpreter backend unreachable")

// Registry manages interpreter backends in registration order.
type Registry struct {
	interpreters map[string]Interpreter
	order        []string
	hostFallback bool
}

// NewRegistry creates a new interpreter registry
func NewRegistry() *Registry {
	return &Registry{
		interpreters: make(map[string]Interpreter),
	}
}

// Register adds an interpreter to the registry
func (r *Registry) Register(interp Interpreter) {
	name := interp.Name()
	if _, exists := r.interpreters[name]; !exists {
		r.order = append(r.order, name)
	}
	r.interpreters[name] = interp
}

// Get returns the interpreter registered under name
func (r *Registry) Get(name string) (Interpreter, error) {
	interp, ok := r.interpreters[name]
	if !ok {
		return nil, fmt.Errorf("no interpreter registered for backend: %s", name)
	}
	return interp, nil
}

// Names returns the registered backend names in registration order
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// AllowHostFallback lets Select replace an unreachable docker backend
// with another available interpreter.
func (r *Registry) AllowHostFallback(allow bool) {
	r.hostFallback = allow
}

// Select returns the preferred interpreter when it is available, otherwise
// the first available one in registration order. A docker preference never
// falls back unless AllowHostFallback was set.
func (r *Registry) Select(ctx context.Context, preferred string) (Interpreter, error) {
	if interp, ok := r.interpreters[preferred]; ok && interp.Available(ctx) {
		return interp, nil
	}
	if preferred == BackendDocker && !r.hostFallback {
		return nil, fmt.Errorf("%w: %s (set runner.allow_host_fallback to run on the host)", ErrBackendUnreachable, preferred)
	}
	for _, name := range r.order {
		if name == preferred {
			continue
		}
		if interp := r.interpreters[name]; interp.Available(ctx) {
			slog.Warn("preferred interpreter unavailable, falling back",
				"preferred", preferred, "using", name)
			return interp, nil
		}
	}
	return nil, domain.ErrInterpreterUnavailable
}

// NewDefaultRegistry registers the local interpreter and, when the Docker
// daemon is reachable, the Docker interpreter.
func NewDefaultRegistry(cfg Config) *Registry {
	r := NewRegistry()
	r.AllowHostFallback(cfg.AllowHostFallback)
	if cfg.Backend == BackendDocker {
		if d, err := NewDockerInterpreter(cfg); err != nil {
			slog.Warn("docker interpreter unavailable", "error", err)
		} else {
			r.Register(d)
		}
	}
	r.Register(NewLocalInterpreter(cfg))
	return r
}
