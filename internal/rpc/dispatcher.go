// Package rpc resolves generated function bindings to Go implementations at
// call time. Modules are registered as factories keyed by module reference and
// are only built the first time one of their services is invoked.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/mx-space/cloud/internal/codegen"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
)

// Handler implements one service. args are the positional JSON arguments of the call.
type Handler func(ctx context.Context, io *IoConf, args []json.RawMessage) (any, error)

// Type is the set of members exported by a type, keyed by member name.
type Type map[string]Handler

// Module is what a module reference resolves to, keyed by type name. The
// empty type name holds module-level functions.
type Module map[string]Type

// Factory builds a module. It runs at most once successfully per Dispatcher.
type Factory func() (Module, error)

// Loader maps module references to their factories.
type Loader map[string]Factory

// Table is the generated form of a registry.
type Table map[string]codegen.Binding

// Lookup implements Bindings.
func (t Table) Lookup(name string) (codegen.Binding, bool) {
	b, ok := t[name]
	return b, ok
}

// Bindings is satisfied by *codegen.Registry and Table.
type Bindings interface {
	Lookup(name string) (codegen.Binding, bool)
}

// IoConf is the I/O configuration handed to every handler.
type IoConf struct {
	Logger *zap.Logger
	// Migrate backs the built-in migrate service unless the loader provides
	// the migrate module itself.
	Migrate func(ctx context.Context) (any, error)
	Values  map[string]any
}

var (
	ErrUnknownService = errors.New("unknown service")
	ErrUnknownModule  = errors.New("unknown module")
	ErrUnknownMember  = errors.New("unknown member")
	ErrNoMigrator     = errors.New("migrate is not configured")
)

// Error lets a handler choose the HTTP status of its failure.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string   { return e.Message }
func (e *Error) StatusCode() int { return e.Status }

// Errorf returns an *Error with the given status.
func Errorf(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

type lazyModule struct {
	mu     sync.Mutex
	module Module
}

func (l *lazyModule) get(factory Factory) (Module, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.module != nil {
		return l.module, nil
	}
	m, err := factory()
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = Module{}
	}
	l.module = m
	return m, nil
}

// Dispatcher invokes services by name.
type Dispatcher struct {
	bindings Bindings
	loader   Loader
	io       *IoConf
	modules  cmap.ConcurrentMap[string, *lazyModule]
}

// NewDispatcher creates a dispatcher. io may be nil.
func NewDispatcher(bindings Bindings, loader Loader, io *IoConf) *Dispatcher {
	if io == nil {
		io = &IoConf{}
	}
	if io.Logger == nil {
		io.Logger = zap.NewNop()
	}
	return &Dispatcher{
		bindings: bindings,
		loader:   loader,
		io:       io,
		modules:  cmap.New[*lazyModule](),
	}
}

// Resolve returns the handler bound to service, loading its module if needed.
func (d *Dispatcher) Resolve(service string) (Handler, error) {
	binding, ok := d.bindings.Lookup(service)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}

	factory, ok := d.loader[binding.Module]
	if !ok {
		if binding == codegen.MigrateBinding {
			return d.migrate, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, binding.Module)
	}

	d.modules.SetIfAbsent(binding.Module, &lazyModule{})
	lazy, _ := d.modules.Get(binding.Module)
	module, err := lazy.get(factory)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", binding.Module, err)
	}

	handler, ok := module[binding.Type][binding.Member]
	if !ok || handler == nil {
		return nil, fmt.Errorf("%w: %s.%s in %s", ErrUnknownMember, binding.Type, binding.Member, binding.Module)
	}
	return handler, nil
}

// Invoke calls service with args.
func (d *Dispatcher) Invoke(ctx context.Context, service string, args []json.RawMessage) (any, error) {
	handler, err := d.Resolve(service)
	if err != nil {
		return nil, err
	}
	return handler(ctx, d.io, args)
}

// Loaded reports whether the module has been built.
func (d *Dispatcher) Loaded(module string) bool {
	lazy, ok := d.modules.Get(module)
	if !ok {
		return false
	}
	lazy.mu.Lock()
	defer lazy.mu.Unlock()
	return lazy.module != nil
}

func (d *Dispatcher) migrate(ctx context.Context, io *IoConf, _ []json.RawMessage) (any, error) {
	if io.Migrate == nil {
		return nil, &Error{Status: http.StatusNotImplemented, Message: ErrNoMigrator.Error()}
	}
	return io.Migrate(ctx)
}

// InvokeFunc runs a service by name with a JSON payload.
type InvokeFunc func(ctx context.Context, service string, payload []byte) (any, error)

// ForwardLoader builds a Loader whose modules forward every member to invoke,
// named by the member. A single argument is passed as the payload as is;
// several are passed as a JSON array.
func ForwardLoader(entries []codegen.Entry, invoke InvokeFunc) Loader {
	byModule := make(map[string][]codegen.Binding)
	for _, e := range entries {
		byModule[e.Module] = append(byModule[e.Module], e.Binding)
	}

	loader := make(Loader, len(byModule))
	for ref, bindings := range byModule {
		loader[ref] = func() (Module, error) {
			m := Module{}
			for _, b := range bindings {
				if m[b.Type] == nil {
					m[b.Type] = Type{}
				}
				m[b.Type][b.Member] = forward(b.Member, invoke)
			}
			return m, nil
		}
	}
	return loader
}

func forward(service string, invoke InvokeFunc) Handler {
	return func(ctx context.Context, _ *IoConf, args []json.RawMessage) (any, error) {
		var payload []byte
		switch len(args) {
		case 0:
		case 1:
			payload = args[0]
		default:
			raw, err := json.Marshal(args)
			if err != nil {
				return nil, err
			}
			payload = raw
		}
		return invoke(ctx, service, payload)
	}
}
