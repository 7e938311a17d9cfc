package jobs

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// Func is the shape of a synchronous callable job body.
type Func func(ctx context.Context, in Input) (any, error)

// AsyncFunc is the shape of an asynchronous callable job body. Subtasks
// spawned on s are awaited before the job completes.
type AsyncFunc func(ctx context.Context, s *Scheduler, in Input) (any, error)

// ModuleFunc is an in-process script. The returned map is its namespace.
type ModuleFunc func(ctx context.Context, in Input) (map[string]any, error)

// Resolver errors
var (
	ErrNotFound = errors.New("reference not found")
	ErrNotAsync = errors.New("'executable' must be an async function")
)

// Resolver maps string references to executables
type Resolver interface {
	ResolveFunc(ref string) (Func, error)
	ResolveAsync(ref string) (AsyncFunc, error)
	ResolveModule(ref string) (ModuleFunc, bool)
	ResolveResource(ref string) (ResourceFactory, error)
}

// Catalog is an in-memory Resolver. Entries are keyed by their qualified Go
// name (see FuncName) plus any aliases given at registration.
type Catalog struct {
	mu        sync.RWMutex
	funcs     map[string]Func
	async     map[string]AsyncFunc
	modules   map[string]ModuleFunc
	resources map[string]ResourceFactory
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		funcs:     make(map[string]Func),
		async:     make(map[string]AsyncFunc),
		modules:   make(map[string]ModuleFunc),
		resources: make(map[string]ResourceFactory),
	}
}

// Register adds a Func, AsyncFunc, ModuleFunc or ResourceFactory under its
// qualified name and the given aliases.
func (c *Catalog) Register(fn any, aliases ...string) error {
	keys := append([]string{FuncName(fn)}, aliases...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := asFunc(fn); ok {
		for _, k := range keys {
			c.funcs[k] = f
		}
		return nil
	}
	if f, ok := asAsync(fn); ok {
		for _, k := range keys {
			c.async[k] = f
		}
		return nil
	}
	if f, ok := asModule(fn); ok {
		for _, k := range keys {
			c.modules[k] = f
		}
		return nil
	}
	if f, ok := asResourceFactory(fn); ok {
		for _, k := range keys {
			c.resources[k] = f
		}
		return nil
	}
	return fmt.Errorf("%w: cannot register %T", ErrUnsupportedExecutable, fn)
}

// MustRegister is like Register but panics on error
func (c *Catalog) MustRegister(fn any, aliases ...string) {
	if err := c.Register(fn, aliases...); err != nil {
		panic(err)
	}
}

// RegisterModule adds an in-process script under name
func (c *Catalog) RegisterModule(name string, fn ModuleFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[name] = fn
}

// ResolveFunc returns the synchronous function registered under ref
func (c *Catalog) ResolveFunc(ref string) (Func, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if f, ok := c.funcs[ref]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: cannot import '%s'", ErrNotFound, ref)
}

// ResolveAsync returns the async function registered under ref. A
// synchronous entry under the same ref fails with ErrNotAsync.
func (c *Catalog) ResolveAsync(ref string) (AsyncFunc, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if f, ok := c.async[ref]; ok {
		return f, nil
	}
	if _, ok := c.funcs[ref]; ok {
		return nil, fmt.Errorf("%w (got '%s')", ErrNotAsync, ref)
	}
	return nil, fmt.Errorf("%w: cannot import '%s'", ErrNotFound, ref)
}

// ResolveModule returns the module registered under ref
func (c *Catalog) ResolveModule(ref string) (ModuleFunc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.modules[ref]
	return f, ok
}

// ResolveResource returns the resource factory registered under ref
func (c *Catalog) ResolveResource(ref string) (ResourceFactory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if f, ok := c.resources[ref]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: cannot import resource factory '%s'", ErrNotFound, ref)
}

// Names lists every registered reference
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.funcs)+len(c.async)+len(c.modules)+len(c.resources))
	for k := range c.funcs {
		names = append(names, k)
	}
	for k := range c.async {
		names = append(names, k)
	}
	for k := range c.modules {
		names = append(names, k)
	}
	for k := range c.resources {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// FuncName returns the qualified name of a function value, e.g.
// "github.com/acme/app/tasks.Cleanup". Method values lose their "-fm" suffix.
func FuncName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return ""
	}
	return strings.TrimSuffix(f.Name(), "-fm")
}

// ShortName returns the declared name from a qualified name
func ShortName(qualified string) string {
	if i := strings.LastIndex(qualified, "/"); i >= 0 {
		qualified = qualified[i+1:]
	}
	if i := strings.LastIndex(qualified, "."); i >= 0 {
		qualified = qualified[i+1:]
	}
	return qualified
}

var closurePattern = regexp.MustCompile(`\.func\d+(\.\d+)*$`)

// IsClosure reports whether a qualified name belongs to a function literal.
// Such names cannot be resolved after a restart.
func IsClosure(qualified string) bool {
	return closurePattern.MatchString(qualified)
}

func asFunc(v any) (Func, bool) {
	switch f := v.(type) {
	case Func:
		return f, f != nil
	case func(context.Context, Input) (any, error):
		return f, f != nil
	}
	return nil, false
}

func asAsync(v any) (AsyncFunc, bool) {
	switch f := v.(type) {
	case AsyncFunc:
		return f, f != nil
	case func(context.Context, *Scheduler, Input) (any, error):
		return f, f != nil
	}
	return nil, false
}

func asModule(v any) (ModuleFunc, bool) {
	switch f := v.(type) {
	case ModuleFunc:
		return f, f != nil
	case func(context.Context, Input) (map[string]any, error):
		return f, f != nil
	}
	return nil, false
}

func asResourceFactory(v any) (ResourceFactory, bool) {
	switch f := v.(type) {
	case ResourceFactory:
		return f, f != nil
	case func(context.Context, map[string]any) (any, ReleaseFunc, error):
		return f, f != nil
	case func(context.Context, map[string]any) (any, func() error, error):
		if f == nil {
			return nil, false
		}
		return func(ctx context.Context, kwargs map[string]any) (any, ReleaseFunc, error) {
			v, release, err := f(ctx, kwargs)
			return v, release, err
		}, true
	}
	return nil, false
}
