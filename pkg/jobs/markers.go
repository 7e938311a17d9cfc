package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// DependsOn is replaced by the result of the named job when the holding job
// executes. The named job runs first if it has not completed.
type DependsOn struct {
	Name string
}

// MarshalJSON encodes the marker as {"depends_on": name}
func (d DependsOn) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"depends_on": d.Name})
}

// ReleaseFunc tears down an acquired resource
type ReleaseFunc func() error

// ResourceFactory acquires a scoped value. The returned ReleaseFunc may be
// nil when nothing needs tearing down.
type ResourceFactory func(ctx context.Context, kwargs map[string]any) (any, ReleaseFunc, error)

// Resource is replaced by a value acquired from Factory for the duration of
// one execution. Release runs after the body on every exit path.
type Resource struct {
	Factory ResourceFactory
	Kwargs  map[string]any

	// Ref is the catalog reference written on serialization. It defaults to
	// the qualified name of Factory.
	Ref string
}

// Reference returns the serializable factory reference
func (r Resource) Reference() string {
	if r.Ref != "" {
		return r.Ref
	}
	if r.Factory == nil {
		return ""
	}
	return FuncName(r.Factory)
}

// MarshalJSON encodes the marker as {"resource": {"factory": ref, "kwargs": {...}}}
func (r Resource) MarshalJSON() ([]byte, error) {
	kwargs := r.Kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return json.Marshal(map[string]any{
		"resource": map[string]any{
			"factory": r.Reference(),
			"kwargs":  kwargs,
		},
	})
}

func (r Resource) acquire(ctx context.Context) (any, ReleaseFunc, error) {
	if r.Factory == nil {
		return nil, nil, fmt.Errorf("%w: resource %q has no factory", ErrNotFound, r.Reference())
	}
	return r.Factory(ctx, r.Kwargs)
}

// scope tracks resources acquired for one execution
type scope struct {
	env      *Env
	releases []ReleaseFunc
}

func (s *scope) resolve(ctx context.Context, v any) (any, error) {
	switch m := v.(type) {
	case DependsOn:
		return s.env.resolve(ctx, m.Name)
	case *DependsOn:
		return s.env.resolve(ctx, m.Name)
	case Resource:
		return s.acquire(ctx, m)
	case *Resource:
		return s.acquire(ctx, *m)
	default:
		return v, nil
	}
}

func (s *scope) acquire(ctx context.Context, r Resource) (any, error) {
	value, release, err := r.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire resource %s: %w", r.Reference(), err)
	}
	if release != nil {
		s.releases = append(s.releases, release)
	}
	return value, nil
}

// close releases in reverse acquisition order
func (s *scope) close() error {
	var errs []error
	for i := len(s.releases) - 1; i >= 0; i-- {
		if err := s.releases[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.releases = nil
	return errors.Join(errs...)
}

// invoke resolves markers in args then kwargs (sorted by key), runs body and
// releases every acquired resource. A body error is returned unchanged unless
// a release also fails, in which case both are joined.
func invoke(ctx context.Context, env *Env, args []any, kwargs map[string]any, body func(Input) (any, error)) (result any, err error) {
	sc := &scope{env: env}
	defer func() {
		if rerr := sc.close(); rerr != nil {
			if err == nil {
				result, err = nil, rerr
			} else {
				err = errors.Join(err, rerr)
			}
		}
	}()

	in := Input{
		Args:   make([]any, len(args)),
		Kwargs: make(map[string]any, len(kwargs)),
	}
	for i, arg := range args {
		v, err := sc.resolve(ctx, arg)
		if err != nil {
			return nil, err
		}
		in.Args[i] = v
	}

	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := sc.resolve(ctx, kwargs[k])
		if err != nil {
			return nil, err
		}
		in.Kwargs[k] = v
	}

	return body(in)
}

// DecodeValue turns a decoded JSON value back into a marker when it has the
// marker shape. Resource factories are looked up through r. JSON numbers
// become int when whole and float64 otherwise.
func DecodeValue(v any, r Resolver) (any, error) {
	v = decodeNumbers(v)
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return v, nil
	}

	if name, ok := m["depends_on"]; ok {
		s, ok := name.(string)
		if !ok {
			return nil, fmt.Errorf("depends_on must be a string, got %T", name)
		}
		return DependsOn{Name: s}, nil
	}

	raw, ok := m["resource"]
	if !ok {
		return v, nil
	}
	body, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("resource must be an object, got %T", raw)
	}
	ref, _ := body["factory"].(string)
	if ref == "" {
		return nil, errors.New("resource factory reference is required")
	}
	if r == nil {
		return nil, fmt.Errorf("%w: resource factory %q", ErrNoResolver, ref)
	}
	factory, err := r.ResolveResource(ref)
	if err != nil {
		return nil, err
	}
	res := Resource{Factory: factory, Ref: ref}
	if kw, ok := body["kwargs"].(map[string]any); ok && len(kw) > 0 {
		res.Kwargs = kw
	}
	return res, nil
}

// decodeNumbers converts json.Number values, including nested ones, to int
// when they hold a whole number that fits and to float64 otherwise.
func decodeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 0); err == nil {
			return int(i)
		}
		f, _ := t.Float64()
		return f
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = decodeNumbers(t[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k := range t {
			out[k] = decodeNumbers(t[k])
		}
		return out
	}
	return v
}
