package maestro_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aescanero/maestro/pkg/jobs"
	"github.com/aescanero/maestro/pkg/maestro"
	"github.com/aescanero/maestro/pkg/ports"
	"github.com/aescanero/maestro/pkg/registry"
)

func five(ctx context.Context, in jobs.Input) (any, error) { return 5, nil }

func four(ctx context.Context, in jobs.Input) (any, error) { return 4, nil }

func add(ctx context.Context, in jobs.Input) (any, error) {
	a, err := jobs.Value[int](in, 0, "a")
	if err != nil {
		return nil, err
	}
	b, err := jobs.Value[int](in, 1, "b")
	if err != nil {
		return nil, err
	}
	return a + b, nil
}

func dependsOnBoth() jobs.Option {
	return jobs.WithKwargs(map[string]any{
		"a": jobs.DependsOn{Name: "five"},
		"b": jobs.DependsOn{Name: "four"},
	})
}

type recorder struct {
	mu       sync.Mutex
	warnings []jobs.Warning
}

func (r *recorder) handle(w jobs.Warning) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, w)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.warnings))
	for i, w := range r.warnings {
		names[i] = w.Job
	}
	return names
}

func newMaestro(t *testing.T, opts ...maestro.Option) (*maestro.Maestro, *recorder) {
	t.Helper()
	rec := &recorder{}
	m, err := maestro.New(append(opts, maestro.WithWarningHandler(rec.handle))...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, rec
}

func TestExecuteInDeclaredOrder(t *testing.T) {
	m, rec := newMaestro(t)
	m.MustAdd(five)
	m.MustAdd(four)
	m.MustAdd(add, dependsOnBoth())

	results, err := m.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !reflect.DeepEqual(results, []any{5, 4, 9}) {
		t.Errorf("expected [5 4 9], got %v", results)
	}
	if len(rec.names()) != 0 {
		t.Errorf("expected no warnings, got %v", rec.names())
	}
}

func TestExecuteTriggersDependenciesEarly(t *testing.T) {
	m, rec := newMaestro(t)
	m.MustAdd(add, dependsOnBoth())
	m.MustAdd(five)
	m.MustAdd(four)

	results, err := m.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !reflect.DeepEqual(results, []any{9, 5, 4}) {
		t.Errorf("expected [9 5 4], got %v", results)
	}
	if got := rec.names(); !reflect.DeepEqual(got, []string{"five", "four"}) {
		t.Errorf("expected warnings for five and four, got %v", got)
	}
}

func TestExecuteMissingDependency(t *testing.T) {
	m, _ := newMaestro(t)
	m.MustAdd(add, jobs.WithKwargs(map[string]any{"a": jobs.DependsOn{Name: "missing"}, "b": 1}))

	_, err := m.Execute(context.Background())
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected lookup error, got %v", err)
	}
	if !strings.Contains(err.Error(), "'missing'") {
		t.Errorf("error should name the missing job: %v", err)
	}
}

func TestExecuteDependencyCycle(t *testing.T) {
	m, _ := newMaestro(t)
	m.MustAdd(add, jobs.WithName("x"), jobs.WithArgs(jobs.DependsOn{Name: "y"}, 1))
	m.MustAdd(add, jobs.WithName("y"), jobs.WithArgs(jobs.DependsOn{Name: "x"}, 1))

	_, err := m.Execute(context.Background())
	if !errors.Is(err, maestro.ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle, got %v", err)
	}
}

func TestExecuteTwiceIsIdempotent(t *testing.T) {
	var calls atomic.Int32
	counted := func(ctx context.Context, in jobs.Input) (any, error) {
		return calls.Add(1), nil
	}

	m, rec := newMaestro(t)
	m.MustAdd(counted, jobs.WithName("counted"))

	first, err := m.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) || calls.Load() != 1 {
		t.Errorf("expected cached results, got %v %v after %d calls", first, second, calls.Load())
	}
	if got := rec.names(); !reflect.DeepEqual(got, []string{"counted"}) {
		t.Errorf("expected one re-run warning, got %v", got)
	}
}

func TestExecuteGroupedPool(t *testing.T) {
	m, _ := newMaestro(t, maestro.WithPoolMode(jobs.ModeAsSubmitted))
	m.MustAdd(five, jobs.WithParallelGroup("math"))
	m.MustAdd(four, jobs.WithParallelGroup("math"))
	m.MustAdd(add, jobs.WithArgs(2, 3), jobs.WithParallelGroup("math"))
	m.MustAdd(add, jobs.WithName("after"), jobs.WithArgs(1, 1))

	if units := m.Registry().Units(); len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	results, err := m.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []any{[]any{5, 4, 5}, 2}
	if !reflect.DeepEqual(results, want) {
		t.Errorf("expected %v, got %v", want, results)
	}
}

func TestAddStringRequiresType(t *testing.T) {
	m, _ := newMaestro(t)
	_, err := m.Add("tasks.cleanup")

	var cfgErr *maestro.ConfigError
	if !errors.As(err, &cfgErr) || !errors.Is(err, jobs.ErrMissingType) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if m.Registry().Len() != 0 {
		t.Error("nothing should be registered")
	}
}

func TestAddDuplicateName(t *testing.T) {
	m, _ := newMaestro(t)
	m.MustAdd(five)
	if _, err := m.Add(five); !errors.Is(err, registry.ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
}

func TestAddByReference(t *testing.T) {
	catalog := jobs.NewCatalog()
	catalog.MustRegister(five, "numbers.five")

	m, _ := newMaestro(t, maestro.WithCatalog(catalog))
	job, err := m.Add("numbers.five", jobs.WithType(jobs.TypeCallable))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if job.Name() != "numbers.five" {
		t.Errorf("expected reference as default name, got %s", job.Name())
	}
	results, err := m.Execute(context.Background())
	if err != nil || !reflect.DeepEqual(results, []any{5}) {
		t.Errorf("unexpected results %v %v", results, err)
	}
}

func TestScriptScenarios(t *testing.T) {
	dir := t.TempDir()
	ok := filepath.Join(dir, "ok.sh")
	fail := filepath.Join(dir, "fail.sh")
	for path, body := range map[string]string{
		ok:   "#!/bin/sh\necho count=3\necho label=done\n",
		fail: "#!/bin/sh\nexit 1\n",
	} {
		if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	m, _ := newMaestro(t)
	if _, err := m.Add(filepath.Join(dir, "missing.sh"), jobs.WithType(jobs.TypeScript)); !errors.Is(err, jobs.ErrScriptNotFound) {
		t.Errorf("expected ErrScriptNotFound, got %v", err)
	}

	m.MustAdd(ok, jobs.WithType(jobs.TypeScript), jobs.WithName("ok"))
	results, err := m.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := map[string]any{"count": int64(3), "label": "done"}
	if !reflect.DeepEqual(results[0], want) {
		t.Errorf("expected %v, got %v", want, results[0])
	}

	m.MustAdd(fail, jobs.WithType(jobs.TypeScript), jobs.WithName("fail"))
	_, err = m.Execute(context.Background())
	var exitErr *jobs.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 || !strings.Contains(err.Error(), fail) {
		t.Errorf("expected exit error naming %s, got %v", fail, err)
	}
}

func TestAsyncFromSyncFunction(t *testing.T) {
	m, _ := newMaestro(t)
	_, err := m.Add(five, jobs.WithType(jobs.TypeAsyncCallable))

	var typeErr *jobs.TypeError
	if !errors.As(err, &typeErr) || !errors.Is(err, jobs.ErrNotAsync) {
		t.Errorf("expected type error, got %v", err)
	}
}

type memoryBus struct {
	mu     sync.Mutex
	events []ports.Event
}

func (b *memoryBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *memoryBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	return nil
}

func (b *memoryBus) Unsubscribe(ctx context.Context, topic string) error { return nil }

func (b *memoryBus) Close() error { return nil }

func TestExecutePublishesEvents(t *testing.T) {
	bus := &memoryBus{}
	m, _ := newMaestro(t, maestro.WithEventBus(bus), maestro.WithRunID("run-1"))
	m.MustAdd(add, dependsOnBoth())
	m.MustAdd(five)
	m.MustAdd(four)

	if _, err := m.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}

	var types []ports.EventType
	for _, e := range bus.events {
		if e.RunID != "run-1" {
			t.Errorf("event %s has run id %s", e.Type, e.RunID)
		}
		types = append(types, e.Type)
	}
	want := []ports.EventType{
		ports.EventRunStarted,
		ports.EventJobStarted, // add
		ports.EventDependencyTriggered,
		ports.EventJobStarted, // five
		ports.EventJobCompleted,
		ports.EventDependencyTriggered,
		ports.EventJobStarted, // four
		ports.EventJobCompleted,
		ports.EventJobCompleted, // add
		ports.EventJobRerun,
		ports.EventJobRerun,
		ports.EventRunCompleted,
	}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("unexpected events:\n got %v\nwant %v", types, want)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	catalog := jobs.NewCatalog()
	catalog.MustRegister(five)
	catalog.MustRegister(four)
	catalog.MustRegister(add)

	m, _ := newMaestro(t, maestro.WithCatalog(catalog))
	m.MustAdd(five, jobs.WithParallelGroup("numbers"))
	m.MustAdd(four, jobs.WithParallelGroup("numbers"))
	m.MustAdd(add, dependsOnBoth())
	m.MustAdd(add, jobs.WithName("literal"), jobs.WithArgs(10, 20))

	var buf bytes.Buffer
	if err := m.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	loaded, err := maestro.Load(bytes.NewReader(buf.Bytes()), maestro.WithCatalog(catalog))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := loaded.Registry().Names(); !reflect.DeepEqual(got, []string{"five", "four", "add", "literal"}) {
		t.Errorf("unexpected names %v", got)
	}

	var again bytes.Buffer
	if err := loaded.Serialize(&again); err != nil {
		t.Fatal(err)
	}
	if again.String() != buf.String() {
		t.Errorf("round trip changed the document:\n%s\n%s", buf.String(), again.String())
	}

	results, err := loaded.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !reflect.DeepEqual(results, []any{[]any{5, 4}, 9, 30}) {
		t.Errorf("unexpected results %v", results)
	}
}

func TestSerializeFile(t *testing.T) {
	catalog := jobs.NewCatalog()
	catalog.MustRegister(five)

	m, _ := newMaestro(t, maestro.WithCatalog(catalog))
	m.MustAdd(five)

	path := filepath.Join(t.TempDir(), "jobs.json")
	if err := m.SerializeFile(path); err != nil {
		t.Fatalf("SerializeFile: %v", err)
	}
	loaded, err := maestro.LoadFile(path, maestro.WithCatalog(catalog))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !loaded.Registry().Contains("five") {
		t.Error("expected five after load")
	}

	if _, err := maestro.LoadFile(filepath.Join(t.TempDir(), "nope.json")); !errors.Is(err, maestro.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestSerializeRejectsClosures(t *testing.T) {
	m, _ := newMaestro(t)
	m.MustAdd(func(ctx context.Context, in jobs.Input) (any, error) { return nil, nil }, jobs.WithName("inline"))

	var buf bytes.Buffer
	if err := m.Serialize(&buf); !errors.Is(err, maestro.ErrUnserializable) {
		t.Errorf("expected ErrUnserializable, got %v", err)
	}
}

func TestLoadRejectsVersion(t *testing.T) {
	_, err := maestro.Load(strings.NewReader(`{"version": 7, "jobs": []}`))
	if !errors.Is(err, maestro.ErrDocumentVersion) {
		t.Errorf("expected ErrDocumentVersion, got %v", err)
	}
}

func answerModule(ctx context.Context, in jobs.Input) (map[string]any, error) {
	return map[string]any{"answer": 42, "_scratch": true}, nil
}

func TestSerializeModuleScript(t *testing.T) {
	m, _ := newMaestro(t)
	m.MustAdd(jobs.ModuleFunc(answerModule), jobs.WithName("mod"))

	var buf bytes.Buffer
	if err := m.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	loaded, err := maestro.Load(bytes.NewReader(buf.Bytes()), maestro.WithCatalog(m.Catalog()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []any{map[string]any{"answer": 42}}
	for name, mm := range map[string]*maestro.Maestro{"original": m, "loaded": loaded} {
		results, err := mm.Execute(context.Background())
		if err != nil {
			t.Fatalf("%s: Execute: %v", name, err)
		}
		if !reflect.DeepEqual(results, want) {
			t.Errorf("%s: expected %v, got %v", name, want, results)
		}
	}
}

func TestSerializeRejectsUnregisteredModule(t *testing.T) {
	job, err := jobs.NewScriptJob("raw", jobs.ModuleFunc(answerModule))
	if err != nil {
		t.Fatal(err)
	}
	m, _ := newMaestro(t)
	if err := m.AddJob(job); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := m.Serialize(&buf); !errors.Is(err, maestro.ErrUnserializable) {
		t.Errorf("expected ErrUnserializable, got %v", err)
	}
}

func first(ctx context.Context, in jobs.Input) (any, error) { return in.Arg(0), nil }

func TestSerializeKeepsLiteralTypes(t *testing.T) {
	m, _ := newMaestro(t)
	m.MustAdd(first,
		jobs.WithArgs(5, "x", 2.5),
		jobs.WithKwargs(map[string]any{
			"n":      7,
			"nested": map[string]any{"k": []any{1, 2}},
		}))

	var buf bytes.Buffer
	if err := m.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	loaded, err := maestro.Load(bytes.NewReader(buf.Bytes()), maestro.WithCatalog(m.Catalog()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	orig, _ := m.Registry().Lookup("first")
	got, err := loaded.Registry().Lookup("first")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Definition().Args, orig.Definition().Args) {
		t.Errorf("args changed: %#v -> %#v", orig.Definition().Args, got.Definition().Args)
	}
	if !reflect.DeepEqual(got.Definition().Kwargs, orig.Definition().Kwargs) {
		t.Errorf("kwargs changed: %#v -> %#v", orig.Definition().Kwargs, got.Definition().Kwargs)
	}

	want, _ := m.Execute(context.Background())
	results, err := loaded.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !reflect.DeepEqual(results, want) || !reflect.DeepEqual(results, []any{5}) {
		t.Errorf("expected %#v, got %#v", want, results)
	}
}

func TestPoolMemberAsDependencyRunsOnce(t *testing.T) {
	tests := []struct {
		name           string
		dependentFirst bool
		want           []any
	}{
		{name: "pool first", want: []any{[]any{1, 5}, 2}},
		{name: "dependent first", dependentFirst: true, want: []any{2, []any{1, 5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var runs atomic.Int32
			counted := func(ctx context.Context, in jobs.Input) (any, error) {
				return int(runs.Add(1)), nil
			}

			m, _ := newMaestro(t)
			addDependent := func() {
				m.MustAdd(add, jobs.WithName("c"), jobs.WithArgs(jobs.DependsOn{Name: "a"}, 1))
			}
			if tt.dependentFirst {
				addDependent()
			}
			m.MustAdd(counted, jobs.WithName("a"), jobs.WithParallelGroup("g"))
			m.MustAdd(five, jobs.WithName("b"), jobs.WithParallelGroup("g"))
			if !tt.dependentFirst {
				addDependent()
			}

			results, err := m.Execute(context.Background())
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if !reflect.DeepEqual(results, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, results)
			}
			if runs.Load() != 1 {
				t.Errorf("member body ran %d times", runs.Load())
			}
		})
	}
}
