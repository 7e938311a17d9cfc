package orchestrator

import (
	"errors"
	"strings"
	"testing"

	"github.com/aescanero/maestro/internal/builtins"
	"github.com/aescanero/maestro/pkg/jobs"
	"github.com/aescanero/maestro/pkg/maestro"
)

func testCatalog() *jobs.Catalog {
	c := jobs.NewCatalog()
	builtins.Register(c)
	return c
}

func callable(name, ref string, args ...any) jobs.Definition {
	return jobs.Definition{Name: name, Type: jobs.TypeCallable, Executable: ref, Args: args}
}

func dependsOnRef(name string) map[string]any {
	return map[string]any{"depends_on": name}
}

func doc(defs ...jobs.Definition) *maestro.Document {
	return &maestro.Document{Version: maestro.DocumentVersion, Jobs: defs}
}

func TestValidate(t *testing.T) {
	v := NewValidator(testCatalog())

	tests := []struct {
		name    string
		doc     *maestro.Document
		wantErr string
	}{
		{
			name: "valid",
			doc: doc(
				callable("a", "sum", 1, 2),
				callable("b", "echo", dependsOnRef("a")),
			),
		},
		{
			name: "forward dependency",
			doc: doc(
				callable("b", "echo", dependsOnRef("a")),
				callable("a", "sum", 1, 2),
			),
		},
		{
			name: "valid pool",
			doc: doc(jobs.Definition{
				Name: "g", Type: jobs.TypePool, Mode: jobs.ModeAsSubmitted,
				Members: []jobs.Definition{
					{Name: "x", Type: jobs.TypeCallable, Executable: "echo", Args: []any{1}, ParallelGroup: "g"},
					{Name: "y", Type: jobs.TypeCallable, Executable: "echo", Args: []any{2}, ParallelGroup: "g"},
				},
			}),
		},
		{
			name: "resource",
			doc: doc(jobs.Definition{
				Name: "r", Type: jobs.TypeCallable, Executable: "echo",
				Kwargs: map[string]any{"value": map[string]any{"resource": map[string]any{"factory": "tempdir"}}},
			}),
		},
		{name: "nil", doc: nil, wantErr: "document is nil"},
		{name: "version", doc: &maestro.Document{Version: 7, Jobs: []jobs.Definition{callable("a", "sum")}}, wantErr: "unsupported document version"},
		{name: "empty", doc: doc(), wantErr: "at least one job"},
		{name: "no name", doc: doc(callable("", "sum")), wantErr: "job name is required"},
		{name: "bad type", doc: doc(jobs.Definition{Name: "a", Type: "lambda", Executable: "sum"}), wantErr: "unknown job type"},
		{name: "no executable", doc: doc(callable("a", "")), wantErr: "executable is required"},
		{name: "unknown ref", doc: doc(callable("a", "nope")), wantErr: "cannot import 'nope'"},
		{
			name:    "sync as async",
			doc:     doc(jobs.Definition{Name: "a", Type: jobs.TypeAsyncCallable, Executable: "sum"}),
			wantErr: "must be an async function",
		},
		{name: "duplicate", doc: doc(callable("a", "sum"), callable("a", "echo", 1)), wantErr: "duplicate job name: a"},
		{name: "unknown dependency", doc: doc(callable("a", "echo", dependsOnRef("missing"))), wantErr: "depends on unknown job missing"},
		{
			name:    "self cycle",
			doc:     doc(callable("a", "echo", dependsOnRef("a"))),
			wantErr: "dependency cycle: a -> a",
		},
		{
			name: "cycle",
			doc: doc(
				callable("a", "echo", dependsOnRef("b")),
				callable("b", "echo", dependsOnRef("c")),
				callable("c", "echo", dependsOnRef("a")),
			),
			wantErr: "dependency cycle: a -> b -> c -> a",
		},
		{
			name:    "empty pool",
			doc:     doc(jobs.Definition{Name: "g", Type: jobs.TypePool}),
			wantErr: "at least one member",
		},
		{
			name: "member group mismatch",
			doc: doc(jobs.Definition{Name: "g", Type: jobs.TypePool, Members: []jobs.Definition{
				{Name: "x", Type: jobs.TypeCallable, Executable: "echo", ParallelGroup: "other"},
			}}),
			wantErr: "share one parallel group",
		},
		{
			name: "bad pool mode",
			doc: doc(jobs.Definition{Name: "g", Type: jobs.TypePool, Mode: "random", Members: []jobs.Definition{
				{Name: "x", Type: jobs.TypeCallable, Executable: "echo", ParallelGroup: "g"},
			}}),
			wantErr: "invalid pool mode",
		},
		{
			name: "unknown resource",
			doc: doc(jobs.Definition{
				Name: "r", Type: jobs.TypeCallable, Executable: "echo",
				Args: []any{map[string]any{"resource": map[string]any{"factory": "nowhere"}}},
			}),
			wantErr: "cannot import resource factory 'nowhere'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.doc)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("expected ErrInvalidDocument, got %v", err)
			}
		})
	}
}

func TestValidateCycleIsDependencyCycle(t *testing.T) {
	v := NewValidator(nil)
	err := v.Validate(doc(
		callable("a", "anything", dependsOnRef("b")),
		callable("b", "anything", dependsOnRef("a")),
	))
	if !errors.Is(err, maestro.ErrDependencyCycle) {
		t.Errorf("expected ErrDependencyCycle, got %v", err)
	}
}
