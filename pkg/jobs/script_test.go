package jobs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/aescanero/maestro/pkg/jobs"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestScriptJobNamespace(t *testing.T) {
	path := writeScript(t, `#!/bin/sh
echo "a=this is my first variable"
echo "b=[1, 2, 3]"
echo "_hidden=1"
echo "arg=$1"
echo "greeting=$GREETING"
echo "not a variable"
`)
	job, err := jobs.NewScriptJob("script", path,
		jobs.WithArgs("first"),
		jobs.WithKwargs(map[string]any{"GREETING": "hello"}))
	if err != nil {
		t.Fatalf("NewScriptJob: %v", err)
	}

	got, err := job.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := map[string]any{
		"a":        "this is my first variable",
		"b":        []any{int64(1), int64(2), int64(3)},
		"arg":      "first",
		"greeting": "hello",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unexpected namespace:\n got %#v\nwant %#v", got, want)
	}
}

func TestScriptJobNonZeroExit(t *testing.T) {
	path := writeScript(t, "#!/bin/sh\necho broken >&2\nexit 1\n")
	job, err := jobs.NewScriptJob("script", path)
	if err != nil {
		t.Fatal(err)
	}

	_, err = job.Execute(context.Background(), nil)
	var exitErr *jobs.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %v", err)
	}
	if exitErr.Code != 1 || exitErr.Stderr != "broken" {
		t.Errorf("unexpected exit error %+v", exitErr)
	}
	want := "module or script '" + path + "' exited with non-zero code 1"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestScriptJobMissingFile(t *testing.T) {
	_, err := jobs.NewScriptJob("missing", filepath.Join(t.TempDir(), "nope.sh"))
	if !errors.Is(err, jobs.ErrScriptNotFound) {
		t.Fatalf("expected ErrScriptNotFound, got %v", err)
	}
}

func TestScriptJobModule(t *testing.T) {
	catalog := jobs.NewCatalog()
	catalog.RegisterModule("tasks.report", func(ctx context.Context, in jobs.Input) (map[string]any, error) {
		return map[string]any{"total": 3, "_scratch": true}, nil
	})
	catalog.RegisterModule("tasks.stop", func(ctx context.Context, in jobs.Input) (map[string]any, error) {
		return map[string]any{"partial": 1}, jobs.Exit(0)
	})
	catalog.RegisterModule("tasks.fail", func(ctx context.Context, in jobs.Input) (map[string]any, error) {
		return nil, jobs.Exit(1)
	})

	tests := []struct {
		name     string
		module   string
		want     map[string]any
		wantCode int
	}{
		{name: "namespace", module: "tasks.report", want: map[string]any{"total": 3}},
		{name: "exit zero", module: "tasks.stop", want: map[string]any{"partial": 1}},
		{name: "exit one", module: "tasks.fail", wantCode: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := jobs.New(jobs.TypeScript, tt.name, tt.module, jobs.WithResolver(catalog))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			got, err := job.Execute(context.Background(), nil)
			if tt.wantCode != 0 {
				var exitErr *jobs.ExitError
				if !errors.As(err, &exitErr) || exitErr.Code != tt.wantCode || exitErr.Target != tt.module {
					t.Fatalf("expected exit %d from %s, got %v", tt.wantCode, tt.module, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestParseNamespace(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want map[string]any
	}{
		{"empty", "", map[string]any{}},
		{"number", "n=10\nf=1.5", map[string]any{"n": int64(10), "f": 1.5}},
		{"object", `cfg={"k": "v"}`, map[string]any{"cfg": map[string]any{"k": "v"}}},
		{"quoted string", `s="x"`, map[string]any{"s": "x"}},
		{"bool and null", "ok=true\nnothing=null", map[string]any{"ok": true, "nothing": nil}},
		{"invalid names", "1x=2\n-a=3\n=4", map[string]any{}},
		{"private", "_a=1\nb=2", map[string]any{"b": int64(2)}},
		{"last wins", "a=1\na=2", map[string]any{"a": int64(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := jobs.ParseNamespace([]byte(tt.out))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %#v, got %#v", tt.want, got)
			}
		})
	}
}
