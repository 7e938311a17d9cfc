package jobs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrScriptNotFound is returned when a script path does not exist
var ErrScriptNotFound = errors.New("file not found. Relative paths are resolved relative to the current working directory")

// ExitError reports a module or script that exited with a non-zero code.
// Modules return Exit(code) to stop early.
type ExitError struct {
	Target string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("module or script '%s' exited with non-zero code %d", e.Target, e.Code)
}

// Exit stops a module with the given code. Exit(0) counts as success.
func Exit(code int) error {
	return &ExitError{Code: code}
}

// ScriptJob runs an external script or a registered in-process module and
// returns its public namespace. A string executable that names a module in
// the resolver runs in-process; anything else is treated as a file path.
type ScriptJob struct {
	common
	target string
	path   string
	module ModuleFunc
	runner *ScriptRunner
}

func newScriptJob(name string, executable any, o Options) (*ScriptJob, error) {
	j := &ScriptJob{
		common: newCommon(name, o),
		runner: o.ScriptRunner,
	}
	if j.runner == nil {
		j.runner = DefaultScriptRunner()
	}

	if m, ok := asModule(executable); ok {
		j.module = m
		j.target = FuncName(m)
		return j, nil
	}

	target, ok := executable.(string)
	if !ok || target == "" {
		return nil, &TypeError{Job: name, Want: TypeScript, Got: fmt.Sprintf("%T", executable), Err: ErrUnsupportedExecutable}
	}
	j.target = target

	if o.Resolver != nil {
		if m, ok := o.Resolver.ResolveModule(target); ok {
			j.module = m
			return j, nil
		}
	}

	path, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve script path %s: %w", target, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", target, ErrScriptNotFound)
		}
		return nil, fmt.Errorf("failed to stat script %s: %w", target, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("script %s is a directory", target)
	}
	j.path = path
	return j, nil
}

// NewScriptJob creates a script job from a file path, a module reference or
// a ModuleFunc. Missing files are reported at construction.
func NewScriptJob(name string, executable any, opts ...Option) (*ScriptJob, error) {
	if name == "" {
		name = DefaultName(executable)
	}
	if name == "" {
		return nil, ErrEmptyName
	}
	return newScriptJob(name, executable, NewOptions(opts...))
}

// InProcess reports whether the job runs a ModuleFunc rather than a file
func (j *ScriptJob) InProcess() bool {
	return j.module != nil
}

// Type returns TypeScript
func (j *ScriptJob) Type() Type {
	return TypeScript
}

// Execute runs the script once
func (j *ScriptJob) Execute(ctx context.Context, env *Env) (any, error) {
	return j.once(env, j.name, func() (any, error) {
		return j.run(ctx, env)
	})
}

func (j *ScriptJob) run(ctx context.Context, env *Env) (any, error) {
	return invoke(ctx, env, j.args, j.kwargs, func(in Input) (any, error) {
		if j.module != nil {
			return j.runModule(ctx, in)
		}
		ns, err := j.runner.Run(ctx, j.path, in)
		var exit *ExitError
		if errors.As(err, &exit) {
			exit.Target = j.target
		}
		if err != nil {
			return nil, err
		}
		return ns, nil
	})
}

func (j *ScriptJob) runModule(ctx context.Context, in Input) (any, error) {
	ns, err := j.module(ctx, in)
	if err != nil {
		var exit *ExitError
		if !errors.As(err, &exit) {
			return nil, err
		}
		if exit.Code != 0 {
			return nil, &ExitError{Target: j.target, Code: exit.Code, Stderr: exit.Stderr}
		}
	}
	return publicNamespace(ns), nil
}

// Definition describes the job for serialization
func (j *ScriptJob) Definition() Definition {
	return j.definition(TypeScript, j.target)
}

// ScriptRunner executes script files as subprocesses. Positional arguments
// become command-line arguments and named arguments become environment
// variables. Stdout lines of the form name=value form the namespace.
type ScriptRunner struct {
	// Interpreters maps a file extension to the command that runs it.
	// Files with unknown extensions are executed directly.
	Interpreters map[string][]string
	Dir          string
	Env          []string
	WaitDelay    time.Duration
	Logger       *zap.Logger
}

// DefaultScriptRunner returns a runner for shell and python scripts
func DefaultScriptRunner() *ScriptRunner {
	return &ScriptRunner{
		Interpreters: map[string][]string{
			".sh":   {"sh"},
			".bash": {"bash"},
			".py":   {"python3"},
		},
		WaitDelay: 5 * time.Second,
	}
}

// Run executes the script at path and parses its namespace
func (r *ScriptRunner) Run(ctx context.Context, path string, in Input) (map[string]any, error) {
	argv := append([]string(nil), r.Interpreters[filepath.Ext(path)]...)
	argv = append(argv, path)
	for _, a := range in.Args {
		argv = append(argv, formatArg(a))
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), r.Env...)
	for k, v := range in.Kwargs {
		cmd.Env = append(cmd.Env, k+"="+formatArg(v))
	}
	cmd.WaitDelay = r.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	r.logger().Debug("script finished",
		zap.String("path", path),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))

	if ctx.Err() != nil {
		return nil, fmt.Errorf("script %s cancelled: %w", path, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, &ExitError{
			Target: path,
			Code:   exitErr.ExitCode(),
			Stderr: strings.TrimSpace(stderr.String()),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to run script %s: %w", path, err)
	}

	return ParseNamespace(stdout.Bytes()), nil
}

func (r *ScriptRunner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.L()
	}
	return r.Logger
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseNamespace reads name=value lines. Names starting with an underscore
// are private and skipped. Values that parse as JSON are decoded; the rest
// stay strings.
func ParseNamespace(out []byte) map[string]any {
	ns := make(map[string]any)
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		name, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok || !identPattern.MatchString(name) || strings.HasPrefix(name, "_") {
			continue
		}
		ns[name] = parseValue(value)
	}
	return ns
}

func parseValue(s string) any {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	return normalizeNumbers(v)
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = normalizeNumbers(t[i])
		}
	case map[string]any:
		for k := range t {
			t[k] = normalizeNumbers(t[k])
		}
	}
	return v
}

func publicNamespace(ns map[string]any) map[string]any {
	out := make(map[string]any, len(ns))
	for k, v := range ns {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}

func formatArg(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
