// Package builtins provides catalog entries compiled into the maestro
// binary, so stored documents can reference them by short name.
package builtins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aescanero/maestro/pkg/jobs"
)

// ErrFailed is returned by Fail
var ErrFailed = errors.New("job failed")

// Register adds every builtin to c under its short alias
func Register(c *jobs.Catalog) {
	c.MustRegister(Echo, "echo")
	c.MustRegister(Sum, "sum")
	c.MustRegister(Sleep, "sleep")
	c.MustRegister(Getenv, "getenv")
	c.MustRegister(Fail, "fail")
	c.MustRegister(Gather, "gather")
	c.MustRegister(TempDir, "tempdir")
	c.RegisterModule("hostinfo", HostInfo)
}

// Echo returns the argument "value" (or the first positional argument)
func Echo(_ context.Context, in jobs.Input) (any, error) {
	v, ok := in.Lookup(0, "value")
	if !ok {
		return nil, fmt.Errorf("%w: value", jobs.ErrMissingArgument)
	}
	return v, nil
}

// Sum adds every positional argument. The result is an int64 when all
// arguments are whole numbers.
func Sum(_ context.Context, in jobs.Input) (any, error) {
	var total float64
	whole := true
	for i := range in.Args {
		f, err := jobs.Value[float64](in, i, "")
		if err != nil {
			return nil, err
		}
		if _, err := jobs.Value[int64](in, i, ""); err != nil {
			whole = false
		}
		total += f
	}
	if whole {
		return int64(total), nil
	}
	return total, nil
}

// Sleep waits for "seconds" (or the first positional argument) and
// returns the slept duration in seconds
func Sleep(ctx context.Context, in jobs.Input) (any, error) {
	seconds, err := jobs.Value[float64](in, 0, "seconds")
	if err != nil {
		return nil, err
	}
	if seconds < 0 {
		return nil, fmt.Errorf("%w: seconds must not be negative", jobs.ErrArgumentType)
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return seconds, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Getenv returns the environment variable "name", or "default" when unset
func Getenv(_ context.Context, in jobs.Input) (any, error) {
	name, err := jobs.Value[string](in, 0, "name")
	if err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv(name); ok {
		return v, nil
	}
	if def, ok := in.Lookup(1, "default"); ok {
		return def, nil
	}
	return nil, nil
}

// Fail returns an error carrying "message"
func Fail(_ context.Context, in jobs.Input) (any, error) {
	msg, err := jobs.Value[string](in, 0, "message")
	if err != nil {
		return nil, ErrFailed
	}
	return nil, fmt.Errorf("%w: %s", ErrFailed, msg)
}

// Gather echoes every positional argument from its own task and returns
// them in order. A numeric "delay" (seconds) is slept by each task first.
func Gather(ctx context.Context, s *jobs.Scheduler, in jobs.Input) (any, error) {
	delay := time.Duration(0)
	if _, ok := in.Kwargs["delay"]; ok {
		seconds, err := jobs.Value[float64](in, -1, "delay")
		if err != nil {
			return nil, err
		}
		delay = time.Duration(seconds * float64(time.Second))
	}

	tasks := make([]*jobs.Task, 0, len(in.Args))
	for _, arg := range in.Args {
		tasks = append(tasks, s.Go(func(ctx context.Context) (any, error) {
			if delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-timer.C:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return arg, nil
		}))
	}
	return jobs.Gather(ctx, tasks...)
}

// TempDir creates a temporary directory removed on release. kwargs may set
// "prefix".
func TempDir(_ context.Context, kwargs map[string]any) (any, jobs.ReleaseFunc, error) {
	prefix, _ := kwargs["prefix"].(string)
	if prefix == "" {
		prefix = "maestro-"
	}
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return dir, func() error { return os.RemoveAll(dir) }, nil
}

// HostInfo is a module reporting where the run executes
func HostInfo(_ context.Context, _ jobs.Input) (map[string]any, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to read hostname: %w", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to read working directory: %w", err)
	}
	return map[string]any{
		"hostname": host,
		"pid":      os.Getpid(),
		"cwd":      wd,
	}, nil
}
