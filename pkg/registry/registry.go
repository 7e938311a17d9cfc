// Package registry holds the ordered set of jobs an orchestrator runs and
// derives the execution units from it.
package registry

import (
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/aescanero/maestro/pkg/jobs"
)

// Registry errors
var (
	ErrDuplicateName = errors.New("job name already registered")
	ErrNotFound      = errors.New("not found in registry")
	ErrOutOfRange    = errors.New("index out of range")
	ErrNilJob        = errors.New("job is nil")
)

// Registry is an ordered, name-unique collection of jobs. Units are cached
// and the cache is dropped on every mutation.
type Registry struct {
	mu      sync.RWMutex
	entries []jobs.Job
	index   map[string]int

	poolMode   jobs.PoolMode
	maxWorkers int

	units []jobs.Job // nil when invalidated
}

// New creates a registry holding js in order
func New(js ...jobs.Job) (*Registry, error) {
	r := &Registry{index: make(map[string]int)}
	if err := r.Extend(js...); err != nil {
		return nil, err
	}
	return r, nil
}

// SetPoolDefaults configures the pools synthesized from consecutive entries
func (r *Registry) SetPoolDefaults(mode jobs.PoolMode, maxWorkers int) error {
	m, err := jobs.ParsePoolMode(string(mode))
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.poolMode = m
	r.maxWorkers = maxWorkers
	r.invalidate()
	return nil
}

// Append adds a job at the end
func (r *Registry) Append(j jobs.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(len(r.entries), j)
}

// Extend appends js in order. It stops at the first invalid entry.
func (r *Registry) Extend(js ...jobs.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range js {
		if err := r.insert(len(r.entries), j); err != nil {
			return err
		}
	}
	return nil
}

// Insert places j before position i. Positions past the end append;
// negative positions count from the end.
func (r *Registry) Insert(i int, j jobs.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	if i < 0 {
		i += n
		if i < 0 {
			i = 0
		}
	}
	if i > n {
		i = n
	}
	return r.insert(i, j)
}

func (r *Registry) insert(i int, j jobs.Job) error {
	if err := r.check(j, -1); err != nil {
		return err
	}
	r.entries = append(r.entries, nil)
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = j
	r.reindex()
	r.invalidate()
	return nil
}

// check validates j for placement; skip is the position being replaced
func (r *Registry) check(j jobs.Job, skip int) error {
	if j == nil {
		return ErrNilJob
	}
	if j.Name() == "" {
		return jobs.ErrEmptyName
	}
	if at, ok := r.index[j.Name()]; ok && at != skip {
		return fmt.Errorf("%w: '%s'", ErrDuplicateName, j.Name())
	}
	return nil
}

// Set replaces the entry at position i
func (r *Registry) Set(i int, j jobs.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, err := r.position(i)
	if err != nil {
		return err
	}
	if err := r.check(j, pos); err != nil {
		return err
	}
	r.entries[pos] = j
	r.reindex()
	r.invalidate()
	return nil
}

// Remove deletes the job with the given name
func (r *Registry) Remove(name string) error {
	_, err := r.PopNamed(name)
	return err
}

// PopNamed removes and returns the job with the given name
func (r *Registry) PopNamed(name string) (jobs.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, ok := r.index[name]
	if !ok {
		return nil, notFoundName(name)
	}
	return r.removeAt(pos), nil
}

// Pop removes and returns the last job
func (r *Registry) Pop() (jobs.Job, error) {
	return r.PopAt(-1)
}

// PopAt removes and returns the job at position i
func (r *Registry) PopAt(i int) (jobs.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, err := r.position(i)
	if err != nil {
		return nil, err
	}
	return r.removeAt(pos), nil
}

func (r *Registry) removeAt(pos int) jobs.Job {
	j := r.entries[pos]
	r.entries = append(r.entries[:pos], r.entries[pos+1:]...)
	r.reindex()
	r.invalidate()
	return j
}

// Clear removes every job
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	r.reindex()
	r.invalidate()
}

// At returns the job at position i. Negative positions count from the end.
func (r *Registry) At(i int) (jobs.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, err := r.position(i)
	if err != nil {
		return nil, err
	}
	return r.entries[pos], nil
}

// Lookup returns the job with the given name
func (r *Registry) Lookup(name string) (jobs.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.index[name]
	if !ok {
		return nil, notFoundName(name)
	}
	return r.entries[pos], nil
}

// Index returns the position of the named job
func (r *Registry) Index(name string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.index[name]
	if !ok {
		return -1, notFoundName(name)
	}
	return pos, nil
}

// Contains reports whether a job with the given name is registered
func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[name]
	return ok
}

// Len returns the number of registered jobs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Names returns job names in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, j := range r.entries {
		names[i] = j.Name()
	}
	return names
}

// Jobs returns a snapshot of the entries in order
func (r *Registry) Jobs() []jobs.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]jobs.Job(nil), r.entries...)
}

// All iterates over a snapshot of position and job pairs
func (r *Registry) All() iter.Seq2[int, jobs.Job] {
	snapshot := r.Jobs()
	return func(yield func(int, jobs.Job) bool) {
		for i, j := range snapshot {
			if !yield(i, j) {
				return
			}
		}
	}
}

// Ref addresses an entry by position or by name
type Ref struct {
	pos    int
	name   string
	byName bool
}

// Pos refers to the entry at position i
func Pos(i int) Ref {
	return Ref{pos: i}
}

// Named refers to the entry with the given name
func Named(name string) Ref {
	return Ref{name: name, byName: true}
}

func (ref Ref) String() string {
	if ref.byName {
		return fmt.Sprintf("name '%s'", ref.name)
	}
	return fmt.Sprintf("index %d", ref.pos)
}

// Swap exchanges two entries
func (r *Registry) Swap(a, b Ref) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, err := r.resolve(a)
	if err != nil {
		return err
	}
	k, err := r.resolve(b)
	if err != nil {
		return err
	}
	if i == k {
		return nil
	}
	r.entries[i], r.entries[k] = r.entries[k], r.entries[i]
	r.reindex()
	r.invalidate()
	return nil
}

func (r *Registry) resolve(ref Ref) (int, error) {
	if ref.byName {
		pos, ok := r.index[ref.name]
		if !ok {
			return -1, notFoundName(ref.name)
		}
		return pos, nil
	}
	return r.position(ref.pos)
}

func (r *Registry) position(i int) (int, error) {
	n := len(r.entries)
	pos := i
	if pos < 0 {
		pos += n
	}
	if pos < 0 || pos >= n {
		return -1, fmt.Errorf("job with 'index %d' %w: %w", i, ErrNotFound, ErrOutOfRange)
	}
	return pos, nil
}

func (r *Registry) reindex() {
	r.index = make(map[string]int, len(r.entries))
	for i, j := range r.entries {
		r.index[j.Name()] = i
	}
}

func (r *Registry) invalidate() {
	r.units = nil
}

func notFoundName(name string) error {
	return fmt.Errorf("job with name '%s' %w", name, ErrNotFound)
}
