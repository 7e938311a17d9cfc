package registry

import "github.com/aescanero/maestro/pkg/jobs"

// Units returns the execution units: consecutive entries sharing a
// non-empty parallel group collapse into one pool, everything else stays
// as is. A directly registered pool is its own unit. The slice is cached,
// so repeated calls return the same pool values until the next mutation.
func (r *Registry) Units() []jobs.Job {
	r.mu.RLock()
	if r.units != nil {
		units := append([]jobs.Job(nil), r.units...)
		r.mu.RUnlock()
		return units
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.units == nil {
		r.units = r.group()
	}
	return append([]jobs.Job(nil), r.units...)
}

// GroupIndex returns the position of unit in Units
func (r *Registry) GroupIndex(unit jobs.Job) (int, bool) {
	pool, isPool := unit.(*jobs.JobPool)
	for i, u := range r.Units() {
		if u == unit {
			return i, true
		}
		if other, ok := u.(*jobs.JobPool); ok && isPool && pool.Equal(other) {
			return i, true
		}
	}
	return -1, false
}

func (r *Registry) group() []jobs.Job {
	units := make([]jobs.Job, 0, len(r.entries))
	var run []jobs.Job

	flush := func() {
		switch len(run) {
		case 0:
		case 1:
			units = append(units, run[0])
		default:
			units = append(units, r.synthesize(run)...)
		}
		run = nil
	}

	for _, j := range r.entries {
		if _, isPool := j.(*jobs.JobPool); isPool || j.ParallelGroup() == "" {
			flush()
			units = append(units, j)
			continue
		}
		if len(run) > 0 && run[0].ParallelGroup() != j.ParallelGroup() {
			flush()
		}
		run = append(run, j)
	}
	flush()

	return units
}

// synthesize builds the pool for a run. NewPool only fails on broken
// invariants (mixed groups, duplicate names); members then run one by one.
func (r *Registry) synthesize(members []jobs.Job) []jobs.Job {
	pool, err := jobs.NewPool(members...)
	if err != nil {
		return members
	}
	if r.poolMode != "" {
		_ = pool.SetMode(r.poolMode)
	}
	pool.SetMaxWorkers(r.maxWorkers)
	return []jobs.Job{pool}
}
