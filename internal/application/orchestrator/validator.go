package orchestrator

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/aescanero/maestro/pkg/jobs"
	"github.com/aescanero/maestro/pkg/maestro"
)

// ErrInvalidDocument wraps every validation failure
var ErrInvalidDocument = errors.New("invalid document")

// Validator validates job documents before they are stored or run
type Validator struct {
	resolver jobs.Resolver
}

// NewValidator creates a new document validator. With a nil resolver
// string references are not checked.
func NewValidator(resolver jobs.Resolver) *Validator {
	return &Validator{resolver: resolver}
}

// Validate validates a document
func (v *Validator) Validate(doc *maestro.Document) error {
	if err := v.validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return nil
}

func (v *Validator) validate(doc *maestro.Document) error {
	if doc == nil {
		return fmt.Errorf("document is nil")
	}

	if doc.Version != maestro.DocumentVersion {
		return fmt.Errorf("%w: %d", maestro.ErrDocumentVersion, doc.Version)
	}

	if len(doc.Jobs) == 0 {
		return fmt.Errorf("document must have at least one job")
	}

	// Validate jobs
	names := make(map[string]bool, len(doc.Jobs))
	deps := make(map[string][]string, len(doc.Jobs))
	for i, def := range doc.Jobs {
		if err := v.validateJob(def); err != nil {
			return fmt.Errorf("invalid job %d (%s): %w", i, def.Name, err)
		}

		// Check for duplicate names
		if names[def.Name] {
			return fmt.Errorf("duplicate job name: %s", def.Name)
		}
		names[def.Name] = true

		refs, err := dependencies(def)
		if err != nil {
			return fmt.Errorf("invalid job %d (%s): %w", i, def.Name, err)
		}
		deps[def.Name] = refs
	}

	// Validate dependency references
	for _, def := range doc.Jobs {
		for _, ref := range deps[def.Name] {
			if !names[ref] {
				return fmt.Errorf("job %s depends on unknown job %s", def.Name, ref)
			}
		}
	}

	return checkCycles(doc.Jobs, deps)
}

// validateJob validates a single definition
func (v *Validator) validateJob(def jobs.Definition) error {
	if def.Name == "" {
		return jobs.ErrEmptyName
	}

	typ, err := jobs.ParseType(string(def.Type))
	if err != nil {
		return err
	}

	if typ == jobs.TypePool {
		return v.validatePool(def)
	}
	if len(def.Members) > 0 {
		return fmt.Errorf("only pools may have members")
	}
	if def.Executable == "" {
		return fmt.Errorf("executable is required")
	}

	if v.resolver != nil {
		if err := v.validateRefs(typ, def); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validatePool(def jobs.Definition) error {
	if len(def.Members) == 0 {
		return jobs.ErrEmptyPool
	}
	if _, err := jobs.ParsePoolMode(string(def.Mode)); err != nil {
		return err
	}
	if def.MaxWorkers < 0 {
		return fmt.Errorf("max_workers must not be negative")
	}

	seen := make(map[string]bool, len(def.Members))
	for _, member := range def.Members {
		if member.Type == jobs.TypePool {
			return fmt.Errorf("pool member %s: pools cannot be nested", member.Name)
		}
		if member.ParallelGroup != def.Name {
			return fmt.Errorf("pool member %s: %w", member.Name, jobs.ErrGroupMismatch)
		}
		if seen[member.Name] {
			return fmt.Errorf("%w: %s", jobs.ErrDuplicateMember, member.Name)
		}
		seen[member.Name] = true

		if err := v.validateJob(member); err != nil {
			return fmt.Errorf("pool member %s: %w", member.Name, err)
		}
	}
	return nil
}

// validateRefs checks that string references resolve in the catalog.
// Script executables that are not registered modules are file paths and
// are checked when the job is built.
func (v *Validator) validateRefs(typ jobs.Type, def jobs.Definition) error {
	switch typ {
	case jobs.TypeCallable:
		if _, err := v.resolver.ResolveFunc(def.Executable); err != nil {
			return err
		}
	case jobs.TypeAsyncCallable:
		if _, err := v.resolver.ResolveAsync(def.Executable); err != nil {
			return err
		}
	}

	for _, value := range values(def) {
		if _, err := jobs.DecodeValue(value, v.resolver); err != nil {
			return err
		}
	}
	return nil
}

// dependencies returns the names def refers to through depends_on markers,
// including those of pool members
func dependencies(def jobs.Definition) ([]string, error) {
	var refs []string
	for _, value := range values(def) {
		name, ok, err := dependsOn(value)
		if err != nil {
			return nil, err
		}
		if ok && !slices.Contains(refs, name) {
			refs = append(refs, name)
		}
	}
	for _, member := range def.Members {
		memberRefs, err := dependencies(member)
		if err != nil {
			return nil, err
		}
		for _, name := range memberRefs {
			if !slices.Contains(refs, name) {
				refs = append(refs, name)
			}
		}
	}
	return refs, nil
}

func dependsOn(value any) (string, bool, error) {
	switch d := value.(type) {
	case jobs.DependsOn:
		return d.Name, true, nil
	case *jobs.DependsOn:
		return d.Name, true, nil
	case map[string]any:
		raw, ok := d["depends_on"]
		if !ok || len(d) != 1 {
			return "", false, nil
		}
		name, ok := raw.(string)
		if !ok || name == "" {
			return "", false, fmt.Errorf("depends_on must be a non-empty string")
		}
		return name, true, nil
	}
	return "", false, nil
}

// values lists args then kwargs in sorted key order
func values(def jobs.Definition) []any {
	out := append([]any(nil), def.Args...)
	keys := make([]string, 0, len(def.Kwargs))
	for k := range def.Kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, def.Kwargs[k])
	}
	return out
}

// checkCycles rejects documents whose depends_on references loop
func checkCycles(defs []jobs.Definition, deps map[string][]string) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(defs))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			start := slices.Index(path, name)
			cycle := append(slices.Clone(path[start:]), name)
			return fmt.Errorf("%w: %s", maestro.ErrDependencyCycle, strings.Join(cycle, " -> "))
		case done:
			return nil
		}
		state[name] = visiting
		path = append(path, name)
		for _, dep := range deps[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[name] = done
		return nil
	}

	for _, def := range defs {
		if err := visit(def.Name); err != nil {
			return err
		}
	}
	return nil
}
