package maestro

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aescanero/maestro/pkg/jobs"
)

// DocumentVersion is the current serialized format version
const DocumentVersion = 1

// Document is the serialized form of a registry. Results are never part
// of it.
type Document struct {
	Version int               `json:"version"`
	Jobs    []jobs.Definition `json:"jobs"`
}

// Document describes every registered job in order. Jobs built from
// function literals are rejected because they cannot be resolved again.
func (m *Maestro) Document() (*Document, error) {
	doc := &Document{Version: DocumentVersion, Jobs: make([]jobs.Definition, 0, m.registry.Len())}
	for _, job := range m.registry.All() {
		def := job.Definition()
		if err := checkSerializable(def); err != nil {
			return nil, err
		}
		if err := m.checkResolvable(job); err != nil {
			return nil, err
		}
		doc.Jobs = append(doc.Jobs, def)
	}
	return doc, nil
}

func checkSerializable(def jobs.Definition) error {
	if jobs.IsClosure(def.Executable) {
		return fmt.Errorf("%w: %s uses function literal %s; register a declared function instead", ErrUnserializable, def.Name, def.Executable)
	}
	values := append([]any(nil), def.Args...)
	for _, v := range def.Kwargs {
		values = append(values, v)
	}
	for _, v := range values {
		var ref string
		switch r := v.(type) {
		case jobs.Resource:
			ref = r.Reference()
		case *jobs.Resource:
			ref = r.Reference()
		default:
			continue
		}
		if ref == "" || jobs.IsClosure(ref) {
			return fmt.Errorf("%w: %s has a resource without a named factory", ErrUnserializable, def.Name)
		}
	}
	for _, member := range def.Members {
		if err := checkSerializable(member); err != nil {
			return err
		}
	}
	return nil
}

// checkResolvable rejects in-process modules the catalog cannot find again.
// Load would otherwise read their symbol name as a script path.
func (m *Maestro) checkResolvable(job jobs.Job) error {
	if pool, ok := job.(*jobs.JobPool); ok {
		for _, member := range pool.Members() {
			if err := m.checkResolvable(member); err != nil {
				return err
			}
		}
		return nil
	}
	script, ok := job.(*jobs.ScriptJob)
	if !ok || !script.InProcess() {
		return nil
	}
	ref := script.Definition().Executable
	if _, ok := m.catalog.ResolveModule(ref); !ok {
		return fmt.Errorf("%w: %s runs module %s, which is not in the catalog", ErrUnserializable, job.Name(), ref)
	}
	return nil
}

// Serialize writes the registry document as indented JSON
func (m *Maestro) Serialize(w io.Writer) error {
	doc, err := m.Document()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	return nil
}

// SerializeFile writes the document to path, replacing it atomically
func (m *Maestro) SerializeFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := m.Serialize(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// DecodeDocument reads and version-checks a document. Numbers in job
// arguments stay json.Number until FromDocument decodes them, so whole
// numbers come back as int.
func DecodeDocument(r io.Reader) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if doc.Version != DocumentVersion {
		return nil, fmt.Errorf("%w: %d", ErrDocumentVersion, doc.Version)
	}
	return &doc, nil
}

// FromDocument builds an orchestrator holding the document's jobs. String
// references resolve through the catalog passed with WithCatalog.
func FromDocument(doc *Document, opts ...Option) (*Maestro, error) {
	m, err := New(opts...)
	if err != nil {
		return nil, err
	}
	for _, def := range doc.Jobs {
		job, err := jobs.FromDefinition(def,
			jobs.WithResolver(m.catalog),
			jobs.WithScriptRunner(m.runner))
		if err != nil {
			return nil, fmt.Errorf("failed to load job %s: %w", def.Name, err)
		}
		if err := m.AddJob(job); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Load decodes a document from r and builds an orchestrator from it
func Load(r io.Reader, opts ...Option) (*Maestro, error) {
	doc, err := DecodeDocument(r)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc, opts...)
}

// LoadFile is Load for a file path
func LoadFile(path string, opts ...Option) (*Maestro, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f, opts...)
}
