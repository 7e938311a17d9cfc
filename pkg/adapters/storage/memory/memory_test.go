package memory

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/aescanero/maestro/pkg/ports"
)

func TestDefinitionStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryDefinitionStore()

	doc := []byte(`{"version":1}`)
	if err := s.Save(ctx, "b", doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, "a", []byte(`{}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Stored bytes are copies
	doc[0] = 'X'
	got, err := s.Load(ctx, "b")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != `{"version":1}` {
		t.Errorf("expected stored copy, got %s", got)
	}
	got[0] = 'Y'
	if again, _ := s.Load(ctx, "b"); again[0] != '{' {
		t.Error("expected Load to return a copy")
	}

	names, err := s.List(ctx)
	if err != nil || !reflect.DeepEqual(names, []string{"a", "b"}) {
		t.Errorf("List: %v, %v", names, err)
	}

	if ok, _ := s.Exists(ctx, "a"); !ok {
		t.Error("expected a to exist")
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, "a"); ok {
		t.Error("expected a to be deleted")
	}

	if _, err := s.Load(ctx, "a"); !errors.Is(err, ports.ErrDefinitionNotFound) {
		t.Errorf("Load: expected ErrDefinitionNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "a"); !errors.Is(err, ports.ErrDefinitionNotFound) {
		t.Errorf("Delete: expected ErrDefinitionNotFound, got %v", err)
	}
}
