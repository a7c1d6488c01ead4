package store

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	if _, err := m.Get("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := m.Put("k", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := m.Get("k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte(`{"a":1}`)) {
		t.Fatalf("unexpected value: %s", got)
	}

	if err := m.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get("k"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	src := []byte("original")
	if err := m.Put("k", src); err != nil {
		t.Fatalf("put: %v", err)
	}
	src[0] = 'X'

	got, err := m.Get("k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("stored value aliased caller buffer: %s", got)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordinator.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, err := s.Get(KeyRandomState); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Put(KeyRandomState, []byte(`{"currentSeed":42}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Overwrite must replace, not duplicate.
	if err := s.Put(KeyRandomState, []byte(`{"currentSeed":43}`)); err != nil {
		t.Fatalf("put again: %v", err)
	}

	got, err := s.Get(KeyRandomState)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"currentSeed":43}` {
		t.Fatalf("unexpected value: %s", got)
	}

	if err := s.Delete(KeyRandomState); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(KeyRandomState); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
