package privacy

import (
	"path/filepath"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close() //nolint:errcheck // test cleanup

	if _, ok := s.Get("EMAIL:a@b.com"); ok {
		t.Error("empty store returned a value")
	}
	if err := s.Put("EMAIL:a@b.com", "<EMAIL:12345678>"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := s.Get("EMAIL:a@b.com")
	if !ok || got != "<EMAIL:12345678>" {
		t.Errorf("Get = %q, %v", got, ok)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestBoltStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	defer s.Close() //nolint:errcheck // test cleanup

	if err := s.Put("SSN:123-45-6789", "<SSN:78896723>"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := s.Get("SSN:123-45-6789")
	if !ok || got != "<SSN:78896723>" {
		t.Errorf("Get = %q, %v", got, ok)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")

	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	if err := s.Put("PERSON:john doe", "<PERSON:5f49980c>"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close() //nolint:errcheck // test cleanup

	got, ok := reopened.Get("PERSON:john doe")
	if !ok || got != "<PERSON:5f49980c>" {
		t.Errorf("entry did not survive reopen: %q, %v", got, ok)
	}
}
