package synth

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestOutputStore_NamesAndPublishes(t *testing.T) {
	dir := t.TempDir()
	s, err := NewOutputStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return time.Date(2025, 3, 1, 12, 30, 45, 0, time.FixedZone("X", 3600)) }
	s.newID = func() string { return "0f8fad5b-d9cb-469f-a165-70867728950e" }

	saved, err := s.Save([]byte("RIFF"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	if want := "20250301T113045-0f8fad5b-d9cb-469f-a165-70867728950e.wav"; saved.Filename != want {
		t.Errorf("Filename = %q; want %q", saved.Filename, want)
	}
	if saved.CreatedAt.Location() != time.UTC {
		t.Error("CreatedAt not UTC")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != saved.Filename {
		t.Errorf("dir entries = %v; want only the published file", entries)
	}

	data, _ := os.ReadFile(saved.Path)
	if string(data) != "RIFF" {
		t.Errorf("content = %q", data)
	}
}

func TestOutputStore_SameSecondDoesNotCollide(t *testing.T) {
	s, err := NewOutputStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	seen := map[string]bool{}
	for range 20 {
		saved, err := s.Save([]byte("x"))
		if err != nil {
			t.Fatal(err)
		}
		if seen[saved.Filename] {
			t.Fatalf("collision on %s", saved.Filename)
		}
		seen[saved.Filename] = true
		if !strings.HasPrefix(saved.Filename, "20250101T000000-") {
			t.Errorf("filename %q lacks timestamp prefix", saved.Filename)
		}
	}
}

func TestNewOutputStore_CreatesDir(t *testing.T) {
	dir := t.TempDir() + "/nested/results"
	s, err := NewOutputStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.Dir() != dir {
		t.Errorf("Dir = %q", s.Dir())
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("output dir not created: %v", err)
	}
}
