package synth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Saved describes a persisted output file.
type Saved struct {
	Path      string
	Filename  string
	CreatedAt time.Time
}

// OutputStore persists finished WAV files under a directory. Names combine a
// UTC timestamp with a random UUID so concurrent requests never collide.
type OutputStore struct {
	dir   string
	now   func() time.Time
	newID func() string
}

// NewOutputStore creates dir if needed.
func NewOutputStore(dir string) (*OutputStore, error) {
	if dir == "" {
		dir = "results"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	return &OutputStore{dir: dir, now: time.Now, newID: uuid.NewString}, nil
}

// Dir returns the output directory.
func (s *OutputStore) Dir() string {
	return s.dir
}

// Save writes data to a fresh file. The file appears under its final name
// only once fully written.
func (s *OutputStore) Save(data []byte) (Saved, error) {
	created := s.now().UTC()
	name := fmt.Sprintf("%s-%s.wav", created.Format("20060102T150405"), s.newID())
	final := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".partial-*.wav")
	if err != nil {
		return Saved{}, fmt.Errorf("create output: %w", err)
	}

	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return Saved{}, fmt.Errorf("write output: %w", err)
	}

	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return Saved{}, fmt.Errorf("chmod output: %w", err)
	}

	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return Saved{}, fmt.Errorf("publish output: %w", err)
	}

	return Saved{Path: final, Filename: name, CreatedAt: created}, nil
}
