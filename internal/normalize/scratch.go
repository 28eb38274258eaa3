package normalize

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// Scratch owns the temporary files created while serving one request.
// Every file created through it is removed by Release, which is
// safe to call more than once.
type Scratch struct {
	dir string

	mu       sync.Mutex
	paths    []string
	released bool
}

// NewScratch returns a Scratch that creates files under dir (os.TempDir when empty).
func NewScratch(dir string) *Scratch {
	return &Scratch{dir: dir}
}

// Create makes a new uniquely named temp file and tracks it for release.
func (s *Scratch) Create(pattern string) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, errors.New("scratch already released")
	}

	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	s.paths = append(s.paths, f.Name())

	return f, nil
}

// Reserve creates an empty temp file, closes it and returns its path. Used
// for paths that an external tool will write to.
func (s *Scratch) Reserve(pattern string) (string, error) {
	f, err := s.Create(pattern)
	if err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return f.Name(), nil
}

// WriteFile creates a tracked temp file holding data.
func (s *Scratch) WriteFile(pattern string, data []byte) (string, error) {
	f, err := s.Create(pattern)
	if err != nil {
		return "", err
	}

	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		return "", fmt.Errorf("write %s: %w", f.Name(), werr)
	}
	if cerr != nil {
		return "", fmt.Errorf("close %s: %w", f.Name(), cerr)
	}

	return f.Name(), nil
}

// Paths returns the tracked paths in creation order.
func (s *Scratch) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.paths...)
}

// Release removes every tracked path. Missing paths are not an error.
func (s *Scratch) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true

	var errs []error
	for _, p := range s.paths {
		err := os.RemoveAll(p)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	s.paths = nil

	return errors.Join(errs...)
}
