// Package doctor provides environment preflight checks for sparktts.
package doctor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// SparkModelLayout lists the entries a Spark-TTS model directory must contain.
var SparkModelLayout = []string{"config.yaml", "LLM", "BiCodec"}

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// FFmpegVersion returns the first line of `ffmpeg -version`.
	FFmpegVersion VersionFunc
	// PythonVersion returns the Python version string (e.g. "3.11.4").
	PythonVersion VersionFunc
	// SkipPython skips the Python check (pocket-tts backend).
	SkipPython bool
	// ModelDir is the Spark-TTS model directory. Empty skips the check.
	ModelDir string
	// PocketTTS checks the pocket-tts executable. Nil skips the check.
	PocketTTS func() error
	// OutputDir must exist (or be creatable) and be writable.
	OutputDir string
	// TempDir, when set, must be writable.
	TempDir string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- ffmpeg -----------------------------------------------------------
	if cfg.FFmpegVersion == nil {
		fmt.Fprintf(w, "%s ffmpeg: skipped\n", PassMark)
	} else if ver, err := cfg.FFmpegVersion(); err != nil {
		res.fail(fmt.Sprintf("ffmpeg: %v", err))
		fmt.Fprintf(w, "%s ffmpeg: not usable (%v)\n", FailMark, err)
	} else {
		fmt.Fprintf(w, "%s ffmpeg: %s\n", PassMark, ver)
	}

	// ---- Python version ---------------------------------------------------
	switch {
	case cfg.SkipPython || cfg.PythonVersion == nil:
		fmt.Fprintf(w, "%s python version: skipped\n", PassMark)
	default:
		pyVer, err := cfg.PythonVersion()
		if err != nil {
			res.fail(fmt.Sprintf("python version: %v", err))
			fmt.Fprintf(w, "%s python version: not found (%v)\n", FailMark, err)
		} else if pyErr := checkPythonVersion(pyVer); pyErr != nil {
			res.fail(fmt.Sprintf("python version: %v", pyErr))
			fmt.Fprintf(w, "%s python version %s: %v\n", FailMark, pyVer, pyErr)
		} else {
			fmt.Fprintf(w, "%s python version: %s\n", PassMark, pyVer)
		}
	}

	// ---- Spark-TTS model --------------------------------------------------
	if cfg.ModelDir != "" {
		if err := checkModelDir(cfg.ModelDir); err != nil {
			res.fail(fmt.Sprintf("model dir %q: %v", cfg.ModelDir, err))
			fmt.Fprintf(w, "%s model dir %s: %v\n", FailMark, cfg.ModelDir, err)
		} else {
			fmt.Fprintf(w, "%s model dir: %s\n", PassMark, cfg.ModelDir)
		}
	}

	// ---- pocket-tts -------------------------------------------------------
	if cfg.PocketTTS != nil {
		if err := cfg.PocketTTS(); err != nil {
			res.fail(fmt.Sprintf("pocket-tts: %v", err))
			fmt.Fprintf(w, "%s pocket-tts: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s pocket-tts: ok\n", PassMark)
		}
	}

	// ---- writable directories ---------------------------------------------
	for _, d := range []struct{ label, path string }{
		{"output dir", cfg.OutputDir},
		{"temp dir", cfg.TempDir},
	} {
		if d.path == "" {
			continue
		}
		if err := checkWritable(d.path); err != nil {
			res.fail(fmt.Sprintf("%s %q: %v", d.label, d.path, err))
			fmt.Fprintf(w, "%s %s %s: %v\n", FailMark, d.label, d.path, err)
		} else {
			fmt.Fprintf(w, "%s %s: %s\n", PassMark, d.label, d.path)
		}
	}

	return res
}

func checkModelDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("not a directory")
	}

	var missing []string
	for _, name := range SparkModelLayout {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}

	return nil
}

// checkWritable creates dir if needed and proves a file can be written in it.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()

	return os.Remove(name)
}

// checkPythonVersion returns an error if ver is outside [3.10, 3.15).
// ver is expected to be a string like "3.11.4".
func checkPythonVersion(ver string) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 3 {
		return fmt.Errorf("requires Python 3, got %d", major)
	}
	if minor < 10 {
		return fmt.Errorf("requires Python >=3.10, got 3.%d", minor)
	}
	if minor >= 15 {
		return fmt.Errorf("requires Python <3.15, got 3.%d", minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
