package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/example/spark-tts-server/internal/audio"
)

// DefaultSparkModule is the Spark-TTS inference entry point run with python -m.
const DefaultSparkModule = "cli.inference"

const maxStderrTail = 1024

// SparkConfig describes how to launch the Spark-TTS inference CLI.
type SparkConfig struct {
	// Command is a shell-words command line. When empty it is
	// "<PythonPath> -m cli.inference".
	Command    string
	PythonPath string
	ModelDir   string
	Device     string
	// WorkDir is the Spark-TTS checkout the command runs in.
	WorkDir string
	TempDir string
}

// SparkCLI runs one Spark-TTS inference subprocess per call and reads back
// the WAV it saves.
type SparkCLI struct {
	argv     []string
	modelDir string
	device   string
	workDir  string
	tempDir  string
	log      *slog.Logger
}

// NewSparkCLI validates cfg and returns an engine for it.
func NewSparkCLI(cfg SparkConfig, log *slog.Logger) (*SparkCLI, error) {
	if log == nil {
		log = slog.Default()
	}

	argv, err := sparkArgv(cfg)
	if err != nil {
		return nil, err
	}

	modelDir := strings.TrimSpace(cfg.ModelDir)
	if modelDir == "" {
		return nil, errors.New("spark engine: model_dir is required")
	}

	info, err := os.Stat(modelDir)
	if err != nil {
		return nil, fmt.Errorf("spark engine: model_dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("spark engine: model_dir %q is not a directory", modelDir)
	}

	return &SparkCLI{
		argv:     argv,
		modelDir: modelDir,
		device:   strings.TrimSpace(cfg.Device),
		workDir:  cfg.WorkDir,
		tempDir:  cfg.TempDir,
		log:      log,
	}, nil
}

func sparkArgv(cfg SparkConfig) ([]string, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		python := strings.TrimSpace(cfg.PythonPath)
		if python == "" {
			python = "python"
		}

		return []string{python, "-m", DefaultSparkModule}, nil
	}

	argv, err := shellwords.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("spark engine: parse command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("spark engine: empty command")
	}

	return argv, nil
}

// args builds the inference flags. Gender is only passed for voice
// creation; its presence switches the model into controllable mode.
func (e *SparkCLI) args(p Params, saveDir string) []string {
	args := append([]string(nil), e.argv[1:]...)
	args = append(args,
		"--text", p.Text,
		"--model_dir", e.modelDir,
		"--save_dir", saveDir,
	)
	if e.device != "" {
		args = append(args, "--device", e.device)
	}
	if p.PromptText != "" {
		args = append(args, "--prompt_text", p.PromptText)
	}
	if p.PromptSpeechPath != "" {
		args = append(args, "--prompt_speech_path", p.PromptSpeechPath)
	}
	if p.Gender != "" {
		args = append(args, "--gender", string(p.Gender))
	}
	if p.Pitch != "" {
		args = append(args, "--pitch", string(p.Pitch))
	}
	if p.Speed != "" {
		args = append(args, "--speed", string(p.Speed))
	}

	return args
}

// Synthesize runs the CLI into a private save directory and decodes its output.
func (e *SparkCLI) Synthesize(ctx context.Context, p Params) (*Output, error) {
	saveDir, err := os.MkdirTemp(e.tempDir, "spark-out-*")
	if err != nil {
		return nil, fmt.Errorf("spark engine: create save dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(saveDir) }()

	cmd := exec.CommandContext(ctx, e.argv[0], e.args(p, saveDir)...)
	cmd.Dir = e.workDir

	var logs bytes.Buffer
	cmd.Stdout = &logs
	cmd.Stderr = &logs

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w: %s", ErrInference, e.argv[0], err, tail(logs.String()))
	}

	e.log.Debug("spark inference finished",
		slog.Bool("clone", p.Clone()),
		slog.Int("log_bytes", logs.Len()),
	)

	path, err := newestWAV(saveDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("spark engine: read output: %w", err)
	}

	return decodeOutput(data)
}

// Close is a no-op; each call owns its process.
func (e *SparkCLI) Close() error { return nil }

func newestWAV(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	if err != nil {
		return "", fmt.Errorf("spark engine: list output: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no wav written to %s", ErrOutputInvalid, dir)
	}

	sort.Strings(matches)

	return matches[len(matches)-1], nil
}

// decodeOutput turns model WAV bytes into canonical mono 16 kHz samples.
func decodeOutput(data []byte) (*Output, error) {
	samples, f, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOutputInvalid, err)
	}

	if !f.IsCanonical() {
		samples, err = audio.Canonicalize(samples, f)
		if err != nil {
			return nil, fmt.Errorf("%w: convert %s: %w", ErrOutputInvalid, f, err)
		}
	}

	return &Output{Samples: samples, SampleRate: audio.SampleRate}, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxStderrTail {
		return s
	}

	return "..." + s[len(s)-maxStderrTail:]
}
