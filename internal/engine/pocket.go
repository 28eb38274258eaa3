package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	pockettts "github.com/MeKo-Christian/go-call-pocket-tts"

	"github.com/example/spark-tts-server/internal/levels"
)

// Built-in pocket-tts voices used for voice creation.
const (
	DefaultPocketMaleVoice   = "marius"
	DefaultPocketFemaleVoice = "alba"
)

var (
	pocketGenerate    = pockettts.Generate
	pocketExportVoice = pockettts.ExportVoice
)

// PocketConfig describes the pocket-tts CLI backend.
type PocketConfig struct {
	ExecutablePath string
	ConfigPath     string
	Quiet          bool
	MaleVoice      string
	FemaleVoice    string
	TempDir        string
	LogWriter      io.Writer
}

// PocketEngine synthesizes through the pocket-tts CLI. Pitch and speed have
// no pocket-tts equivalent and are ignored; gender selects a built-in voice
// and clone requests export a voice embedding from the reference first.
type PocketEngine struct {
	cfg PocketConfig
	log *slog.Logger
}

// NewPocketEngine returns a pocket-tts engine.
func NewPocketEngine(cfg PocketConfig, log *slog.Logger) *PocketEngine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaleVoice == "" {
		cfg.MaleVoice = DefaultPocketMaleVoice
	}
	if cfg.FemaleVoice == "" {
		cfg.FemaleVoice = DefaultPocketFemaleVoice
	}

	return &PocketEngine{cfg: cfg, log: log}
}

// Preflight checks that the pocket-tts executable resolves.
func (e *PocketEngine) Preflight() error {
	return pockettts.Preflight(e.cfg.ExecutablePath)
}

func (e *PocketEngine) voiceFor(g levels.Gender) string {
	if g == levels.Female {
		return e.cfg.FemaleVoice
	}

	return e.cfg.MaleVoice
}

// Synthesize implements Engine.
func (e *PocketEngine) Synthesize(ctx context.Context, p Params) (*Output, error) {
	voice := e.voiceFor(p.Gender)

	if p.Clone() {
		embedding, err := e.exportVoice(ctx, p.PromptSpeechPath)
		if err != nil {
			return nil, err
		}
		defer func() { _ = os.Remove(embedding) }()

		voice = embedding
	}

	if p.Pitch != levels.Moderate || p.Speed != levels.Moderate {
		e.log.Debug("pocket-tts ignores pitch and speed",
			slog.String("pitch", string(p.Pitch)),
			slog.String("speed", string(p.Speed)),
		)
	}

	res, err := pocketGenerate(ctx, p.Text, &pockettts.Options{
		Voice:          voice,
		Config:         e.cfg.ConfigPath,
		Quiet:          e.cfg.Quiet,
		ExecutablePath: e.cfg.ExecutablePath,
		LogWriter:      e.cfg.LogWriter,
	})
	if err != nil {
		return nil, wrapPocketError(err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: pocket-tts returned no result", ErrOutputInvalid)
	}

	return decodeOutput(res.Data)
}

func (e *PocketEngine) exportVoice(ctx context.Context, audioPath string) (string, error) {
	f, err := os.CreateTemp(e.cfg.TempDir, "voice-*.safetensors")
	if err != nil {
		return "", fmt.Errorf("pocket engine: create voice file: %w", err)
	}
	path := f.Name()
	_ = f.Close()

	err = pocketExportVoice(ctx, audioPath, path, &pockettts.ExportVoiceOptions{
		Config:         e.cfg.ConfigPath,
		Quiet:          e.cfg.Quiet,
		ExecutablePath: e.cfg.ExecutablePath,
		LogWriter:      e.cfg.LogWriter,
	})
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("export voice: %w", wrapPocketError(err))
	}

	return path, nil
}

// Close is a no-op; pocket-tts runs one process per call.
func (e *PocketEngine) Close() error { return nil }

func wrapPocketError(err error) error {
	var notFound *pockettts.ErrExecutableNotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: pocket-tts CLI (Python tooling) not found: %w", ErrInference, err)
	}

	return fmt.Errorf("%w: %w", ErrInference, err)
}
