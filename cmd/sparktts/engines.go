package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/example/spark-tts-server/internal/config"
	"github.com/example/spark-tts-server/internal/engine"
	"github.com/example/spark-tts-server/internal/normalize"
	"github.com/example/spark-tts-server/internal/synth"
	"github.com/example/spark-tts-server/internal/telemetry"
)

// buildEngine is swapped out by tests.
var buildEngine = newEngine

func newEngine(cfg config.Config, log *slog.Logger) (engine.Engine, error) {
	backend, err := config.NormalizeBackend(cfg.Engine.Backend)
	if err != nil {
		return nil, err
	}

	switch backend {
	case config.BackendSparkCLI:
		return engine.NewSparkCLI(sparkConfig(cfg), log)
	case config.BackendPocketTTS:
		return engine.NewPocketEngine(pocketConfig(cfg), log), nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", backend)
	}
}

func sparkConfig(cfg config.Config) engine.SparkConfig {
	return engine.SparkConfig{
		Command:    cfg.Engine.Command,
		PythonPath: cfg.Engine.PythonPath,
		ModelDir:   cfg.Engine.ModelDir,
		Device:     cfg.Engine.Device,
		WorkDir:    cfg.Engine.WorkDir,
		TempDir:    cfg.Audio.TempDir,
	}
}

func pocketConfig(cfg config.Config) engine.PocketConfig {
	pc := engine.PocketConfig{
		ExecutablePath: cfg.Engine.PocketCLIPath,
		ConfigPath:     cfg.Engine.PocketConfigPath,
		Quiet:          cfg.Engine.Quiet,
		MaleVoice:      cfg.Engine.PocketMaleVoice,
		FemaleVoice:    cfg.Engine.PocketFemaleVoice,
		TempDir:        cfg.Audio.TempDir,
	}
	if !cfg.Engine.Quiet {
		pc.LogWriter = os.Stderr
	}

	return pc
}

// newService builds the orchestrator and the engine it owns. The engine is
// loaded once here and shared by every request.
func newService(cfg config.Config, log *slog.Logger, metrics *telemetry.Metrics) (*synth.Service, error) {
	eng, err := buildEngine(cfg, log)
	if err != nil {
		return nil, err
	}

	ff, err := normalize.NewFFmpeg(cfg.Audio.FFmpegPath, cfg.Audio.FFmpegArgs)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}

	store, err := synth.NewOutputStore(cfg.Paths.OutputDir)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}

	return synth.NewService(eng, normalize.New(ff, log), store,
		synth.WithGate(engine.NewGate(cfg.Server.GateTimeout)),
		synth.WithLogger(log),
		synth.WithTempDir(cfg.Audio.TempDir),
		synth.WithMetrics(metrics),
	), nil
}
