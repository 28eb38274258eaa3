package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/example/spark-tts-server/internal/config"
	"github.com/example/spark-tts-server/internal/doctor"
	"github.com/example/spark-tts-server/internal/engine"
	"github.com/example/spark-tts-server/internal/normalize"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			dcfg, err := doctorConfig(ctx, cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "backend: %s\n", cfg.Engine.Backend)

			result := doctor.Run(dcfg, out)
			if result.Failed() {
				for _, f := range result.Failures() {
					// #nosec G705 -- Writes plain diagnostic text to stderr for CLI output, not HTML rendering.
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	return cmd
}

func doctorConfig(ctx context.Context, cfg config.Config) (doctor.Config, error) {
	ff, err := normalize.NewFFmpeg(cfg.Audio.FFmpegPath, cfg.Audio.FFmpegArgs)
	if err != nil {
		return doctor.Config{}, err
	}

	dcfg := doctor.Config{
		FFmpegVersion: func() (string, error) { return ff.Version(ctx) },
		OutputDir:     cfg.Paths.OutputDir,
		TempDir:       cfg.Audio.TempDir,
	}

	switch cfg.Engine.Backend {
	case config.BackendPocketTTS:
		dcfg.SkipPython = true
		dcfg.PocketTTS = engine.NewPocketEngine(pocketConfig(cfg), nil).Preflight
	default:
		dcfg.ModelDir = cfg.Engine.ModelDir
		dcfg.PythonVersion = func() (string, error) {
			return probePythonVersion(ctx, cfg.Engine.PythonPath)
		}
	}

	return dcfg, nil
}

// probePythonVersion runs `<python> --version` and returns e.g. "3.11.4".
// An empty python falls back to python3 then python.
func probePythonVersion(ctx context.Context, python string) (string, error) {
	candidates := []string{"python3", "python"}
	if strings.TrimSpace(python) != "" {
		candidates = []string{python}
	}

	for _, bin := range candidates {
		out, err := exec.CommandContext(ctx, bin, "--version").CombinedOutput()
		if err != nil {
			continue
		}
		if ver := parsePythonVersion(string(out)); ver != "" {
			return ver, nil
		}
	}

	return "", fmt.Errorf("%s not found on PATH", strings.Join(candidates, "/"))
}

// parsePythonVersion extracts "3.11.4" from "Python 3.11.4\n".
func parsePythonVersion(out string) string {
	return strings.TrimPrefix(strings.TrimSpace(out), "Python ")
}
