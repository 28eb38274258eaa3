package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	pockettts "github.com/MeKo-Christian/go-call-pocket-tts"
	"github.com/example/spark-tts-server/internal/delivery"
	"github.com/example/spark-tts-server/internal/levels"
	"github.com/example/spark-tts-server/internal/normalize"
	"github.com/example/spark-tts-server/internal/synth"
	"github.com/spf13/cobra"
)

type synthFlags struct {
	text  string
	out   string
	pitch int
	speed int
}

func (f *synthFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.text, "text", "", "Text to synthesize (if empty, read from stdin)")
	cmd.Flags().StringVar(&f.out, "out", "", "Copy the WAV here ('-' for stdout); the result is always kept in the output dir")
	cmd.Flags().IntVar(&f.pitch, "pitch", levels.Default, "Pitch level (1-5)")
	cmd.Flags().IntVar(&f.speed, "speed", levels.Default, "Speed level (1-5)")
}

func newSynthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize one request without starting the server",
	}

	cmd.AddCommand(newSynthCreateCmd())
	cmd.AddCommand(newSynthCloneCmd())

	return cmd
}

func newSynthCreateCmd() *cobra.Command {
	var flags synthFlags
	var gender string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new voice from gender, pitch and speed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := readSynthText(flags.text, cmd.InOrStdin())
			if err != nil {
				return err
			}

			return runSynth(cmd, flags, synth.Request{
				Text:       text,
				Mode:       synth.ModeCreate,
				Gender:     gender,
				PitchLevel: flags.pitch,
				SpeedLevel: flags.speed,
				Delivery:   delivery.Buffered,
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&gender, "gender", string(levels.DefaultGender), "Speaker gender (male|female)")

	return cmd
}

func newSynthCloneCmd() *cobra.Command {
	var flags synthFlags
	var promptAudio, promptText string

	cmd := &cobra.Command{
		Use:   "clone",
		Short: "Clone the speaker of a reference recording",
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := readSynthText(flags.text, cmd.InOrStdin())
			if err != nil {
				return err
			}

			data, err := os.ReadFile(promptAudio)
			if err != nil {
				return fmt.Errorf("read prompt audio: %w", err)
			}

			return runSynth(cmd, flags, synth.Request{
				Text:       text,
				Mode:       synth.ModeClone,
				Reference:  &normalize.ReferenceAudio{Data: data, Filename: filepath.Base(promptAudio)},
				PromptText: promptText,
				PitchLevel: flags.pitch,
				SpeedLevel: flags.speed,
				Delivery:   delivery.Buffered,
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&promptAudio, "prompt-audio", "", "Reference recording (wav, mp3, m4a, ...)")
	cmd.Flags().StringVar(&promptText, "prompt-text", "", "Transcript of the reference recording")
	_ = cmd.MarkFlagRequired("prompt-audio")

	return cmd
}

func runSynth(cmd *cobra.Command, flags synthFlags, req synth.Request) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	svc, err := newService(cfg, slog.Default(), nil)
	if err != nil {
		return mapSynthError(err)
	}
	defer func() { _ = svc.Close() }()

	res, err := svc.Synthesize(cmd.Context(), req)
	if err != nil {
		return mapSynthError(err)
	}

	if flags.out == "" {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Path)
		return err
	}

	data, err := os.ReadFile(res.Path)
	if err != nil {
		return err
	}

	return writeSynthOutput(flags.out, data, cmd.OutOrStdout())
}

func writeSynthOutput(outPath string, wavData []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return errors.New("stdout writer is nil")
		}
		_, err := stdout.Write(wavData)
		return err
	}
	return os.WriteFile(outPath, wavData, 0o644)
}

func readSynthText(text string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	input := strings.TrimSpace(string(b))
	if input == "" {
		return "", errors.New("either provide --text or pipe text on stdin")
	}
	return input, nil
}

func mapSynthError(err error) error {
	var notFound *pockettts.ErrExecutableNotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("synth failed: pocket-tts executable not found; set --engine-pocket-cli-path or SPARKTTS_ENGINE_POCKET_CLI_PATH: %w", err)
	}

	var transcodeErr *normalize.TranscodeError
	if errors.As(err, &transcodeErr) {
		return fmt.Errorf("synth failed: reference audio could not be converted; check --audio-ffmpeg-path: %w", err)
	}

	return err
}
