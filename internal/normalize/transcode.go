package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Target is the output shape requested from a Transcoder.
type Target struct {
	SampleRate int
	Channels   int
	Format     string
}

// Transcoder converts an audio file of arbitrary container/codec into Target.
// Implementations must fail rather than leave partial output behind.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputPath string, target Target) error
}

// TranscodeError reports a failed transcoder run.
type TranscodeError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *TranscodeError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}

	return msg
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// maxStderrTail bounds how much tool output is carried in errors.
const maxStderrTail = 512

// FFmpeg runs the ffmpeg binary.
type FFmpeg struct {
	path      string
	extraArgs []string
}

// NewFFmpeg returns an FFmpeg transcoder. path defaults to "ffmpeg"; extra is
// a shell-words string of arguments inserted before the output options.
func NewFFmpeg(path, extra string) (*FFmpeg, error) {
	if strings.TrimSpace(path) == "" {
		path = "ffmpeg"
	}

	var args []string
	if strings.TrimSpace(extra) != "" {
		parsed, err := shellwords.Parse(extra)
		if err != nil {
			return nil, fmt.Errorf("parse ffmpeg args: %w", err)
		}
		args = parsed
	}

	return &FFmpeg{path: path, extraArgs: args}, nil
}

// Args returns the full ffmpeg argument list for one conversion.
func (f *FFmpeg) Args(inputPath, outputPath string, target Target) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-i", inputPath, "-y"}
	args = append(args, f.extraArgs...)
	args = append(args,
		"-ar", strconv.Itoa(target.SampleRate),
		"-ac", strconv.Itoa(target.Channels),
		"-c:a", "pcm_s16le",
		"-f", target.Format,
		outputPath,
	)

	return args
}

// Transcode runs ffmpeg and removes any output it left behind on failure.
// A cancelled or expired ctx is reported as the context error itself.
func (f *FFmpeg) Transcode(ctx context.Context, inputPath, outputPath string, target Target) error {
	cmd := exec.CommandContext(ctx, f.path, f.Args(inputPath, outputPath, target)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(outputPath)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s interrupted: %w", f.path, ctxErr)
		}

		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}

		return &TranscodeError{
			Tool:     f.path,
			ExitCode: code,
			Stderr:   tail(strings.TrimSpace(stderr.String()), maxStderrTail),
			Err:      err,
		}
	}

	return nil
}

// Version returns the first line of `ffmpeg -version`.
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, f.path, "-version").Output()
	if err != nil {
		return "", err
	}

	line, _, _ := strings.Cut(string(out), "\n")

	return strings.TrimSpace(line), nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return "..." + s[len(s)-n:]
}
