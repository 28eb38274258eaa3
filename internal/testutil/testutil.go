// Package testutil provides shared skip helpers and fixtures for tests.
//
// Each Require helper calls tb.Skipf with a clear human-readable reason when
// the named prerequisite is absent, so integration tests remain runnable in
// partial environments without failing noisily.
//
// Typical usage:
//
//	func TestTranscodeIntegration(t *testing.T) {
//	    testutil.RequireFFmpeg(t)
//	    ...
//	}
package testutil

import (
	"math"
	"os"
	"os/exec"
	"testing"

	"github.com/example/spark-tts-server/internal/audio"
)

// RequireFFmpeg skips the test if ffmpeg is not found in PATH or at the path
// given by SPARKTTS_AUDIO_FFMPEG_PATH. It returns the resolved executable.
func RequireFFmpeg(tb testing.TB) string {
	tb.Helper()

	exe := os.Getenv("SPARKTTS_AUDIO_FFMPEG_PATH")
	if exe == "" {
		exe = "ffmpeg"
	}

	path, err := exec.LookPath(exe)
	if err != nil {
		tb.Skipf("ffmpeg not available (%q not in PATH); set SPARKTTS_AUDIO_FFMPEG_PATH to override", exe)
		return ""
	}

	return path
}

// RequireSparkModel skips the test unless SPARKTTS_ENGINE_MODEL_DIR points
// at an existing Spark-TTS model directory. It returns that directory.
func RequireSparkModel(tb testing.TB) string {
	tb.Helper()

	dir := os.Getenv("SPARKTTS_ENGINE_MODEL_DIR")
	if dir == "" {
		tb.Skipf("SPARKTTS_ENGINE_MODEL_DIR not set; Spark-TTS model not available")
		return ""
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		tb.Skipf("Spark-TTS model directory %q not usable: %v", dir, err)
		return ""
	}

	return dir
}

// RequirePocketTTS skips the test if the pocket-tts binary is not found in
// PATH or the path given by SPARKTTS_ENGINE_POCKET_CLI_PATH.
func RequirePocketTTS(tb testing.TB) {
	tb.Helper()

	exe := os.Getenv("SPARKTTS_ENGINE_POCKET_CLI_PATH")
	if exe == "" {
		exe = "pocket-tts"
	}

	_, err := exec.LookPath(exe)
	if err != nil {
		tb.Skipf("pocket-tts binary not available (%q not in PATH); set SPARKTTS_ENGINE_POCKET_CLI_PATH to override", exe)
	}
}

// Tone returns n frames of a 440 Hz tone, interleaved over channels.
func Tone(sampleRate, channels, n int) []float32 {
	out := make([]float32, 0, n*channels)
	for i := range n {
		s := float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		for range channels {
			out = append(out, s)
		}
	}

	return out
}

// ToneWAV encodes Tone(sampleRate, channels, n) as a 16-bit PCM WAV.
func ToneWAV(tb testing.TB, sampleRate, channels, n int) []byte {
	tb.Helper()

	data, err := audio.EncodeWAVFormat(Tone(sampleRate, channels, n), audio.Format{
		SampleRate: sampleRate,
		Channels:   channels,
		BitDepth:   audio.BitDepth,
		PCM:        true,
	})
	if err != nil {
		tb.Fatalf("encode tone WAV: %v", err)
	}

	return data
}
