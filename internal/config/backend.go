package config

import (
	"fmt"
	"strings"
)

const (
	BackendSparkCLI  = "spark-cli"
	BackendPocketTTS = "pocket-tts"
)

// NormalizeBackend canonicalizes an engine backend name. Empty selects the
// Spark-TTS CLI.
func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	if backend == "" {
		backend = BackendSparkCLI
	}
	switch backend {
	case BackendSparkCLI, BackendPocketTTS:
		return backend, nil
	case "spark":
		return BackendSparkCLI, nil
	case "pocket":
		return BackendPocketTTS, nil
	default:
		return "", fmt.Errorf(
			"invalid backend %q (expected %s|%s|spark|pocket)",
			raw,
			BackendSparkCLI,
			BackendPocketTTS,
		)
	}
}
