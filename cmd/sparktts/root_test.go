package main

import (
	"testing"

	"github.com/example/spark-tts-server/internal/config"
)

func TestNewRootCmd_HasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"serve", "synth", "health", "doctor"}
	for _, name := range want {
		found := false

		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}

		if !found {
			t.Errorf("expected subcommand %q not found in root", name)
		}
	}
}

func TestNewRootCmd_SynthHasCreateAndClone(t *testing.T) {
	root := NewRootCmd()

	cmd, _, err := root.Find([]string{"synth", "clone"})
	if err != nil || cmd.Name() != "clone" {
		t.Fatalf("synth clone not found: %v", err)
	}
	if cmd.Flags().Lookup("prompt-audio") == nil {
		t.Error("synth clone missing --prompt-audio")
	}

	cmd, _, err = root.Find([]string{"synth", "create"})
	if err != nil || cmd.Name() != "create" {
		t.Fatalf("synth create not found: %v", err)
	}
	if f := cmd.Flags().Lookup("gender"); f == nil || f.DefValue != "male" {
		t.Error("synth create --gender should default to male")
	}
}

func TestNewRootCmd_HasPersistentConfigFlag(t *testing.T) {
	root := NewRootCmd()
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("expected --config persistent flag to be registered")
	}
	if root.PersistentFlags().Lookup("backend") == nil {
		t.Error("expected config flags to be registered as persistent flags")
	}
}

func TestSetupLogger_DoesNotPanic(_ *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		setupLogger(level)
	}
}

func TestSetupLogger_InvalidLevelFallsBackToInfo(_ *testing.T) {
	setupLogger("not-a-level")
}

func TestRequireConfig_FailsWhenNotInitialized(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	activeCfg = config.Config{}

	if _, err := requireConfig(); err == nil {
		t.Fatal("expected error when config is not loaded")
	}
}

func TestRequireConfig_SucceedsWhenLoaded(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	activeCfg = config.DefaultConfig()

	got, err := requireConfig()
	if err != nil {
		t.Fatalf("requireConfig returned unexpected error: %v", err)
	}
	if got.Paths.OutputDir != "results" {
		t.Errorf("unexpected OutputDir: %q", got.Paths.OutputDir)
	}
}

func TestProbeAddr(t *testing.T) {
	tests := map[string]string{
		":8000":          "127.0.0.1:8000",
		"0.0.0.0:8080":   "0.0.0.0:8080",
		"localhost:9000": "localhost:9000",
	}
	for in, want := range tests {
		if got := probeAddr(in); got != want {
			t.Errorf("probeAddr(%q) = %q, want %q", in, got, want)
		}
	}
}
