package main

import (
	"context"
	"testing"

	"github.com/example/spark-tts-server/internal/config"
)

func TestParsePythonVersion(t *testing.T) {
	tests := map[string]string{
		"Python 3.11.4\n": "3.11.4",
		"Python 3.12.0":   "3.12.0",
		"3.10.2":          "3.10.2",
		"":                "",
	}
	for in, want := range tests {
		if got := parsePythonVersion(in); got != want {
			t.Errorf("parsePythonVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDoctorConfig_SparkChecksModelAndPython(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.ModelDir = "/models/spark"

	dcfg, err := doctorConfig(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if dcfg.ModelDir != "/models/spark" {
		t.Errorf("ModelDir = %q", dcfg.ModelDir)
	}
	if dcfg.SkipPython || dcfg.PythonVersion == nil {
		t.Error("spark backend should check python")
	}
	if dcfg.PocketTTS != nil {
		t.Error("spark backend should not check pocket-tts")
	}
	if dcfg.OutputDir != cfg.Paths.OutputDir {
		t.Errorf("OutputDir = %q", dcfg.OutputDir)
	}
}

func TestDoctorConfig_PocketSkipsPythonAndModel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.Backend = config.BackendPocketTTS

	dcfg, err := doctorConfig(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !dcfg.SkipPython || dcfg.ModelDir != "" {
		t.Errorf("pocket backend: SkipPython=%v ModelDir=%q", dcfg.SkipPython, dcfg.ModelDir)
	}
	if dcfg.PocketTTS == nil {
		t.Error("pocket backend should check the pocket-tts executable")
	}
}

func TestProbePythonVersion_MissingBinary(t *testing.T) {
	if _, err := probePythonVersion(context.Background(), "/nonexistent/python3"); err == nil {
		t.Fatal("want error for a missing interpreter")
	}
}
