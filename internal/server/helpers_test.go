package server_test

import (
	"bytes"
	"context"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/spark-tts-server/internal/audio"
	"github.com/example/spark-tts-server/internal/engine"
	"github.com/example/spark-tts-server/internal/normalize"
	"github.com/example/spark-tts-server/internal/server"
	"github.com/example/spark-tts-server/internal/synth"
	"github.com/example/spark-tts-server/internal/testutil"
)

// stubSynthesizer implements server.Synthesizer for tests.
type stubSynthesizer struct {
	mu   sync.Mutex
	reqs []synth.Request

	dir   string
	wav   []byte
	err   error
	delay time.Duration
}

func newStubSynthesizer(t *testing.T) *stubSynthesizer {
	t.Helper()

	return &stubSynthesizer{dir: t.TempDir(), wav: testutil.ToneWAV(t, audio.SampleRate, 1, 1600)}
}

func (s *stubSynthesizer) Synthesize(_ context.Context, req synth.Request) (*synth.Result, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}

	f, err := os.CreateTemp(s.dir, "stub-*.wav")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	_ = f.Close()
	if err := os.WriteFile(path, s.wav, 0o600); err != nil {
		return nil, err
	}

	return &synth.Result{
		Path:       path,
		Filename:   filepath.Base(path),
		CreatedAt:  time.Now(),
		SampleRate: audio.SampleRate,
		Delivery:   req.Delivery,
	}, nil
}

func (s *stubSynthesizer) last(t *testing.T) synth.Request {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reqs) == 0 {
		t.Fatal("synthesizer never called")
	}

	return s.reqs[len(s.reqs)-1]
}

func (s *stubSynthesizer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.reqs)
}

// capturingHandler captures all slog records during a test.
type capturingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (c *capturingHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }
func (c *capturingHandler) Handle(_ context.Context, r slog.Record) error {
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
	return nil
}
func (c *capturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return c }
func (c *capturingHandler) WithGroup(name string) slog.Handler       { return c }

// find returns the attrs of the first record with msg.
func (c *capturingHandler) find(msg string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.records {
		if r.Message != msg {
			continue
		}
		m := make(map[string]any)
		r.Attrs(func(a slog.Attr) bool {
			m[a.Key] = a.Value.Any()
			return true
		})
		return m, true
	}

	return nil, false
}

// form describes a multipart request body.
type form struct {
	fields   map[string]string
	file     []byte
	filename string
}

func (f form) encode(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range f.fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(%s): %v", k, err)
		}
	}
	if f.filename != "" {
		fw, err := mw.CreateFormFile("prompt_audio", f.filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write(f.file); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	return &buf, mw.FormDataContentType()
}

func post(t *testing.T, h http.Handler, path string, f form) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := f.encode(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	h.ServeHTTP(rec, req)

	return rec
}

// stubEngine is an engine double with a call counter and overlap tracking.
type stubEngine struct {
	mu     sync.Mutex
	params []engine.Params

	calls  atomic.Int32
	active atomic.Int32
	peak   atomic.Int32

	out    *engine.Output
	onCall func(engine.Params)
}

func (s *stubEngine) Synthesize(_ context.Context, p engine.Params) (*engine.Output, error) {
	s.calls.Add(1)
	cur := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if cur <= p || s.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	if s.onCall != nil {
		s.onCall(p)
	}

	s.mu.Lock()
	s.params = append(s.params, p)
	s.mu.Unlock()

	if s.out != nil {
		return s.out, nil
	}

	return &engine.Output{Samples: testutil.Tone(audio.SampleRate, 1, 3200), SampleRate: audio.SampleRate}, nil
}

func (s *stubEngine) Close() error { return nil }

// mp3Transcoder stands in for ffmpeg and records every invocation.
type mp3Transcoder struct {
	calls  atomic.Int32
	inputs []string
	err    error
}

func (m *mp3Transcoder) Transcode(_ context.Context, in, out string, target normalize.Target) error {
	m.calls.Add(1)
	m.inputs = append(m.inputs, in)
	if m.err != nil {
		return m.err
	}

	data, err := audio.EncodeWAV(testutil.Tone(target.SampleRate, 1, 1600), target.SampleRate)
	if err != nil {
		return err
	}

	return os.WriteFile(out, data, 0o600)
}

// stack is a handler wired to a real orchestrator over test doubles.
type stack struct {
	handler   http.Handler
	eng       *stubEngine
	tc        *mp3Transcoder
	tempDir   string
	outputDir string
	logs      *capturingHandler
}

func newStack(t *testing.T, eng *stubEngine, opts ...server.Option) *stack {
	t.Helper()

	if eng == nil {
		eng = &stubEngine{}
	}

	s := &stack{
		eng:       eng,
		tc:        &mp3Transcoder{},
		tempDir:   t.TempDir(),
		outputDir: filepath.Join(t.TempDir(), "results"),
		logs:      &capturingHandler{},
	}

	store, err := synth.NewOutputStore(s.outputDir)
	if err != nil {
		t.Fatalf("NewOutputStore: %v", err)
	}

	log := slog.New(s.logs)
	svc := synth.NewService(eng, normalize.New(s.tc, log), store,
		synth.WithTempDir(s.tempDir),
		synth.WithLogger(log),
	)
	t.Cleanup(func() { _ = svc.Close() })

	s.handler = server.NewHandler(svc, append([]server.Option{server.WithLogger(log)}, opts...)...)

	return s
}

func (s *stack) outputs(t *testing.T) []string {
	t.Helper()

	entries, err := os.ReadDir(s.outputDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names
}

func (s *stack) assertNoTempFiles(t *testing.T) {
	t.Helper()

	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	for _, e := range entries {
		t.Errorf("temp file left behind: %s", e.Name())
	}
}
