package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/example/spark-tts-server/internal/config"
	"github.com/example/spark-tts-server/internal/delivery"
	"github.com/example/spark-tts-server/internal/levels"
	"github.com/example/spark-tts-server/internal/normalize"
	"github.com/example/spark-tts-server/internal/synth"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// wavHeaderBytes is the size of the canonical RIFF header written by the store.
const wavHeaderBytes = 44

// Synthesizer runs one request to a persisted, validated WAV file.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error)
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTextBytes   int
	maxUploadBytes int64
	requestTimeout time.Duration
	chunkBytes     int
	metrics        http.Handler
	logger         *slog.Logger
	corsOrigins    []string
}

func defaultOptions() options {
	return options{
		maxTextBytes:   4096,
		maxUploadBytes: 20 << 20,
		requestTimeout: 5 * time.Minute,
		chunkBytes:     delivery.DefaultChunkSize,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes sets the maximum allowed text length in bytes.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithMaxUploadBytes caps the size of a request body, uploads included.
func WithMaxUploadBytes(n int64) Option {
	return func(o *options) { o.maxUploadBytes = n }
}

// WithRequestTimeout sets the deadline for reading and normalizing a
// request. Inference already under way is not interrupted by it.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithStreamChunkBytes sets the chunk size of streamed responses.
func WithStreamChunkBytes(n int) Option {
	return func(o *options) { o.chunkBytes = n }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *options) { o.metrics = h }
}

// WithCORSOrigins lets browsers on the given origins call the API. "*"
// allows any origin; no origins disables CORS headers.
func WithCORSOrigins(origins ...string) Option {
	return func(o *options) { o.corsOrigins = origins }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	synth Synthesizer
	opts  options
	log   *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, POST /voice_create,
// POST /voice_clone and, when configured, /metrics.
func NewHandler(s Synthesizer, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		synth: s,
		opts:  opts,
		log:   opts.logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /voice_create", h.handleVoiceCreate)
	mux.HandleFunc("POST /voice_clone", h.handleVoiceClone)
	if opts.metrics != nil {
		mux.Handle("GET /metrics", opts.metrics)
	}

	if len(opts.corsOrigins) == 0 {
		return mux
	}

	return withCORS(mux, opts.corsOrigins)
}

// withCORS adds Access-Control headers for allowed origins and answers
// preflight requests without reaching next.
func withCORS(next http.Handler, origins []string) http.Handler {
	anyOrigin := slices.Contains(origins, "*")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || (!anyOrigin && !slices.Contains(origins, origin)) {
			next.ServeHTTP(w, r)
			return
		}

		hdr := w.Header()
		if anyOrigin {
			hdr.Set("Access-Control-Allow-Origin", "*")
		} else {
			hdr.Set("Access-Control-Allow-Origin", origin)
			hdr.Add("Vary", "Origin")
		}

		if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
			next.ServeHTTP(w, r)
			return
		}

		hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
			hdr.Set("Access-Control-Allow-Headers", reqHeaders)
		}
		hdr.Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusNoContent)
	})
}

// BuildVersion reports the module version embedded at build time, or "dev".
func BuildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": BuildVersion(),
	})
}

func (h *handler) handleVoiceCreate(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	req, ok := h.commonFields(w, r, synth.ModeCreate)
	if !ok {
		return
	}

	req.Gender = strings.TrimSpace(r.PostFormValue("gender"))
	if req.Gender == "" {
		req.Gender = string(levels.DefaultGender)
	}

	h.run(w, r, req)
}

func (h *handler) handleVoiceClone(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	req, ok := h.commonFields(w, r, synth.ModeClone)
	if !ok {
		return
	}

	req.PromptText = strings.TrimSpace(r.PostFormValue("prompt_text"))

	ref, err := readUpload(r, "prompt_audio")
	if err != nil {
		h.fail(w, r, req, err, 0)
		return
	}
	req.Reference = ref

	h.run(w, r, req)
}

// parseForm reads a multipart or urlencoded body under the upload limit.
func (h *handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var err error
	if mediaType == "multipart/form-data" {
		err = r.ParseMultipartForm(h.opts.maxUploadBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds maximum size of %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid form: "+err.Error())
		return false
	}

	return true
}

func (h *handler) commonFields(w http.ResponseWriter, r *http.Request, mode synth.Mode) (synth.Request, bool) {
	req := synth.Request{Mode: mode, Text: r.PostFormValue("text")}

	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text field is required")
		return req, false
	}

	if len(req.Text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return req, false
	}

	var err error
	if req.PitchLevel, err = formInt(r, "pitch", levels.Default); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	if req.SpeedLevel, err = formInt(r, "speed", levels.Default); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}

	stream, err := formBool(r, "stream", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	req.Delivery = delivery.ModeFor(stream)

	return req, true
}

func (h *handler) run(w http.ResponseWriter, r *http.Request, req synth.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	res, err := h.synth.Synthesize(ctx, req)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		h.fail(w, r, req, err, durationMS)
		return
	}

	if r.Context().Err() != nil {
		h.log.WarnContext(r.Context(), "client went away; result not delivered",
			slog.String("mode", req.Mode.String()),
			slog.String("file", res.Filename),
			slog.Int64("duration_ms", durationMS),
		)
		return
	}

	h.log.InfoContext(r.Context(), "synthesis complete",
		slog.String("mode", req.Mode.String()),
		slog.Int("text_len", len(req.Text)),
		slog.Int64("duration_ms", durationMS),
		slog.String("file", res.Filename),
		slog.Int("wav_bytes", wavHeaderBytes+2*res.Samples),
		slog.Float64("audio_seconds", res.Duration),
		slog.String("delivery", res.Delivery.String()),
	)

	err = delivery.Deliver(w, res.Handle(), delivery.Options{
		ChunkSize: h.opts.chunkBytes,
		Logger:    h.log,
	})
	if err != nil {
		h.log.ErrorContext(r.Context(), "delivery failed",
			slog.String("file", res.Filename),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "delivery failed")
	}
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, req synth.Request, err error, durationMS int64) {
	status := statusFor(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}

	h.log.Log(r.Context(), level, "synthesis failed",
		slog.String("mode", req.Mode.String()),
		slog.Int("text_len", len(req.Text)),
		slog.Int64("duration_ms", durationMS),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	// 5xx details stay in the log. Transcoder failures keep their reason
	// since it describes the caller's upload.
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		msg = http.StatusText(status)
	}
	writeError(w, status, msg)
}

// statusFor maps orchestrator errors onto HTTP statuses.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, synth.ErrInvalidRequest), errors.Is(err, synth.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, normalize.ErrUnreadableAudio):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, synth.ErrNormalizationFailed):
		return http.StatusBadGateway
	case errors.Is(err, synth.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// readUpload returns the named file field, or nil when it is absent.
func readUpload(r *http.Request, field string) (*normalize.ReferenceAudio, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", synth.ErrInvalidRequest, field, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}

	return &normalize.ReferenceAudio{Data: data, Filename: hdr.Filename}, nil
}

func formInt(r *http.Request, field string, def int) (int, error) {
	raw := strings.TrimSpace(r.PostFormValue(field))
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", field, raw)
	}

	return n, nil
}

func formBool(r *http.Request, field string, def bool) (bool, error) {
	raw := strings.ToLower(strings.TrimSpace(r.PostFormValue(field)))
	switch raw {
	case "":
		return def, nil
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}

	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", field, raw)
	}

	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	synth           Synthesizer
	extra           []Option
	shutdownTimeout time.Duration
}

// New returns a Server for synth configured from cfg. extra options are
// applied after the config-derived ones.
func New(cfg config.Config, s Synthesizer, extra ...Option) *Server {
	shutdown := cfg.Server.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}

	return &Server{
		cfg:             cfg,
		synth:           s,
		extra:           extra,
		shutdownTimeout: shutdown,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// Handler builds the HTTP handler from the server's config.
func (s *Server) Handler() http.Handler {
	opts := []Option{
		WithMaxTextBytes(s.cfg.Server.MaxTextBytes),
		WithMaxUploadBytes(s.cfg.Server.MaxUploadBytes),
		WithRequestTimeout(s.cfg.Server.RequestTimeout),
		WithStreamChunkBytes(s.cfg.Server.StreamChunkBytes),
		WithCORSOrigins(s.cfg.Server.CORSOrigins...),
	}

	return NewHandler(s.synth, append(opts, s.extra...)...)
}

func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
