// Package synth orchestrates one synthesis request: validation, level
// resolution, reference normalization, gated inference, output validation
// and persistence.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/spark-tts-server/internal/audio"
	"github.com/example/spark-tts-server/internal/delivery"
	"github.com/example/spark-tts-server/internal/engine"
	"github.com/example/spark-tts-server/internal/levels"
	"github.com/example/spark-tts-server/internal/normalize"
	"github.com/example/spark-tts-server/internal/telemetry"
	"github.com/example/spark-tts-server/internal/text"
)

var (
	ErrInvalidRequest         = errors.New("invalid request")
	ErrInvalidParameter       = levels.ErrInvalidParameter
	ErrNormalizationFailed    = normalize.ErrNormalizationFailed
	ErrInferenceOutputInvalid = engine.ErrOutputInvalid
	ErrBusy                   = engine.ErrBusy
)

// Mode is the kind of synthesis requested.
type Mode int

const (
	ModeCreate Mode = iota
	ModeClone
)

func (m Mode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModeClone:
		return "clone"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Request is one synthesis call. Create requests carry Gender; clone
// requests carry Reference and optionally PromptText.
type Request struct {
	Text       string
	Mode       Mode
	Gender     string
	Reference  *normalize.ReferenceAudio
	PromptText string
	PitchLevel int
	SpeedLevel int
	Delivery   delivery.Mode
}

// Result is a validated, persisted synthesis ready for delivery.
type Result struct {
	Path       string
	Filename   string
	CreatedAt  time.Time
	SampleRate int
	Samples    int
	Duration   float64
	Delivery   delivery.Mode
}

// Handle returns the delivery handle for r.
func (r *Result) Handle() delivery.Handle {
	return delivery.Handle{Path: r.Path, Filename: r.Filename, Mode: r.Delivery}
}

// Normalizer converts reference uploads into canonical audio.
type Normalizer interface {
	Normalize(ctx context.Context, scratch *normalize.Scratch, ref normalize.ReferenceAudio) (*normalize.NormalizedAudio, error)
}

// Store persists encoded output.
type Store interface {
	Save(data []byte) (Saved, error)
}

type options struct {
	gate    *engine.Gate
	logger  *slog.Logger
	tempDir string
	metrics *telemetry.Metrics
}

// Option configures a Service.
type Option func(*options)

// WithGate shares a gate between services. By default each Service has its own.
func WithGate(g *engine.Gate) Option {
	return func(o *options) { o.gate = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTempDir sets where per-request scratch files are created.
func WithTempDir(dir string) Option {
	return func(o *options) { o.tempDir = dir }
}

// WithMetrics enables metric recording.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Service is the orchestrator. It is safe for concurrent use; engine calls
// are serialized through its gate.
type Service struct {
	engine     engine.Engine
	normalizer Normalizer
	store      Store
	gate       *engine.Gate
	log        *slog.Logger
	tempDir    string
	metrics    *telemetry.Metrics
}

// NewService wires an engine, a normalizer and an output store.
func NewService(eng engine.Engine, n Normalizer, store Store, opts ...Option) *Service {
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.gate == nil {
		o.gate = engine.NewGate(0)
	}

	return &Service{
		engine:     eng,
		normalizer: n,
		store:      store,
		gate:       o.gate,
		log:        o.logger,
		tempDir:    o.tempDir,
		metrics:    o.metrics,
	}
}

// Close releases the engine.
func (s *Service) Close() error {
	return s.engine.Close()
}

// Synthesize runs req to completion. Every scratch file is removed before it
// returns. Once inference starts it is not interrupted by ctx; the caller
// decides whether the result can still be delivered.
func (s *Service) Synthesize(ctx context.Context, req Request) (res *Result, err error) {
	finish := s.metrics.Begin(ctx, req.Mode.String())
	defer func() { finish(outcome(err)) }()

	params, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	scratch := normalize.NewScratch(s.tempDir)
	defer func() {
		paths := scratch.Paths()
		if rerr := scratch.Release(); rerr != nil {
			s.log.Warn("scratch cleanup failed",
				slog.Any("paths", paths),
				slog.String("error", rerr.Error()),
			)
		}
	}()

	if req.Mode == ModeClone {
		norm, err := s.normalizer.Normalize(ctx, scratch, *req.Reference)
		if err != nil {
			return nil, err
		}
		params.PromptSpeechPath = norm.Path
		s.metrics.ObserveNormalize(ctx, normalizePath(norm))
	}

	out, err := s.infer(ctx, params)
	if err != nil {
		if errors.Is(err, ErrInferenceOutputInvalid) {
			s.logInvalidOutput(ctx, req, err)
		}

		return nil, err
	}

	if err := validateOutput(out); err != nil {
		err = fmt.Errorf("%w: %w", ErrInferenceOutputInvalid, err)
		s.logInvalidOutput(ctx, req, err)

		return nil, err
	}

	data, err := audio.EncodeWAV(out.Samples, out.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}

	saved, err := s.store.Save(data)
	if err != nil {
		return nil, err
	}

	return &Result{
		Path:       saved.Path,
		Filename:   saved.Filename,
		CreatedAt:  saved.CreatedAt,
		SampleRate: out.SampleRate,
		Samples:    len(out.Samples),
		Duration:   audio.Duration(out.Samples, out.SampleRate),
		Delivery:   req.Delivery,
	}, nil
}

// prepare validates the request shape and resolves levels. Nothing here
// touches the filesystem or the engine.
func (s *Service) prepare(req Request) (engine.Params, error) {
	txt, err := text.Normalize(req.Text)
	if err != nil {
		return engine.Params{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	p := engine.Params{Text: txt}

	switch req.Mode {
	case ModeCreate:
		if req.Reference != nil || text.Clean(req.PromptText) != "" {
			return engine.Params{}, fmt.Errorf("%w: voice create takes no reference audio", ErrInvalidRequest)
		}
		if req.Gender == "" {
			return engine.Params{}, fmt.Errorf("%w: voice create requires a gender", ErrInvalidRequest)
		}
		g, err := levels.ParseGender(req.Gender)
		if err != nil {
			return engine.Params{}, err
		}
		p.Gender = g
	case ModeClone:
		if req.Reference == nil {
			return engine.Params{}, fmt.Errorf("%w: voice clone requires prompt audio", ErrInvalidRequest)
		}
		if req.Gender != "" {
			return engine.Params{}, fmt.Errorf("%w: voice clone takes no gender", ErrInvalidRequest)
		}
		p.PromptText = text.Clean(req.PromptText)
	default:
		return engine.Params{}, fmt.Errorf("%w: unknown mode %s", ErrInvalidRequest, req.Mode)
	}

	if p.Pitch, err = levels.Resolve(req.PitchLevel); err != nil {
		return engine.Params{}, fmt.Errorf("pitch: %w", err)
	}
	if p.Speed, err = levels.Resolve(req.SpeedLevel); err != nil {
		return engine.Params{}, fmt.Errorf("speed: %w", err)
	}

	return p, nil
}

func (s *Service) infer(ctx context.Context, p engine.Params) (*engine.Output, error) {
	var (
		out  *engine.Output
		held time.Duration
	)

	detached := context.WithoutCancel(ctx)

	wait, err := s.gate.Do(func() error {
		start := time.Now()
		defer func() { held = time.Since(start) }()

		var err error
		out, err = s.engine.Synthesize(detached, p)

		return err
	})
	s.metrics.ObserveGate(ctx, wait, held, errors.Is(err, ErrBusy))

	s.log.Debug("inference finished",
		slog.Bool("clone", p.Clone()),
		slog.Int64("gate_wait_ms", wait.Milliseconds()),
		slog.Int64("inference_ms", held.Milliseconds()),
	)

	return out, err
}

func (s *Service) logInvalidOutput(ctx context.Context, req Request, err error) {
	s.log.ErrorContext(ctx, "inference output invalid",
		slog.String("mode", req.Mode.String()),
		slog.String("text", req.Text),
		slog.String("error", err.Error()),
	)
}

func validateOutput(out *engine.Output) error {
	if out == nil {
		return errors.New("engine returned no output")
	}
	if out.SampleRate != audio.SampleRate {
		return fmt.Errorf("sample rate %d, want %d", out.SampleRate, audio.SampleRate)
	}

	return audio.CheckSamples(out.Samples)
}

func normalizePath(n *normalize.NormalizedAudio) string {
	switch {
	case n.Transcoded:
		return "transcoded"
	case n.Resampled:
		return "resampled"
	default:
		return "passthrough"
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidParameter):
		return "invalid_request"
	case errors.Is(err, ErrNormalizationFailed):
		return "normalization_failed"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrInferenceOutputInvalid):
		return "output_invalid"
	default:
		return "error"
	}
}
