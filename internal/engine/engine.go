// Package engine adapts speech models to a single synthesis call and
// serializes access to them through a Gate.
package engine

import (
	"context"
	"errors"

	"github.com/example/spark-tts-server/internal/levels"
)

var (
	// ErrInference reports that the model run itself failed.
	ErrInference = errors.New("inference failed")
	// ErrOutputInvalid reports that the model returned something that is not
	// usable audio.
	ErrOutputInvalid = errors.New("inference output invalid")
)

// Params is one synthesis call. Gender is empty in clone mode, where
// PromptSpeechPath names a canonical WAV reference.
type Params struct {
	Text             string
	PromptSpeechPath string
	PromptText       string
	Gender           levels.Gender
	Pitch            levels.Value
	Speed            levels.Value
}

// Clone reports whether p conditions on reference audio.
func (p Params) Clone() bool {
	return p.PromptSpeechPath != ""
}

// Output holds mono samples in [-1, 1].
type Output struct {
	Samples    []float32
	SampleRate int
}

// Engine is a loaded model. Implementations need not be safe for concurrent
// use; callers serialize through a Gate.
type Engine interface {
	Synthesize(ctx context.Context, p Params) (*Output, error)
	Close() error
}
