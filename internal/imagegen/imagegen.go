// Package imagegen submits prompts to a prediction backend, waits for the
// prediction to finish and turns its output into image URLs or bytes.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fulmine-labs/sparks/internal/poll"
)

var (
	ErrNotConfigured    = errors.New("image generation not configured")
	ErrUnknownModel     = errors.New("unknown model")
	ErrGenerationFailed = errors.New("image generation failed")
	ErrTimeout          = errors.New("image generation timed out")
)

const (
	DefaultNumOutputs        = 1
	DefaultGuidanceScale     = 7.5
	DefaultNumInferenceSteps = 50

	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 10 * time.Minute
)

type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

type Prediction struct {
	ID     string
	Status Status
	Output []string
	Error  string
}

// Backend is a remote prediction API.
type Backend interface {
	Submit(ctx context.Context, modelRef string, input map[string]any) (*Prediction, error)
	Get(ctx context.Context, id string) (*Prediction, error)
}

type Params struct {
	Prompt            string
	NumOutputs        int
	GuidanceScale     float64
	NumInferenceSteps int
}

func (p Params) withDefaults() Params {
	if p.NumOutputs <= 0 {
		p.NumOutputs = DefaultNumOutputs
	}
	if p.GuidanceScale <= 0 {
		p.GuidanceScale = DefaultGuidanceScale
	}
	if p.NumInferenceSteps <= 0 {
		p.NumInferenceSteps = DefaultNumInferenceSteps
	}
	return p
}

func (p Params) input() map[string]any {
	return map[string]any{
		"prompt":              p.Prompt,
		"num_outputs":         p.NumOutputs,
		"guidance_scale":      p.GuidanceScale,
		"num_inference_steps": p.NumInferenceSteps,
	}
}

type Generator struct {
	backend Backend
	policy  poll.Policy
}

// New returns a Generator. A nil backend yields a Generator whose calls
// fail with ErrNotConfigured.
func New(backend Backend, policy poll.Policy) *Generator {
	if policy.Interval <= 0 {
		policy.Interval = DefaultPollInterval
	}
	if policy.Timeout <= 0 && policy.MaxAttempts <= 0 {
		policy.Timeout = DefaultTimeout
	}
	return &Generator{
		backend: backend,
		policy:  policy,
	}
}

func (g *Generator) Configured() bool {
	return g.backend != nil
}

// Generate runs one prediction to completion and returns its output URLs.
func (g *Generator) Generate(ctx context.Context, model Model, p Params) ([]string, error) {
	if g.backend == nil {
		return nil, ErrNotConfigured
	}
	p = p.withDefaults()

	log.Printf("imagegen: generating with %v: %q", model.Name, p.Prompt)

	pred, err := g.backend.Submit(ctx, model.Version, p.input())
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	err = poll.Until(ctx, g.policy, func(ctx context.Context) (bool, error) {
		if pred.Status.Terminal() {
			return true, nil
		}
		next, err := g.backend.Get(ctx, pred.ID)
		if err != nil {
			return false, fmt.Errorf("get prediction %v: %w", pred.ID, err)
		}
		pred = next
		return pred.Status.Terminal(), nil
	})
	if err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			return nil, fmt.Errorf("%w: prediction %v", ErrTimeout, pred.ID)
		}
		return nil, err
	}

	switch pred.Status {
	case StatusSucceeded:
		if len(pred.Output) == 0 {
			return nil, fmt.Errorf("%w: prediction %v returned no output", ErrGenerationFailed, pred.ID)
		}
		log.Printf("imagegen: prediction %v produced %d image(s)", pred.ID, len(pred.Output))
		return pred.Output, nil
	default:
		msg := pred.Error
		if msg == "" {
			msg = string(pred.Status)
		}
		return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, msg)
	}
}
