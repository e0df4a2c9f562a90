// Package synth produces harness source text for discovered entry points,
// either through the generative backend or an offline deterministic
// template.
package synth

import (
	"context"

	"cifuzz/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Request carries everything a generation strategy needs for one harness.
type Request struct {
	EntryPoint types.EntryPoint
	// HeaderInclude is the include path of the header declaring the
	// entry point, relative to the build's include dir. May be empty.
	HeaderInclude string
	// PrevDiagnostics is the most recent compiler error text, appended
	// verbatim to the regeneration prompt. Empty on the first attempt.
	PrevDiagnostics string
}

// SourceGenerator is one harness generation strategy.
type SourceGenerator interface {
	Name() string
	HarnessSource(ctx context.Context, req Request) (string, error)
}

// Synthesizer picks between the configured backend and the offline
// template. The backend is optional; without it the template keeps the
// pipeline functional.
type Synthesizer struct {
	backend  SourceGenerator
	fallback SourceGenerator
	logger   *zap.Logger
}

func NewSynthesizer(backend SourceGenerator, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{
		backend:  backend,
		fallback: &TemplateGenerator{},
		logger:   logger.Named("synth"),
	}
}

// Source generates fresh harness source for the request. It fails with a
// GenerationError only when the backend (if any) errors AND the template
// cannot satisfy the entry point's signature shape.
func (s *Synthesizer) Source(ctx context.Context, req Request) (string, string, error) {
	var backendErr error
	if s.backend != nil {
		src, err := s.backend.HarnessSource(ctx, req)
		if err == nil {
			return src, s.backend.Name(), nil
		}
		backendErr = err
		s.logger.Warn("generation backend failed, using offline template",
			zap.String("entry_point", req.EntryPoint.Symbol.Name),
			zap.Error(err))
	}

	src, err := s.fallback.HarnessSource(ctx, req)
	if err != nil {
		return "", "", &types.GenerationError{
			EntryPoint: req.EntryPoint.Symbol.Name,
			Backend:    backendErr,
			Fallback:   err,
		}
	}
	return src, s.fallback.Name(), nil
}

// NewHarness creates an Unvalidated harness with its first source text.
func (s *Synthesizer) NewHarness(ctx context.Context, req Request) (*types.Harness, error) {
	src, generator, err := s.Source(ctx, req)
	if err != nil {
		return nil, err
	}
	return &types.Harness{
		ID:         uuid.New().String(),
		EntryPoint: req.EntryPoint,
		Generator:  generator,
		Source:     src,
		Status:     types.HarnessUnvalidated,
	}, nil
}
