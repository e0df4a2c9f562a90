// Package validate compiles candidate harnesses against the instrumented
// library build, feeding compiler diagnostics back into regeneration.
package validate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cifuzz/internal/build"
	"cifuzz/internal/synth"
	"cifuzz/internal/types"

	"go.uber.org/zap"
)

// The per-harness build loop is an explicit state machine: termination is
// bounded by the attempt counter and the full history stays inspectable.
type state int

const (
	statePending state = iota
	stateCompiling
	stateCompiled
	stateFailed
)

type Validator struct {
	compiler    build.Compiler
	synthesizer *synth.Synthesizer
	maxAttempts int
	logger      *zap.Logger
}

func NewValidator(compiler build.Compiler, synthesizer *synth.Synthesizer, maxAttempts int, logger *zap.Logger) *Validator {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Validator{
		compiler:    compiler,
		synthesizer: synthesizer,
		maxAttempts: maxAttempts,
		logger:      logger.Named("validate"),
	}
}

// Validate drives one harness through Pending -> Compiling ->
// {Compiled|Failed}, requesting regeneration with the failure diagnostics
// attached until the attempt bound is hit. On success the harness is
// Compiled with its binary path set; on exhaustion it is Abandoned with
// the complete attempt history. Attempts are strictly sequential: each
// regeneration depends on the previous diagnostic.
func (v *Validator) Validate(ctx context.Context, h *types.Harness, req synth.Request, bctx build.Context, outDir string) error {
	logger := v.logger.With(
		zap.String("harness", h.ID),
		zap.String("entry_point", h.EntryPoint.Symbol.Name),
	)

	st := statePending
	for {
		if err := ctx.Err(); err != nil {
			// External interrupt: abandon this attempt cleanly,
			// already-validated siblings are untouched.
			return err
		}

		switch st {
		case statePending:
			if err := v.writeSource(h, outDir); err != nil {
				return fmt.Errorf("write harness source: %w", err)
			}
			st = stateCompiling

		case stateCompiling:
			result := v.compiler.Compile(ctx, h.SourcePath, bctx)
			h.Attempts = append(h.Attempts, types.BuildAttempt{
				Index:       len(h.Attempts) + 1,
				Diagnostics: result.Diagnostics,
				Success:     result.Success,
			})
			if result.Success {
				h.BinaryPath = result.BinaryPath
				st = stateCompiled
			} else {
				logger.Warn("compilation failed",
					zap.Int("attempt", len(h.Attempts)),
					zap.String("diagnostics", result.Diagnostics))
				st = stateFailed
			}

		case stateCompiled:
			h.Status = types.HarnessCompiled
			logger.Info("harness compiled",
				zap.Int("attempts", len(h.Attempts)),
				zap.String("binary", h.BinaryPath))
			return nil

		case stateFailed:
			if len(h.Attempts) >= v.maxAttempts {
				h.Status = types.HarnessAbandoned
				logger.Warn("harness abandoned after max build attempts",
					zap.Int("attempts", len(h.Attempts)))
				return nil
			}
			req.PrevDiagnostics = h.LastAttempt().Diagnostics
			src, generator, err := v.synthesizer.Source(ctx, req)
			if err != nil {
				h.Status = types.HarnessAbandoned
				return err
			}
			h.Source = src
			h.Generator = generator
			st = statePending
		}
	}
}

func (v *Validator) writeSource(h *types.Harness, outDir string) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	h.SourcePath = filepath.Join(outDir, "harness_"+h.EntryPoint.Symbol.Name+".c")
	return os.WriteFile(h.SourcePath, []byte(h.Source), 0644)
}
