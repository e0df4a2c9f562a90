// Package smoke runs freshly compiled harnesses under the fuzzer for a
// short fixed budget before they are committed to long campaigns.
package smoke

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"cifuzz/internal/afl"
	"cifuzz/internal/types"

	"go.uber.org/zap"
)

// Result is the evidence a smoke run leaves behind.
type Result struct {
	Execs       int64
	CorpusCount int
	Crashes     int
	Hangs       int
	Detail      string
}

// Runner executes one bounded fuzzing run. The real implementation shells
// out to the fuzzer; tests substitute it.
type Runner interface {
	Run(ctx context.Context, binary, seedDir, outDir string, budget time.Duration) (Result, error)
}

type Tester struct {
	runner Runner
	budget time.Duration
	logger *zap.Logger
}

func NewTester(runner Runner, budget time.Duration, logger *zap.Logger) *Tester {
	if budget <= 0 {
		budget = 10 * time.Second
	}
	return &Tester{
		runner: runner,
		budget: budget,
		logger: logger.Named("smoke"),
	}
}

// Test runs a Compiled harness for the configured budget and settles its
// final status. Validated means the harness started, executed generated
// input, crashed and hung zero times, and reached code beyond its own
// entry (zero discovered paths means the target was never exercised and
// fails the harness even without a crash).
func (t *Tester) Test(ctx context.Context, h *types.Harness, workDir string) (Result, error) {
	if h.Status != types.HarnessCompiled {
		return Result{}, fmt.Errorf("harness %s is %s, want %s", h.ID, h.Status, types.HarnessCompiled)
	}

	// Per-harness seed dir: smoke tests run in parallel across entry
	// points, and a shared dir would let one test rewrite seeds while a
	// sibling's fuzzer is reading them.
	seedDir := filepath.Join(workDir, "smoke_seeds", h.EntryPoint.Symbol.Name)
	if err := afl.SeedCorpus(seedDir); err != nil {
		return Result{}, fmt.Errorf("seed corpus: %w", err)
	}
	outDir := filepath.Join(workDir, "smoke_out", h.EntryPoint.Symbol.Name)

	// The budget is enforced, not advisory: the runner gets a deadline
	// slightly past the fuzzer's own -V budget and is killed at it.
	runCtx, cancel := context.WithTimeout(ctx, t.budget+5*time.Second)
	defer cancel()

	result, err := t.runner.Run(runCtx, h.BinaryPath, seedDir, outDir, t.budget)
	if err != nil {
		h.Status = types.HarnessSmokeFailed
		result.Detail = fmt.Sprintf("fuzzer failed to run: %v", err)
		return result, nil
	}

	switch {
	case result.Crashes > 0:
		h.Status = types.HarnessSmokeFailed
		result.Detail = fmt.Sprintf("%d crash(es) within %s", result.Crashes, t.budget)
	case result.Hangs > 0:
		h.Status = types.HarnessSmokeFailed
		result.Detail = fmt.Sprintf("%d hang(s) within %s", result.Hangs, t.budget)
	case result.Execs == 0:
		h.Status = types.HarnessSmokeFailed
		result.Detail = "harness executed no inputs"
	case result.CorpusCount == 0:
		h.Status = types.HarnessSmokeFailed
		result.Detail = "zero coverage: harness never reached the target"
	default:
		h.Status = types.HarnessValidated
	}

	t.logger.Info("smoke test finished",
		zap.String("entry_point", h.EntryPoint.Symbol.Name),
		zap.String("status", string(h.Status)),
		zap.Int64("execs", result.Execs),
		zap.Int("corpus", result.CorpusCount),
		zap.Int("crashes", result.Crashes),
		zap.Int("hangs", result.Hangs))
	return result, nil
}

// FuzzerRunner is the production Runner: one solo afl-fuzz instance with
// deterministic stages skipped, bounded by -V and the context deadline.
type FuzzerRunner struct {
	FuzzerBin   string
	ExecTimeout time.Duration
	Logger      *zap.Logger
}

func (r *FuzzerRunner) Run(ctx context.Context, binary, seedDir, outDir string, budget time.Duration) (Result, error) {
	worker := (&afl.Worker{
		Name:        "smoke",
		Mode:        afl.WorkerSolo,
		FuzzerBin:   r.FuzzerBin,
		InputDir:    seedDir,
		OutputDir:   outDir,
		Harness:     binary,
		ExecTimeout: r.ExecTimeout,
		MaxRuntime:  budget,
		SkipDet:     true,
	}).WithLogger(r.Logger)

	runErr := worker.Run(ctx, 0)

	stats, err := afl.ReadStats(worker.StatsPath())
	if err != nil {
		if runErr != nil {
			return Result{}, fmt.Errorf("fuzzer did not start: %w", runErr)
		}
		return Result{}, fmt.Errorf("read fuzzer stats: %w", err)
	}

	workerDir := filepath.Join(outDir, "default")
	return Result{
		Execs:       stats.ExecsDone,
		CorpusCount: stats.CorpusCount,
		Crashes:     afl.CountFindings(filepath.Join(workerDir, "crashes")),
		Hangs:       afl.CountFindings(filepath.Join(workerDir, "hangs")),
	}, nil
}
