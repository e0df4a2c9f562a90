// Package pipeline wires the per-commit stages together: build the
// library at the commit, extract the changed functions, discover public
// entry points, then synthesize, compile and smoke-test one harness per
// entry point.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cifuzz/config"
	"cifuzz/internal/build"
	"cifuzz/internal/dict"
	"cifuzz/internal/diff"
	"cifuzz/internal/discovery"
	"cifuzz/internal/smoke"
	"cifuzz/internal/synth"
	"cifuzz/internal/types"
	"cifuzz/internal/validate"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome is the terminal record for one entry point: the harness with its
// full attempt history, or the error that prevented one from existing.
// Detail carries the smoke evidence when the harness failed there.
type Outcome struct {
	EntryPoint types.EntryPoint
	Harness    *types.Harness
	Detail     string
	Err        error
}

// Report is everything a pipeline run learned about a commit.
type Report struct {
	Library  string
	Commit   string
	Changed  []types.ChangedFunction
	Gaps     []discovery.Gap
	Outcomes []Outcome
	WorkDir  string
	DictPath string
}

// Validated returns the harnesses that survived compilation and smoke
// testing, ready for campaigns.
func (r *Report) Validated() []*types.Harness {
	var out []*types.Harness
	for _, o := range r.Outcomes {
		if o.Harness != nil && o.Harness.Status == types.HarnessValidated {
			out = append(out, o.Harness)
		}
	}
	return out
}

// Summary renders the human-readable run report.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "library %s @ %s\n", r.Library, r.Commit)
	fmt.Fprintf(&b, "  changed functions: %d\n", len(r.Changed))
	for _, fn := range r.Changed {
		fmt.Fprintf(&b, "    %s (%s)\n", fn.Name, fn.File)
	}
	if len(r.Gaps) > 0 {
		fmt.Fprintf(&b, "  unreachable from public API:\n")
		for _, gap := range r.Gaps {
			fmt.Fprintf(&b, "    %s (%s): %s\n",
				gap.Function.Name, gap.Function.File, gap.Reason)
		}
	}
	if r.DictPath != "" {
		fmt.Fprintf(&b, "  dictionary: %s\n", r.DictPath)
	}
	fmt.Fprintf(&b, "  harnesses: %d validated / %d entry points\n",
		len(r.Validated()), len(r.Outcomes))
	for _, o := range r.Outcomes {
		switch {
		case o.Err != nil:
			fmt.Fprintf(&b, "    %-30s error: %v\n", o.EntryPoint.Symbol.Name, o.Err)
		case o.Harness != nil:
			line := fmt.Sprintf("    %-30s %s (%s, %d attempts",
				o.EntryPoint.Symbol.Name, o.Harness.Status,
				o.Harness.Generator, len(o.Harness.Attempts))
			if o.Harness.Status == types.HarnessValidated {
				line += ", binary " + o.Harness.BinaryPath
			}
			b.WriteString(line + ")\n")
			if o.Detail != "" {
				fmt.Fprintf(&b, "      evidence: %s\n", o.Detail)
			}
			if o.Harness.Status == types.HarnessAbandoned {
				if last := o.Harness.LastAttempt(); last != nil && last.Diagnostics != "" {
					fmt.Fprintf(&b, "      last diagnostics: %s\n",
						indentTrailing(last.Diagnostics))
				}
			}
		}
	}
	return b.String()
}

type Pipeline struct {
	cfg         *config.AppConfig
	adapter     *build.Adapter
	synthesizer *synth.Synthesizer
	validator   *validate.Validator
	tester      *smoke.Tester
	logger      *zap.Logger
}

// New assembles the production pipeline from the configured toolchain.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Pipeline, error) {
	var backend synth.SourceGenerator
	if cfg.GeminiAPIKey != "" {
		gemini, err := synth.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("generation backend: %w", err)
		}
		backend = gemini
		logger.Info("generation backend enabled", zap.String("model", cfg.GeminiModel))
	} else {
		logger.Info("no generation backend configured, using offline template")
	}

	synthesizer := synth.NewSynthesizer(backend, logger)
	compiler := build.NewCCompiler(cfg.CC, logger)
	runner := &smoke.FuzzerRunner{
		FuzzerBin:   cfg.FuzzerBin,
		ExecTimeout: cfg.ExecTimeout,
		Logger:      logger,
	}
	return &Pipeline{
		cfg:         cfg,
		adapter:     build.NewAdapter(cfg.BuildAdapter, logger),
		synthesizer: synthesizer,
		validator:   validate.NewValidator(compiler, synthesizer, cfg.MaxBuildAttempts, logger),
		tester:      smoke.NewTester(runner, cfg.SmokeBudget, logger),
		logger:      logger.Named("pipeline"),
	}, nil
}

// Run executes the full pipeline for one library at one commit. Stage
// failures that affect the whole run (build, diff) return an error;
// per-entry-point failures are recorded in the report and never abort
// sibling harnesses.
func (p *Pipeline) Run(ctx context.Context, library, commit string) (*Report, error) {
	workDir := filepath.Join(p.cfg.WorkDir, fmt.Sprintf("%s_%s", library, shortCommit(commit)))
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, err
	}
	report := &Report{Library: library, Commit: commit, WorkDir: workDir}

	bctx, err := p.adapter.Build(ctx, library, commit, filepath.Join(workDir, "build"))
	if err != nil {
		return nil, err
	}

	// A token dictionary for the library, reusable by every campaign on
	// the harnesses this run produces. Failure to build one is not worth
	// aborting the run over.
	dictPath := filepath.Join(workDir, library+".dict")
	if n, err := dict.NewBuilder(p.logger).FromSources(bctx.SrcDir, dictPath); err != nil {
		p.logger.Warn("dictionary extraction failed", zap.Error(err))
	} else if n > 0 {
		report.DictPath = dictPath
	}

	repoDir := filepath.Join(p.cfg.LibsDir, library)
	changed, err := diff.NewAnalyzer(repoDir, p.logger).ChangedFunctions(ctx, commit)
	if err != nil {
		return nil, err
	}
	report.Changed = changed
	if len(changed) == 0 {
		p.logger.Info("no code-level function changes in commit",
			zap.String("library", library), zap.String("commit", commit))
		return report, nil
	}

	source := discovery.NewBuildSymbolSource(bctx.Dir, p.logger)
	symbols, err := source.PublicSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("public symbols: %w", err)
	}
	edges, err := source.CallGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("call graph: %w", err)
	}

	discoverer := discovery.NewDiscoverer(discovery.Config{
		SearchDepth:    p.cfg.SearchDepth,
		MaxEntryPoints: p.cfg.MaxEntryPoints,
	}, p.logger)
	result := discoverer.Discover(changed, symbols, edges)
	report.Gaps = result.Gaps

	report.Outcomes = p.buildHarnesses(ctx, result.EntryPoints, bctx, workDir)
	return report, nil
}

// buildHarnesses fans the entry points out over a bounded worker group.
// Entry points are independent; one abandoned harness never blocks the
// rest.
func (p *Pipeline) buildHarnesses(ctx context.Context, eps []types.EntryPoint, bctx build.Context, workDir string) []Outcome {
	outcomes := make([]Outcome, len(eps))
	harnessDir := filepath.Join(workDir, "harnesses")

	g, gctx := errgroup.WithContext(ctx)
	limit := p.cfg.Parallelism
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, ep := range eps {
		g.Go(func() error {
			outcomes[i] = p.buildOne(gctx, ep, bctx, workDir, harnessDir)
			return nil
		})
	}
	g.Wait()
	return outcomes
}

func (p *Pipeline) buildOne(ctx context.Context, ep types.EntryPoint, bctx build.Context, workDir, harnessDir string) Outcome {
	logger := p.logger.With(zap.String("entry_point", ep.Symbol.Name))
	req := synth.Request{
		EntryPoint:    ep,
		HeaderInclude: headerInclude(ep.Symbol, bctx),
	}

	h, err := p.synthesizer.NewHarness(ctx, req)
	if err != nil {
		logger.Warn("harness generation failed", zap.Error(err))
		return Outcome{EntryPoint: ep, Err: err}
	}

	if err := p.validator.Validate(ctx, h, req, bctx, harnessDir); err != nil {
		logger.Warn("harness validation failed", zap.Error(err))
		return Outcome{EntryPoint: ep, Harness: h, Err: err}
	}
	if h.Status != types.HarnessCompiled {
		return Outcome{EntryPoint: ep, Harness: h}
	}

	result, err := p.tester.Test(ctx, h, workDir)
	if err != nil {
		logger.Warn("smoke test did not run", zap.Error(err))
		return Outcome{EntryPoint: ep, Harness: h, Err: err}
	}
	return Outcome{EntryPoint: ep, Harness: h, Detail: result.Detail}
}

// headerInclude maps the symbol's declaring header to the path a harness
// would #include, relative to the build's include dir. Symbols known only
// from the symbol table have no header and get an extern declaration
// instead.
func headerInclude(sym types.PublicSymbol, bctx build.Context) string {
	if sym.File == "" {
		return ""
	}
	rel, err := filepath.Rel(bctx.IncludeDir, sym.File)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(sym.File)
	}
	return rel
}

// indentTrailing keeps multi-line compiler output aligned under its
// report label.
func indentTrailing(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n        ")
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
