package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cifuzz/config"
	"cifuzz/internal/campaign"
	"cifuzz/pkg/logger"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

type options struct {
	Harness  string
	Dir      string
	Workers  int
	Duration time.Duration
	Dict     string
	Resume   bool
}

func NewAppContext(lc fx.Lifecycle) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
	return ctx
}

// runCampaign owns the campaign lifecycle: start the orchestrator, turn
// the first SIGINT/SIGTERM into a graceful Stop, and shut the app down
// once every worker has checkpointed.
func runCampaign(lc fx.Lifecycle, shutdowner fx.Shutdowner, appCtx context.Context, opts options, cfg *config.AppConfig, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			workers := opts.Workers
			if workers <= 0 && !opts.Resume {
				workers = cfg.WorkerCount
			}
			orch, err := campaign.New(campaign.Config{
				Dir:           opts.Dir,
				HarnessBinary: opts.Harness,
				Workers:       workers,
				Duration:      opts.Duration,
				DictPath:      opts.Dict,
				FuzzerBin:     cfg.FuzzerBin,
				ExecTimeout:   cfg.ExecTimeout,
				ShutdownGrace: cfg.ShutdownGrace,
				StatsInterval: cfg.StatsInterval,
				Resume:        opts.Resume,
			}, log)
			if err != nil {
				return err
			}
			if err := orch.Start(appCtx); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				select {
				case sig := <-sigCh:
					log.Info("signal received, stopping campaign",
						zap.String("signal", sig.String()))
					orch.Stop()
				case <-appCtx.Done():
				}
			}()

			go func() {
				orch.Wait()
				printFindings(orch)
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
	})
}

func printFindings(orch *campaign.Orchestrator) {
	records := orch.Records()
	stats := orch.Status()
	fmt.Printf("campaign finished: %d total execs, %d corpus entries, %d crashes (%d unique), %d hangs\n",
		stats.TotalExecs, stats.CorpusCount, stats.Crashes, stats.UniqueBugs, stats.Hangs)
	for _, rec := range records {
		fmt.Printf("  %s  x%d  %s\n", rec.Signature, rec.Count, rec.InputPath)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "cifuzz-campaign <harness-binary>",
		Short: "Run a resumable parallel fuzzing campaign for a validated harness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			opts.Harness = args[0]
			app := fx.New(
				fx.Supply(opts),
				fx.Provide(
					NewAppContext,     // inject app context
					config.LoadConfig, // inject config
					logger.NewLogger,  // inject logger
				),
				fx.Invoke(runCampaign),
				fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
					return &fxevent.ZapLogger{Logger: log}
				}),
			)
			app.Run()
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "campaign", "campaign directory (source of truth for resume)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "parallel fuzzer workers (0 uses WORKER_COUNT)")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().StringVar(&opts.Dict, "dict", "", "afl dictionary file, e.g. the one a pipeline run produced")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "resume the campaign already in --dir")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
