package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cifuzz/config"
	"cifuzz/internal/pipeline"
	"cifuzz/pkg/logger"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// options are the per-run inputs; everything else comes from the
// environment via config.LoadConfig.
type options struct {
	Library string
	Commit  string
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

// runPipeline drives one commit through the pipeline and shuts the app
// down with the outcome. A failed stage (build, diff, discovery) exits
// non-zero; individual harnesses that could not be validated are reported
// but do not fail the run.
func runPipeline(lc fx.Lifecycle, shutdowner fx.Shutdowner, appCtx context.Context, opts options, cfg *config.AppConfig, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ctx, stop := signal.NotifyContext(appCtx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				code := 0
				p, err := pipeline.New(ctx, cfg, log)
				if err != nil {
					log.Error("pipeline setup failed", zap.Error(err))
					code = 1
				} else {
					report, err := p.Run(ctx, opts.Library, opts.Commit)
					if err != nil {
						log.Error("pipeline run failed",
							zap.String("library", opts.Library),
							zap.String("commit", opts.Commit),
							zap.Error(err))
						code = 1
					} else {
						fmt.Print(report.Summary())
					}
				}
				_ = shutdowner.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
	})
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "cifuzz --library <name> --commit <sha>",
		Short: "Generate and validate fuzzing harnesses for a library commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			app := fx.New(
				fx.Supply(opts),
				fx.Provide(
					NewAppContext,     // inject app context
					config.LoadConfig, // inject config
					logger.NewLogger,  // inject logger
				),
				fx.Invoke(runPipeline),
				fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
					return &fxevent.ZapLogger{Logger: log}
				}),
			)
			app.Run()
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Library, "library", "", "target library name under LIBS_DIR")
	cmd.Flags().StringVar(&opts.Commit, "commit", "", "commit to analyze")
	cmd.MarkFlagRequired("library")
	cmd.MarkFlagRequired("commit")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
