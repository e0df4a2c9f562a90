// Package afl drives afl-fuzz worker processes and reads their on-disk
// state. Both the smoke tester and the campaign orchestrator build on it.
package afl

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type WorkerMode int

const (
	// WorkerSolo runs a single instance writing to <out>/default.
	WorkerSolo WorkerMode = iota
	// WorkerMaster is the -M instance of a parallel campaign.
	WorkerMaster
	// WorkerSecondary is a -S instance syncing against the master.
	WorkerSecondary
)

// Worker is one afl-fuzz process. Workers cooperating on a campaign share
// the output dir; the fuzzer's own sync convention is the only
// synchronization between them.
type Worker struct {
	Name        string
	Mode        WorkerMode
	FuzzerBin   string
	InputDir    string // -i
	OutputDir   string // -o
	Harness     string
	ExecTimeout time.Duration // per-execution timeout (-t)
	MaxRuntime  time.Duration // -V; zero means unbounded
	DictPath    string        // -x, optional token dictionary
	SkipDet     bool          // -d, used by short smoke runs
	Resume      bool          // AFL_AUTORESUME, reattach to existing state
	ExtraEnv    []string

	logger *zap.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

func (w *Worker) WithLogger(logger *zap.Logger) *Worker {
	w.logger = logger.With(zap.String("worker", w.Name))
	return w
}

// Run launches afl-fuzz and blocks until it exits, the graceful timeout
// elapses (SIGINT, then wait), or ctx is cancelled (SIGKILL through
// CommandContext). The process never outlives this call.
func (w *Worker) Run(ctx context.Context, gracefulAfter time.Duration) error {
	cmd := exec.CommandContext(ctx, w.FuzzerBin, w.buildArgs()...)
	cmd.Env = append(os.Environ(), w.buildEnv()...)

	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", w.FuzzerBin, err)
	}
	w.mu.Lock()
	w.cmd = cmd
	w.mu.Unlock()
	w.logger.Info("worker started",
		zap.String("command", cmd.String()),
		zap.Int("pid", cmd.Process.Pid))
	go func() {
		done <- cmd.Wait()
	}()

	if gracefulAfter <= 0 {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	timer := time.NewTimer(gracefulAfter)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		// Budget reached: ask for a graceful checkpoint.
		_ = cmd.Process.Signal(syscall.SIGINT)
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interrupt asks a running worker to checkpoint and exit. No-op when the
// worker has not started or already exited.
func (w *Worker) Interrupt() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Signal(syscall.SIGINT)
	}
}

// Kill forcibly terminates the worker process.
func (w *Worker) Kill() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}

func (w *Worker) buildArgs() []string {
	args := []string{"-i", w.InputDir, "-o", w.OutputDir}

	switch w.Mode {
	case WorkerMaster:
		args = append(args, "-M", w.Name)
	case WorkerSecondary:
		args = append(args, "-S", w.Name)
	}

	timeout := w.ExecTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	// The trailing + lets the fuzzer skip over persistently slow inputs
	// instead of bailing out.
	args = append(args, "-t", fmt.Sprintf("%d+", timeout.Milliseconds()))

	if w.MaxRuntime > 0 {
		args = append(args, "-V", fmt.Sprintf("%d", int(w.MaxRuntime.Seconds())))
	}
	if w.DictPath != "" {
		args = append(args, "-x", w.DictPath)
	}
	if w.SkipDet {
		args = append(args, "-d")
	}

	args = append(args, "--", w.Harness)
	return args
}

func (w *Worker) buildEnv() []string {
	env := []string{
		"AFL_NO_UI=1",
		"AFL_I_DONT_CARE_ABOUT_MISSING_CRASHES=1",
		"AFL_SKIP_CPUFREQ=1",
		"AFL_TRY_AFFINITY=1",
		"AFL_FAST_CAL=1",
		"AFL_FORKSRV_INIT_TMOUT=30000",
		"AFL_IGNORE_PROBLEMS=1",
		"AFL_IGNORE_SEED_PROBLEMS=1", // skip crashing seeds instead of exiting
		"AFL_IGNORE_UNKNOWN_ENVS=1",
	}
	if w.Mode == WorkerMaster {
		// Final import of test cases on termination, so the master
		// queue alone is a complete corpus.
		env = append(env, "AFL_FINAL_SYNC=1")
	}
	if w.Resume {
		env = append(env, "AFL_AUTORESUME=1")
	}
	return append(env, w.ExtraEnv...)
}

// StatsPath locates the worker's fuzzer_stats file under the shared
// output dir.
func (w *Worker) StatsPath() string {
	name := w.Name
	if w.Mode == WorkerSolo {
		name = "default"
	}
	return StatsPath(w.OutputDir, name)
}
