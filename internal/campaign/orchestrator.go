// Package campaign runs long-lived parallel fuzzing campaigns against a
// validated harness. One master and N-1 secondary afl-fuzz workers share a
// sync directory; the campaign directory on disk is the sole source of
// truth, so stopping and resuming is just pointing a new process at it.
package campaign

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cifuzz/internal/afl"
	"cifuzz/internal/types"
	"cifuzz/pkg/watchdog"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const masterName = "main"

type Config struct {
	Dir           string
	HarnessBinary string
	Workers       int
	Duration      time.Duration // zero means run until stopped
	DictPath      string
	FuzzerBin     string
	ExecTimeout   time.Duration
	ShutdownGrace time.Duration
	StatsInterval time.Duration
	Resume        bool
}

type Orchestrator struct {
	cfg    Config
	layout Layout
	meta   Meta
	triage *Triage
	logger *zap.Logger

	workers []*afl.Worker
	wg      sync.WaitGroup

	mu       sync.Mutex
	stopping bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New prepares a fresh campaign directory or reattaches to an existing one
// when cfg.Resume is set. It does not start any workers.
func New(cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if _, err := os.Stat(cfg.HarnessBinary); err != nil {
		return nil, fmt.Errorf("harness binary: %w", err)
	}
	layout := Layout{Dir: cfg.Dir}

	var meta Meta
	if cfg.Resume {
		var err error
		meta, err = readMeta(layout)
		if err != nil {
			return nil, err
		}
		if cfg.Workers <= 0 {
			cfg.Workers = meta.Workers
		}
		meta.Workers = cfg.Workers
		meta.Resumes++
	} else {
		if _, err := os.Stat(layout.MetaFile()); err == nil {
			return nil, fmt.Errorf("campaign directory %s already exists, use resume", cfg.Dir)
		}
		if cfg.Workers <= 0 {
			cfg.Workers = 1
		}
		meta = Meta{
			ID:        uuid.NewString(),
			Harness:   cfg.HarnessBinary,
			Workers:   cfg.Workers,
			CreatedAt: time.Now().UTC(),
		}
	}

	if err := layout.create(); err != nil {
		return nil, err
	}
	if err := writeMeta(layout, meta); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:    cfg,
		layout: layout,
		meta:   meta,
		triage: NewTriage(cfg.HarnessBinary, layout, cfg.ExecTimeout, logger),
		logger: logger.Named("campaign").With(zap.String("campaign", meta.ID)),
		done:   make(chan struct{}),
	}
	if cfg.Resume {
		if err := o.triage.Load(); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Start spawns the workers, the finding watchers and the stats loop. It
// returns once everything is running; use Wait to block until the campaign
// ends.
func (o *Orchestrator) Start(ctx context.Context) error {
	if empty, err := dirEmpty(o.layout.CorpusDir()); err != nil {
		return err
	} else if empty {
		if err := afl.SeedCorpus(o.layout.CorpusDir()); err != nil {
			return fmt.Errorf("seed corpus: %w", err)
		}
		o.logger.Info("wrote default seed corpus", zap.String("dir", o.layout.CorpusDir()))
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.workers = make([]*afl.Worker, o.cfg.Workers)
	for i := range o.workers {
		o.workers[i] = o.newWorker(i)
	}
	for i, worker := range o.workers {
		o.wg.Add(1)
		go o.supervise(runCtx, i, worker)
	}

	if err := o.watchFindings(runCtx); err != nil {
		cancel()
		return err
	}
	go o.statsLoop(runCtx)

	if o.cfg.Duration > 0 {
		go func() {
			select {
			case <-time.After(o.cfg.Duration):
				o.logger.Info("campaign duration reached",
					zap.Duration("duration", o.cfg.Duration))
				o.Stop()
			case <-runCtx.Done():
			}
		}()
	}

	go func() {
		o.wg.Wait()
		o.finish()
	}()

	o.logger.Info("campaign started",
		zap.Int("workers", o.cfg.Workers),
		zap.String("harness", o.cfg.HarnessBinary),
		zap.Int("resumes", o.meta.Resumes))
	return nil
}

func (o *Orchestrator) newWorker(index int) *afl.Worker {
	name := masterName
	mode := afl.WorkerMaster
	if index > 0 {
		name = fmt.Sprintf("worker_%02d", index)
		mode = afl.WorkerSecondary
	}
	return (&afl.Worker{
		Name:        name,
		Mode:        mode,
		FuzzerBin:   o.cfg.FuzzerBin,
		InputDir:    o.layout.CorpusDir(),
		OutputDir:   o.layout.SyncDir(),
		Harness:     o.cfg.HarnessBinary,
		ExecTimeout: o.cfg.ExecTimeout,
		DictPath:    o.cfg.DictPath,
		Resume:      o.cfg.Resume,
	}).WithLogger(o.logger)
}

// supervise keeps one worker slot occupied. A worker that dies while the
// campaign is live is respawned against the same sync state.
func (o *Orchestrator) supervise(ctx context.Context, index int, worker *afl.Worker) {
	defer o.wg.Done()
	for {
		err := worker.Run(ctx, 0)
		if ctx.Err() != nil || o.isStopping() {
			return
		}
		o.logger.Warn("worker exited, respawning",
			zap.String("worker", worker.Name), zap.Error(err))

		// The fuzzer refuses a non-empty output dir unless told to
		// resume, so every respawn reattaches to the previous state.
		worker = o.newWorker(index)
		worker.Resume = true
		o.mu.Lock()
		o.workers[index] = worker
		o.mu.Unlock()

		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return
		}
	}
}

// watchFindings wires fsnotify watchers over each worker's crashes and
// hangs directories. Those directories only exist once afl-fuzz has set
// itself up, so a polling goroutine registers them as they appear.
func (o *Orchestrator) watchFindings(ctx context.Context) error {
	isFinding := func(path string) bool {
		return strings.HasPrefix(filepath.Base(path), "id:")
	}

	crashCh := make(chan string, 64)
	crashDog, err := watchdog.New(ctx, o.logger.Named("crash-watch"), crashCh, isFinding)
	if err != nil {
		return err
	}
	hangCh := make(chan string, 64)
	hangDog, err := watchdog.New(ctx, o.logger.Named("hang-watch"), hangCh, isFinding)
	if err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		watched := make(map[string]bool)
		register := func() {
			for _, kind := range []struct {
				dog  *watchdog.WatchDog
				name string
			}{{crashDog, "crashes"}, {hangDog, "hangs"}} {
				dirs, _ := filepath.Glob(filepath.Join(o.layout.SyncDir(), "*", kind.name))
				for _, dir := range dirs {
					if watched[dir] {
						continue
					}
					kind.dog.AddDir(dir)
					watched[dir] = true
				}
			}
		}
		register()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				register()
			}
		}
	}()

	go func() {
		for path := range crashCh {
			o.triage.HandleCrash(ctx, path)
		}
	}()
	go func() {
		for path := range hangCh {
			o.triage.HandleHang(path)
		}
	}()
	return nil
}

func (o *Orchestrator) statsLoop(ctx context.Context) {
	interval := o.cfg.StatsInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := o.Status()
			o.writeStats(stats)
			o.logger.Info("campaign stats",
				zap.Float64("execs_per_sec", stats.ExecsPerSec),
				zap.Int64("total_execs", stats.TotalExecs),
				zap.Int("corpus", stats.CorpusCount),
				zap.Int("crashes", stats.Crashes),
				zap.Int("unique_bugs", stats.UniqueBugs),
				zap.Int("hangs", stats.Hangs))
		}
	}
}

// Status aggregates the per-worker fuzzer_stats files with the triage
// counters. Execution rates add up across workers; corpus count is the
// maximum, since workers sync test cases between each other.
func (o *Orchestrator) Status() types.CampaignStats {
	stats := types.CampaignStats{Workers: o.cfg.Workers}
	paths, _ := filepath.Glob(filepath.Join(o.layout.SyncDir(), "*", "fuzzer_stats"))
	for _, path := range paths {
		s, err := afl.ReadStats(path)
		if err != nil {
			continue
		}
		stats.ExecsPerSec += s.ExecsPerSec
		stats.TotalExecs += s.ExecsDone
		if s.CorpusCount > stats.CorpusCount {
			stats.CorpusCount = s.CorpusCount
		}
	}
	stats.Crashes, stats.UniqueBugs, stats.Hangs = o.triage.Counts()
	return stats
}

func (o *Orchestrator) writeStats(stats types.CampaignStats) {
	data, err := yaml.Marshal(stats)
	if err != nil {
		o.logger.Error("failed to marshal stats", zap.Error(err))
		return
	}
	if err := os.WriteFile(o.layout.StatsFile(), data, 0644); err != nil {
		o.logger.Error("failed to write stats file", zap.Error(err))
	}
}

// Stop ends the campaign gracefully: each worker gets a SIGINT so the
// fuzzer checkpoints its queue, and only workers still alive after the
// grace period are killed. The campaign directory is left intact for a
// later resume.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopping {
		o.mu.Unlock()
		return
	}
	o.stopping = true
	workers := make([]*afl.Worker, len(o.workers))
	copy(workers, o.workers)
	o.mu.Unlock()

	o.logger.Info("stopping campaign",
		zap.Duration("grace", o.cfg.ShutdownGrace))
	for _, worker := range workers {
		worker.Interrupt()
	}

	exited := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(exited)
	}()

	grace := o.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	select {
	case <-exited:
	case <-time.After(grace):
		o.logger.Warn("grace period expired, killing workers")
		for _, worker := range workers {
			worker.Kill()
		}
		<-exited
	}
}

// Wait blocks until every worker has exited and final state is flushed.
func (o *Orchestrator) Wait() {
	<-o.done
}

func (o *Orchestrator) isStopping() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopping
}

// finish runs exactly once, after the last worker has exited.
func (o *Orchestrator) finish() {
	o.writeStats(o.Status())
	if o.cancel != nil {
		o.cancel()
	}
	crashes, unique, hangs := o.triage.Counts()
	o.logger.Info("campaign stopped",
		zap.Int("crashes", crashes),
		zap.Int("unique_bugs", unique),
		zap.Int("hangs", hangs),
		zap.String("dir", o.layout.Dir))
	close(o.done)
}

// Records exposes the deduplicated crash records for reporting.
func (o *Orchestrator) Records() []types.CrashRecord {
	return o.triage.Records()
}

func dirEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
