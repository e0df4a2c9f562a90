package campaign

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"cifuzz/internal/types"
	"cifuzz/internal/utils"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const recordsFile = "records.yaml"

// Triage deduplicates crash inputs by the underlying defect, not by input
// bytes: each new crash file is replayed once under the harness, the
// sanitizer/signal report is normalized into a stack signature, and
// records sharing a signature collapse into one CrashRecord. Only the
// first representative input is kept live in the crash directory.
type Triage struct {
	harness     string
	crashDir    string
	hangDir     string
	execTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	records map[string]*types.CrashRecord
	order   []string
	hangs   int
}

func NewTriage(harness string, layout Layout, execTimeout time.Duration, logger *zap.Logger) *Triage {
	return &Triage{
		harness:     harness,
		crashDir:    layout.CrashDir(),
		hangDir:     layout.HangDir(),
		execTimeout: execTimeout,
		logger:      logger.Named("triage"),
		records:     make(map[string]*types.CrashRecord),
	}
}

// Load restores previously persisted records so that a resumed campaign
// keeps deduplicating against the bugs it already knows.
func (t *Triage) Load() error {
	data, err := os.ReadFile(filepath.Join(t.crashDir, recordsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var records []types.CrashRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("corrupt crash records: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range records {
		rec := records[i]
		t.records[rec.Signature] = &rec
		t.order = append(t.order, rec.Signature)
	}
	t.hangs = countHangs(t.hangDir)
	return nil
}

// HandleCrash triages one crash file reported by a worker.
func (t *Triage) HandleCrash(ctx context.Context, path string) {
	report := t.captureReport(ctx, path)
	signature := Signature(report)

	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.records[signature]; ok {
		rec.Count++
		t.logger.Debug("duplicate crash",
			zap.String("signature", signature),
			zap.Int("count", rec.Count))
		t.persistLocked()
		return
	}

	stored := filepath.Join(t.crashDir, signature)
	if err := utils.CopyFile(path, stored); err != nil {
		t.logger.Error("failed to store crash input",
			zap.String("file", path), zap.Error(err))
		stored = path
	}
	rec := &types.CrashRecord{
		Signature: signature,
		Report:    report,
		InputPath: stored,
		Count:     1,
	}
	t.records[signature] = rec
	t.order = append(t.order, signature)
	t.logger.Info("new unique crash",
		zap.String("signature", signature),
		zap.String("input", stored))
	t.persistLocked()
}

// HandleHang stores one hang input.
func (t *Triage) HandleHang(path string) {
	dst := filepath.Join(t.hangDir, filepath.Base(path))
	if err := utils.CopyFile(path, dst); err != nil {
		t.logger.Error("failed to store hang input",
			zap.String("file", path), zap.Error(err))
		return
	}
	t.mu.Lock()
	t.hangs++
	t.mu.Unlock()
}

// Records returns the deduplicated crash records in discovery order.
func (t *Triage) Records() []types.CrashRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.CrashRecord, 0, len(t.order))
	for _, sig := range t.order {
		out = append(out, *t.records[sig])
	}
	return out
}

// Counts returns (total crashes, unique bugs, hangs).
func (t *Triage) Counts() (int, int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, rec := range t.records {
		total += rec.Count
	}
	return total, len(t.records), t.hangs
}

func (t *Triage) persistLocked() {
	records := make([]types.CrashRecord, 0, len(t.order))
	for _, sig := range t.order {
		records = append(records, *t.records[sig])
	}
	data, err := yaml.Marshal(records)
	if err != nil {
		t.logger.Error("failed to marshal crash records", zap.Error(err))
		return
	}
	if err := os.WriteFile(filepath.Join(t.crashDir, recordsFile), data, 0644); err != nil {
		t.logger.Error("failed to persist crash records", zap.Error(err))
	}
}

// captureReport replays the crash input once under the harness and
// captures the sanitizer output or exit signal.
func (t *Triage) captureReport(ctx context.Context, inputPath string) string {
	input, err := os.Open(inputPath)
	if err != nil {
		return fmt.Sprintf("unreadable crash input %s: %v", inputPath, err)
	}
	defer input.Close()

	runCtx, cancel := context.WithTimeout(ctx, t.execTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.harness)
	cmd.Stdin = input
	out, err := cmd.CombinedOutput()
	report := string(out)
	if err != nil {
		report += "\nexit: " + err.Error()
	}
	return report
}

var (
	hexRe    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	lineNoRe = regexp.MustCompile(`:[0-9]+(:[0-9]+)?`)
	pidRe    = regexp.MustCompile(`==[0-9]+==`)
	frameRe  = regexp.MustCompile(`^\s*#[0-9]+\s`)
)

// Signature reduces a sanitizer/signal report to a stable key for the
// underlying defect. Addresses and source line numbers are volatile across
// runs and builds, so they are masked before hashing; stack frame lines
// carry the defect identity, the rest of the report is only used when no
// frames are present.
func Signature(report string) string {
	var kept []string
	for _, line := range strings.Split(report, "\n") {
		if frameRe.MatchString(line) ||
			strings.Contains(line, "ERROR:") ||
			strings.Contains(line, "SUMMARY:") ||
			strings.Contains(line, "signal:") {
			kept = append(kept, strings.TrimSpace(line))
		}
		if len(kept) >= 8 {
			break
		}
	}
	if len(kept) == 0 {
		kept = strings.Split(strings.TrimSpace(report), "\n")
	}
	normalized := strings.Join(kept, "\n")
	normalized = hexRe.ReplaceAllString(normalized, "0xADDR")
	normalized = lineNoRe.ReplaceAllString(normalized, ":LINE")
	normalized = pidRe.ReplaceAllString(normalized, "==PID==")

	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func countHangs(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			count++
		}
	}
	return count
}
