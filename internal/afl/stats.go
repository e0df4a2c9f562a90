package afl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Stats is the subset of a worker's fuzzer_stats file the orchestrator
// cares about. Key names vary across fuzzer versions; both the old and the
// current spellings are accepted.
type Stats struct {
	Pid         int
	ExecsDone   int64
	ExecsPerSec float64
	CorpusCount int
	Crashes     int
	Hangs       int
	CoveragePct float64
}

// ParseStats reads "key : value" pairs from a fuzzer_stats stream.
// Unknown keys are ignored; an I/O error is the only failure.
func ParseStats(r io.Reader) (Stats, error) {
	var stats Stats
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "fuzzer_pid":
			stats.Pid, _ = strconv.Atoi(value)
		case "execs_done":
			stats.ExecsDone, _ = strconv.ParseInt(value, 10, 64)
		case "execs_per_sec":
			stats.ExecsPerSec, _ = strconv.ParseFloat(value, 64)
		case "corpus_count", "paths_total":
			stats.CorpusCount, _ = strconv.Atoi(value)
		case "saved_crashes", "unique_crashes":
			stats.Crashes, _ = strconv.Atoi(value)
		case "saved_hangs", "unique_hangs":
			stats.Hangs, _ = strconv.Atoi(value)
		case "bitmap_cvg":
			stats.CoveragePct, _ = strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64)
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scanner error: %w", err)
	}
	return stats, nil
}

// ReadStats loads and parses one worker's fuzzer_stats file.
func ReadStats(path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()
	return ParseStats(f)
}

// StatsPath is the fuzzer_stats location for a named worker under a shared
// output dir.
func StatsPath(outputDir, worker string) string {
	return filepath.Join(outputDir, worker, "fuzzer_stats")
}

// CountFindings counts saved entries ("id:..." files) in a crashes or
// hangs directory. A missing directory counts as zero.
func CountFindings(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "id:") {
			count++
		}
	}
	return count
}

// SeedCorpus writes a minimal set of seed inputs into dir. These mirror
// the inputs a fresh campaign starts from when no corpus exists yet.
func SeedCorpus(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	seeds := map[string][]byte{
		"seed1.txt": []byte("hello"),
		"seed2.xml": []byte("<?xml version='1.0'?><root>test</root>"),
		"seed3.bin": []byte(strings.Repeat("A", 100)),
		"seed4.bin": {0x00, 0x01, 0x02, 0x03},
	}
	for name, data := range seeds {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			return err
		}
	}
	return nil
}
