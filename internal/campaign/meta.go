package campaign

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Layout names the pieces of a campaign directory. The directory is the
// sole source of truth for a campaign: corpus, crash and hang findings,
// fuzzer sync state and metadata all live under it, so a campaign can be
// resumed by any process that can see the directory.
type Layout struct {
	Dir string
}

func (l Layout) CorpusDir() string { return filepath.Join(l.Dir, "corpus") }
func (l Layout) SyncDir() string   { return filepath.Join(l.Dir, "sync") }
func (l Layout) CrashDir() string  { return filepath.Join(l.Dir, "crashes") }
func (l Layout) HangDir() string   { return filepath.Join(l.Dir, "hangs") }
func (l Layout) StatsFile() string { return filepath.Join(l.Dir, "stats") }
func (l Layout) MetaFile() string  { return filepath.Join(l.Dir, "campaign.yaml") }

func (l Layout) create() error {
	for _, dir := range []string{l.CorpusDir(), l.SyncDir(), l.CrashDir(), l.HangDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// Meta is the resume metadata persisted as campaign.yaml.
type Meta struct {
	ID        string    `yaml:"id"`
	Harness   string    `yaml:"harness"`
	Workers   int       `yaml:"workers"`
	CreatedAt time.Time `yaml:"created_at"`
	Resumes   int       `yaml:"resumes"`
}

func writeMeta(l Layout, meta Meta) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(l.MetaFile(), data, 0644)
}

func readMeta(l Layout) (Meta, error) {
	data, err := os.ReadFile(l.MetaFile())
	if err != nil {
		return Meta{}, fmt.Errorf("not a campaign directory: %w", err)
	}
	var meta Meta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("corrupt campaign metadata: %w", err)
	}
	return meta, nil
}
