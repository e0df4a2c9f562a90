// Package dict builds afl-fuzz dictionaries from the target library's
// sources. String literals a parser compares its input against are strong
// mutation tokens, so every harness of a library shares one dictionary
// distilled from its code.
package dict

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// maxTokens bounds the dictionary size; afl-fuzz slows down on huge
// dictionaries without finding more.
const maxTokens = 512

type Builder struct {
	logger *zap.Logger
}

func NewBuilder(logger *zap.Logger) *Builder {
	return &Builder{logger: logger.Named("dict")}
}

var dictSourceExts = map[string]bool{
	".c": true, ".cc": true, ".cpp": true, ".h": true, ".hpp": true,
}

// FromSources scans the C/C++ files under srcDir for string literals,
// deduplicates them and writes an afl dictionary to outPath. Returns the
// number of tokens written; zero tokens writes no file.
func (b *Builder) FromSources(srcDir, outPath string) (int, error) {
	tokens := make(map[string]struct{})

	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !dictSourceExts[filepath.Ext(path)] {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		collectLiterals(string(data), tokens)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan sources: %w", err)
	}

	sorted := make([]string, 0, len(tokens))
	for token := range tokens {
		sorted = append(sorted, token)
	}
	sort.Strings(sorted)
	if len(sorted) > maxTokens {
		sorted = sorted[:maxTokens]
	}
	if len(sorted) == 0 {
		b.logger.Info("no dictionary tokens found", zap.String("src", srcDir))
		return 0, nil
	}

	var out strings.Builder
	for i, token := range sorted {
		fmt.Fprintf(&out, "token_%04d=\"%s\"\n", i, token)
	}
	if err := os.WriteFile(outPath, []byte(out.String()), 0644); err != nil {
		return 0, err
	}
	b.logger.Info("dictionary written",
		zap.String("path", outPath),
		zap.Int("tokens", len(sorted)))
	return len(sorted), nil
}

// collectLiterals pulls usable string literals out of one source file.
// Only literals that are valid afl dictionary values verbatim are kept:
// printable, no quotes or escapes, between 3 and 32 bytes. Everything else
// costs more than it finds.
func collectLiterals(src string, tokens map[string]struct{}) {
	for {
		open := strings.IndexByte(src, '"')
		if open < 0 {
			return
		}
		src = src[open+1:]
		closing := strings.IndexByte(src, '"')
		if closing < 0 {
			return
		}
		literal := src[:closing]
		src = src[closing+1:]
		if usableToken(literal) {
			tokens[literal] = struct{}{}
		}
	}
}

func usableToken(s string) bool {
	if len(s) < 3 || len(s) > 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c > 0x7e || c == '\\' || c == '"' {
			return false
		}
	}
	return true
}
