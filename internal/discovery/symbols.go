package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"cifuzz/internal/types"

	"go.uber.org/zap"
)

// SymbolSource is the boundary to the external symbol / call-graph
// extractor. Both tables are read-only reference data.
type SymbolSource interface {
	PublicSymbols(ctx context.Context) ([]types.PublicSymbol, error)
	CallGraph(ctx context.Context) ([]types.CallGraphEdge, error)
}

// BuildSymbolSource reads the extractor's output from an instrumented
// build directory: link-visible symbols via nm over .libs, declarations
// from include/ headers, and the call graph from callgraph.json.
type BuildSymbolSource struct {
	buildDir string
	logger   *zap.Logger
}

func NewBuildSymbolSource(buildDir string, logger *zap.Logger) *BuildSymbolSource {
	return &BuildSymbolSource{
		buildDir: buildDir,
		logger:   logger.Named("symbols"),
	}
}

// PublicSymbols lists exported functions of the built library. Symbols
// come from `nm -g --defined-only` (text section only) so that every
// returned symbol is actually link visible; headers contribute signatures.
// When nm yields nothing the header declarations alone are used.
func (s *BuildSymbolSource) PublicSymbols(ctx context.Context) ([]types.PublicSymbol, error) {
	declarations, err := s.headerDeclarations()
	if err != nil {
		s.logger.Warn("header scan failed", zap.Error(err))
	}

	names, err := s.linkVisibleNames(ctx)
	if err != nil {
		s.logger.Warn("nm symbol extraction failed, falling back to headers", zap.Error(err))
	}
	if len(names) == 0 {
		if len(declarations) == 0 {
			return nil, fmt.Errorf("no public symbols in %s", s.buildDir)
		}
		s.logger.Info("using header declarations as symbol table",
			zap.Int("symbols", len(declarations)))
		symbols := make([]types.PublicSymbol, 0, len(declarations))
		for _, decl := range declarations {
			symbols = append(symbols, decl)
		}
		return symbols, nil
	}

	symbols := make([]types.PublicSymbol, 0, len(names))
	for _, name := range names {
		sym := types.PublicSymbol{Name: name}
		if decl, ok := declarations[name]; ok {
			sym.Signature = decl.Signature
			sym.File = decl.File
		}
		symbols = append(symbols, sym)
	}
	s.logger.Info("extracted public symbols", zap.Int("symbols", len(symbols)))
	return symbols, nil
}

// CallGraph loads caller->callee edges written by the call-graph extractor
// into the build directory. A missing file is not fatal: directly exported
// changed functions are still discoverable without a graph.
func (s *BuildSymbolSource) CallGraph(ctx context.Context) ([]types.CallGraphEdge, error) {
	path := filepath.Join(s.buildDir, "callgraph.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("callgraph.json not found, reachability search disabled",
				zap.String("path", path))
			return nil, nil
		}
		return nil, fmt.Errorf("read call graph: %w", err)
	}
	var edges []types.CallGraphEdge
	if err := json.Unmarshal(data, &edges); err != nil {
		return nil, fmt.Errorf("parse call graph: %w", err)
	}
	return edges, nil
}

// linkVisibleNames runs nm over every library artifact under .libs and the
// build dir itself, keeping defined text symbols.
func (s *BuildSymbolSource) linkVisibleNames(ctx context.Context) ([]string, error) {
	libDirs := []string{
		filepath.Join(s.buildDir, ".libs"),
		s.buildDir,
	}
	seen := make(map[string]bool)
	var names []string
	var lastErr error
	for _, libDir := range libDirs {
		entries, err := os.ReadDir(libDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if !strings.HasSuffix(name, ".a") && !strings.HasSuffix(name, ".so") &&
				!strings.Contains(name, ".so.") {
				continue
			}
			libPath := filepath.Join(libDir, name)
			out, err := exec.CommandContext(ctx, "nm", "-g", "--defined-only", libPath).Output()
			if err != nil {
				lastErr = fmt.Errorf("nm %s: %w", libPath, err)
				continue
			}
			for _, line := range strings.Split(string(out), "\n") {
				parts := strings.Fields(line)
				if len(parts) == 3 && parts[1] == "T" && !seen[parts[2]] {
					seen[parts[2]] = true
					names = append(names, parts[2])
				}
			}
		}
	}
	if len(names) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return names, nil
}

var declRe = regexp.MustCompile(`(?m)^[A-Za-z_][\w\s\*]*?\b([A-Za-z_][A-Za-z0-9_]*)\s*\(([^;{]*)\)\s*;`)

// headerDeclarations scans include/ for function declarations, keyed by
// function name. Used for prompt context and as the nm fallback.
func (s *BuildSymbolSource) headerDeclarations() (map[string]types.PublicSymbol, error) {
	includeDir := filepath.Join(s.buildDir, "include")
	declarations := make(map[string]types.PublicSymbol)
	err := filepath.Walk(includeDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		ext := filepath.Ext(path)
		if info.IsDir() || (ext != ".h" && ext != ".hpp") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		for _, m := range declRe.FindAllStringSubmatch(string(content), -1) {
			name := m[1]
			if _, ok := declarations[name]; ok {
				continue
			}
			declarations[name] = types.PublicSymbol{
				Name:      name,
				Signature: strings.Join(strings.Fields(m[0]), " "),
				File:      path,
			}
		}
		return nil
	})
	if err != nil {
		return declarations, err
	}
	return declarations, nil
}
