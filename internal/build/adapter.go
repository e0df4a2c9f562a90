// Package build wraps the external build adapter and the harness compiler.
// The pipeline only depends on the narrow Compile contract, so it can be
// tested without a toolchain.
package build

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"cifuzz/internal/types"

	"go.uber.org/zap"
)

// Context locates the instrumented build of the target library, as
// populated by the build adapter.
type Context struct {
	Dir             string // adapter output directory
	IncludeDir      string // public headers
	LibDir          string // built shared/static libraries
	CompileCommands string // compilation database
	SrcDir          string // copied sources
	Library         string // library name, e.g. "libxml2"
}

func NewContext(dir, library string) Context {
	return Context{
		Dir:             dir,
		IncludeDir:      filepath.Join(dir, "include"),
		LibDir:          filepath.Join(dir, ".libs"),
		CompileCommands: filepath.Join(dir, "compile_commands.json"),
		SrcDir:          filepath.Join(dir, "src"),
		Library:         library,
	}
}

// LinkName is the -l form of the library name: "libxml2" -> "xml2".
func (c Context) LinkName() string {
	return strings.TrimPrefix(c.Library, "lib")
}

// Adapter invokes the per-library build adapter executable. On success the
// adapter must have populated include/, .libs/, compile_commands.json and
// src/ under the output directory and exited zero; anything else is a
// fatal, non-retriable BuildAdapterError for that library.
type Adapter struct {
	execPath string
	logger   *zap.Logger
}

func NewAdapter(execPath string, logger *zap.Logger) *Adapter {
	return &Adapter{
		execPath: execPath,
		logger:   logger.Named("build"),
	}
}

func (a *Adapter) Build(ctx context.Context, library, commit, outDir string) (Context, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return Context{}, &types.BuildAdapterError{Library: library, Err: err}
	}

	cmd := exec.CommandContext(ctx, a.execPath, library, commit, outDir)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	a.logger.Info("running build adapter",
		zap.String("library", library),
		zap.String("commit", commit),
		zap.String("command", cmd.String()))

	if err := cmd.Run(); err != nil {
		return Context{}, &types.BuildAdapterError{Library: library, Err: err}
	}

	bctx := NewContext(outDir, library)
	for _, required := range []string{bctx.IncludeDir, bctx.LibDir, bctx.CompileCommands, bctx.SrcDir} {
		if _, err := os.Stat(required); err != nil {
			return Context{}, &types.BuildAdapterError{
				Library: library,
				Err:     fmt.Errorf("adapter exited zero but %s is missing", required),
			}
		}
	}
	return bctx, nil
}
