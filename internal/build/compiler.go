package build

import (
	"context"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

type CompileResult struct {
	Success     bool
	Diagnostics string
	BinaryPath  string
}

// Compiler compiles one harness source file against the instrumented
// library build. Diagnostics carry the raw compiler output on failure;
// they feed the regeneration prompt.
type Compiler interface {
	Compile(ctx context.Context, sourcePath string, bctx Context) CompileResult
}

// CCompiler shells out to the instrumenting C compiler (afl-clang-fast by
// default) with the build context's headers and libraries.
type CCompiler struct {
	cc     string
	logger *zap.Logger
}

func NewCCompiler(cc string, logger *zap.Logger) *CCompiler {
	return &CCompiler{
		cc:     cc,
		logger: logger.Named("compile"),
	}
}

func (c *CCompiler) Compile(ctx context.Context, sourcePath string, bctx Context) CompileResult {
	binaryPath := strings.TrimSuffix(sourcePath, ".c")
	args := []string{
		"-g", "-O1",
		"-I" + bctx.IncludeDir,
		sourcePath,
		"-L" + bctx.LibDir,
		"-l" + bctx.LinkName(),
		"-Wl,-rpath," + bctx.LibDir,
		"-o", binaryPath,
	}

	cmd := exec.CommandContext(ctx, c.cc, args...)
	c.logger.Debug("compiling harness", zap.String("command", cmd.String()))

	out, err := cmd.CombinedOutput()
	if err != nil {
		return CompileResult{
			Success:     false,
			Diagnostics: strings.TrimSpace(string(out)) + "\n" + err.Error(),
		}
	}
	return CompileResult{
		Success:     true,
		Diagnostics: strings.TrimSpace(string(out)),
		BinaryPath:  binaryPath,
	}
}
