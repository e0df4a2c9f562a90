package validate

import (
	"context"
	"os"
	"testing"

	"cifuzz/internal/build"
	"cifuzz/internal/synth"
	"cifuzz/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedCompiler replays a fixed sequence of results.
type scriptedCompiler struct {
	results []build.CompileResult
	calls   int
	sources []string
}

func (c *scriptedCompiler) Compile(_ context.Context, sourcePath string, _ build.Context) build.CompileResult {
	data, _ := os.ReadFile(sourcePath)
	c.sources = append(c.sources, string(data))
	result := c.results[c.calls]
	c.calls++
	return result
}

func newHarness(t *testing.T) (*types.Harness, synth.Request, *synth.Synthesizer) {
	t.Helper()
	s := synth.NewSynthesizer(nil, zap.NewNop())
	req := synth.Request{
		EntryPoint: types.EntryPoint{
			Symbol: types.PublicSymbol{
				Name:      "xmlParse",
				Signature: "int xmlParse(const char *data, size_t size);",
			},
		},
	}
	h, err := s.NewHarness(context.Background(), req)
	require.NoError(t, err)
	return h, req, s
}

func TestValidateFirstAttemptSucceeds(t *testing.T) {
	h, req, s := newHarness(t)
	compiler := &scriptedCompiler{results: []build.CompileResult{
		{Success: true, BinaryPath: "/tmp/harness_xmlParse"},
	}}
	v := NewValidator(compiler, s, 3, zap.NewNop())

	err := v.Validate(context.Background(), h, req, build.Context{}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, types.HarnessCompiled, h.Status)
	assert.Equal(t, "/tmp/harness_xmlParse", h.BinaryPath)
	require.Len(t, h.Attempts, 1)
	assert.True(t, h.Attempts[0].Success)
	assert.Equal(t, 1, h.Attempts[0].Index)
}

func TestValidateRetriesWithDiagnostics(t *testing.T) {
	h, req, s := newHarness(t)
	compiler := &scriptedCompiler{results: []build.CompileResult{
		{Success: false, Diagnostics: "error: unknown type name 'size_t'"},
		{Success: true, BinaryPath: "/tmp/harness_xmlParse"},
	}}
	v := NewValidator(compiler, s, 3, zap.NewNop())

	err := v.Validate(context.Background(), h, req, build.Context{}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, types.HarnessCompiled, h.Status)
	require.Len(t, h.Attempts, 2)
	assert.False(t, h.Attempts[0].Success)
	assert.Equal(t, "error: unknown type name 'size_t'", h.Attempts[0].Diagnostics)
	assert.True(t, h.Attempts[1].Success)
	assert.Equal(t, 2, h.Attempts[1].Index)
	assert.Equal(t, 2, compiler.calls)
}

func TestValidateAbandonsAfterMaxAttempts(t *testing.T) {
	h, req, s := newHarness(t)
	fail := build.CompileResult{Success: false, Diagnostics: "error: it is broken"}
	compiler := &scriptedCompiler{results: []build.CompileResult{fail, fail, fail}}
	v := NewValidator(compiler, s, 3, zap.NewNop())

	err := v.Validate(context.Background(), h, req, build.Context{}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, types.HarnessAbandoned, h.Status)
	assert.Len(t, h.Attempts, 3)
	assert.Empty(t, h.BinaryPath)
}

func TestValidateWritesSourceToDisk(t *testing.T) {
	h, req, s := newHarness(t)
	compiler := &scriptedCompiler{results: []build.CompileResult{
		{Success: true, BinaryPath: "bin"},
	}}
	v := NewValidator(compiler, s, 3, zap.NewNop())

	outDir := t.TempDir()
	require.NoError(t, v.Validate(context.Background(), h, req, build.Context{}, outDir))
	assert.Contains(t, h.SourcePath, "harness_xmlParse.c")
	require.Len(t, compiler.sources, 1)
	assert.Equal(t, h.Source, compiler.sources[0])
}

func TestValidateHonorsCancellation(t *testing.T) {
	h, req, s := newHarness(t)
	compiler := &scriptedCompiler{}
	v := NewValidator(compiler, s, 3, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := v.Validate(ctx, h, req, build.Context{}, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, compiler.calls)
}
