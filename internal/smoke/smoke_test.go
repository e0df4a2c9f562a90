package smoke

import (
	"context"
	"errors"
	"testing"
	"time"

	"cifuzz/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRunner returns a canned result and records its invocation.
type fakeRunner struct {
	result Result
	err    error

	binary  string
	seedDir string
	budget  time.Duration
}

func (r *fakeRunner) Run(_ context.Context, binary, seedDir, _ string, budget time.Duration) (Result, error) {
	r.binary = binary
	r.seedDir = seedDir
	r.budget = budget
	return r.result, r.err
}

func compiledHarness() *types.Harness {
	return &types.Harness{
		ID: "h1",
		EntryPoint: types.EntryPoint{
			Symbol: types.PublicSymbol{Name: "xmlParse"},
		},
		Status:     types.HarnessCompiled,
		BinaryPath: "/work/harness_xmlParse",
	}
}

func TestSmokeValidates(t *testing.T) {
	runner := &fakeRunner{result: Result{Execs: 4221, CorpusCount: 17}}
	tester := NewTester(runner, 10*time.Second, zap.NewNop())

	h := compiledHarness()
	result, err := tester.Test(context.Background(), h, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, types.HarnessValidated, h.Status)
	assert.Empty(t, result.Detail)
	assert.Equal(t, "/work/harness_xmlParse", runner.binary)
	assert.Equal(t, 10*time.Second, runner.budget)
}

func TestSmokeFailsOnCrash(t *testing.T) {
	runner := &fakeRunner{result: Result{Execs: 100, CorpusCount: 5, Crashes: 2}}
	tester := NewTester(runner, 10*time.Second, zap.NewNop())

	h := compiledHarness()
	result, err := tester.Test(context.Background(), h, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, types.HarnessSmokeFailed, h.Status)
	assert.Contains(t, result.Detail, "crash")
}

func TestSmokeFailsOnHang(t *testing.T) {
	runner := &fakeRunner{result: Result{Execs: 100, CorpusCount: 5, Hangs: 1}}
	tester := NewTester(runner, 10*time.Second, zap.NewNop())

	h := compiledHarness()
	result, err := tester.Test(context.Background(), h, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, types.HarnessSmokeFailed, h.Status)
	assert.Contains(t, result.Detail, "hang")
}

func TestSmokeFailsOnZeroExecs(t *testing.T) {
	runner := &fakeRunner{result: Result{}}
	tester := NewTester(runner, 10*time.Second, zap.NewNop())

	h := compiledHarness()
	result, err := tester.Test(context.Background(), h, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, types.HarnessSmokeFailed, h.Status)
	assert.Equal(t, "harness executed no inputs", result.Detail)
}

func TestSmokeFailsOnZeroCoverage(t *testing.T) {
	runner := &fakeRunner{result: Result{Execs: 5000}}
	tester := NewTester(runner, 10*time.Second, zap.NewNop())

	h := compiledHarness()
	result, err := tester.Test(context.Background(), h, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, types.HarnessSmokeFailed, h.Status)
	assert.Contains(t, result.Detail, "zero coverage")
}

func TestSmokeFailsWhenFuzzerDoesNotRun(t *testing.T) {
	runner := &fakeRunner{err: errors.New("afl-fuzz: binary not instrumented")}
	tester := NewTester(runner, 10*time.Second, zap.NewNop())

	h := compiledHarness()
	result, err := tester.Test(context.Background(), h, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, types.HarnessSmokeFailed, h.Status)
	assert.Contains(t, result.Detail, "fuzzer failed to run")
}

func TestSmokeRejectsUncompiledHarness(t *testing.T) {
	tester := NewTester(&fakeRunner{}, 10*time.Second, zap.NewNop())
	h := compiledHarness()
	h.Status = types.HarnessUnvalidated
	_, err := tester.Test(context.Background(), h, t.TempDir())
	assert.Error(t, err)
}

// blockingRunner ignores the budget and only returns once its context
// is cancelled, like a fuzzer process that never exits on its own.
type blockingRunner struct{}

func (r *blockingRunner) Run(ctx context.Context, _, _, _ string, _ time.Duration) (Result, error) {
	<-ctx.Done()
	return Result{}, ctx.Err()
}

func TestSmokeEnforcesBudgetDeadline(t *testing.T) {
	budget := 100 * time.Millisecond
	tester := NewTester(&blockingRunner{}, budget, zap.NewNop())

	h := compiledHarness()
	start := time.Now()
	result, err := tester.Test(context.Background(), h, t.TempDir())
	elapsed := time.Since(start)

	require.NoError(t, err)
	// The runner hangs until killed, so Test must come back shortly
	// after budget plus the kill grace, not block forever.
	assert.Less(t, elapsed, budget+5*time.Second+2*time.Second)
	assert.GreaterOrEqual(t, elapsed, budget)
	assert.Equal(t, types.HarnessSmokeFailed, h.Status)
	assert.Contains(t, result.Detail, "fuzzer failed to run")
	assert.Contains(t, result.Detail, context.DeadlineExceeded.Error())
}

func TestSmokeWritesSeedCorpus(t *testing.T) {
	runner := &fakeRunner{result: Result{Execs: 1, CorpusCount: 1}}
	tester := NewTester(runner, 10*time.Second, zap.NewNop())

	h := compiledHarness()
	workDir := t.TempDir()
	_, err := tester.Test(context.Background(), h, workDir)
	require.NoError(t, err)
	assert.DirExists(t, runner.seedDir)
	assert.FileExists(t, runner.seedDir+"/seed1.txt")
}

func TestSmokeSeedCorpusIsPerHarness(t *testing.T) {
	runner := &fakeRunner{result: Result{Execs: 1, CorpusCount: 1}}
	tester := NewTester(runner, 10*time.Second, zap.NewNop())
	workDir := t.TempDir()

	first := compiledHarness()
	_, err := tester.Test(context.Background(), first, workDir)
	require.NoError(t, err)
	firstSeeds := runner.seedDir

	second := compiledHarness()
	second.ID = "h2"
	second.EntryPoint.Symbol.Name = "xmlReadFile"
	_, err = tester.Test(context.Background(), second, workDir)
	require.NoError(t, err)

	assert.NotEqual(t, firstSeeds, runner.seedDir)
	assert.FileExists(t, firstSeeds+"/seed1.txt")
	assert.FileExists(t, runner.seedDir+"/seed1.txt")
}
