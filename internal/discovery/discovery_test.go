package discovery

import (
	"fmt"
	"testing"

	"cifuzz/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func changedFn(name string) types.ChangedFunction {
	return types.ChangedFunction{Name: name, File: "parser.c", StartLine: 1, EndLine: 10}
}

func symbols(names ...string) []types.PublicSymbol {
	out := make([]types.PublicSymbol, 0, len(names))
	for _, name := range names {
		out = append(out, types.PublicSymbol{Name: name, Signature: "int " + name + "(void);"})
	}
	return out
}

func TestDiscoverExportedFunctionIsItsOwnEntryPoint(t *testing.T) {
	d := NewDiscoverer(Config{}, zap.NewNop())
	result := d.Discover(
		[]types.ChangedFunction{changedFn("xmlParseDoc")},
		symbols("xmlParseDoc", "xmlReadFile"),
		nil,
	)
	require.Len(t, result.EntryPoints, 1)
	assert.Equal(t, "xmlParseDoc", result.EntryPoints[0].Symbol.Name)
	assert.Equal(t, []string{"xmlParseDoc"}, result.EntryPoints[0].ChangedVia)
	assert.Empty(t, result.Gaps)
}

func TestDiscoverIndirectReachability(t *testing.T) {
	d := NewDiscoverer(Config{}, zap.NewNop())
	// helper is static; both public functions reach it.
	edges := []types.CallGraphEdge{
		{Caller: "xmlParseDoc", Callee: "parseInternal"},
		{Caller: "parseInternal", Callee: "helper"},
		{Caller: "xmlReadFile", Callee: "helper"},
	}
	result := d.Discover(
		[]types.ChangedFunction{changedFn("helper")},
		symbols("xmlParseDoc", "xmlReadFile"),
		edges,
	)
	require.Len(t, result.EntryPoints, 2)
	// xmlReadFile is one hop away, xmlParseDoc two: closest first.
	assert.Equal(t, "xmlReadFile", result.EntryPoints[0].Symbol.Name)
	assert.Equal(t, "xmlParseDoc", result.EntryPoints[1].Symbol.Name)
	assert.Empty(t, result.Gaps)
}

func TestDiscoverGapWithoutCallGraph(t *testing.T) {
	d := NewDiscoverer(Config{}, zap.NewNop())
	result := d.Discover(
		[]types.ChangedFunction{changedFn("helper")},
		symbols("xmlParseDoc"),
		nil,
	)
	assert.Empty(t, result.EntryPoints)
	require.Len(t, result.Gaps, 1)
	assert.Equal(t, "helper", result.Gaps[0].Function.Name)
	assert.Equal(t, "no call graph available", result.Gaps[0].Reason)
}

func TestDiscoverSearchDepthBound(t *testing.T) {
	d := NewDiscoverer(Config{SearchDepth: 2}, zap.NewNop())
	// public -> a -> b -> changed: three hops, outside depth 2.
	edges := []types.CallGraphEdge{
		{Caller: "public", Callee: "a"},
		{Caller: "a", Callee: "b"},
		{Caller: "b", Callee: "changed"},
	}
	result := d.Discover(
		[]types.ChangedFunction{changedFn("changed")},
		symbols("public"),
		edges,
	)
	assert.Empty(t, result.EntryPoints)
	require.Len(t, result.Gaps, 1)

	// Depth 3 reaches it.
	d = NewDiscoverer(Config{SearchDepth: 3}, zap.NewNop())
	result = d.Discover(
		[]types.ChangedFunction{changedFn("changed")},
		symbols("public"),
		edges,
	)
	require.Len(t, result.EntryPoints, 1)
	assert.Equal(t, "public", result.EntryPoints[0].Symbol.Name)
}

func TestDiscoverEntryPointCap(t *testing.T) {
	d := NewDiscoverer(Config{MaxEntryPoints: 3}, zap.NewNop())
	var edges []types.CallGraphEdge
	var names []string
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("api_%02d", i)
		names = append(names, name)
		edges = append(edges, types.CallGraphEdge{Caller: name, Callee: "helper"})
	}
	result := d.Discover(
		[]types.ChangedFunction{changedFn("helper")},
		symbols(names...),
		edges,
	)
	require.Len(t, result.EntryPoints, 3)
	// Name order within a level keeps runs deterministic.
	assert.Equal(t, "api_00", result.EntryPoints[0].Symbol.Name)
	assert.Equal(t, "api_01", result.EntryPoints[1].Symbol.Name)
	assert.Equal(t, "api_02", result.EntryPoints[2].Symbol.Name)
}

func TestDiscoverMergesEntryPointsAcrossChangedFunctions(t *testing.T) {
	d := NewDiscoverer(Config{}, zap.NewNop())
	edges := []types.CallGraphEdge{
		{Caller: "xmlParseDoc", Callee: "first"},
		{Caller: "xmlParseDoc", Callee: "second"},
	}
	result := d.Discover(
		[]types.ChangedFunction{changedFn("first"), changedFn("second")},
		symbols("xmlParseDoc"),
		edges,
	)
	require.Len(t, result.EntryPoints, 1)
	assert.Equal(t, []string{"first", "second"}, result.EntryPoints[0].ChangedVia)
}
