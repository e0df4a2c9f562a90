// Package discovery cross-references changed functions against the
// library's exported symbols and call graph to find the public entry
// points a commit affects.
package discovery

import (
	"sort"

	"cifuzz/internal/types"

	"go.uber.org/zap"
)

type Config struct {
	// SearchDepth bounds the reverse reachability search over the call
	// graph. Ancestors further away than this are not considered.
	SearchDepth int
	// MaxEntryPoints caps entry points per changed function to keep the
	// harness count tractable.
	MaxEntryPoints int
}

// Gap records a changed function that yielded no entry point. Normal,
// non-fatal: it is reported and skipped.
type Gap struct {
	Function types.ChangedFunction
	Reason   string
}

type Result struct {
	EntryPoints []types.EntryPoint
	Gaps        []Gap
}

type Discoverer struct {
	cfg    Config
	logger *zap.Logger
}

func NewDiscoverer(cfg Config, logger *zap.Logger) *Discoverer {
	if cfg.SearchDepth <= 0 {
		cfg.SearchDepth = 10
	}
	if cfg.MaxEntryPoints <= 0 {
		cfg.MaxEntryPoints = 5
	}
	return &Discoverer{
		cfg:    cfg,
		logger: logger.Named("discovery"),
	}
}

// Discover maps changed functions to publicly reachable entry points. A
// changed function that is itself exported is an entry point directly;
// otherwise all exported ancestors within SearchDepth are, capped at
// MaxEntryPoints per changed function. Entry points found via several
// changed functions are merged.
func (d *Discoverer) Discover(changed []types.ChangedFunction, symbols []types.PublicSymbol, edges []types.CallGraphEdge) Result {
	exported := make(map[string]types.PublicSymbol, len(symbols))
	for _, sym := range symbols {
		exported[sym.Name] = sym
	}

	callers := make(map[string][]string)
	for _, edge := range edges {
		callers[edge.Callee] = append(callers[edge.Callee], edge.Caller)
	}

	var result Result
	index := make(map[string]int) // symbol name -> position in EntryPoints

	record := func(sym types.PublicSymbol, via string) {
		if pos, ok := index[sym.Name]; ok {
			result.EntryPoints[pos].ChangedVia = appendUnique(result.EntryPoints[pos].ChangedVia, via)
			return
		}
		index[sym.Name] = len(result.EntryPoints)
		result.EntryPoints = append(result.EntryPoints, types.EntryPoint{
			Symbol:     sym,
			ChangedVia: []string{via},
		})
	}

	for _, fn := range changed {
		if sym, ok := exported[fn.Name]; ok {
			d.logger.Debug("changed function is a public symbol",
				zap.String("function", fn.Name))
			record(sym, fn.Name)
			continue
		}

		ancestors := d.exportedAncestors(fn.Name, exported, callers)
		if len(ancestors) == 0 {
			reason := "no exported ancestor within search depth"
			if len(callers) == 0 {
				reason = "no call graph available"
			}
			d.logger.Info("discovery gap",
				zap.String("function", fn.Name),
				zap.String("file", fn.File),
				zap.String("reason", reason))
			result.Gaps = append(result.Gaps, Gap{Function: fn, Reason: reason})
			continue
		}
		for _, name := range ancestors {
			record(exported[name], fn.Name)
		}
	}

	d.logger.Info("discovery finished",
		zap.Int("changed_functions", len(changed)),
		zap.Int("entry_points", len(result.EntryPoints)),
		zap.Int("gaps", len(result.Gaps)))
	return result
}

// exportedAncestors walks the reversed call graph breadth-first from fn,
// collecting exported callers. The walk stops at SearchDepth levels and
// the result is capped at MaxEntryPoints, closest ancestors first, name
// order within a level for determinism.
func (d *Discoverer) exportedAncestors(fn string, exported map[string]types.PublicSymbol, callers map[string][]string) []string {
	visited := map[string]bool{fn: true}
	frontier := []string{fn}
	var found []string

	for depth := 0; depth < d.cfg.SearchDepth && len(frontier) > 0; depth++ {
		var next []string
		var level []string
		for _, node := range frontier {
			for _, caller := range callers[node] {
				if visited[caller] {
					continue
				}
				visited[caller] = true
				if _, ok := exported[caller]; ok {
					level = append(level, caller)
				}
				next = append(next, caller)
			}
		}
		sort.Strings(level)
		for _, name := range level {
			if len(found) >= d.cfg.MaxEntryPoints {
				return found
			}
			found = append(found, name)
		}
		frontier = next
	}
	return found
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
