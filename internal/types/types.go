package types

// Commit is the immutable input of a pipeline run.
type Commit struct {
	Hash string `json:"hash"`
	Diff string `json:"diff"`
}

// ChangedFunction is one function touched by a commit's diff.
type ChangedFunction struct {
	Name      string `json:"name"`
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// PublicSymbol is an exported function of the target library, as reported
// by the symbol extractor. Signature may be empty when the symbol was only
// seen in the link table and not in any header.
type PublicSymbol struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
	File      string `json:"file"`
}

// CallGraphEdge is a caller -> callee pair from the call-graph extractor.
type CallGraphEdge struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
}

// EntryPoint is a public symbol confirmed reachable from (or equal to) a
// changed function. ChangedVia lists the changed functions that made it an
// entry point.
type EntryPoint struct {
	Symbol     PublicSymbol `json:"symbol"`
	ChangedVia []string     `json:"changed_via"`
}

type HarnessStatus string

const (
	HarnessUnvalidated HarnessStatus = "unvalidated"
	HarnessCompiled    HarnessStatus = "compiled"
	HarnessSmokeFailed HarnessStatus = "smoke_failed"
	HarnessValidated   HarnessStatus = "validated"
	HarnessAbandoned   HarnessStatus = "abandoned"
)

// BuildAttempt records one compilation of a harness. Attempts are append
// only; the history feeds the regeneration prompt and the final report.
type BuildAttempt struct {
	Index       int    `json:"index"`
	Diagnostics string `json:"diagnostics"`
	Success     bool   `json:"success"`
}

// Harness owns generated source for one entry point. A harness is mutated
// by exactly one pipeline goroutine at a time.
type Harness struct {
	ID         string         `json:"id"`
	EntryPoint EntryPoint     `json:"entry_point"`
	Generator  string         `json:"generator"`
	Source     string         `json:"source"`
	SourcePath string         `json:"source_path"`
	BinaryPath string         `json:"binary_path"`
	Status     HarnessStatus  `json:"status"`
	Attempts   []BuildAttempt `json:"attempts"`
}

// LastAttempt returns the most recent build attempt, or nil before the
// first compilation.
func (h *Harness) LastAttempt() *BuildAttempt {
	if len(h.Attempts) == 0 {
		return nil
	}
	return &h.Attempts[len(h.Attempts)-1]
}

// CrashRecord groups crash inputs by the normalized signature of their
// sanitizer/signal report. InputPath points at the first representative.
type CrashRecord struct {
	Signature string `json:"signature" yaml:"signature"`
	Report    string `json:"report" yaml:"report"`
	InputPath string `json:"input_path" yaml:"input_path"`
	Count     int    `json:"count" yaml:"count"`
}

// CampaignStats is a live aggregated snapshot over all campaign workers.
type CampaignStats struct {
	ExecsPerSec float64 `json:"execs_per_sec" yaml:"execs_per_sec"`
	TotalExecs  int64   `json:"total_execs" yaml:"total_execs"`
	CorpusCount int     `json:"corpus_count" yaml:"corpus_count"`
	Crashes     int     `json:"crashes" yaml:"crashes"`
	UniqueBugs  int     `json:"unique_bugs" yaml:"unique_bugs"`
	Hangs       int     `json:"hangs" yaml:"hangs"`
	Workers     int     `json:"workers" yaml:"workers"`
}
