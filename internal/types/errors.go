package types

import "fmt"

// DiffResolutionError means the commit could not be resolved or its diff
// could not be parsed. Nothing downstream can proceed, so the run aborts.
type DiffResolutionError struct {
	Commit string
	Err    error
}

func (e *DiffResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve diff for commit %s: %v", e.Commit, e.Err)
}

func (e *DiffResolutionError) Unwrap() error { return e.Err }

// GenerationError means both generation strategies failed for an entry
// point. The harness is abandoned, siblings continue.
type GenerationError struct {
	EntryPoint string
	Backend    error
	Fallback   error
}

func (e *GenerationError) Error() string {
	if e.Backend != nil {
		return fmt.Sprintf("cannot generate harness for %s: backend: %v; fallback: %v",
			e.EntryPoint, e.Backend, e.Fallback)
	}
	return fmt.Sprintf("cannot generate harness for %s: %v", e.EntryPoint, e.Fallback)
}

// BuildAdapterError means the instrumented library build failed. Fatal for
// the library; no harness can be compiled or smoke tested without it.
type BuildAdapterError struct {
	Library string
	Err     error
}

func (e *BuildAdapterError) Error() string {
	return fmt.Sprintf("build adapter failed for %s: %v", e.Library, e.Err)
}

func (e *BuildAdapterError) Unwrap() error { return e.Err }
