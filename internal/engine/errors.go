package engine

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle in the resource graph. The graph
// must be acyclic; a cycle is a configuration error detected at build
// time, never at execution time.
type CycleError struct {
	// Path is the cycle, starting and ending at the same address.
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle in resource graph: %s", strings.Join(e.Path, " -> "))
}

// UnknownReferenceError reports a reference to a resource address that is
// not declared in the configuration.
type UnknownReferenceError struct {
	Address   string // the resource holding the reference
	Reference string // the address it refers to
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("%s references undeclared resource %s", e.Address, e.Reference)
}

// DiffError reports that an action could not be computed for a single
// resource, typically because a changed argument is missing from the
// provider's schema. It is fatal for that resource's plan entry only.
type DiffError struct {
	Address  string
	Argument string
	Err      error
}

func (e *DiffError) Error() string {
	if e.Argument != "" {
		return fmt.Sprintf("cannot plan %s: argument %q: %v", e.Address, e.Argument, e.Err)
	}
	return fmt.Sprintf("cannot plan %s: %v", e.Address, e.Err)
}

func (e *DiffError) Unwrap() error { return e.Err }

// ProviderError wraps a failed provider operation for one resource. It
// does not abort unrelated branches of the graph; descendants of the
// failed resource are skipped.
type ProviderError struct {
	Address   string
	Operation string // "create", "update", "delete", "read"
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Operation, e.Address, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
