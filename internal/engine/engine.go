// Package engine implements the reconciliation core: building the
// resource dependency graph, diffing declared configuration against
// stored state into a plan, and executing the plan concurrently against
// providers.
package engine

import (
	"context"

	"github.com/reef-io/reef/internal/ir"
	"github.com/reef-io/reef/pkg/provider"
)

const defaultParallelism = 10

// Store is the state the engine reads during planning and writes during
// execution. The executor is its sole writer within a run; a record is
// only mutated after the corresponding provider operation succeeds.
type Store interface {
	Get(addr string) (*ir.ResourceState, bool)
	Put(ctx context.Context, addr string, rs *ir.ResourceState) error
	Remove(ctx context.Context, addr string) error
	List() []string
	Resources() []*ir.ResourceState
}

// ProviderLookup resolves a provider name to a loaded provider.
type ProviderLookup interface {
	Get(name string) (provider.Provider, error)
}

// Engine orchestrates the lifecycle of resources.
type Engine struct {
	providers ProviderLookup

	// Parallelism bounds how many plan entries execute concurrently.
	Parallelism int
}

func NewEngine(providers ProviderLookup) *Engine {
	return &Engine{
		providers:   providers,
		Parallelism: defaultParallelism,
	}
}
