package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reef-io/reef/internal/ir"
	"github.com/reef-io/reef/internal/logging"
	"github.com/reef-io/reef/internal/state"
	"github.com/reef-io/reef/pkg/provider"
)

// EntryStatus is the execution state of one plan entry.
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusRunning   EntryStatus = "running"
	StatusSucceeded EntryStatus = "succeeded"
	StatusFailed    EntryStatus = "failed"
	StatusSkipped   EntryStatus = "skipped" // a dependency failed; never started
)

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   ir.Action
	Status   EntryStatus
	Duration time.Duration
	Err      error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// ApplySummary is the outcome of executing a plan.
type ApplySummary struct {
	Created  int
	Updated  int
	Replaced int
	Deleted  int
	Failed   int
	Skipped  int

	// Errors holds the first error per failed address.
	Errors map[string]error
}

// PartialFailure reports whether some entries failed while others
// succeeded. A fatal failure (run aborted) is signalled by Apply's error
// return instead.
func (s *ApplySummary) PartialFailure() bool {
	return s.Failed > 0
}

// Apply executes a plan against the store.
func (e *Engine) Apply(ctx context.Context, plan *ir.Plan, store Store) (*ApplySummary, error) {
	return e.ApplyWithCallback(ctx, plan, store, nil)
}

// ApplyWithCallback executes a plan with progress event callbacks.
//
// Independent entries run concurrently up to e.Parallelism. An entry
// starts only after every entry it waits on has succeeded; if one of
// them failed or was skipped, the entry is skipped without starting, so
// a failure cancels exactly the dependent subgraph while independent
// branches keep running. The store is updated only after a provider
// operation confirms success. A store write failure aborts the run.
func (e *Engine) ApplyWithCallback(ctx context.Context, plan *ir.Plan, store Store, callback ApplyCallback) (*ApplySummary, error) {
	summary := &ApplySummary{Errors: make(map[string]error)}
	if len(plan.Entries) == 0 {
		return summary, nil
	}

	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	parallelism := e.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	waitFor := entryDependencies(plan.Entries)

	var (
		mu       sync.Mutex
		cond     = sync.NewCond(&mu)
		status   = make(map[string]EntryStatus, len(plan.Entries))
		fatalErr error
	)
	for _, entry := range plan.Entries {
		status[entry.Address] = StatusPending
	}

	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup

	for _, entry := range plan.Entries {
		wg.Add(1)
		go func(en *ir.PlanEntry) {
			defer wg.Done()

			mu.Lock()
			for {
				if fatalErr != nil || ctx.Err() != nil {
					status[en.Address] = StatusSkipped
					mu.Unlock()
					cond.Broadcast()
					emit(ApplyEvent{Address: en.Address, Action: en.Action, Status: StatusSkipped})
					return
				}

				ready := true
				blocked := false
				for _, dep := range waitFor[en.Address] {
					switch status[dep] {
					case StatusFailed, StatusSkipped:
						blocked = true
					case StatusSucceeded:
					default:
						ready = false
					}
					if blocked {
						break
					}
				}
				if blocked {
					status[en.Address] = StatusSkipped
					mu.Unlock()
					cond.Broadcast()
					emit(ApplyEvent{Address: en.Address, Action: en.Action, Status: StatusSkipped})
					return
				}
				if ready {
					break
				}
				cond.Wait()
			}
			status[en.Address] = StatusRunning
			mu.Unlock()
			cond.Broadcast()

			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			emit(ApplyEvent{Address: en.Address, Action: en.Action, Status: StatusRunning})

			err := e.applyEntry(ctx, en, store)

			mu.Lock()
			if err != nil {
				status[en.Address] = StatusFailed
				if _, seen := summary.Errors[en.Address]; !seen {
					summary.Errors[en.Address] = err
				}
				var storeErr *state.StoreIOError
				if errors.As(err, &storeErr) && fatalErr == nil {
					fatalErr = err
				}
			} else {
				status[en.Address] = StatusSucceeded
			}
			mu.Unlock()
			cond.Broadcast()

			finalStatus := StatusSucceeded
			if err != nil {
				finalStatus = StatusFailed
			}
			emit(ApplyEvent{Address: en.Address, Action: en.Action, Status: finalStatus, Duration: time.Since(start), Err: err})
		}(entry)
	}

	wg.Wait()

	for _, entry := range plan.Entries {
		switch status[entry.Address] {
		case StatusSucceeded:
			switch entry.Action {
			case ir.ActionCreate:
				summary.Created++
			case ir.ActionUpdate:
				summary.Updated++
			case ir.ActionReplace:
				summary.Replaced++
			case ir.ActionDelete:
				summary.Deleted++
			}
		case StatusFailed:
			summary.Failed++
		case StatusSkipped:
			summary.Skipped++
		}
	}

	if fatalErr != nil {
		return summary, fatalErr
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("apply cancelled: %w", err)
	}
	return summary, nil
}

// entryDependencies computes, per entry, the set of other entries it must
// wait for. A Create/Update/Replace entry waits for the entries of its
// dependencies. A Delete entry waits for the entries of its dependents,
// so dependents are destroyed (or otherwise settled) first. A Replace
// entry destroys its old instance, so like a Delete it also waits for
// dependents that are themselves being deleted.
func entryDependencies(entries []*ir.PlanEntry) map[string][]string {
	byAddr := make(map[string]*ir.PlanEntry, len(entries))
	for _, en := range entries {
		byAddr[en.Address] = en
	}

	deps := func(en *ir.PlanEntry) []string {
		var out []string
		if en.Desired != nil {
			out = append(out, en.Desired.DependsOn...)
			for _, ref := range ExtractRefs(en.Desired.Arguments) {
				if addr := RefToAddr(ref); addr != "" {
					out = append(out, addr)
				}
			}
		} else if en.Prior != nil {
			out = append(out, en.Prior.Dependencies...)
		}
		return out
	}

	waitFor := make(map[string][]string, len(entries))
	for _, en := range entries {
		if en.Action != ir.ActionDelete {
			for _, dep := range deps(en) {
				if _, planned := byAddr[dep]; planned && dep != en.Address {
					waitFor[en.Address] = appendUnique(waitFor[en.Address], dep)
				}
			}
		}
	}
	for _, en := range entries {
		if en.Action != ir.ActionDelete {
			continue
		}
		// Every planned entry that depends on the deleted address must
		// settle before the delete runs.
		for _, other := range entries {
			if other.Address == en.Address {
				continue
			}
			for _, dep := range deps(other) {
				if dep == en.Address {
					waitFor[en.Address] = appendUnique(waitFor[en.Address], other.Address)
				}
			}
		}
	}
	for _, en := range entries {
		if en.Action != ir.ActionReplace {
			continue
		}
		// A dependent being deleted still references the old instance, so
		// its delete must finish before the replace destroys that instance.
		// No cycle can form: a planned Replace cannot depend on an address
		// that is absent from configuration.
		for _, other := range entries {
			if other.Action != ir.ActionDelete || other.Address == en.Address {
				continue
			}
			for _, dep := range deps(other) {
				if dep == en.Address {
					waitFor[en.Address] = appendUnique(waitFor[en.Address], other.Address)
				}
			}
		}
	}
	return waitFor
}

// applyEntry performs the provider operation for one entry and commits
// the result to the store. The store is touched only after the provider
// reports success.
func (e *Engine) applyEntry(ctx context.Context, entry *ir.PlanEntry, store Store) error {
	addr := entry.Address
	logging.Debug("applying entry", "address", addr, "action", entry.Action)

	provName := ""
	if entry.Desired != nil {
		provName = entry.Desired.Provider
	} else if entry.Prior != nil {
		provName = entry.Prior.Provider
	}

	prov, err := e.providers.Get(provName)
	if err != nil {
		return fmt.Errorf("provider not found for %s: %w", addr, err)
	}

	switch entry.Action {
	case ir.ActionCreate:
		return e.createResource(ctx, prov, entry, store)
	case ir.ActionUpdate:
		return e.updateResource(ctx, prov, entry, store)
	case ir.ActionReplace:
		return e.replaceResource(ctx, prov, entry, store)
	case ir.ActionDelete:
		return e.deleteResource(ctx, prov, entry, store)
	default:
		return fmt.Errorf("unexpected plan action %q for %s", entry.Action, addr)
	}
}

func (e *Engine) createResource(ctx context.Context, prov provider.Provider, entry *ir.PlanEntry, store Store) error {
	res := entry.Desired
	args := resolvedArguments(res, store)

	id, attrs, err := prov.Create(ctx, res.Type, res.Name, args)
	if err != nil {
		return &ProviderError{Address: entry.Address, Operation: "create", Err: err}
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	if _, ok := attrs["id"]; !ok {
		attrs["id"] = id
	}

	return store.Put(ctx, entry.Address, &ir.ResourceState{
		Type:         res.Type,
		Name:         res.Name,
		Provider:     res.Provider,
		Arguments:    args,
		Attributes:   attrs,
		Dependencies: declaredDependencies(res),
	})
}

func (e *Engine) updateResource(ctx context.Context, prov provider.Provider, entry *ir.PlanEntry, store Store) error {
	res := entry.Desired
	args := resolvedArguments(res, store)

	attrs, err := prov.Update(ctx, res.Type, entry.Prior.ID(), args)
	if err != nil {
		return &ProviderError{Address: entry.Address, Operation: "update", Err: err}
	}
	if attrs == nil {
		attrs = entry.Prior.Attributes
	}

	return store.Put(ctx, entry.Address, &ir.ResourceState{
		Type:         res.Type,
		Name:         res.Name,
		Provider:     res.Provider,
		Arguments:    args,
		Attributes:   attrs,
		Dependencies: declaredDependencies(res),
	})
}

// replaceResource performs the ordered delete/create pair for a Replace
// entry. The store reflects each half as it succeeds: after a successful
// delete the old record is gone, after a successful create the new one
// is present. A failure in either half leaves the store at the last
// confirmed step.
func (e *Engine) replaceResource(ctx context.Context, prov provider.Provider, entry *ir.PlanEntry, store Store) error {
	if entry.CreateBeforeDestroy {
		oldID := entry.Prior.ID()
		if err := e.createResource(ctx, prov, entry, store); err != nil {
			return err
		}
		if err := prov.Delete(ctx, entry.Prior.Type, oldID); err != nil {
			return &ProviderError{Address: entry.Address, Operation: "delete", Err: err}
		}
		return nil
	}

	if err := e.deleteResource(ctx, prov, entry, store); err != nil {
		return err
	}
	return e.createResource(ctx, prov, entry, store)
}

func (e *Engine) deleteResource(ctx context.Context, prov provider.Provider, entry *ir.PlanEntry, store Store) error {
	prior := entry.Prior
	if err := prov.Delete(ctx, prior.Type, prior.ID()); err != nil {
		return &ProviderError{Address: entry.Address, Operation: "delete", Err: err}
	}
	return store.Remove(ctx, entry.Address)
}

// resolvedArguments resolves ptr:// references just-in-time against the
// store, which by now holds the attributes of every completed dependency.
func resolvedArguments(res *ir.Resource, store Store) map[string]any {
	return normalizeArguments(resolveRefs(res.Arguments, store).(map[string]any))
}

func declaredDependencies(res *ir.Resource) []string {
	var out []string
	for _, dep := range res.DependsOn {
		out = appendUnique(out, dep)
	}
	for _, ref := range ExtractRefs(res.Arguments) {
		if addr := RefToAddr(ref); addr != "" && addr != res.Addr() {
			out = appendUnique(out, addr)
		}
	}
	return out
}
