package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/reef-io/reef/internal/ir"
	"github.com/reef-io/reef/internal/logging"
	"github.com/reef-io/reef/pkg/provider"
)

// CreatePlan generates an execution plan by comparing declared
// configuration with stored state.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, store Store) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, store, nil)
}

// CreatePlanWithTargets generates a plan filtered to specific resource
// addresses (plus their transitive dependencies). If targets is empty,
// all resources are planned.
//
// Create/Update entries appear in creation (topological) order, Delete
// entries in destruction (reverse topological) order. Configuration
// errors (cycles, unknown references) abort planning before any provider
// is consulted; a per-resource diff failure is recorded in plan.Errors
// and voids only that resource's entry.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, store Store, targets []string) (*ir.Plan, error) {
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(store.List()), "targets", len(targets))

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{Timestamp: time.Now().UTC().Format(time.RFC3339)},
		Entries:  []*ir.PlanEntry{},
		Summary:  &ir.PlanSummary{},
		Errors:   map[string]string{},
		Outputs:  cfg.Outputs,
	}

	resources := ExpandForEach(cfg.Resources)

	graph, err := BuildGraph(resources)
	if err != nil {
		return nil, err
	}

	configByAddr := make(map[string]*ir.Resource, len(resources))
	for _, res := range resources {
		configByAddr[res.Addr()] = res
	}

	var targetSet map[string]bool
	if len(targets) > 0 {
		targetSet = make(map[string]bool)
		for _, t := range targets {
			targetSet[t] = true
			for _, dep := range graph.TransitiveDeps(t) {
				targetSet[dep] = true
			}
		}
	}

	// Addresses with a pending Create/Update/Replace entry. Creation order
	// guarantees a dependency is diffed before anything that references it,
	// so dependents can see that a referenced value is about to move.
	changing := make(map[string]bool)

	for _, addr := range graph.CreationOrder() {
		res := configByAddr[addr]

		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			continue
		}

		entry, err := e.diffResource(addr, res, store, changing)
		if err != nil {
			var diffErr *DiffError
			if errors.As(err, &diffErr) {
				plan.Errors[addr] = diffErr.Error()
				continue
			}
			return nil, err
		}

		if entry == nil {
			plan.Summary.NoOp++
			continue
		}

		plan.Entries = append(plan.Entries, entry)
		changing[addr] = true
		switch entry.Action {
		case ir.ActionCreate:
			plan.Summary.Create++
		case ir.ActionUpdate:
			plan.Summary.Update++
		case ir.ActionReplace:
			plan.Summary.Replace++
		}
	}

	// Resources in state but no longer declared are deleted, dependents
	// before dependencies.
	stateGraph, err := BuildGraphFromState(store.Resources())
	if err != nil {
		return nil, err
	}
	for _, addr := range stateGraph.DestructionOrder() {
		if _, declared := configByAddr[addr]; declared {
			continue
		}
		prior, ok := store.Get(addr)
		if !ok {
			continue // dangling dependency recorded in state
		}
		if targetSet != nil && !targetSet[addr] {
			continue
		}
		plan.Entries = append(plan.Entries, &ir.PlanEntry{
			Address: addr,
			Action:  ir.ActionDelete,
			Reason:  "not present in configuration",
			Prior:   prior,
			Diff:    buildDeleteDiff(prior.Arguments),
		})
		plan.Summary.Delete++
	}

	return plan, nil
}

// CreateDestroyPlan plans the deletion of every resource in the store,
// in destruction order.
func (e *Engine) CreateDestroyPlan(ctx context.Context, store Store) (*ir.Plan, error) {
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{Timestamp: time.Now().UTC().Format(time.RFC3339)},
		Entries:  []*ir.PlanEntry{},
		Summary:  &ir.PlanSummary{},
	}

	stateGraph, err := BuildGraphFromState(store.Resources())
	if err != nil {
		return nil, err
	}
	for _, addr := range stateGraph.DestructionOrder() {
		prior, ok := store.Get(addr)
		if !ok {
			continue
		}
		plan.Entries = append(plan.Entries, &ir.PlanEntry{
			Address: addr,
			Action:  ir.ActionDelete,
			Reason:  "destroy requested",
			Prior:   prior,
			Diff:    buildDeleteDiff(prior.Arguments),
		})
		plan.Summary.Delete++
	}
	return plan, nil
}

// diffResource computes the action for a single declared resource. It
// returns nil when nothing needs doing, a *DiffError when the action
// cannot be determined for this resource, or a fatal error otherwise.
func (e *Engine) diffResource(addr string, res *ir.Resource, store Store, changing map[string]bool) (*ir.PlanEntry, error) {
	desired := normalizeArguments(resolveRefs(res.Arguments, store).(map[string]any))

	prior, exists := store.Get(addr)
	if !exists {
		return &ir.PlanEntry{
			Address: addr,
			Action:  ir.ActionCreate,
			Reason:  "not present in state",
			Desired: res,
			Diff:    buildCreateDiff(desired),
		}, nil
	}

	priorArgs := normalizeArguments(prior.Arguments)
	diff := diffArguments(priorArgs, desired)

	// An argument referencing a resource this plan is about to create,
	// update, or replace cannot be compared against state: its value is
	// known only after the dependency applies. Treat it as changed so the
	// executor re-resolves it, instead of planning a NoOp against a value
	// that is about to go stale.
	for arg, raw := range res.Arguments {
		if _, already := diff[arg]; already {
			continue
		}
		if !refersToChanging(raw, changing) {
			continue
		}
		diff[arg] = &ir.ArgumentDiff{Before: priorArgs[arg], After: normalizeValue(raw), Action: "update"}
	}

	// Lifecycle ignore_changes drops selected arguments from consideration.
	if res.Lifecycle != nil {
		for _, ignored := range res.Lifecycle.IgnoreChanges {
			delete(diff, ignored)
		}
	}

	if len(diff) == 0 {
		return nil, nil
	}

	prov, err := e.providers.Get(res.Provider)
	if err != nil {
		return nil, err
	}
	schema, err := prov.Schema(res.Type)
	if err != nil {
		return nil, &DiffError{Address: addr, Err: err}
	}

	var forced []string
	for arg, d := range diff {
		forces, known := schema.ForcesReplacement(arg)
		if !known {
			return nil, &DiffError{Address: addr, Argument: arg, Err: fmt.Errorf("not declared in the %s schema", res.Type)}
		}
		d.ForcesReplacement = forces
		if forces {
			forced = append(forced, arg)
		}
	}

	// A single force-new argument forces the whole resource to Replace,
	// even when every other changed argument is updatable in place.
	if len(forced) > 0 {
		if res.Lifecycle != nil && res.Lifecycle.PreventDestroy {
			return nil, fmt.Errorf("resource %s has prevent_destroy set but plan requires replacement", addr)
		}
		sort.Strings(forced)
		return &ir.PlanEntry{
			Address:             addr,
			Action:              ir.ActionReplace,
			Reason:              fmt.Sprintf("force-new arguments changed: %s", strings.Join(forced, ", ")),
			CreateBeforeDestroy: createBeforeDestroy(res, schema),
			Desired:             res,
			Prior:               prior,
			Diff:                diff,
		}, nil
	}

	changed := make([]string, 0, len(diff))
	for arg := range diff {
		changed = append(changed, arg)
	}
	sort.Strings(changed)

	return &ir.PlanEntry{
		Address: addr,
		Action:  ir.ActionUpdate,
		Reason:  fmt.Sprintf("arguments changed: %s", strings.Join(changed, ", ")),
		Desired: res,
		Prior:   prior,
		Diff:    diff,
	}, nil
}

// refersToChanging reports whether a value holds a ptr:// reference to an
// address that has a pending plan entry.
func refersToChanging(v any, changing map[string]bool) bool {
	for _, ref := range ExtractRefs(v) {
		if changing[RefToAddr(ref)] {
			return true
		}
	}
	return false
}

// diffArguments compares prior and desired argument maps and returns the
// changed keys only. Equality is deep structural equality over
// normalized values.
func diffArguments(prior, desired map[string]any) map[string]*ir.ArgumentDiff {
	diff := make(map[string]*ir.ArgumentDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			diff[k] = &ir.ArgumentDiff{After: desiredVal, Action: "create"}
		case !inDesired:
			diff[k] = &ir.ArgumentDiff{Before: priorVal, Action: "delete"}
		case !reflect.DeepEqual(priorVal, desiredVal):
			diff[k] = &ir.ArgumentDiff{Before: priorVal, After: desiredVal, Action: "update"}
		}
	}

	return diff
}

func buildCreateDiff(args map[string]any) map[string]*ir.ArgumentDiff {
	diff := make(map[string]*ir.ArgumentDiff)
	for k, v := range args {
		diff[k] = &ir.ArgumentDiff{After: v, Action: "create"}
	}
	return diff
}

func buildDeleteDiff(args map[string]any) map[string]*ir.ArgumentDiff {
	diff := make(map[string]*ir.ArgumentDiff)
	for k, v := range args {
		diff[k] = &ir.ArgumentDiff{Before: v, Action: "delete"}
	}
	return diff
}

func createBeforeDestroy(res *ir.Resource, schema *provider.Schema) bool {
	if res.Lifecycle != nil && res.Lifecycle.CreateBeforeDestroy {
		return true
	}
	return schema != nil && schema.CreateBeforeDestroy
}
