package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/reef-io/reef/internal/engine"
	"github.com/reef-io/reef/internal/ir"
	"github.com/reef-io/reef/internal/provider"
	"github.com/reef-io/reef/internal/state"
)

// resolveProject resolves the optional positional path argument into a
// project directory and Pkl entry point.
func resolveProject(args []string) (wd, entryPoint string, err error) {
	wd, err = os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get working directory: %w", err)
	}
	entryPoint = "main.pkl"

	if len(args) > 0 {
		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return "", "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
		}

		if info.IsDir() {
			wd = absPath
		} else {
			wd = filepath.Dir(absPath)
			entryPoint = filepath.Base(absPath)
		}
	}
	return wd, entryPoint, nil
}

// openStore builds the configured backend and opens the state store over
// it. The local backend defaults to .reef/state.json under the project
// directory.
func openStore(ctx context.Context, projectDir string) (*state.Store, error) {
	opts := make(map[string]string, len(backendOpts)+1)
	for k, v := range backendOpts {
		opts[k] = v
	}
	if backendType == "local" || backendType == "" {
		if opts["path"] == "" {
			opts["path"] = filepath.Join(projectDir, ".reef", "state.json")
		}
	}

	backend, err := state.NewBackend(&state.BackendConfig{Type: backendType, Options: opts})
	if err != nil {
		return nil, fmt.Errorf("failed to configure state backend: %w", err)
	}
	return state.Open(ctx, backend)
}

// loadRequiredProviders auto-loads all providers referenced by config resources.
func loadRequiredProviders(registry *provider.Registry, cfg *ir.Config) error {
	seen := make(map[string]bool)
	for _, res := range cfg.Resources {
		if res.Provider != "" && !seen[res.Provider] {
			seen[res.Provider] = true
			if err := registry.LoadProvider(res.Provider); err != nil {
				return fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
			}
		}
	}
	return nil
}

// loadStateProviders auto-loads all providers referenced by stored resources (needed for DELETE).
func loadStateProviders(registry *provider.Registry, store *state.Store) error {
	seen := make(map[string]bool)
	for _, res := range store.Resources() {
		if res.Provider != "" && !seen[res.Provider] {
			seen[res.Provider] = true
			if err := registry.LoadProvider(res.Provider); err != nil {
				return fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
			}
		}
	}
	return nil
}

// renderPlanEntries prints the detailed change list for a plan.
func renderPlanEntries(plan *ir.Plan) {
	for _, entry := range plan.Entries {
		symbol := "~"
		switch entry.Action {
		case ir.ActionCreate:
			symbol = "+"
		case ir.ActionDelete:
			symbol = "-"
		case ir.ActionReplace:
			symbol = "-/+"
			if entry.CreateBeforeDestroy {
				symbol = "+/-"
			}
		}

		color := "\033[0m"
		switch entry.Action {
		case ir.ActionCreate:
			color = "\033[32m"
		case ir.ActionDelete:
			color = "\033[31m"
		case ir.ActionUpdate, ir.ActionReplace:
			color = "\033[33m"
		}

		var resourceType, resourceName string
		if entry.Desired != nil {
			resourceType = entry.Desired.Type
			resourceName = entry.Desired.Name
		} else if entry.Prior != nil {
			resourceType = entry.Prior.Type
			resourceName = entry.Prior.Name
		}

		fmt.Printf("\n%s  # %s will be %s (%s)%s\n", color, entry.Address, entry.Action, entry.Reason, "\033[0m")
		fmt.Printf("%s  %s resource \"%s\" \"%s\" {\n", color, symbol, resourceType, resourceName)
		renderArgumentDiff(entry.Diff, color)
		fmt.Printf("%s    }%s\n", color, "\033[0m")
	}
}

// renderArgumentDiff prints structured argument diffs.
func renderArgumentDiff(diff map[string]*ir.ArgumentDiff, color string) {
	for key, d := range diff {
		suffix := ""
		if d.ForcesReplacement {
			suffix = " # forces replacement"
		}
		switch d.Action {
		case "create":
			fmt.Printf("\033[32m      + %s = %v%s\033[0m\n", key, formatValue(d.After), suffix)
		case "delete":
			fmt.Printf("\033[31m      - %s = %v%s\033[0m\n", key, formatValue(d.Before), suffix)
		case "update":
			fmt.Printf("\033[33m      ~ %s = %v -> %v%s\033[0m\n", key, formatValue(d.Before), formatValue(d.After), suffix)
		default:
			fmt.Printf("%s        %s = %v\n", color, key, formatValue(d.After))
		}
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  Delete:  %d\n", plan.Summary.Delete)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
}

// renderPlanErrors prints per-resource diff failures.
func renderPlanErrors(plan *ir.Plan) {
	if len(plan.Errors) == 0 {
		return
	}
	fmt.Printf("\n%d resource(s) could not be planned:\n", len(plan.Errors))
	for addr, msg := range plan.Errors {
		fmt.Printf("  \033[31m%s: %s\033[0m\n", addr, msg)
	}
}

// renderApplyProgress is the default ApplyCallback used by apply and
// destroy.
func renderApplyProgress(event engine.ApplyEvent) {
	switch event.Status {
	case engine.StatusRunning:
		fmt.Printf("%s: %s...\n", event.Address, applyVerb(event.Action))
	case engine.StatusSucceeded:
		fmt.Printf("\033[32m%s: done (%s)\033[0m\n", event.Address, event.Duration.Round(time.Millisecond))
	case engine.StatusFailed:
		fmt.Printf("\033[31m%s: failed: %v\033[0m\n", event.Address, event.Err)
	case engine.StatusSkipped:
		fmt.Printf("\033[33m%s: skipped (dependency failed)\033[0m\n", event.Address)
	}
}

func applyVerb(action ir.Action) string {
	switch action {
	case ir.ActionCreate:
		return "creating"
	case ir.ActionUpdate:
		return "updating"
	case ir.ActionReplace:
		return "replacing"
	case ir.ActionDelete:
		return "deleting"
	default:
		return "applying"
	}
}
