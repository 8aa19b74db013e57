package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reef-io/reef/internal/engine"
	"github.com/reef-io/reef/internal/provider"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [path]",
	Short: "Destroy all managed resources",
	Long: `Destroys all resources tracked in state, dependents before their
dependencies. This command is the inverse of 'reef apply'.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveProject(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := openStore(ctx, wd)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	if err := store.Lock(); err != nil {
		return err
	}
	defer store.Unlock()

	registry := provider.NewRegistry()
	if err := loadStateProviders(registry, store); err != nil {
		return err
	}

	eng := engine.NewEngine(registry)

	plan, err := eng.CreateDestroyPlan(ctx, store)
	if err != nil {
		return fmt.Errorf("destroy plan generation failed: %w", err)
	}

	if len(plan.Entries) == 0 {
		fmt.Println("No resources in state. Nothing to destroy.")
		return nil
	}

	fmt.Printf("Reef will destroy %d resource(s):\n", len(plan.Entries))
	renderPlanEntries(plan)

	if !destroyAutoApprove {
		fmt.Print("\nDo you really want to destroy all resources? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	fmt.Printf("\nDestroying %d resource(s)...\n\n", len(plan.Entries))

	summary, err := eng.ApplyWithCallback(ctx, plan, store, renderApplyProgress)
	if err != nil {
		return fmt.Errorf("destroy aborted: %w", err)
	}

	fmt.Printf("\nDestroy complete! Resources: %d destroyed.\n", summary.Deleted)

	if summary.PartialFailure() {
		fmt.Printf("\n%d operation(s) failed, %d skipped:\n", summary.Failed, summary.Skipped)
		for addr, opErr := range summary.Errors {
			fmt.Printf("  \033[31m%s: %v\033[0m\n", addr, opErr)
		}
		return fmt.Errorf("destroy finished with %d failure(s)", summary.Failed)
	}

	return nil
}
