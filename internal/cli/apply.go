package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reef-io/reef/internal/engine"
	"github.com/reef-io/reef/internal/eval"
	"github.com/reef-io/reef/internal/provider"
)

var (
	applyAutoApprove bool
	applyParallelism int
	applyTargets     []string
	applyProperties  map[string]string
)

var applyCmd = &cobra.Command{
	Use:   "apply [path]",
	Short: "Apply a configuration",
	Long:  `Builds or changes resources according to reef configuration files.`,
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", 0, "Maximum number of concurrent operations (0 uses the default)")
	applyCmd.Flags().StringSliceVar(&applyTargets, "target", nil, "Limit the run to a resource address (may be repeated)")
	applyCmd.Flags().StringToStringVarP(&applyProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runApply(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveProject(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)

	fmt.Print("Loading configuration... ")
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, applyProperties)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println("OK")

	store, err := openStore(ctx, wd)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	if err := store.Lock(); err != nil {
		return err
	}
	defer store.Unlock()

	registry := provider.NewRegistry()
	if err := loadRequiredProviders(registry, cfg); err != nil {
		return err
	}
	if err := loadStateProviders(registry, store); err != nil {
		return err
	}

	eng := engine.NewEngine(registry)
	if applyParallelism > 0 {
		eng.Parallelism = applyParallelism
	}

	fmt.Print("Calculating plan... ")
	plan, err := eng.CreatePlanWithTargets(ctx, cfg, store, applyTargets)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	if len(plan.Errors) > 0 {
		renderPlanErrors(plan)
		return fmt.Errorf("%d resource(s) could not be planned", len(plan.Errors))
	}

	if len(plan.Entries) == 0 {
		fmt.Println("No changes. Resources are up-to-date.")
		return nil
	}

	fmt.Println("\nReef will perform the following actions:")
	renderPlanEntries(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n\n", len(plan.Entries))

	summary, err := eng.ApplyWithCallback(ctx, plan, store, renderApplyProgress)
	if err != nil {
		return fmt.Errorf("apply aborted: %w", err)
	}

	if len(plan.Outputs) > 0 && summary.Failed == 0 {
		resolved := engine.ResolveOutputs(plan.Outputs, store)
		if err := store.SetOutputs(ctx, resolved); err != nil {
			return fmt.Errorf("failed to write outputs: %w", err)
		}
		fmt.Println("\nOutputs:")
		for k, v := range resolved {
			fmt.Printf("  %s = %v\n", k, v)
		}
	}

	fmt.Printf("\nApply complete! Resources: %d added, %d changed, %d replaced, %d destroyed.\n",
		summary.Created, summary.Updated, summary.Replaced, summary.Deleted)

	if summary.PartialFailure() {
		fmt.Printf("\n%d operation(s) failed, %d skipped:\n", summary.Failed, summary.Skipped)
		for addr, opErr := range summary.Errors {
			fmt.Printf("  \033[31m%s: %v\033[0m\n", addr, opErr)
		}
		return fmt.Errorf("apply finished with %d failure(s)", summary.Failed)
	}

	return nil
}
