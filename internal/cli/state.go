package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage reef state",
	Long:  `Commands for inspecting and modifying reef state.`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show the record of a single resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateMvCmd = &cobra.Command{
	Use:   "mv <source> <destination>",
	Short: "Move a resource to a new address",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateMv,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Remove a resource from state (does not destroy)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateMvCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveProject(nil)
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), wd)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}

	doc := store.Document()
	if len(doc.Resources) == 0 {
		fmt.Println("No resources in state.")
		return nil
	}

	fmt.Printf("State version: %d, serial: %d, lineage: %s\n\n", doc.Version, doc.Serial, doc.Lineage)
	for _, addr := range store.List() {
		res, _ := store.Get(addr)
		fmt.Printf("  %s (provider: %s)\n", addr, res.Provider)
	}
	fmt.Printf("\nTotal: %d resource(s)\n", len(doc.Resources))

	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveProject(nil)
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), wd)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}

	target := args[0]
	res, ok := store.Get(target)
	if !ok {
		return fmt.Errorf("resource %s not found in state", target)
	}

	fmt.Printf("# %s\n", target)
	fmt.Printf("  provider = %s\n", res.Provider)
	fmt.Printf("  type     = %s\n", res.Type)
	fmt.Printf("  name     = %s\n", res.Name)

	if len(res.Arguments) > 0 {
		fmt.Println("\n  Arguments:")
		for k, v := range res.Arguments {
			fmt.Printf("    %s = %v\n", k, v)
		}
	}

	if len(res.Attributes) > 0 {
		fmt.Println("\n  Attributes:")
		for k, v := range res.Attributes {
			fmt.Printf("    %s = %v\n", k, v)
		}
	}

	if len(res.Dependencies) > 0 {
		fmt.Printf("\n  depends on: %s\n", strings.Join(res.Dependencies, ", "))
	}

	return nil
}

func runStateMv(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveProject(nil)
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

	src, dst := args[0], args[1]
	res, ok := store.Get(src)
	if !ok {
		return fmt.Errorf("resource %s not found in state", src)
	}

	parts := strings.SplitN(dst, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid destination address %q, expected format type.name", dst)
	}
	if _, exists := store.Get(dst); exists {
		return fmt.Errorf("resource %s already exists in state", dst)
	}

	moved := *res
	moved.Type = parts[0]
	moved.Name = parts[1]

	if err := store.Remove(ctx, src); err != nil {
		return err
	}
	if err := store.Put(ctx, dst, &moved); err != nil {
		return err
	}

	fmt.Printf("Moved %s to %s\n", src, dst)
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveProject(nil)
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

	target := args[0]
	if _, ok := store.Get(target); !ok {
		return fmt.Errorf("resource %s not found in state", target)
	}
	if err := store.Remove(ctx, target); err != nil {
		return err
	}

	fmt.Printf("Removed %s from state (resource was NOT destroyed)\n", target)
	return nil
}
