package cli

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/reef-io/reef/internal/engine"
	"github.com/reef-io/reef/internal/provider"
	pkgprovider "github.com/reef-io/reef/pkg/provider"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [path]",
	Short: "Update state to match real resources",
	Long: `Reads the current attributes of all managed resources from their
providers and updates state to reflect reality.

This detects drift between what reef recorded and what actually exists.
Resources the provider reports as gone are removed from state.`,
	RunE: runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) error {
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

	resources := store.Resources()
	if len(resources) == 0 {
		fmt.Println("No resources to refresh.")
		return nil
	}

	registry := provider.NewRegistry()
	if err := loadStateProviders(registry, store); err != nil {
		return err
	}

	fmt.Printf("Refreshing %d resource(s)...\n\n", len(resources))

	drifted := 0
	deleted := 0

	for _, res := range resources {
		addr := res.Addr()
		prov, err := registry.Get(res.Provider)
		if err != nil {
			fmt.Printf("  %s: SKIP (provider %s not available)\n", addr, res.Provider)
			continue
		}

		attrs, err := prov.Read(ctx, res.Type, res.ID())
		if err != nil {
			if errors.Is(err, pkgprovider.ErrNotFound) {
				fmt.Printf("  \033[31m%s: DELETED (no longer exists)\033[0m\n", addr)
				if err := store.Remove(ctx, addr); err != nil {
					return err
				}
				deleted++
				continue
			}
			fmt.Printf("  \033[31m%s: ERROR (%v)\033[0m\n", addr, err)
			continue
		}

		if attrs != nil && attributesDrifted(attrs, res.Attributes) {
			fmt.Printf("  \033[33m%s: DRIFTED (state updated)\033[0m\n", addr)
			res.Attributes = engine.NormalizeAttributes(attrs)
			if err := store.Put(ctx, addr, res); err != nil {
				return err
			}
			drifted++
			continue
		}

		fmt.Printf("  %s: OK\n", addr)
	}

	fmt.Printf("\nRefresh complete. %d drifted, %d deleted.\n", drifted, deleted)
	return nil
}

// attributesDrifted compares freshly read provider attributes against the
// stored ones. Stored state has been through a JSON round trip, so both
// sides are normalized first; an int read from a provider compares equal
// to its stored float64 form.
func attributesDrifted(fresh, stored map[string]any) bool {
	return !reflect.DeepEqual(engine.NormalizeAttributes(fresh), engine.NormalizeAttributes(stored))
}
