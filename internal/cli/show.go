package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Show the current state",
	Long:  `Displays a human-readable view of the current state document.`,
	RunE:  runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output in JSON format")
}

func runShow(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveProject(args)
	if err != nil {
		return err
	}

	store, err := openStore(cmd.Context(), wd)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	doc := store.Document()

	if showJSON {
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("State: version=%d serial=%d lineage=%s\n", doc.Version, doc.Serial, doc.Lineage)
	fmt.Printf("Resources: %d\n\n", len(doc.Resources))

	for _, res := range doc.Resources {
		fmt.Printf("# %s\n", res.Addr())
		fmt.Printf("  provider = %s\n", res.Provider)
		for k, v := range res.Attributes {
			fmt.Printf("  %s = %v\n", k, v)
		}
		fmt.Println()
	}

	if len(doc.Outputs) > 0 {
		fmt.Println("Outputs:")
		for k, v := range doc.Outputs {
			fmt.Printf("  %s = %v\n", k, v)
		}
	}

	return nil
}
