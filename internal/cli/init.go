package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new reef project",
	Long:  `Creates a new reef project with default configuration files.`,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(".reef", 0755); err != nil {
		return fmt.Errorf("failed to create .reef directory: %w", err)
	}

	// Create main.pkl if it doesn't exist
	mainPkl := "main.pkl"
	if _, err := os.Stat(mainPkl); os.IsNotExist(err) {
		content := `// Reef configuration
// See: https://github.com/reef-io/reef

amends "reef:Config"

resources {
  // Add your resources here
}

outputs {
  // Add your outputs here
}
`
		if err := os.WriteFile(mainPkl, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", mainPkl, err)
		}
		fmt.Printf("Created %s\n", mainPkl)
	}

	// Create an empty state document
	statePath := filepath.Join(".reef", "state.json")
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		content := `{
  "version": 1,
  "serial": 0,
  "lineage": "",
  "resources": []
}
`
		if err := os.WriteFile(statePath, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create state file: %w", err)
		}
		fmt.Printf("Created %s\n", statePath)
	}

	fmt.Println("\nReef initialized successfully!")
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit main.pkl to define your resources")
	fmt.Println("  2. Run 'reef plan' to see what will be created")
	fmt.Println("  3. Run 'reef apply' to create your resources")

	return nil
}
