package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faststack-io/faststack/internal/orchestrator"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and resource graph",
	Long: `Checks the configuration file for errors and plans the resource graph
without touching the cloud, surfacing cycles and dangling references.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("Configuration OK: stack %q in %s (pattern %s)\n", cfg.StackName, cfg.Region, cfg.Backend.Pattern)

	orch, err := orchestrator.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	if err := orch.Validate(); err != nil {
		return fmt.Errorf("graph validation failed: %w", err)
	}

	order, err := orch.PlanOrder()
	if err != nil {
		return err
	}
	fmt.Printf("Graph OK: %d resources, creation order:\n", len(order))
	for i, n := range order {
		fmt.Printf("  %2d. %s (%s)\n", i+1, n.ID, n.Kind)
	}
	return nil
}
