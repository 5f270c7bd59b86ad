package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faststack-io/faststack/internal/orchestrator"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Tear down everything the last run created",
	Long: `Deletes the stack's resources in reverse dependency order, using the
recorded outputs of the last run to find them. Resources already gone
remotely are tolerated.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	backend, err := recordBackend(cfg)
	if err != nil {
		return err
	}

	rec, err := backend.Read(ctx)
	if err != nil {
		return err
	}
	recorded := rec.RecordedOutputs()
	if len(recorded) == 0 {
		fmt.Println("Nothing to destroy: no recorded run found.")
		return nil
	}

	fmt.Printf("Stack %q will destroy %d resources.\n", cfg.StackName, len(recorded))
	if !destroyAutoApprove {
		fmt.Print("\nThis cannot be undone. Continue? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	if err := backend.Lock(); err != nil {
		return err
	}
	defer backend.Unlock()

	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return err
	}

	fmt.Println("\nDestroying...")
	if err := orch.Destroy(ctx, recorded, progressPrinter); err != nil {
		return fmt.Errorf("destroy failed: %w", err)
	}

	rec.Report = nil
	if err := backend.Write(ctx, rec); err != nil {
		fmt.Printf("warning: failed to clear run record: %v\n", err)
	}

	fmt.Println("\nDestroy complete!")
	return nil
}
