package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faststack-io/faststack/internal/orchestrator"
	"github.com/faststack-io/faststack/internal/state"
)

var deployAutoApprove bool

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the stack described by the configuration",
	Long: `Builds the resource graph from the configuration, provisions every node in
dependency order, and records the run. On failure the report still shows
which resources applied and which were skipped.`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().BoolVar(&deployAutoApprove, "auto-approve", false, "Skip interactive approval before deploying")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return err
	}

	order, err := orch.PlanOrder()
	if err != nil {
		return err
	}

	fmt.Printf("Stack %q will provision %d resources:\n", cfg.StackName, len(order))
	for _, n := range order {
		fmt.Printf("  + %s (%s)\n", n.ID, n.Kind)
	}

	if !deployAutoApprove {
		fmt.Print("\nDo you want to continue? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Deploy cancelled.")
			return nil
		}
	}

	backend, err := recordBackend(cfg)
	if err != nil {
		return err
	}
	if err := backend.Lock(); err != nil {
		return err
	}
	defer backend.Unlock()

	fmt.Println("\nDeploying...")
	report, runErr := orch.Deploy(ctx, progressPrinter)

	if report != nil {
		// Persist the record even on partial failure so destroy can find
		// what was created.
		if err := backend.Write(ctx, state.NewRecord(cfg.StackName, report)); err != nil {
			fmt.Printf("warning: failed to save run record: %v\n", err)
		}
		renderReport(report)
		renderOutputs(report.Outputs)
	}

	if runErr != nil {
		return fmt.Errorf("deploy failed: %w", runErr)
	}
	fmt.Println("\nDeploy complete!")
	return nil
}
