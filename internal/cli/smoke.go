package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faststack-io/faststack/internal/smoke"
)

var smokeImage string

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Run the built agent image locally and check its health endpoint",
	Long: `Starts the agent container on the local Docker daemon, waits for the
health endpoint to answer, and tears it down. Useful before deploying a
new image remotely.`,
	RunE: runSmoke,
}

func init() {
	smokeCmd.Flags().StringVar(&smokeImage, "image", "", "Image reference to check (defaults to the last built image)")
}

func runSmoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	imageRef := smokeImage
	if imageRef == "" {
		backend, err := recordBackend(cfg)
		if err != nil {
			return err
		}
		rec, err := backend.Read(ctx)
		if err != nil {
			return err
		}
		if rec == nil || rec.Report == nil || rec.Report.Outputs.ImageURI == "" {
			return fmt.Errorf("no built image recorded; pass --image or deploy first")
		}
		imageRef = rec.Report.Outputs.ImageURI
	}

	runner, err := smoke.NewRunner()
	if err != nil {
		return err
	}

	fmt.Printf("Smoke-testing %s...\n", imageRef)
	if err := runner.Run(ctx, imageRef, map[string]string{
		"STACK_NAME":    cfg.StackName,
		"AGENT_PATTERN": cfg.Backend.Pattern,
	}); err != nil {
		return fmt.Errorf("smoke check failed: %w", err)
	}

	fmt.Println("Smoke check passed.")
	return nil
}
