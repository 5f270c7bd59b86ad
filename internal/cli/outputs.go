package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var outputsJSON bool

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "Show the outputs of the last deployment",
	RunE:  runOutputs,
}

func init() {
	outputsCmd.Flags().BoolVar(&outputsJSON, "json", false, "Emit outputs as JSON")
}

func runOutputs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	backend, err := recordBackend(cfg)
	if err != nil {
		return err
	}
	rec, err := backend.Read(cmd.Context())
	if err != nil {
		return err
	}
	if rec == nil || rec.Report == nil {
		return fmt.Errorf("no recorded run for stack %q; deploy first", cfg.StackName)
	}

	if outputsJSON {
		raw, err := json.MarshalIndent(rec.Report.Outputs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	}

	renderOutputs(rec.Report.Outputs)
	return nil
}
