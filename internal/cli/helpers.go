package cli

import (
	"fmt"
	"time"

	"github.com/faststack-io/faststack/internal/config"
	"github.com/faststack-io/faststack/internal/engine"
	"github.com/faststack-io/faststack/internal/ir"
	"github.com/faststack-io/faststack/internal/state"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

// loadConfig reads the configured stack file with --set overrides applied.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath, setOverrides)
}

// recordBackend picks where the run record lives. The s3 override lets teams
// share one record per stack.
func recordBackend(cfg *config.Config) (state.Backend, error) {
	if bucket := cfg.Overrides["record_bucket"]; bucket != "" {
		return state.NewBackend(&state.BackendConfig{
			Type: "s3",
			Config: map[string]string{
				"bucket":         bucket,
				"key":            "faststack/" + cfg.StackName + "/run.json",
				"region":         cfg.Region,
				"dynamodb_table": cfg.Overrides["record_lock_table"],
			},
		})
	}
	return state.NewLocal(""), nil
}

// progressPrinter renders per-node events as the run proceeds.
func progressPrinter(ev engine.Event) {
	switch ev.Status {
	case "started":
		fmt.Printf("  %s: provisioning (%s)...\n", ev.NodeID, ev.Kind)
	case "applied":
		fmt.Printf("%s  %s: applied%s (%s)\n", colorGreen, ev.NodeID, colorReset, ev.Duration.Round(time.Millisecond))
	case "failed":
		fmt.Printf("%s  %s: FAILED%s: %v\n", colorRed, ev.NodeID, colorReset, ev.Error)
	case "skipped":
		fmt.Printf("%s  %s: skipped%s (dependency failed)\n", colorYellow, ev.NodeID, colorReset)
	}
}

// renderReport prints the final accounting of a run.
func renderReport(report *ir.RunReport) {
	var applied, failed, skipped int

	fmt.Println("\nRun report:")
	for _, res := range report.Results {
		switch res.Status {
		case ir.StatusApplied:
			applied++
			fmt.Printf("%s  + %-20s applied%s  (%s)\n", colorGreen, res.ID, colorReset, res.Duration.Round(time.Millisecond))
		case ir.StatusFailed:
			failed++
			fmt.Printf("%s  ! %-20s failed%s   %s\n", colorRed, res.ID, colorReset, res.Error)
		case ir.StatusSkipped:
			skipped++
			fmt.Printf("%s  - %-20s skipped%s\n", colorYellow, res.ID, colorReset)
		}
	}
	fmt.Printf("\n%d applied, %d failed, %d skipped.\n", applied, failed, skipped)
}

// renderOutputs prints the deployment summary values.
func renderOutputs(out ir.DeploymentOutputs) {
	rows := []struct{ name, value string }{
		{"identity_domain", out.IdentityDomain},
		{"user_pool_id", out.UserPoolID},
		{"image_uri", out.ImageURI},
		{"runtime_arn", out.RuntimeARN},
		{"gateway_url", out.GatewayURL},
		{"api_endpoint", out.ApiEndpoint},
		{"frontend_url", out.FrontendURL},
		{"table_name", out.TableName},
		{"bucket_name", out.BucketName},
	}

	any := false
	for _, row := range rows {
		if row.value == "" {
			continue
		}
		if !any {
			fmt.Println("\nOutputs:")
			any = true
		}
		fmt.Printf("  %s = %s\n", row.name, row.value)
	}
	if !any {
		fmt.Println("\nNo outputs recorded.")
	}
}
