package cmd

import (
	"context"
	"fmt"

	"github.com/alantheprice/webforge/pkg/health"
	"github.com/alantheprice/webforge/pkg/utils"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the generation backend",
	Long: `Query the backend's health endpoint and report whether it is healthy,
which Ollama instance it talks to and which models are available.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		monitor := health.NewMonitor(cfg.HealthTimeout())
		snap, err := monitor.CheckHealth(ctx, cfg.APIURL)
		if err != nil {
			fmt.Printf("Backend: %s\n", cfg.APIURL)
			fmt.Printf("Status:  unreachable\n")
			fmt.Printf("Error:   %s\n", utils.UserMessage(err))
			return fmt.Errorf("health check failed: %w", err)
		}

		fmt.Printf("Backend: %s\n", cfg.APIURL)
		fmt.Printf("Status:  %s\n", snap.Status)
		if snap.BackendURL != "" {
			fmt.Printf("Ollama:  %s\n", snap.BackendURL)
		}
		fmt.Println()
		fmt.Println("Models:")
		registry := cfg.Registry()
		printEntries(registry.Reconcile(snap.Availability()), registry.Default())

		if !snap.Healthy() {
			return fmt.Errorf("backend reported status %s", snap.Status)
		}
		return nil
	},
}
