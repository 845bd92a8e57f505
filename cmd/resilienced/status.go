package main

import (
	"context"

	"github.com/spf13/cobra"
)

func statusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print a System Health Snapshot and per-target breaker state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := bootstrap(*configPath)
			if err != nil {
				return err
			}

			snap := c.EvaluateNow(context.Background())

			cmd.Printf("mode: %s\n", snap.Mode)
			cmd.Printf("critical up-ratio: %.0f%%\n", snap.CriticalUpRatio*100)
			cmd.Printf("essential up-ratio: %.0f%%\n", snap.EssentialUpRatio*100)
			if snap.MaintenanceActive {
				cmd.Println("maintenance: active")
			}
			if snap.EmergencyOverride {
				cmd.Printf("emergency override: %s\n", snap.EmergencyReason)
			}

			cmd.Println()
			cmd.Printf("%-24s %-8s %-10s %-12s %s\n", "TARGET", "TIER", "STATE", "FAILURES", "REQUESTS")
			for _, stats := range c.Breakers().All() {
				cmd.Printf("%-24s %-8s %-10s %-12d %d\n",
					stats.Target, stats.Tier, stats.State, stats.ConsecutiveFailures, stats.TotalRequests)
			}

			return nil
		},
	}
}
