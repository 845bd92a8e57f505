// Command resilienced is a demo harness for the resilience control
// plane: it bootstraps targets from a config file, drives the Health
// Monitor and System Mode Controller loops, and exposes a handful of
// operator subcommands. It is tooling, not a wire service — it opens
// no listener and persists no schema of its own.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	serviceName             = "resilienced"
	serviceVersion          = "0.1.0"
	gracefulShutdownTimeout = 10 * time.Second
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:     serviceName,
		Short:   "Resilience control plane demo harness",
		Long:    "Bootstraps protected targets from configuration and runs the Health Monitor and System Mode Controller loops.",
		Version: serviceVersion,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")

	root.AddCommand(
		serveCommand(&configPath),
		statusCommand(&configPath),
		resetBreakerCommand(&configPath),
		showConfigCommand(&configPath),
	)

	return root
}
