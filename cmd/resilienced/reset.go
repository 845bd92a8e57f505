package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func resetBreakerCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-breaker <target>",
		Short: "Force a target's breaker closed and clear its counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]

			c, _, err := bootstrap(*configPath)
			if err != nil {
				return err
			}

			if _, ok := c.Breakers().Stats(target); !ok {
				return fmt.Errorf("unknown target %q", target)
			}

			c.ResetBreaker(target)
			cmd.Printf("breaker reset: %s\n", target)
			return nil
		},
	}
}
