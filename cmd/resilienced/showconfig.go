package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vireolabs/resilienceplane/internal/config"
)

func showConfigCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show-config",
		Short: "Print the effective configuration as YAML, after defaults and env overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}

			cmd.Print(string(out))
			return nil
		},
	}
}
