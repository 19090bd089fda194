package main

import (
	"fmt"

	"github.com/danmuck/wsbridge/internal/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate bridge and client config files",
	}
	cmd.AddCommand(configInitCmd(), configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var kind, output string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := output
			if target == "" {
				target = kind + ".toml"
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", kind, target)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "bridge", "config kind: bridge|client")
	cmd.Flags().StringVar(&output, "output", "", "output path (defaults to <kind>.toml)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var kind, input string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := input
			if path == "" {
				path = kind + ".toml"
			}
			switch kind {
			case "bridge":
				if _, err := config.LoadBridgeConfig(path); err != nil {
					return err
				}
			case "client":
				if _, err := loadClientConfig(path); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown config kind: %s", kind)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s config at %s\n", kind, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "bridge", "config kind: bridge|client")
	cmd.Flags().StringVar(&input, "input", "", "config path (defaults to <kind>.toml)")
	return cmd
}
