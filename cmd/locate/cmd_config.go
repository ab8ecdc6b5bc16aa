package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"jordanella.com/screen-locator/internal/config"
)

// getConfigCmd returns the definition of the config command and its subcommands.
func getConfigCmd(root *rootEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the settings file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(root.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", root.configPath)
			}
			if err := config.SaveToINI(config.NewDefaultConfig(), root.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", root.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := root.cfg.File().WriteTo(cmd.OutOrStdout())
			return err
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
