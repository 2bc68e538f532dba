package cmd

import (
	"fmt"

	"github.com/killallgit/stak/pkg/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage settings",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a settings file with every default",
	RunE: func(cmd *cobra.Command, args []string) error {
		written, err := config.InitializeDefaults(cfgFile)
		if err != nil {
			return err
		}
		path := cfgFile
		if path == "" {
			path = ".stak/settings.yaml"
		}
		if !written {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", path)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
