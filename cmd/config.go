package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"esiauth/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage esiauth configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example configuration file",
	Long: `Write an example config.yaml into the configuration directory.

Refuses to overwrite an existing configuration file.`,
	RunE: runConfigInit,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := flagConfigDir
	if configDir == "" {
		var err error
		configDir, err = config.DefaultConfigDir()
		if err != nil {
			return err
		}
	}

	path, err := config.WriteExample(configDir)
	if err != nil {
		return err
	}

	fmt.Printf("Wrote example configuration to %s\n", path)
	return nil
}
