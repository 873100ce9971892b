package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the auth store file",
	Long: `Back up, restore, and locate the auth store file.

Examples:
  esiauth store path
  esiauth store backup ~/authstore-backup.json
  esiauth store restore ~/authstore-backup.json`,
}

var storeBackupCmd = &cobra.Command{
	Use:   "backup <destination>",
	Short: "Copy the auth store to a backup file",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoreBackup,
}

var storeRestoreCmd = &cobra.Command{
	Use:   "restore <source>",
	Short: "Replace the auth store with a backup",
	Long: `Replace the live auth store with the contents of a backup file.

The backup is validated before anything is touched: a file that does not
parse as a store leaves the live store unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: runStoreRestore,
}

var storePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the auth store file location",
	RunE:  runStorePath,
}

func init() {
	storeCmd.AddCommand(storeBackupCmd)
	storeCmd.AddCommand(storeRestoreCmd)
	storeCmd.AddCommand(storePathCmd)
	rootCmd.AddCommand(storeCmd)
}

func runStoreBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}

	if err := newStore(cfg).Backup(args[0]); err != nil {
		return err
	}

	fmt.Printf("Backed up auth store to %s\n", args[0])
	return nil
}

func runStoreRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}

	if err := newStore(cfg).Restore(args[0]); err != nil {
		return err
	}

	fmt.Printf("Restored auth store from %s\n", args[0])
	return nil
}

func runStorePath(cmd *cobra.Command, args []string) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}

	fmt.Println(cfg.StorePath)
	return nil
}
