package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dosetap/dosetap/internal/config"
	"github.com/dosetap/dosetap/internal/infrastructure/sqlite"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the default config file and database",
	Long: `Write a commented default config to ~/.dosetap/config.yaml and
create the dosing database. Existing files are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}

		configPath := cfgFile
		if configPath == "" {
			configPath = filepath.Join(home, ".dosetap", "config.yaml")
		}
		if _, err := os.Stat(configPath); err == nil {
			fmt.Printf("Config already exists at %s\n", configPath)
		} else {
			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			fmt.Printf("Wrote %s\n", configPath)
		}

		dbPath := cfg.DBPath
		if dbPath == "" {
			dbPath = config.DefaultDBPath()
		}
		db, err := sqlite.NewDB(dbPath)
		if err != nil {
			return fmt.Errorf("creating database: %w", err)
		}
		defer func() { _ = db.Close() }()

		version, err := db.EventLog().SchemaVersion()
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
		fmt.Printf("Database ready at %s (schema v%d)\n", dbPath, version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
