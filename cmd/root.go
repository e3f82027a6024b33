package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/incinerator-map/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "incinerator-map",
	Short: "Interactive map of waste incineration facilities",
	Long:  "Serves a live map of incinerator facilities backed by a bundled, SQLite, Postgres or remote data source, with address search and named-region navigation.",

	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) { _ = zap.L().Sync() },
	SilenceUsage:      true,
}

// setup loads configuration and installs the global logger before any
// subcommand runs.
func setup(*cobra.Command, []string) error {
	c, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "load config")
	}
	if err := config.InitLogger(c.Log); err != nil {
		return eris.Wrap(err, "init logger")
	}
	cfg = c
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
