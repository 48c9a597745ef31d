package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ibimina/saccoledger/internal/config"
	"github.com/ibimina/saccoledger/pkg/logging"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "saccoledger",
		Short:         "SACCO payment reconciliation and ledger server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default ./config.yaml when present)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logging.Setup(cfg.Log.Level)
		return cfg, nil
	}

	rootCmd.AddCommand(serveCmd(load))
	rootCmd.AddCommand(migrateCmd(load))

	// serve is the default command
	rootCmd.RunE = serveCmd(load).RunE

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
