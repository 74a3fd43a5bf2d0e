package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()
	root := &cobra.Command{
		Use:           "oralgrader",
		Short:         "Telegram bot that assesses spoken and written language samples",
		SilenceUsage:  true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// Load .env file if it exists
			if err := godotenv.Load(); err != nil {
				logrus.Debug("no .env file found, using environment variables")
			}
		},
		RunE: serve.RunE,
	}
	root.AddCommand(serve, newAssessCmd())
	return root
}
