// Command snapgatectl is the administrative companion of the snapgate server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

const appName = "snapgatectl"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Administer a snapgate database and sign test webhooks",
		Long: `snapgatectl operates directly on a snapgate SQLite database.

It reads the same SNAPGATE_ environment variables as the server, so
SNAPGATE_DB_PATH and SNAPGATE_SECRET_KEY apply unless overridden by flags.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("db", "", "Path to the SQLite database (default $SNAPGATE_DB_PATH or snapgate.db)")

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSignCmd())
	root.AddCommand(newProjectsCmd())

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
