package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	sqliteadapter "github.com/ericfisherdev/snapgate/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/snapgate/internal/application"
	"github.com/ericfisherdev/snapgate/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, _, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied to %s\n", db.Path())
			return nil
		},
	}
}

func newSignCmd() *cobra.Command {
	var secret, file string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the X-Visual-Signature header value for a payload",
		Long: `Sign a webhook payload the way the visual-diff service does.

The payload is read from --file, or from stdin when --file is "-" or omitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return fmt.Errorf("--secret is required")
			}

			var (
				payload []byte
				err     error
			)
			if file == "" || file == "-" {
				payload, err = io.ReadAll(cmd.InOrStdin())
			} else {
				payload, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), application.SignPayload(secret, payload))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "Webhook secret of the project")
	cmd.Flags().StringVar(&file, "file", "", "Payload file (default stdin)")

	return cmd
}

func newProjectsCmd() *cobra.Command {
	var team string

	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List registered projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, key, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			projects, err := sqliteadapter.NewProjectRepo(db, key).List(cmd.Context(), team)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTEAM\tNAME\tREMOTE PROJECT\tBRANCH\tTOKEN\tWEBHOOK SECRET")
			for _, p := range projects {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					p.ID, p.TeamID, p.Name, p.RemoteProjectID, p.Branch,
					yesNo(p.HasToken()), yesNo(p.HasWebhookSecret()))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&team, "team", "", "Only list projects of this team")

	return cmd
}

// openDB opens the database named by --db, falling back to the server
// configuration, and returns it with the configured secret key.
func openDB(cmd *cobra.Command) (*sqliteadapter.DB, []byte, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		path = cfg.DBPath
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := sqliteadapter.NewDB(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return db, cfg.SecretKey, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
