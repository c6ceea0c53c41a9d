// Package migrate implements the schema migration command.
package migrate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drawee/drawee-go/internal/app"
	"github.com/drawee/drawee-go/internal/conf"
)

// Command creates the migrate command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := app.OpenDatastore(cmd.Context(), settings, nil)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", db.Dialect())
			return err
		},
	}
}
