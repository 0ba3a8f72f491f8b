package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LeventeLantos/patient-messaging/internal/repo"
)

func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres tables used by the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := Bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if app.DB == nil {
				return errors.New("migrate requires STORE_DRIVER=postgres")
			}
			if err := repo.Migrate(cmd.Context(), app.DB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}
