package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"barcodeseq/internal/infrastructure/storage"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "migrate",
		Short:         "Apply the sequence schema to a relational store",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			handle, err := rootOpts.openStore(ctx)
			if err != nil {
				return err
			}
			defer handle.Close()

			err = handle.Migrate(ctx)
			if errors.Is(err, storage.ErrNoMigrations) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s store has no schema to migrate\n", handle.Driver)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema applied\n", handle.Driver)
			return nil
		},
	}
}
