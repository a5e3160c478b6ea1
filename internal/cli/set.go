package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"barcodeseq/internal/core/sequence"
)

// SetOptions holds flags for the set command.
type SetOptions struct {
	*RootOptions
	Scope ScopeOptions
	Value int
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Force the last issued serial of a sequence",
		Long: `Force the last issued serial of a sequence.

Used when migrating from another system or after manual recovery. The next
allocation continues at value+1. Compound scopes need an explicit --slot.

Example:
  seqctl set --prefix LOT --value 250
  seqctl set --prefix BX --week 12 --mode B --slot 6 --value 0`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(cmd, opts)
		},
	}
	opts.Scope.bind(cmd)
	cmd.Flags().IntVar(&opts.Value, "value", -1, "last issued serial, 0..999 (required)")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}

func runSet(cmd *cobra.Command, opts *SetOptions) error {
	if opts.Value < 0 || opts.Value > sequence.MaxSerial {
		return fmt.Errorf("value %d outside 0..%d", opts.Value, sequence.MaxSerial)
	}

	key, exact, err := opts.Scope.key()
	if err != nil {
		return err
	}
	if !exact {
		return errors.New("--slot is required for compound scopes")
	}

	ctx := cmd.Context()
	handle, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer handle.Close()

	setter, ok := handle.Setter()
	if !ok {
		return fmt.Errorf("store driver %s does not support set", handle.Driver)
	}
	if err := setter.Set(ctx, key, opts.Value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	rec, err := handle.Store.Get(ctx, key)
	if err != nil {
		return err
	}
	return printRecord(cmd.OutOrStdout(), opts.Format, rec)
}
