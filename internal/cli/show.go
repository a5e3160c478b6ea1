package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"barcodeseq/internal/core/sequence"
)

// ScopeOptions identify one sequence.
type ScopeOptions struct {
	Prefix string
	Week   string
	Mode   string
	Slot   int
}

func (s *ScopeOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.Prefix, "prefix", "", "barcode prefix (required)")
	cmd.Flags().StringVar(&s.Week, "week", "", "week code of a compound scope")
	cmd.Flags().StringVar(&s.Mode, "mode", "", "A (day) or B (night) for a compound scope")
	cmd.Flags().IntVar(&s.Slot, "slot", -1, "day/night slot (compound only)")
	_ = cmd.MarkFlagRequired("prefix")
}

func (s *ScopeOptions) compound() bool {
	return s.Week != "" || s.Mode != ""
}

// key resolves the flags to a store key. Compound scopes without --slot
// return ok=false; callers then look up the active slot.
func (s *ScopeOptions) key() (key sequence.Key, ok bool, err error) {
	if !s.compound() {
		if s.Slot >= 0 {
			return sequence.Key{}, false, errors.New("--slot needs --week and --mode")
		}
		return sequence.SimpleKey(s.Prefix), true, nil
	}

	if s.Week == "" {
		return sequence.Key{}, false, errors.New("--week is required with --mode")
	}
	mode, err := sequence.ParseMode(s.Mode)
	if err != nil {
		return sequence.Key{}, false, err
	}
	if s.Slot < 0 {
		return sequence.CompoundKey(s.Prefix, s.Week, mode, 0), false, nil
	}
	first, last := mode.SlotRange()
	if s.Slot < first || s.Slot > last {
		return sequence.Key{}, false, fmt.Errorf("slot %d outside mode %s range %d..%d", s.Slot, mode, first, last)
	}
	return sequence.CompoundKey(s.Prefix, s.Week, mode, s.Slot), true, nil
}

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Scope ScopeOptions
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current state of a sequence",
		Long: `Print the current state of a sequence.

Without --slot a compound scope shows its active (highest) slot.

Example:
  seqctl show --prefix LOT
  seqctl show --prefix BX --week 12 --mode B`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, opts)
		},
	}
	opts.Scope.bind(cmd)

	return cmd
}

func runShow(cmd *cobra.Command, opts *ShowOptions) error {
	key, exact, err := opts.Scope.key()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	handle, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer handle.Close()

	var rec sequence.Record
	if exact {
		rec, err = handle.Store.Get(ctx, key)
	} else {
		rec, err = handle.Store.Highest(ctx, key.Prefix, key.Week, key.Mode)
	}
	if errors.Is(err, sequence.ErrNotFound) {
		return fmt.Errorf("no sequence for %s", key)
	}
	if err != nil {
		return err
	}

	return printRecord(cmd.OutOrStdout(), opts.Format, rec)
}

type recordView struct {
	Scope       string `json:"scope"`
	LastNumber  int    `json:"last_number"`
	Remaining   int    `json:"remaining"`
	NextBarcode string `json:"next_barcode,omitempty"`
	UpdatedAt   string `json:"updated_at"`
}

func printRecord(w io.Writer, format string, rec sequence.Record) error {
	view := recordView{
		Scope:      rec.Key.String(),
		LastNumber: rec.LastNumber,
		Remaining:  sequence.MaxSerial - rec.LastNumber,
		UpdatedAt:  rec.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if rec.LastNumber < sequence.MaxSerial {
		view.NextBarcode = rec.Key.Barcode(rec.LastNumber + 1)
	}

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	fmt.Fprintf(w, "scope:        %s\n", view.Scope)
	fmt.Fprintf(w, "last_number:  %d\n", view.LastNumber)
	fmt.Fprintf(w, "remaining:    %d\n", view.Remaining)
	if view.NextBarcode != "" {
		fmt.Fprintf(w, "next_barcode: %s\n", view.NextBarcode)
	}
	fmt.Fprintf(w, "updated_at:   %s\n", view.UpdatedAt)
	return nil
}
