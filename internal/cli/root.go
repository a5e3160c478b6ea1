// Package cli implements seqctl, the operator command line for barcode sequences.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"barcodeseq/internal/config"
	"barcodeseq/internal/infrastructure/storage"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for seqctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "seqctl",
		Short: "Inspect and maintain barcode sequences",
		Long: `seqctl talks to the configured sequence store directly.

Store selection follows the server: STORE_DRIVER, DATABASE_URL, SQLITE_PATH,
REDIS_ADDR, SEQUENCE_FILE, or a YAML file given with --config.
Do not force-set sequences while the server is allocating from them.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML config file (default: CONFIG_FILE)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewSetCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) loadConfig() (config.Config, error) {
	if o.ConfigFile != "" {
		return config.LoadFile(o.ConfigFile)
	}
	return config.Load()
}

func (o *RootOptions) openStore(ctx context.Context) (*storage.Handle, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, cfg.Store)
}
