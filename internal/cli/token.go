package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"barcodeseq/internal/domain/auth"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Subject string
	Scopes  []string
	TTL     time.Duration
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an API client",
		Long: `Mint a bearer token for an API client, signed with AUTH_JWT_SECRET.

Example:
  seqctl token --subject scanner-7 --scope barcodes:allocate --ttl 720h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Subject, "subject", "", "client name recorded in the token (required)")
	cmd.Flags().StringSliceVar(&opts.Scopes, "scope",
		[]string{auth.ScopeAllocate, auth.ScopeSettings}, "granted scopes")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func runToken(cmd *cobra.Command, opts *TokenOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is not configured")
	}

	svc := auth.NewJWTService(auth.DefaultJWTConfig(cfg.Auth.JWTSecret))
	token, expires, err := svc.GenerateToken(opts.Subject, opts.Scopes, opts.TTL)
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		fmt.Fprintf(cmd.OutOrStdout(), "{\"token\":%q,\"expires_at\":%q}\n", token, expires.Format(time.RFC3339))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
