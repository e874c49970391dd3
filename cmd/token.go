package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/arcward/dynvoice/dynvoice"
	"github.com/spf13/cobra"
)

var (
	tokenSubject  string
	tokenLifetime time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the admin API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.API == nil || cfg.API.Secret == "" {
			return errors.New("api secret not set (DC_API_SECRET)")
		}
		lifetime := tokenLifetime
		if lifetime == 0 {
			lifetime = cfg.API.TokenLifetime
		}
		token, err := dynvoice.IssueToken([]byte(cfg.API.Secret), tokenSubject, lifetime)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "Token subject, logged with API requests")
	tokenCmd.Flags().DurationVar(
		&tokenLifetime,
		"lifetime",
		0,
		"Token lifetime (defaults to api.token_lifetime, or never expires if 0)",
	)
	rootCmd.AddCommand(tokenCmd)
}
