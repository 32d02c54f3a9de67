package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"voicegrade/internal/config"
	"voicegrade/internal/logging"
)

func newAuthCommand(ctx *commandContext) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Inspect remote store credentials",
	}
	authCmd.AddCommand(newAuthTokenCommand(ctx))
	return authCmd
}

func newAuthTokenCommand(ctx *commandContext) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Refresh the access token and report its expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Backend != config.BackendDropbox {
				fmt.Fprintf(cmd.OutOrStdout(), "Store backend is %s; no token required\n", cfg.Store.Backend)
				return nil
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			tokens, err := newTokenManager(cfg, logger)
			if err != nil {
				return err
			}
			token, err := tokens.Token(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			expiry := tokens.Expiry()
			fmt.Fprintf(out, "Token valid until %s (%s remaining)\n",
				expiry.Local().Format(time.RFC3339), time.Until(expiry).Round(time.Second))
			if show {
				fmt.Fprintln(out, token)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "Print the access token")
	return cmd
}
