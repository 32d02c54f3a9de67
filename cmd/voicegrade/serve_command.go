package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"voicegrade/internal/logging"
	"voicegrade/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the records HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.service(cmd.Context())
			if err != nil {
				return err
			}
			cfg := rt.cfg
			if bind == "" {
				bind = cfg.API.Bind
			}
			if cfg.API.Token == "" {
				logging.WarnWithContext(rt.logger, "api token not configured", "api_token_missing",
					logging.String(logging.FieldImpact, "requests are accepted without authentication"),
					logging.String(logging.FieldErrorHint, "set api.token or VOICEGRADE_API_TOKEN"),
				)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(server.Options{
				Bind:            bind,
				Token:           cfg.API.Token,
				AllowedOrigins:  cfg.API.AllowedOrigins,
				DefaultPageSize: cfg.Listing.DefaultPageSize,
				MaxPageSize:     cfg.Listing.MaxPageSize,
			}, rt.service, rt.logger)
			return srv.Run(runCtx)
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (defaults to api.bind)")
	return cmd
}
