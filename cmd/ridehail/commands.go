package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ridehail/internal/config"
	"ridehail/internal/gateway"
	httptransport "ridehail/internal/http"
	"ridehail/internal/infra"
	"ridehail/internal/logger"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ridehail",
		Short:         "Ride dispatch core with long-poll notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newGatewayCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rider, driver and ride services in one process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			log := logger.New(cfg.Log.Level)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			core, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer core.Close()

			srv := httptransport.NewServer(cfg.HTTP.Addr, core.Router, cfg.Dispatch.PollTimeout, log)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides RIDEHAIL_HTTP_ADDR)")
	return cmd
}

func newGatewayCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the routing gateway in front of the services",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Read()
			if addr != "" {
				cfg.Gateway.Addr = addr
			}
			log := logger.New(cfg.Log.Level).With("component", "gateway")

			router, err := gateway.NewRouter(gateway.Upstreams{
				User:    cfg.Gateway.UserURL,
				Captain: cfg.Gateway.CaptainURL,
				Ride:    cfg.Gateway.RideURL,
			}, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return httptransport.NewServer(cfg.Gateway.Addr, router, cfg.Dispatch.PollTimeout, log).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides RIDEHAIL_GATEWAY_ADDR)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Read()
			if cfg.DB.DSN == "" {
				return fmt.Errorf("RIDEHAIL_DB_DSN is required for migrate")
			}
			if file == "" {
				var err error
				if file, err = infra.MigrationPath(); err != nil {
					return fmt.Errorf("locate %s: %w", infra.DefaultMigration, err)
				}
			}
			ctx := cmd.Context()
			db, err := infra.NewDB(ctx, cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := infra.ApplyMigrations(ctx, db, file); err != nil {
				return err
			}
			logger.New(cfg.Log.Level).Info("migrations applied", "file", file)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "schema file (defaults to "+infra.DefaultMigration+" under the module root)")
	return cmd
}
