package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nomis52/capexec/server"
	serverconfig "github.com/nomis52/capexec/server/config"
	"github.com/nomis52/capexec/server/cron"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		cronSpec   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and scheduled batches",
		Example: `  capped serve -c /etc/capped/server.yaml
  capped serve -c server.yaml --cron "nightly,cleanup:0 2 * * *;health:@every 5m"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srvCfg, err := serverconfig.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load server config: %w", err)
			}

			var opts []server.Option
			if cronSpec != "" {
				// Batch names are checked once the server loads the batch config.
				specs, err := cron.ParseTriggerSpecs(cronSpec, nil)
				if err != nil {
					return fmt.Errorf("invalid --cron: %w", err)
				}
				opts = append(opts, server.WithCron(specs...))
			}

			srv, err := server.New(srvCfg, opts...)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				srv.Logger().Info("received signal, shutting down")
			}()

			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to server config file")
	cmd.Flags().StringVar(&cronSpec, "cron", "", "Extra scheduled runs as 'batch1,batch2:schedule;batch3:schedule'")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
