package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/wsbridge/internal/bridge"
	"github.com/danmuck/wsbridge/internal/config"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		encoding   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultBridgeConfig()
			if configPath != "" {
				loaded, err := config.LoadBridgeConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("encoding") {
				cfg.Encoding = encoding
			}

			srv, err := bridge.NewServer(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "bridge config toml")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	cmd.Flags().StringVar(&encoding, "encoding", "", "default encoding for /ws: json|bson")
	return cmd
}
