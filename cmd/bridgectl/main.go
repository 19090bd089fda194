package main

import (
	"context"
	"fmt"
	"os"

	"github.com/danmuck/wsbridge/internal/bridge"
	"github.com/danmuck/wsbridge/internal/observability"
	"github.com/spf13/cobra"
)

var (
	flagURL          string
	flagEncoding     string
	flagClientConfig string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bridgectl",
		Short: "Run and talk to a websocket message bridge",
		Long: `bridgectl runs the bridge server and offers small client commands
for publishing, subscribing and calling services through it.

Examples:
  bridgectl serve --config bridge.toml
  bridgectl pub --topic /chatter --type std_msgs/String --data '{"data":"hi"}'
  bridgectl echo --topic /chatter --count 3
  bridgectl call --service /add_two_ints --args '{"a":1,"b":2}'`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			observability.InitLogger("bridgectl")
		},
	}

	rootCmd.PersistentFlags().StringVar(&flagURL, "url", "", "bridge websocket url")
	rootCmd.PersistentFlags().StringVar(&flagEncoding, "encoding", "", "wire encoding: json|bson")
	rootCmd.PersistentFlags().StringVar(&flagClientConfig, "client-config", "", "client config toml")

	rootCmd.AddCommand(
		serveCmd(),
		pubCmd(),
		echoCmd(),
		callCmd(),
		sendCmd(),
		configCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
		os.Exit(1)
	}
}

// resolveClientConfig merges the client config file with persistent flags.
func resolveClientConfig(cmd *cobra.Command) (clientConfig, error) {
	cfg := defaultClientConfig()
	if flagClientConfig != "" {
		loaded, err := loadClientConfig(flagClientConfig)
		if err != nil {
			return clientConfig{}, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("url") {
		cfg.Dial.URL = flagURL
	}
	if cmd.Flags().Changed("encoding") {
		cfg.Dial.Encoding = flagEncoding
	}
	return cfg, nil
}

func dialClient(ctx context.Context, cmd *cobra.Command) (*bridge.Client, clientConfig, error) {
	cfg, err := resolveClientConfig(cmd)
	if err != nil {
		return nil, clientConfig{}, err
	}
	c, err := bridge.Dial(ctx, cfg.Dial)
	if err != nil {
		return nil, clientConfig{}, err
	}
	return c, cfg, nil
}
