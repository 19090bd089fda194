package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/wsbridge/internal/protocol/schema"
	"github.com/danmuck/wsbridge/internal/protocol/serializer"
	"github.com/spf13/cobra"
)

func callCmd() *cobra.Command {
	var (
		service     string
		serviceType string
		rawArgs     string
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Call a service through the bridge and print the response",
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs, err := parseJSONMessage(serviceType, rawArgs)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			c, cfg, err := dialClient(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			values, err := c.CallService(ctx, service, serviceType, callArgs, cfg.serviceOptions(service))
			if err != nil {
				return fmt.Errorf("call %s: %w", service, err)
			}
			out, err := formatMessage(values)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&service, "service", "", "service name")
	cmd.Flags().StringVar(&serviceType, "type", "", "service type")
	cmd.Flags().StringVar(&rawArgs, "args", "{}", "request arguments as a json object")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall call timeout")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

func sendCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Validate a hand-written json message and send it",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			c, _, err := dialClient(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			out, err := reencode(data, c.Codec().Encoding())
			if err != nil {
				return err
			}
			if err := c.SendRaw(out); err != nil {
				return err
			}
			return c.Flush(ctx)
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "json file holding one protocol message")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// reencode validates a json protocol message and converts it to encoding.
func reencode(data []byte, encoding string) ([]byte, error) {
	doc, err := serializer.JSON{}.Deserialize(data)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, err
	}
	ser, err := serializer.New(encoding)
	if err != nil {
		return nil, err
	}
	return ser.Serialize(doc)
}
