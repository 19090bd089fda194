package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/wsbridge/internal/message"
	"github.com/danmuck/wsbridge/internal/protocol/serializer"
	"github.com/spf13/cobra"
)

func pubCmd() *cobra.Command {
	var topic, msgType, data string
	cmd := &cobra.Command{
		Use:   "pub",
		Short: "Advertise a topic and publish one message",
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := parseJSONMessage(msgType, data)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			c, cfg, err := dialClient(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			if _, err := c.Advertise(topic, msgType, cfg.topicOptions(topic)); err != nil {
				return err
			}
			if err := c.Publish(topic, msgType, msg); err != nil {
				return err
			}
			return c.Flush(ctx)
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic name")
	cmd.Flags().StringVar(&msgType, "type", "", "message type")
	cmd.Flags().StringVar(&data, "data", "{}", "message fields as a json object")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func echoCmd() *cobra.Command {
	var (
		topic   string
		msgType string
		count   int
	)
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Subscribe to a topic and print messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			c, cfg, err := dialClient(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			received := make(chan *message.Message, 16)
			_, err = c.Subscribe(topic, msgType, cfg.topicOptions(topic), func(_ string, msg *message.Message) {
				select {
				case received <- msg:
				case <-ctx.Done():
				}
			})
			if err != nil {
				return err
			}

			for n := 0; count <= 0 || n < count; n++ {
				select {
				case msg := <-received:
					out, err := formatMessage(msg)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), out)
				case <-c.Done():
					return fmt.Errorf("connection closed")
				case <-ctx.Done():
					return nil
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic name")
	cmd.Flags().StringVar(&msgType, "type", "", "message type")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many messages (0 runs until interrupted)")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func parseJSONMessage(msgType, raw string) (*message.Message, error) {
	doc, err := serializer.JSON{}.Deserialize([]byte(raw))
	if err != nil {
		return nil, err
	}
	msg := message.FromDocument(doc)
	msg.Type = msgType
	return msg, nil
}

func formatMessage(msg *message.Message) (string, error) {
	out, err := serializer.JSON{}.Serialize(message.ToDocument(msg))
	if err != nil {
		return "", err
	}
	return string(out), nil
}
