package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/itscraftings/converse/internal/events"
)

func newWatchCmd(g *globals) *cobra.Command {
	var topicNames []string
	var open string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream events as JSON lines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			topics := make([]events.Topic, 0, len(topicNames))
			for _, name := range topicNames {
				t, err := events.ParseTopic(name)
				if err != nil {
					return err
				}
				topics = append(topics, t)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := g.connect(ctx)
			if err != nil {
				return err
			}
			if open != "" {
				if _, err := c.OpenConversation(ctx, open); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			return c.Watch(ctx, func(p events.Payload) {
				_ = printJSON(out, map[string]interface{}{"topic": p.Topic(), "payload": p})
			}, topics...)
		},
	}
	cmd.Flags().StringSliceVar(&topicNames, "topic", nil, "Topic to follow, e.g. MESSAGE_SENT (repeatable; default all)")
	cmd.Flags().StringVar(&open, "open", "", "Conversation to keep open; updates to it are marked read")
	return cmd
}
