package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newMessagesCmd(g *globals) *cobra.Command {
	messagesCmd := &cobra.Command{Use: "messages", Aliases: []string{"msg"}, Short: "Message operations"}

	messagesCmd.AddCommand(&cobra.Command{
		Use:   "list CONVERSATION_ID",
		Short: "List messages, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			msgs, err := c.Messages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), msgs)
		},
	})

	messagesCmd.AddCommand(&cobra.Command{
		Use:   "send CONVERSATION_ID BODY...",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			m, err := c.SendMessage(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	})

	return messagesCmd
}
