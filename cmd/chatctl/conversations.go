package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConversationsCmd(g *globals) *cobra.Command {
	conversationsCmd := &cobra.Command{Use: "conversations", Aliases: []string{"conv"}, Short: "Conversation operations"}

	// list
	conversationsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your conversations, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c.Cache().Conversations())
		},
	})

	// create
	var participants []string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Start a conversation with other users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			id, err := c.CreateConversation(cmd.Context(), participants)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"conversationId": id})
		},
	}
	createCmd.Flags().StringSliceVarP(&participants, "participant", "p", nil, "Participant user ID (repeatable)")
	_ = createCmd.MarkFlagRequired("participant")
	conversationsCmd.AddCommand(createCmd)

	// read
	conversationsCmd.AddCommand(&cobra.Command{
		Use:   "read CONVERSATION_ID",
		Short: "Mark a conversation as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.MarkConversationAsRead(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	})

	// delete
	conversationsCmd.AddCommand(&cobra.Command{
		Use:   "delete CONVERSATION_ID",
		Short: "Delete a conversation for every participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.DeleteConversation(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	})

	return conversationsCmd
}
