package main

import (
	"github.com/spf13/cobra"
)

func newUsersCmd(g *globals) *cobra.Command {
	usersCmd := &cobra.Command{Use: "users", Short: "User operations"}

	usersCmd.AddCommand(&cobra.Command{
		Use:   "me",
		Short: "Show the session user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			me, err := c.Me(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), me)
		},
	})

	usersCmd.AddCommand(&cobra.Command{
		Use:   "search SUBSTRING",
		Short: "Find other users by username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			found, err := c.SearchUsers(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), found)
		},
	})

	usersCmd.AddCommand(&cobra.Command{
		Use:   "set-username USERNAME",
		Short: "Claim a username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			res, err := c.CreateUsername(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	})

	return usersCmd
}
