package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/itscraftings/converse/internal/auth"
	"github.com/itscraftings/converse/internal/config"
	"github.com/itscraftings/converse/internal/model"
	"github.com/itscraftings/converse/internal/store/sqlstore"
)

// openStore connects to the database configured through CHAT_SERVICE_* and
// applies the schema.
func openStore(cmd *cobra.Command) (*config.Config, *sqlstore.Store, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}
	dialect, err := sqlstore.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, nil, err
	}
	db, err := sqlstore.Open(cmd.Context(), dialect, cfg.DSN())
	if err != nil {
		return nil, nil, err
	}
	st := sqlstore.New(db, dialect)
	if err := st.Migrate(cmd.Context()); err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return cfg, st, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the schema of the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", cfg.DBDriver)
			return nil
		},
	}
}

// The token command stands in for the external identity provider: it makes
// sure the user row exists and signs a session for it.
func newTokenCmd() *cobra.Command {
	var userID, username string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token, creating the user if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			u := &model.User{ID: userID}
			if username != "" {
				u.Username = &username
			}
			stored, err := st.Users().Ensure(cmd.Context(), u)
			if err != nil {
				return err
			}
			if stored.Username != nil {
				username = *stored.Username
			}

			if ttl <= 0 {
				ttl = cfg.SessionTTL
			}
			issuer, err := auth.NewIssuer(cfg.SessionSecret, ttl)
			if err != nil {
				return err
			}
			tok, exp, err := issuer.Issue(model.SessionUser{ID: stored.ID, Username: username})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"userId":    stored.ID,
				"token":     tok,
				"expiresAt": exp,
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID (required)")
	cmd.Flags().StringVar(&username, "username", "", "Username to set on a new user")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to SESSION_TTL)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
