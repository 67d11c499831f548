package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/itscraftings/converse/internal/chatclient"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	server  string
	token   string
	timeout time.Duration
	debug   bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "CLI client for the chat service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.server, "server", "s", envOr("CHAT_SERVICE_URL", "http://localhost:8080"), "Chat service base URL")
	root.PersistentFlags().StringVarP(&g.token, "token", "t", os.Getenv("CHAT_SERVICE_TOKEN"), "Session token (env CHAT_SERVICE_TOKEN)")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "HTTP request timeout")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "Log HTTP traffic")

	root.AddCommand(
		newMigrateCmd(),
		newTokenCmd(),
		newConversationsCmd(g),
		newMessagesCmd(g),
		newUsersCmd(g),
		newWatchCmd(g),
	)
	return root
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// connect builds a client for the session in g and loads its cache.
func (g *globals) connect(ctx context.Context) (*chatclient.Client, error) {
	if g.token == "" {
		return nil, fmt.Errorf("--token required (or set CHAT_SERVICE_TOKEN)")
	}
	c, err := chatclient.New(g.server, g.token,
		chatclient.WithHTTPTimeout(g.timeout),
		chatclient.WithDebug(g.debug),
	)
	if err != nil {
		return nil, err
	}
	if _, err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
