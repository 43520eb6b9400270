package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/a-essam23/go-chatsync/internal/history"
	"github.com/a-essam23/go-chatsync/pkg/config"
)

func newChatsCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List the rooms the authenticated user belongs to",
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			if token == "" {
				token = os.Getenv("CHATSYNC_TOKEN")
			}
			if token == "" {
				return errors.New("a bearer token is required (--token or CHATSYNC_TOKEN)")
			}

			logger := slog.Default()
			cfg, err := config.Load(logger, "config")
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			hc := history.NewClient(cfg.Server.BaseURL(), logger)
			chats, err := hc.Chats(cobraCmd.Context(), token)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tGROUP")
			for _, chat := range chats {
				fmt.Fprintf(w, "%s\t%s\t%t\n", chat.ID, chat.Name, chat.IsGroup)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "bearer token issued by the identity provider")
	return cmd
}
