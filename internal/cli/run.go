package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/a-essam23/go-chatsync/internal/client"
	"github.com/a-essam23/go-chatsync/pkg/config"
)

func newRunCmd() *cobra.Command {
	var token, room string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect, join a room and relay stdin lines as messages",
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			if token == "" {
				token = os.Getenv("CHATSYNC_TOKEN")
			}
			if token == "" {
				return errors.New("a bearer token is required (--token or CHATSYNC_TOKEN)")
			}
			if room == "" {
				return errors.New("a room id is required (--room)")
			}

			logger := slog.Default()
			cfg, err := config.Load(logger, "config")
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			cred, err := client.CredentialFromToken(token)
			if err != nil {
				return err
			}

			core, err := client.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			core.Start(ctx)
			defer core.Close()

			if err := core.SetCredential(&cred); err != nil {
				return err
			}
			if err := core.Join(room); err != nil {
				return err
			}

			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case st := <-core.States():
						fmt.Fprintf(os.Stderr, "-- connection %s\n", st)
					case msg := <-core.Updates():
						if msg.RoomID != room {
							continue
						}
						fmt.Printf("[%s] %s: %s\n",
							msg.InsertedAt.Format("15:04:05"), msg.SenderID, msg.Content)
					}
				}
			}()

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := scanner.Text()
				if line == "" {
					continue
				}
				if err := core.Send(room, line); err != nil {
					fmt.Fprintf(os.Stderr, "-- send failed: %v\n", err)
				}
				if ctx.Err() != nil {
					break
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "bearer token issued by the identity provider")
	cmd.Flags().StringVar(&room, "room", "", "room id to join")
	return cmd
}
