package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/a-essam23/go-chatsync/pkg/logging"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "go-chatsync",
		Short:         "Realtime chat synchronization client",
		Long:          "go-chatsync keeps a local, deduplicated view of chat rooms in sync with a dispatch server: live pushes, optimistic sends and pulled history pages merge into one log that survives reconnects.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := logging.LevelInfo
			if verbose {
				level = logging.LevelDebug
			}
			slog.SetDefault(logging.New(level))
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newChatsCmd(),
	)

	return rootCmd
}
