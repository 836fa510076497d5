package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage registered game sessions",
	}

	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionKickCmd())

	return cmd
}

func sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all registered sessions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := client.Sessions(context.Background())
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			out, err := formatSessions(resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format sessions: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func sessionKickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kick <ip:port>",
		Short: "Disconnect a registered session's owning client",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := client.Kick(context.Background(), args[0]); err != nil {
				return fmt.Errorf("kick session: %w", err)
			}

			fmt.Printf("Session %s kicked.\n", args[0])
			return nil
		},
	}
}
