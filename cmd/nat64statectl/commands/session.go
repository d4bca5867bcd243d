package commands

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage session tables",
	}

	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionFlushCmd())

	return cmd
}

func sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <tcp|udp|icmp>",
		Short: "List sessions for a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sessions []sessionView
			if err := apiClient.do(cmd.Context(), http.MethodGet, "/v1/session/"+args[0], &sessions); err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			out, err := formatSessions(sessions, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func sessionFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush <tcp|udp|icmp>",
		Short: "Remove every session for a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result map[string]int
			if err := apiClient.do(cmd.Context(), http.MethodPost, "/v1/session/"+args[0]+"/flush", &result); err != nil {
				return fmt.Errorf("flush sessions: %w", err)
			}

			fmt.Printf("%d sessions removed\n", result["sessions_removed"])
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-protocol BIB and session counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var stats []statsView
			if err := apiClient.do(cmd.Context(), http.MethodGet, "/v1/stats", &stats); err != nil {
				return fmt.Errorf("get stats: %w", err)
			}

			out, err := formatStats(stats, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}
