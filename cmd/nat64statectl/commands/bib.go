package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func bibCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bib",
		Short: "Inspect and manage BIB tables",
	}

	cmd.AddCommand(bibListCmd())
	cmd.AddCommand(bibGetCmd())
	cmd.AddCommand(bibDeleteCmd())
	cmd.AddCommand(bibFlushCmd())

	return cmd
}

func bibListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <tcp|udp|icmp>",
		Short: "List BIB entries for a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []bibView
			if err := apiClient.do(cmd.Context(), http.MethodGet, "/v1/bib/"+args[0], &entries); err != nil {
				return fmt.Errorf("list bib: %w", err)
			}

			out, err := formatBibEntries(entries, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func bibGetCmd() *cobra.Command {
	var byV6 bool

	cmd := &cobra.Command{
		Use:   "get <tcp|udp|icmp> <addr:port>",
		Short: "Look up a single BIB entry by its IPv6 or IPv4 transport address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			side := "by-v4"
			if byV6 {
				side = "by-v6"
			}

			path := fmt.Sprintf("/v1/bib/%s/%s/%s", args[0], side, args[1])

			var entry bibView
			if err := apiClient.do(cmd.Context(), http.MethodGet, path, &entry); err != nil {
				return fmt.Errorf("get bib entry: %w", err)
			}

			out, err := formatBibEntry(entry, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&byV6, "v6", false, "look up by IPv6 transport address instead of IPv4")
	return cmd
}

func bibDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tcp|udp|icmp> <ipv4:port>",
		Short: "Remove a BIB entry and every session pinned to it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/bib/%s/%s", args[0], args[1])

			var result map[string]int
			if err := apiClient.do(cmd.Context(), http.MethodDelete, path, &result); err != nil {
				return fmt.Errorf("delete bib entry: %w", err)
			}

			fmt.Printf("removed binding, %d sessions also removed\n", result["sessions_removed"])
			return nil
		},
	}
}

func bibFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush <tcp|udp|icmp>",
		Short: "Drop the administrative pin on every static BIB entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flushPath(cmd.Context(), "/v1/bib/"+args[0]+"/flush"); err != nil {
				return fmt.Errorf("flush bib: %w", err)
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func flushPath(ctx context.Context, path string) error {
	return apiClient.do(ctx, http.MethodPost, path, nil)
}
