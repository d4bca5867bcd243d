package commands

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func poolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Manage the administratively-configured host4_addr pool",
	}

	cmd.AddCommand(poolListCmd())
	cmd.AddCommand(poolAddCmd())
	cmd.AddCommand(poolRevokeCmd())

	return cmd
}

func poolListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List prefixes registered in the pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var prefixes []string
			if err := apiClient.do(cmd.Context(), http.MethodGet, "/v1/pool", &prefixes); err != nil {
				return fmt.Errorf("list pool: %w", err)
			}
			for _, p := range prefixes {
				fmt.Println(p)
			}
			return nil
		},
	}
}

func poolAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <cidr>",
		Short: "Register a prefix in the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"prefix": args[0]}
			if err := apiClient.doWithBody(cmd.Context(), http.MethodPost, "/v1/pool", body, nil); err != nil {
				return fmt.Errorf("add pool prefix: %w", err)
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func poolRevokeCmd() *cobra.Command {
	var portMin, portMax uint16

	cmd := &cobra.Command{
		Use:   "revoke <tcp|udp|icmp> <cidr>",
		Short: "Drop static BIB pins and excise sessions within a shrinking pool prefix",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"prefix":   args[1],
				"port_min": portMin,
				"port_max": portMax,
			}

			var result map[string]int
			path := "/v1/pool/revoke/" + args[0]
			if err := apiClient.doWithBody(cmd.Context(), http.MethodPost, path, body, &result); err != nil {
				return fmt.Errorf("revoke pool prefix: %w", err)
			}

			fmt.Printf("%d sessions removed\n", result["sessions_removed"])
			return nil
		},
	}

	cmd.Flags().Uint16Var(&portMin, "port-min", 0, "minimum port in the revoked range")
	cmd.Flags().Uint16Var(&portMax, "port-max", 65535, "maximum port in the revoked range")
	return cmd
}
