package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"docpipe/internal/ipc"
)

func newTypesCommand(ctx *commandContext) *cobra.Command {
	typesCmd := &cobra.Command{
		Use:   "types",
		Short: "Manage document types",
	}

	addCmd := &cobra.Command{
		Use:   "add <id> [name]",
		Short: "Register or rename a document type",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 1 {
				name = args[1]
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TypeAdd(args[0], name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Document type %s (%s) registered\n", resp.Type.ID, resp.Type.Name)
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List document types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TypeList()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Types) == 0 {
					fmt.Fprintln(out, "No document types")
					return nil
				}
				fmt.Fprintln(out, renderTable([]string{"ID", "Name", "Created"}, buildTypeRows(resp.Types, time.Now()), nil))
				return nil
			})
		},
	}

	typesCmd.AddCommand(addCmd, listCmd)
	return typesCmd
}

func newGrantCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <user> <document-id>",
		Short: "Give a user access to a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Grant(args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Granted %s access to %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail processing sessions whose claim has gone stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Sweep()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.Reclaimed == 0 {
					fmt.Fprintln(out, "No stale sessions")
					return nil
				}
				fmt.Fprintf(out, "Reclaimed %d stale sessions\n", resp.Reclaimed)
				return nil
			})
		},
	}
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "API token utilities",
	}

	var req ipc.TokenIssueRequest
	var quiet bool
	issueCmd := &cobra.Command{
		Use:   "issue <subject>",
		Short: "Sign an API token for a user or worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Subject = args[0]
			req.Role = strings.ToLower(strings.TrimSpace(req.Role))
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TokenIssue(req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if quiet {
					fmt.Fprintln(out, resp.Token)
					return nil
				}
				fmt.Fprintf(out, "Subject: %s\nRole:    %s\nExpires: %s\n\n%s\n", req.Subject, req.Role, resp.ExpiresAt, resp.Token)
				return nil
			})
		},
	}
	issueCmd.Flags().StringVar(&req.Role, "role", "user", "Token role: user, admin, or worker")
	issueCmd.Flags().IntVar(&req.TTLHours, "ttl-hours", 0, "Token lifetime in hours (0 uses the configured default)")
	issueCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the token")

	tokenCmd.AddCommand(issueCmd)
	return tokenCmd
}
