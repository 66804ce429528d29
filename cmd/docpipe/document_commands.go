package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"docpipe/internal/ipc"
)

func newDocumentsCommand(ctx *commandContext) *cobra.Command {
	docsCmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "Ingest and list documents",
	}
	docsCmd.AddCommand(newDocumentIngestCommand(ctx))
	docsCmd.AddCommand(newDocumentListCommand(ctx))
	return docsCmd
}

func newDocumentIngestCommand(ctx *commandContext) *cobra.Command {
	var req ipc.IngestRequest
	cmd := &cobra.Command{
		Use:   "ingest <pdf>",
		Short: "Register a PDF as a new synced document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			req.Path = path
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Ingest(req)
				if err != nil {
					return err
				}
				doc := resp.Document
				fmt.Fprintf(cmd.OutOrStdout(), "Ingested %s (%d pages) as %s\n", filepath.Base(path), doc.PageCount, doc.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Owner, "owner", "", "User granted access to the document")
	cmd.Flags().StringVar(&req.DocumentTypeID, "type", "", "Document type identifier")
	cmd.Flags().StringVar(&req.Date, "date", "", "Document date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&req.Comment, "comment", "", "Free-text comment")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newDocumentListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DocumentList(statuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Documents)
				}
				out := cmd.OutOrStdout()
				if len(resp.Documents) == 0 {
					fmt.Fprintln(out, "No documents")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Status", "Type", "Pages", "Parent", "Updated"},
					buildDocumentRows(resp.Documents, time.Now()),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print documents as JSON")
	return cmd
}
