// Package records implements the operator surface over the record store:
// listing records, inspecting event logs, manual deletion and notes.
package records

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	cmdcommon "github.com/fairdatahub/arc-harvester/cmd/common"
	"github.com/fairdatahub/arc-harvester/internal/domain"
	"github.com/fairdatahub/arc-harvester/internal/syncqueue"
)

const (
	listPageSize     = 100
	queueWaitTimeout = 2 * time.Minute
	idDisplayLen     = 16
)

// Command returns the records command group.
func Command(cfgFile *string, debug *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect and manage harvested records",
	}

	cmd.AddCommand(listCommand(cfgFile, debug))
	cmd.AddCommand(eventsCommand(cfgFile, debug))
	cmd.AddCommand(deleteCommand(cfgFile, debug))
	cmd.AddCommand(noteCommand(cfgFile, debug))

	return cmd
}

// build wires dependencies for one records subcommand invocation.
func build(cmd *cobra.Command, cfgFile *string, debug *bool) (context.Context, *cmdcommon.Deps, error) {
	ctx := cmd.Context()
	deps, err := cmdcommon.Build(ctx, *cfgFile, *debug)
	if err != nil {
		return nil, nil, err
	}
	return ctx, deps, nil
}

func listCommand(cfgFile *string, debug *bool) *cobra.Command {
	var statusFilter []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records for the configured source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, deps, err := build(cmd, cfgFile, debug)
			if err != nil {
				return err
			}
			defer deps.Close()

			statuses, err := parseStatuses(statusFilter)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"RECORD ID", "STATUS", "LAST SEEN", "SYNC", "EVENTS"})

			afterID := ""
			total := 0
			for {
				records, listErr := deps.Store.ListRecords(
					ctx, deps.Config.Harvest.SourceName, statuses, afterID, listPageSize,
				)
				if listErr != nil {
					return listErr
				}
				if len(records) == 0 {
					break
				}

				for i := range records {
					rec := &records[i]
					t.AppendRow(table.Row{
						shortID(rec.RecordID),
						rec.Status,
						rec.LastSeen.Format(time.RFC3339),
						syncCell(rec),
						len(rec.Events),
					})
					total++
				}

				afterID = records[len(records)-1].RecordID
			}

			t.AppendFooter(table.Row{"TOTAL", total})
			t.Render()

			return nil
		},
	}

	cmd.Flags().StringSliceVar(
		&statusFilter, "status", []string{"ACTIVE", "MISSING", "DELETED"},
		"statuses to include (ACTIVE, MISSING, DELETED)",
	)

	return cmd
}

func eventsCommand(cfgFile *string, debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "events <record-id>",
		Short: "Show a record's event log, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, deps, err := build(cmd, cfgFile, debug)
			if err != nil {
				return err
			}
			defer deps.Close()

			events, err := deps.Store.Events(ctx, args[0])
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"TIMESTAMP", "TYPE", "HARVEST", "MESSAGE"})

			for _, e := range events {
				t.AppendRow(table.Row{
					e.Timestamp.Format(time.RFC3339),
					e.Type,
					shortID(e.HarvestID),
					e.Message,
				})
			}

			t.Render()
			return nil
		},
	}
}

func deleteCommand(cfgFile *string, debug *bool) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "delete <record-id>",
		Short: "Soft-delete a record and propagate the removal downstream",
		Long: `Delete marks a record DELETED regardless of its current state,
bypassing the grace period, and queues the removal for the commit sink.
The record reappearing in a later harvest restores it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, deps, err := build(cmd, cfgFile, debug)
			if err != nil {
				return err
			}
			defer deps.Close()

			if deleteErr := deps.Store.DeleteManually(ctx, args[0], reason); deleteErr != nil {
				return deleteErr
			}

			deps.Queue.Start(ctx)
			defer deps.Queue.Stop()

			if enqErr := deps.Queue.Enqueue(ctx, args[0], syncqueue.OpRemove); enqErr != nil {
				return enqErr
			}

			drainCtx, cancel := context.WithTimeout(ctx, queueWaitTimeout)
			defer cancel()
			if drainErr := deps.Queue.Drain(drainCtx); drainErr != nil {
				return drainErr
			}

			fmt.Fprintf(cmd.OutOrStdout(), "record %s deleted\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "deleted by operator", "reason recorded in the event log")

	return cmd
}

func noteCommand(cfgFile *string, debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "note <record-id> <text>",
		Short: "Append an operator note to a record's event log",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, deps, err := build(cmd, cfgFile, debug)
			if err != nil {
				return err
			}
			defer deps.Close()

			note := strings.Join(args[1:], " ")
			if noteErr := deps.Store.AddNote(ctx, args[0], note); noteErr != nil {
				return noteErr
			}

			fmt.Fprintf(cmd.OutOrStdout(), "note added to %s\n", args[0])
			return nil
		},
	}
}

// parseStatuses validates the --status filter values.
func parseStatuses(values []string) ([]domain.RecordStatus, error) {
	statuses := make([]domain.RecordStatus, 0, len(values))
	for _, v := range values {
		s := domain.RecordStatus(strings.ToUpper(strings.TrimSpace(v)))
		if !s.IsValid() {
			return nil, fmt.Errorf("invalid status %q", v)
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

// syncCell renders a record's sync state for the list table.
func syncCell(rec *domain.Record) string {
	if rec.Sync.IsZero() {
		return "-"
	}
	return string(rec.Sync.Status)
}

func shortID(id string) string {
	if len(id) <= idDisplayLen {
		return id
	}
	return id[:idDisplayLen]
}
