package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dosetap/dosetap/internal/presentation"
)

var (
	exportFormat string
	exportLimit  int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export sessions with their full event history",
	Long: `Export sessions as JSON or YAML, each with its complete dose-event
and check-in history inlined.

Examples:
  dosetap export > dosing.json
  dosetap export --format yaml --limit 30`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := presentation.ParseFormat(exportFormat)
		if err != nil {
			return err
		}

		return withRuntime(func(ctx context.Context, rt *runtime) error {
			sessions, err := rt.engine.History(ctx, exportLimit)
			if err != nil {
				return err
			}

			dtos := make([]presentation.SessionDTO, 0, len(sessions))
			for _, session := range sessions {
				dto := presentation.FromDomainSession(session)

				events, err := rt.engine.Events(ctx, session.Key())
				if err != nil {
					return fmt.Errorf("loading events for %s: %w", session.Key(), err)
				}
				dto.Events = presentation.FromDomainEvents(events)

				checkIns, err := rt.engine.CheckIns(ctx, session.Key())
				if err != nil {
					return fmt.Errorf("loading check-ins for %s: %w", session.Key(), err)
				}
				dto.CheckIns = presentation.FromDomainCheckIns(checkIns)

				dtos = append(dtos, dto)
			}

			return presentation.NewFormatter(os.Stdout, format).FormatExport(dtos)
		})
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Restore session keys on legacy events",
	Long: `Recompute the session key of events written before keys were
recorded, using each event's timestamp and the timezone offset captured at
write time. Safe to run repeatedly; a second run changes nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *runtime) error {
			updated, err := rt.engine.Backfill(ctx)
			if err != nil {
				return err
			}
			if updated == 0 {
				fmt.Println("Nothing to backfill")
			} else {
				fmt.Printf("Backfilled %d events\n", updated)
			}
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "output format (json, yaml)")
	exportCmd.Flags().IntVarP(&exportLimit, "limit", "n", 0, "number of nights to export (0 for all)")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(backfillCmd)
}
