package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dosetap/dosetap/internal/sessions/domain"
)

var (
	doseAt    string
	doseEarly bool
	doseExtra bool
)

var doseCmd = &cobra.Command{
	Use:   "dose",
	Short: "Record and manage doses for the current night",
}

var doseTakeCmd = &cobra.Command{
	Use:   "take",
	Short: "Record a dose",
	Long: `Record a dose for the current night. Whether it counts as dose 1,
dose 2, or an extra dose is decided by timestamp order among the night's
recorded doses, not by the order of entry.

Examples:
  # Record a dose now
  dosetap dose take

  # Record a dose taken earlier tonight
  dosetap dose take --at 22:15

  # Backfill with a full timestamp
  dosetap dose take --at 2025-03-08T22:15:00-05:00`,
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseAt(doseAt)
		if err != nil {
			return err
		}

		metadata := map[string]string{}
		if doseEarly {
			metadata[domain.MetaIsEarly] = "true"
		}
		if doseExtra {
			metadata[domain.MetaIsExtraDose] = "true"
		}

		return withRuntime(func(ctx context.Context, rt *runtime) error {
			event, err := rt.engine.TakeDose(ctx, at, metadata)
			if err != nil {
				return err
			}
			fmt.Printf("Recorded %s for night %s\n", event.Type(), event.SessionKey())
			return nil
		})
	},
}

var doseSkipCmd = &cobra.Command{
	Use:   "skip",
	Short: "Skip tonight's second dose",
	Long: `Mark the second dose as intentionally skipped. Pending dose
reminders are cancelled immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseAt(doseAt)
		if err != nil {
			return err
		}
		return withRuntime(func(ctx context.Context, rt *runtime) error {
			if err := rt.engine.SkipDose2(ctx, at); err != nil {
				return err
			}
			fmt.Println("Dose 2 skipped for tonight")
			return nil
		})
	},
}

var doseSnoozeCmd = &cobra.Command{
	Use:   "snooze",
	Short: "Extend the dose window",
	Long: `Extend the dose-2 window by one snooze step. Refused once the
window is inside its near-close threshold or the snooze cap is reached.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseAt(doseAt)
		if err != nil {
			return err
		}
		return withRuntime(func(ctx context.Context, rt *runtime) error {
			if err := rt.engine.Snooze(ctx, at); err != nil {
				return err
			}
			fmt.Println("Window extended")
			return nil
		})
	},
}

func init() {
	doseCmd.PersistentFlags().StringVar(&doseAt, "at", "", "timestamp (RFC 3339 or HH:MM, default now)")
	doseTakeCmd.Flags().BoolVar(&doseEarly, "early", false, "mark the dose as taken before the window opened")
	doseTakeCmd.Flags().BoolVar(&doseExtra, "extra", false, "hint that this is an extra dose (timestamp order still decides)")

	doseCmd.AddCommand(doseTakeCmd)
	doseCmd.AddCommand(doseSkipCmd)
	doseCmd.AddCommand(doseSnoozeCmd)
	rootCmd.AddCommand(doseCmd)
}
