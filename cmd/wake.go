package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dosetap/dosetap/internal/sessions/domain"
)

var (
	wakeAt        string
	checkInAt     string
	checkInKind   string
	checkInFields []string
)

var wakeCmd = &cobra.Command{
	Use:   "wake",
	Short: "Record the final wake time",
	Long: `Record the final wake time for the open session. The session closes
once both the wake time and the morning check-in are recorded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseAt(wakeAt)
		if err != nil {
			return err
		}
		return withRuntime(func(ctx context.Context, rt *runtime) error {
			if err := rt.engine.FinalizeWake(ctx, at); err != nil {
				return err
			}
			fmt.Println("Wake time recorded")
			return nil
		})
	},
}

var checkInCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Record a check-in",
	Long: `Record a check-in for the open session. A morning check-in combined
with a recorded wake time closes the session.

Examples:
  dosetap checkin
  dosetap checkin --kind pre_sleep
  dosetap checkin --field mood=rested --field grogginess=low`,
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseAt(checkInAt)
		if err != nil {
			return err
		}

		kind := domain.CheckInKind(checkInKind)
		if !kind.IsValid() {
			return fmt.Errorf("invalid check-in kind %q (pre_sleep, morning)", checkInKind)
		}

		fields := map[string]string{}
		for _, f := range checkInFields {
			k, v, ok := strings.Cut(f, "=")
			if !ok {
				return fmt.Errorf("invalid --field %q (want key=value)", f)
			}
			fields[k] = v
		}
		if len(fields) == 0 {
			fields = nil
		}

		return withRuntime(func(ctx context.Context, rt *runtime) error {
			if err := rt.engine.CompleteCheckIn(ctx, at, kind, fields); err != nil {
				return err
			}
			fmt.Printf("Recorded %s check-in\n", kind)
			return nil
		})
	},
}

func init() {
	wakeCmd.Flags().StringVar(&wakeAt, "at", "", "timestamp (RFC 3339 or HH:MM, default now)")

	checkInCmd.Flags().StringVar(&checkInAt, "at", "", "timestamp (RFC 3339 or HH:MM, default now)")
	checkInCmd.Flags().StringVar(&checkInKind, "kind", string(domain.CheckInMorning), "check-in kind (pre_sleep, morning)")
	checkInCmd.Flags().StringArrayVar(&checkInFields, "field", nil, "check-in field (key=value, repeatable)")

	rootCmd.AddCommand(wakeCmd)
	rootCmd.AddCommand(checkInCmd)
}
