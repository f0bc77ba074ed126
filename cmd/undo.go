package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dosetap/dosetap/internal/sessions/domain"
)

var undoKey string

var undoCmd = &cobra.Command{
	Use:   "undo <event-type>",
	Short: "Remove the most recent event of a type",
	Long: `Remove the most recent event of the given type and rebuild the
night's summary from the remaining events.

Event types: dose1, dose2, extra_dose, dose2_skipped, snooze

Examples:
  # Undo tonight's most recent second dose
  dosetap undo dose2

  # Undo a snooze on a specific night
  dosetap undo snooze --key 2025-03-08`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType := domain.EventType(args[0])

		return withRuntime(func(ctx context.Context, rt *runtime) error {
			key := undoKey
			if key == "" {
				key = domain.SessionKey(time.Now(), time.Local, cfg.Schedule.RolloverHour)
			}
			removed, err := rt.engine.Undo(ctx, key, eventType)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %s at %s from night %s\n",
				removed.Type(), removed.Timestamp().Local().Format("15:04"), key)
			return nil
		})
	},
}

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:   "delete <session-key>",
	Short: "Delete a night's session and all its events",
	Long: `Delete a session and every event and check-in recorded for it.
This cannot be undone. Reminders for the night are cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		if !deleteYes {
			fmt.Printf("Delete night %s and all its events? [y/N] ", key)
			reply, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			if answer := strings.ToLower(strings.TrimSpace(reply)); answer != "y" && answer != "yes" {
				fmt.Println("Aborted")
				return nil
			}
		}

		return withRuntime(func(ctx context.Context, rt *runtime) error {
			if err := rt.engine.DeleteSession(ctx, key); err != nil {
				return err
			}
			fmt.Printf("Deleted night %s\n", key)
			return nil
		})
	},
}

func init() {
	undoCmd.Flags().StringVar(&undoKey, "key", "", "night to undo on (default: current night)")
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(deleteCmd)
}
