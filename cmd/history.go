package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dosetap/dosetap/internal/presentation"
	"github.com/dosetap/dosetap/internal/sessions/domain"
)

var (
	historyLimit  int
	historyFormat string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past sessions, newest night first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *runtime) error {
			sessions, err := rt.engine.History(ctx, historyLimit)
			if err != nil {
				return err
			}

			if historyFormat != "" {
				format, err := presentation.ParseFormat(historyFormat)
				if err != nil {
					return err
				}
				return presentation.NewFormatter(os.Stdout, format).
					FormatSessions(presentation.FromDomainSessions(sessions))
			}

			if len(sessions) == 0 {
				fmt.Println("No sessions recorded yet.")
				return nil
			}
			for _, s := range sessions {
				fmt.Println(historyLine(s))
			}
			return nil
		})
	},
}

func historyLine(s *domain.Session) string {
	outcome := "open"
	if !s.IsOpen() {
		outcome = string(s.TerminalState())
	}

	doses := "no doses"
	switch {
	case s.Dose2Time() != nil:
		doses = fmt.Sprintf("%s + %s",
			s.Dose1Time().Local().Format("15:04"), s.Dose2Time().Local().Format("15:04"))
	case s.Dose2Skipped() && s.Dose1Time() != nil:
		doses = fmt.Sprintf("%s, dose 2 skipped", s.Dose1Time().Local().Format("15:04"))
	case s.Dose1Time() != nil:
		doses = fmt.Sprintf("%s only", s.Dose1Time().Local().Format("15:04"))
	}

	line := fmt.Sprintf("%s  %-30s %s", s.Key(), doses, outcome)
	if n := s.SnoozeCount(); n > 0 {
		line += fmt.Sprintf("  (%d snoozes)", n)
	}
	return line
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 14, "number of nights to show (0 for all)")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "", "machine output (json, yaml)")
	rootCmd.AddCommand(historyCmd)
}
