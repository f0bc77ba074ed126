package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/dosetap/dosetap/internal/engine"
	"github.com/dosetap/dosetap/internal/presentation"
	"github.com/dosetap/dosetap/internal/sessions/domain"
)

var (
	statusKey    string
	statusFormat string
)

var (
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	valueStyle  = lipgloss.NewStyle().Bold(true)
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	closedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	doneStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session and dose window",
	Long: `Show the current night's session, where the dose-2 window stands,
and any timezone drift advisory.

Examples:
  dosetap status
  dosetap status --key 2025-03-08
  dosetap status --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *runtime) error {
			now := time.Now()
			var (
				snap *engine.Snapshot
				err  error
			)
			if statusKey != "" {
				snap, err = rt.engine.SessionSnapshot(ctx, statusKey, now)
			} else {
				snap, err = rt.engine.Context(ctx, now)
			}
			var noOpen *domain.NoOpenSessionError
			if err != nil {
				if statusKey == "" && errors.As(err, &noOpen) {
					fmt.Println("No sessions recorded yet. Take a dose to start one.")
					return nil
				}
				return err
			}

			if statusFormat != "" {
				format, err := presentation.ParseFormat(statusFormat)
				if err != nil {
					return err
				}
				return presentation.NewFormatter(os.Stdout, format).
					FormatStatus(presentation.FromSnapshot(snap))
			}

			renderStatus(snap)
			return nil
		})
	},
}

func renderStatus(snap *engine.Snapshot) {
	session := snap.Session
	window := snap.Window

	var b strings.Builder
	line := func(label, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-12s", label)))
		b.WriteString(value)
		b.WriteString("\n")
	}

	line("Night", valueStyle.Render(session.Key()))
	line("Phase", phaseStyle(window.Phase).Render(string(window.Phase)))

	if t := session.Dose1Time(); t != nil {
		line("Dose 1", t.Local().Format("15:04"))
	}
	if t := session.Dose2Time(); t != nil {
		line("Dose 2", t.Local().Format("15:04"))
	} else if session.Dose2Skipped() {
		line("Dose 2", "skipped")
	}
	if window.Phase == domain.PhaseActive || window.Phase == domain.PhaseNearClose {
		line("Remaining", fmt.Sprintf("%dm", window.RemainingMinutes))
	}
	if window.SnoozeCount > 0 {
		line("Snoozes", fmt.Sprintf("%d", window.SnoozeCount))
	}
	if t := session.WakeFinalTime(); t != nil {
		line("Woke", t.Local().Format("15:04"))
	}
	if !session.IsOpen() {
		line("Outcome", string(session.TerminalState()))
	}
	if snap.Drift != nil {
		b.WriteString(warnStyle.Render(fmt.Sprintf(
			"Clock moved %+d min since dose 1 — reminders may fire at unexpected local times", snap.Drift.DeltaMinutes)))
		b.WriteString("\n")
	}

	fmt.Print(b.String())
}

func phaseStyle(phase domain.Phase) lipgloss.Style {
	switch phase {
	case domain.PhaseActive:
		return activeStyle
	case domain.PhaseNearClose:
		return warnStyle
	case domain.PhaseClosed, domain.PhaseExpired:
		return closedStyle
	case domain.PhaseCompleted:
		return doneStyle
	default:
		return valueStyle
	}
}

func init() {
	statusCmd.Flags().StringVar(&statusKey, "key", "", "show a specific night (YYYY-MM-DD)")
	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "", "machine output (json, yaml)")
	rootCmd.AddCommand(statusCmd)
}
