package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dosetap/dosetap/internal/config"
	"github.com/dosetap/dosetap/internal/engine"
	"github.com/dosetap/dosetap/internal/log"
	"github.com/dosetap/dosetap/internal/pubsub"
	"github.com/dosetap/dosetap/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the boundary evaluator in the foreground",
	Long: `Run the session boundary evaluator until interrupted. It re-polls
the open session at every schedule boundary (rollover, prep time, check-in
cutoff) and whenever another process writes to the database, closing
sessions and expiring slept-through windows as those instants pass.

Example:
  dosetap watch`,
	RunE: runWatch,
}

func runWatch(_ *cobra.Command, _ []string) error {
	broker := pubsub.NewBroker[engine.SessionChange]()
	defer broker.Close()

	return withRuntime(func(ctx context.Context, rt *runtime) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		changes := broker.Subscribe(ctx)

		dbPath := cfg.DBPath
		if dbPath == "" {
			dbPath = config.DefaultDBPath()
		}
		w, err := watcher.New(watcher.DefaultConfig(dbPath))
		if err != nil {
			return fmt.Errorf("creating watcher: %w", err)
		}
		onChange, err := w.Start()
		if err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		defer func() { _ = w.Stop() }()

		timer := engine.NewWakeTimer(nil)
		defer timer.Stop()

		// Under --debug, tail the log broker to stderr so a foreground
		// watch shows the engine's decisions as they happen.
		var logTail <-chan log.LogEvent
		if debugFlag {
			if listener := log.NewListener(ctx); listener != nil {
				logTail = listener.Chan()
			}
		}

		poll := func() {
			now := time.Now()
			drift, err := rt.engine.Poll(ctx, now)
			if err != nil {
				log.ErrorErr(log.CatEngine, "Poll failed", err)
				fmt.Fprintf(os.Stderr, "poll: %v\n", err)
			}
			if drift != nil {
				fmt.Printf("Timezone drift: clock moved %+d min since dose 1\n", drift.DeltaMinutes)
			}
			next, reason := rt.engine.NextWake(now)
			timer.Reset(next)
			log.Debug(log.CatSchedule, "Next boundary", "at", next.Format(time.RFC3339), "reason", reason)
		}
		poll()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		fmt.Println("Watching. Press Ctrl+C to stop")
		for {
			select {
			case <-timer.C():
				poll()
			case <-onChange:
				// External writer touched the database.
				poll()
			case change := <-changes:
				log.Debug(log.CatEngine, "Session change", "key", change.Payload.Key, "phase", change.Payload.Phase)
			case entry, ok := <-logTail:
				if !ok {
					logTail = nil
					continue
				}
				fmt.Fprint(os.Stderr, entry.Payload)
			case sig := <-sigCh:
				fmt.Printf("\nReceived %s, shutting down\n", sig)
				return nil
			}
		}
	}, func(o *engine.Options) {
		o.Broker = broker
	})
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
