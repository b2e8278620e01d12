package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/strefethen/kef-hub-go/internal/kef"
	"github.com/strefethen/kef-hub-go/internal/kef/events"
)

// ChangeEvent is one line of `kefctl watch --json` output.
type ChangeEvent struct {
	Time   string            `json:"time"`
	Fields []string          `json:"fields"`
	Change kef.SpeakerChange `json:"change"`
	Status kef.SpeakerStatus `json:"status"`
}

func newWatchCommand(opts *options) *cobra.Command {
	var (
		mode     string
		interval time.Duration
		progress bool
		count    int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print changes as the speaker reports them",
		Long: `Follow the speaker and print one line per change until interrupted.

In longpoll mode (the default) the speaker pushes events; in compare mode the
status is fetched every --interval and diffed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engineMode, err := events.ParseMode(mode)
			if err != nil {
				return err
			}
			connector, err := opts.connector(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			engine := events.NewEngine(connector, connector.Client(), events.Options{
				Mode:                engineMode,
				IncludeSongProgress: progress,
			}, opts.logger(cmd))

			initial, err := engine.Refresh(ctx)
			if err != nil {
				return fmt.Errorf("failed to read status: %w", err)
			}
			if !opts.jsonOut {
				printStatus(cmd.OutOrStdout(), initial.Current)
			}

			printed := 0
			for count <= 0 || printed < count {
				result := engine.Tick(ctx)
				if ctx.Err() != nil {
					return nil
				}
				if result.Failed() {
					fmt.Fprintf(cmd.ErrOrStderr(), "watch: %v\n", result.Err)
					if !sleep(ctx, interval) {
						return nil
					}
					continue
				}
				if !result.Change.IsEmpty() {
					if err := printChange(cmd, opts, result); err != nil {
						return err
					}
					printed++
				}
				if engineMode == events.ModeCompare && !sleep(ctx, interval) {
					return nil
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(events.ModeLongPoll), "detection mode: longpoll or compare")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "compare interval, and retry delay after a failure")
	cmd.Flags().BoolVar(&progress, "progress", false, "report playback position changes")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many changes (0 = run until interrupted)")
	return cmd
}

func printChange(cmd *cobra.Command, opts *options, result events.TickResult) error {
	now := time.Now().Format(time.RFC3339)
	if opts.jsonOut {
		// One compact object per line.
		return json.NewEncoder(cmd.OutOrStdout()).Encode(ChangeEvent{Time: now, Fields: result.Change.Fields(), Change: result.Change, Status: result.Current})
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", now, strings.Join(result.Change.Describe(result.Previous), "; "))
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
