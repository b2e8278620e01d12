// Package cli implements kefctl, a command-line client that talks to one KEF
// speaker directly.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/strefethen/kef-hub-go/internal/kef"
	"github.com/strefethen/kef-hub-go/internal/kef/rpc"
)

// options are the persistent flags shared by every command.
type options struct {
	speaker string
	model   string
	timeout time.Duration
	jsonOut bool
	verbose bool
}

// NewRootCommand builds the kefctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "kefctl",
		Short: "Control KEF wireless speakers from the command line",
		Long: `kefctl talks to a KEF LS50 Wireless II, LSX II or LS60 over its local HTTP API.

The speaker address comes from --speaker or the KEFCTL_SPEAKER environment variable.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.speaker, "speaker", "s", os.Getenv("KEFCTL_SPEAKER"), "speaker IP address (or ip:port)")
	flags.StringVarP(&opts.model, "model", "m", envOr("KEFCTL_MODEL", "LSX2"), "speaker model: LS50W2, LSX2 or LS60")
	flags.DurationVar(&opts.timeout, "timeout", rpc.DefaultTimeout, "per-request timeout")
	flags.BoolVarP(&opts.jsonOut, "json", "j", false, "output as JSON")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log requests to stderr")

	root.AddCommand(
		newStatusCommand(opts),
		newInfoCommand(opts),
		newVolumeCommand(opts),
		newMuteCommand(opts),
		newUnmuteCommand(opts),
		newPowerCommand(opts),
		newSourceCommand(opts),
		newPlaybackCommand(opts, "play-pause", "Toggle play/pause", (*kef.Connector).TogglePlayPause),
		newPlaybackCommand(opts, "next", "Skip to next track", (*kef.Connector).NextTrack),
		newPlaybackCommand(opts, "prev", "Go to previous track", (*kef.Connector).PreviousTrack),
		newWatchCommand(opts),
		newTokenCommand(opts),
	)
	return root
}

// Execute runs kefctl and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

var errNoSpeaker = errors.New("no speaker address: pass --speaker or set KEFCTL_SPEAKER")

func (o *options) connector(cmd *cobra.Command) (*kef.Connector, error) {
	if o.speaker == "" {
		return nil, errNoSpeaker
	}
	return kef.NewConnector(rpc.NewClient(o.speaker, o.timeout), o.logger(cmd)), nil
}

func (o *options) lookupModel() (kef.Model, error) {
	model, ok := kef.LookupModel(o.model)
	if !ok {
		return kef.Model{}, fmt.Errorf("unknown model %q", o.model)
	}
	return model, nil
}

func (o *options) logger(cmd *cobra.Command) *log.Logger {
	if !o.verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
