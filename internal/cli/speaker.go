package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strefethen/kef-hub-go/internal/kef"
	"github.com/strefethen/kef-hub-go/internal/policy"
)

func newStatusCommand(opts *options) *cobra.Command {
	var progress bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show power, source, volume and now playing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			connector, err := opts.connector(cmd)
			if err != nil {
				return err
			}
			status, err := connector.GetCompleteStatus(cmd.Context(), kef.StatusOptions{IncludeSongProgress: progress})
			if err != nil {
				return fmt.Errorf("failed to read status: %w", err)
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), status)
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&progress, "progress", true, "include the playback position")
	return cmd
}

func newInfoCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show name, model, firmware and MAC address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			connector, err := opts.connector(cmd)
			if err != nil {
				return err
			}
			info, err := connector.GetDeviceInfo(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read device info: %w", err)
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			printInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
}

func newVolumeCommand(opts *options) *cobra.Command {
	var up, down bool
	var limits [2]int

	cmd := &cobra.Command{
		Use:   "volume [level]",
		Short: "Show, set or step the volume",
		Long: `Show the volume, set it (0-100) or step it up/down by 5.

Examples:
  kefctl volume            # Print the current volume
  kefctl volume 40         # Set volume to 40
  kefctl volume --up       # Increase volume by 5
  kefctl volume 90 --max 60`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if up && down {
				return fmt.Errorf("--up and --down are mutually exclusive")
			}
			connector, err := opts.connector(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			vp := policy.New(connector, policy.Config{Limits: &policy.Limits{Min: limits[0], Max: limits[1]}}, opts.logger(cmd))

			var volume int
			switch {
			case len(args) == 1:
				level, convErr := strconv.Atoi(args[0])
				if convErr != nil || level < 0 || level > 100 {
					return fmt.Errorf("volume must be an integer between 0 and 100, got %q", args[0])
				}
				volume, err = vp.SetVolume(ctx, level)
			case up || down:
				volume, err = vp.StepVolume(ctx, up)
			default:
				volume, err = connector.GetVolume(ctx)
			}
			if err != nil {
				return fmt.Errorf("volume: %w", err)
			}
			return printResult(cmd, opts, map[string]any{"volume": volume}, fmt.Sprintf("Volume: %d", volume))
		},
	}
	cmd.Flags().BoolVar(&up, "up", false, "increase volume by one step")
	cmd.Flags().BoolVar(&down, "down", false, "decrease volume by one step")
	cmd.Flags().IntVar(&limits[0], "min", 0, "lowest volume to write")
	cmd.Flags().IntVar(&limits[1], "max", 100, "highest volume to write")
	return cmd
}

func newMuteCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mute",
		Short: "Mute the speaker (sets volume to 0)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			connector, err := opts.connector(cmd)
			if err != nil {
				return err
			}
			if err := connector.Mute(cmd.Context()); err != nil {
				return fmt.Errorf("failed to mute: %w", err)
			}
			return printResult(cmd, opts, map[string]any{"muted": true}, "Muted")
		},
	}
}

func newUnmuteCommand(opts *options) *cobra.Command {
	var volume int
	cmd := &cobra.Command{
		Use:   "unmute",
		Short: "Restore the volume after a mute",
		Long: `Restore the volume after a mute. The speaker does not remember the level it
was muted from, so the level to restore is given with --volume.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if volume < 0 || volume > 100 {
				return fmt.Errorf("--volume must be between 0 and 100")
			}
			connector, err := opts.connector(cmd)
			if err != nil {
				return err
			}
			if err := connector.Unmute(cmd.Context(), volume); err != nil {
				return fmt.Errorf("failed to unmute: %w", err)
			}
			return printResult(cmd, opts, map[string]any{"muted": false, "volume": volume}, fmt.Sprintf("Volume: %d", volume))
		},
	}
	cmd.Flags().IntVar(&volume, "volume", policy.DefaultPreviousVolume, "volume to restore")
	return cmd
}

func newPowerCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "power on|off",
		Short:     "Wake the speaker or put it in standby",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			connector, err := opts.connector(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			var power kef.Power
			switch strings.ToLower(args[0]) {
			case "on":
				power, err = kef.PowerOn, connector.PowerOn(ctx)
			case "off", "standby":
				power, err = kef.PowerStandby, connector.Shutdown(ctx)
			default:
				return fmt.Errorf("power: expected on or off, got %q", args[0])
			}
			if err != nil {
				return fmt.Errorf("power: %w", err)
			}
			return printResult(cmd, opts, map[string]any{"power": power}, "Power: "+string(power))
		},
	}
}

func newSourceCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "source [name]",
		Short: "Show or select the input source",
		Long: `Show or select the input source. Selecting a source also wakes the speaker.

Sources: wifi, bluetooth, tv, optical, coaxial, analog, usb (depending on model).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			connector, err := opts.connector(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if len(args) == 0 {
				source, err := connector.GetSource(ctx)
				if err != nil {
					return fmt.Errorf("failed to read source: %w", err)
				}
				return printResult(cmd, opts, map[string]any{"source": source}, "Source: "+kef.SourceName(source))
			}

			model, err := opts.lookupModel()
			if err != nil {
				return err
			}
			source := strings.ToLower(args[0])
			if !model.Supports(source) {
				return fmt.Errorf("%s does not support source %q (supported: %s)", model.Name, source, strings.Join(model.Sources, ", "))
			}
			if err := connector.SetSource(ctx, source); err != nil {
				return fmt.Errorf("failed to select source: %w", err)
			}
			return printResult(cmd, opts, map[string]any{"source": source}, "Source: "+kef.SourceName(source))
		},
	}
}

func newPlaybackCommand(opts *options, use, short string, action func(*kef.Connector, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			connector, err := opts.connector(cmd)
			if err != nil {
				return err
			}
			if err := action(connector, cmd.Context()); err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			return printResult(cmd, opts, map[string]any{"action": use}, "OK")
		},
	}
}

func printResult(cmd *cobra.Command, opts *options, result map[string]any, text string) error {
	if opts.jsonOut {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}
