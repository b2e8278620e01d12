// Package speakers owns one long-lived session per configured KEF speaker and
// the registry that maps speaker IPs to sessions.
package speakers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/strefethen/kef-hub-go/internal/config"
	"github.com/strefethen/kef-hub-go/internal/kef"
	"github.com/strefethen/kef-hub-go/internal/kef/events"
	"github.com/strefethen/kef-hub-go/internal/kef/rpc"
	"github.com/strefethen/kef-hub-go/internal/policy"
	"github.com/strefethen/kef-hub-go/internal/scheduler"
)

// State is the session lifecycle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateActive        State = "active"
	StateTerminated    State = "terminated"
)

// PlaybackAction is a transport control sent to the player.
type PlaybackAction string

const (
	PlaybackPlayPause PlaybackAction = "play_pause"
	PlaybackNext      PlaybackAction = "next"
	PlaybackPrevious  PlaybackAction = "previous"
)

// Listener receives every non-empty change together with the snapshot it
// produced. Calls for one speaker are never concurrent with each other.
type Listener interface {
	SpeakerChanged(key string, change kef.SpeakerChange, snapshot kef.SpeakerStatus)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(key string, change kef.SpeakerChange, snapshot kef.SpeakerStatus)

func (f ListenerFunc) SpeakerChanged(key string, change kef.SpeakerChange, snapshot kef.SpeakerStatus) {
	f(key, change, snapshot)
}

// Options are the service-wide inputs shared by every session.
type Options struct {
	// Timeout bounds ordinary speaker calls.
	Timeout time.Duration
	// LongPollTimeout is how long the speaker may hold a long-poll.
	LongPollTimeout time.Duration
	// Location is the default zone for night-mode schedules.
	Location *time.Location
	// Night schedules night-mode windows. Nil disables scheduling.
	Night    *scheduler.NightScheduler
	Listener Listener
	Logger   *log.Logger
}

// Session is the per-speaker worker: one connector, one change-detection
// engine and one volume policy.
type Session struct {
	cfg       config.SpeakerConfig
	model     kef.Model
	connector *kef.Connector
	engine    *events.Engine
	policy    *policy.VolumePolicy
	night     *scheduler.NightScheduler
	window    *scheduler.Window
	listener  Listener
	logger    *log.Logger

	mu         sync.Mutex
	state      State
	deviceName string
	reachable  bool
	started    bool
	cancel     context.CancelFunc
	done       chan struct{}

	// notifyMu serializes listener calls from the loop and from commands.
	notifyMu sync.Mutex
}

// NewSession builds an uninitialized session. Nothing touches the network
// until Start.
func NewSession(cfg config.SpeakerConfig, opts Options) (*Session, error) {
	model, ok := kef.LookupModel(cfg.Model)
	if !ok {
		return nil, fmt.Errorf("speaker %s: unknown model %q", cfg.IP, cfg.Model)
	}

	mode := events.ModeCompare
	includeProgress := false
	if cfg.Polling != nil {
		parsed, err := events.ParseMode(cfg.Polling.Mode)
		if err != nil {
			return nil, fmt.Errorf("speaker %s: %w", cfg.IP, err)
		}
		mode = parsed
		includeProgress = cfg.Polling.IncludeSongStatus
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = rpc.DefaultTimeout
	}

	location := resolveLocation(cfg, opts.Location)
	var window *scheduler.Window
	if cfg.NightModeEnabled() {
		parsed, err := scheduler.ParseWindow(cfg.NightMode.Schedule, location)
		if err != nil {
			return nil, fmt.Errorf("speaker %s: night mode: %w", cfg.IP, err)
		}
		window = &parsed
	}

	client := rpc.NewClient(cfg.IP, timeout)
	connector := kef.NewConnector(client, logger)
	engine := events.NewEngine(connector, client, events.Options{
		Mode:                mode,
		IncludeSongProgress: includeProgress,
		PollTimeout:         opts.LongPollTimeout,
	}, logger)

	return &Session{
		cfg:       cfg,
		model:     model,
		connector: connector,
		engine:    engine,
		policy:    policy.New(connector, policyConfig(cfg), logger),
		night:     opts.Night,
		window:    window,
		listener:  opts.Listener,
		logger:    logger,
		state:     StateUninitialized,
		reachable: true,
	}, nil
}

func policyConfig(cfg config.SpeakerConfig) policy.Config {
	var out policy.Config
	if cfg.VolumeLimit != nil {
		out.Limits = &policy.Limits{Min: cfg.VolumeLimit.Min, Max: cfg.VolumeLimit.Max}
	}
	if cfg.NightModeEnabled() {
		nightMax := cfg.NightMode.MaxVolume
		out.NightMax = &nightMax
	}
	return out
}

func resolveLocation(cfg config.SpeakerConfig, fallback *time.Location) *time.Location {
	if cfg.NightMode != nil && cfg.NightMode.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.NightMode.Timezone); err == nil {
			return loc
		}
	}
	if fallback != nil {
		return fallback
	}
	return time.Local
}

// Key is the registry key, the speaker IP.
func (s *Session) Key() string {
	return s.cfg.IP
}

// Config returns the static configuration the session was built from.
func (s *Session) Config() config.SpeakerConfig {
	return s.cfg
}

func (s *Session) Model() kef.Model {
	return s.model
}

// Connector exposes the device facade for read-only queries.
func (s *Session) Connector() *kef.Connector {
	return s.connector
}

// Policy exposes the volume policy.
func (s *Session) Policy() *policy.VolumePolicy {
	return s.policy
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reachable is false after a failed tick or startup fetch and turns true
// again on the next successful one.
func (s *Session) Reachable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reachable
}

// Snapshot returns the last known status.
func (s *Session) Snapshot() kef.SpeakerStatus {
	return s.engine.Snapshot()
}

// LastUpdated is when the snapshot last changed.
func (s *Session) LastUpdated() time.Time {
	return s.engine.LastUpdated()
}

// Mode is the change-detection strategy in use.
func (s *Session) Mode() events.Mode {
	return s.engine.Mode()
}

// DeviceName is the name reported by the speaker itself, if seen.
func (s *Session) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceName
}

// DisplayName is the configured name, replaced by "title - artist" while a
// track is known and updateDisplayName is on.
func (s *Session) DisplayName() string {
	if s.cfg.Polling != nil && s.cfg.Polling.UpdateDisplayName {
		if info := s.engine.Snapshot().SongInfo; info != nil {
			if name := info.DisplayName(); name != "" {
				return name
			}
		}
	}
	return s.cfg.Name
}

// NightModeActive reports the policy's night flag.
func (s *Session) NightModeActive() bool {
	return s.policy.NightModeActive()
}

// NightTransitions returns the next scheduled night-mode start and end.
func (s *Session) NightTransitions() (start, end time.Time, ok bool) {
	if s.night == nil {
		return time.Time{}, time.Time{}, false
	}
	return s.night.NextTransitions(s.Key())
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start fetches the complete status, registers the night-mode window and
// launches the poll loop when polling is enabled. A failed initial fetch is
// returned, but the session stays registered and the loop keeps retrying it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == StateTerminated:
		s.mu.Unlock()
		return ErrSessionTerminated
	case s.started:
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if s.night != nil && s.window != nil {
		if _, err := s.night.Register(s.Key(), *s.window, s.policy); err != nil {
			// Leave the session startable again.
			s.mu.Lock()
			s.started = false
			s.mu.Unlock()
			return err
		}
	}

	initErr := s.initialize(ctx)
	if initErr != nil {
		s.logger.Printf("KEF: %s (%s) not reachable at startup: %v", s.cfg.Name, s.Key(), initErr)
		s.mu.Lock()
		s.reachable = false
		s.mu.Unlock()
	}

	if s.cfg.PollingEnabled() {
		loopCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		s.mu.Lock()
		if s.state == StateTerminated {
			s.mu.Unlock()
			cancel()
			return ErrSessionTerminated
		}
		s.cancel = cancel
		s.done = done
		s.mu.Unlock()

		go s.run(loopCtx, done)
	}

	return initErr
}

// initialize runs the first full fetch and moves the session to Active.
func (s *Session) initialize(ctx context.Context) error {
	result, err := s.engine.Refresh(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return ErrSessionTerminated
	}
	s.state = StateActive
	s.reachable = true
	s.mu.Unlock()

	s.policy.ObserveVolume(result.Current.Volume)
	s.logger.Printf("KEF: %s (%s) active: power=%s source=%s volume=%d",
		s.cfg.Name, s.Key(), result.Current.Power, result.Current.Source, result.Current.Volume)

	if s.cfg.RestorePowerState && result.Current.Power == kef.PowerStandby {
		if err := s.connector.PowerOn(ctx); err != nil {
			s.logger.Printf("KEF: %s restore power failed: %v", s.cfg.Name, err)
		} else {
			power := kef.PowerOn
			s.logger.Printf("KEF: %s power restored", s.cfg.Name)
			s.applyLocal(kef.SpeakerChange{Power: &power})
		}
	}

	if !result.Change.IsEmpty() {
		s.notify(result.Change, s.engine.Snapshot())
	}
	return nil
}

// Close stops the poll loop, waits for it and drops the night-mode jobs.
// It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.state = StateTerminated
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if s.night != nil {
		s.night.Unregister(s.Key())
	}
	s.logger.Printf("KEF: %s (%s) session closed", s.cfg.Name, s.Key())
}

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateTerminated
}

// run is the sequential poll loop: one tick, then either wait the interval
// (compare mode, or after a failure) or re-issue immediately (long-poll).
func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := s.cfg.PollingInterval()
	s.logger.Printf("POLL: %s started (%s, every %v)", s.cfg.Name, s.engine.Mode(), interval)

	for {
		wait := interval

		if s.State() == StateUninitialized {
			if err := s.initialize(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				if !sleep(ctx, wait) {
					return
				}
				continue
			}
		}

		result := s.engine.Tick(ctx)
		if ctx.Err() != nil {
			return
		}

		if result.Failed() {
			s.markReachable(false, result.Err)
		} else {
			s.markReachable(true, nil)
			s.handleTick(result)
			if s.engine.Mode() == events.ModeLongPoll {
				wait = 0
			}
		}

		if !sleep(ctx, wait) {
			return
		}
	}
}

func (s *Session) markReachable(reachable bool, err error) {
	s.mu.Lock()
	previous := s.reachable
	s.reachable = reachable
	s.mu.Unlock()

	switch {
	case previous && !reachable:
		s.logger.Printf("POLL: %s unreachable: %v", s.cfg.Name, err)
	case !previous && reachable:
		s.logger.Printf("POLL: %s reachable again", s.cfg.Name)
	}
}

func (s *Session) handleTick(result events.TickResult) {
	if result.Change.IsEmpty() {
		return
	}
	for _, line := range result.Change.Describe(result.Previous) {
		s.logger.Printf("POLL: %s %s", s.cfg.Name, line)
	}
	if result.Change.Volume != nil {
		s.policy.ObserveVolume(*result.Change.Volume)
	}
	if result.Change.Name != nil {
		s.mu.Lock()
		s.deviceName = *result.Change.Name
		s.mu.Unlock()
	}
	s.notify(result.Change, result.Current)
}

// sleep waits d or until ctx is done. It reports whether the loop should go on.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) notify(change kef.SpeakerChange, snapshot kef.SpeakerStatus) {
	if s.listener == nil || change.IsEmpty() || s.closed() {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.listener.SpeakerChanged(s.Key(), change, snapshot)
}

func (s *Session) applyLocal(change kef.SpeakerChange) kef.SpeakerStatus {
	result := s.engine.ApplyLocal(change)
	s.notify(change, result.Current)
	return result.Current
}

// =============================================================================
// Commands
// =============================================================================

// Refresh performs an on-demand full fetch and reports what changed.
func (s *Session) Refresh(ctx context.Context) (kef.SpeakerChange, error) {
	if s.closed() {
		return kef.SpeakerChange{}, ErrSessionTerminated
	}
	if s.State() == StateUninitialized {
		if err := s.initialize(ctx); err != nil {
			return kef.SpeakerChange{}, err
		}
		return kef.SpeakerChange{}, nil
	}
	result, err := s.engine.Refresh(ctx)
	if err != nil {
		return kef.SpeakerChange{}, err
	}
	s.handleTick(result)
	return result.Change, nil
}

// Power switches the speaker on or to standby.
func (s *Session) Power(ctx context.Context, on bool) (kef.SpeakerStatus, error) {
	if s.closed() {
		return kef.SpeakerStatus{}, ErrSessionTerminated
	}

	power := kef.PowerStandby
	var err error
	if on {
		power = kef.PowerOn
		err = s.connector.PowerOn(ctx)
	} else {
		err = s.connector.Shutdown(ctx)
	}
	if err != nil {
		return kef.SpeakerStatus{}, err
	}
	return s.applyLocal(kef.SpeakerChange{Power: &power}), nil
}

// SetSource selects an input. Selecting a source also wakes the speaker.
func (s *Session) SetSource(ctx context.Context, source string) (kef.SpeakerStatus, error) {
	if s.closed() {
		return kef.SpeakerStatus{}, ErrSessionTerminated
	}
	if !s.model.Supports(source) {
		return kef.SpeakerStatus{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedSource, source, s.model.ID)
	}
	if err := s.connector.SetSource(ctx, source); err != nil {
		return kef.SpeakerStatus{}, err
	}
	power := kef.PowerOn
	return s.applyLocal(kef.SpeakerChange{Source: &source, Power: &power}), nil
}

// SetVolume writes volume through the policy and returns the snapshot with
// the value actually written.
func (s *Session) SetVolume(ctx context.Context, volume int) (kef.SpeakerStatus, error) {
	if s.closed() {
		return kef.SpeakerStatus{}, ErrSessionTerminated
	}
	written, err := s.policy.SetVolume(ctx, volume)
	if err != nil {
		return kef.SpeakerStatus{}, err
	}
	return s.applyLocal(volumeChange(written)), nil
}

// StepVolume moves the volume one step up or down.
func (s *Session) StepVolume(ctx context.Context, up bool) (kef.SpeakerStatus, error) {
	if s.closed() {
		return kef.SpeakerStatus{}, ErrSessionTerminated
	}
	written, err := s.policy.StepVolume(ctx, up)
	if err != nil {
		return kef.SpeakerStatus{}, err
	}
	return s.applyLocal(volumeChange(written)), nil
}

// SetMuted mutes to volume 0 or restores the remembered volume.
func (s *Session) SetMuted(ctx context.Context, muted bool) (kef.SpeakerStatus, error) {
	if s.closed() {
		return kef.SpeakerStatus{}, ErrSessionTerminated
	}
	if muted {
		if err := s.policy.Mute(ctx); err != nil {
			return kef.SpeakerStatus{}, err
		}
		return s.applyLocal(volumeChange(0)), nil
	}
	restored, err := s.policy.Unmute(ctx)
	if err != nil {
		return kef.SpeakerStatus{}, err
	}
	return s.applyLocal(volumeChange(restored)), nil
}

func volumeChange(volume int) kef.SpeakerChange {
	muted := volume == 0
	return kef.SpeakerChange{Volume: &volume, Muted: &muted}
}

// Playback sends a transport control. The resulting play state arrives with
// the next detection cycle.
func (s *Session) Playback(ctx context.Context, action PlaybackAction) error {
	if s.closed() {
		return ErrSessionTerminated
	}
	switch action {
	case PlaybackPlayPause:
		return s.connector.TogglePlayPause(ctx)
	case PlaybackNext:
		return s.connector.NextTrack(ctx)
	case PlaybackPrevious:
		return s.connector.PreviousTrack(ctx)
	default:
		return fmt.Errorf("unknown playback action %q", action)
	}
}

// SetNightMode overrides the scheduled night-mode flag until the next
// scheduled transition.
func (s *Session) SetNightMode(active bool) error {
	if s.closed() {
		return ErrSessionTerminated
	}
	if !s.policy.NightModeConfigured() {
		return ErrNightModeNotConfigured
	}
	if active {
		s.policy.ActivateNightMode()
	} else {
		s.policy.DeactivateNightMode()
	}
	s.logger.Printf("NIGHT: %s night mode override active=%t", s.cfg.Name, active)
	return nil
}

// Info reads identity data from the speaker.
func (s *Session) Info(ctx context.Context) (kef.DeviceInfo, error) {
	if s.closed() {
		return kef.DeviceInfo{}, ErrSessionTerminated
	}
	info, err := s.connector.GetDeviceInfo(ctx)
	if err != nil {
		return kef.DeviceInfo{}, err
	}
	s.mu.Lock()
	if info.Name != "" && info.Name != kef.DefaultName {
		s.deviceName = info.Name
	}
	s.mu.Unlock()
	return info, nil
}

// IsUnreachable reports whether err came from the speaker not answering.
func IsUnreachable(err error) bool {
	return errors.Is(err, kef.ErrUnreachable) || rpc.IsTransportError(err)
}
