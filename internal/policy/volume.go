// Package policy applies volume limits, night-mode caps and mute memory in
// front of a speaker's volume writes.
package policy

import (
	"context"
	"log"
	"sync"
)

const (
	// DefaultPreviousVolume is restored by Unmute when no volume was ever seen.
	DefaultPreviousVolume = 50
	// VolumeStep is the increment used by StepVolume.
	VolumeStep = 5

	deviceMin = 0
	deviceMax = 100
)

// VolumeDevice is the part of kef.Connector the policy writes through.
type VolumeDevice interface {
	GetVolume(ctx context.Context) (int, error)
	SetVolume(ctx context.Context, volume int) error
}

// Limits is an inclusive volume range.
type Limits struct {
	Min int
	Max int
}

// Config is the per-speaker policy input. A nil Limits means the full
// device range; {0, 0} is a real range that pins the volume at zero. A nil
// NightMax disables the night-mode cap even if night mode is switched on.
type Config struct {
	Limits   *Limits
	NightMax *int
}

// Clamp bounds v to [low, high].
func Clamp(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

// VolumePolicy is safe for concurrent use.
type VolumePolicy struct {
	device VolumeDevice
	cfg    Config
	limits Limits
	logger *log.Logger

	mu             sync.Mutex
	nightActive    bool
	lastVolume     int
	seenVolume     bool
	previousVolume int
}

// New builds a policy. Unset limits default to the full device range.
func New(device VolumeDevice, cfg Config, logger *log.Logger) *VolumePolicy {
	if logger == nil {
		logger = log.Default()
	}
	limits := Limits{Min: deviceMin, Max: deviceMax}
	if cfg.Limits != nil {
		limits = *cfg.Limits
	}
	return &VolumePolicy{
		device:         device,
		cfg:            cfg,
		limits:         limits,
		logger:         logger,
		previousVolume: DefaultPreviousVolume,
	}
}

// Limit runs the outbound pipeline: clamp to the configured range, then cap
// at the night maximum while night mode is active.
func (p *VolumePolicy) Limit(volume int) int {
	volume = Clamp(volume, p.limits.Min, p.limits.Max)

	p.mu.Lock()
	night := p.nightActive
	p.mu.Unlock()

	if night && p.cfg.NightMax != nil && volume > *p.cfg.NightMax {
		volume = *p.cfg.NightMax
	}
	return volume
}

// SetVolume limits volume and forwards it. It returns the value written.
func (p *VolumePolicy) SetVolume(ctx context.Context, volume int) (int, error) {
	limited := p.Limit(volume)
	if err := p.device.SetVolume(ctx, limited); err != nil {
		return 0, err
	}
	if limited != volume {
		p.logger.Printf("KEF: volume %d limited to %d", volume, limited)
	}
	p.ObserveVolume(limited)
	return limited, nil
}

// StepVolume reads the current volume, moves it one step and sends the
// result through SetVolume.
func (p *VolumePolicy) StepVolume(ctx context.Context, up bool) (int, error) {
	current, err := p.device.GetVolume(ctx)
	if err != nil {
		return 0, err
	}
	p.ObserveVolume(current)

	next := current - VolumeStep
	if up {
		next = current + VolumeStep
	}
	return p.SetVolume(ctx, Clamp(next, deviceMin, deviceMax))
}

// Mute remembers the last observed non-zero volume and sets the device to 0.
func (p *VolumePolicy) Mute(ctx context.Context) error {
	p.mu.Lock()
	if p.seenVolume && p.lastVolume > 0 {
		p.previousVolume = p.lastVolume
	}
	p.mu.Unlock()

	if err := p.device.SetVolume(ctx, 0); err != nil {
		return err
	}
	p.ObserveVolume(0)
	return nil
}

// Unmute restores the remembered volume exactly and returns it.
func (p *VolumePolicy) Unmute(ctx context.Context) (int, error) {
	previous := p.PreviousVolume()
	if err := p.device.SetVolume(ctx, previous); err != nil {
		return 0, err
	}
	p.ObserveVolume(previous)
	return previous, nil
}

// ObserveVolume records the latest known device volume, from either a
// command result or a poll.
func (p *VolumePolicy) ObserveVolume(volume int) {
	p.mu.Lock()
	p.lastVolume = volume
	p.seenVolume = true
	p.mu.Unlock()
}

// PreviousVolume is the value Unmute will restore.
func (p *VolumePolicy) PreviousVolume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.previousVolume
}

func (p *VolumePolicy) ActivateNightMode() {
	p.setNightMode(true)
}

func (p *VolumePolicy) DeactivateNightMode() {
	p.setNightMode(false)
}

func (p *VolumePolicy) setNightMode(active bool) {
	p.mu.Lock()
	p.nightActive = active
	p.mu.Unlock()
}

// NightModeActive reports the current flag.
func (p *VolumePolicy) NightModeActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nightActive
}

// NightModeConfigured reports whether a night cap exists at all.
func (p *VolumePolicy) NightModeConfigured() bool {
	return p.cfg.NightMax != nil
}

// Limits returns the effective volume range.
func (p *VolumePolicy) Limits() Limits {
	return p.limits
}
