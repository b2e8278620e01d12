package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/strefethen/kef-hub-go/internal/kef"
)

// Mode selects the change-detection strategy.
type Mode string

const (
	ModeCompare  Mode = "compare"
	ModeLongPoll Mode = "longpoll"
)

// DefaultPollTimeout is how long the speaker may hold a long-poll open.
const DefaultPollTimeout = 10 * time.Second

// ParseMode maps a config value to a Mode. Empty means compare.
func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case "", ModeCompare:
		return ModeCompare, nil
	case ModeLongPoll:
		return ModeLongPoll, nil
	default:
		return "", fmt.Errorf("unknown polling mode %q", value)
	}
}

// Options configures an Engine.
type Options struct {
	Mode                Mode
	IncludeSongProgress bool
	PollTimeout         time.Duration
}

// TickResult is the outcome of one detection cycle.
type TickResult struct {
	Change   kef.SpeakerChange
	Previous kef.SpeakerStatus
	Current  kef.SpeakerStatus
	// Err is set when the cycle failed. The change is then empty and the
	// snapshot untouched.
	Err error
}

// Failed reports whether the cycle could not reach the speaker.
func (r TickResult) Failed() bool {
	return r.Err != nil
}

// Engine owns a speaker's snapshot and runs one detection strategy on it.
type Engine struct {
	store      *StateStore
	comparer   *Comparer
	subscriber *Subscriber
	fetcher    StatusFetcher
	opts       Options
	logger     *log.Logger

	// resync is set after a long-poll failure so the next successful
	// subscription reconciles anything missed while disconnected.
	resync bool
}

// NewEngine wires the strategies around one store. queue may be nil in
// compare mode.
func NewEngine(fetcher StatusFetcher, queue QueueClient, opts Options, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	if opts.Mode == "" {
		opts.Mode = ModeCompare
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	store := NewStateStore()
	engine := &Engine{
		store:    store,
		comparer: NewComparer(fetcher, store, kef.StatusOptions{IncludeSongProgress: opts.IncludeSongProgress}),
		fetcher:  fetcher,
		opts:     opts,
		logger:   logger,
	}
	if queue != nil {
		engine.subscriber = NewSubscriber(queue)
	}
	return engine
}

func (e *Engine) Mode() Mode {
	return e.opts.Mode
}

// Snapshot returns the current stored status.
func (e *Engine) Snapshot() kef.SpeakerStatus {
	return e.store.Get()
}

// LastUpdated is when the snapshot last changed hands.
func (e *Engine) LastUpdated() time.Time {
	return e.store.UpdatedAt()
}

// Refresh performs a full status fetch and replaces the snapshot. On error
// the snapshot is kept.
func (e *Engine) Refresh(ctx context.Context) (TickResult, error) {
	change, prev, err := e.comparer.Compare(ctx)
	if err != nil {
		return TickResult{Previous: prev, Current: prev, Err: err}, err
	}
	return TickResult{Change: change, Previous: prev, Current: e.store.Get()}, nil
}

// ApplyLocal merges the outcome of a successful command into the snapshot.
func (e *Engine) ApplyLocal(change kef.SpeakerChange) TickResult {
	prev, current := e.store.Apply(change)
	return TickResult{Change: change, Previous: prev, Current: current}
}

// Tick runs one detection cycle. It never fails; problems are reported via
// TickResult.Err.
func (e *Engine) Tick(ctx context.Context) TickResult {
	if e.opts.Mode == ModeLongPoll && e.subscriber != nil {
		return e.tickLongPoll(ctx)
	}
	result, _ := e.Refresh(ctx)
	return result
}

func (e *Engine) tickLongPoll(ctx context.Context) TickResult {
	if !e.subscriber.Active() {
		if err := e.subscriber.StartSubscription(ctx, e.opts.IncludeSongProgress); err != nil {
			e.resync = true
			current := e.store.Get()
			return TickResult{Previous: current, Current: current, Err: err}
		}
		if e.resync {
			e.resync = false
			result, err := e.Refresh(ctx)
			if err != nil {
				e.subscriber.Reset()
				e.resync = true
			}
			return result
		}
	}

	change, err := e.subscriber.Poll(ctx, e.opts.PollTimeout)
	if err != nil {
		// The queue is gone after a speaker restart; only a fresh
		// subscription recovers it.
		e.subscriber.Reset()
		e.resync = true
		if !errors.Is(err, context.Canceled) {
			e.logger.Printf("POLL: long poll failed, resubscribing next cycle: %v", err)
		}
		current := e.store.Get()
		return TickResult{Previous: current, Current: current, Err: err}
	}

	prev, current := e.store.Apply(change)
	return TickResult{Change: change, Previous: prev, Current: current}
}

// Subscriber exposes the long-poll handle owner, nil in compare-only engines.
func (e *Engine) Subscriber() *Subscriber {
	return e.subscriber
}
