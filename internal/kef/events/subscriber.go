package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/strefethen/kef-hub-go/internal/kef"
	"github.com/strefethen/kef-hub-go/internal/kef/rpc"
)

// ErrPollNotStarted is returned by Poll before StartSubscription succeeded.
var ErrPollNotStarted = errors.New("long-poll subscription not started")

// QueueClient is the event-queue half of rpc.Client.
type QueueClient interface {
	ModifyQueue(ctx context.Context, paths []string) (string, error)
	LongPoll(ctx context.Context, queueID string, timeout time.Duration) (map[string]json.RawMessage, error)
}

// subscribedPaths is the fixed subscription set. playMode is subscribed for
// parity with the speaker app but maps to no change field.
var subscribedPaths = []string{
	rpc.PathPlayMode,
	rpc.PathVolume,
	rpc.PathMute,
	rpc.PathSpeakerStatus,
	rpc.PathPhysicalSource,
	rpc.PathPlayerData,
	rpc.PathDeviceName,
}

// SubscriptionPaths returns the paths a subscription names.
func SubscriptionPaths(includeSongProgress bool) []string {
	paths := append([]string(nil), subscribedPaths...)
	if includeSongProgress {
		paths = append(paths, rpc.PathPlayTime)
	}
	return paths
}

// Subscriber owns one long-poll subscription handle.
type Subscriber struct {
	client QueueClient

	mu      sync.Mutex
	queueID string
}

func NewSubscriber(client QueueClient) *Subscriber {
	return &Subscriber{client: client}
}

// StartSubscription registers the subscription set and stores the queue id.
// Calling it again replaces the previous handle.
func (s *Subscriber) StartSubscription(ctx context.Context, includeSongProgress bool) error {
	id, err := s.client.ModifyQueue(ctx, SubscriptionPaths(includeSongProgress))
	if err != nil {
		return fmt.Errorf("start subscription: %w", err)
	}
	s.mu.Lock()
	s.queueID = id
	s.mu.Unlock()
	return nil
}

// QueueID returns the current handle, empty if none.
func (s *Subscriber) QueueID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueID
}

// Active reports whether a subscription handle is held.
func (s *Subscriber) Active() bool {
	return s.QueueID() != ""
}

// Reset drops the handle so the next cycle re-subscribes.
func (s *Subscriber) Reset() {
	s.mu.Lock()
	s.queueID = ""
	s.mu.Unlock()
}

// Poll waits up to timeout for device events and decodes them. A quiet
// period yields an empty change.
func (s *Subscriber) Poll(ctx context.Context, timeout time.Duration) (kef.SpeakerChange, error) {
	id := s.QueueID()
	if id == "" {
		return kef.SpeakerChange{}, ErrPollNotStarted
	}
	events, err := s.client.LongPoll(ctx, id, timeout)
	if err != nil {
		return kef.SpeakerChange{}, fmt.Errorf("long poll: %w", err)
	}
	return DecodeEvents(events), nil
}

// decodeOrder makes decoding deterministic: an explicit mute event wins over
// the volume-derived mute flag.
var decodeOrder = []string{
	rpc.PathVolume,
	rpc.PathMute,
	rpc.PathSpeakerStatus,
	rpc.PathPhysicalSource,
	rpc.PathPlayerData,
	rpc.PathPlayTime,
	rpc.PathDeviceName,
}

// DecodeEvents maps a longPoll event map onto a SpeakerChange. Paths it does
// not know are ignored.
func DecodeEvents(events map[string]json.RawMessage) kef.SpeakerChange {
	var change kef.SpeakerChange

	for _, path := range decodeOrder {
		raw, ok := events[path]
		if !ok {
			continue
		}

		switch path {
		case rpc.PathVolume:
			if volume, ok := rpc.ParseValue(raw).Int(); ok {
				muted := volume == 0
				change.Volume = &volume
				change.Muted = &muted
			}
		case rpc.PathMute:
			if muted, ok := rpc.ParseValue(raw).Boolean(); ok {
				change.Muted = &muted
			}
		case rpc.PathSpeakerStatus:
			if status, ok := rpc.ParseValue(raw).Status(); ok {
				power := kef.Power(status)
				change.Power = &power
			}
		case rpc.PathPhysicalSource:
			if source, ok := rpc.ParseValue(raw).Source(); ok {
				change.Source = &source
			}
		case rpc.PathPlayerData:
			applyPlayerData(&change, kef.ParsePlayerData(raw))
		case rpc.PathPlayTime:
			if progress, ok := rpc.ParseValue(raw).Int64(); ok {
				change.SongProgress = &progress
			}
		case rpc.PathDeviceName:
			if name, ok := rpc.ParseValue(raw).Str(); ok && name != "" {
				change.Name = &name
			}
		}
	}

	return change
}

// applyPlayerData projects the composite document into three fields at once.
func applyPlayerData(change *kef.SpeakerChange, data kef.PlayerData) {
	playing := data.Playing()
	change.IsPlaying = &playing

	info := kef.SongInfo{}
	if projected := data.SongInfo(); projected != nil {
		info = *projected
	}
	change.SongInfo = &info

	length := 0
	if duration := data.Duration(); duration != nil {
		length = *duration
	}
	change.SongLength = &length
}
