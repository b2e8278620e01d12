package events

import (
	"sync"
	"time"

	"github.com/strefethen/kef-hub-go/internal/kef"
)

// StateStore holds the authoritative snapshot for one speaker. Replace and
// Apply are atomic with respect to each other.
type StateStore struct {
	mu        sync.RWMutex
	status    kef.SpeakerStatus
	updatedAt time.Time
}

// NewStateStore starts from kef.DefaultStatus.
func NewStateStore() *StateStore {
	return &StateStore{status: kef.DefaultStatus()}
}

// Get returns a copy of the current snapshot.
func (s *StateStore) Get() kef.SpeakerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// UpdatedAt is the time of the last successful write, zero if none.
func (s *StateStore) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Replace swaps in status wholesale and returns the previous snapshot.
func (s *StateStore) Replace(status kef.SpeakerStatus) kef.SpeakerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.status
	s.status = status
	s.updatedAt = time.Now()
	return prev
}

// Apply merges change into the snapshot and returns (previous, current).
func (s *StateStore) Apply(change kef.SpeakerChange) (kef.SpeakerStatus, kef.SpeakerStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.status
	if change.IsEmpty() {
		return prev, prev
	}
	s.status = prev.Apply(change)
	s.updatedAt = time.Now()
	return prev, s.status
}

// Swap replaces the snapshot with read, keeping the stored value of every
// failed group, and returns the diff against the previous snapshot along
// with it.
func (s *StateStore) Swap(read kef.StatusRead) (kef.SpeakerChange, kef.SpeakerStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.status
	next := read.Over(prev)
	s.status = next
	s.updatedAt = time.Now()
	return Diff(prev, next), prev
}
