package audit

import (
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/strefethen/kef-hub-go/internal/config"
	"github.com/strefethen/kef-hub-go/internal/kef"
)

const (
	DefaultRetentionDays   = 14
	DefaultPruneInterval   = 24 * time.Hour
	DefaultQueryLimit      = 100
	MaxQueryLimit          = 1000
	MaxConsecutiveFailures = 3
)

// Service records speaker changes and system events, and prunes them after
// the retention period.
type Service struct {
	logger              *log.Logger
	repo                *Repository
	retentionDays       int
	pruneInterval       time.Duration
	stopCh              chan struct{}
	stopOnce            sync.Once
	wg                  sync.WaitGroup
	healthy             bool
	healthMu            sync.RWMutex
	consecutiveFailures int
}

// NewService creates a new audit service.
func NewService(cfg config.Config, dbPair DBPair, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}

	retention := cfg.AuditRetentionDays
	if retention <= 0 {
		retention = DefaultRetentionDays
	}

	return &Service{
		logger:        logger,
		repo:          NewRepository(dbPair),
		retentionDays: retention,
		pruneInterval: DefaultPruneInterval,
		stopCh:        make(chan struct{}),
		healthy:       true,
	}
}

// RecordEvent writes a new audit event.
func (s *Service) RecordEvent(input WriteEventInput) (*AuditEvent, error) {
	if !validEventTypes[input.Type] {
		return nil, fmt.Errorf("unknown audit event type %q", input.Type)
	}

	event, err := s.repo.InsertEvent(input)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to record audit event: %w", err)
	}

	s.recordSuccess()
	return event, nil
}

// SpeakerChanged stores every change except those that only advance the
// playback position, which arrive every poll while music plays.
func (s *Service) SpeakerChanged(key string, change kef.SpeakerChange, snapshot kef.SpeakerStatus) {
	fields := slices.DeleteFunc(change.Fields(), func(f string) bool { return f == "songProgress" })
	if len(fields) == 0 {
		return
	}

	payload := map[string]any{
		"change": toMap(change),
		"status": toMap(snapshot),
	}
	_, err := s.RecordEvent(WriteEventInput{
		Type:      EventSpeakerStateChanged,
		SpeakerIP: key,
		Fields:    fields,
		Message:   "speaker changed: " + strings.Join(fields, ", "),
		Payload:   payload,
	})
	if err != nil {
		s.logger.Printf("AUDIT: %s: %v", key, err)
	}
}

// RecordReload stores the outcome of a speaker configuration reload.
func (s *Service) RecordReload(added, removed, restarted []string) {
	_, err := s.RecordEvent(WriteEventInput{
		Type:    EventSpeakersReloaded,
		Message: fmt.Sprintf("speakers reloaded: %d added, %d removed, %d restarted", len(added), len(removed), len(restarted)),
		Payload: map[string]any{
			"added":     added,
			"removed":   removed,
			"restarted": restarted,
		},
	})
	if err != nil {
		s.logger.Printf("AUDIT: reload: %v", err)
	}
}

// QueryEvents retrieves events with filters and pagination.
// Returns: events, total count, hasMore flag, error.
func (s *Service) QueryEvents(filters EventQueryFilters) ([]AuditEvent, int, bool, error) {
	if filters.Limit <= 0 {
		filters.Limit = DefaultQueryLimit
	}
	filters.Limit = min(filters.Limit, MaxQueryLimit)

	events, total, err := s.repo.QueryEvents(filters)
	if err != nil {
		s.recordFailure()
		return nil, 0, false, fmt.Errorf("failed to query audit events: %w", err)
	}

	s.recordSuccess()
	return events, total, filters.Offset+len(events) < total, nil
}

// GetEvent retrieves a single event by ID.
func (s *Service) GetEvent(eventID string) (*AuditEvent, error) {
	event, err := s.repo.GetEvent(eventID)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}
	s.recordSuccess()

	if event == nil {
		return nil, &EventNotFoundError{EventID: eventID}
	}
	return event, nil
}

// StartPruneJob prunes immediately, then every pruneInterval until
// StopPruneJob.
func (s *Service) StartPruneJob() {
	s.logger.Printf("AUDIT: prune job started (interval %v, retention %d days)", s.pruneInterval, s.retentionDays)
	s.wg.Add(1)
	go s.runPruneLoop()
}

// StopPruneJob stops the background prune job. Safe to call more than once.
func (s *Service) StopPruneJob() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Service) runPruneLoop() {
	defer s.wg.Done()

	s.pruneAndLog()

	ticker := time.NewTicker(s.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.pruneAndLog()
		}
	}
}

func (s *Service) pruneAndLog() {
	count, err := s.Prune()
	if err != nil {
		s.logger.Printf("AUDIT: prune failed: %v", err)
		return
	}
	if count > 0 {
		s.logger.Printf("AUDIT: pruned %d events", count)
	}
}

// Prune deletes events older than the retention period.
func (s *Service) Prune() (int64, error) {
	cutoff := s.repo.now().AddDate(0, 0, -s.retentionDays)
	count, err := s.repo.Prune(cutoff)
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}

	s.recordSuccess()
	return count, nil
}

// IsHealthy reports false after MaxConsecutiveFailures storage errors in a row.
func (s *Service) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

func (s *Service) recordSuccess() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures = 0
	s.healthy = true
}

func (s *Service) recordFailure() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= MaxConsecutiveFailures {
		s.healthy = false
	}
}

// EventNotFoundError is returned when an audit event is not found.
type EventNotFoundError struct {
	EventID string
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("audit event not found: %s", e.EventID)
}

func toMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}
