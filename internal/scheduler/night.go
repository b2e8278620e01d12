package scheduler

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/strefethen/kef-hub-go/internal/config"
)

// NightModeTarget is flipped at the window boundaries. Implemented by
// policy.VolumePolicy.
type NightModeTarget interface {
	ActivateNightMode()
	DeactivateNightMode()
}

// Window is a daily wall-clock interval in an explicit time zone. A window
// whose end is earlier than its start wraps midnight.
type Window struct {
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int
	Location    *time.Location
}

// ParseWindow builds a Window from HH:MM schedule strings.
func ParseWindow(schedule config.Schedule, loc *time.Location) (Window, error) {
	startHour, startMinute, err := config.ParseClock(schedule.Start)
	if err != nil {
		return Window{}, fmt.Errorf("start: %w", err)
	}
	endHour, endMinute, err := config.ParseClock(schedule.End)
	if err != nil {
		return Window{}, fmt.Errorf("end: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return Window{
		StartHour:   startHour,
		StartMinute: startMinute,
		EndHour:     endHour,
		EndMinute:   endMinute,
		Location:    loc,
	}, nil
}

// Contains reports whether t falls inside the window. The start minute is
// inclusive and the end minute exclusive; equal start and end is empty.
func (w Window) Contains(t time.Time) bool {
	local := t.In(w.location())
	now := local.Hour()*60 + local.Minute()
	start := w.StartHour*60 + w.StartMinute
	end := w.EndHour*60 + w.EndMinute

	switch {
	case start == end:
		return false
	case start < end:
		return now >= start && now < end
	default:
		return now >= start || now < end
	}
}

func (w Window) location() *time.Location {
	if w.Location == nil {
		return time.Local
	}
	return w.Location
}

// StartSpec is the cron spec for the window start.
func (w Window) StartSpec() string {
	return w.spec(w.StartHour, w.StartMinute)
}

// EndSpec is the cron spec for the window end.
func (w Window) EndSpec() string {
	return w.spec(w.EndHour, w.EndMinute)
}

func (w Window) spec(hour, minute int) string {
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", w.location().String(), minute, hour)
}

// NightScheduler runs two daily cron jobs per registered speaker.
type NightScheduler struct {
	logger *log.Logger
	cron   *cron.Cron
	now    func() time.Time

	mu      sync.Mutex
	entries map[string][]cron.EntryID
}

// NewNightScheduler creates a stopped scheduler.
func NewNightScheduler(logger *log.Logger) *NightScheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &NightScheduler{
		logger:  logger,
		cron:    cron.New(cron.WithLogger(cron.PrintfLogger(logger))),
		now:     time.Now,
		entries: make(map[string][]cron.EntryID),
	}
}

// Start begins firing jobs.
func (s *NightScheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs.
func (s *NightScheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Register schedules activation at the window start and deactivation at its
// end for key, replacing any earlier registration. The target's flag is set
// immediately from the current time; the returned bool is that initial state.
func (s *NightScheduler) Register(key string, window Window, target NightModeTarget) (bool, error) {
	s.Unregister(key)

	startID, err := s.cron.AddFunc(window.StartSpec(), func() {
		s.logger.Printf("NIGHT: %s night mode on", key)
		target.ActivateNightMode()
	})
	if err != nil {
		return false, fmt.Errorf("schedule night start for %s: %w", key, err)
	}

	endID, err := s.cron.AddFunc(window.EndSpec(), func() {
		s.logger.Printf("NIGHT: %s night mode off", key)
		target.DeactivateNightMode()
	})
	if err != nil {
		s.cron.Remove(startID)
		return false, fmt.Errorf("schedule night end for %s: %w", key, err)
	}

	s.mu.Lock()
	s.entries[key] = []cron.EntryID{startID, endID}
	s.mu.Unlock()

	active := window.Contains(s.now())
	if active {
		target.ActivateNightMode()
	} else {
		target.DeactivateNightMode()
	}
	s.logger.Printf("NIGHT: %s scheduled %02d:%02d-%02d:%02d %s (active=%t)",
		key, window.StartHour, window.StartMinute, window.EndHour, window.EndMinute, window.location(), active)
	return active, nil
}

// Unregister removes key's jobs, if any.
func (s *NightScheduler) Unregister(key string) {
	s.mu.Lock()
	ids := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	for _, id := range ids {
		s.cron.Remove(id)
	}
}

// Registered reports whether key has scheduled jobs.
func (s *NightScheduler) Registered(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[key]) > 0
}

// Len is the number of speakers with scheduled windows.
func (s *NightScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// NextTransitions returns the next start and end firing times for key.
func (s *NightScheduler) NextTransitions(key string) (start, end time.Time, ok bool) {
	s.mu.Lock()
	ids := s.entries[key]
	s.mu.Unlock()
	if len(ids) != 2 {
		return time.Time{}, time.Time{}, false
	}
	return s.cron.Entry(ids[0]).Next, s.cron.Entry(ids[1]).Next, true
}
