package system

import (
	"database/sql"
	"log"
	"runtime"
	"time"

	"github.com/strefethen/kef-hub-go/internal/config"
	"github.com/strefethen/kef-hub-go/internal/speakers"
)

// Version is the hub version, set at build time or defaulted.
var Version = "1.0.0"

// audit timestamps are fixed-width UTC text, see audit.timestampLayout.
const auditTimestampLayout = "2006-01-02T15:04:05.000Z"

// SessionLister provides the configured speaker sessions.
type SessionLister interface {
	List() []*speakers.Session
}

// NightScheduleCounter reports how many speakers have night-mode windows.
type NightScheduleCounter interface {
	Len() int
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Service provides system information and dashboard data.
// Uses reader connection only as this service only performs SELECT queries.
type Service struct {
	cfg       config.Config
	logger    *log.Logger
	reader    *sql.DB
	sessions  SessionLister
	night     NightScheduleCounter
	startTime time.Time
	now       func() time.Time
}

// NewService creates a new system service.
func NewService(cfg config.Config, dbPair DBPair, logger *log.Logger, sessions SessionLister, night NightScheduleCounter) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		cfg:       cfg,
		logger:    logger,
		reader:    dbPair.Reader(),
		sessions:  sessions,
		night:     night,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// SystemInfo holds system information.
type SystemInfo struct {
	HubVersion      string  `json:"hub_version"`
	Uptime          int64   `json:"uptime_seconds"`
	MemoryUsageMB   float64 `json:"memory_mb"`
	SQLiteConnected bool    `json:"sqlite_connected"`
	MQTTEnabled     bool    `json:"mqtt_enabled"`
	SpeakersOnline  int     `json:"speakers_online"`
	SpeakersTotal   int     `json:"speakers_total"`
	NightSchedules  int     `json:"night_schedules"`
}

// SpeakerSummary is one speaker's dashboard tile.
type SpeakerSummary struct {
	IP          string
	Name        string
	DisplayName string
	Online      bool
	Power       string
	Source      string
	Volume      int
	Muted       bool
	IsPlaying   bool
	NowPlaying  string
	NightMode   bool
}

// AttentionItem represents something that needs user attention.
type AttentionItem struct {
	Type        string
	Severity    string
	Message     string
	Details     map[string]any
	ResolveHint string
}

// DashboardData holds dashboard information.
type DashboardData struct {
	Speakers       []SpeakerSummary
	ChangesLastDay int
	AttentionItems []AttentionItem
}

// GetSystemInfo returns current system information.
func (s *Service) GetSystemInfo() (*SystemInfo, error) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	sqliteConnected := true
	if err := s.reader.Ping(); err != nil {
		sqliteConnected = false
	}

	online, total := 0, 0
	if s.sessions != nil {
		for _, session := range s.sessions.List() {
			total++
			if isOnline(session) {
				online++
			}
		}
	}

	nightSchedules := 0
	if s.night != nil {
		nightSchedules = s.night.Len()
	}

	return &SystemInfo{
		HubVersion:      Version,
		Uptime:          int64(time.Since(s.startTime).Seconds()),
		MemoryUsageMB:   float64(memStats.Alloc) / 1024 / 1024,
		SQLiteConnected: sqliteConnected,
		MQTTEnabled:     s.cfg.MQTTEnabled,
		SpeakersOnline:  online,
		SpeakersTotal:   total,
		NightSchedules:  nightSchedules,
	}, nil
}

// GetDashboardData returns one tile per speaker, the number of recorded
// state changes in the last 24 hours and anything that needs attention.
func (s *Service) GetDashboardData() (*DashboardData, error) {
	data := &DashboardData{Speakers: []SpeakerSummary{}}

	if s.sessions != nil {
		for _, session := range s.sessions.List() {
			data.Speakers = append(data.Speakers, summarize(session))
		}
	}

	cutoff := s.now().Add(-24 * time.Hour).UTC().Format(auditTimestampLayout)
	err := s.reader.QueryRow(`
		SELECT COUNT(*) FROM audit_events WHERE type = 'SPEAKER_STATE_CHANGED' AND timestamp >= ?
	`, cutoff).Scan(&data.ChangesLastDay)
	if err != nil {
		s.logger.Printf("Failed to count recent changes: %v", err)
	}

	data.AttentionItems = s.checkAttentionItems(data.Speakers)
	return data, nil
}

func isOnline(session *speakers.Session) bool {
	return session.State() == speakers.StateActive && session.Reachable()
}

func summarize(session *speakers.Session) SpeakerSummary {
	snapshot := session.Snapshot()
	summary := SpeakerSummary{
		IP:          session.Key(),
		Name:        session.Config().Name,
		DisplayName: session.DisplayName(),
		Online:      isOnline(session),
		Power:       string(snapshot.Power),
		Source:      snapshot.Source,
		Volume:      snapshot.Volume,
		Muted:       snapshot.Muted,
		IsPlaying:   snapshot.IsPlaying,
		NightMode:   session.NightModeActive(),
	}
	if snapshot.SongInfo != nil {
		summary.NowPlaying = snapshot.SongInfo.DisplayName()
	}
	return summary
}

// checkAttentionItems checks for items that need user attention.
func (s *Service) checkAttentionItems(summaries []SpeakerSummary) []AttentionItem {
	var items []AttentionItem

	var offline []string
	for _, summary := range summaries {
		if !summary.Online {
			offline = append(offline, summary.IP)
		}
	}
	if len(offline) > 0 {
		items = append(items, AttentionItem{
			Type:     "speaker_offline",
			Severity: "warning",
			Message:  "Some speakers are not responding",
			Details: map[string]any{
				"offline_count": len(offline),
				"speaker_ips":   offline,
			},
			ResolveHint: "Check speaker power and network connectivity",
		})
	}

	if len(summaries) == 0 {
		items = append(items, AttentionItem{
			Type:        "no_speakers",
			Severity:    "info",
			Message:     "No speakers are configured",
			ResolveHint: "Add speakers to " + s.cfg.SpeakersConfigPath + " and reload",
		})
	}

	if err := s.reader.Ping(); err != nil {
		items = append(items, AttentionItem{
			Type:        "database_unhealthy",
			Severity:    "critical",
			Message:     "Database connection is unhealthy",
			ResolveHint: "Check database file permissions and disk space",
		})
	}

	return items
}
