package audit

import "time"

// EventType identifies what an audit event records.
type EventType string

const (
	EventSpeakerStateChanged EventType = "SPEAKER_STATE_CHANGED"
	EventSpeakersReloaded    EventType = "SPEAKERS_RELOADED"
	EventSystemStartup       EventType = "SYSTEM_STARTUP"
	EventSystemShutdown      EventType = "SYSTEM_SHUTDOWN"
)

var validEventTypes = map[EventType]bool{
	EventSpeakerStateChanged: true,
	EventSpeakersReloaded:    true,
	EventSystemStartup:       true,
	EventSystemShutdown:      true,
}

// EventLevel represents the severity level of an audit event.
type EventLevel string

const (
	LevelDebug EventLevel = "DEBUG"
	LevelInfo  EventLevel = "INFO"
	LevelWarn  EventLevel = "WARN"
	LevelError EventLevel = "ERROR"
)

var validEventLevels = map[string]EventLevel{
	"DEBUG": LevelDebug,
	"INFO":  LevelInfo,
	"WARN":  LevelWarn,
	"ERROR": LevelError,
}

// AuditEvent is a single stored event.
type AuditEvent struct {
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Level     EventLevel     `json:"level"`
	SpeakerIP *string        `json:"speaker_ip,omitempty"`
	RequestID *string        `json:"request_id,omitempty"`
	Fields    []string       `json:"fields,omitempty"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload"`
}

// WriteEventInput contains the fields for creating a new audit event.
// Level defaults to INFO.
type WriteEventInput struct {
	Type      EventType
	Level     EventLevel
	SpeakerIP string
	RequestID string
	Fields    []string
	Message   string
	Payload   map[string]any
}

// EventQueryFilters narrows QueryEvents. Zero values mean no filter.
type EventQueryFilters struct {
	Type      EventType
	Level     EventLevel
	SpeakerIP string
	// Field matches events whose change touched the named status field.
	Field  string
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}
