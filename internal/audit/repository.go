package audit

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timestampLayout is fixed-width UTC so that text ordering in SQLite matches
// chronological ordering.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for audit events.
// Uses separate reader/writer connections for SQLite concurrency.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
	now    func() time.Time
}

// NewRepository creates a new audit Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer(), now: time.Now}
}

const eventColumns = `event_id, timestamp, type, level, speaker_ip, request_id, fields, message, payload`

// InsertEvent writes a new audit event and returns it as stored.
func (r *Repository) InsertEvent(input WriteEventInput) (*AuditEvent, error) {
	eventID := uuid.New().String()
	timestamp := formatTimestamp(r.now())

	level := input.Level
	if level == "" {
		level = LevelInfo
	}

	payload := input.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	_, err = r.writer.Exec(`
		INSERT INTO audit_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventID, timestamp, string(input.Type), string(level), nullString(input.SpeakerIP), nullString(input.RequestID),
		strings.Join(input.Fields, ","), input.Message, string(payloadJSON))
	if err != nil {
		return nil, err
	}

	return r.GetEvent(eventID)
}

// GetEvent retrieves a single event by ID. Returns nil, nil if not found.
func (r *Repository) GetEvent(eventID string) (*AuditEvent, error) {
	row := r.reader.QueryRow(`SELECT `+eventColumns+` FROM audit_events WHERE event_id = ?`, eventID)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return event, err
}

// QueryEvents retrieves events matching filters, newest first, together with
// the total number of matches ignoring pagination.
func (r *Repository) QueryEvents(filters EventQueryFilters) ([]AuditEvent, int, error) {
	whereClause, args := buildWhereClause(filters)

	var total int
	if err := r.reader.QueryRow("SELECT COUNT(*) FROM audit_events "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	query := `SELECT ` + eventColumns + ` FROM audit_events ` + whereClause + `
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ? OFFSET ?`
	rows, err := r.reader.Query(query, append(args, limit, filters.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := []AuditEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

// Prune deletes events older than cutoff and returns how many were removed.
func (r *Repository) Prune(cutoff time.Time) (int64, error) {
	result, err := r.writer.Exec(`DELETE FROM audit_events WHERE timestamp < ?`, formatTimestamp(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func buildWhereClause(filters EventQueryFilters) (string, []any) {
	var conditions []string
	var args []any

	if filters.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filters.Type))
	}
	if filters.Level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, string(filters.Level))
	}
	if filters.SpeakerIP != "" {
		conditions = append(conditions, "speaker_ip = ?")
		args = append(args, filters.SpeakerIP)
	}
	if filters.Field != "" {
		conditions = append(conditions, "(',' || fields || ',') LIKE ?")
		args = append(args, "%,"+filters.Field+",%")
	}
	if filters.From != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, formatTimestamp(*filters.From))
	}
	if filters.To != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, formatTimestamp(*filters.To))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*AuditEvent, error) {
	var (
		event       AuditEvent
		timestamp   string
		eventType   string
		level       string
		speakerIP   sql.NullString
		requestID   sql.NullString
		fields      string
		payloadJSON string
	)

	if err := row.Scan(&event.EventID, &timestamp, &eventType, &level, &speakerIP, &requestID,
		&fields, &event.Message, &payloadJSON); err != nil {
		return nil, err
	}

	parsed, err := time.Parse(timestampLayout, timestamp)
	if err != nil {
		parsed, _ = time.Parse(time.RFC3339, timestamp)
	}
	event.Timestamp = parsed
	event.Type = EventType(eventType)
	event.Level = EventLevel(level)
	if speakerIP.Valid {
		event.SpeakerIP = &speakerIP.String
	}
	if requestID.Valid {
		event.RequestID = &requestID.String
	}
	if fields != "" {
		event.Fields = strings.Split(fields, ",")
	}
	if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
		return nil, err
	}

	return &event, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
