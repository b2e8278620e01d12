package audit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/kef-hub-go/internal/api"
	"github.com/strefethen/kef-hub-go/internal/apperrors"
)

// EventView is the JSON form of an AuditEvent.
type EventView struct {
	Object    string         `json:"object"`
	EventID   string         `json:"event_id"`
	Timestamp string         `json:"timestamp"`
	Type      EventType      `json:"type"`
	Level     EventLevel     `json:"level"`
	SpeakerIP *string        `json:"speaker_ip,omitempty"`
	RequestID *string        `json:"request_id,omitempty"`
	Fields    []string       `json:"fields,omitempty"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// RegisterRoutes wires audit routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/audit/events", api.Handler(queryEvents(service)))
	router.Method(http.MethodGet, "/v1/audit/events/{event_id}", api.Handler(getEvent(service)))
}

// GET /v1/audit/events
func queryEvents(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		filters, err := parseQueryFilters(r)
		if err != nil {
			return err
		}

		events, _, hasMore, err := service.QueryEvents(filters)
		if err != nil {
			return apperrors.NewInternalError("Failed to query audit events")
		}

		views := make([]EventView, 0, len(events))
		for i := range events {
			views = append(views, formatEvent(&events[i]))
		}
		return api.WriteList(w, "/v1/audit/events", views, hasMore)
	}
}

// GET /v1/audit/events/{event_id}
func getEvent(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		eventID := chi.URLParam(r, "event_id")

		event, err := service.GetEvent(eventID)
		if err != nil {
			var notFound *EventNotFoundError
			if errors.As(err, &notFound) {
				return apperrors.NewNotFoundResource("audit event", eventID)
			}
			return apperrors.NewInternalError("Failed to get audit event")
		}

		return api.WriteResource(w, http.StatusOK, formatEvent(event))
	}
}

func parseQueryFilters(r *http.Request) (EventQueryFilters, error) {
	filters := EventQueryFilters{Limit: DefaultQueryLimit}
	query := r.URL.Query()

	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filters.From}, {"to", &filters.To}} {
		raw := query.Get(bound.name)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, apperrors.NewValidationError("invalid '"+bound.name+"' datetime, expected RFC 3339", map[string]any{bound.name: raw})
		}
		*bound.dst = &parsed
	}

	if eventType := query.Get("type"); eventType != "" {
		if !validEventTypes[EventType(eventType)] {
			return filters, apperrors.NewValidationError("invalid type", map[string]any{"type": eventType})
		}
		filters.Type = EventType(eventType)
	}

	if level := query.Get("level"); level != "" {
		parsed, ok := validEventLevels[level]
		if !ok {
			return filters, apperrors.NewValidationError("invalid level", map[string]any{
				"level":        level,
				"valid_levels": []string{"DEBUG", "INFO", "WARN", "ERROR"},
			})
		}
		filters.Level = parsed
	}

	filters.SpeakerIP = query.Get("speaker_ip")
	filters.Field = query.Get("field")

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > MaxQueryLimit {
			return filters, apperrors.NewValidationError("invalid limit, must be between 1 and 1000", map[string]any{"limit": limitStr})
		}
		filters.Limit = limit
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filters, apperrors.NewValidationError("invalid offset, must be >= 0", map[string]any{"offset": offsetStr})
		}
		filters.Offset = offset
	}

	return filters, nil
}

func formatEvent(event *AuditEvent) EventView {
	view := EventView{
		Object:    "audit_event",
		EventID:   event.EventID,
		Timestamp: api.RFC3339Millis(event.Timestamp),
		Type:      event.Type,
		Level:     event.Level,
		SpeakerIP: event.SpeakerIP,
		RequestID: event.RequestID,
		Fields:    event.Fields,
		Message:   event.Message,
	}
	if len(event.Payload) > 0 {
		view.Payload = event.Payload
	}
	return view
}
