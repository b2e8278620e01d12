package speakers

import (
	"github.com/strefethen/kef-hub-go/internal/api"
	"github.com/strefethen/kef-hub-go/internal/kef"
)

// View is the API representation of a session.
type View struct {
	Object      string            `json:"object"`
	IP          string            `json:"ip"`
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name"`
	DeviceName  string            `json:"device_name,omitempty"`
	Model       string            `json:"model"`
	ModelName   string            `json:"model_name"`
	Sources     []SourceView      `json:"sources"`
	State       State             `json:"state"`
	Mode        string            `json:"polling_mode,omitempty"`
	Status      kef.SpeakerStatus `json:"status"`
	SourceName  string            `json:"source_name"`
	Limits      LimitsView        `json:"volume_limits"`
	NightMode   *NightModeView    `json:"night_mode,omitempty"`
	UpdatedAt   string            `json:"updated_at,omitempty"`
}

type SourceView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type LimitsView struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type NightModeView struct {
	Active    bool   `json:"active"`
	MaxVolume int    `json:"max_volume"`
	NextStart string `json:"next_start,omitempty"`
	NextEnd   string `json:"next_end,omitempty"`
}

// View renders the session for the API, MQTT and stream surfaces.
func (s *Session) View() View {
	snapshot := s.Snapshot()
	limits := s.policy.Limits()

	sources := make([]SourceView, 0, len(s.model.Sources))
	for _, source := range s.model.Sources {
		sources = append(sources, SourceView{ID: source, Name: kef.SourceName(source)})
	}

	view := View{
		Object:      "speaker",
		IP:          s.Key(),
		Name:        s.cfg.Name,
		DisplayName: s.DisplayName(),
		DeviceName:  s.DeviceName(),
		Model:       s.model.ID,
		ModelName:   s.model.Name,
		Sources:     sources,
		State:       s.State(),
		Status:      snapshot,
		SourceName:  kef.SourceName(snapshot.Source),
		Limits:      LimitsView{Min: limits.Min, Max: limits.Max},
	}
	if s.cfg.PollingEnabled() {
		view.Mode = string(s.Mode())
	}
	if updated := s.LastUpdated(); !updated.IsZero() {
		view.UpdatedAt = api.RFC3339Millis(updated)
	}
	if s.cfg.NightModeEnabled() {
		night := &NightModeView{
			Active:    s.NightModeActive(),
			MaxVolume: s.cfg.NightMode.MaxVolume,
		}
		if start, end, ok := s.NightTransitions(); ok {
			if !start.IsZero() {
				night.NextStart = api.RFC3339Millis(start)
			}
			if !end.IsZero() {
				night.NextEnd = api.RFC3339Millis(end)
			}
		}
		view.NightMode = night
	}
	return view
}
