package system

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/kef-hub-go/internal/api"
	"github.com/strefethen/kef-hub-go/internal/apperrors"
)

// RegisterRoutes wires system routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/system/info", api.Handler(getSystemInfo(service)))
	router.Method(http.MethodGet, "/v1/dashboard", api.Handler(getDashboard(service)))
}

// getSystemInfo handles GET /v1/system/info
func getSystemInfo(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		info, err := service.GetSystemInfo()
		if err != nil {
			return apperrors.NewInternalError("Failed to get system info")
		}

		return api.WriteResource(w, http.StatusOK, formatSystemInfo(info))
	}
}

// getDashboard handles GET /v1/dashboard
func getDashboard(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		data, err := service.GetDashboardData()
		if err != nil {
			return apperrors.NewInternalError("Failed to get dashboard data")
		}

		return api.WriteResource(w, http.StatusOK, formatDashboardData(data))
	}
}

func formatSystemInfo(info *SystemInfo) map[string]any {
	return map[string]any{
		"object":           "system_info",
		"hub_version":      info.HubVersion,
		"uptime_seconds":   info.Uptime,
		"memory_mb":        info.MemoryUsageMB,
		"sqlite_connected": info.SQLiteConnected,
		"mqtt_enabled":     info.MQTTEnabled,
		"speakers_online":  info.SpeakersOnline,
		"speakers_total":   info.SpeakersTotal,
		"night_schedules":  info.NightSchedules,
	}
}

func formatDashboardData(data *DashboardData) map[string]any {
	return map[string]any{
		"object":           "dashboard",
		"speakers":         formatSpeakerSummaries(data.Speakers),
		"changes_last_24h": data.ChangesLastDay,
		"attention_items":  formatAttentionItems(data.AttentionItems),
	}
}

func formatSpeakerSummaries(summaries []SpeakerSummary) []map[string]any {
	result := make([]map[string]any, 0, len(summaries))
	for _, s := range summaries {
		formatted := map[string]any{
			"ip":           s.IP,
			"name":         s.Name,
			"display_name": s.DisplayName,
			"online":       s.Online,
			"power":        s.Power,
			"source":       s.Source,
			"volume":       s.Volume,
			"muted":        s.Muted,
			"is_playing":   s.IsPlaying,
			"night_mode":   s.NightMode,
		}
		// Always present so clients can bind to it; null when nothing is known.
		if s.NowPlaying != "" {
			formatted["now_playing"] = s.NowPlaying
		} else {
			formatted["now_playing"] = nil
		}
		result = append(result, formatted)
	}
	return result
}

// formatAttentionItems formats a slice of AttentionItem for JSON response.
func formatAttentionItems(items []AttentionItem) []map[string]any {
	result := make([]map[string]any, 0, len(items))
	for _, item := range items {
		formatted := map[string]any{
			"type":     item.Type,
			"severity": item.Severity,
			"message":  item.Message,
		}
		if item.Details != nil {
			formatted["details"] = item.Details
		}
		if item.ResolveHint != "" {
			formatted["resolve_hint"] = item.ResolveHint
		}
		result = append(result, formatted)
	}
	return result
}
