package speakers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/kef-hub-go/internal/api"
	"github.com/strefethen/kef-hub-go/internal/apperrors"
	"github.com/strefethen/kef-hub-go/internal/config"
	"github.com/strefethen/kef-hub-go/internal/kef/rpc"
)

// ConfigLoader returns the current speaker list, typically by re-reading the
// speakers file.
type ConfigLoader func() ([]config.SpeakerConfig, error)

// RegisterRoutes wires speaker routes to the router. loader may be nil, which
// disables the reload endpoint.
func RegisterRoutes(router chi.Router, registry *Registry, loader ConfigLoader) {
	router.Method(http.MethodGet, "/v1/speakers", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		sessions := registry.List()
		views := make([]View, 0, len(sessions))
		for _, session := range sessions {
			views = append(views, session.View())
		}
		return api.WriteList(w, "/v1/speakers", views, false)
	}))

	router.Method(http.MethodPost, "/v1/speakers/reload", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if loader == nil {
			return apperrors.NewConflictError("Speaker configuration reload is not available", nil)
		}
		configs, err := loader()
		if err != nil {
			return apperrors.NewValidationError("Invalid speakers configuration: "+err.Error(), nil)
		}
		result, err := registry.Reload(r.Context(), configs)
		if err != nil {
			return apperrors.NewValidationError(err.Error(), nil)
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":    "speaker_reload",
			"added":     result.Added,
			"removed":   result.Removed,
			"restarted": result.Restarted,
			"unchanged": result.Unchanged,
		})
	}))

	router.Route("/v1/speakers/{ip}", func(speaker chi.Router) {
		speaker.Method(http.MethodGet, "/", sessionHandler(registry, func(w http.ResponseWriter, r *http.Request, session *Session) error {
			return api.WriteResource(w, http.StatusOK, session.View())
		}))

		speaker.Method(http.MethodGet, "/info", sessionHandler(registry, func(w http.ResponseWriter, r *http.Request, session *Session) error {
			info, err := session.Info(r.Context())
			if err != nil {
				return toAppError(session.Key(), err)
			}
			return api.WriteResource(w, http.StatusOK, map[string]any{
				"object":      "speaker_info",
				"ip":          session.Key(),
				"name":        info.Name,
				"mac_address": info.MacAddress,
				"model":       info.Model,
				"firmware":    info.Firmware,
			})
		}))

		speaker.Method(http.MethodPost, "/refresh", sessionHandler(registry, func(w http.ResponseWriter, r *http.Request, session *Session) error {
			change, err := session.Refresh(r.Context())
			if err != nil {
				return toAppError(session.Key(), err)
			}
			view := session.View()
			return api.WriteResource(w, http.StatusOK, map[string]any{
				"object":  "speaker_refresh",
				"changed": change.Fields(),
				"speaker": view,
			})
		}))

		speaker.Method(http.MethodPost, "/power", commandHandler(registry, func(ctx context.Context, r *http.Request, session *Session) error {
			var body struct {
				On *bool `json:"on"`
			}
			if err := api.DecodeJSON(r, &body); err != nil {
				return err
			}
			if body.On == nil {
				return apperrors.NewValidationError("on is required", nil)
			}
			_, err := session.Power(ctx, *body.On)
			return err
		}))

		speaker.Method(http.MethodPost, "/source", commandHandler(registry, func(ctx context.Context, r *http.Request, session *Session) error {
			var body struct {
				Source string `json:"source"`
			}
			if err := api.DecodeJSON(r, &body); err != nil {
				return err
			}
			if body.Source == "" {
				return apperrors.NewValidationError("source is required", nil)
			}
			_, err := session.SetSource(ctx, body.Source)
			return err
		}))

		speaker.Method(http.MethodPost, "/volume", commandHandler(registry, func(ctx context.Context, r *http.Request, session *Session) error {
			var body struct {
				Volume *int `json:"volume"`
			}
			if err := api.DecodeJSON(r, &body); err != nil {
				return err
			}
			if body.Volume == nil || *body.Volume < 0 || *body.Volume > 100 {
				return apperrors.NewValidationError("volume must be between 0 and 100", nil)
			}
			_, err := session.SetVolume(ctx, *body.Volume)
			return err
		}))

		speaker.Method(http.MethodPost, "/volume/step", commandHandler(registry, func(ctx context.Context, r *http.Request, session *Session) error {
			var body struct {
				Direction string `json:"direction"`
			}
			if err := api.DecodeJSON(r, &body); err != nil {
				return err
			}
			switch body.Direction {
			case "up", "down":
			default:
				return apperrors.NewValidationError("direction must be up or down", nil)
			}
			_, err := session.StepVolume(ctx, body.Direction == "up")
			return err
		}))

		speaker.Method(http.MethodPost, "/mute", commandHandler(registry, func(ctx context.Context, r *http.Request, session *Session) error {
			var body struct {
				Muted *bool `json:"muted"`
			}
			if err := api.DecodeJSON(r, &body); err != nil {
				return err
			}
			if body.Muted == nil {
				return apperrors.NewValidationError("muted is required", nil)
			}
			_, err := session.SetMuted(ctx, *body.Muted)
			return err
		}))

		speaker.Method(http.MethodPost, "/playback", commandHandler(registry, func(ctx context.Context, r *http.Request, session *Session) error {
			var body struct {
				Action PlaybackAction `json:"action"`
			}
			if err := api.DecodeJSON(r, &body); err != nil {
				return err
			}
			switch body.Action {
			case PlaybackPlayPause, PlaybackNext, PlaybackPrevious:
			default:
				return apperrors.NewValidationError("action must be play_pause, next or previous", nil)
			}
			return session.Playback(ctx, body.Action)
		}))

		speaker.Method(http.MethodPost, "/night-mode", commandHandler(registry, func(ctx context.Context, r *http.Request, session *Session) error {
			var body struct {
				Active *bool `json:"active"`
			}
			if err := api.DecodeJSON(r, &body); err != nil {
				return err
			}
			if body.Active == nil {
				return apperrors.NewValidationError("active is required", nil)
			}
			return session.SetNightMode(*body.Active)
		}))
	})
}

type sessionFunc func(w http.ResponseWriter, r *http.Request, session *Session) error

func sessionHandler(registry *Registry, fn sessionFunc) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		ip := chi.URLParam(r, "ip")
		session, err := registry.Get(ip)
		if err != nil {
			return toAppError(ip, err)
		}
		return fn(w, r, session)
	}
}

type commandFunc func(ctx context.Context, r *http.Request, session *Session) error

// commandHandler runs a command and answers with the updated speaker view.
func commandHandler(registry *Registry, fn commandFunc) api.Handler {
	return sessionHandler(registry, func(w http.ResponseWriter, r *http.Request, session *Session) error {
		if err := fn(r.Context(), r, session); err != nil {
			return toAppError(session.Key(), err)
		}
		return api.WriteResource(w, http.StatusOK, session.View())
	})
}

// toAppError maps session and transport errors onto API errors.
func toAppError(ip string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var transportErr *rpc.TransportError
	switch {
	case errors.Is(err, ErrSpeakerNotFound):
		return apperrors.NewSpeakerNotFound(ip)
	case errors.Is(err, ErrUnsupportedSource):
		return apperrors.NewAppError(apperrors.ErrorCodeUnsupportedSource, err.Error(), http.StatusBadRequest, map[string]any{"ip": ip})
	case errors.Is(err, ErrNightModeNotConfigured):
		return apperrors.NewAppError(apperrors.ErrorCodeNightModeNotConfigured, "Night mode is not configured for "+ip, http.StatusConflict, nil)
	case errors.Is(err, ErrSessionTerminated):
		return apperrors.NewAppError(apperrors.ErrorCodeSessionTerminated, "Speaker session is closed: "+ip, http.StatusConflict, nil)
	case errors.As(err, &transportErr):
		if transportErr.Status != 0 {
			appErr := apperrors.NewAppError(apperrors.ErrorCodeSpeakerRejected, transportErr.Error(), http.StatusBadGateway,
				map[string]any{"ip": ip, "status": transportErr.Status})
			appErr.Err = err
			return appErr
		}
		return apperrors.NewSpeakerError(ip, err, transportErr.Timeout())
	case IsUnreachable(err):
		return apperrors.NewSpeakerError(ip, err, false)
	default:
		return apperrors.NewInternalError("Speaker command failed")
	}
}
