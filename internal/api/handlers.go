// Package api provides HTTP handlers for EchoNotify endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/EchoNotify/EchoNotify/internal/models"
)

func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	records := s.cycle.ActiveNotifications()
	slog.Debug("Server.notificationsHandler", "count", len(records))
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

func (s *Server) ignoredHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.cycle.IgnoredKeys()))
}

func (s *Server) ignoredResetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.cycle.ResetIgnored()
	slog.Info("Server.ignoredResetHandler: ignored set cleared")
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Ignored set cleared", nil))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.cycle.Status()))
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.st == nil {
		writeJSONResponse(w, http.StatusOK, models.Success([]models.HistoryEntry{}))
		return
	}

	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit parameter"))
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	entries, err := s.st.History(ctx, limit)
	if err != nil {
		slog.Error("Server.historyHandler: history query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load history"))
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(entries))
}

func (s *Server) settingsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, models.Success(s.cfg.Reminder()))
	case http.MethodPut:
		var cfg models.ReminderConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			slog.Warn("Server.settingsHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		applied := s.cfg.SetReminder(cfg)
		s.cycle.Dispatch(models.Event{Type: models.EventConfigChanged, ConfigKey: "settings"})
		slog.Info("Server.settingsHandler: settings updated", "interval_s", applied.IntervalSeconds, "enabled", applied.Enabled)
		writeJSONResponse(w, http.StatusOK, models.Success(applied))
	default:
		w.Header().Set("Allow", "GET, PUT")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// environmentUpdate carries partial environment state; absent fields keep
// their current value.
type environmentUpdate struct {
	Ringer *string `json:"ringer,omitempty"`
	DND    *bool   `json:"dnd,omitempty"`
	Call   *bool   `json:"call,omitempty"`
	Screen *bool   `json:"screen,omitempty"`
}

func (s *Server) environmentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var update environmentUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		slog.Warn("Server.environmentHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if update.Ringer != nil {
		mode, err := models.ParseRingerMode(*update.Ringer)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		if s.env.SetRingerMode(mode) {
			s.cycle.Dispatch(models.Event{Type: models.EventRingerChanged, RingerMode: mode})
		}
	}
	if update.DND != nil && s.env.SetDND(*update.DND) {
		s.cycle.Dispatch(models.Event{Type: models.EventDndChanged, DndEnabled: *update.DND})
	}
	if update.Call != nil && s.env.SetCallActive(*update.Call) {
		s.cycle.Dispatch(models.Event{Type: models.EventCallChanged, CallActive: *update.Call})
	}
	if update.Screen != nil {
		// Screen state is read on demand at each wake; no event needed.
		s.env.SetScreenOn(*update.Screen)
	}

	slog.Debug("Server.environmentHandler: environment updated")
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Environment updated", nil))
}

func (s *Server) dismissHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.cycle.Dispatch(models.Event{Type: models.EventUserDismissed})
	slog.Info("Server.dismissHandler: dismissal requested")
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Reminders dismissed", nil))
}
