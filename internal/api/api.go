// Package api exposes the service surface over HTTP: read-only room and
// schedule state, schedule mutation and manual refresh.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/clambin/intuis-monitor/internal/controller"
	"github.com/clambin/intuis-monitor/internal/poller"
	"github.com/clambin/intuis-monitor/internal/schedule"
)

// Controller is the decision engine the API drives.
type Controller interface {
	RoomStates() []controller.RoomState
	Update() (poller.Update, bool)
	SwitchSchedule(ctx context.Context, name string) error
	SetScheduleSlot(ctx context.Context, room string, startDay int, startTime string, endDay int, endTime string, zoneName string) error
	Refresh()
}

type Server struct {
	controller Controller
	logger     *slog.Logger
}

func New(c Controller, logger *slog.Logger) *Server {
	return &Server{controller: c, logger: logger}
}

// AddRoutes registers the API's endpoints on mux.
func (s *Server) AddRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rooms", s.getRooms)
	mux.HandleFunc("GET /api/schedules", s.getSchedules)
	mux.HandleFunc("POST /api/schedules/switch", s.switchSchedule)
	mux.HandleFunc("POST /api/schedules/slot", s.setScheduleSlot)
	mux.HandleFunc("POST /api/refresh", s.refresh)
}

type roomResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Mode           string    `json:"mode"`
	HVACMode       string    `json:"hvac_mode"`
	Temperature    float64   `json:"temperature"`
	Target         float64   `json:"target"`
	ScheduledTemp  float64   `json:"scheduled_temp"`
	OverrideExpiry time.Time `json:"override_expiry"`
	Anticipating   bool      `json:"anticipating"`
	Heating        bool      `json:"heating"`
	Reachable      bool      `json:"reachable"`
	NextChange     time.Time `json:"next_change"`
	NextTarget     float64   `json:"next_target"`
	Consumption    float64   `json:"consumption_kwh"`
	HeatingMinutes float64   `json:"heating_minutes"`
	EnergyPartial  bool      `json:"energy_partial"`
}

func (s *Server) getRooms(w http.ResponseWriter, _ *http.Request) {
	states := s.controller.RoomStates()
	rooms := make([]roomResponse, len(states))
	for i, state := range states {
		rooms[i] = roomResponse{
			ID:             state.ID,
			Name:           state.Name,
			Mode:           state.Mode.String(),
			HVACMode:       state.HVACMode,
			Temperature:    state.Temperature,
			Target:         state.Target,
			ScheduledTemp:  state.ScheduledTemp,
			OverrideExpiry: state.OverrideExpiry,
			Anticipating:   state.Anticipating,
			Heating:        state.Heating,
			Reachable:      state.Reachable,
			NextChange:     state.NextChange,
			NextTarget:     state.NextTarget,
			Consumption:    state.Consumption,
			HeatingMinutes: state.HeatingMinutes,
			EnergyPartial:  state.EnergyPartial,
		}
	}
	writeJSON(w, rooms)
}

type slotResponse struct {
	Start int    `json:"start_minute"`
	End   int    `json:"end_minute"`
	Zone  string `json:"zone"`
}

type scheduleResponse struct {
	ID       string                    `json:"id"`
	Name     string                    `json:"name"`
	Selected bool                      `json:"selected"`
	Rooms    map[string][]slotResponse `json:"rooms,omitempty"`
}

func (s *Server) getSchedules(w http.ResponseWriter, _ *http.Request) {
	update, ok := s.controller.Update()
	if !ok {
		http.Error(w, "no update received yet", http.StatusServiceUnavailable)
		return
	}
	schedules := make([]scheduleResponse, 0, len(update.Home.Schedules))
	for _, raw := range update.Home.Schedules {
		entry := scheduleResponse{ID: raw.ID, Name: raw.Name, Selected: raw.Selected}
		if raw.Selected && update.Schedule != nil {
			entry.Rooms = make(map[string][]slotResponse)
			for _, room := range update.Schedule.Rooms() {
				slots := update.Schedule.Slots(room)
				out := make([]slotResponse, len(slots))
				for i, slot := range slots {
					out[i] = slotResponse{Start: slot.Start, End: slot.End, Zone: zoneName(update.Schedule, slot.ZoneID)}
				}
				entry.Rooms[room] = out
			}
		}
		schedules = append(schedules, entry)
	}
	writeJSON(w, schedules)
}

func zoneName(s *schedule.Schedule, zoneID int) string {
	if zone, ok := s.ZoneByID(zoneID); ok {
		return zone.Name
	}
	return ""
}

func (s *Server) switchSchedule(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.Name == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := s.controller.SwitchSchedule(r.Context(), request.Name); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setScheduleSlot(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Room      string `json:"room"`
		StartDay  int    `json:"startDay"`
		StartTime string `json:"startTime"`
		EndDay    int    `json:"endDay"`
		EndTime   string `json:"endTime"`
		Zone      string `json:"zone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	err := s.controller.SetScheduleSlot(r.Context(), request.Room, request.StartDay, request.StartTime, request.EndDay, request.EndTime, request.Zone)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) refresh(w http.ResponseWriter, _ *http.Request) {
	s.controller.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var invalid *schedule.InvalidSlotError
	if errors.As(err, &invalid) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Error("request failed", slog.Any("err", err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(v)
}
