package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"homestyle/internal/model"
)

type scheduleEntry struct {
	DayOfWeek int  `json:"dayOfWeek" validate:"min=0,max=6"`
	StartTime int  `json:"startTime" validate:"min=0,max=1440"`
	EndTime   int  `json:"endTime" validate:"min=0,max=1440"`
	IsActive  bool `json:"isActive"`
}

type replaceScheduleRequest struct {
	Availability []scheduleEntry `json:"availability" validate:"required,max=7,dive"`
}

type addTimeOffRequest struct {
	StartDate string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"endDate" validate:"required,datetime=2006-01-02"`
	Reason    string `json:"reason" validate:"max=500"`
}

// handleListServices returns the active catalog of a stylist.
// GET /api/stylist/{id}/services
func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	stylistID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.catalog.GetStylist(r.Context(), stylistID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	services, err := s.catalog.ListServices(r.Context(), stylistID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if services == nil {
		services = []model.Service{}
	}
	writeJSON(w, http.StatusOK, services)
}

// handleAvailability returns the slot list for one date.
// GET /api/stylist/{id}/availability/{date}?duration=N|serviceIds=1,2
func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stylistID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := model.ParseDate(mux.Vars(r)["date"], s.slots.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stylist, err := s.catalog.GetStylist(ctx, stylistID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !stylist.IsActive {
		writeJSON(w, http.StatusOK, []model.Slot{})
		return
	}

	duration, err := s.requestedDuration(r, stylistID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	slots, err := s.slots.GenerateSlots(ctx, stylistID, date, duration)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if slots == nil {
		slots = []model.Slot{}
	}
	writeJSON(w, http.StatusOK, slots)
}

// requestedDuration resolves the duration query: an explicit duration wins,
// then the summed duration of serviceIds, then the configured default.
func (s *Server) requestedDuration(r *http.Request, stylistID int64) (int, error) {
	q := r.URL.Query()

	if raw := q.Get("duration"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("%w: duration must be an integer number of minutes", model.ErrInvalidDuration)
		}
		if d <= 0 {
			return 0, fmt.Errorf("%w: %d minutes", model.ErrInvalidDuration, d)
		}
		return d, nil
	}

	raw := q.Get("serviceIds")
	if raw == "" {
		raw = q.Get("serviceId")
	}
	if raw == "" {
		return s.opts.DefaultDuration, nil
	}

	ids, err := parseIDList(raw)
	if err != nil {
		return 0, err
	}
	services, err := s.catalog.GetServices(r.Context(), ids)
	if err != nil {
		return 0, err
	}

	byID := make(map[int64]model.Service, len(services))
	for _, svc := range services {
		byID[svc.ID] = svc
	}
	total := 0
	for _, id := range ids {
		svc, ok := byID[id]
		if !ok || !svc.IsActive || svc.StylistID != stylistID {
			return 0, fmt.Errorf("service %d of stylist %d: %w", id, stylistID, model.ErrNotFound)
		}
		total += svc.Duration
	}
	return total, nil
}

func parseIDList(raw string) ([]int64, error) {
	seen := make(map[int64]bool)
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: invalid service id %q", model.ErrInvalidRequest, part)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: serviceIds is empty", model.ErrInvalidRequest)
	}
	return ids, nil
}

// GET /api/stylist/{id}/schedule
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	stylistID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	week, err := s.schedule.GetWeeklyAvailability(r.Context(), stylistID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, week)
}

// handleReplaceSchedule swaps the calling stylist's weekly hours.
// POST /api/stylist/schedule
func (s *Server) handleReplaceSchedule(w http.ResponseWriter, r *http.Request) {
	stylistID, ok := s.requireStylist(w, r)
	if !ok {
		return
	}

	var req replaceScheduleRequest
	if !s.decode(w, r, &req) {
		return
	}

	entries := make([]model.StylistAvailability, len(req.Availability))
	for i, e := range req.Availability {
		entries[i] = model.StylistAvailability{
			StylistID: stylistID,
			DayOfWeek: e.DayOfWeek,
			StartTime: e.StartTime,
			EndTime:   e.EndTime,
			IsActive:  e.IsActive,
		}
	}

	if err := s.schedule.ReplaceWeeklyAvailability(r.Context(), stylistID, entries); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	week, err := s.schedule.GetWeeklyAvailability(r.Context(), stylistID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"availability": week})
}

// GET /api/stylist/{id}/time-off
func (s *Server) handleListTimeOff(w http.ResponseWriter, r *http.Request) {
	stylistID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	periods, err := s.schedule.GetTimeOff(r.Context(), stylistID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, periods)
}

// POST /api/stylist/time-off
func (s *Server) handleAddTimeOff(w http.ResponseWriter, r *http.Request) {
	stylistID, ok := s.requireStylist(w, r)
	if !ok {
		return
	}

	var req addTimeOffRequest
	if !s.decode(w, r, &req) {
		return
	}

	loc := s.slots.Location()
	start, err := model.ParseDate(req.StartDate, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := model.ParseDate(req.EndDate, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	period, err := s.schedule.AddTimeOff(r.Context(), stylistID, start, end, req.Reason)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, period)
}

// DELETE /api/stylist/time-off/{id}
func (s *Server) handleRemoveTimeOff(w http.ResponseWriter, r *http.Request) {
	stylistID, ok := s.requireStylist(w, r)
	if !ok {
		return
	}
	timeOffID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.schedule.RemoveTimeOff(r.Context(), stylistID, timeOffID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireStylist resolves the caller and checks they have a stylist profile.
func (s *Server) requireStylist(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return 0, false
	}
	if _, err := s.catalog.GetStylist(r.Context(), actor); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusForbidden, "only stylists can manage schedules")
			return 0, false
		}
		s.writeServiceError(w, r, err)
		return 0, false
	}
	return actor, true
}
