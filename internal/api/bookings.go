package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"homestyle/internal/booking"
	"homestyle/internal/export"
	"homestyle/internal/model"
)

type createBookingRequest struct {
	StylistID       int64      `json:"stylistId" validate:"required,gt=0"`
	ServiceID       int64      `json:"serviceId" validate:"omitempty,gt=0"`
	ServiceIDs      []int64    `json:"serviceIds" validate:"omitempty,max=10,dive,gt=0"`
	ScheduledAt     *time.Time `json:"scheduledAt"`
	ScheduledDate   string     `json:"scheduledDate" validate:"required_without=ScheduledAt"`
	ScheduledTime   string     `json:"scheduledTime" validate:"required_with=ScheduledDate"`
	Duration        int        `json:"duration" validate:"omitempty,gt=0,lte=1440"`
	ClientAddress   string     `json:"clientAddress" validate:"required,max=500"`
	SpecialRequests string     `json:"specialRequests" validate:"max=2000"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed in_progress completed cancelled"`
}

// handleCreateBooking runs admission for a new booking.
// POST /api/bookings
func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	clientID, err := actorID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req createBookingRequest
	if !s.decode(w, r, &req) {
		return
	}

	start, err := s.scheduledAt(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	serviceIDs := req.ServiceIDs
	if req.ServiceID > 0 {
		serviceIDs = append([]int64{req.ServiceID}, serviceIDs...)
	}

	b, err := s.bookings.TryCreateBooking(r.Context(), booking.Request{
		ClientID:        clientID,
		StylistID:       req.StylistID,
		ServiceIDs:      serviceIDs,
		ScheduledAt:     start,
		Duration:        req.Duration,
		ClientAddress:   req.ClientAddress,
		SpecialRequests: req.SpecialRequests,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// scheduledAt accepts either an absolute timestamp or a local date and
// wall-clock time in the business timezone.
func (s *Server) scheduledAt(req *createBookingRequest) (time.Time, error) {
	if req.ScheduledAt != nil {
		return *req.ScheduledAt, nil
	}

	loc := s.slots.Location()
	day, err := model.ParseDate(req.ScheduledDate, loc)
	if err != nil {
		return time.Time{}, err
	}
	minute, err := model.ParseMinute(req.ScheduledTime)
	if err != nil {
		return time.Time{}, err
	}
	if minute >= model.MinutesPerDay {
		return time.Time{}, fmt.Errorf("invalid scheduledTime %s", req.ScheduledTime)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, loc), nil
}

// GET /api/bookings/{id}
func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	bookingID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := s.bookings.GetBooking(r.Context(), bookingID, actor)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// PATCH /api/bookings/{id}/status
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	bookingID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req updateStatusRequest
	if !s.decode(w, r, &req) {
		return
	}

	b, err := s.bookings.UpdateStatus(r.Context(), bookingID, actor, model.BookingStatus(req.Status))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleExport streams the stylist's ledger for [from, to] as XLSX.
// GET /api/stylist/{id}/bookings/export?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	stylistID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	loc := s.slots.Location()
	q := r.URL.Query()
	if q.Get("from") == "" || q.Get("to") == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	from, err := model.ParseDate(q.Get("from"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := model.ParseDate(q.Get("to"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bookings, err := s.bookings.ListForExport(r.Context(), stylistID, actor, from, to.AddDate(0, 0, 1))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	stylist, err := s.catalog.GetStylist(r.Context(), stylistID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteLedger(&buf, stylist, bookings, loc); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	filename := fmt.Sprintf("bookings_%d_%s_%s.xlsx", stylistID, q.Get("from"), q.Get("to"))
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
