// Package api exposes the booking engine over JSON/HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"homestyle/internal/booking"
	"homestyle/internal/model"
)

// UserHeader carries the caller's user id, set by the upstream gateway.
const UserHeader = "X-User-ID"

// BookingService admits bookings and changes their status.
type BookingService interface {
	TryCreateBooking(ctx context.Context, req booking.Request) (*model.Booking, error)
	GetBooking(ctx context.Context, bookingID, actorID int64) (*model.Booking, error)
	UpdateStatus(ctx context.Context, bookingID, actorID int64, status model.BookingStatus) (*model.Booking, error)
	ListForExport(ctx context.Context, stylistID, actorID int64, from, to time.Time) ([]model.Booking, error)
}

// ScheduleService manages weekly hours and time off.
type ScheduleService interface {
	GetWeeklyAvailability(ctx context.Context, stylistID int64) ([]model.StylistAvailability, error)
	ReplaceWeeklyAvailability(ctx context.Context, stylistID int64, entries []model.StylistAvailability) error
	GetTimeOff(ctx context.Context, stylistID int64) ([]model.TimeOffPeriod, error)
	AddTimeOff(ctx context.Context, stylistID int64, startDate, endDate time.Time, reason string) (*model.TimeOffPeriod, error)
	RemoveTimeOff(ctx context.Context, stylistID, timeOffID int64) error
}

// Catalog resolves stylists and services.
type Catalog interface {
	GetStylist(ctx context.Context, id int64) (*model.Stylist, error)
	ListServices(ctx context.Context, stylistID int64) ([]model.Service, error)
	GetServices(ctx context.Context, ids []int64) ([]model.Service, error)
}

// SlotSource computes bookable slots.
type SlotSource interface {
	GenerateSlots(ctx context.Context, stylistID int64, date time.Time, durationMinutes int) ([]model.Slot, error)
	Location() *time.Location
}

// Socket attaches WebSocket connections to a user.
type Socket interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID int64)
}

// Options tunes the HTTP layer.
type Options struct {
	DefaultDuration int
	RatePerSecond   float64
	RateBurst       int
	AllowedOrigins  []string
}

// Server routes HTTP requests to the booking services.
type Server struct {
	router   *mux.Router
	bookings BookingService
	schedule ScheduleService
	catalog  Catalog
	slots    SlotSource
	socket   Socket
	opts     Options
	limiter  *clientLimiter
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewServer creates a server and registers its routes. socket may be nil.
func NewServer(
	bookings BookingService,
	schedule ScheduleService,
	catalog Catalog,
	slots SlotSource,
	socket Socket,
	opts Options,
	logger *zerolog.Logger,
) *Server {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 60
	}
	s := &Server{
		router:   mux.NewRouter(),
		bookings: bookings,
		schedule: schedule,
		catalog:  catalog,
		slots:    slots,
		socket:   socket,
		opts:     opts,
		limiter:  newClientLimiter(opts.RatePerSecond, opts.RateBurst),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With().Str("component", "api").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.instrument)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stylist/{id:[0-9]+}/services", s.handleListServices).Methods(http.MethodGet)
	api.HandleFunc("/stylist/{id:[0-9]+}/availability/{date}", s.handleAvailability).Methods(http.MethodGet)
	api.HandleFunc("/stylist/{id:[0-9]+}/schedule", s.handleGetSchedule).Methods(http.MethodGet)
	api.HandleFunc("/stylist/schedule", s.handleReplaceSchedule).Methods(http.MethodPost)
	api.HandleFunc("/stylist/{id:[0-9]+}/time-off", s.handleListTimeOff).Methods(http.MethodGet)
	api.HandleFunc("/stylist/time-off", s.handleAddTimeOff).Methods(http.MethodPost)
	api.HandleFunc("/stylist/time-off/{id:[0-9]+}", s.handleRemoveTimeOff).Methods(http.MethodDelete)
	api.HandleFunc("/stylist/{id:[0-9]+}/bookings/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/bookings", s.handleCreateBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id:[0-9]+}", s.handleGetBooking).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id:[0-9]+}/status", s.handleUpdateStatus).Methods(http.MethodPatch)

	if s.socket != nil {
		s.router.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// Handler returns the router wrapped in the middleware stack.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = s.rateLimit(h)
	h = s.requestContext(h)
	h = handlers.CombinedLoggingHandler(accessLog{s.logger.With().Str("component", "access").Logger()}, h)
	h = handlers.CORS(
		handlers.AllowedOrigins(s.allowedOrigins()),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", UserHeader}),
		handlers.ExposedHeaders([]string{RequestIDHeader}),
	)(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLog{s.logger}), handlers.PrintRecoveryStack(false))(h)
	return h
}

func (s *Server) allowedOrigins() []string {
	if len(s.opts.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.opts.AllowedOrigins
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil || userID <= 0 {
		if userID, err = actorID(r); err != nil {
			writeError(w, http.StatusUnauthorized, "userId is required")
			return
		}
	}
	s.socket.ServeWS(w, r, userID)
}

// actorID reads the caller's id from UserHeader.
func actorID(r *http.Request) (int64, error) {
	raw := r.Header.Get(UserHeader)
	if raw == "" {
		return 0, errors.New("missing " + UserHeader + " header")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + UserHeader + " header")
	}
	return id, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if field != "" {
			field = strings.ToLower(field[:1]) + field[1:]
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return "validation error: " + strings.Join(msgs, "; ")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInterval),
		errors.Is(err, model.ErrInvalidRange),
		errors.Is(err, model.ErrInvalidDuration),
		errors.Is(err, model.ErrInvalidRequest),
		errors.Is(err, model.ErrDuplicateDay):
		return http.StatusBadRequest
	case booking.IsConflict(err),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrCancellationWindow):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
