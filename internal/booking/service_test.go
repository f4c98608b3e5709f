package booking

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homestyle/internal/database"
	"homestyle/internal/events"
	"homestyle/internal/locks"
	"homestyle/internal/model"
	"homestyle/internal/pricing"
	"homestyle/internal/slots"
)

const clientID int64 = 1001

// Monday 2025-06-30 08:00 UTC.
var testNow = time.Date(2025, 6, 30, 8, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	svc       *Service
	db        *database.DB
	rec       *recorder
	stylistID int64
	haircut   model.Service
	color     model.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "booking.db"), time.UTC)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	stylist := &model.Stylist{Name: "Cleo", IsActive: true}
	require.NoError(t, db.CreateStylist(ctx, stylist))

	var week []model.StylistAvailability
	for d := 1; d <= 5; d++ {
		week = append(week, model.StylistAvailability{StylistID: stylist.ID, DayOfWeek: d, StartTime: 540, EndTime: 1020, IsActive: true})
	}
	require.NoError(t, db.ReplaceWeeklyAvailability(ctx, stylist.ID, week))

	haircut := model.Service{StylistID: stylist.ID, Name: "Haircut", Duration: 60, Price: 50, IsActive: true}
	color := model.Service{StylistID: stylist.ID, Name: "Color", Duration: 90, Price: 80, IsActive: true}
	require.NoError(t, db.CreateService(ctx, &haircut))
	require.NoError(t, db.CreateService(ctx, &color))

	logger := zerolog.New(io.Discard)
	gen := slots.NewGenerator(db, pricing.NewProvider(nil), slots.Options{StepMinutes: 30, HorizonDays: 90, Location: time.UTC}, &logger)
	gen.SetClock(func() time.Time { return testNow })

	rec := &recorder{}
	svc := NewService(db, db, gen, locks.NewKeyed(), rec, 24*time.Hour, &logger)
	return &fixture{svc: svc, db: db, rec: rec, stylistID: stylist.ID, haircut: haircut, color: color}
}

func (f *fixture) request(start time.Time, serviceIDs ...int64) Request {
	return Request{
		ClientID:      clientID,
		StylistID:     f.stylistID,
		ServiceIDs:    serviceIDs,
		ScheduledAt:   start,
		ClientAddress: "12 Elm Street",
	}
}

func TestTryCreateBooking(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	start := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	b, err := f.svc.TryCreateBooking(ctx, f.request(start, f.haircut.ID, f.color.ID, f.haircut.ID))
	require.NoError(t, err)

	assert.NotZero(t, b.ID)
	assert.Equal(t, model.StatusPending, b.Status)
	assert.Equal(t, 150, b.Duration, "duplicate service ids count once")
	assert.Equal(t, []int64{f.haircut.ID, f.color.ID}, b.ServiceIDs)
	assert.Equal(t, 1.0, b.PriceMultiplier)
	assert.Equal(t, 125.0, b.TotalPrice)
	assert.Equal(t, []string{events.TypeBookingCreated}, f.rec.types())

	stored, err := f.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, stored.ScheduledAt.Equal(start))
	assert.Equal(t, int64(1), stored.Version)
}

func TestTryCreateBooking_ExplicitDurationAndTruncation(t *testing.T) {
	f := setup(t)

	req := f.request(time.Date(2025, 7, 1, 16, 15, 42, 0, time.UTC), f.haircut.ID)
	req.Duration = 30
	b, err := f.svc.TryCreateBooking(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 30, b.Duration)
	assert.Equal(t, time.Date(2025, 7, 1, 16, 15, 0, 0, time.UTC), b.ScheduledAt.UTC())
	assert.Equal(t, 60.0, b.TotalPrice, "late afternoon band applies 1.2")
}

func TestTryCreateBooking_Overlap(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.TryCreateBooking(ctx, f.request(time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC), f.color.ID))
	require.NoError(t, err)

	_, err = f.svc.TryCreateBooking(ctx, f.request(time.Date(2025, 7, 1, 11, 0, 0, 0, time.UTC), f.haircut.ID))
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Equal(t, slots.ReasonConflict, slots.RejectionReason(err))

	// Back-to-back is fine: bookings are half-open intervals.
	_, err = f.svc.TryCreateBooking(ctx, f.request(time.Date(2025, 7, 1, 11, 30, 0, 0, time.UTC), f.haircut.ID))
	assert.NoError(t, err)
	assert.Len(t, f.rec.types(), 2)
}

func TestTryCreateBooking_Rejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	other := &model.Stylist{Name: "Dora", IsActive: true}
	require.NoError(t, f.db.CreateStylist(ctx, other))
	foreign := model.Service{StylistID: other.ID, Name: "Braids", Duration: 60, Price: 40, IsActive: true}
	require.NoError(t, f.db.CreateService(ctx, &foreign))

	tuesday := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		mutate  func(r *Request)
		wantErr error
		reason  string
	}{
		{"no services", func(r *Request) { r.ServiceIDs = nil }, model.ErrInvalidRequest, ""},
		{"missing address", func(r *Request) { r.ClientAddress = "" }, model.ErrInvalidRequest, ""},
		{"anonymous client", func(r *Request) { r.ClientID = 0 }, model.ErrForbidden, ""},
		{"negative duration", func(r *Request) { r.Duration = -30 }, model.ErrInvalidDuration, ""},
		{"unknown stylist", func(r *Request) { r.StylistID = 9999 }, model.ErrNotFound, ""},
		{"service of another stylist", func(r *Request) { r.ServiceIDs = []int64{foreign.ID} }, model.ErrNotFound, ""},
		{"in the past", func(r *Request) { r.ScheduledAt = testNow.Add(-time.Hour) }, model.ErrSlotUnavailable, slots.ReasonPast},
		{"saturday", func(r *Request) { r.ScheduledAt = time.Date(2025, 7, 5, 10, 0, 0, 0, time.UTC) }, model.ErrSlotUnavailable, slots.ReasonClosed},
		{"runs past closing", func(r *Request) { r.ScheduledAt = time.Date(2025, 7, 1, 16, 30, 0, 0, time.UTC) }, model.ErrSlotUnavailable, slots.ReasonHours},
		{"beyond horizon", func(r *Request) { r.ScheduledAt = tuesday.AddDate(0, 0, 120) }, model.ErrSlotUnavailable, slots.ReasonHorizon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request(tuesday, f.haircut.ID)
			tt.mutate(&req)
			_, err := f.svc.TryCreateBooking(ctx, req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Equal(t, tt.reason, slots.RejectionReason(err))
		})
	}
	assert.Empty(t, f.rec.types())
}

func TestTryCreateBooking_TimeOff(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	day := time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.db.InsertTimeOff(ctx, &model.TimeOffPeriod{StylistID: f.stylistID, StartDate: day, EndDate: day}))

	_, err := f.svc.TryCreateBooking(ctx, f.request(day.Add(10*time.Hour), f.haircut.ID))
	assert.Equal(t, slots.ReasonTimeOff, slots.RejectionReason(err))
}

func TestTryCreateBooking_ConcurrentSameSlot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			req := f.request(start, f.haircut.ID)
			req.ClientID = clientID + int64(n)
			_, err := f.svc.TryCreateBooking(ctx, req)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicts)

	booked, err := f.db.BlockingBookings(ctx, f.stylistID, start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, booked, 1)
}

func TestUpdateStatus_Lifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	b, err := f.svc.TryCreateBooking(ctx, f.request(time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC), f.haircut.ID))
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, b.ID, clientID, model.StatusConfirmed)
	assert.True(t, errors.Is(err, model.ErrForbidden), "clients cannot confirm")

	_, err = f.svc.UpdateStatus(ctx, b.ID, 4242, model.StatusCancelled)
	assert.True(t, errors.Is(err, model.ErrForbidden), "outsiders cannot touch the booking")

	_, err = f.svc.UpdateStatus(ctx, b.ID, f.stylistID, model.StatusCompleted)
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))

	for _, next := range []model.BookingStatus{model.StatusConfirmed, model.StatusInProgress, model.StatusCompleted} {
		b, err = f.svc.UpdateStatus(ctx, b.ID, f.stylistID, next)
		require.NoError(t, err)
		assert.Equal(t, next, b.Status)
	}
	assert.Equal(t, int64(4), b.Version)

	_, err = f.svc.UpdateStatus(ctx, b.ID, f.stylistID, model.StatusCancelled)
	assert.True(t, errors.Is(err, model.ErrInvalidTransition), "completed is terminal")

	_, err = f.svc.UpdateStatus(ctx, b.ID, f.stylistID, model.BookingStatus("archived"))
	assert.True(t, errors.Is(err, model.ErrInvalidRequest))

	assert.Equal(t, []string{
		events.TypeBookingCreated,
		events.TypeBookingStatus,
		events.TypeBookingStatus,
		events.TypeBookingStatus,
	}, f.rec.types())
}

func TestUpdateStatus_CancelFreesSlot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Date(2025, 7, 2, 10, 0, 0, 0, time.UTC)

	b, err := f.svc.TryCreateBooking(ctx, f.request(start, f.haircut.ID))
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, b.ID, f.stylistID, model.StatusConfirmed)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, b.ID, clientID, model.StatusCancelled)
	require.NoError(t, err)

	_, err = f.svc.TryCreateBooking(ctx, f.request(start, f.haircut.ID))
	assert.NoError(t, err)
}

func TestUpdateStatus_CancellationWindow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Six hours after the test clock.
	soon := time.Date(2025, 6, 30, 14, 0, 0, 0, time.UTC)

	pending, err := f.svc.TryCreateBooking(ctx, f.request(soon, f.haircut.ID))
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, pending.ID, clientID, model.StatusCancelled)
	assert.NoError(t, err, "pending bookings can be withdrawn at any time")

	confirmed, err := f.svc.TryCreateBooking(ctx, f.request(soon, f.haircut.ID))
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, confirmed.ID, f.stylistID, model.StatusConfirmed)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, confirmed.ID, clientID, model.StatusCancelled)
	assert.True(t, errors.Is(err, model.ErrCancellationWindow))

	stored, err := f.svc.GetBooking(ctx, confirmed.ID, clientID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, stored.Status)
}

func TestGetBooking_PartiesOnly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	b, err := f.svc.TryCreateBooking(ctx, f.request(time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC), f.haircut.ID))
	require.NoError(t, err)

	_, err = f.svc.GetBooking(ctx, b.ID, clientID)
	assert.NoError(t, err)
	_, err = f.svc.GetBooking(ctx, b.ID, f.stylistID)
	assert.NoError(t, err)
	_, err = f.svc.GetBooking(ctx, b.ID, 7)
	assert.True(t, errors.Is(err, model.ErrForbidden))
	_, err = f.svc.GetBooking(ctx, 999, clientID)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestListForExport(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.TryCreateBooking(ctx, f.request(time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC), f.haircut.ID))
	require.NoError(t, err)
	_, err = f.svc.TryCreateBooking(ctx, f.request(time.Date(2025, 7, 8, 10, 0, 0, 0, time.UTC), f.haircut.ID))
	require.NoError(t, err)

	from := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 7, 7, 0, 0, 0, 0, time.UTC)

	list, err := f.svc.ListForExport(ctx, f.stylistID, f.stylistID, from, to)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.ListForExport(ctx, f.stylistID, clientID, from, to)
	assert.True(t, errors.Is(err, model.ErrForbidden))

	_, err = f.svc.ListForExport(ctx, f.stylistID, f.stylistID, to, from)
	assert.True(t, errors.Is(err, model.ErrInvalidRange))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.BookingStatus
		want     bool
	}{
		{model.StatusPending, model.StatusConfirmed, true},
		{model.StatusPending, model.StatusCancelled, true},
		{model.StatusPending, model.StatusInProgress, false},
		{model.StatusConfirmed, model.StatusInProgress, true},
		{model.StatusConfirmed, model.StatusCancelled, true},
		{model.StatusInProgress, model.StatusCompleted, true},
		{model.StatusInProgress, model.StatusCancelled, false},
		{model.StatusCompleted, model.StatusCancelled, false},
		{model.StatusCancelled, model.StatusPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	assert.True(t, RoleMayTransition(model.StatusPending, model.StatusCancelled, RoleClient))
	assert.False(t, RoleMayTransition(model.StatusConfirmed, model.StatusInProgress, RoleClient))
}
