package slots

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homestyle/internal/model"
	"homestyle/internal/pricing"
)

const stylistID int64 = 1

type fakeReader struct {
	mu       sync.Mutex
	week     map[int]*model.StylistAvailability
	timeOff  []model.TimeOffPeriod
	bookings []model.Booking
	calls    int
}

func newWeekdayReader() *fakeReader {
	r := &fakeReader{week: map[int]*model.StylistAvailability{}}
	for d := 1; d <= 5; d++ {
		r.week[d] = &model.StylistAvailability{StylistID: stylistID, DayOfWeek: d, StartTime: 540, EndTime: 1020, IsActive: true}
	}
	r.week[6] = &model.StylistAvailability{StylistID: stylistID, DayOfWeek: 6, StartTime: 540, EndTime: 1020, IsActive: false}
	return r
}

func (r *fakeReader) DayAvailability(_ context.Context, _ int64, dayOfWeek int) (*model.StylistAvailability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	a, ok := r.week[dayOfWeek]
	if !ok || !a.IsActive {
		return nil, nil
	}
	return a, nil
}

func (r *fakeReader) TimeOffOn(_ context.Context, _ int64, date time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.timeOff {
		if covers(p, date) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeReader) BlockingBookings(_ context.Context, _ int64, from, to time.Time) ([]model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Booking
	for _, b := range r.bookings {
		if b.Status.Blocks() && b.Overlaps(from, to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *fakeReader) addBooking(start time.Time, minutes int, status model.BookingStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookings = append(r.bookings, model.Booking{
		ID: int64(len(r.bookings) + 1), StylistID: stylistID, ScheduledAt: start, Duration: minutes, Status: status,
	})
}

func covers(p model.TimeOffPeriod, date time.Time) bool {
	d := date.Format(model.DateLayout)
	return d >= p.StartDate.Format(model.DateLayout) && d <= p.EndDate.Format(model.DateLayout)
}

type lunchBreak struct{}

func (lunchBreak) IsBlackedOut(_ context.Context, _ int64, start, end time.Time) (bool, error) {
	day := model.StartOfDay(start, start.Location())
	return start.Before(day.Add(13*time.Hour)) && day.Add(12*time.Hour).Before(end), nil
}

func at(day, hour, min int) time.Time {
	return time.Date(2025, 7, day, hour, min, 0, 0, time.UTC)
}

// Monday 2025-06-30 08:00 UTC.
var testNow = time.Date(2025, 6, 30, 8, 0, 0, 0, time.UTC)

func newTestGenerator(r model.DayReader, now time.Time) *Generator {
	logger := zerolog.New(io.Discard)
	g := NewGenerator(r, pricing.NewProvider(nil), Options{StepMinutes: 30, HorizonDays: 90, Location: time.UTC}, &logger)
	g.SetClock(func() time.Time { return now })
	return g
}

func times(slots []model.Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Time
	}
	return out
}

func TestGenerateSlots_ClosedSaturday(t *testing.T) {
	g := newTestGenerator(newWeekdayReader(), testNow)

	slots, err := g.GenerateSlots(context.Background(), stylistID, at(5, 0, 0), 60)
	require.NoError(t, err)
	assert.NotNil(t, slots)
	assert.Empty(t, slots)
}

func TestGenerateSlots_SkipsExistingBooking(t *testing.T) {
	r := newWeekdayReader()
	r.addBooking(at(7, 10, 0), 60, model.StatusConfirmed)
	g := newTestGenerator(r, testNow)

	slots, err := g.GenerateSlots(context.Background(), stylistID, at(7, 0, 0), 60)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"09:00", "11:00", "11:30", "12:00", "12:30", "13:00",
		"13:30", "14:00", "14:30", "15:00", "15:30", "16:00",
	}, times(slots))
	assert.NotContains(t, times(slots), "10:00")
	assert.NotContains(t, times(slots), "09:30")

	for _, s := range slots {
		assert.True(t, s.Available)
	}
	assert.Equal(t, 1.0, slots[0].PriceMultiplier)
	assert.Equal(t, 1.1, slots[3].PriceMultiplier)
	assert.Equal(t, 1.2, slots[len(slots)-1].PriceMultiplier)
}

func TestGenerateSlots_CancelledBookingFreesTime(t *testing.T) {
	r := newWeekdayReader()
	r.addBooking(at(7, 10, 0), 60, model.StatusCancelled)
	r.addBooking(at(7, 11, 0), 60, model.StatusCompleted)
	g := newTestGenerator(r, testNow)

	slots, err := g.GenerateSlots(context.Background(), stylistID, at(7, 0, 0), 60)
	require.NoError(t, err)
	assert.Contains(t, times(slots), "10:00")
	assert.Contains(t, times(slots), "11:00")
	assert.Len(t, slots, 15)
}

func TestGenerateSlots_TimeOff(t *testing.T) {
	r := newWeekdayReader()
	r.timeOff = []model.TimeOffPeriod{{
		StylistID: stylistID,
		StartDate: at(1, 0, 0),
		EndDate:   at(3, 0, 0),
		Reason:    "vacation",
	}}
	g := newTestGenerator(r, testNow)

	slots, err := g.GenerateSlots(context.Background(), stylistID, at(2, 0, 0), 60)
	require.NoError(t, err)
	assert.Empty(t, slots)

	slots, err = g.GenerateSlots(context.Background(), stylistID, at(4, 0, 0), 60)
	require.NoError(t, err)
	assert.NotEmpty(t, slots)
}

func TestGenerateSlots_InvalidDuration(t *testing.T) {
	g := newTestGenerator(newWeekdayReader(), testNow)

	for _, d := range []int{0, -30} {
		_, err := g.GenerateSlots(context.Background(), stylistID, at(7, 0, 0), d)
		assert.True(t, errors.Is(err, model.ErrInvalidDuration))
	}
}

func TestGenerateSlots_Horizon(t *testing.T) {
	g := newTestGenerator(newWeekdayReader(), testNow)
	ctx := context.Background()

	// 2025-09-29 is a Monday exactly 91 days after testNow.
	slots, err := g.GenerateSlots(ctx, stylistID, time.Date(2025, 9, 29, 0, 0, 0, 0, time.UTC), 60)
	require.NoError(t, err)
	assert.Empty(t, slots)

	// 2025-09-26 is a Friday 88 days out.
	slots, err = g.GenerateSlots(ctx, stylistID, time.Date(2025, 9, 26, 0, 0, 0, 0, time.UTC), 60)
	require.NoError(t, err)
	assert.NotEmpty(t, slots)

	slots, err = g.GenerateSlots(ctx, stylistID, time.Date(2025, 6, 27, 0, 0, 0, 0, time.UTC), 60)
	require.NoError(t, err)
	assert.Empty(t, slots, "past dates have no slots")
}

func TestGenerateSlots_TodaySkipsPastTicks(t *testing.T) {
	now := time.Date(2025, 6, 30, 10, 10, 0, 0, time.UTC)
	g := newTestGenerator(newWeekdayReader(), now)

	slots, err := g.GenerateSlots(context.Background(), stylistID, now, 60)
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, "10:30", slots[0].Time)
	assert.Equal(t, "16:00", slots[len(slots)-1].Time)
}

func TestGenerateSlots_TodayMidMinuteOffersOnlyAdmissibleStarts(t *testing.T) {
	now := time.Date(2025, 6, 30, 10, 0, 30, 0, time.UTC)
	r := newWeekdayReader()
	g := newTestGenerator(r, now)
	ctx := context.Background()

	slots, err := g.GenerateSlots(ctx, stylistID, now, 60)
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, "10:30", slots[0].Time)

	err = g.Admit(ctx, r, stylistID, time.Date(2025, 6, 30, 10, 0, 0, 0, time.UTC), 60)
	assert.Equal(t, ReasonPast, RejectionReason(err))

	for _, s := range slots {
		hm, err := model.ParseMinute(s.Time)
		require.NoError(t, err)
		start := time.Date(2025, 6, 30, 0, hm, 0, 0, time.UTC)
		assert.NoError(t, g.Admit(ctx, r, stylistID, start, 60), "slot %s", s.Time)
	}
}

func TestGenerateSlots_LongServiceNeedsWholeGap(t *testing.T) {
	r := newWeekdayReader()
	r.addBooking(at(7, 11, 0), 30, model.StatusPending)
	r.addBooking(at(7, 13, 0), 90, model.StatusInProgress)
	g := newTestGenerator(r, testNow)

	slots, err := g.GenerateSlots(context.Background(), stylistID, at(7, 0, 0), 120)
	require.NoError(t, err)

	// 09:00-11:00 fits exactly; 11:30-13:00 is too short; 14:30-17:00 fits twice.
	assert.Equal(t, []string{"09:00", "14:30", "15:00"}, times(slots))
}

func TestGenerateSlots_Containment(t *testing.T) {
	r := newWeekdayReader()
	r.addBooking(at(8, 9, 15), 45, model.StatusConfirmed)
	r.addBooking(at(8, 12, 10), 50, model.StatusPending)
	r.addBooking(at(8, 12, 40), 30, model.StatusPending)
	r.addBooking(at(8, 16, 20), 90, model.StatusConfirmed)
	g := newTestGenerator(r, testNow)

	day := at(8, 0, 0)
	for _, duration := range []int{30, 45, 60, 90, 150} {
		slots, err := g.GenerateSlots(context.Background(), stylistID, day, duration)
		require.NoError(t, err)

		for _, s := range slots {
			m, err := model.ParseMinute(s.Time)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, m, 540)
			assert.LessOrEqual(t, m+duration, 1020)

			start := atMinute(day, m)
			conflicts, _ := r.BlockingBookings(context.Background(), stylistID, start, start.Add(time.Duration(duration)*time.Minute))
			assert.Empty(t, conflicts, "slot %s for %d minutes overlaps a booking", s.Time, duration)
		}
	}
}

func TestGenerateSlots_PricingIsStable(t *testing.T) {
	g := newTestGenerator(newWeekdayReader(), testNow)

	first, err := g.GenerateSlots(context.Background(), stylistID, at(9, 0, 0), 30)
	require.NoError(t, err)
	second, err := g.GenerateSlots(context.Background(), stylistID, at(9, 0, 0), 30)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGenerateSlots_Blackouts(t *testing.T) {
	g := newTestGenerator(newWeekdayReader(), testNow)
	g.UseBlackouts(lunchBreak{})

	slots, err := g.GenerateSlots(context.Background(), stylistID, at(7, 0, 0), 60)
	require.NoError(t, err)

	byTime := map[string]bool{}
	for _, s := range slots {
		byTime[s.Time] = s.Available
	}
	assert.True(t, byTime["11:00"])
	assert.False(t, byTime["11:30"])
	assert.False(t, byTime["12:00"])
	assert.False(t, byTime["12:30"])
	assert.True(t, byTime["13:00"])
}

func TestAdmit(t *testing.T) {
	r := newWeekdayReader()
	r.addBooking(at(7, 10, 0), 60, model.StatusConfirmed)
	r.timeOff = []model.TimeOffPeriod{{StartDate: at(1, 0, 0), EndDate: at(3, 0, 0)}}
	g := newTestGenerator(r, testNow)

	tests := []struct {
		name     string
		start    time.Time
		duration int
		reason   string
	}{
		{"free slot", at(7, 11, 0), 60, ""},
		{"off-grid but free", at(7, 11, 15), 45, ""},
		{"ends at closing", at(7, 16, 0), 60, ""},
		{"overlaps booking", at(7, 10, 30), 60, ReasonConflict},
		{"runs into booking", at(7, 9, 30), 60, ReasonConflict},
		{"before opening", at(7, 8, 30), 60, ReasonHours},
		{"past closing", at(7, 16, 30), 60, ReasonHours},
		{"closed day", at(5, 10, 0), 60, ReasonClosed},
		{"time off", at(2, 10, 0), 60, ReasonTimeOff},
		{"in the past", time.Date(2025, 6, 27, 10, 0, 0, 0, time.UTC), 60, ReasonPast},
		{"beyond horizon", time.Date(2025, 10, 6, 10, 0, 0, 0, time.UTC), 60, ReasonHorizon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Admit(context.Background(), r, stylistID, tt.start, tt.duration)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrSlotUnavailable))
			assert.Equal(t, tt.reason, RejectionReason(err))
		})
	}

	err := g.Admit(context.Background(), r, stylistID, at(7, 11, 0), 0)
	assert.True(t, errors.Is(err, model.ErrInvalidDuration))
}

func TestMultiplier(t *testing.T) {
	g := newTestGenerator(newWeekdayReader(), testNow)
	assert.Equal(t, 0.9, g.Multiplier(at(7, 8, 0)))
	assert.Equal(t, 1.3, g.Multiplier(at(7, 19, 30)))
}

func TestGenerateSlots_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := newWeekdayReader()
	g := newTestGenerator(r, testNow)
	g.UseCache(NewRedisCache(client, time.Minute))
	ctx := context.Background()

	first, err := g.GenerateSlots(ctx, stylistID, at(7, 0, 0), 60)
	require.NoError(t, err)
	callsAfterFirst := r.calls

	r.addBooking(at(7, 9, 0), 60, model.StatusPending)

	cached, err := g.GenerateSlots(ctx, stylistID, at(7, 0, 0), 60)
	require.NoError(t, err)
	assert.Equal(t, first, cached)
	assert.Equal(t, callsAfterFirst, r.calls, "cached result must not hit the store")

	g.Invalidate(ctx, stylistID)

	fresh, err := g.GenerateSlots(ctx, stylistID, at(7, 0, 0), 60)
	require.NoError(t, err)
	assert.NotContains(t, times(fresh), "09:00")
	assert.Greater(t, r.calls, callsAfterFirst)
}

func TestGenerateSlots_TodayIsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := newWeekdayReader()
	g := newTestGenerator(r, testNow)
	g.UseCache(NewRedisCache(client, time.Minute))

	_, err := g.GenerateSlots(context.Background(), stylistID, testNow, 60)
	require.NoError(t, err)
	assert.Empty(t, mr.Keys())
}

func TestGenerateSlots_CacheDownFallsBack(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })

	g := newTestGenerator(newWeekdayReader(), testNow)
	g.UseCache(NewRedisCache(client, time.Minute))

	slots, err := g.GenerateSlots(context.Background(), stylistID, at(7, 0, 0), 60)
	require.NoError(t, err)
	assert.Len(t, slots, 15)
}
