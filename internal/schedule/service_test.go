package schedule

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"homestyle/internal/database"
	"homestyle/internal/locks"
	"homestyle/internal/model"
)

type mockInvalidator struct {
	mock.Mock
}

func (m *mockInvalidator) Invalidate(ctx context.Context, stylistID int64) {
	m.Called(ctx, stylistID)
}

func setup(t *testing.T) (*Service, *mockInvalidator, int64) {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "schedule.db"), time.UTC)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	stylist := &model.Stylist{Name: "Bea", IsActive: true}
	require.NoError(t, db.CreateStylist(context.Background(), stylist))

	inv := new(mockInvalidator)
	logger := zerolog.New(io.Discard)
	return NewService(db, db, locks.NewKeyed(), inv, time.UTC, &logger), inv, stylist.ID
}

func weekdays() []model.StylistAvailability {
	var week []model.StylistAvailability
	for d := 1; d <= 5; d++ {
		week = append(week, model.StylistAvailability{DayOfWeek: d, StartTime: 540, EndTime: 1020, IsActive: true})
	}
	week = append(week,
		model.StylistAvailability{DayOfWeek: 6, StartTime: 540, EndTime: 1020, IsActive: false},
		model.StylistAvailability{DayOfWeek: 0, StartTime: 540, EndTime: 1020, IsActive: false},
	)
	return week
}

func TestValidateWeek(t *testing.T) {
	tests := []struct {
		name    string
		entries []model.StylistAvailability
		wantErr error
	}{
		{"valid week", weekdays(), nil},
		{"empty week", nil, nil},
		{
			"start equals end",
			[]model.StylistAvailability{{DayOfWeek: 1, StartTime: 600, EndTime: 600, IsActive: true}},
			model.ErrInvalidInterval,
		},
		{
			"inactive day with placeholder times",
			[]model.StylistAvailability{
				{DayOfWeek: 1, StartTime: 540, EndTime: 1020, IsActive: true},
				{DayOfWeek: 6, StartTime: 0, EndTime: 0},
			},
			nil,
		},
		{
			"inactive day keeps reversed times",
			[]model.StylistAvailability{{DayOfWeek: 2, StartTime: 1020, EndTime: 540}},
			nil,
		},
		{
			"inactive day out of range",
			[]model.StylistAvailability{{DayOfWeek: 9}},
			model.ErrInvalidInterval,
		},
		{
			"duplicate inactive day",
			[]model.StylistAvailability{
				{DayOfWeek: 3, StartTime: 540, EndTime: 720, IsActive: true},
				{DayOfWeek: 3},
			},
			model.ErrDuplicateDay,
		},
		{
			"duplicate day",
			[]model.StylistAvailability{
				{DayOfWeek: 1, StartTime: 540, EndTime: 720, IsActive: true},
				{DayOfWeek: 1, StartTime: 780, EndTime: 1020, IsActive: true},
			},
			model.ErrDuplicateDay,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWeek(tt.entries)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestReplaceWeeklyAvailability(t *testing.T) {
	svc, inv, stylistID := setup(t)
	ctx := context.Background()
	inv.On("Invalidate", mock.Anything, stylistID).Return()

	require.NoError(t, svc.ReplaceWeeklyAvailability(ctx, stylistID, weekdays()))

	week, err := svc.GetWeeklyAvailability(ctx, stylistID)
	require.NoError(t, err)
	assert.Len(t, week, 5, "inactive days are not returned")

	// Saving a set without Monday closes Monday; nothing is merged.
	require.NoError(t, svc.ReplaceWeeklyAvailability(ctx, stylistID, weekdays()[1:]))

	week, err = svc.GetWeeklyAvailability(ctx, stylistID)
	require.NoError(t, err)
	require.Len(t, week, 4)
	for _, e := range week {
		assert.NotEqual(t, 1, e.DayOfWeek)
	}

	inv.AssertNumberOfCalls(t, "Invalidate", 2)
}

func TestReplaceWeeklyAvailability_RejectsInvalidWithoutWriting(t *testing.T) {
	svc, inv, stylistID := setup(t)
	ctx := context.Background()
	inv.On("Invalidate", mock.Anything, stylistID).Return()

	require.NoError(t, svc.ReplaceWeeklyAvailability(ctx, stylistID, weekdays()))

	bad := append(weekdays(), model.StylistAvailability{DayOfWeek: 3, StartTime: 600, EndTime: 700, IsActive: true})
	err := svc.ReplaceWeeklyAvailability(ctx, stylistID, bad)
	assert.True(t, errors.Is(err, model.ErrDuplicateDay))

	week, err := svc.GetWeeklyAvailability(ctx, stylistID)
	require.NoError(t, err)
	assert.Len(t, week, 5)
	inv.AssertNumberOfCalls(t, "Invalidate", 1)
}

func TestReplaceWeeklyAvailability_UnknownStylist(t *testing.T) {
	svc, _, _ := setup(t)
	err := svc.ReplaceWeeklyAvailability(context.Background(), 999, weekdays())
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestTimeOff(t *testing.T) {
	svc, inv, stylistID := setup(t)
	ctx := context.Background()
	inv.On("Invalidate", mock.Anything, stylistID).Return()

	p, err := svc.AddTimeOff(ctx, stylistID,
		time.Date(2025, 7, 1, 15, 0, 0, 0, time.UTC),
		time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC),
		"vacation")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), p.StartDate)

	// Overlapping periods are accepted.
	_, err = svc.AddTimeOff(ctx, stylistID,
		time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC),
		"")
	require.NoError(t, err)

	periods, err := svc.GetTimeOff(ctx, stylistID)
	require.NoError(t, err)
	assert.Len(t, periods, 2)

	on, err := svc.IsOnTimeOff(ctx, stylistID, time.Date(2025, 7, 2, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, svc.RemoveTimeOff(ctx, stylistID, p.ID))
	require.NoError(t, svc.RemoveTimeOff(ctx, stylistID, p.ID), "second removal is a no-op")

	on, err = svc.IsOnTimeOff(ctx, stylistID, time.Date(2025, 7, 2, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, on)
}

func TestAddTimeOff_InvalidRange(t *testing.T) {
	svc, _, stylistID := setup(t)

	_, err := svc.AddTimeOff(context.Background(), stylistID,
		time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		"")
	assert.True(t, errors.Is(err, model.ErrInvalidRange))
}

func TestRemoveTimeOff_OtherStylist(t *testing.T) {
	svc, inv, stylistID := setup(t)
	ctx := context.Background()
	inv.On("Invalidate", mock.Anything, stylistID).Return()

	p, err := svc.AddTimeOff(ctx, stylistID,
		time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		"")
	require.NoError(t, err)

	err = svc.RemoveTimeOff(ctx, stylistID+1, p.ID)
	assert.True(t, errors.Is(err, model.ErrForbidden))
}
