package slots

import (
	"sort"
	"time"

	"homestyle/internal/model"
)

// interval is a half-open [start, end) range of minutes of day.
type interval struct {
	start int
	end   int
}

func (i interval) empty() bool {
	return i.end <= i.start
}

// minuteOf maps t onto the wall clock of day, clamped to [0, MinutesPerDay].
func minuteOf(t, day time.Time) int {
	t = t.In(day.Location())
	switch {
	case t.Before(day):
		return 0
	case !t.Before(day.AddDate(0, 0, 1)):
		return model.MinutesPerDay
	}
	return t.Hour()*60 + t.Minute()
}

// atMinute returns the wall-clock instant minute m of day.
func atMinute(day time.Time, m int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, m, 0, 0, day.Location())
}

// firstBookableMinute is the earliest whole minute of day that Admit still
// accepts at now: a clock partway through a minute moves on to the next one.
func firstBookableMinute(now, day time.Time) int {
	m := minuteOf(now, day)
	if now.Second() != 0 || now.Nanosecond() != 0 {
		m++
	}
	return m
}

// occupiedIntervals converts bookings into sorted, merged blocking minute
// ranges on day.
func occupiedIntervals(bookings []model.Booking, day time.Time) []interval {
	occupied := make([]interval, 0, len(bookings))
	for i := range bookings {
		if !bookings[i].Status.Blocks() {
			continue
		}
		iv := interval{
			start: minuteOf(bookings[i].ScheduledAt, day),
			end:   minuteOf(bookings[i].EndTime(), day),
		}
		if !iv.empty() {
			occupied = append(occupied, iv)
		}
	}

	sort.Slice(occupied, func(i, j int) bool { return occupied[i].start < occupied[j].start })

	merged := occupied[:0]
	for _, iv := range occupied {
		if n := len(merged); n > 0 && iv.start <= merged[n-1].end {
			if iv.end > merged[n-1].end {
				merged[n-1].end = iv.end
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// subtract removes sorted, merged occupied ranges from open.
func subtract(open interval, occupied []interval) []interval {
	var free []interval
	cursor := open.start
	for _, o := range occupied {
		if o.end <= cursor {
			continue
		}
		if o.start >= open.end {
			break
		}
		if o.start > cursor {
			free = append(free, interval{start: cursor, end: o.start})
		}
		cursor = o.end
	}
	if cursor < open.end {
		free = append(free, interval{start: cursor, end: open.end})
	}
	return free
}

// alignUp returns the first grid point >= m on the grid anchored at anchor.
func alignUp(m, anchor, step int) int {
	if m <= anchor {
		return anchor
	}
	offset := m - anchor
	if rem := offset % step; rem != 0 {
		offset += step - rem
	}
	return anchor + offset
}
