package credits

import "time"

// NeedsReset reports whether a balance last reset at lastReset is due for a
// daily reset at now. The boundary is the calendar day in loc, so a balance
// reset late in the evening still refreshes at local midnight.
func NeedsReset(now, lastReset time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}

	nowLocal := now.In(loc)
	lastLocal := lastReset.In(loc)

	y1, m1, d1 := lastLocal.Date()
	y2, m2, d2 := nowLocal.Date()

	if y1 != y2 {
		return y1 < y2
	}
	if m1 != m2 {
		return m1 < m2
	}
	return d1 < d2
}
