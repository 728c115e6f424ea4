package reminder

import "time"

// All window math is fixed to UTC. The in-game calendar does not observe
// daylight saving, so computing in a zoned location would drift twice a year.

// Bounds are the start/end instants of one cycle. Start inclusive, end exclusive.
type Bounds struct {
	StartsAt time.Time
	EndsAt   time.Time
}

func (b Bounds) Contains(t time.Time) bool {
	return !t.Before(b.StartsAt) && t.Before(b.EndsAt)
}

func (b Bounds) Length() time.Duration { return b.EndsAt.Sub(b.StartsAt) }

// WarWindow describes the rolling war cadence: consecutive cycles of Length
// anchored at Anchor. Live war state may start late or end early; the nominal
// window only drives candidate pre-selection and validation.
type WarWindow struct {
	Anchor time.Time
	Length time.Duration
}

// RaidWindow describes the weekly raid weekend: opens every Weekday at Hour
// UTC and stays open for Length.
type RaidWindow struct {
	Weekday time.Weekday
	Hour    int
	Length  time.Duration
}

// PointsWindow describes the monthly scoring event: opens on Day of each month
// at Hour UTC and runs for Length. Day is clamped to the month's last day for
// short months.
type PointsWindow struct {
	Day    int
	Hour   int
	Length time.Duration
}

// CalendarException replaces the computed bounds of any cycle it overlaps.
// One-time calendar changes (shifted or extended events) are injected here via
// configuration rather than hard-coded.
type CalendarException struct {
	Family   EventFamily
	StartsAt time.Time
	EndsAt   time.Time
}

// Windows is the full nominal calendar for all three families.
type Windows struct {
	War        WarWindow
	Raid       RaidWindow
	Points     PointsWindow
	Exceptions []CalendarException
}

// DefaultWindows returns the stock in-game calendar.
func DefaultWindows() Windows {
	return Windows{
		War:    WarWindow{Anchor: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Length: 48 * time.Hour},
		Raid:   RaidWindow{Weekday: time.Friday, Hour: 7, Length: 72 * time.Hour},
		Points: PointsWindow{Day: 22, Hour: 8, Length: 144 * time.Hour},
	}
}

// CurrentBounds returns the cycle containing now, or the next upcoming cycle
// when now falls in the gap between two windows.
func (w Windows) CurrentBounds(f EventFamily, now time.Time) Bounds {
	now = now.UTC()
	var b Bounds
	switch f {
	case FamilyWar:
		b = w.warBounds(now)
	case FamilyRaid:
		b = w.raidBounds(now)
	case FamilyPoints:
		b = w.pointsBounds(now)
	}
	return w.applyExceptions(f, now, b)
}

// NextBounds returns the cycle after the one CurrentBounds reports.
func (w Windows) NextBounds(f EventFamily, now time.Time) Bounds {
	cur := w.CurrentBounds(f, now)
	return w.CurrentBounds(f, cur.EndsAt)
}

// NextFireInstant is when a reminder with the given lead time should fire for
// the given cycle.
func NextFireInstant(b Bounds, lead time.Duration) time.Time {
	return b.EndsAt.Add(-lead)
}

// FireInstantAfter returns the earliest fire instant at or after the given
// instant, rolling to the next cycle when the current one has already passed
// its fire point.
func (w Windows) FireInstantAfter(f EventFamily, lead time.Duration, after time.Time) time.Time {
	after = after.UTC()
	b := w.CurrentBounds(f, after)
	fire := NextFireInstant(b, lead)
	if fire.After(after) {
		return fire
	}
	return NextFireInstant(w.CurrentBounds(f, b.EndsAt), lead)
}

// MaxCycleLength is the family's configured cycle duration, used to reject
// lead times that could never fire.
func (w Windows) MaxCycleLength(f EventFamily) time.Duration {
	switch f {
	case FamilyWar:
		return w.War.Length
	case FamilyRaid:
		return w.Raid.Length
	case FamilyPoints:
		return w.Points.Length
	}
	return 0
}

func (w Windows) warBounds(now time.Time) Bounds {
	anchor := w.War.Anchor
	if anchor.IsZero() {
		anchor = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	length := w.War.Length
	if length <= 0 {
		length = 48 * time.Hour
	}
	if now.Before(anchor) {
		return Bounds{StartsAt: anchor, EndsAt: anchor.Add(length)}
	}
	n := now.Sub(anchor) / length
	start := anchor.Add(n * length)
	return Bounds{StartsAt: start, EndsAt: start.Add(length)}
}

func (w Windows) raidBounds(now time.Time) Bounds {
	length := w.Raid.Length
	if length <= 0 {
		length = 72 * time.Hour
	}

	// Most recent Weekday@Hour at or before now.
	day := time.Date(now.Year(), now.Month(), now.Day(), w.Raid.Hour, 0, 0, 0, time.UTC)
	for day.Weekday() != w.Raid.Weekday || day.After(now) {
		day = day.AddDate(0, 0, -1)
		day = time.Date(day.Year(), day.Month(), day.Day(), w.Raid.Hour, 0, 0, 0, time.UTC)
	}

	if now.Before(day.Add(length)) {
		return Bounds{StartsAt: day, EndsAt: day.Add(length)}
	}
	next := day.AddDate(0, 0, 7)
	return Bounds{StartsAt: next, EndsAt: next.Add(length)}
}

func (w Windows) pointsBounds(now time.Time) Bounds {
	length := w.Points.Length
	if length <= 0 {
		length = 144 * time.Hour
	}

	start := monthPin(now.Year(), now.Month(), w.Points.Day, w.Points.Hour)
	if !now.Before(start.Add(length)) {
		// This month's window already closed; roll forward a month.
		y, m := now.Year(), now.Month()+1
		if m > time.December {
			y, m = y+1, time.January
		}
		start = monthPin(y, m, w.Points.Day, w.Points.Hour)
	}
	return Bounds{StartsAt: start, EndsAt: start.Add(length)}
}

// monthPin pins a day-of-month at hour UTC, clamping to the month's last day
// so a pin near month end never normalizes into the following month.
func monthPin(year int, month time.Month, day, hour int) time.Time {
	if day < 1 {
		day = 1
	}
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

func (w Windows) applyExceptions(f EventFamily, now time.Time, b Bounds) Bounds {
	for _, ex := range w.Exceptions {
		if ex.Family != f || ex.StartsAt.IsZero() || !ex.EndsAt.After(ex.StartsAt) {
			continue
		}
		// Spent exceptions must not capture the following cycle.
		if !ex.EndsAt.After(now) {
			continue
		}
		if ex.StartsAt.Before(b.EndsAt) && ex.EndsAt.After(b.StartsAt) {
			return Bounds{StartsAt: ex.StartsAt.UTC(), EndsAt: ex.EndsAt.UTC()}
		}
	}
	return b
}
