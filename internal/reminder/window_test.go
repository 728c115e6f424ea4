package reminder

import (
	"testing"
	"time"
)

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestWarBoundsRolling(t *testing.T) {
	t.Parallel()
	w := DefaultWindows()

	tests := []struct {
		name  string
		now   time.Time
		start time.Time
	}{
		{name: "first cycle", now: utc(2020, 1, 1, 12, 0), start: utc(2020, 1, 1, 0, 0)},
		{name: "mid second cycle", now: utc(2020, 1, 4, 6, 0), start: utc(2020, 1, 3, 0, 0)},
		{name: "exact boundary starts next", now: utc(2020, 1, 3, 0, 0), start: utc(2020, 1, 3, 0, 0)},
		{name: "years later", now: utc(2026, 8, 28, 10, 0), start: utc(2026, 8, 27, 0, 0)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			b := w.CurrentBounds(FamilyWar, tt.now)
			if !b.StartsAt.Equal(tt.start) {
				t.Fatalf("StartsAt = %v, want %v", b.StartsAt, tt.start)
			}
			if got := b.Length(); got != 48*time.Hour {
				t.Fatalf("Length = %v, want 48h", got)
			}
			if !b.Contains(tt.now) {
				t.Fatalf("bounds %v..%v do not contain %v", b.StartsAt, b.EndsAt, tt.now)
			}
		})
	}
}

func TestWarBoundsContiguous(t *testing.T) {
	t.Parallel()
	w := DefaultWindows()
	now := utc(2026, 1, 10, 3, 0)
	for i := 0; i < 40; i++ {
		cur := w.CurrentBounds(FamilyWar, now)
		next := w.NextBounds(FamilyWar, now)
		if !next.StartsAt.Equal(cur.EndsAt) {
			t.Fatalf("cycle %d: next starts %v, current ends %v", i, next.StartsAt, cur.EndsAt)
		}
		now = cur.EndsAt
	}
}

func TestRaidBoundsOverFullYear(t *testing.T) {
	t.Parallel()
	w := DefaultWindows()

	// First Friday of 2026 is January 2nd.
	friday := utc(2026, 1, 2, 7, 0)
	for week := 0; week < 52; week++ {
		open := friday.AddDate(0, 0, 7*week)
		inside := open.Add(30 * time.Hour)

		b := w.CurrentBounds(FamilyRaid, inside)
		if !b.StartsAt.Equal(open) {
			t.Fatalf("week %d: StartsAt = %v, want %v", week, b.StartsAt, open)
		}
		if !b.EndsAt.Equal(open.Add(72 * time.Hour)) {
			t.Fatalf("week %d: EndsAt = %v, want %v", week, b.EndsAt, open.Add(72*time.Hour))
		}
		if b.StartsAt.Weekday() != time.Friday {
			t.Fatalf("week %d: opens on %v", week, b.StartsAt.Weekday())
		}
	}
}

func TestRaidBoundsGapReportsUpcoming(t *testing.T) {
	t.Parallel()
	w := DefaultWindows()

	// Wednesday is past Monday 07:00 close, before Friday 07:00 open.
	now := utc(2026, 1, 7, 12, 0)
	b := w.CurrentBounds(FamilyRaid, now)
	if b.Contains(now) {
		t.Fatalf("gap instant %v should not be inside %v..%v", now, b.StartsAt, b.EndsAt)
	}
	if !b.StartsAt.Equal(utc(2026, 1, 9, 7, 0)) {
		t.Fatalf("upcoming StartsAt = %v, want Friday Jan 9 07:00", b.StartsAt)
	}
}

func TestPointsBoundsClampsShortMonths(t *testing.T) {
	t.Parallel()
	w := Windows{
		War:    DefaultWindows().War,
		Raid:   DefaultWindows().Raid,
		Points: PointsWindow{Day: 31, Hour: 8, Length: 48 * time.Hour},
	}

	tests := []struct {
		name string
		now  time.Time
		day  int
	}{
		{name: "february clamps to 28", now: utc(2026, 2, 10, 0, 0), day: 28},
		{name: "leap february clamps to 29", now: utc(2028, 2, 10, 0, 0), day: 29},
		{name: "april clamps to 30", now: utc(2026, 4, 10, 0, 0), day: 30},
		{name: "january keeps 31", now: utc(2026, 1, 10, 0, 0), day: 31},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			b := w.CurrentBounds(FamilyPoints, tt.now)
			if b.StartsAt.Day() != tt.day {
				t.Fatalf("StartsAt day = %d, want %d", b.StartsAt.Day(), tt.day)
			}
			if b.StartsAt.Hour() != 8 {
				t.Fatalf("StartsAt hour = %d, want 8", b.StartsAt.Hour())
			}
			if b.StartsAt.Month() != tt.now.Month() {
				t.Fatalf("StartsAt month = %v, want %v", b.StartsAt.Month(), tt.now.Month())
			}
		})
	}
}

func TestPointsBoundsRollsToNextMonth(t *testing.T) {
	t.Parallel()
	w := DefaultWindows()

	// Day 22 + 144h ends on the 28th 08:00; the 29th rolls into next month.
	now := utc(2026, 3, 29, 0, 0)
	b := w.CurrentBounds(FamilyPoints, now)
	if b.StartsAt.Month() != time.April || b.StartsAt.Day() != 22 {
		t.Fatalf("StartsAt = %v, want April 22", b.StartsAt)
	}

	// December rollover crosses the year.
	now = utc(2026, 12, 29, 0, 0)
	b = w.CurrentBounds(FamilyPoints, now)
	if b.StartsAt.Year() != 2027 || b.StartsAt.Month() != time.January {
		t.Fatalf("StartsAt = %v, want January 2027", b.StartsAt)
	}
}

func TestFireInstantAfter(t *testing.T) {
	t.Parallel()
	w := DefaultWindows()
	lead := 4 * time.Hour

	// Mid-cycle, before the fire point: fire this cycle.
	now := utc(2020, 1, 1, 12, 0)
	fire := w.FireInstantAfter(FamilyWar, lead, now)
	want := utc(2020, 1, 2, 20, 0) // Jan 3 00:00 end, minus 4h
	if !fire.Equal(want) {
		t.Fatalf("fire = %v, want %v", fire, want)
	}

	// Past the fire point: roll to the next cycle.
	now = utc(2020, 1, 2, 22, 0)
	fire = w.FireInstantAfter(FamilyWar, lead, now)
	want = utc(2020, 1, 4, 20, 0)
	if !fire.Equal(want) {
		t.Fatalf("fire = %v, want %v", fire, want)
	}

	if !fire.After(now) {
		t.Fatalf("fire instant %v is not after %v", fire, now)
	}
}

func TestCalendarExceptionOverridesOneCycle(t *testing.T) {
	t.Parallel()
	w := DefaultWindows()
	// Shift one war cycle by 6 hours and shorten it.
	w.Exceptions = []CalendarException{{
		Family:   FamilyWar,
		StartsAt: utc(2026, 6, 1, 6, 0),
		EndsAt:   utc(2026, 6, 2, 18, 0),
	}}

	nominal := DefaultWindows().CurrentBounds(FamilyWar, utc(2026, 6, 1, 12, 0))
	if !w.Exceptions[0].StartsAt.Before(nominal.EndsAt) || !w.Exceptions[0].EndsAt.After(nominal.StartsAt) {
		t.Fatalf("test exception %v..%v does not overlap nominal cycle %v..%v",
			w.Exceptions[0].StartsAt, w.Exceptions[0].EndsAt, nominal.StartsAt, nominal.EndsAt)
	}

	b := w.CurrentBounds(FamilyWar, utc(2026, 6, 1, 12, 0))
	if !b.StartsAt.Equal(w.Exceptions[0].StartsAt) || !b.EndsAt.Equal(w.Exceptions[0].EndsAt) {
		t.Fatalf("bounds = %v..%v, want exception bounds", b.StartsAt, b.EndsAt)
	}

	// Once the exception is spent it must not capture later cycles.
	after := w.Exceptions[0].EndsAt.Add(time.Hour)
	b = w.CurrentBounds(FamilyWar, after)
	if b.StartsAt.Equal(w.Exceptions[0].StartsAt) {
		t.Fatalf("spent exception still applied at %v", after)
	}
	if got := b.Length(); got != 48*time.Hour {
		t.Fatalf("post-exception Length = %v, want 48h", got)
	}
}

func TestCycleIDDeterministic(t *testing.T) {
	t.Parallel()
	start := utc(2026, 2, 1, 7, 0)
	a := CycleID(FamilyRaid, "#2PP0JCCL", start)
	b := CycleID(FamilyRaid, "#2PP0JCCL", start.In(time.FixedZone("WIB", 7*3600)))
	if a != b {
		t.Fatalf("same instant in different zones produced %q and %q", a, b)
	}
	if c := CycleID(FamilyWar, "#2PP0JCCL", start); c == a {
		t.Fatal("different families must produce different cycle ids")
	}
}
