package scheduler

import (
	"context"
	"time"

	"clanwatch/internal/dispatch"
	"clanwatch/internal/reminder"
)

type Config struct {
	Enabled bool

	// TickInterval drives the polling loop. Minutes-scale: short enough that
	// lead times measured in minutes are meaningful, long enough to bound
	// load on the game-data upstream.
	TickInterval time.Duration

	// LookaheadMargin widens the due query beyond one tick so a missed tick
	// can't skip a fire instant.
	LookaheadMargin time.Duration

	// ResolveWorkers caps concurrent cycle fetches within one tick.
	ResolveWorkers int

	// SweepInterval/SweepGrace collect claims whose process died between
	// claim and delivery.
	SweepInterval time.Duration
	SweepGrace    time.Duration

	// PruneAfter removes committed dispatch records once no cycle that old
	// can still be live.
	PruneAfter time.Duration

	HistorySize int

	// TrackedGroups maps each guild to the group tags it follows. Reminders
	// with an empty group set expand to these.
	TrackedGroups map[int64][]reminder.GroupRef

	// Windows is the nominal event calendar, including any configured
	// calendar exceptions.
	Windows reminder.Windows
}

func (c Config) withDefaults() Config {
	switch {
	case c.TickInterval <= 0:
		c.TickInterval = 2 * time.Minute
	case c.TickInterval < time.Minute:
		c.TickInterval = time.Minute
	case c.TickInterval > 5*time.Minute:
		c.TickInterval = 5 * time.Minute
	}
	if c.LookaheadMargin <= 0 {
		c.LookaheadMargin = c.TickInterval
	}
	if c.ResolveWorkers <= 0 {
		c.ResolveWorkers = 4
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Minute
	}
	if c.SweepGrace <= 0 {
		c.SweepGrace = 15 * time.Minute
	}
	if c.PruneAfter <= 0 {
		c.PruneAfter = 7 * 24 * time.Hour
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

// Store is the reminder-side persistence the tick needs.
type Store interface {
	FindDueCandidates(ctx context.Context, horizon time.Time) ([]reminder.Reminder, error)
	UpdateNextFire(ctx context.Context, id string, at time.Time) error
}

// Ledger is the claim-side persistence the tick needs.
type Ledger interface {
	TryClaim(ctx context.Context, reminderID, cycleID string, now time.Time) (bool, error)
	SweepAbandoned(ctx context.Context, before time.Time) (int64, error)
	PruneDispatched(ctx context.Context, before time.Time) (int64, error)
}

// Resolver fetches live cycle state, already cached and error-typed
// (gamedata.ErrNoCycle vs gamedata.ErrUnavailable).
type Resolver interface {
	Resolve(ctx context.Context, f reminder.EventFamily, g reminder.GroupRef) (reminder.Cycle, error)
}

// Dispatcher accepts one tick's qualifying jobs.
type Dispatcher interface {
	EnqueueBatch(jobs []dispatch.Job) error
}

// TickStats summarizes one tick for diagnostics and the history ring.
type TickStats struct {
	At         time.Time
	Took       time.Duration
	Candidates int

	Pending        int // fire instant not reached yet
	Claimed        int // handed to the dispatcher
	AlreadyClaimed int // lost the claim race (expected under multiple schedulers)
	Suppressed     int // no cycle, cycle over, or no eligible members
	Unavailable    int // upstream unreachable; retried next tick
	Errors         int // per-reminder evaluation failures

	Aborted bool // engine could not read its own state
}

// Topic implements eventbus.Event.
func (TickStats) Topic() string { return "scheduler.tick" }

// Snapshot is a lightweight operator view.
type Snapshot struct {
	Enabled      bool
	TickInterval time.Duration
	LastTick     TickStats
	History      []TickStats
}

type pairKey struct {
	reminderID string
	cycleID    string
}

type resolveKey struct {
	family reminder.EventFamily
	group  reminder.GroupRef
}

type resolveResult struct {
	cycle reminder.Cycle
	err   error
}
