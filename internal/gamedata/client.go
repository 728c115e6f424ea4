package gamedata

import (
	"context"
	"errors"

	"clanwatch/internal/reminder"
)

// ErrNoCycle reports that the group has no live event of the requested family
// right now. This is a normal, silent outcome; the fetch itself worked.
var ErrNoCycle = errors.New("gamedata: no active cycle")

// ErrUnavailable reports that the upstream game-data service could not be
// reached or answered with a server error. Callers retry on the next tick;
// treating it like ErrNoCycle would silently swallow reminders.
var ErrUnavailable = errors.New("gamedata: upstream unavailable")

// Client is the external game-data collaborator. Implementations must be
// idempotent and safe to call repeatedly within a short window; the resolver's
// caching assumes this.
//
// Contract: return an error wrapping ErrNoCycle when the group has no live
// event, and wrap anything transport-level in ErrUnavailable.
type Client interface {
	ActiveCycle(ctx context.Context, f reminder.EventFamily, g reminder.GroupRef) (reminder.Cycle, error)
}
