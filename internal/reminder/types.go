package reminder

import (
	"fmt"
	"time"

	"clanwatch/internal/transport"
)

// EventFamily selects one of the three recurring in-game event kinds the
// engine knows how to schedule against.
type EventFamily string

const (
	FamilyWar    EventFamily = "war"
	FamilyRaid   EventFamily = "raid"
	FamilyPoints EventFamily = "points"
)

func (f EventFamily) Valid() bool {
	switch f {
	case FamilyWar, FamilyRaid, FamilyPoints:
		return true
	}
	return false
}

// GroupRef is the in-game group tag (e.g. "#2PP0JCCL").
type GroupRef string

type Role string

const (
	RoleMember   Role = "member"
	RoleElder    Role = "elder"
	RoleCoLeader Role = "coleader"
	RoleLeader   Role = "leader"
)

type Scope string

const (
	ScopeAllMembers   Scope = "all"
	ScopeParticipants Scope = "participants"
)

// WarFilters are the filters valid for FamilyWar reminders.
type WarFilters struct {
	Roles            []Role
	RemainingAttacks []int
}

// RaidFilters are the filters valid for FamilyRaid reminders.
type RaidFilters struct {
	Roles         []Role
	RemainingHits []int
}

// PointsFilters are the filters valid for FamilyPoints reminders.
// MinPoints == nil means no threshold.
type PointsFilters struct {
	Roles     []Role
	MinPoints *int
}

// Reminder is one community-configured alert.
//
// Exactly one of War/Raid/Points is non-nil and must match Family; this keeps
// family-specific filters out of reach of the other families instead of
// carrying one loosely-typed option bag for all three.
type Reminder struct {
	ID      string
	GuildID int64
	Channel transport.ChannelRef
	Family  EventFamily

	// Groups the reminder applies to. Empty means every group the guild tracks.
	Groups []GroupRef

	// LeadTime is how long before the cycle end the alert fires.
	LeadTime time.Duration

	Scope   Scope
	Message string

	War    *WarFilters
	Raid   *RaidFilters
	Points *PointsFilters

	// NextFireAt is the fire instant for the current (or next) nominal cycle,
	// maintained by the scheduler and indexed by the store for the due query.
	NextFireAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoleFilter returns the role filter of the active variant.
func (r Reminder) RoleFilter() []Role {
	switch {
	case r.War != nil:
		return r.War.Roles
	case r.Raid != nil:
		return r.Raid.Roles
	case r.Points != nil:
		return r.Points.Roles
	}
	return nil
}

type CycleState string

const (
	CyclePending CycleState = "pending"
	CycleActive  CycleState = "active"
	CycleEnded   CycleState = "ended"
)

// Member is one group member with the progress fields of the cycle it was
// snapshotted from. ActionsUsed/ActionsTotal cover war attacks and raid hits;
// Points covers scoring events.
type Member struct {
	Tag  string
	Name string
	Role Role

	Participating bool
	ActionsUsed   int
	ActionsTotal  int
	Points        int
}

func (m Member) ActionsLeft() int {
	left := m.ActionsTotal - m.ActionsUsed
	if left < 0 {
		return 0
	}
	return left
}

// Cycle is one live instance of a recurring event for one group.
// Cycles are fetched, never stored; the engine treats them as read-only.
type Cycle struct {
	ID           string
	Family       EventFamily
	Group        GroupRef
	StartsAt     time.Time
	EndsAt       time.Time
	State        CycleState
	Participants []Member
}

// CycleID derives the deterministic cycle identity from the group and the
// event start instant, so re-fetching the same live event yields the same id.
func CycleID(f EventFamily, g GroupRef, startsAt time.Time) string {
	return fmt.Sprintf("%s:%s:%d", f, g, startsAt.UTC().Unix())
}
