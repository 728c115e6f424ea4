package reminder

import (
	"fmt"
	"time"
)

// ValidationError rejects a bad configuration at creation time, before it is
// ever persisted. Dispatch never re-validates.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid reminder: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks a reminder against the configured family windows.
func Validate(r Reminder, w Windows) error {
	if !r.Family.Valid() {
		return invalid("family", "unknown family %q", r.Family)
	}
	if r.GuildID == 0 {
		return invalid("guild_id", "required")
	}
	if r.Channel.ChatID == 0 {
		return invalid("channel", "required")
	}
	if r.Scope != ScopeAllMembers && r.Scope != ScopeParticipants {
		return invalid("scope", "must be %q or %q", ScopeAllMembers, ScopeParticipants)
	}

	if r.LeadTime < time.Minute {
		return invalid("lead_time", "must be at least 1m")
	}
	if maxLen := w.MaxCycleLength(r.Family); r.LeadTime >= maxLen {
		return invalid("lead_time", "%s is not below the %s cycle length %s", r.LeadTime, r.Family, maxLen)
	}

	// Exactly one filter variant, matching the family.
	variants := 0
	if r.War != nil {
		variants++
	}
	if r.Raid != nil {
		variants++
	}
	if r.Points != nil {
		variants++
	}
	if variants > 1 {
		return invalid("filters", "multiple family filter sets")
	}
	switch r.Family {
	case FamilyWar:
		if r.Raid != nil || r.Points != nil {
			return invalid("filters", "non-war filters on a war reminder")
		}
		if r.War != nil {
			for _, n := range r.War.RemainingAttacks {
				if n < 1 {
					return invalid("remaining_attacks", "must be positive, got %d", n)
				}
			}
		}
	case FamilyRaid:
		if r.War != nil || r.Points != nil {
			return invalid("filters", "non-raid filters on a raid reminder")
		}
		if r.Raid != nil {
			for _, n := range r.Raid.RemainingHits {
				if n < 1 {
					return invalid("remaining_hits", "must be positive, got %d", n)
				}
			}
		}
	case FamilyPoints:
		if r.War != nil || r.Raid != nil {
			return invalid("filters", "non-points filters on a points reminder")
		}
		if r.Points != nil && r.Points.MinPoints != nil && *r.Points.MinPoints < 0 {
			return invalid("min_points", "must be >= 0, got %d", *r.Points.MinPoints)
		}
	}

	for _, role := range r.RoleFilter() {
		switch role {
		case RoleMember, RoleElder, RoleCoLeader, RoleLeader:
		default:
			return invalid("roles", "unknown role %q", role)
		}
	}

	return nil
}
