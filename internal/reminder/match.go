package reminder

// Match returns the cycle members eligible for the reminder.
//
// Filters are conjunctive. An empty filter set means "match all", not "match
// none"; that asymmetry is the default configuration most reminders run with.
// An empty result is a valid outcome and simply suppresses dispatch.
func Match(r Reminder, c Cycle) []Member {
	var out []Member
	for _, m := range c.Participants {
		if r.Scope == ScopeParticipants && !m.Participating {
			continue
		}
		if !roleAllowed(r.RoleFilter(), m.Role) {
			continue
		}
		if !progressAllowed(r, m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func roleAllowed(filter []Role, role Role) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == role {
			return true
		}
	}
	return false
}

func progressAllowed(r Reminder, m Member) bool {
	switch r.Family {
	case FamilyWar:
		if r.War == nil {
			return true
		}
		return remainingAllowed(r.War.RemainingAttacks, m.ActionsLeft())
	case FamilyRaid:
		if r.Raid == nil {
			return true
		}
		return remainingAllowed(r.Raid.RemainingHits, m.ActionsLeft())
	case FamilyPoints:
		if r.Points == nil || r.Points.MinPoints == nil || *r.Points.MinPoints <= 0 {
			return true
		}
		// Remind members still below the threshold; whoever already scored
		// past it needs no nudge.
		return m.Points < *r.Points.MinPoints
	}
	return true
}

func remainingAllowed(filter []int, left int) bool {
	if len(filter) == 0 {
		return true
	}
	for _, n := range filter {
		if n == left {
			return true
		}
	}
	return false
}
