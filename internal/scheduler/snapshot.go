package scheduler

// Snapshot returns a copy of the recent tick history for operator surfaces.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:      s.cfg.Enabled,
		TickInterval: s.cfg.TickInterval,
	}
	s.mu.Unlock()

	s.hmu.Lock()
	if n := len(s.history); n > 0 {
		snap.LastTick = s.history[n-1]
		snap.History = append([]TickStats(nil), s.history...)
	}
	s.hmu.Unlock()
	return snap
}
