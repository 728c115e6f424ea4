package scheduler

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"clanwatch/internal/dispatch"
	"clanwatch/internal/gamedata"
	"clanwatch/internal/reminder"
	logx "clanwatch/pkg/logx"
)

// tick runs one full pipeline pass: due candidates → cycle resolution →
// eligibility → claim → dispatch hand-off. One reminder's failure never
// aborts the batch; only the engine failing to read its own state does.
func (s *Service) tick(ctx context.Context) {
	start := s.now()
	now := start.UTC()

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	stats := TickStats{At: now}
	defer func() {
		stats.Took = s.now().Sub(start)
		s.record(stats)
	}()

	horizon := now.Add(cfg.TickInterval + cfg.LookaheadMargin)
	cands, err := s.store.FindDueCandidates(ctx, horizon)
	if err != nil {
		stats.Aborted = true
		s.log.Error("tick aborted: cannot read reminders", logx.Err(err))
		return
	}
	stats.Candidates = len(cands)
	if len(cands) == 0 {
		return
	}

	results := s.resolveAll(ctx, cfg, s.collectTargets(cfg, now, cands))

	// Candidates arrive soonest-first from the store, so a 1h-lead reminder
	// is enqueued before a 10m-lead one for the same cycle.
	var jobs []dispatch.Job
	for _, r := range cands {
		s.evaluate(ctx, cfg, now, r, results, &jobs, &stats)
	}

	if len(jobs) > 0 {
		if err := s.dispatcher.EnqueueBatch(jobs); err != nil {
			s.log.Warn("dispatch enqueue incomplete", logx.Int("jobs", len(jobs)), logx.Err(err))
		}
	}

	if stats.Claimed > 0 || stats.Errors > 0 || stats.Unavailable > 0 {
		s.log.Info("tick completed",
			logx.Int("candidates", stats.Candidates),
			logx.Int("claimed", stats.Claimed),
			logx.Int("suppressed", stats.Suppressed),
			logx.Int("already_claimed", stats.AlreadyClaimed),
			logx.Int("unavailable", stats.Unavailable),
			logx.Int("errors", stats.Errors))
	}
}

func (s *Service) groupsFor(cfg Config, r reminder.Reminder) []reminder.GroupRef {
	if len(r.Groups) > 0 {
		return r.Groups
	}
	return cfg.TrackedGroups[r.GuildID]
}

// collectTargets dedupes (family, group) pairs across candidates so each
// group is fetched once per tick no matter how many reminders target it.
func (s *Service) collectTargets(cfg Config, now time.Time, cands []reminder.Reminder) []resolveKey {
	seen := map[resolveKey]struct{}{}
	var keys []resolveKey
	for _, r := range cands {
		if r.NextFireAt.After(now) {
			continue
		}
		for _, g := range s.groupsFor(cfg, r) {
			k := resolveKey{family: r.Family, group: g}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

// resolveAll fetches every target's live cycle with bounded concurrency so a
// wide tick cannot overwhelm the game-data upstream.
func (s *Service) resolveAll(ctx context.Context, cfg Config, keys []resolveKey) map[resolveKey]resolveResult {
	out := make(map[resolveKey]resolveResult, len(keys))
	if len(keys) == 0 {
		return out
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	sem := make(chan struct{}, cfg.ResolveWorkers)
	for _, k := range keys {
		k := k
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				out[k] = resolveResult{err: ctx.Err()}
				mu.Unlock()
				return
			}
			defer func() { <-sem }()

			c, err := s.resolver.Resolve(ctx, k.family, k.group)
			mu.Lock()
			out[k] = resolveResult{cycle: c, err: err}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

// evaluate processes one reminder inside its own failure boundary.
func (s *Service) evaluate(ctx context.Context, cfg Config, now time.Time, r reminder.Reminder, results map[resolveKey]resolveResult, jobs *[]dispatch.Job, stats *TickStats) {
	defer func() {
		if rec := recover(); rec != nil {
			stats.Errors++
			s.log.Error("reminder evaluation panicked", logx.String("reminder", r.ID), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()

	// Once the nominal cycle behind the stored fire instant has closed, move
	// the due index forward; rolled-back claims stop being retried exactly
	// here, when retrying stops making sense.
	nb := cfg.Windows.CurrentBounds(r.Family, r.NextFireAt)
	if !now.Before(nb.EndsAt) {
		next := cfg.Windows.FireInstantAfter(r.Family, r.LeadTime, now)
		if err := s.store.UpdateNextFire(ctx, r.ID, next); err != nil {
			stats.Errors++
			s.log.Error("due index advance failed", logx.String("reminder", r.ID), logx.Err(err))
		}
		return
	}

	if r.NextFireAt.After(now) {
		stats.Pending++
		return
	}

	groups := s.groupsFor(cfg, r)
	if len(groups) == 0 {
		// Guild tracks nothing; park the reminder on the next cycle instead
		// of re-evaluating a target-less config every tick.
		stats.Suppressed++
		next := cfg.Windows.FireInstantAfter(r.Family, r.LeadTime, nb.EndsAt)
		if err := s.store.UpdateNextFire(ctx, r.ID, next); err != nil {
			s.log.Error("due index advance failed", logx.String("reminder", r.ID), logx.Err(err))
		}
		return
	}

	for _, g := range groups {
		res, ok := results[resolveKey{family: r.Family, group: g}]
		if !ok {
			continue
		}
		switch {
		case errors.Is(res.err, gamedata.ErrNoCycle):
			// Normal and silent: no live event for this group this cycle.
			stats.Suppressed++
		case res.err != nil:
			// Unavailable is not NotFound: retry next tick, never suppress.
			stats.Unavailable++
		default:
			s.evaluateCycle(ctx, now, r, res.cycle, jobs, stats)
		}
	}
}

func (s *Service) evaluateCycle(ctx context.Context, now time.Time, r reminder.Reminder, c reminder.Cycle, jobs *[]dispatch.Job, stats *TickStats) {
	key := pairKey{reminderID: r.ID, cycleID: c.ID}
	if s.isSuppressed(key) {
		stats.Suppressed++
		return
	}
	if c.State == reminder.CycleEnded || !now.Before(c.EndsAt) {
		s.markSuppressed(key)
		stats.Suppressed++
		return
	}

	// Live bounds beat the nominal calendar: fire off the actual cycle end.
	fireAt := c.EndsAt.Add(-r.LeadTime)
	if now.Before(fireAt) {
		stats.Pending++
		return
	}

	recipients := reminder.Match(r, c)
	if len(recipients) == 0 {
		// Valid outcome, terminal for this pair.
		s.markSuppressed(key)
		stats.Suppressed++
		s.log.Debug("no eligible recipients", logx.String("reminder", r.ID), logx.String("cycle", c.ID))
		return
	}

	claimed, err := s.ledger.TryClaim(ctx, r.ID, c.ID, now)
	if err != nil {
		stats.Errors++
		s.log.Error("claim attempt failed", logx.String("reminder", r.ID), logx.String("cycle", c.ID), logx.Err(err))
		return
	}
	if !claimed {
		// Expected race outcome under concurrent schedulers, not an error.
		// Not suppressed locally: if the winner rolls its claim back, this
		// process must be able to pick the pair up again.
		stats.AlreadyClaimed++
		return
	}

	*jobs = append(*jobs, dispatch.Job{Reminder: r, Cycle: c, Recipients: recipients})
	stats.Claimed++
}

func (s *Service) record(stats TickStats) {
	s.hmu.Lock()
	s.history = append(s.history, stats)
	s.mu.Lock()
	max := s.cfg.HistorySize
	s.mu.Unlock()
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()

	if s.bus != nil {
		s.bus.Publish(stats)
	}
}
