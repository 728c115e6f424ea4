package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"clanwatch/internal/transport"
	logx "clanwatch/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan batch) {
	// Per-worker RNG: avoids global lock contention when many sends back off
	// concurrently.
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		// fast-exit so stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case b := <-queue:
			s.execBatch(ctx, b, rng)
		}
	}
}

// execBatch settles the batch segment by segment: jobs whose text went out
// stay committed even when a later segment of the same channel batch fails,
// so a partial failure never re-sends what was already delivered.
func (s *Service) execBatch(ctx context.Context, b batch, rng *rand.Rand) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	segs := renderBatch(b.jobs, cfg.MaxMessageLen)
	for i, seg := range segs {
		attempts, err := s.sendText(ctx, b.channel, seg.text, cfg, rng)
		switch {
		case err == nil:
			s.settleCommitted(ctx, b.channel, seg.jobs, attempts, OutcomeDelivered, nil)

		case errors.Is(err, transport.ErrPermissionDenied):
			// The destination is gone for good. The event has effectively
			// fired for every job still pending here; keep the claims
			// committed so nothing retries a broken channel.
			rest := remainingJobs(segs[i:])
			s.settleCommitted(ctx, b.channel, rest, attempts, OutcomeDenied, err)
			s.log.Warn("delivery target unusable", logx.String("channel", b.channel.String()), logx.Int("jobs", len(rest)), logx.Err(err))
			return

		default:
			// Transient failure with retries exhausted: roll back only the
			// undelivered jobs so the next tick re-attempts exactly those.
			rest := remainingJobs(segs[i:])
			for _, j := range rest {
				s.releaseClaim(j)
				s.rolledBack.Add(1)
				s.publish(Result{ReminderID: j.Reminder.ID, CycleID: j.Cycle.ID, Channel: b.channel, Outcome: OutcomeRolledBack, Attempts: attempts, Err: err.Error()})
			}
			s.log.Warn("delivery failed, claims rolled back", logx.String("channel", b.channel.String()), logx.Int("jobs", len(rest)), logx.Int("attempts", attempts), logx.Err(err))
			return
		}
	}
}

func remainingJobs(segs []segment) []Job {
	var jobs []Job
	for _, seg := range segs {
		jobs = append(jobs, seg.jobs...)
	}
	return jobs
}

func (s *Service) settleCommitted(ctx context.Context, ch transport.ChannelRef, jobs []Job, attempts int, out Outcome, err error) {
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	for _, j := range jobs {
		if cerr := s.ledger.Commit(ctx, j.Reminder.ID, j.Cycle.ID, now); cerr != nil {
			s.log.Error("claim commit failed", logx.String("reminder", j.Reminder.ID), logx.String("cycle", j.Cycle.ID), logx.Err(cerr))
		}
		if out == OutcomeDelivered {
			s.delivered.Add(1)
		} else {
			s.denied.Add(1)
		}
		s.publish(Result{ReminderID: j.Reminder.ID, CycleID: j.Cycle.ID, Channel: ch, Outcome: out, Attempts: attempts, Err: msg})
	}
}

// sendText delivers one text to the channel, retrying transient failures with
// bounded exponential backoff. Permission failures short-circuit immediately.
func (s *Service) sendText(ctx context.Context, ch transport.ChannelRef, text string, cfg Config, rng *rand.Rand) (int, error) {
	attempts := 0
	for attempt := 1; attempt <= 1+cfg.RetryMax; attempt++ {
		attempts++

		if err := s.global.Wait(ctx); err != nil {
			return attempts, err
		}
		if err := s.channelLimiter(ch).Wait(ctx); err != nil {
			return attempts, err
		}

		_, err := s.messenger.Deliver(ctx, ch, text, &transport.SendOptions{DisablePreview: true})
		if err == nil {
			return attempts, nil
		}
		if errors.Is(err, transport.ErrPermissionDenied) {
			return attempts, err
		}
		if attempt > cfg.RetryMax {
			return attempts, err
		}

		delay := backoffDelay(cfg, attempt, err, rng)
		s.log.Debug("delivery retry scheduled", logx.String("channel", ch.String()), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return attempts, ctx.Err()
		case <-tmr.C:
		}
	}
	return attempts, nil
}

// backoffDelay is exponential with jitter, respecting the platform's
// retry-after hint when the error carries one.
func backoffDelay(cfg Config, attempt int, err error, rng *rand.Rand) time.Duration {
	var d time.Duration

	var rl *transport.RateLimitedError
	if errors.As(err, &rl) {
		d = rl.RetryAfter()
	} else {
		d = cfg.RetryBase
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= cfg.RetryMaxDelay {
				break
			}
		}
	}

	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		d = 0
	}
	// Jitter on top to avoid thundering herds across worker goroutines.
	if cfg.RetryJitter > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * cfg.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
		}
	}
	return d
}
