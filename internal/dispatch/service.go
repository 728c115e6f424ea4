package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"clanwatch/internal/eventbus"
	"clanwatch/internal/transport"
	logx "clanwatch/pkg/logx"
)

var ErrQueueFull = errors.New("dispatch: queue full")
var ErrStopped = errors.New("dispatch: not running")

func New(cfg Config, messenger transport.Messenger, ledger Ledger, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:       cfg,
		messenger: messenger,
		ledger:    ledger,
		bus:       bus,
		log:       log,
		global:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		chanLims:  map[transport.ChannelRef]*rate.Limiter{},
		queue:     make(chan batch, cfg.QueueSize),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.global = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()

	// Drop per-channel limiters so new settings take effect lazily.
	s.chanMu.Lock()
	s.chanLims = map[transport.ChannelRef]*rate.Limiter{}
	s.chanMu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.runCtx, s.runStop = context.WithCancel(ctx)

	workers := s.cfg.Workers
	queue := s.queue
	stopCh := s.stopCh
	runCtx := s.runCtx

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in dispatch worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}
	s.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("rps", s.cfg.RatePerSec))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	cancel := s.runStop
	s.stopCh = nil
	s.runStop = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("dispatcher stopped")
	case <-ctx.Done():
		// stop continues in background
	}
}

// EnqueueBatch accepts one tick's qualifying jobs. Jobs for the same channel
// are folded into a single batch; batches keep the caller's ordering, so the
// scheduler's soonest-first sort survives into delivery order.
func (s *Service) EnqueueBatch(jobs []Job) error {
	if len(jobs) == 0 {
		return nil
	}
	s.mu.Lock()
	running := s.stopCh != nil
	s.mu.Unlock()
	if !running {
		// The claims would never be delivered; hand them back so the ledger
		// does not strand them until the abandoned-claim sweep.
		for _, j := range jobs {
			s.releaseClaim(j)
		}
		return ErrStopped
	}

	byChannel := map[transport.ChannelRef]int{}
	var batches []batch
	for _, j := range jobs {
		ch := j.Reminder.Channel
		if i, ok := byChannel[ch]; ok {
			batches[i].jobs = append(batches[i].jobs, j)
			continue
		}
		byChannel[ch] = len(batches)
		batches = append(batches, batch{channel: ch, jobs: []Job{j}})
	}

	var firstErr error
	for _, b := range batches {
		select {
		case s.queue <- b:
		default:
			// A full queue means the claim would never be delivered; release
			// it so the next tick retries instead of losing the reminder.
			s.log.Warn("dispatch queue full, releasing claims", logx.Int("jobs", len(b.jobs)), logx.String("channel", b.channel.String()))
			for _, j := range b.jobs {
				s.releaseClaim(j)
			}
			if firstErr == nil {
				firstErr = ErrQueueFull
			}
		}
	}
	return firstErr
}

// Snapshot returns delivery totals since process start.
func (s *Service) Snapshot() Counters {
	return Counters{
		Delivered:  s.delivered.Load(),
		Denied:     s.denied.Load(),
		RolledBack: s.rolledBack.Load(),
	}
}

func (s *Service) channelLimiter(ch transport.ChannelRef) *rate.Limiter {
	s.mu.Lock()
	perMin := s.cfg.PerChannelPerMin
	s.mu.Unlock()

	s.chanMu.Lock()
	defer s.chanMu.Unlock()
	lim := s.chanLims[ch]
	if lim == nil {
		lim = rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin)
		s.chanLims[ch] = lim
	}
	return lim
}

func (s *Service) releaseClaim(j Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ledger.Release(ctx, j.Reminder.ID, j.Cycle.ID); err != nil {
		s.log.Error("claim release failed", logx.String("reminder", j.Reminder.ID), logx.String("cycle", j.Cycle.ID), logx.Err(err))
	}
}

func (s *Service) publish(res Result) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(res)
}
