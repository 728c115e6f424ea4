package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"clanwatch/internal/eventbus"
	logx "clanwatch/pkg/logx"
)

// Service is the single tick loop driving all three event families through
// one pipeline, so batching, failure isolation, and backoff exist exactly
// once instead of per feature.
type Service struct {
	mu sync.Mutex

	cfg        Config
	store      Store
	ledger     Ledger
	resolver   Resolver
	dispatcher Dispatcher
	bus        eventbus.Bus
	log        logx.Logger

	c      *cron.Cron
	stopCh chan struct{}
	runCtx context.Context

	// tickBusy guards against a slow tick overlapping the next trigger.
	tickBusy atomic.Bool

	// suppressed remembers terminal (reminder, cycle) pairs so settled pairs
	// are not re-resolved every tick. Per-process only; the ledger stays the
	// cross-process authority.
	supMu      sync.Mutex
	suppressed map[pairKey]time.Time

	hmu     sync.Mutex
	history []TickStats

	now func() time.Time
}

func New(cfg Config, store Store, ledger Ledger, resolver Resolver, dispatcher Dispatcher, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:        cfg.withDefaults(),
		store:      store,
		ledger:     ledger,
		resolver:   resolver,
		dispatcher: dispatcher,
		bus:        bus,
		log:        log,
		suppressed: map[pairKey]time.Time{},
		now:        time.Now,
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config at runtime. A changed tick or sweep interval
// restarts the cron entries; a mid-tick Apply is observed by the next tick,
// never by the one in flight (each tick snapshots its config up front).
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	restart := s.c != nil &&
		(cfg.TickInterval != s.cfg.TickInterval || cfg.SweepInterval != s.cfg.SweepInterval)
	s.cfg = cfg
	if restart {
		s.restartCronLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.runCtx = ctx

	s.c = cron.New()
	s.registerEntriesLocked()
	s.c.Start()
	s.log.Info("scheduler started",
		logx.Duration("tick", s.cfg.TickInterval),
		logx.Duration("lookahead_margin", s.cfg.LookaheadMargin),
		logx.Int("resolve_workers", s.cfg.ResolveWorkers))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) registerEntriesLocked() {
	tickSpec := fmt.Sprintf("@every %s", s.cfg.TickInterval)
	sweepSpec := fmt.Sprintf("@every %s", s.cfg.SweepInterval)

	_, _ = s.c.AddFunc(tickSpec, s.tickTrigger)
	_, _ = s.c.AddFunc(sweepSpec, s.sweepTrigger)
	// Prune once a night; timing is uncritical.
	_, _ = s.c.AddFunc("15 4 * * *", s.pruneTrigger)
}

func (s *Service) restartCronLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.c = cron.New()
	s.registerEntriesLocked()
	s.c.Start()
	s.log.Info("scheduler restarted", logx.Duration("tick", s.cfg.TickInterval))
}

func (s *Service) tickTrigger() {
	if !s.tickBusy.CompareAndSwap(false, true) {
		s.log.Warn("tick still running, skipping trigger")
		return
	}
	defer s.tickBusy.Store(false)

	s.mu.Lock()
	ctx := s.runCtx
	interval := s.cfg.TickInterval
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	// A tick must not outlive its slot by much; everything it defers is
	// retried by the next tick anyway.
	tctx, cancel := context.WithTimeout(ctx, 2*interval)
	defer cancel()
	s.tick(tctx)
}

func (s *Service) sweepTrigger() {
	s.mu.Lock()
	ctx := s.runCtx
	grace := s.cfg.SweepGrace
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if _, err := s.ledger.SweepAbandoned(sctx, s.now().Add(-grace)); err != nil {
		s.log.Error("abandoned claim sweep failed", logx.Err(err))
	}
}

func (s *Service) pruneTrigger() {
	s.mu.Lock()
	ctx := s.runCtx
	after := s.cfg.PruneAfter
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	n, err := s.ledger.PruneDispatched(pctx, s.now().Add(-after))
	if err != nil {
		s.log.Error("dispatch record prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("dispatch records pruned", logx.Int64("count", n))
	}

	s.pruneSuppressed(s.now().Add(-after))
}

func (s *Service) markSuppressed(k pairKey) {
	s.supMu.Lock()
	s.suppressed[k] = s.now()
	s.supMu.Unlock()
}

func (s *Service) isSuppressed(k pairKey) bool {
	s.supMu.Lock()
	_, ok := s.suppressed[k]
	s.supMu.Unlock()
	return ok
}

func (s *Service) pruneSuppressed(before time.Time) {
	s.supMu.Lock()
	for k, at := range s.suppressed {
		if at.Before(before) {
			delete(s.suppressed, k)
		}
	}
	s.supMu.Unlock()
}
