package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"clanwatch/internal/eventbus"
	"clanwatch/internal/reminder"
	"clanwatch/internal/transport"
	logx "clanwatch/pkg/logx"
)

type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// RatePerSec is the global outbound limit; PerChannelPerMin additionally
	// caps each destination so one busy guild can't starve the rest.
	RatePerSec       int
	PerChannelPerMin int

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%

	// MaxMessageLen splits oversized channel batches. Telegram caps message
	// text at 4096 chars; keep headroom for formatting.
	MaxMessageLen int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.PerChannelPerMin <= 0 {
		c.PerChannelPerMin = 20
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	} else if c.RetryMax == 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	if c.MaxMessageLen <= 0 {
		c.MaxMessageLen = 4000
	}
	return c
}

// Job is one qualifying (reminder, cycle, recipients) triple handed over by
// the scheduler after its ledger claim succeeded.
type Job struct {
	Reminder   reminder.Reminder
	Cycle      reminder.Cycle
	Recipients []reminder.Member
}

// Ledger is the slice of the dispatch ledger this package needs: committing
// claims after delivery and releasing them after terminal transient failure.
type Ledger interface {
	Commit(ctx context.Context, reminderID, cycleID string, at time.Time) error
	Release(ctx context.Context, reminderID, cycleID string) error
}

// Outcome is the terminal state of one job.
type Outcome string

const (
	OutcomeDelivered  Outcome = "delivered"
	OutcomeDenied     Outcome = "permission_denied"
	OutcomeRolledBack Outcome = "rolled_back"
)

// Result is published on the event bus per job.
type Result struct {
	ReminderID string
	CycleID    string
	Channel    transport.ChannelRef
	Outcome    Outcome
	Attempts   int
	Err        string
}

// Topic implements eventbus.Event.
func (r Result) Topic() string { return "dispatch." + string(r.Outcome) }

// batch groups jobs aimed at the same channel within one tick, so they go
// out in as few platform calls as possible.
type batch struct {
	channel transport.ChannelRef
	jobs    []Job
}

// Counters is a snapshot of delivery totals since process start.
type Counters struct {
	Delivered  uint64
	Denied     uint64
	RolledBack uint64
}

type Service struct {
	mu sync.Mutex

	cfg       Config
	messenger transport.Messenger
	ledger    Ledger
	bus       eventbus.Bus
	log       logx.Logger

	global *rate.Limiter

	chanMu   sync.Mutex
	chanLims map[transport.ChannelRef]*rate.Limiter

	queue    chan batch
	stopCh   chan struct{}
	runCtx   context.Context
	runStop  context.CancelFunc
	workerWG sync.WaitGroup

	delivered  atomic.Uint64
	denied     atomic.Uint64
	rolledBack atomic.Uint64
}
