package dispatch

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"clanwatch/internal/reminder"
	"clanwatch/internal/transport"
)

func renderTestJob(msg string, recipients ...reminder.Member) Job {
	return Job{
		Reminder: reminder.Reminder{
			ID:      "r1",
			Channel: transport.ChannelRef{ChatID: -1},
			Family:  reminder.FamilyWar,
			Message: msg,
		},
		Cycle: reminder.Cycle{
			ID:     "war:#TAG:1",
			Family: reminder.FamilyWar,
			Group:  "#TAG",
			EndsAt: time.Now().Add(4 * time.Hour),
		},
		Recipients: recipients,
	}
}

func TestRenderJobDefaultTemplate(t *testing.T) {
	t.Parallel()
	j := renderTestJob("",
		reminder.Member{Tag: "#A", Name: "Alpha"},
		reminder.Member{Tag: "#B"},
	)

	got := renderJob(j)
	if !strings.Contains(got, "War for #TAG ends in") {
		t.Fatalf("unexpected render: %q", got)
	}
	if !strings.Contains(got, "Alpha, #B") {
		t.Fatalf("mentions missing or tag fallback broken: %q", got)
	}
}

func TestRenderJobCustomTemplate(t *testing.T) {
	t.Parallel()
	j := renderTestJob("hey {mentions}: {event} closing, {ends_in} left", reminder.Member{Name: "Alpha"})

	got := renderJob(j)
	if !strings.HasPrefix(got, "hey Alpha: War closing,") {
		t.Fatalf("unexpected render: %q", got)
	}
	if strings.Contains(got, "{") {
		t.Fatalf("unreplaced placeholder in %q", got)
	}
}

func TestRenderBatchSplitsOnJobBoundaries(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 60)
	jobs := []Job{renderTestJob(long), renderTestJob(long), renderTestJob(long)}

	segs := renderBatch(jobs, 130)
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	// Two jobs fit in the first segment, one overflows into the second.
	if got := strings.Count(segs[0].text, long); got != 2 {
		t.Fatalf("first segment holds %d jobs, want 2", got)
	}
	if got := strings.Count(segs[1].text, long); got != 1 {
		t.Fatalf("second segment holds %d jobs, want 1", got)
	}
	if len(segs[0].jobs) != 2 || len(segs[1].jobs) != 1 {
		t.Fatalf("job attribution %d/%d, want 2/1", len(segs[0].jobs), len(segs[1].jobs))
	}
}

func TestRenderBatchTruncatesOversizedJob(t *testing.T) {
	t.Parallel()
	jobs := []Job{renderTestJob(strings.Repeat("y", 500))}
	segs := renderBatch(jobs, 100)
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if len(segs[0].text) > 100 {
		t.Fatalf("segment length %d exceeds limit", len(segs[0].text))
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	t.Parallel()
	// "héllo wörld" style names: cutting inside é or ö must not happen.
	s := strings.Repeat("ö", 50) // 100 bytes
	for limit := 1; limit < 100; limit++ {
		got := truncate(s, limit)
		if len(got) > limit {
			t.Fatalf("limit %d: got %d bytes", limit, len(got))
		}
		if !utf8.ValidString(got) {
			t.Fatalf("limit %d: invalid UTF-8 %q", limit, got)
		}
	}
	if got := truncate("short", 100); got != "short" {
		t.Fatalf("under-limit string changed: %q", got)
	}
}

func TestHumanDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 4*time.Hour + 5*time.Minute, want: "4h 5m"},
		{in: 2 * time.Hour, want: "2h"},
		{in: 35 * time.Minute, want: "35m"},
		{in: 20 * time.Second, want: "0m"},
		{in: -time.Hour, want: "0m"},
	}
	for _, tt := range tests {
		if got := humanDuration(tt.in); got != tt.want {
			t.Fatalf("humanDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: 500 * time.Millisecond}
	err := ErrQueueFull // any non-rate-limited error

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 2, want: 200 * time.Millisecond},
		{attempt: 3, want: 400 * time.Millisecond},
		{attempt: 4, want: 500 * time.Millisecond}, // capped
		{attempt: 10, want: 500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := backoffDelay(cfg, tt.attempt, err, nil); got != tt.want {
			t.Fatalf("attempt %d: delay = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffDelayHonorsRetryAfterHint(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: 10 * time.Second}

	hinted := &transport.RateLimitedError{After: 3 * time.Second}
	if got := backoffDelay(cfg, 1, hinted, nil); got != 3*time.Second {
		t.Fatalf("delay = %v, want the platform's 3s hint", got)
	}

	// An absurd hint is still capped.
	hinted = &transport.RateLimitedError{After: time.Hour}
	if got := backoffDelay(cfg, 1, hinted, nil); got != 10*time.Second {
		t.Fatalf("delay = %v, want cap", got)
	}
}
