package gamedata

import (
	"context"
	"errors"
	"testing"
	"time"

	"clanwatch/internal/reminder"
	logx "clanwatch/pkg/logx"
)

type stubClient struct {
	calls int
	cycle reminder.Cycle
	err   error
}

func (s *stubClient) ActiveCycle(_ context.Context, f reminder.EventFamily, g reminder.GroupRef) (reminder.Cycle, error) {
	s.calls++
	if s.err != nil {
		return reminder.Cycle{}, s.err
	}
	c := s.cycle
	c.Family = f
	c.Group = g
	return c, nil
}

func testCycle() reminder.Cycle {
	start := time.Date(2026, 2, 1, 7, 0, 0, 0, time.UTC)
	return reminder.Cycle{
		State:    reminder.CycleActive,
		StartsAt: start,
		EndsAt:   start.Add(48 * time.Hour),
	}
}

func TestResolveCachesHits(t *testing.T) {
	t.Parallel()
	client := &stubClient{cycle: testCycle()}
	r := NewResolver(client, ResolverConfig{TTL: 30 * time.Second}, logx.Nop())

	base := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	now := base
	r.now = func() time.Time { return now }

	c1, err := r.Resolve(context.Background(), reminder.FamilyWar, "#TAG")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if c1.ID == "" {
		t.Fatal("resolver did not derive a cycle id")
	}

	// Within TTL: served from cache.
	now = base.Add(10 * time.Second)
	c2, err := r.Resolve(context.Background(), reminder.FamilyWar, "#TAG")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("client called %d times, want 1", client.calls)
	}
	if c2.ID != c1.ID {
		t.Fatalf("cached cycle id %q differs from %q", c2.ID, c1.ID)
	}

	// Past TTL: refetched.
	now = base.Add(31 * time.Second)
	if _, err := r.Resolve(context.Background(), reminder.FamilyWar, "#TAG"); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("client called %d times, want 2", client.calls)
	}
}

func TestResolveCachesNoCycle(t *testing.T) {
	t.Parallel()
	client := &stubClient{err: ErrNoCycle}
	r := NewResolver(client, ResolverConfig{TTL: 30 * time.Second}, logx.Nop())

	now := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), reminder.FamilyRaid, "#TAG")
		if !errors.Is(err, ErrNoCycle) {
			t.Fatalf("err = %v, want ErrNoCycle", err)
		}
	}
	if client.calls != 1 {
		t.Fatalf("no-cycle answer not cached: %d calls", client.calls)
	}
}

func TestResolveNeverCachesUnavailability(t *testing.T) {
	t.Parallel()
	client := &stubClient{err: errors.Join(ErrUnavailable, errors.New("connection refused"))}
	r := NewResolver(client, ResolverConfig{TTL: 30 * time.Second}, logx.Nop())

	now := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), reminder.FamilyWar, "#TAG")
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("err = %v, want ErrUnavailable", err)
		}
		if errors.Is(err, ErrNoCycle) {
			t.Fatal("unavailability must not look like absence")
		}
	}
	if client.calls != 3 {
		t.Fatalf("unavailability was cached: %d calls, want 3", client.calls)
	}
}

func TestResolveWrapsUnclassifiedErrors(t *testing.T) {
	t.Parallel()
	cause := errors.New("unexpected payload")
	client := &stubClient{err: cause}
	r := NewResolver(client, ResolverConfig{}, logx.Nop())

	_, err := r.Resolve(context.Background(), reminder.FamilyPoints, "#TAG")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want wrapped ErrUnavailable", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("original cause lost in wrapping")
	}
}

func TestResolveKeysByFamilyAndGroup(t *testing.T) {
	t.Parallel()
	client := &stubClient{cycle: testCycle()}
	r := NewResolver(client, ResolverConfig{TTL: time.Minute}, logx.Nop())

	now := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	pairs := []struct {
		f reminder.EventFamily
		g reminder.GroupRef
	}{
		{reminder.FamilyWar, "#A"},
		{reminder.FamilyRaid, "#A"},
		{reminder.FamilyWar, "#B"},
	}
	for _, p := range pairs {
		if _, err := r.Resolve(context.Background(), p.f, p.g); err != nil {
			t.Fatalf("Resolve(%s, %s) error: %v", p.f, p.g, err)
		}
	}
	if client.calls != len(pairs) {
		t.Fatalf("client called %d times, want %d distinct keys", client.calls, len(pairs))
	}
}
