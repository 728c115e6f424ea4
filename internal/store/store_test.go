package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"clanwatch/internal/reminder"
	"clanwatch/internal/transport"
	logx "clanwatch/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "clanwatch.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleReminder(id string) reminder.Reminder {
	return reminder.Reminder{
		ID:         id,
		GuildID:    42,
		Channel:    transport.ChannelRef{ChatID: -100123, ThreadID: 7},
		Family:     reminder.FamilyWar,
		Groups:     []reminder.GroupRef{"#2PP0JCCL"},
		LeadTime:   4 * time.Hour,
		Scope:      reminder.ScopeParticipants,
		Message:    "{event} ends soon",
		War:        &reminder.WarFilters{Roles: []reminder.Role{reminder.RoleLeader}, RemainingAttacks: []int{1, 2}},
		NextFireAt: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC),
	}
}

func TestReminderRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	want := sampleReminder("r1")
	if err := s.SaveReminder(ctx, want); err != nil {
		t.Fatalf("SaveReminder error: %v", err)
	}

	got, err := s.GetReminder(ctx, "r1")
	if err != nil {
		t.Fatalf("GetReminder error: %v", err)
	}
	if got.GuildID != want.GuildID || got.Channel != want.Channel || got.Family != want.Family {
		t.Fatalf("core fields mangled: %+v", got)
	}
	if got.LeadTime != want.LeadTime {
		t.Fatalf("LeadTime = %v, want %v", got.LeadTime, want.LeadTime)
	}
	if !got.NextFireAt.Equal(want.NextFireAt) {
		t.Fatalf("NextFireAt = %v, want %v", got.NextFireAt, want.NextFireAt)
	}
	if got.War == nil || len(got.War.RemainingAttacks) != 2 || got.War.Roles[0] != reminder.RoleLeader {
		t.Fatalf("war filters mangled: %+v", got.War)
	}
	if got.Raid != nil || got.Points != nil {
		t.Fatal("foreign family filters materialized")
	}
	if len(got.Groups) != 1 || got.Groups[0] != "#2PP0JCCL" {
		t.Fatalf("groups mangled: %v", got.Groups)
	}
}

func TestReminderUpsertAndDelete(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	r := sampleReminder("r1")
	if err := s.SaveReminder(ctx, r); err != nil {
		t.Fatalf("SaveReminder error: %v", err)
	}
	r.Message = "updated"
	r.LeadTime = 90 * time.Minute
	if err := s.SaveReminder(ctx, r); err != nil {
		t.Fatalf("SaveReminder (update) error: %v", err)
	}

	got, err := s.GetReminder(ctx, "r1")
	if err != nil {
		t.Fatalf("GetReminder error: %v", err)
	}
	if got.Message != "updated" || got.LeadTime != 90*time.Minute {
		t.Fatalf("upsert did not apply: %+v", got)
	}

	if err := s.DeleteReminder(ctx, "r1"); err != nil {
		t.Fatalf("DeleteReminder error: %v", err)
	}
	if _, err := s.GetReminder(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteReminder(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestListRemindersByFamily(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	war := sampleReminder("war1")
	raid := sampleReminder("raid1")
	raid.Family = reminder.FamilyRaid
	raid.War = nil
	raid.Raid = &reminder.RaidFilters{RemainingHits: []int{5}}
	other := sampleReminder("other-guild")
	other.GuildID = 99

	for _, r := range []reminder.Reminder{war, raid, other} {
		if err := s.SaveReminder(ctx, r); err != nil {
			t.Fatalf("SaveReminder(%s) error: %v", r.ID, err)
		}
	}

	all, err := s.ListReminders(ctx, 42, "")
	if err != nil {
		t.Fatalf("ListReminders error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("listed %d reminders, want 2", len(all))
	}

	raids, err := s.ListReminders(ctx, 42, reminder.FamilyRaid)
	if err != nil {
		t.Fatalf("ListReminders(raid) error: %v", err)
	}
	if len(raids) != 1 || raids[0].ID != "raid1" {
		t.Fatalf("raid listing = %v", raids)
	}
	if raids[0].Raid == nil || len(raids[0].Raid.RemainingHits) != 1 {
		t.Fatalf("raid filters mangled: %+v", raids[0].Raid)
	}
}

func TestFindDueCandidatesOrdering(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	soon := sampleReminder("soon")
	soon.NextFireAt = base.Add(time.Minute)
	later := sampleReminder("later")
	later.NextFireAt = base.Add(3 * time.Minute)
	outside := sampleReminder("outside")
	outside.NextFireAt = base.Add(time.Hour)
	unscheduled := sampleReminder("unscheduled")
	unscheduled.NextFireAt = time.Time{}

	for _, r := range []reminder.Reminder{later, soon, outside, unscheduled} {
		if err := s.SaveReminder(ctx, r); err != nil {
			t.Fatalf("SaveReminder(%s) error: %v", r.ID, err)
		}
	}

	due, err := s.FindDueCandidates(ctx, base.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("FindDueCandidates error: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("found %d candidates, want 2", len(due))
	}
	if due[0].ID != "soon" || due[1].ID != "later" {
		t.Fatalf("order = [%s %s], want soonest first", due[0].ID, due[1].ID)
	}
}

func TestUpdateNextFire(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	r := sampleReminder("r1")
	if err := s.SaveReminder(ctx, r); err != nil {
		t.Fatalf("SaveReminder error: %v", err)
	}
	next := time.Date(2026, 3, 3, 20, 0, 0, 0, time.UTC)
	if err := s.UpdateNextFire(ctx, "r1", next); err != nil {
		t.Fatalf("UpdateNextFire error: %v", err)
	}
	got, err := s.GetReminder(ctx, "r1")
	if err != nil {
		t.Fatalf("GetReminder error: %v", err)
	}
	if !got.NextFireAt.Equal(next) {
		t.Fatalf("NextFireAt = %v, want %v", got.NextFireAt, next)
	}
}

func TestTryClaimIsExclusive(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := s.TryClaim(ctx, "r1", "war:#TAG:1", now)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = s.TryClaim(ctx, "r1", "war:#TAG:1", now)
	if err != nil {
		t.Fatalf("second claim error: %v", err)
	}
	if ok {
		t.Fatal("second claim on same pair succeeded")
	}

	// Different cycle or reminder is a different pair.
	if ok, err := s.TryClaim(ctx, "r1", "war:#TAG:2", now); err != nil || !ok {
		t.Fatalf("claim other cycle: ok=%v err=%v", ok, err)
	}
	if ok, err := s.TryClaim(ctx, "r2", "war:#TAG:1", now); err != nil || !ok {
		t.Fatalf("claim other reminder: ok=%v err=%v", ok, err)
	}
}

func TestTryClaimConcurrent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	now := time.Now().UTC()

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryClaim(context.Background(), "r1", "raid:#TAG:77", now)
			if err != nil {
				t.Errorf("TryClaim error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("%d racers won the claim, want exactly 1", wins)
	}
}

func TestReleaseReopensUncommittedClaim(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if ok, _ := s.TryClaim(ctx, "r1", "c1", now); !ok {
		t.Fatal("initial claim failed")
	}
	if err := s.Release(ctx, "r1", "c1"); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if ok, _ := s.TryClaim(ctx, "r1", "c1", now); !ok {
		t.Fatal("pair not claimable after release")
	}

	// A committed claim must survive Release.
	if err := s.Commit(ctx, "r1", "c1", now); err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if err := s.Release(ctx, "r1", "c1"); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if ok, _ := s.TryClaim(ctx, "r1", "c1", now); ok {
		t.Fatal("committed pair became claimable again")
	}
}

func TestSweepAbandonedSparesRecentAndCommitted(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Old uncommitted claim: swept.
	if ok, _ := s.TryClaim(ctx, "dead", "c1", now.Add(-time.Hour)); !ok {
		t.Fatal("claim failed")
	}
	// Recent uncommitted claim: kept.
	if ok, _ := s.TryClaim(ctx, "fresh", "c1", now.Add(-time.Minute)); !ok {
		t.Fatal("claim failed")
	}
	// Old committed claim: kept.
	if ok, _ := s.TryClaim(ctx, "done", "c1", now.Add(-time.Hour)); !ok {
		t.Fatal("claim failed")
	}
	if err := s.Commit(ctx, "done", "c1", now.Add(-time.Hour)); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	n, err := s.SweepAbandoned(ctx, now.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("SweepAbandoned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d claims, want 1", n)
	}

	if ok, _ := s.TryClaim(ctx, "dead", "c1", now); !ok {
		t.Fatal("swept pair not claimable again")
	}
	if ok, _ := s.TryClaim(ctx, "fresh", "c1", now); ok {
		t.Fatal("recent claim was swept")
	}
	if ok, _ := s.TryClaim(ctx, "done", "c1", now); ok {
		t.Fatal("committed claim was swept")
	}
}

func TestPruneDispatched(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if ok, _ := s.TryClaim(ctx, "old", "c1", now.Add(-30*24*time.Hour)); !ok {
		t.Fatal("claim failed")
	}
	if err := s.Commit(ctx, "old", "c1", now.Add(-30*24*time.Hour)); err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if ok, _ := s.TryClaim(ctx, "new", "c1", now); !ok {
		t.Fatal("claim failed")
	}
	if err := s.Commit(ctx, "new", "c1", now); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	n, err := s.PruneDispatched(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("PruneDispatched error: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d records, want 1", n)
	}
	if ok, _ := s.TryClaim(ctx, "new", "c1", now); ok {
		t.Fatal("recent committed record was pruned")
	}
}
