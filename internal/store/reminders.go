package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"clanwatch/internal/reminder"
)

// filtersDoc is the persisted form of the family filter variant. Only the
// fields valid for the row's family are ever set.
type filtersDoc struct {
	Roles     []reminder.Role `json:"roles,omitempty"`
	Remaining []int           `json:"remaining,omitempty"`
	MinPoints *int            `json:"min_points,omitempty"`
}

const reminderCols = `id, guild_id, chat_id, thread_id, family, groups_json,
	lead_time_ms, scope, filters_json, message, next_fire_at, created_at, updated_at`

// SaveReminder inserts or updates one reminder. Callers validate first
// (reminder.Validate); the store does not re-check the lead-time invariant.
func (s *Store) SaveReminder(ctx context.Context, r reminder.Reminder) error {
	groups, err := json.Marshal(r.Groups)
	if err != nil {
		return err
	}
	filters, err := json.Marshal(filtersFor(r))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reminders (`+reminderCols+`)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   guild_id=excluded.guild_id, chat_id=excluded.chat_id, thread_id=excluded.thread_id,
		   family=excluded.family, groups_json=excluded.groups_json,
		   lead_time_ms=excluded.lead_time_ms, scope=excluded.scope,
		   filters_json=excluded.filters_json, message=excluded.message,
		   next_fire_at=excluded.next_fire_at, updated_at=excluded.updated_at`,
		r.ID, r.GuildID, r.Channel.ChatID, r.Channel.ThreadID, string(r.Family), string(groups),
		r.LeadTime.Milliseconds(), string(r.Scope), string(filters), r.Message,
		unixMilliOrZero(r.NextFireAt), r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) GetReminder(ctx context.Context, id string) (reminder.Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderCols+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Reminder{}, ErrNotFound
	}
	return r, err
}

func (s *Store) DeleteReminder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReminders returns a guild's reminders, optionally restricted to one family.
func (s *Store) ListReminders(ctx context.Context, guildID int64, family reminder.EventFamily) ([]reminder.Reminder, error) {
	q := `SELECT ` + reminderCols + ` FROM reminders WHERE guild_id = ?`
	args := []any{guildID}
	if family != "" {
		q += ` AND family = ?`
		args = append(args, string(family))
	}
	q += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

// FindDueCandidates returns reminders whose next fire instant falls at or
// before the horizon, ordered soonest-first so shorter-notice reminders never
// jump the queue. The (family, next_fire_at) index keeps this sub-linear as
// reminder counts grow.
func (s *Store) FindDueCandidates(ctx context.Context, horizon time.Time) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders
		 WHERE next_fire_at > 0 AND next_fire_at <= ?
		 ORDER BY next_fire_at`,
		horizon.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

// UpdateNextFire moves a reminder's due index entry, typically after its
// current cycle closed.
func (s *Store) UpdateNextFire(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET next_fire_at = ?, updated_at = ? WHERE id = ?`,
		unixMilliOrZero(at), time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	return err
}

func filtersFor(r reminder.Reminder) filtersDoc {
	switch {
	case r.War != nil:
		return filtersDoc{Roles: r.War.Roles, Remaining: r.War.RemainingAttacks}
	case r.Raid != nil:
		return filtersDoc{Roles: r.Raid.Roles, Remaining: r.Raid.RemainingHits}
	case r.Points != nil:
		return filtersDoc{Roles: r.Points.Roles, MinPoints: r.Points.MinPoints}
	}
	return filtersDoc{}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (reminder.Reminder, error) {
	var (
		r                    reminder.Reminder
		family, scope        string
		groupsJSON, fJSON    string
		leadMS, fireMS       int64
		createdAt, updatedAt string
	)
	err := row.Scan(&r.ID, &r.GuildID, &r.Channel.ChatID, &r.Channel.ThreadID, &family, &groupsJSON,
		&leadMS, &scope, &fJSON, &r.Message, &fireMS, &createdAt, &updatedAt)
	if err != nil {
		return reminder.Reminder{}, err
	}

	r.Family = reminder.EventFamily(family)
	r.Scope = reminder.Scope(scope)
	r.LeadTime = time.Duration(leadMS) * time.Millisecond
	if fireMS > 0 {
		r.NextFireAt = time.UnixMilli(fireMS).UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		r.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		r.UpdatedAt = t
	}
	if err := json.Unmarshal([]byte(groupsJSON), &r.Groups); err != nil {
		return reminder.Reminder{}, err
	}

	var doc filtersDoc
	if err := json.Unmarshal([]byte(fJSON), &doc); err != nil {
		return reminder.Reminder{}, err
	}
	switch r.Family {
	case reminder.FamilyWar:
		r.War = &reminder.WarFilters{Roles: doc.Roles, RemainingAttacks: doc.Remaining}
	case reminder.FamilyRaid:
		r.Raid = &reminder.RaidFilters{Roles: doc.Roles, RemainingHits: doc.Remaining}
	case reminder.FamilyPoints:
		r.Points = &reminder.PointsFilters{Roles: doc.Roles, MinPoints: doc.MinPoints}
	}

	return r, nil
}

func collectReminders(rows *sql.Rows) ([]reminder.Reminder, error) {
	var out []reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
