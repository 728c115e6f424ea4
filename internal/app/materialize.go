package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"clanwatch/internal/config"
	"clanwatch/internal/dispatch"
	"clanwatch/internal/gamedata"
	"clanwatch/internal/reminder"
	"clanwatch/internal/scheduler"
	"clanwatch/internal/store"
	logx "clanwatch/pkg/logx"
)

// The config package stays a dumb file format; turning it into typed
// component configs (and rejecting bad values) happens here, once, so a bad
// hot reload is refused before anything applies it.

// durationField parses an optional Go duration string from the config file,
// naming the offending key on failure.
func durationField(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration", name)
	}
	return d, nil
}

func logxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Ops: logx.OpsConfig{
			Enabled:    cfg.Logging.Ops.Enabled,
			MinLevel:   cfg.Logging.Ops.MinLevel,
			RatePerSec: cfg.Logging.Ops.RatePerSec,
		},
	}
}

func storeConfig(cfg *config.Config) (store.Config, error) {
	busy, err := durationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func gamedataConfigs(cfg *config.Config) (gamedata.APIConfig, gamedata.ResolverConfig, error) {
	timeout, err := durationField("gamedata.timeout", cfg.GameData.Timeout)
	if err != nil {
		return gamedata.APIConfig{}, gamedata.ResolverConfig{}, err
	}
	ttl, err := durationField("gamedata.cache_ttl", cfg.GameData.CacheTTL)
	if err != nil {
		return gamedata.APIConfig{}, gamedata.ResolverConfig{}, err
	}
	api := gamedata.APIConfig{
		BaseURL: cfg.GameData.BaseURL,
		Token:   cfg.GameData.Token,
		Timeout: timeout,
	}
	return api, gamedata.ResolverConfig{TTL: ttl}, nil
}

func dispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	base, err := durationField("dispatch.retry_base", cfg.Dispatch.RetryBase)
	if err != nil {
		return dispatch.Config{}, err
	}
	maxDelay, err := durationField("dispatch.retry_max_delay", cfg.Dispatch.RetryMaxDelay)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Enabled:          cfg.Dispatch.Enabled,
		Workers:          cfg.Dispatch.Workers,
		QueueSize:        cfg.Dispatch.QueueSize,
		RatePerSec:       cfg.Dispatch.RatePerSec,
		PerChannelPerMin: cfg.Dispatch.PerChannelPerMin,
		RetryMax:         cfg.Dispatch.RetryMax,
		RetryBase:        base,
		RetryMaxDelay:    maxDelay,
		MaxMessageLen:    cfg.Dispatch.MaxMessageLen,
	}, nil
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tick, err := durationField("scheduler.tick_interval", cfg.Scheduler.TickInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	margin, err := durationField("scheduler.lookahead_margin", cfg.Scheduler.LookaheadMargin)
	if err != nil {
		return scheduler.Config{}, err
	}
	sweep, err := durationField("scheduler.sweep_interval", cfg.Scheduler.SweepInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	grace, err := durationField("scheduler.sweep_grace", cfg.Scheduler.SweepGrace)
	if err != nil {
		return scheduler.Config{}, err
	}
	prune, err := durationField("scheduler.prune_after", cfg.Scheduler.PruneAfter)
	if err != nil {
		return scheduler.Config{}, err
	}
	tracked, err := trackedGroups(cfg.Guilds)
	if err != nil {
		return scheduler.Config{}, err
	}
	windows, err := buildWindows(cfg.Windows)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:         cfg.Scheduler.Enabled,
		TickInterval:    tick,
		LookaheadMargin: margin,
		ResolveWorkers:  cfg.Scheduler.ResolveWorkers,
		SweepInterval:   sweep,
		SweepGrace:      grace,
		PruneAfter:      prune,
		HistorySize:     cfg.Scheduler.HistorySize,
		TrackedGroups:   tracked,
		Windows:         windows,
	}, nil
}

func trackedGroups(guilds map[string]config.GuildConfig) (map[int64][]reminder.GroupRef, error) {
	if len(guilds) == 0 {
		return nil, nil
	}
	out := make(map[int64][]reminder.GroupRef, len(guilds))
	for key, gc := range guilds {
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("guilds: invalid guild id %q", key)
		}
		refs := make([]reminder.GroupRef, 0, len(gc.Groups))
		for _, tag := range gc.Groups {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				return nil, fmt.Errorf("guilds.%s: empty group tag", key)
			}
			refs = append(refs, reminder.GroupRef(tag))
		}
		out[id] = refs
	}
	return out, nil
}

func buildWindows(wc *config.WindowsConfig) (reminder.Windows, error) {
	w := reminder.DefaultWindows()
	if wc == nil {
		return w, nil
	}

	if wc.War != nil {
		anchor, err := time.Parse(time.RFC3339, wc.War.Anchor)
		if err != nil {
			return w, fmt.Errorf("windows.war.anchor: %w", err)
		}
		length, err := durationField("windows.war.length", wc.War.Length)
		if err != nil {
			return w, err
		}
		if length <= 0 {
			return w, fmt.Errorf("windows.war.length: must be > 0")
		}
		w.War = reminder.WarWindow{Anchor: anchor.UTC(), Length: length}
	}

	if wc.Raid != nil {
		wd, err := parseWeekday(wc.Raid.Weekday)
		if err != nil {
			return w, fmt.Errorf("windows.raid.weekday: %w", err)
		}
		length, err := durationField("windows.raid.length", wc.Raid.Length)
		if err != nil {
			return w, err
		}
		if length <= 0 {
			return w, fmt.Errorf("windows.raid.length: must be > 0")
		}
		if wc.Raid.Hour < 0 || wc.Raid.Hour > 23 {
			return w, fmt.Errorf("windows.raid.hour: must be in [0,23]")
		}
		w.Raid = reminder.RaidWindow{Weekday: wd, Hour: wc.Raid.Hour, Length: length}
	}

	if wc.Points != nil {
		length, err := durationField("windows.points.length", wc.Points.Length)
		if err != nil {
			return w, err
		}
		if length <= 0 {
			return w, fmt.Errorf("windows.points.length: must be > 0")
		}
		if wc.Points.Day < 1 || wc.Points.Day > 31 {
			return w, fmt.Errorf("windows.points.day: must be in [1,31]")
		}
		if wc.Points.Hour < 0 || wc.Points.Hour > 23 {
			return w, fmt.Errorf("windows.points.hour: must be in [0,23]")
		}
		w.Points = reminder.PointsWindow{Day: wc.Points.Day, Hour: wc.Points.Hour, Length: length}
	}

	for i, ex := range wc.Exceptions {
		fam := reminder.EventFamily(strings.ToLower(strings.TrimSpace(ex.Family)))
		if !fam.Valid() {
			return w, fmt.Errorf("windows.exceptions[%d].family: unknown %q", i, ex.Family)
		}
		starts, err := time.Parse(time.RFC3339, ex.StartsAt)
		if err != nil {
			return w, fmt.Errorf("windows.exceptions[%d].starts_at: %w", i, err)
		}
		ends, err := time.Parse(time.RFC3339, ex.EndsAt)
		if err != nil {
			return w, fmt.Errorf("windows.exceptions[%d].ends_at: %w", i, err)
		}
		if !ends.After(starts) {
			return w, fmt.Errorf("windows.exceptions[%d]: ends_at must be after starts_at", i)
		}
		w.Exceptions = append(w.Exceptions, reminder.CalendarException{
			Family:   fam,
			StartsAt: starts.UTC(),
			EndsAt:   ends.UTC(),
		})
	}

	return w, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sunday", "sun":
		return time.Sunday, nil
	case "monday", "mon":
		return time.Monday, nil
	case "tuesday", "tue":
		return time.Tuesday, nil
	case "wednesday", "wed":
		return time.Wednesday, nil
	case "thursday", "thu":
		return time.Thursday, nil
	case "friday", "fri":
		return time.Friday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
