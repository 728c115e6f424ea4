package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	GameData  GameDataConfig  `json:"gamedata"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Dispatch  DispatchConfig  `json:"dispatch"`

	// Windows overrides the built-in event calendars. Omit for defaults.
	Windows *WindowsConfig `json:"windows,omitempty"`

	// Guilds maps guild id (as a string, JSON object keys) to per-guild
	// settings, most importantly the group tags the guild tracks.
	Guilds map[string]GuildConfig `json:"guilds"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OpsChatID receives forwarded WARN+ log lines when logging.ops is on.
	OpsChatID   int64 `json:"ops_chat_id,omitempty"`
	OpsThreadID int   `json:"ops_thread_id,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Ops     LoggingOps  `json:"ops"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingOps struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type GameDataConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
	// Timeout and CacheTTL are Go duration strings (e.g. "10s", "30s").
	Timeout  string `json:"timeout,omitempty"`
	CacheTTL string `json:"cache_ttl,omitempty"`
}

// SchedulerConfig controls the tick loop.
//
// All durations are Go duration strings. tick_interval is clamped to
// [1m, 5m]; lookahead_margin defaults to the tick interval.
type SchedulerConfig struct {
	Enabled         bool   `json:"enabled"`
	TickInterval    string `json:"tick_interval,omitempty"`
	LookaheadMargin string `json:"lookahead_margin,omitempty"`
	ResolveWorkers  int    `json:"resolve_workers,omitempty"`
	SweepInterval   string `json:"sweep_interval,omitempty"`
	SweepGrace      string `json:"sweep_grace,omitempty"`
	PruneAfter      string `json:"prune_after,omitempty"`
	HistorySize     int    `json:"history_size,omitempty"`
}

// DispatchConfig controls the delivery pipeline.
type DispatchConfig struct {
	Enabled          bool   `json:"enabled"`
	Workers          int    `json:"workers,omitempty"`
	QueueSize        int    `json:"queue_size,omitempty"`
	RatePerSec       int    `json:"rate_per_sec,omitempty"`
	PerChannelPerMin int    `json:"per_channel_per_min,omitempty"`
	RetryMax         int    `json:"retry_max,omitempty"`
	RetryBase        string `json:"retry_base,omitempty"`
	RetryMaxDelay    string `json:"retry_max_delay,omitempty"`
	MaxMessageLen    int    `json:"max_message_len,omitempty"`
}

type GuildConfig struct {
	// Groups are the in-game group tags this guild tracks. Reminders with no
	// explicit group list fan out over these.
	Groups []string `json:"groups"`
}

// WindowsConfig overrides the nominal event calendars.
type WindowsConfig struct {
	War    *WarWindowConfig    `json:"war,omitempty"`
	Raid   *RaidWindowConfig   `json:"raid,omitempty"`
	Points *PointsWindowConfig `json:"points,omitempty"`

	// Exceptions carve one-off irregular cycles out of the nominal calendar.
	Exceptions []ExceptionConfig `json:"exceptions,omitempty"`
}

type WarWindowConfig struct {
	// Anchor is an RFC 3339 instant any cycle boundary falls on.
	Anchor string `json:"anchor"`
	Length string `json:"length"` // Go duration string
}

type RaidWindowConfig struct {
	Weekday string `json:"weekday"` // "friday"
	Hour    int    `json:"hour"`    // UTC hour the window opens
	Length  string `json:"length"`
}

type PointsWindowConfig struct {
	Day    int    `json:"day"` // day of month, clamped to month length
	Hour   int    `json:"hour"`
	Length string `json:"length"`
}

type ExceptionConfig struct {
	Family   string `json:"family"`
	StartsAt string `json:"starts_at"` // RFC 3339
	EndsAt   string `json:"ends_at"`   // RFC 3339
}
