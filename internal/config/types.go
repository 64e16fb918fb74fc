package config

import "strings"

// Config is the on-disk configuration (JSON or YAML). Secrets may be left
// out of the file and supplied through the environment; see ApplyEnv.
//
// All durations are Go duration strings ("30s", "2h").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Hosting   HostingConfig   `json:"hosting"`
	Uploader  UploaderConfig  `json:"uploader"`
	Poster    PosterConfig    `json:"poster"`
	Scheduler SchedulerConfig `json:"scheduler"`
	HTTP      HTTPConfig      `json:"http"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// APIURL points at a self-hosted Bot API server for files over 20 MB.
	APIURL       string  `json:"api_url,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// StorageChannelID is a channel whose posts are queued like owner uploads.
	StorageChannelID int64 `json:"storage_channel_id,omitempty"`
	// MainChannelID receives the published posts.
	MainChannelID int64 `json:"main_channel_id"`
	// LogChatID receives warn+ log lines when logging.telegram is enabled.
	LogChatID   int64  `json:"log_chat_id,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the queue store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/lulubot.db" }
type StorageConfig struct {
	Driver       string `json:"driver"` // sqlite | postgres | memory
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

type HostingConfig struct {
	APIBase      string `json:"api_base,omitempty"`
	APIKey       string `json:"api_key"`
	UploadServer string `json:"upload_server,omitempty"`
	WatchBase    string `json:"watch_base,omitempty"`

	FolderID   int    `json:"folder_id"`
	CategoryID int    `json:"category_id"`
	Tags       string `json:"tags"`
	// Public and Adult are pointers so an explicit 0 survives defaults.
	Public *int `json:"public,omitempty"`
	Adult  *int `json:"adult,omitempty"`

	UploadTimeout    string `json:"upload_timeout,omitempty"`
	RequestTimeout   string `json:"request_timeout,omitempty"`
	URLUploadTimeout string `json:"url_upload_timeout,omitempty"`
	DownloadTimeout  string `json:"download_timeout,omitempty"`
	TempDir          string `json:"temp_dir,omitempty"`
}

type UploaderConfig struct {
	AutoStart  bool   `json:"auto_start"`
	MaxRetries int    `json:"max_retries"`
	IdleWait   string `json:"idle_wait,omitempty"`
	ErrorWait  string `json:"error_wait,omitempty"`
	Heartbeat  string `json:"heartbeat,omitempty"`
	StaleAfter string `json:"stale_after,omitempty"`
	// SweepSchedule requeues stale claims periodically ("off" disables).
	SweepSchedule string `json:"sweep_schedule,omitempty"`
}

type PosterConfig struct {
	AutoStart bool `json:"auto_start"`
	BatchSize int  `json:"batch_size"`
	// Schedule accepts cron, "60m" or "HH:MM" interval forms.
	Schedule     string `json:"schedule"`
	SendDelay    string `json:"send_delay,omitempty"`
	BatchTimeout string `json:"batch_timeout,omitempty"`

	ChannelTitle string `json:"channel_title,omitempty"`
	CaptionText  string `json:"caption_text,omitempty"`
	ButtonText   string `json:"button_text,omitempty"`
}

type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`
}

// HTTPConfig configures the ops server, which serves / and /health unless
// disabled.
type HTTPConfig struct {
	Disabled bool   `json:"disabled,omitempty"`
	Addr     string `json:"addr"`
	Metrics  bool   `json:"metrics"`
	// Pprof mounts /debug under the ops server. Keep addr on loopback.
	Pprof bool `json:"pprof,omitempty"`
}

// Defaults fills unset fields. It never overrides explicit values.
func (c *Config) Defaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Hosting.FolderID == 0 {
		c.Hosting.FolderID = 25
	}
	if c.Hosting.CategoryID == 0 {
		c.Hosting.CategoryID = 5
	}
	if c.Hosting.Tags == "" {
		c.Hosting.Tags = "Promo, High quality"
	}
	if c.Hosting.Public == nil {
		c.Hosting.Public = intPtr(1)
	}
	if c.Hosting.Adult == nil {
		c.Hosting.Adult = intPtr(1)
	}
	if c.Uploader.MaxRetries == 0 {
		c.Uploader.MaxRetries = 3
	}
	if c.Poster.BatchSize == 0 {
		c.Poster.BatchSize = 10
	}
	if c.Poster.Schedule == "" {
		c.Poster.Schedule = "60m"
	}
	if c.Uploader.SweepSchedule == "" {
		c.Uploader.SweepSchedule = "15m"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8000"
	}
}

func intPtr(v int) *int { return &v }

// ScheduleOff reports whether a schedule field disables its job.
func ScheduleOff(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "none", "disabled":
		return true
	}
	return false
}
