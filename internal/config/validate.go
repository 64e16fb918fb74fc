package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"lulubot/internal/task/scheduler"
)

// Validate reports every problem found, not just the first.
func Validate(c *Config) error {
	var result *multierror.Error
	add := func(err error) {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add(errors.New("telegram.token is required (or BOT_TOKEN)"))
	}
	if strings.TrimSpace(c.Hosting.APIKey) == "" {
		add(errors.New("hosting.api_key is required (or LULUSTREAM_API_KEY)"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "memory", "mem":
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add(errors.New("storage.dsn is required for postgres (or DATABASE_URL)"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	durations := map[string]string{
		"telegram.poll_timeout":      c.Telegram.PollTimeout,
		"storage.busy_timeout":       c.Storage.BusyTimeout,
		"hosting.upload_timeout":     c.Hosting.UploadTimeout,
		"hosting.request_timeout":    c.Hosting.RequestTimeout,
		"hosting.url_upload_timeout": c.Hosting.URLUploadTimeout,
		"hosting.download_timeout":   c.Hosting.DownloadTimeout,
		"uploader.idle_wait":         c.Uploader.IdleWait,
		"uploader.error_wait":        c.Uploader.ErrorWait,
		"uploader.heartbeat":         c.Uploader.Heartbeat,
		"uploader.stale_after":       c.Uploader.StaleAfter,
		"poster.send_delay":          c.Poster.SendDelay,
		"poster.batch_timeout":       c.Poster.BatchTimeout,
	}
	for path, raw := range durations {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if c.Uploader.MaxRetries < 0 {
		add(errors.New("uploader.max_retries must be >= 0"))
	}
	if c.Poster.BatchSize < 0 {
		add(errors.New("poster.batch_size must be >= 0"))
	}
	if strings.TrimSpace(c.Poster.Schedule) != "" {
		if _, err := scheduler.ParseSchedule(c.Poster.Schedule); err != nil {
			add(fmt.Errorf("poster.schedule: %w", err))
		}
	}
	if !ScheduleOff(c.Uploader.SweepSchedule) {
		if _, err := scheduler.ParseSchedule(c.Uploader.SweepSchedule); err != nil {
			add(fmt.Errorf("uploader.sweep_schedule: %w", err))
		}
	}
	if c.Logging.Telegram.Enabled && c.Telegram.LogChatID == 0 {
		add(errors.New("logging.telegram needs telegram.log_chat_id"))
	}

	if result == nil {
		return nil
	}
	result.ErrorFormat = func(es []error) string {
		parts := make([]string, 0, len(es))
		for _, e := range es {
			parts = append(parts, e.Error())
		}
		return "invalid config: " + strings.Join(parts, "; ")
	}
	return result
}
