package config

import (
	"reflect"

	logx "lulubot/pkg/logx"
)

// SummarizeConfigChange lists changed sections with log fields describing
// the new values. Secrets are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	fields := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.APIURL != nt.APIURL || ot.PollTimeout != nt.PollTimeout ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		ot.StorageChannelID != nt.StorageChannelID || ot.MainChannelID != nt.MainChannelID || ot.LogChatID != nt.LogChatID {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Int64("telegram.main_channel_id", nt.MainChannelID),
			logx.Int64("telegram.storage_channel_id", nt.StorageChannelID),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	oh, nh := oldCfg.Hosting, newCfg.Hosting
	oh.APIKey, nh.APIKey = "", ""
	if !reflect.DeepEqual(oh, nh) || oldCfg.Hosting.APIKey != newCfg.Hosting.APIKey {
		changed = append(changed, "hosting")
		fields = append(fields, logx.Bool("hosting.api_key_changed", oldCfg.Hosting.APIKey != newCfg.Hosting.APIKey))
	}
	if !reflect.DeepEqual(oldCfg.Uploader, newCfg.Uploader) {
		changed = append(changed, "uploader")
		fields = append(fields, logx.Int("uploader.max_retries", newCfg.Uploader.MaxRetries))
	}
	if !reflect.DeepEqual(oldCfg.Poster, newCfg.Poster) {
		changed = append(changed, "poster")
		fields = append(fields,
			logx.String("poster.schedule", newCfg.Poster.Schedule),
			logx.Int("poster.batch_size", newCfg.Poster.BatchSize),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		fields = append(fields, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		fields = append(fields, logx.String("http.addr", newCfg.HTTP.Addr))
	}
	return changed, fields
}

// RestartRequired lists changed sections that only take effect on restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.APIURL != newCfg.Telegram.APIURL {
		out = append(out, "telegram.token")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		out = append(out, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Hosting, newCfg.Hosting) {
		out = append(out, "hosting")
	}
	if oldCfg.HTTP != newCfg.HTTP {
		out = append(out, "http")
	}
	return out
}
