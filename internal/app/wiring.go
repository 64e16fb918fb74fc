package app

import (
	"time"

	"lulubot/internal/config"
	"lulubot/internal/hosting"
	"lulubot/internal/ops"
	"lulubot/internal/poster"
	"lulubot/internal/storage"
	"lulubot/internal/transport"
	telegram "lulubot/internal/transport/telegram/adapter"
	"lulubot/internal/uploader"
	logx "lulubot/pkg/logx"
)

// The mappers below run after config.Validate, so duration fields are known
// to parse and config.Duration only supplies defaults.

func adapterConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		APIURL:      cfg.Telegram.APIURL,
		PollTimeout: config.Duration(cfg.Telegram.PollTimeout, 10*time.Second),
	}
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func storageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:       cfg.Storage.Driver,
		Path:         cfg.Storage.Path,
		DSN:          cfg.Storage.DSN,
		BusyTimeout:  config.Duration(cfg.Storage.BusyTimeout, 0),
		MaxOpenConns: cfg.Storage.MaxOpenConns,
	}
}

func hostingConfig(cfg *config.Config) hosting.Config {
	h := cfg.Hosting
	out := hosting.Config{
		APIBase:          h.APIBase,
		APIKey:           h.APIKey,
		UploadServer:     h.UploadServer,
		WatchBase:        h.WatchBase,
		FolderID:         h.FolderID,
		CategoryID:       h.CategoryID,
		Tags:             h.Tags,
		Public:           1,
		Adult:            1,
		UploadTimeout:    config.Duration(h.UploadTimeout, 0),
		RequestTimeout:   config.Duration(h.RequestTimeout, 0),
		URLUploadTimeout: config.Duration(h.URLUploadTimeout, 0),
		DownloadTimeout:  config.Duration(h.DownloadTimeout, 0),
		TempDir:          h.TempDir,
	}
	if h.Public != nil {
		out.Public = *h.Public
	}
	if h.Adult != nil {
		out.Adult = *h.Adult
	}
	return out
}

func uploaderConfig(cfg *config.Config) uploader.Config {
	u := cfg.Uploader
	return uploader.Config{
		MaxRetries: u.MaxRetries,
		IdleWait:   config.Duration(u.IdleWait, 0),
		ErrorWait:  config.Duration(u.ErrorWait, 0),
		Heartbeat:  config.Duration(u.Heartbeat, 0),
		StaleAfter: config.Duration(u.StaleAfter, 0),
		TempDir:    cfg.Hosting.TempDir,
	}
}

func posterConfig(cfg *config.Config) poster.Config {
	p := cfg.Poster
	return poster.Config{
		BatchSize:    p.BatchSize,
		Schedule:     p.Schedule,
		SendDelay:    config.Duration(p.SendDelay, 0),
		BatchTimeout: config.Duration(p.BatchTimeout, 0),
	}
}

func publishTarget(cfg *config.Config) transport.ChatTarget {
	return transport.ChatTarget{ChatID: cfg.Telegram.MainChannelID}
}

func messageConfig(cfg *config.Config) poster.MessageConfig {
	return poster.MessageConfig{
		ChannelTitle: cfg.Poster.ChannelTitle,
		CaptionText:  cfg.Poster.CaptionText,
		ButtonText:   cfg.Poster.ButtonText,
	}
}

func opsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Addr:    cfg.HTTP.Addr,
		Metrics: cfg.HTTP.Metrics,
		Pprof:   cfg.HTTP.Pprof,
	}
}
