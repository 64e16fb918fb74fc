package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Existing variables win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides config fields from the environment:
//
//	BOT_TOKEN           telegram.token
//	LULUSTREAM_API_KEY  hosting.api_key
//	DATABASE_URL        storage.dsn (driver becomes postgres when unset)
//	STORAGE_CHANNEL_ID  telegram.storage_channel_id
//	MAIN_CHANNEL_ID     telegram.main_channel_id
//	ADMIN_ID            added to telegram.owner_user_ids (comma separated)
//	HTTP_ADDR           http.addr
func ApplyEnv(c *Config, getenv func(string) string) error {
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }

	if v := get("BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := get("LULUSTREAM_API_KEY"); v != "" {
		c.Hosting.APIKey = v
	}
	if v := get("DATABASE_URL"); v != "" {
		c.Storage.DSN = v
		if c.Storage.Driver == "" {
			c.Storage.Driver = "postgres"
		}
	}
	if v := get("HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}

	var errs []error
	if v := get("STORAGE_CHANNEL_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("STORAGE_CHANNEL_ID: %w", err))
		}
		c.Telegram.StorageChannelID = id
	}
	if v := get("MAIN_CHANNEL_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAIN_CHANNEL_ID: %w", err))
		}
		c.Telegram.MainChannelID = id
	}
	if v := get("ADMIN_ID"); v != "" {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("ADMIN_ID: %w", err))
				continue
			}
			if !containsID(c.Telegram.OwnerUserIDs, id) {
				c.Telegram.OwnerUserIDs = append(c.Telegram.OwnerUserIDs, id)
			}
		}
	}
	return errors.Join(errs...)
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
