package storage

import (
	"database/sql"
	"strings"
	"time"

	"lulubot/internal/queue"
)

const (
	maxListLimit      = 500
	staleClaimMessage = "claim expired; requeued"
)

func clampLimit(n int) int {
	if n <= 0 || n > maxListLimit {
		return maxListLimit
	}
	return n
}

func statusStrings(in []queue.Status) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

type columnValue struct {
	col string
	val string
}

// updateColumns maps the non-empty fields of upd to their columns.
func updateColumns(upd queue.Update) []columnValue {
	var cols []columnValue
	set := func(col, v string) {
		if strings.TrimSpace(v) != "" {
			cols = append(cols, columnValue{col: col, val: v})
		}
	}
	set("remote_file_code", upd.RemoteFileCode)
	set("remote_url", upd.RemoteURL)
	set("remote_title", upd.RemoteTitle)
	set("remote_thumbnail", upd.RemoteThumbnail)
	set("error_message", upd.ErrorMessage)
	return cols
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}
