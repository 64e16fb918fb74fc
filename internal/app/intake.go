package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"

	"lulubot/internal/hosting"
	"lulubot/internal/queue"
	kit "lulubot/internal/transport"
	"lulubot/internal/transport/telegram/router"
	logx "lulubot/pkg/logx"
)

// intake queues videos and links sent by owners or posted in the storage
// channel. Everything else is ignored.
func (a *App) intake(ctx context.Context, req *router.Request) error {
	msg := req.Message
	if msg == nil {
		return nil
	}
	fromStorage := msg.IsChannel && msg.ChatID != 0 && msg.ChatID == a.storageChannel.Load()
	if !req.Owner && !fromStorage {
		return nil
	}

	item, ok := itemFromMessage(msg)
	if !ok {
		if req.Owner && !msg.IsGroup && !msg.IsChannel {
			return req.Reply(ctx, "Send a video, a video document or a link to queue it.")
		}
		return nil
	}

	source := "file"
	switch {
	case fromStorage:
		source = "channel"
	case item.FileID == "":
		source = "url"
	}
	id, err := a.enqueue(ctx, item, source)
	if err != nil {
		if fromStorage {
			return err
		}
		return replyErr(ctx, req, "Failed to add video to queue", err)
	}
	if fromStorage {
		return nil
	}

	var b strings.Builder
	b.WriteString("✅ Video added to queue!\n\n")
	fmt.Fprintf(&b, "📝 File: %s\n", item.FileName)
	if item.FileSize > 0 {
		fmt.Fprintf(&b, "💾 Size: %s\n", humanize.IBytes(uint64(item.FileSize)))
	}
	if item.FileURL != "" && item.FileID == "" {
		fmt.Fprintf(&b, "🔗 URL: %s\n", item.FileURL)
	}
	fmt.Fprintf(&b, "🆔 Queue ID: %s", id)
	b.WriteString(a.workerHint())
	return req.Reply(ctx, b.String())
}

func (a *App) enqueue(ctx context.Context, item queue.NewItem, source string) (string, error) {
	id, err := a.store.Enqueue(ctx, item)
	if err != nil {
		return "", err
	}
	a.metrics.IncEnqueued(source)
	a.log.Info("queued",
		logx.String("id", id),
		logx.String("source", source),
		logx.String("file", item.FileName),
		logx.Int64("chat_id", item.SourceChatID),
	)
	return id, nil
}

// itemFromMessage maps a video upload or a link message to a queue entry.
// The caption (or the lines after the link) supply title and description.
func itemFromMessage(msg *kit.Message) (queue.NewItem, bool) {
	if f := msg.File; f != nil {
		if !f.IsVideo || strings.TrimSpace(f.ID) == "" {
			return queue.NewItem{}, false
		}
		title, desc := splitFirstLine(msg.Caption)
		name := strings.TrimSpace(f.Name)
		if name == "" {
			name = fallbackName(msg.ID)
		}
		return queue.NewItem{
			FileID:          f.ID,
			FileName:        name,
			FileSize:        f.Size,
			Title:           title,
			Description:     desc,
			ThumbnailFileID: f.ThumbID,
			SourceChatID:    msg.ChatID,
			SourceMessageID: msg.ID,
		}, true
	}

	link, rest := splitFirstLine(msg.Text)
	if !validURL(link) {
		return queue.NewItem{}, false
	}
	title, desc := splitFirstLine(rest)
	return queue.NewItem{
		FileURL:         link,
		FileName:        hosting.FileNameFromURL(link, fallbackName(msg.ID)),
		Title:           title,
		Description:     desc,
		SourceChatID:    msg.ChatID,
		SourceMessageID: msg.ID,
	}, true
}

func splitFirstLine(s string) (first, rest string) {
	s = strings.TrimSpace(s)
	first, rest, _ = strings.Cut(s, "\n")
	return strings.TrimSpace(first), strings.TrimSpace(rest)
}

func validURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, " \t") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func fallbackName(msgID int) string {
	return fmt.Sprintf("video_%d.mp4", msgID)
}
