package poster

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"lulubot/internal/queue"
	"lulubot/internal/transport"
	logx "lulubot/pkg/logx"
	"lulubot/pkg/tgui"
)

// Sender is the outbound half of the messaging adapter.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	SendPhoto(ctx context.Context, to transport.ChatTarget, photo string, caption string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type MessageConfig struct {
	ChannelTitle string
	CaptionText  string
	ButtonText   string
}

const (
	defaultButtonText = "▶️ Watch Now"
	maxCaptionRunes   = 1024
)

// ChannelPublisher posts one item as a photo with caption when a thumbnail
// is known, and as a text message otherwise or when the photo send fails.
type ChannelPublisher struct {
	sender Sender
	log    logx.Logger

	mu     sync.RWMutex
	target transport.ChatTarget
	msg    MessageConfig
}

func NewChannelPublisher(sender Sender, target transport.ChatTarget, msg MessageConfig, log logx.Logger) *ChannelPublisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &ChannelPublisher{sender: sender, log: log}
	p.Set(target, msg)
	return p
}

// Set swaps the destination and message settings. Safe during hot reload.
func (p *ChannelPublisher) Set(target transport.ChatTarget, msg MessageConfig) {
	if msg.ButtonText == "" {
		msg.ButtonText = defaultButtonText
	}
	p.mu.Lock()
	p.target, p.msg = target, msg
	p.mu.Unlock()
}

func (p *ChannelPublisher) Publish(ctx context.Context, it queue.Item) error {
	p.mu.RLock()
	target, msg := p.target, p.msg
	p.mu.RUnlock()

	if target.ChatID == 0 {
		return fmt.Errorf("publish %s: main channel not configured", it.ID)
	}
	watch := strings.TrimSpace(it.RemoteURL)
	if watch == "" {
		return fmt.Errorf("publish %s: no watch url", it.ID)
	}
	caption := FormatCaption(msg, it.DisplayTitle())
	opt := &transport.SendOptions{
		Buttons: [][]transport.LinkButton{{{Text: msg.ButtonText, URL: watch}}},
	}

	if thumb := strings.TrimSpace(it.RemoteThumbnail); thumb != "" {
		_, err := p.sender.SendPhoto(ctx, target, thumb, tgui.TruncRunes(caption, maxCaptionRunes), opt)
		if err == nil {
			return nil
		}
		p.log.Warn("photo post failed; falling back to text", logx.String("id", it.ID), logx.Err(err))
	}
	_, err := p.sender.SendText(ctx, target, caption, opt)
	return err
}

// FormatCaption renders the channel post body. Empty parts are skipped.
func FormatCaption(cfg MessageConfig, title string) string {
	parts := make([]string, 0, 3)
	if t := strings.TrimSpace(cfg.ChannelTitle); t != "" {
		parts = append(parts, "😍"+t+"😍")
	}
	parts = append(parts, "🎬 "+strings.TrimSpace(title))
	if c := strings.TrimSpace(cfg.CaptionText); c != "" {
		parts = append(parts, c)
	}
	return strings.Join(parts, "\n\n")
}
