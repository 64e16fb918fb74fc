package transport

import (
	"context"
	"io"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	// UpdateChannelPost is a post in a channel the bot administers (no sender).
	UpdateChannelPost UpdateKind = "channel_post"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// FileRef points at a file hosted by the messaging platform.
type FileRef struct {
	ID       string
	Name     string
	Size     int64
	MIME     string
	ThumbID  string // platform thumbnail file id ("" if none)
	IsVideo  bool
	Duration int // seconds, 0 if unknown
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	Caption      string
	File         *FileRef
	IsGroup      bool
	IsChannel    bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// LinkButton is an inline button that opens a URL.
type LinkButton struct {
	Text string
	URL  string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Buttons are rendered as inline keyboard rows.
	Buttons [][]LinkButton
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// SendPhoto sends a photo by URL or platform file id with a caption.
	SendPhoto(ctx context.Context, to ChatTarget, photo string, caption string, opt *SendOptions) (MessageRef, error)
}

// FileFetcher streams a platform-hosted file into w.
type FileFetcher interface {
	FetchFile(ctx context.Context, fileID string, w io.Writer) (int64, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
