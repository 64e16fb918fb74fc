package queue

import (
	"strings"
	"time"
)

// Item is one video's record from intake to published post.
type Item struct {
	ID string

	// Source. File takes precedence over URL when both are set.
	FileID  string
	FileURL string

	FileName        string
	FileSize        int64
	Title           string
	Description     string
	ThumbnailFileID string

	// Optional origin (the inbound message) for acknowledgments and audit.
	SourceChatID    int64
	SourceMessageID int

	Status Status

	RemoteFileCode  string
	RemoteURL       string
	RemoteTitle     string
	RemoteThumbnail string

	RetryCount   int
	ErrorMessage string

	CreatedAt  time.Time
	ClaimedAt  time.Time
	UploadedAt time.Time
	PostedAt   time.Time
}

func (it *Item) HasFile() bool { return strings.TrimSpace(it.FileID) != "" }
func (it *Item) HasURL() bool  { return strings.TrimSpace(it.FileURL) != "" }

// DisplayTitle prefers the title fetched back from the host.
func (it *Item) DisplayTitle() string {
	for _, s := range []string{it.RemoteTitle, it.Title, it.FileName} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return "Untitled"
}

// NewItem is the intake payload for Enqueue.
type NewItem struct {
	FileID          string
	FileURL         string
	FileName        string
	FileSize        int64
	Title           string
	Description     string
	ThumbnailFileID string
	SourceChatID    int64
	SourceMessageID int
}

// Normalize trims fields and defaults Title to FileName.
func (n NewItem) Normalize() NewItem {
	n.FileID = strings.TrimSpace(n.FileID)
	n.FileURL = strings.TrimSpace(n.FileURL)
	n.FileName = strings.TrimSpace(n.FileName)
	n.Title = strings.TrimSpace(n.Title)
	n.Description = strings.TrimSpace(n.Description)
	n.ThumbnailFileID = strings.TrimSpace(n.ThumbnailFileID)
	if n.Title == "" {
		n.Title = n.FileName
	}
	if n.FileSize < 0 {
		n.FileSize = 0
	}
	return n
}

// Validate requires at least one content source.
func (n NewItem) Validate() error {
	if n.FileID == "" && n.FileURL == "" {
		return ErrNoSource
	}
	return nil
}

// Update carries the optional fields written together with a transition.
// Empty values leave the stored column unchanged.
type Update struct {
	RemoteFileCode  string
	RemoteURL       string
	RemoteTitle     string
	RemoteThumbnail string
	ErrorMessage    string
}

// Stats holds per-status counts.
type Stats struct {
	Total    int
	ByStatus map[Status]int
}

func (s Stats) Count(st Status) int { return s.ByStatus[st] }
