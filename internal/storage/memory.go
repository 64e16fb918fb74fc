package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"lulubot/internal/queue"
)

// Memory is a process-local queue.Store with the same transition rules as
// the SQL drivers.
type Memory struct {
	mu    sync.Mutex
	items map[string]*queue.Item
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{items: map[string]*queue.Item{}, now: time.Now}
}

// SetClock overrides the time source; tests use it to order timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) Enqueue(_ context.Context, n queue.NewItem) (string, error) {
	n = n.Normalize()
	if err := n.Validate(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := ulid.Make().String()
	m.items[id] = &queue.Item{
		ID:              id,
		FileID:          n.FileID,
		FileURL:         n.FileURL,
		FileName:        n.FileName,
		FileSize:        n.FileSize,
		Title:           n.Title,
		Description:     n.Description,
		ThumbnailFileID: n.ThumbnailFileID,
		SourceChatID:    n.SourceChatID,
		SourceMessageID: n.SourceMessageID,
		Status:          queue.StatusPending,
		CreatedAt:       m.stamp(),
	}
	return id, nil
}

// stamp truncates to milliseconds like the SQL drivers. Caller holds mu.
func (m *Memory) stamp() time.Time {
	return time.UnixMilli(m.now().UnixMilli())
}

func (m *Memory) Get(_ context.Context, id string) (*queue.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, queue.ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (m *Memory) ClaimNextPending(_ context.Context) (*queue.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.filter(queue.StatusPending, byCreated)
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (m *Memory) Claim(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok || it.Status != queue.StatusPending {
		return false, nil
	}
	it.Status = queue.StatusUploading
	it.ClaimedAt = m.stamp()
	return true, nil
}

func (m *Memory) Transition(_ context.Context, id string, to queue.Status, upd queue.Update) (bool, error) {
	if !to.Valid() {
		return false, &queue.InvalidTransitionError{ID: id, To: to}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return false, nil
	}
	if it.Status == to {
		return true, nil
	}
	if !queue.CanTransition(it.Status, to) {
		return false, &queue.InvalidTransitionError{ID: id, From: it.Status, To: to}
	}

	now := m.stamp()
	it.Status = to
	switch to {
	case queue.StatusUploading:
		it.ClaimedAt = now
	case queue.StatusPending:
		it.ClaimedAt = time.Time{}
	case queue.StatusUploaded:
		if it.UploadedAt.IsZero() {
			it.UploadedAt = now
		}
	case queue.StatusPosted:
		if it.PostedAt.IsZero() {
			it.PostedAt = now
		}
	}
	for _, cv := range updateColumns(upd) {
		switch cv.col {
		case "remote_file_code":
			it.RemoteFileCode = cv.val
		case "remote_url":
			it.RemoteURL = cv.val
		case "remote_title":
			it.RemoteTitle = cv.val
		case "remote_thumbnail":
			it.RemoteThumbnail = cv.val
		case "error_message":
			it.ErrorMessage = cv.val
		}
	}
	return true, nil
}

func (m *Memory) IncrementRetry(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return 0, queue.ErrNotFound
	}
	it.RetryCount++
	return it.RetryCount, nil
}

func (m *Memory) Touch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[id]; ok && it.Status == queue.StatusUploading {
		it.ClaimedAt = m.stamp()
	}
	return nil
}

func (m *Memory) RequeueStale(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.Status != queue.StatusUploading {
			continue
		}
		if it.ClaimedAt.IsZero() || it.ClaimedAt.Before(cutoff) {
			it.Status = queue.StatusPending
			it.ClaimedAt = time.Time{}
			it.ErrorMessage = staleClaimMessage
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListUploadedNotPosted(_ context.Context, limit int) ([]queue.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return head(m.filter(queue.StatusUploaded, byUploaded), limit), nil
}

func (m *Memory) ListByStatus(_ context.Context, status queue.Status, limit int) ([]queue.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return head(m.filter(status, byCreated), limit), nil
}

func (m *Memory) RecentPosted(_ context.Context, limit int) ([]queue.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.filter(queue.StatusPosted, byPosted)
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return head(items, limit), nil
}

func (m *Memory) Stats(_ context.Context) (queue.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := queue.Stats{ByStatus: make(map[queue.Status]int, len(queue.AllStatuses))}
	for _, it := range m.items {
		st.ByStatus[it.Status]++
		st.Total++
	}
	return st, nil
}

func (m *Memory) PurgeFailed(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, it := range m.items {
		if it.Status == queue.StatusFailed {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[id]
	delete(m.items, id)
	return ok, nil
}

func (m *Memory) Close() error { return nil }

type orderKey func(*queue.Item) time.Time

func byCreated(it *queue.Item) time.Time  { return it.CreatedAt }
func byUploaded(it *queue.Item) time.Time { return it.UploadedAt }
func byPosted(it *queue.Item) time.Time   { return it.PostedAt }

// filter returns copies of items with the given status ordered by key, then id.
// Caller holds mu.
func (m *Memory) filter(status queue.Status, key orderKey) []queue.Item {
	out := make([]queue.Item, 0)
	for _, it := range m.items {
		if it.Status == status {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := key(&out[i]), key(&out[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func head(items []queue.Item, limit int) []queue.Item {
	limit = clampLimit(limit)
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

var _ queue.Store = (*Memory)(nil)
