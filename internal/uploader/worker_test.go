package uploader

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lulubot/internal/hosting"
	"lulubot/internal/queue"
	"lulubot/internal/storage"
	"lulubot/internal/transport"
	logx "lulubot/pkg/logx"
)

type fakeHost struct {
	mu        sync.Mutex
	urlCalls  int
	fileCalls int
	lastPath  string
	lastBody  string
	lastMeta  hosting.Meta
	lastSnap  string

	uploadURL  func(n int) (hosting.Result, error)
	uploadFile func(path string) (hosting.Result, error)
	metadata   func(code string) (hosting.Metadata, error)
}

func (f *fakeHost) UploadURL(ctx context.Context, rawURL string, meta hosting.Meta) (hosting.Result, error) {
	f.mu.Lock()
	f.urlCalls++
	n := f.urlCalls
	f.lastMeta = meta
	f.mu.Unlock()
	if f.uploadURL == nil {
		return hosting.Result{FileCode: "code", URL: "https://luluvid.com/code"}, nil
	}
	return f.uploadURL(n)
}

func (f *fakeHost) UploadFile(ctx context.Context, path string, meta hosting.Meta) (hosting.Result, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return hosting.Result{}, err
	}
	f.mu.Lock()
	f.fileCalls++
	f.lastPath = path
	f.lastBody = string(b)
	f.lastMeta = meta
	if meta.SnapshotPath != "" {
		snap, _ := os.ReadFile(meta.SnapshotPath)
		f.lastSnap = string(snap)
	}
	f.mu.Unlock()
	if f.uploadFile == nil {
		return hosting.Result{FileCode: "fcode", URL: "https://luluvid.com/fcode"}, nil
	}
	return f.uploadFile(path)
}

func (f *fakeHost) FetchMetadata(ctx context.Context, code string) (hosting.Metadata, error) {
	if f.metadata == nil {
		return hosting.Metadata{}, errors.New("no metadata")
	}
	return f.metadata(code)
}

type fakeFiles struct {
	content string
	err     error
	// byID overrides content per file id; a missing id with byID set fails.
	byID map[string]string
}

func (f *fakeFiles) FetchFile(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	content := f.content
	if f.byID != nil {
		c, ok := f.byID[fileID]
		if !ok {
			return 0, errors.New("file not found")
		}
		content = c
	}
	n, err := io.Copy(w, strings.NewReader(content))
	return n, err
}

func newWorker(t *testing.T, host Hosting, files *fakeFiles, cfg Config) (*Worker, *storage.Memory) {
	t.Helper()
	st := storage.NewMemory()
	if cfg.TempDir == "" {
		cfg.TempDir = t.TempDir()
	}
	var ff transport.FileFetcher
	if files != nil {
		ff = files
	}
	return New(st, host, ff, cfg, logx.Nop(), nil), st
}

func enqueue(t *testing.T, st queue.Store, n queue.NewItem) string {
	t.Helper()
	id, err := st.Enqueue(context.Background(), n)
	require.NoError(t, err)
	return id
}

func get(t *testing.T, st queue.Store, id string) *queue.Item {
	t.Helper()
	it, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	return it
}

func TestRunOnceEmptyQueue(t *testing.T) {
	w, _ := newWorker(t, &fakeHost{}, nil, Config{})
	processed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRetriesUntilFailed(t *testing.T) {
	host := &fakeHost{uploadURL: func(n int) (hosting.Result, error) {
		return hosting.Result{}, &hosting.Error{Kind: hosting.KindRejected, Op: "upload url", Msg: "attempt " + string(rune('0'+n))}
	}}
	w, st := newWorker(t, host, nil, Config{MaxRetries: 3})
	id := enqueue(t, st, queue.NewItem{FileURL: "https://cdn.example.com/a.mp4", FileName: "a.mp4"})

	it := get(t, st, id)
	assert.Equal(t, queue.StatusPending, it.Status)
	assert.Equal(t, 0, it.RetryCount)

	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		processed, err := w.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, processed)
		it = get(t, st, id)
		assert.Equal(t, queue.StatusPending, it.Status)
		assert.Equal(t, i, it.RetryCount)
	}

	_, err := w.RunOnce(ctx)
	require.NoError(t, err)
	it = get(t, st, id)
	assert.Equal(t, queue.StatusFailed, it.Status)
	assert.Equal(t, 3, it.RetryCount)
	assert.Contains(t, it.ErrorMessage, "attempt 3")
	assert.True(t, it.UploadedAt.IsZero())

	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "failed items are never claimed again")
	assert.Equal(t, 3, host.urlCalls)
}

func TestUploadSuccessWithEnrichment(t *testing.T) {
	host := &fakeHost{
		metadata: func(code string) (hosting.Metadata, error) {
			return hosting.Metadata{Title: "Original", ThumbnailURL: "https://img/" + code + ".jpg"}, nil
		},
	}
	w, st := newWorker(t, host, nil, Config{})
	id := enqueue(t, st, queue.NewItem{FileURL: "https://cdn.example.com/a.mp4", Title: "Mine", Description: "d"})

	processed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	it := get(t, st, id)
	assert.Equal(t, queue.StatusUploaded, it.Status)
	assert.Equal(t, "code", it.RemoteFileCode)
	assert.Equal(t, "https://luluvid.com/code", it.RemoteURL)
	assert.Equal(t, "Original", it.RemoteTitle)
	assert.Equal(t, "https://img/code.jpg", it.RemoteThumbnail)
	assert.False(t, it.UploadedAt.IsZero())
	assert.True(t, it.PostedAt.IsZero())
	assert.Equal(t, 0, it.RetryCount)
	assert.Equal(t, hosting.Meta{Title: "Mine", Description: "d"}, host.lastMeta)
}

func TestMetadataFailureIsNotFatal(t *testing.T) {
	w, st := newWorker(t, &fakeHost{}, nil, Config{})
	id := enqueue(t, st, queue.NewItem{FileURL: "https://cdn.example.com/a.mp4"})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	it := get(t, st, id)
	assert.Equal(t, queue.StatusUploaded, it.Status)
	assert.Empty(t, it.RemoteTitle)
	assert.Empty(t, it.RemoteThumbnail)
}

func TestFileSourceTakesPrecedenceAndIsCleanedUp(t *testing.T) {
	host := &fakeHost{}
	w, st := newWorker(t, host, &fakeFiles{content: "telegram-bytes"}, Config{})
	id := enqueue(t, st, queue.NewItem{FileID: "tg-1", FileURL: "https://cdn.example.com/a.mp4", FileName: "holiday.mp4"})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, host.fileCalls)
	assert.Equal(t, 0, host.urlCalls)
	assert.Equal(t, "telegram-bytes", host.lastBody)
	assert.Equal(t, "holiday.mp4", filepath.Base(host.lastPath))
	_, statErr := os.Stat(host.lastPath)
	assert.True(t, os.IsNotExist(statErr), "temp file must be removed")

	assert.Equal(t, queue.StatusUploaded, get(t, st, id).Status)
}

func TestTempFileRemovedOnUploadFailure(t *testing.T) {
	host := &fakeHost{uploadFile: func(path string) (hosting.Result, error) {
		return hosting.Result{}, &hosting.Error{Kind: hosting.KindNetwork, Op: "upload file", Err: errors.New("reset")}
	}}
	w, st := newWorker(t, host, &fakeFiles{content: "x"}, Config{MaxRetries: 3})
	id := enqueue(t, st, queue.NewItem{FileID: "tg-1", FileName: "a.mp4"})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	_, statErr := os.Stat(host.lastPath)
	assert.True(t, os.IsNotExist(statErr))

	it := get(t, st, id)
	assert.Equal(t, queue.StatusPending, it.Status)
	assert.Equal(t, 1, it.RetryCount)
	assert.Contains(t, it.ErrorMessage, "reset")
}

func TestFetchFailureIsRetryable(t *testing.T) {
	w, st := newWorker(t, &fakeHost{}, &fakeFiles{err: errors.New("file is too big")}, Config{MaxRetries: 3})
	id := enqueue(t, st, queue.NewItem{FileID: "tg-1"})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	it := get(t, st, id)
	assert.Equal(t, queue.StatusPending, it.Status)
	assert.Contains(t, it.ErrorMessage, "file is too big")
}

func TestThumbnailSentAsSnapshot(t *testing.T) {
	host := &fakeHost{}
	files := &fakeFiles{byID: map[string]string{"tg-1": "video-bytes", "thumb-1": "jpeg-bytes"}}
	w, st := newWorker(t, host, files, Config{})
	id := enqueue(t, st, queue.NewItem{FileID: "tg-1", FileName: "clip.mp4", ThumbnailFileID: "thumb-1"})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", host.lastBody)
	assert.Equal(t, "jpeg-bytes", host.lastSnap)
	assert.Equal(t, filepath.Dir(host.lastPath), filepath.Dir(host.lastMeta.SnapshotPath))
	_, statErr := os.Stat(host.lastMeta.SnapshotPath)
	assert.True(t, os.IsNotExist(statErr), "snapshot is cleaned up with the video")
	assert.Equal(t, queue.StatusUploaded, get(t, st, id).Status)
}

func TestThumbnailFailureUploadsWithoutSnapshot(t *testing.T) {
	host := &fakeHost{}
	files := &fakeFiles{byID: map[string]string{"tg-1": "video-bytes"}}
	w, st := newWorker(t, host, files, Config{})
	id := enqueue(t, st, queue.NewItem{FileID: "tg-1", FileName: "clip.mp4", ThumbnailFileID: "gone"})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, host.lastMeta.SnapshotPath)
	assert.Empty(t, host.lastSnap)
	assert.Equal(t, queue.StatusUploaded, get(t, st, id).Status)
}

func TestFileWithoutFetcherFallsBackToURL(t *testing.T) {
	host := &fakeHost{}
	w, st := newWorker(t, host, nil, Config{})
	id := enqueue(t, st, queue.NewItem{FileID: "tg-1", FileURL: "https://cdn.example.com/a.mp4"})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, host.urlCalls)
	assert.Equal(t, 0, host.fileCalls)
	assert.Equal(t, queue.StatusUploaded, get(t, st, id).Status)
}

func TestFileSourceWithoutFetcherFailsImmediately(t *testing.T) {
	w, st := newWorker(t, &fakeHost{}, nil, Config{MaxRetries: 3})
	id := enqueue(t, st, queue.NewItem{FileID: "tg-1"})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	it := get(t, st, id)
	assert.Equal(t, queue.StatusFailed, it.Status)
	assert.Equal(t, 1, it.RetryCount)
}

func TestStopFinishesCurrentItem(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	host := &fakeHost{uploadURL: func(n int) (hosting.Result, error) {
		close(entered)
		<-release
		return hosting.Result{FileCode: "slow", URL: "https://luluvid.com/slow"}, nil
	}}
	w, st := newWorker(t, host, nil, Config{IdleWait: 10 * time.Millisecond})
	id := enqueue(t, st, queue.NewItem{FileURL: "https://cdn.example.com/a.mp4"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.True(t, w.Start(ctx))
	assert.False(t, w.Start(ctx), "second start is refused")

	<-entered
	assert.Equal(t, id, w.Current())
	assert.True(t, w.Stop())
	assert.True(t, w.Running(), "stop does not interrupt the upload in flight")

	close(release)
	wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer wcancel()
	require.NoError(t, w.Wait(wctx))
	assert.False(t, w.Running())
	assert.Equal(t, queue.StatusUploaded, get(t, st, id).Status)
	assert.False(t, w.Stop())
}

func TestIndependentWorkersDoNotShareState(t *testing.T) {
	a, _ := newWorker(t, &fakeHost{}, nil, Config{IdleWait: time.Hour})
	b, _ := newWorker(t, &fakeHost{}, nil, Config{IdleWait: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.True(t, a.Start(ctx))
	assert.True(t, a.Running())
	assert.False(t, b.Running())

	a.Stop()
	require.NoError(t, a.Wait(context.Background()))
}

func TestPanicIsContained(t *testing.T) {
	host := &fakeHost{uploadURL: func(n int) (hosting.Result, error) { panic("boom") }}
	w, st := newWorker(t, host, nil, Config{StaleAfter: time.Minute})
	id := enqueue(t, st, queue.NewItem{FileURL: "https://cdn.example.com/a.mp4"})

	processed, err := w.safeRunOnce(context.Background())
	assert.False(t, processed)
	require.Error(t, err)
	assert.Equal(t, queue.StatusUploading, get(t, st, id).Status)

	// The stuck claim is recovered by the sweep once it is stale.
	w.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	n, err := w.SweepStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	it := get(t, st, id)
	assert.Equal(t, queue.StatusPending, it.Status)
	assert.Equal(t, 0, it.RetryCount)
}

// blockingHost holds UploadURL until the caller's context ends.
type blockingHost struct {
	fakeHost
	started chan struct{}
}

func (b *blockingHost) UploadURL(ctx context.Context, rawURL string, meta hosting.Meta) (hosting.Result, error) {
	close(b.started)
	<-ctx.Done()
	return hosting.Result{}, &hosting.Error{Kind: hosting.KindNetwork, Op: "upload url", Err: ctx.Err()}
}

func TestRestartRecoversInterruptedUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	open := func() queue.Store {
		st, err := storage.Open(storage.Config{Driver: "sqlite", Path: path}, logx.Nop())
		require.NoError(t, err)
		return st
	}

	st := open()
	id := enqueue(t, st, queue.NewItem{FileURL: "https://cdn.example.com/big.mp4", FileName: "big.mp4"})
	host := &blockingHost{started: make(chan struct{})}
	w := New(st, host, nil, Config{StaleAfter: 3 * time.Hour, Heartbeat: time.Minute, TempDir: t.TempDir()}, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, w.Start(ctx))
	select {
	case <-host.started:
	case <-time.After(5 * time.Second):
		t.Fatal("upload never started")
	}
	w.Stop()
	cancel()
	require.NoError(t, w.Wait(context.Background()))
	assert.Equal(t, queue.StatusUploading, get(t, st, id).Status)
	require.NoError(t, st.Close())

	st = open()
	defer st.Close()
	next := New(st, &fakeHost{}, nil, Config{StaleAfter: 3 * time.Hour}, logx.Nop(), nil)

	// The claim is fresh, so the periodic sweep leaves it alone.
	n, err := next.SweepStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = next.RecoverClaims(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	it := get(t, st, id)
	assert.Equal(t, queue.StatusPending, it.Status)
	assert.True(t, it.ClaimedAt.IsZero())
}

func TestSecondClaimantLosesItem(t *testing.T) {
	w, st := newWorker(t, &fakeHost{}, nil, Config{})
	id := enqueue(t, st, queue.NewItem{FileURL: "https://cdn.example.com/a.mp4"})
	ctx := context.Background()

	a, err := st.ClaimNextPending(ctx)
	require.NoError(t, err)
	b, err := st.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.Equal(t, a.ID, b.ID)

	ok, err := st.Claim(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.Claim(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	// Nothing else is pending, and the worker does not steal the claimed item.
	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Equal(t, queue.StatusUploading, get(t, st, id).Status)
}

func TestLongErrorMessageStaysValidUTF8(t *testing.T) {
	host := &fakeHost{uploadURL: func(n int) (hosting.Result, error) {
		return hosting.Result{}, errors.New(strings.Repeat("é", 600))
	}}
	w, st := newWorker(t, host, nil, Config{MaxRetries: 1})
	id := enqueue(t, st, queue.NewItem{FileURL: "https://cdn.example.com/a.mp4"})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	it := get(t, st, id)
	assert.Equal(t, queue.StatusFailed, it.Status)
	assert.True(t, utf8.ValidString(it.ErrorMessage))
	assert.Equal(t, 500, utf8.RuneCountInString(it.ErrorMessage))
	assert.True(t, strings.HasSuffix(it.ErrorMessage, "…"))
}
