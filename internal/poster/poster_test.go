package poster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lulubot/internal/queue"
	"lulubot/internal/storage"
	"lulubot/internal/task/scheduler"
	logx "lulubot/pkg/logx"
)

type recordingPublisher struct {
	mu      sync.Mutex
	posted  []string
	failIDs map[string]bool
	block   chan struct{}
	entered chan struct{}
}

func (r *recordingPublisher) Publish(ctx context.Context, it queue.Item) error {
	if r.entered != nil {
		select {
		case r.entered <- struct{}{}:
		default:
		}
	}
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failIDs[it.ID] {
		return errors.New("chat not found")
	}
	r.posted = append(r.posted, it.ID)
	return nil
}

func (r *recordingPublisher) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.posted...)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// seedUploaded enqueues n items and uploads them in order, one second apart.
func seedUploaded(t *testing.T, n int) (*storage.Memory, []string) {
	t.Helper()
	st := storage.NewMemory()
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	st.SetClock(c.now)
	ctx := context.Background()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := st.Enqueue(ctx, queue.NewItem{FileURL: "https://cdn.example.com/v.mp4"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		_, err := st.Transition(ctx, id, queue.StatusUploading, queue.Update{})
		require.NoError(t, err)
		_, err = st.Transition(ctx, id, queue.StatusUploaded, queue.Update{RemoteFileCode: "c-" + id, RemoteURL: "https://luluvid.com/c-" + id})
		require.NoError(t, err)
	}
	return st, ids
}

func status(t *testing.T, st queue.Store, id string) queue.Status {
	t.Helper()
	it, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	return it.Status
}

func TestBatchSizeOnePostsInUploadOrder(t *testing.T) {
	st, ids := seedUploaded(t, 2)
	pub := &recordingPublisher{}
	p := New(st, pub, nil, Config{BatchSize: 1}, logx.Nop(), nil)
	ctx := context.Background()

	n, err := p.RunBatch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, queue.StatusPosted, status(t, st, ids[0]))
	assert.Equal(t, queue.StatusUploaded, status(t, st, ids[1]))

	n, err = p.RunBatch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, queue.StatusPosted, status(t, st, ids[1]))
	assert.Equal(t, ids, pub.ids())

	n, err = p.RunBatch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	it, err := st.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.False(t, it.PostedAt.IsZero())
}

func TestFailedSendLeavesItemUploaded(t *testing.T) {
	st, ids := seedUploaded(t, 3)
	pub := &recordingPublisher{failIDs: map[string]bool{ids[1]: true}}
	p := New(st, pub, nil, Config{BatchSize: 10}, logx.Nop(), nil)

	n, err := p.RunBatch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, queue.StatusPosted, status(t, st, ids[0]))
	assert.Equal(t, queue.StatusUploaded, status(t, st, ids[1]))
	assert.Equal(t, queue.StatusPosted, status(t, st, ids[2]))

	it, err := st.Get(context.Background(), ids[1])
	require.NoError(t, err)
	assert.Equal(t, 0, it.RetryCount)

	// The next firing retries it.
	delete(pub.failIDs, ids[1])
	n, err = p.RunBatch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestManualLimitOverridesBatchSize(t *testing.T) {
	st, _ := seedUploaded(t, 5)
	p := New(st, &recordingPublisher{}, nil, Config{BatchSize: 1}, logx.Nop(), nil)
	n, err := p.RunBatch(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestConcurrentBatchesShareOneExecution(t *testing.T) {
	st, ids := seedUploaded(t, 2)
	pub := &recordingPublisher{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	p := New(st, pub, nil, Config{BatchSize: 10}, logx.Nop(), nil)

	var wg sync.WaitGroup
	results := make([]int, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = p.RunBatch(context.Background(), 0)
	}()
	<-pub.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = p.RunBatch(context.Background(), 0)
	}()
	// Give the second caller time to join the in-flight batch.
	time.Sleep(50 * time.Millisecond)
	close(pub.block)
	wg.Wait()

	assert.Equal(t, ids, pub.ids(), "each item is published exactly once")
	assert.Equal(t, 2, results[0])
}

func TestTimerJoiningSmallManualBatchPostsRemainder(t *testing.T) {
	st, ids := seedUploaded(t, 3)
	pub := &recordingPublisher{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	p := New(st, pub, nil, Config{BatchSize: 10}, logx.Nop(), nil)

	var wg sync.WaitGroup
	var manual, timed int
	wg.Add(1)
	go func() {
		defer wg.Done()
		manual, _ = p.RunBatch(context.Background(), 1)
	}()
	<-pub.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		timed, _ = p.RunBatch(context.Background(), 0)
	}()
	time.Sleep(50 * time.Millisecond)
	close(pub.block)
	wg.Wait()

	assert.Equal(t, 1, manual)
	assert.Equal(t, 3, timed)
	assert.Equal(t, ids, pub.ids(), "each item is published exactly once")
	for _, id := range ids {
		assert.Equal(t, queue.StatusPosted, status(t, st, id))
	}
}

func TestSendDelaySpacesPosts(t *testing.T) {
	st, _ := seedUploaded(t, 3)
	p := New(st, &recordingPublisher{}, nil, Config{BatchSize: 10, SendDelay: 40 * time.Millisecond}, logx.Nop(), nil)

	start := time.Now()
	n, err := p.RunBatch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestStartStopRegistersSchedule(t *testing.T) {
	sched := scheduler.New(scheduler.Config{}, logx.Nop())
	st, _ := seedUploaded(t, 0)
	p := New(st, &recordingPublisher{}, sched, Config{Schedule: "60m"}, logx.Nop(), nil)

	ok, err := p.Start()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, p.Running())
	assert.True(t, sched.Has(JobName))

	ok, err = p.Start()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.SetConfig(Config{Schedule: "30m"}))
	assert.Equal(t, "@every 30m0s", sched.Snapshot().Schedules[0].Spec)

	assert.True(t, p.Stop())
	assert.False(t, sched.Has(JobName))
	assert.False(t, p.Stop())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	sched := scheduler.New(scheduler.Config{}, logx.Nop())
	p := New(storage.NewMemory(), &recordingPublisher{}, sched, Config{Schedule: "whenever"}, logx.Nop(), nil)
	ok, err := p.Start()
	assert.Error(t, err)
	assert.False(t, ok)
	assert.False(t, p.Running())
}
