package poster

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"lulubot/internal/metrics"
	"lulubot/internal/queue"
	"lulubot/internal/task/scheduler"
	logx "lulubot/pkg/logx"
)

// JobName is the scheduler entry for timed firings and the single-flight key
// shared with manual triggers.
const JobName = "post-batch"

type Publisher interface {
	Publish(ctx context.Context, it queue.Item) error
}

type Config struct {
	BatchSize int
	// Schedule accepts cron, "60m" or "HH:MM" forms.
	Schedule  string
	SendDelay time.Duration
	// BatchTimeout bounds one timed firing.
	BatchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Schedule == "" {
		c.Schedule = "60m"
	}
	if c.SendDelay < 0 {
		c.SendDelay = 0
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 15 * time.Minute
	}
	return c
}

func sendLimit(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// Poster owns the timed batch job. Stopping removes the trigger; a batch
// already running completes.
type Poster struct {
	store   queue.Store
	pub     Publisher
	sched   *scheduler.Service
	log     logx.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	cfg     Config
	running bool

	sf      singleflight.Group
	limiter *rate.Limiter
}

func New(store queue.Store, pub Publisher, sched *scheduler.Service, cfg Config, log logx.Logger, m *metrics.Metrics) *Poster {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Poster{
		store:   store,
		pub:     pub,
		sched:   sched,
		cfg:     cfg,
		log:     log.With(logx.String("comp", "poster")),
		metrics: m,
		limiter: rate.NewLimiter(sendLimit(cfg.SendDelay), 1),
	}
}

func (p *Poster) config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// SetConfig applies new settings; a running schedule is re-registered when
// its schedule changed.
func (p *Poster) SetConfig(cfg Config) error {
	cfg = cfg.withDefaults()
	p.mu.Lock()
	old := p.cfg
	p.cfg = cfg
	running := p.running
	p.mu.Unlock()

	p.limiter.SetLimit(sendLimit(cfg.SendDelay))
	if running && (old.Schedule != cfg.Schedule || old.BatchTimeout != cfg.BatchTimeout) {
		return p.register(cfg)
	}
	return nil
}

func (p *Poster) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start registers the timed job. It reports false if already running.
func (p *Poster) Start() (bool, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return false, nil
	}
	cfg := p.cfg
	p.mu.Unlock()

	if err := p.register(cfg); err != nil {
		return false, err
	}
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()
	p.log.Info("post scheduler started", logx.String("schedule", cfg.Schedule), logx.Int("batch", cfg.BatchSize))
	return true, nil
}

func (p *Poster) register(cfg Config) error {
	if p.sched == nil {
		return errors.New("poster: no scheduler")
	}
	return p.sched.AddSchedule(JobName, cfg.Schedule, cfg.BatchTimeout, func(ctx context.Context) error {
		_, err := p.RunBatch(ctx, 0)
		return err
	})
}

// Stop removes the timed job. It reports false if it was not running.
func (p *Poster) Stop() bool {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false
	}
	p.running = false
	p.mu.Unlock()

	if p.sched != nil {
		p.sched.Remove(JobName)
	}
	p.log.Info("post scheduler stopped")
	return true
}

// NextRun returns the next timed firing, or zero when stopped.
func (p *Poster) NextRun() time.Time {
	if p.sched == nil || !p.Running() {
		return time.Time{}
	}
	return p.sched.Next(JobName)
}

// RunBatch posts up to limit uploaded items, oldest upload first, and
// returns how many were posted. limit <= 0 uses the configured batch size.
//
// Concurrent calls share one execution: a caller arriving while a batch runs
// gets that batch's result. If the joined batch was smaller than limit, the
// caller then posts the remainder itself, so a timer firing that lands on a
// "/post_now 1" still covers its full batch size.
func (p *Poster) RunBatch(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = p.config().BatchSize
	}
	res, shared, err := p.do(ctx, limit)
	if err != nil || !shared || res.limit >= limit || res.selected < res.limit {
		return res.posted, err
	}
	p.log.Debug("joined smaller batch; posting remainder", logx.Int("joined", res.limit), logx.Int("limit", limit))
	more, _, err := p.do(ctx, limit-res.limit)
	return res.posted + more.posted, err
}

type batchResult struct {
	posted   int
	selected int
	limit    int
}

func (p *Poster) do(ctx context.Context, limit int) (batchResult, bool, error) {
	v, err, shared := p.sf.Do(JobName, func() (any, error) {
		posted, selected, err := p.runBatch(ctx, limit)
		return batchResult{posted: posted, selected: selected, limit: limit}, err
	})
	res, _ := v.(batchResult)
	return res, shared, err
}

// runBatch reports how many items were posted and how many were selected.
func (p *Poster) runBatch(ctx context.Context, limit int) (int, int, error) {
	items, err := p.store.ListUploadedNotPosted(ctx, limit)
	if err != nil {
		return 0, 0, err
	}
	if len(items) == 0 {
		p.log.Debug("nothing to post")
		return 0, 0, nil
	}
	p.metrics.IncBatch()

	posted := 0
	for _, it := range items {
		if err := p.limiter.Wait(ctx); err != nil {
			p.log.Warn("batch interrupted", logx.Int("posted", posted), logx.Err(err))
			break
		}
		if p.postOne(ctx, it) {
			posted++
		}
	}
	p.log.Info("batch done", logx.Int("posted", posted), logx.Int("selected", len(items)))
	return posted, len(items), nil
}

// postOne publishes it and marks it posted. A failed send leaves the item
// uploaded for the next firing.
func (p *Poster) postOne(ctx context.Context, it queue.Item) bool {
	log := p.log.With(logx.String("id", it.ID), logx.String("file_code", it.RemoteFileCode))
	if err := p.pub.Publish(ctx, it); err != nil {
		p.metrics.IncPost("failed")
		log.Warn("publish failed", logx.Err(err))
		return false
	}
	ok, err := p.store.Transition(ctx, it.ID, queue.StatusPosted, queue.Update{})
	if err != nil {
		log.Error("mark posted failed", logx.Err(err))
		return false
	}
	if !ok {
		log.Warn("item vanished after publish")
		return false
	}
	p.metrics.IncPost("posted")
	log.Info("posted", logx.String("title", it.DisplayTitle()))
	return true
}
