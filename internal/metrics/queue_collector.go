package metrics

import (
	"context"
	"time"

	"lulubot/internal/queue"
	logx "lulubot/pkg/logx"
)

// StartQueueCollector refreshes the queue_items gauge from Store.Stats every
// interval until ctx is done.
func (m *Metrics) StartQueueCollector(ctx context.Context, st queue.Store, interval time.Duration, log logx.Logger) {
	if m == nil || st == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		m.UpdateQueueGauges(ctx, st, log)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.UpdateQueueGauges(ctx, st, log)
			}
		}
	}()
}

func (m *Metrics) UpdateQueueGauges(ctx context.Context, st queue.Store, log logx.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	stats, err := st.Stats(ctx)
	if err != nil {
		log.Debug("queue stats for metrics failed", logx.Err(err))
		return
	}
	for _, s := range queue.AllStatuses {
		m.SetQueueItems(string(s), stats.Count(s))
	}
}
