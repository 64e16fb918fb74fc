package scheduler

import (
	"hash/fnv"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// delayedFirst fires first at a fixed time, then follows base.
type delayedFirst struct {
	base  cron.Schedule
	first time.Time
}

func (s *delayedFirst) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// spreadOffset derives a stable first-run delay from the job name, below
// min(every, maxStartupSpread). Jobs registered at the same startup (the
// stale sweep next to the post batch) therefore do not fire together, and a
// restart keeps the same offset.
func spreadOffset(name string, every time.Duration) time.Duration {
	limit := min(every, maxStartupSpread)
	if limit <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return time.Duration(h.Sum64() % uint64(limit))
}

func spreadSchedule(name string, every time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	off := spreadOffset(name, every)
	return &delayedFirst{base: cron.Every(every), first: now.Add(every + off)}, off
}
