package app

import (
	"context"
	"time"

	"lulubot/internal/runtime/supervisor"
	"lulubot/internal/task/scheduler"
)

type Status struct {
	Uptime string         `json:"uptime"`
	Queue  map[string]int `json:"queue"`
	Total  int            `json:"total"`
	Error  string         `json:"error,omitempty"`

	Worker    WorkerStatus        `json:"worker"`
	Poster    PosterStatus        `json:"poster"`
	Scheduler scheduler.Snapshot  `json:"scheduler"`
	Tasks     supervisor.Snapshot `json:"tasks"`
}

type WorkerStatus struct {
	Running bool   `json:"running"`
	Current string `json:"current,omitempty"`
	// Sweep is true while the periodic stale-claim sweep is scheduled.
	Sweep bool `json:"sweep"`
}

type PosterStatus struct {
	Running bool       `json:"running"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

// statusSnapshot backs GET /status.
func (a *App) statusSnapshot(ctx context.Context) any {
	out := Status{
		Queue:     map[string]int{},
		Worker:    WorkerStatus{Running: a.worker.Running(), Current: a.worker.Current(), Sweep: a.sched.Has(SweepJobName)},
		Poster:    PosterStatus{Running: a.poster.Running()},
		Scheduler: a.sched.Snapshot(),
		Tasks:     a.sup.Snapshot(),
	}
	if !a.startedAt.IsZero() {
		out.Uptime = time.Since(a.startedAt).Truncate(time.Second).String()
	}
	if next := a.poster.NextRun(); !next.IsZero() {
		out.Poster.NextRun = &next
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := a.store.Stats(ctx)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Total = st.Total
	for k, v := range st.ByStatus {
		out.Queue[string(k)] = v
	}
	return out
}
