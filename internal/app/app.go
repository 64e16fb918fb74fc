package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"lulubot/internal/config"
	"lulubot/internal/hosting"
	"lulubot/internal/metrics"
	"lulubot/internal/ops"
	"lulubot/internal/poster"
	"lulubot/internal/queue"
	"lulubot/internal/runtime/supervisor"
	"lulubot/internal/storage"
	"lulubot/internal/task/scheduler"
	kit "lulubot/internal/transport"
	telegram "lulubot/internal/transport/telegram/adapter"
	"lulubot/internal/transport/telegram/router"
	"lulubot/internal/uploader"
	logx "lulubot/pkg/logx"
)

// SweepJobName is the scheduler entry that requeues stale claims.
const SweepJobName = "stale-sweep"

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter kit.Adapter
	store   queue.Store
	host    hostAPI
	metrics *metrics.Metrics

	worker *uploader.Worker
	sched  *scheduler.Service
	poster *poster.Poster
	pub    *poster.ChannelPublisher
	router *router.Router
	ops    *ops.Server

	storageChannel atomic.Int64
	startedAt      time.Time

	updates chan kit.Update
}

// deps are the outward-facing pieces; tests swap them for fakes.
// hostAPI is the hosting client as the app uses it.
type hostAPI interface {
	uploader.Hosting
	EncodingStatus(ctx context.Context, fileCode string) ([]hosting.Encoding, error)
}

type deps struct {
	log     logx.Logger
	logs    *logx.Service
	adapter kit.Adapter
	files   kit.FileFetcher
	store   queue.Store
	host    hostAPI
	metrics *metrics.Metrics
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("info").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(adapterConfig(cfg), bootLog)
	if err != nil {
		return nil, err
	}

	// Apply enables the telegram sink and warns without a target, so the
	// target is set between a quiet bootstrap and the final Apply.
	logCfg := logConfig(cfg)
	boot := logCfg
	boot.Telegram.Enabled = false
	logSvc, log := logx.New(boot, ad)
	logSvc.SetTelegramTarget(cfg.Telegram.LogChatID, cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)

	store, err := storage.Open(storageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", cfg.Storage.Driver))

	host := hosting.New(hostingConfig(cfg), nil, log.With(logx.String("comp", "hosting")))

	return assemble(cfgm, cfg, deps{
		log:     log,
		logs:    logSvc,
		adapter: ad,
		files:   ad,
		store:   store,
		host:    host,
		metrics: metrics.New(),
	}), nil
}

func assemble(cfgm *config.ConfigManager, cfg *config.Config, d deps) *App {
	log := d.log
	if log.IsZero() {
		log = logx.Nop()
	}

	sched := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, log.With(logx.String("comp", "scheduler")))
	worker := uploader.New(d.store, d.host, d.files, uploaderConfig(cfg), log, d.metrics)
	pub := poster.NewChannelPublisher(d.adapter, publishTarget(cfg), messageConfig(cfg), log.With(logx.String("comp", "publisher")))
	pst := poster.New(d.store, pub, sched, posterConfig(cfg), log, d.metrics)
	rt := router.New(log, d.adapter, cfg.Telegram.OwnerUserIDs, router.Options{DefaultTimeout: 2 * time.Minute})

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    d.logs,
		adapter: d.adapter,
		store:   d.store,
		host:    d.host,
		metrics: d.metrics,
		worker:  worker,
		sched:   sched,
		poster:  pst,
		pub:     pub,
		router:  rt,
		updates: make(chan kit.Update, 256),
	}
	a.storageChannel.Store(cfg.Telegram.StorageChannelID)
	if !cfg.HTTP.Disabled {
		a.ops = ops.New(opsConfig(cfg), d.metrics, a.statusSnapshot, log)
	}
	rt.SetFallback(a.intake)
	return a
}

// Done is closed when the app supervisor is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateReload)

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.router.SetCommands(run, a.commands())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	a.sched.Start(run)
	a.metrics.StartQueueCollector(run, a.store, 15*time.Second, a.log)

	// Any claim seen before the worker runs was left by a previous process.
	if _, err := a.worker.RecoverClaims(run); err != nil {
		a.log.Warn("startup claim recovery failed", logx.Err(err))
	}
	if err := a.applySweepSchedule(cfg.Uploader.SweepSchedule); err != nil {
		a.log.Warn("sweep schedule not registered", logx.Err(err))
	}

	if cfg.Uploader.AutoStart {
		a.worker.Start(run)
	}
	if cfg.Poster.AutoStart {
		if _, err := a.poster.Start(); err != nil {
			return fmt.Errorf("poster: %w", err)
		}
	}

	if a.ops != nil {
		if err := a.ops.Start(run); err != nil {
			return err
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.startSystemd()
	a.log.Info("app started",
		logx.Bool("worker", a.worker.Running()),
		logx.Bool("poster", a.poster.Running()),
		logx.Bool("http", a.ops != nil),
	)
	return nil
}

// validateReload runs after config.Validate on every hot reload.
func validateReload(_ context.Context, cfg *config.Config) error {
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

// applySweepSchedule (re)registers or removes the periodic stale sweep.
func (a *App) applySweepSchedule(spec string) error {
	spec = strings.TrimSpace(spec)
	if config.ScheduleOff(spec) {
		a.sched.Remove(SweepJobName)
		return nil
	}
	return a.sched.AddScheduleOpt(SweepJobName, spec, time.Minute, scheduler.Options{StartupSpread: true}, func(ctx context.Context) error {
		_, err := a.worker.SweepStale(ctx)
		return err
	})
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(old, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(old, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if a.logs != nil {
		a.logs.SetTelegramTarget(cfg.Telegram.LogChatID, cfg.Logging.Telegram.ThreadID)
		a.logs.Apply(logConfig(cfg))
	}
	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
	a.storageChannel.Store(cfg.Telegram.StorageChannelID)
	a.pub.Set(publishTarget(cfg), messageConfig(cfg))
	a.worker.SetConfig(uploaderConfig(cfg))
	if err := a.poster.SetConfig(posterConfig(cfg)); err != nil {
		a.log.Warn("poster schedule not applied", logx.Err(err))
	}
	a.sched.Apply(scheduler.Config{Timezone: cfg.Scheduler.Timezone})
	if old.Uploader.SweepSchedule != cfg.Uploader.SweepSchedule {
		if err := a.applySweepSchedule(cfg.Uploader.SweepSchedule); err != nil {
			a.log.Warn("sweep schedule not applied", logx.Err(err))
		}
	}

	if restart := config.RestartRequired(old, cfg); len(restart) > 0 {
		a.log.Warn("restart required for some changes", logx.Strs("fields", restart))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping()

	var errs *multierror.Error

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < limit {
				limit = max(rem, 0)
			}
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
		}
	}

	// The poster goes first so no new batch starts; the worker gets a short
	// window to finish its item before the run context is cancelled. An
	// interrupted upload stays uploading until RecoverClaims on next start.
	step("poster", time.Second, func(context.Context) error { a.poster.Stop(); return nil })
	step("worker", 6*time.Second, func(c context.Context) error {
		a.worker.Stop()
		wctx, cancel := context.WithTimeout(c, 5*time.Second)
		defer cancel()
		if err := a.worker.Wait(wctx); err != nil {
			a.log.Info("upload still in flight; aborting", logx.String("id", a.worker.Current()))
		}
		return nil
	})

	a.sup.Cancel()

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("worker.abort", 3*time.Second, func(c context.Context) error { return a.worker.Wait(c) })
	if a.ops != nil {
		step("ops", 2*time.Second, a.ops.Stop)
	}
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errs.ErrorOrNil()
}
