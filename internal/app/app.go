// Package app assembles the bot: config, logging, storage, telegram
// gateway, scheduler and engine, plus the hot-reload watcher.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"rotabot/internal/auth"
	"rotabot/internal/bot"
	"rotabot/internal/config"
	"rotabot/internal/queue"
	"rotabot/internal/schedule"
	"rotabot/internal/storage"
	"rotabot/internal/telegram"
	logx "rotabot/pkg/logx"
)

const triggerTimeout = 2 * time.Minute

type App struct {
	cfgPath string

	log  logx.Logger
	logs *logx.Service

	store  storage.Store
	gw     *telegram.Gateway
	sched  *schedule.Scheduler
	engine *queue.Engine

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	stopped bool
	mu      sync.Mutex
}

// New loads the configuration, opens every dependency and wires the
// command handlers. Nothing is running until Start.
func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	st, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: mustDuration(cfg.BusyTimeout),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	gw, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: mustDuration(cfg.PollTimeout),
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		st.Close()
		logSvc.Close()
		return nil, fmt.Errorf("start telegram gateway: %w", err)
	}

	gate := auth.NewGate(cfg.Admins, gw, log.With(logx.String("comp", "auth")))
	sched := schedule.New(cfg.Location(), log.With(logx.String("comp", "scheduler")))
	engine := queue.New(st, gw, sched, clock.New(),
		queue.Options{MaxPulses: cfg.MaxPulses},
		log.With(logx.String("comp", "queue")))

	a := &App{
		cfgPath: cfgPath,
		log:     log,
		logs:    logSvc,
		store:   st,
		gw:      gw,
		sched:   sched,
		engine:  engine,
	}

	if err := a.restoreState(context.Background(), cfg); err != nil {
		a.closeAll()
		return nil, err
	}

	bot.New(gw, engine, gate, sched, st, log.With(logx.String("comp", "bot"))).Register()
	return a, nil
}

// restoreState rebinds the persisted group chat and schedule overrides so a
// restart picks up where the previous process left off. A schedule set via
// /setschedule or /setautopop wins over the config default.
func (a *App) restoreState(ctx context.Context, cfg config.Config) error {
	if chatID, ok, err := a.store.GroupChatID(ctx); err != nil {
		return fmt.Errorf("restore group chat: %w", err)
	} else if ok {
		a.gw.SetGroup(chatID)
		a.log.Info("group chat restored", logx.Int64("chat_id", chatID))
	}

	reminder := cfg.Reminder
	if sp, ok, err := a.store.Schedule(ctx, schedule.KindReminder); err != nil {
		return fmt.Errorf("restore reminder schedule: %w", err)
	} else if ok {
		reminder = sp
	}
	autopop := cfg.AutoPop
	if sp, ok, err := a.store.Schedule(ctx, schedule.KindAutoPop); err != nil {
		return fmt.Errorf("restore autopop schedule: %w", err)
	} else if ok {
		autopop = sp
	}

	if err := a.sched.Register(schedule.KindReminder, reminder, a.trigger("reminder", a.engine.StartWeeklyReminder)); err != nil {
		return err
	}
	if err := a.sched.Register(schedule.KindAutoPop, autopop, a.trigger("autopop", a.engine.AutoPop)); err != nil {
		return err
	}
	return nil
}

// trigger adapts an engine operation into a cron job with its own deadline.
func (a *App) trigger(name string, op func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
		defer cancel()
		if err := op(ctx); err != nil {
			a.log.Error("scheduled trigger failed", logx.String("trigger", name), logx.Err(err))
		}
	}
}

// Start begins polling and triggering. It returns immediately; cancel ctx or
// call Stop to shut down.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.sched.Start()
	a.gw.Start(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := config.Watch(ctx, a.cfgPath, a.log.With(logx.String("comp", "config")), a.applyConfig)
		if err != nil && ctx.Err() == nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	a.log.Info("bot started",
		logx.Bool("group_bound", a.gw.HasGroup()),
		logx.Time("next_reminder", a.sched.Next(schedule.KindReminder)),
	)
}

// applyConfig applies the hot-reloadable subset: logging only. Everything
// else (token, storage path, schedules) needs a restart or a bot command.
func (a *App) applyConfig(cfg config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
}

// Stop shuts everything down in dependency order and waits for in-flight
// work. Safe to call more than once.
func (a *App) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	a.gw.Stop()
	a.sched.Stop()
	a.wg.Wait()
	a.closeAll()
	a.log.Info("bot stopped")
}

func (a *App) closeAll() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("closing storage", logx.Err(err))
	}
	a.logs.Close()
}

// mustDuration unwraps a duration accessor already checked by Validate.
func mustDuration(fn func() (time.Duration, error)) time.Duration {
	d, _ := fn()
	return d
}
