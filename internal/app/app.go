package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pearl-sniper/internal/alerting"
	"pearl-sniper/internal/config"
	"pearl-sniper/internal/evaluator"
	"pearl-sniper/internal/executor"
	"pearl-sniper/internal/market"
	"pearl-sniper/internal/poller"
	"pearl-sniper/internal/safety"
	"pearl-sniper/internal/service"
	"pearl-sniper/internal/session"
	"pearl-sniper/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newLease() *session.Handle {
	return session.NewHandle(session.Options{
		File:   a.Config.Session.File,
		MaxAge: a.Config.Session.MaxAge,
	}, a.Logger)
}

func (a *App) newMarketClient(lease *session.Handle) *market.Client {
	return market.NewClient(market.ClientOptions{
		BaseURL:           a.Config.Market.BaseURL,
		Region:            a.Config.Market.Region,
		Timeout:           a.Config.Market.RequestTimeout,
		UserAgent:         a.Config.Market.UserAgent,
		RequestsPerSecond: a.Config.Market.RequestsPerSecond,
		MaxRetries:        a.Config.Market.MaxRetries,
	}, lease, a.Logger)
}

func (a *App) newIntervalController() (*poller.IntervalController, error) {
	cfg := a.Config.Poller

	schedules := poller.DefaultSchedules()
	if len(cfg.Schedules) > 0 {
		schedules = make([]poller.ScheduleWindow, 0, len(cfg.Schedules))
		for _, rule := range cfg.Schedules {
			weekday, err := config.ParseWeekday(rule.Weekday)
			if err != nil {
				return nil, err
			}
			schedules = append(schedules, poller.ScheduleWindow{
				Weekday: weekday,
				Hours:   poller.HourWindow{Start: rule.StartHour, End: rule.EndHour},
			})
		}
	}

	return poller.NewIntervalController(poller.IntervalOptions{
		BaseInterval:     cfg.BaseInterval,
		BoostInterval:    cfg.BoostInterval,
		ActivityInterval: cfg.ActivityInterval,
		ActivityWindow:   cfg.ActivityWindow,
		PeakHours:        poller.HourWindow{Start: cfg.PeakStartHour, End: cfg.PeakEndHour},
		PeakEnabled:      cfg.PeakEnabled,
		Schedules:        schedules,
		ScheduleEnabled:  cfg.ScheduleEnabled,
	}), nil
}

func (a *App) newEvaluator(baseURL string) *evaluator.Evaluator {
	ref := evaluator.NewMarketRef(evaluator.MarketRefOptions{
		BaseURL:     baseURL,
		Timeout:     a.Config.Evaluator.RequestTimeout,
		UserAgent:   a.Config.Market.UserAgent,
		TTL:         a.Config.Evaluator.RefreshInterval,
		CronItemID:  a.Config.Evaluator.CronItemID,
		ValksItemID: a.Config.Evaluator.ValksItemID,
	}, a.Logger)

	return evaluator.New(evaluator.Options{
		MinProfit: a.Config.Evaluator.MinProfit,
		MinMargin: decimal.NewFromFloat(a.Config.Evaluator.MinMargin),
	}, ref, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}

	var notifiers []alerting.Notifier
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if a.Config.Alerting.Webhook.Enabled {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(a.Config.Alerting.Webhook.URL, 10*time.Second, a.Logger))
	}

	switch len(notifiers) {
	case 0:
		return nil
	case 1:
		return notifiers[0]
	default:
		return alerting.NewMultiNotifier(a.Logger, notifiers...)
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) watchedPartitions() []market.Partition {
	entries := a.Config.WatchedPartitions()
	partitions := make([]market.Partition, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name
		id := market.PartitionID{Main: entry.Main, Sub: entry.Sub}
		if name == "" {
			for _, known := range market.PearlPartitions {
				if known.ID == id {
					name = known.Name
					break
				}
			}
		}
		partitions = append(partitions, market.Partition{ID: id, Name: name})
	}
	return partitions
}

// Run executes the long-running sniper service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lease := a.newLease()
	if err := lease.Load(); err != nil {
		if errors.Is(err, session.ErrNoLease) {
			a.Logger.Warn().Msg("no session lease stored; purchasing disabled until `pearlsniper session import`")
		} else {
			return err
		}
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; attempt log is memory-only")
	}
	if closeStore != nil {
		defer closeStore()
	}

	client := a.newMarketClient(lease)
	interval, err := a.newIntervalController()
	if err != nil {
		return err
	}

	attemptLog := safety.NewLog()
	gate := safety.NewGate(safety.GateOptions{
		PriceCeiling:  a.Config.Safety.PriceCeiling,
		MaxPerWindow:  a.Config.Safety.MaxPurchasesPerWindow,
		RateWindow:    a.Config.Safety.RateWindow,
		Cooldown:      a.Config.Safety.Cooldown,
		CooldownScope: safety.CooldownScope(a.Config.Safety.CooldownScope),
	}, attemptLog, lease)

	buyer := executor.New(executor.Options{
		BaseURL:   client.BaseURL(),
		Timeout:   a.Config.Safety.PurchaseTimeout,
		DryRun:    a.Config.Safety.DryRun,
		AuthFatal: a.Config.Safety.PurchaseAuthFatal,
		Budget:    a.Config.Safety.Budget,
	}, lease, attemptLog, a.Logger)

	var attemptStore storage.AttemptStore
	var locker storage.AdvisoryLocker
	if store != nil {
		attemptStore = store
		locker = store
	}

	svc := service.New(service.Options{
		Partitions:    a.watchedPartitions(),
		FetchTimeout:  a.Config.Market.RequestTimeout,
		AutoBuy:       a.Config.Safety.Enabled,
		ReadAuthFatal: a.Config.Safety.ReadAuthFatal,
		RateWindow:    a.Config.Safety.RateWindow,
		LockKey:       a.Config.Database.AdvisoryLockKey,
	}, client, poller.NewDiffer(a.Logger), interval, a.newEvaluator(client.BaseURL()), gate, buyer, lease, attemptLog, attemptStore, locker, a.newNotifier(), a.Logger)

	a.Logger.Info().Msg("starting pearl sniper")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("sniper terminated with error")
		return err
	}

	a.Logger.Info().Msg("pearl sniper stopped")
	return nil
}

// AttemptsOptions configure the attempts command.
type AttemptsOptions struct {
	Limit int
}

// ExportOptions hold parameters for charting attempt history.
type ExportOptions struct {
	From    *time.Time
	PNGPath string
	Limit   int
}
