package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carwatch/api"
	"carwatch/config"
	"carwatch/notify"
	"carwatch/scraper/divar"
	"carwatch/services"
	"carwatch/storage"
	"carwatch/utils"
)

// app holds the wired components for one command invocation. Components are
// built lazily so that light commands do not open a browser or a store.
type app struct {
	cfg    *config.Config
	logger *utils.Logger

	store      *storage.SQLStore
	cache      storage.BenchmarkCache
	client     *divar.Client
	tg         *notify.Telegram
	pool       *services.CredentialPool
	estimator  *services.Estimator
	dispatcher *services.Dispatcher
	closers    []func() error
}

func newApp(cfg *config.Config, logger *utils.Logger) *app {
	return &app{cfg: cfg, logger: logger}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("[app] Close: %v", err)
		}
	}
	a.closers = nil
}

func (a *app) Store(ctx context.Context) (*storage.SQLStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := storage.Open(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return store, nil
}

// Cache returns Redis when configured and reachable, else an in-process cache.
func (a *app) Cache(ctx context.Context) storage.BenchmarkCache {
	if a.cache != nil {
		return a.cache
	}
	if a.cfg.RedisAddr != "" {
		rc, err := storage.NewRedisCache(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword)
		if err == nil {
			a.logger.Info("[app] Benchmark cache: redis at %s", a.cfg.RedisAddr)
			a.cache = rc
			a.closers = append(a.closers, rc.Close)
			return rc
		}
		a.logger.Warn("[app] Redis unavailable (%v), using in-memory benchmark cache", err)
	}
	a.cache = storage.NewMemoryCache()
	return a.cache
}

func (a *app) Estimator(ctx context.Context) (*services.Estimator, error) {
	if a.estimator != nil {
		return a.estimator, nil
	}
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	a.estimator = services.NewEstimator(store, a.logger, services.EstimatorOptions{
		Cache:      a.Cache(ctx),
		CacheTTL:   a.cfg.BenchmarkCacheTTL,
		Window:     a.cfg.Retention(),
		MinSamples: a.cfg.BenchmarkMinSamples,
		Policy:     services.PricePolicy{Floor: a.cfg.PriceFloor, Bands: a.cfg.Deal},
	})
	return a.estimator, nil
}

func (a *app) Client() (*divar.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	var transport divar.Transport
	switch a.cfg.FetchMode {
	case config.FetchBrowser:
		bt, err := divar.NewBrowserTransport(a.cfg.ChromeBin, a.cfg.RequestTimeout, a.logger)
		if err != nil {
			return nil, fmt.Errorf("start browser transport: %w", err)
		}
		transport = bt
	default:
		transport = divar.NewHTTPTransport(a.cfg.RequestTimeout)
	}
	a.client = divar.New(divar.Options{
		Category:  a.cfg.SearchCategory,
		Location:  a.cfg.Location,
		Transport: transport,
		Pacer:     utils.NewPacer(a.cfg.RequestMinInterval),
		Logger:    a.logger,
	})
	a.closers = append(a.closers, a.client.Close)
	return a.client, nil
}

// Telegram returns nil when no bot token is configured.
func (a *app) Telegram() *notify.Telegram {
	if a.tg == nil && a.cfg.TelegramToken != "" {
		a.tg = notify.NewTelegram(a.cfg.TelegramAPIBase, a.cfg.TelegramToken, a.cfg.RequestTimeout)
	}
	return a.tg
}

func (a *app) Sender() services.Sender {
	if tg := a.Telegram(); tg != nil {
		return tg
	}
	a.logger.Warn("[app] TELEGRAM_BOT_TOKEN is not set, notifications are logged only")
	return logSender{logger: a.logger}
}

func (a *app) Alerter() notify.Alerter {
	return notify.NewAlerter(notify.AlertOptions{
		NtfyURL:     a.cfg.NtfyURL,
		Telegram:    a.Telegram(),
		AdminChatID: a.cfg.AdminChatID,
		Timeout:     a.cfg.RequestTimeout,
		Logger:      a.logger,
	})
}

func (a *app) CredentialPool() (*services.CredentialPool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	file, err := storage.NewCredentialFile(a.cfg.CredentialsPath)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("[credentials] Pool file %s", file.Path())
	a.pool = services.NewCredentialPool(file)
	return a.pool, nil
}

// Dispatcher is shared by the pipeline and the digest so both go through
// the same send pacer.
func (a *app) Dispatcher(ctx context.Context) (*services.Dispatcher, error) {
	if a.dispatcher != nil {
		return a.dispatcher, nil
	}
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	a.dispatcher = services.NewDispatcher(a.Sender(), store, a.logger, services.DispatcherOptions{
		Pacer:            utils.NewPacer(a.cfg.NotifyInterval),
		DescriptionLimit: a.cfg.DescriptionLimit,
		PlaceholderImage: a.cfg.UpgradeImageURL,
	})
	return a.dispatcher, nil
}

// Scheduler wires the full ingestion path.
func (a *app) Scheduler(ctx context.Context) (*services.Scheduler, error) {
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	client, err := a.Client()
	if err != nil {
		return nil, err
	}
	estimator, err := a.Estimator(ctx)
	if err != nil {
		return nil, err
	}
	dispatcher, err := a.Dispatcher(ctx)
	if err != nil {
		return nil, err
	}

	var audit storage.ListingWriter
	if a.cfg.IngestCSVPath != "" {
		w, err := storage.NewCSVWriter(a.cfg.IngestCSVPath)
		if err != nil {
			return nil, err
		}
		audit = w
		a.closers = append(a.closers, w.Close)
	}

	pipeline := services.NewPipeline(client, store, estimator, services.NewMatcher(store, a.logger),
		dispatcher, a.logger, services.PipelineOptions{
			Audit:     audit,
			JitterMin: a.cfg.DetailJitterMin,
			JitterMax: a.cfg.DetailJitterMax,
		})
	return services.NewScheduler(pipeline, store, a.cfg.Regions, a.logger, services.SchedulerOptions{
		Interval:    a.cfg.ScanInterval,
		RegionDelay: a.cfg.RegionDelay,
		Retention:   a.cfg.Retention(),
	}), nil
}

func (a *app) APIServer(ctx context.Context) (*api.Server, error) {
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	client, err := a.Client()
	if err != nil {
		return nil, err
	}
	pool, err := a.CredentialPool()
	if err != nil {
		return nil, err
	}
	estimator, err := a.Estimator(ctx)
	if err != nil {
		return nil, err
	}
	dispatcher, err := a.Dispatcher(ctx)
	if err != nil {
		return nil, err
	}
	h := api.NewHandler(api.Deps{
		Store:           store,
		Contacts:        services.NewContactResolver(client, store, pool, a.Alerter(), a.logger),
		Digest:          services.NewDigest(store, store, dispatcher, a.cfg.Caps, a.cfg.UpgradeImageURL, a.logger),
		Benchmarks:      estimator,
		DefaultRegionID: a.defaultRegionID(),
		Trial:           a.trial(),
		Logger:          a.logger,
	})
	return api.NewServer(a.cfg.APIAddr, h, a.logger), nil
}

// defaultRegionID is the catalog default when it is configured, else the
// first configured region.
func (a *app) defaultRegionID() int {
	if _, ok := a.cfg.Region(config.DefaultRegionID); ok || len(a.cfg.Regions) == 0 {
		return config.DefaultRegionID
	}
	return a.cfg.Regions[0].ID
}

func (a *app) trial() time.Duration {
	return time.Duration(a.cfg.TrialDays) * 24 * time.Hour
}

// logSender stands in for Telegram when no bot token is configured.
type logSender struct {
	logger *utils.Logger
}

func (s logSender) Send(_ context.Context, chatID int64, m notify.Message) error {
	first, _, _ := strings.Cut(m.Text, "\n")
	s.logger.Info("[notify] (dry run) to %d: %s", chatID, first)
	return nil
}
