// Package app wires every stage component of the pipeline into one
// Orchestrator, the way the teacher's internal/app/app.go builds its App
// struct: a single New() that opens infrastructure connections in a fixed
// order and returns an object whose Close() releases all of them.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/jobmatch-ai/pipeline/internal/config"
	"github.com/jobmatch-ai/pipeline/internal/embed"
	"github.com/jobmatch-ai/pipeline/internal/extract/facet"
	"github.com/jobmatch-ai/pipeline/internal/extract/requirement"
	"github.com/jobmatch-ai/pipeline/internal/ingest"
	"github.com/jobmatch-ai/pipeline/internal/interfaces"
	"github.com/jobmatch-ai/pipeline/internal/llmclient"
	"github.com/jobmatch-ai/pipeline/internal/match"
	"github.com/jobmatch-ai/pipeline/internal/models"
	"github.com/jobmatch-ai/pipeline/internal/notify"
	"github.com/jobmatch-ai/pipeline/internal/notify/message"
	"github.com/jobmatch-ai/pipeline/internal/orchestrator"
	"github.com/jobmatch-ai/pipeline/internal/persistence"
	"github.com/jobmatch-ai/pipeline/internal/repository/badgerqueue"
	"github.com/jobmatch-ai/pipeline/internal/repository/memory"
	"github.com/jobmatch-ai/pipeline/internal/repository/postgres"
	"github.com/jobmatch-ai/pipeline/internal/repository/redisstore"
	"github.com/jobmatch-ai/pipeline/internal/resume"
	"github.com/jobmatch-ai/pipeline/internal/scraperclient"
	"github.com/jobmatch-ai/pipeline/internal/worker"
)

// facetClaimedBy identifies this process in the facet_claimed_by column, so
// operators can tell which worker is holding a stuck claim.
const facetClaimedBy = "jobmatch-pipeline"

// closer is anything New opens that must be released on shutdown.
type closer interface {
	Close() error
}

// App owns every long-lived resource the orchestrator needs and the
// Orchestrator itself.
type App struct {
	Config       *config.Config
	Logger       arbor.ILogger
	Orchestrator *orchestrator.Orchestrator

	db          *postgres.DB
	sharedStore closer
	queue       closer
	workerPool  *worker.Pool
}

// New builds every stage component from cfg and returns a fully wired App.
// Construction order mirrors the teacher's initDatabase -> initServices ->
// initHandlers staging: storage first, then the capability clients that
// depend on it, then the stage packages that depend on those.
func New(ctx context.Context, cfg *config.Config, logger arbor.ILogger) (*App, error) {
	db, err := postgres.Connect(ctx, cfg.Database.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sharedStore, closeShared, err := buildSharedStore(cfg, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build shared store: %w", err)
	}

	queue, closeQueue, err := buildTaskQueue(cfg, logger)
	if err != nil {
		db.Close()
		if closeShared != nil {
			_ = closeShared.Close()
		}
		return nil, fmt.Errorf("build notification queue: %w", err)
	}

	jobs := db.JobRepository()
	resumes := db.ResumeRepository()
	matches := db.MatchRepository()
	vectors := db.VectorStore()
	trackerStore := db.NotificationTrackerStore()

	scraper := scraperclient.New(cfg.JobSpy.URL, time.Duration(cfg.JobSpy.RequestTimeoutSeconds)*time.Second)
	llm := llmclient.New(cfg.ETL.LLM, defaultLLMRatePerSecond, defaultLLMBurst)

	embedder := embed.New(jobs, llm, logger)
	ingester := ingest.New(jobs, logger)
	reqExtractor := requirement.New(jobs, llm, logger)
	facetExtractor := facet.New(jobs, llm, embedder, facet.Config{
		ClaimedBy:    facetClaimedBy,
		BatchSize:    defaultFacetBatchSize,
		Concurrency:  defaultFacetConcurrency,
		ClaimTimeout: defaultFacetClaimTimeout,
		MaxRetries:   defaultFacetMaxRetries,
	}, logger)
	profiler := resume.New(resumes, llm, logger)
	matcher := match.New(vectors, jobs, logger)
	persister := persistence.New(matches, logger)

	dispatcher := buildDispatcher(cfg, sharedStore, trackerStore, queue, logger)
	msgBuilder := message.New()

	var workerPool *worker.Pool
	if cfg.Notifications.UseAsyncQueue && queue != nil {
		workerPool = worker.New(queue, dispatcher, logger, defaultNotificationWorkers)
		workerPool.Start(ctx)
	}

	orch := orchestrator.New(
		cfg, scraper, jobs, llm,
		ingester, reqExtractor, facetExtractor, embedder, profiler, matcher, persister,
		dispatcher, msgBuilder, logger,
	)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Orchestrator: orch,
		db:           db,
		sharedStore:  closeShared,
		queue:        closeQueue,
		workerPool:   workerPool,
	}, nil
}

// Close releases every resource opened by New, logging but not failing on
// individual close errors so shutdown always completes.
func (a *App) Close() {
	if a.workerPool != nil {
		a.workerPool.Stop()
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("error closing notification queue")
		}
	}
	if a.sharedStore != nil {
		if err := a.sharedStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("error closing shared store")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// buildSharedStore opens Redis if configured (production cross-worker
// coordination, §4.11), falling back to an in-memory store for single-node
// or test deployments.
func buildSharedStore(cfg *config.Config, logger arbor.ILogger) (interfaces.SharedStore, closer, error) {
	if cfg.Notifications.RedisURL != "" {
		store, err := redisstore.Open(cfg.Notifications.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis shared store: %w", err)
		}
		logger.Info().Msg("using redis shared store for rate-limit coordination")
		return store, store, nil
	}
	logger.Warn().Msg("no redis_url configured; using in-memory shared store (no cross-process coordination)")
	return memory.NewSharedStore(time.Now), nil, nil
}

// buildTaskQueue opens the disk-backed badger queue when async dispatch is
// requested (§4.11 "If queue unavailable or disabled, dispatch
// synchronously"); returns a nil queue when synchronous dispatch suffices.
func buildTaskQueue(cfg *config.Config, logger arbor.ILogger) (interfaces.TaskQueue, closer, error) {
	if !cfg.Notifications.UseAsyncQueue {
		return nil, nil, nil
	}
	q, err := badgerqueue.Open(defaultQueueDir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open badger notification queue: %w", err)
	}
	return q, q, nil
}

func buildDispatcher(cfg *config.Config, sharedStore interfaces.SharedStore, trackerStore interfaces.NotificationTrackerStore, queue interfaces.TaskQueue, logger arbor.ILogger) *notify.Dispatcher {
	factory := notify.NewFactory(sharedStore, &http.Client{Timeout: 15 * time.Second})

	channelCfgs := make(map[models.ChannelType]notify.ChannelConfig, len(cfg.Notifications.Channels))
	for key, c := range cfg.Notifications.Channels {
		channelCfgs[models.ChannelType(key)] = notify.ChannelConfig{
			Enabled:      c.Enabled,
			Recipient:    c.Recipient,
			SMTPHost:     c.SMTPHost,
			SMTPPort:     c.SMTPPort,
			SMTPUsername: c.SMTPUsername,
			SMTPPassword: c.SMTPPassword,
			SMTPFrom:     c.SMTPFrom,
			WebhookURL:   c.WebhookURL,
		}
	}
	channels := factory.Build(channelCfgs)

	tracker := notify.NewTracker(trackerStore, false)
	limiter := notify.NewRateLimitCoordinator(sharedStore, time.Duration(cfg.Notifications.RateLimitMaxWaitSeconds)*time.Second)

	dispatcherCfg := notify.Config{
		DeduplicationEnabled: cfg.Notifications.DeduplicationEnabled,
		ResendInterval:       time.Duration(cfg.Notifications.ResendIntervalHours * float64(time.Hour)),
		UseAsyncQueue:        cfg.Notifications.UseAsyncQueue && queue != nil,
		MaxWait:              time.Duration(cfg.Notifications.RateLimitMaxWaitSeconds) * time.Second,
	}

	return notify.NewDispatcher(channels, tracker, limiter, queue, dispatcherCfg, logger)
}

const (
	defaultLLMRatePerSecond = 2.0
	defaultLLMBurst         = 4

	defaultFacetBatchSize    = 10
	defaultFacetConcurrency  = 4
	defaultFacetClaimTimeout = 5 * time.Minute
	defaultFacetMaxRetries   = 3

	defaultQueueDir = "data/notification-queue"

	defaultNotificationWorkers = 3
)
