package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	_ "github.com/jackc/pgx/v5/stdlib"

	"outdial-platform/internal/agents"
	"outdial-platform/internal/auth"
	"outdial-platform/internal/billing"
	"outdial-platform/internal/broadcast"
	"outdial-platform/internal/calls"
	"outdial-platform/internal/campaigns"
	"outdial-platform/internal/config"
	"outdial-platform/internal/conversation"
	"outdial-platform/internal/dialogue"
	"outdial-platform/internal/dnc"
	"outdial-platform/internal/emotion"
	"outdial-platform/internal/events"
	"outdial-platform/internal/httpapi"
	"outdial-platform/internal/metrics"
	"outdial-platform/internal/queue"
	"outdial-platform/internal/reconciler"
	"outdial-platform/internal/speech"
	"outdial-platform/internal/telephony"
	"outdial-platform/internal/transfer"
	"outdial-platform/pkg/logger"
	"outdial-platform/pkg/utils"
)

// lateListener breaks the processor/queue construction cycle: the processor
// needs a completion listener before the queue manager exists.
type lateListener struct {
	l calls.CompletionListener
}

func (ll *lateListener) CallFinished(ctx context.Context, call calls.Call) {
	if ll.l != nil {
		ll.l.CallFinished(ctx, call)
	}
}

// completionFanout notifies every listener of a finished call.
type completionFanout []calls.CompletionListener

func (f completionFanout) CallFinished(ctx context.Context, call calls.Call) {
	for _, l := range f {
		l.CallFinished(ctx, call)
	}
}

// forgetTimeline drops the emotion scratch state once a call ends.
type forgetTimeline struct {
	m *emotion.Monitor
}

func (f forgetTimeline) CallFinished(ctx context.Context, call calls.Call) {
	f.m.Forget(call.ID)
}

func main() {
	// Root context that cancels on shutdown.
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	collector := metrics.NewCollector()

	// Persistence.
	callRepo := calls.NewPostgresRepo(db)
	campaignRepo := campaigns.NewPostgresRepo(db)
	contactRepo := campaignRepo.Contacts()
	phoneRepo := campaignRepo.PhoneNumbers()
	dncRegistry := dnc.NewPostgresRegistry(db)
	eventLog := events.NewPostgresLog(db)
	agentDir := agents.NewPostgresDirectory(db)
	transferRepo := transfer.NewPostgresRepo(db)
	alertRepo := emotion.NewPostgresAlertRepo(db)
	taskRepo := emotion.NewPostgresTaskRepo(db)
	ledger := billing.NewPostgresLedger(db)

	hub := broadcast.NewHub(logger.Component(log, "broadcast"))
	gateway := telephony.NewTelnyxGateway(cfg.Telnyx.APIKey, cfg.Telnyx.ConnectionID, cfg.WebhookURL(), log)

	var dispatcher emotion.Dispatcher
	if len(cfg.Emotion.WebhookTargets) > 0 {
		dispatcher = emotion.NewWebhookDispatcher(cfg.Emotion.WebhookTargets, cfg.Emotion.WebhookMaxAttempts, eventLog, log)
	}
	monitor := emotion.NewMonitor(emotion.MonitorDeps{
		Alerts:            alertRepo,
		Tasks:             taskRepo,
		Agents:            agentDir,
		Bcast:             hub,
		Dispatcher:        dispatcher,
		Metrics:           collector,
		Log:               log,
		SustainedMinLevel: cfg.Emotion.SustainedMinLevel,
		SustainedFor:      time.Duration(cfg.Emotion.SustainedSeconds) * time.Second,
		SpikeMinLevel:     cfg.Emotion.SpikeMinLevel,
	})

	transferSvc := transfer.NewService(transfer.Deps{
		Repo:                transferRepo,
		Agents:              agentDir,
		Calls:               callRepo,
		Gateway:             gateway,
		Bcast:               hub,
		Metrics:             collector,
		Log:                 log,
		HighIntentThreshold: cfg.Transfer.HighIntentThreshold,
		AllowedIntents:      cfg.Transfer.HighIntentLabels,
		PendingExpiry:       cfg.Transfer.PendingExpiry,
	})

	orchestrator := conversation.NewOrchestrator(conversation.Deps{
		Gateway:     gateway,
		Engine:      dialogue.NewHTTPEngine(cfg.Services.DialogueURL, cfg.Services.RequestTimeout),
		TTS:         speech.NewHTTPSynthesizer(cfg.Services.TTSURL, cfg.Services.RequestTimeout),
		STT:         speech.NewHTTPTranscriber(cfg.Services.STTURL, cfg.Services.RequestTimeout),
		Store:       conversation.NewRedisStore(rdb, time.Hour),
		Campaigns:   campaignRepo,
		Contacts:    contactRepo,
		EventLog:    eventLog,
		Bcast:       hub,
		EmotionObs:  monitor,
		Transfers:   transferSvc,
		Log:         log,
		MaxTurns:    cfg.Convo.MaxTurns,
		RecordLimit: cfg.Convo.MaxRecordingLength,
		HangupGrace: cfg.Convo.HangupGrace,
	})

	queueListener := &lateListener{}
	processor := calls.NewProcessor(calls.ProcessorDeps{
		Repo:             callRepo,
		Contacts:         contactRepo,
		DNC:              dncRegistry,
		Gateway:          gateway,
		Conv:             orchestrator,
		Dedupe:           calls.NewRedisDedupe(rdb, 24*time.Hour),
		EventLog:         eventLog,
		Coster:           billing.NewPricing(0),
		Closer:           billing.NewCallCloser(db, callRepo, ledger),
		Listener:         completionFanout{queueListener, forgetTimeline{m: monitor}},
		Bcast:            hub,
		Metrics:          collector,
		Log:              log,
		DialTimeoutSecs:  int(cfg.Telnyx.AnswerTimeout.Seconds()),
		MachineDetection: true,
	})

	queueMgr := queue.NewManager(queue.Deps{
		Campaigns: campaignRepo,
		Contacts:  contactRepo,
		Phones:    phoneRepo,
		DNC:       dncRegistry,
		Calls:     callRepo,
		Dialer:    processor,
		Limiter:   queue.NewRedisLimiter(rdb),
		Bcast:     hub,
		Metrics:   collector,
		Log:       logger.Component(log, "queue"),
		Config: queue.Config{
			PacingDelay:        cfg.Queue.PacingDelay,
			MaxConcurrentCalls: cfg.Queue.MaxConcurrentCalls,
			DailyCallLimit:     cfg.Queue.DailyCallLimit,
			MaxRetries:         cfg.Queue.MaxRetries,
			Cooldown:           cfg.Queue.Cooldown,
			AdmissionBackoff:   cfg.Queue.AdmissionBackoff,
		},
	})
	queueListener.l = queueMgr
	defer queueMgr.Shutdown()

	sweeper := reconciler.New(reconciler.Deps{
		Calls:      callRepo,
		Processor:  processor,
		Transfers:  transferSvc,
		Log:        logger.Component(log, "reconciler"),
		Interval:   cfg.Reconciler.Interval,
		StuckAfter: cfg.Reconciler.StuckThreshold,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, httpapi.Handlers{
		Auth:      authManager,
		Queue:     queueMgr,
		Processor: processor,
		Transfers: transferSvc,
		Monitor:   monitor,
		Agents:    agentDir,
		Calls:     callRepo,
		Events:    eventLog,
		Hub:       hub,
		Log:       log,
	}, auth.RequireAccessToken(authManager), collector.Handler())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := sweeper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}
