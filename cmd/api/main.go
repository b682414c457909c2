package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"followup-caller/internal/archive"
	"followup-caller/internal/audit"
	"followup-caller/internal/auth"
	"followup-caller/internal/calls"
	"followup-caller/internal/config"
	"followup-caller/internal/followup"
	"followup-caller/internal/httpapi"
	"followup-caller/internal/jobs"
	"followup-caller/internal/llm"
	"followup-caller/internal/postcall"
	"followup-caller/internal/reporting"
	"followup-caller/internal/roster"
	"followup-caller/internal/scheduler"
	"followup-caller/internal/store"
	"followup-caller/internal/telephony"
	"followup-caller/pkg/logger"
	"followup-caller/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	if err := run(logger.With(rootCtx, log), cfg, log); err != nil {
		log.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{ConnectAttempts: 5})
	if err != nil {
		return fmt.Errorf("postgres init: %w", err)
	}
	defer db.Close()

	if err := store.Migrate(ctx, db, logger.Component(log, "migrate")); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("redis init: %w", err)
	}
	defer rdb.Close()

	records := roster.NewPostgresRepo(db)
	attempts := calls.NewPostgresRepo(db)
	events := audit.NewService(audit.NewPostgresRepo(db))

	twilio, err := telephony.NewTwilioClient(telephony.TwilioConfig{
		AccountSID:     cfg.Twilio.AccountSID,
		AuthToken:      cfg.Twilio.AuthToken,
		FromNumber:     cfg.Twilio.FromNumber,
		APIBaseURL:     cfg.Twilio.APIBaseURL,
		CallsPerSecond: cfg.Twilio.CallsPerSecond,
	}, nil)
	if err != nil {
		return err
	}
	if err := twilio.HealthCheck(ctx); err != nil {
		// Scheduled calls will fail until credentials are fixed; ingestion and reads still work.
		log.Warn("twilio account check failed", "err", err)
	}

	gemini, err := llm.NewGemini(ctx, llm.Config{
		APIKey:          cfg.Pipeline.GeminiAPIKey,
		TranscribeModel: cfg.Pipeline.TranscribeModel,
		ClassifyModel:   cfg.Pipeline.ClassifyModel,
	})
	if err != nil {
		return err
	}

	var (
		archiver postcall.Archiver
		linker   httpapi.RecordingLinker
	)
	if cfg.MinIO.Enabled() {
		arch, err := archive.NewRecordingArchive(archive.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			UseSSL:    cfg.MinIO.UseSSL,
			Bucket:    cfg.MinIO.Bucket,
		})
		if err != nil {
			return err
		}
		if err := arch.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("recording bucket: %w", err)
		}
		archiver, linker = arch, arch
	}

	pipeline := postcall.NewPipeline(twilio, gemini, postcall.PromptExtractor{Classifier: gemini}, archiver, attempts, postcall.Options{
		PrimaryLanguage:   cfg.Pipeline.PrimaryLanguage,
		WorkingLanguage:   cfg.Pipeline.WorkingLanguage,
		ResolveTimeout:    cfg.Pipeline.ResolveTimeout,
		DownloadTimeout:   cfg.Pipeline.DownloadTimeout,
		TranscribeTimeout: cfg.Pipeline.TranscribeTimeout,
		ClassifyTimeout:   cfg.Pipeline.ClassifyTimeout,
	})

	var (
		dispatcher calls.Dispatcher
		async      *postcall.AsyncDispatcher
		worker     *jobs.Worker
	)
	if cfg.Pipeline.UseQueue {
		redisOpt := jobs.RedisOpt{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		queue, err := jobs.NewClient(redisOpt, cfg.Pipeline.Queue)
		if err != nil {
			return err
		}
		defer queue.Close()
		worker, err = jobs.NewWorker(redisOpt, cfg.Pipeline.Queue, cfg.Pipeline.Concurrency, pipeline, logger.Component(log, "worker"))
		if err != nil {
			return err
		}
		dispatcher = queue
	} else {
		async = postcall.NewAsyncDispatcher(pipeline)
		dispatcher = async
	}

	orchestrator := calls.NewOrchestrator(records, attempts, twilio, calls.NewRedisLocker(rdb, ""), dispatcher, events, calls.Options{
		PublicBaseURL: cfg.App.PublicBaseURL,
	})

	sched := scheduler.New(logger.With(ctx, logger.Component(log, "scheduler")), scheduler.Options{
		Grace:         cfg.Followup.Grace,
		ActionTimeout: 2 * time.Minute,
	})
	planner, err := followup.NewPlanner(followup.Policy{
		FirstOffset:  cfg.Followup.FirstOffset,
		SecondOffset: cfg.Followup.SecondOffset,
		StaggerGap:   cfg.Followup.StaggerGap,
		Location:     cfg.Location(),
	})
	if err != nil {
		return err
	}
	followups := followup.NewService(planner, sched, followup.NewPostgresTriggerStore(db), records, orchestrator)
	if _, err := followups.Recover(ctx); err != nil {
		return fmt.Errorf("recover follow-up triggers: %w", err)
	}

	r := newRouter(log, cfg, authManager, routeDeps{
		webhooks: telephony.WebhookHandler{
			Status:  orchestrator,
			Records: records,
			Script:  telephony.DefaultVoiceScript(),
		},
		api: httpapi.Handlers{
			Auth:       authManager,
			Ingestor:   roster.NewIngestor(cfg.Location()),
			Records:    records,
			Attempts:   attempts,
			Followups:  followups,
			Calls:      orchestrator,
			Reports:    reporting.NewService(reporting.StoreSource{Records: records, Attempts: attempts}),
			Events:     events,
			Recordings: linker,
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "queue", cfg.Pipeline.UseQueue)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
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
	if worker != nil {
		g.Go(func() error { return worker.Run(gctx) })
	}
	runErr := g.Wait()

	// Background work drains after the listener is closed.
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Close(drainCtx); err != nil {
		log.Warn("scheduler did not drain", "err", err)
	}
	if async != nil {
		if err := async.Wait(drainCtx); err != nil {
			log.Warn("post-call processing did not drain", "err", err)
		}
	}
	_ = logger.ShutdownFlush(drainCtx, 2*time.Second)
	return runErr
}
