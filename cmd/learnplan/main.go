package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"learnplan/internal/activity"
	"learnplan/internal/assignment"
	"learnplan/internal/auth"
	"learnplan/internal/config"
	"learnplan/internal/db"
	httpx "learnplan/internal/http"
	"learnplan/internal/jobs"
	"learnplan/internal/learning"
	"learnplan/internal/logger"
	"learnplan/internal/notify"
	"learnplan/internal/plan"
	"learnplan/internal/preferences"
	"learnplan/internal/progress"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connect failed", "driver", cfg.DatabaseDriver, "error", err)
	}
	if err := db.EnsureSchema(ctx, gdb, log); err != nil {
		log.Fatal("schema provisioning failed", "error", err)
	}

	var pub activity.Publisher
	if cfg.RedisAddr != "" {
		rp, err := notify.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisChannel, log)
		if err != nil {
			log.Fatal("redis connect failed", "addr", cfg.RedisAddr, "error", err)
		}
		defer rp.Close()
		pub = rp

		feedLog := log.With("component", "activity_feed")
		if err := rp.Subscribe(ctx, func(m notify.Message) {
			feedLog.Debug("activity published", "user_id", m.UserID, "action", m.Action, "plan_id", m.Details.PlanID)
		}); err != nil {
			log.Warn("activity feed listener not started", "error", err)
		}
	}

	plans := plan.NewStore(gdb, log)
	acts := activity.NewLog(gdb, log, pub)
	assigns := assignment.NewStore(gdb, log, plans, acts)
	jobsRepo := &jobs.Repo{DB: gdb}
	rec := progress.NewReconciler(plans, assigns, acts, jobsRepo, log)

	svc := &learning.Service{
		Plans:       plans,
		Assignments: assigns,
		Activity:    acts,
		Reconciler:  rec,
		Preferences: preferences.NewStore(gdb, log),
		Log:         log,
	}

	jwtSvc := auth.NewJWT(cfg.JWTSecret)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(cfg, svc, jwtSvc, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	host, _ := os.Hostname()
	worker := &jobs.Worker{
		ID:        fmt.Sprintf("%s-%d", host, os.Getpid()),
		Repo:      jobsRepo,
		Repairer:  rec,
		Pruner:    acts,
		Retention: cfg.ActivityRetention,
		Poll:      cfg.WorkerPollInterval,
		Log:       log.With("component", "worker"),
	}
	repairSched := &jobs.Scheduler{Repo: jobsRepo, Type: jobs.TypeProgressRepairAll, Interval: cfg.RepairInterval, Log: log}
	pruneSched := &jobs.Scheduler{Repo: jobsRepo, Type: jobs.TypeActivityPrune, Log: log}
	if cfg.ActivityRetention > 0 {
		pruneSched.Interval = 24 * time.Hour
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return repairSched.Run(gctx) })
	g.Go(func() error { return pruneSched.Run(gctx) })
	g.Go(func() error {
		log.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
