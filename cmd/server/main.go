package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/iliyamo/studyroom-seat-board/internal/config"
	"github.com/iliyamo/studyroom-seat-board/internal/database"
	"github.com/iliyamo/studyroom-seat-board/internal/handler"
	"github.com/iliyamo/studyroom-seat-board/internal/live"
	"github.com/iliyamo/studyroom-seat-board/internal/metrics"
	"github.com/iliyamo/studyroom-seat-board/internal/middleware"
	"github.com/iliyamo/studyroom-seat-board/internal/occupancy"
	"github.com/iliyamo/studyroom-seat-board/internal/queue"
	"github.com/iliyamo/studyroom-seat-board/internal/repository"
	"github.com/iliyamo/studyroom-seat-board/internal/router"
	"github.com/iliyamo/studyroom-seat-board/internal/scheduler"
	"github.com/iliyamo/studyroom-seat-board/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env loaded: %v", err)
	}
	cfg := config.Load() // Load environment config

	db, err := database.Open(cfg.DB)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	mctx, mcancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := database.Migrate(mctx, db, database.MySQL); err != nil {
		log.Fatalf("database: %v", err)
	}
	mcancel()

	// Redis is optional: without it seat records and profiles live in this
	// process and rate limiting is per instance.
	rdb := config.NewRedisClient()
	var (
		records  service.SeatRecords
		profiles service.Profiles
	)
	if rdb != nil {
		defer rdb.Close()
		records = repository.NewRedisSeatRecordCache(rdb)
		profiles = repository.NewRedisProfileStore(rdb)
	} else {
		records = repository.NewMemorySeatRecordCache()
		profiles = repository.NewMemoryProfileStore()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ledger := repository.NewUsageEventRepo(db)
	hub := live.NewHub(ledger, live.WithMetrics(m))
	go hub.Run()

	opts := []service.Option{service.WithNotifier(hub), service.WithMetrics(m)}
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if cfg.Broker.Enabled {
		publisher := queue.NewPublisher(cfg.Broker.URL, cfg.Broker.InstanceID, m)
		defer publisher.Close()
		opts = append(opts, service.WithAnnouncer(publisher))

		consumer := queue.NewConsumer(cfg.Broker.URL, hub, queue.NewUsageLog(cfg.LogDir), m)
		go func() {
			if err := consumer.Run(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("usage-consumer: stopped: %v", err)
			}
		}()
	}

	rules := occupancy.Rules{CutoffHour: cfg.Room.CutoffHour, Location: cfg.Room.Location}
	seats := service.NewSeatService(ledger, records, profiles, cfg.Room.Layout, rules, opts...)

	cutoff, err := scheduler.NewCutoff(seats, hub, cfg.Room.CutoffHour, cfg.Room.Location)
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	cutoff.Start()

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())
	e.Use(m.Middleware())

	router.RegisterRoutes(e, handler.Ready(db), m.Handler())
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, repository.NewUserRepo(db), repository.NewTokenRepo(db)), cfg.JWTSecret)
	router.RegisterStudent(e,
		handler.NewSeatHandler(seats, hub),
		handler.NewProfileHandler(seats),
		cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
	)
	router.RegisterMonitor(e, handler.NewMonitorHandler(seats, hub), cfg.JWTSecret,
		middleware.NewRedisCache(config.LoadCacheConfig(), rdb))

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s, layout=%s, cutoff=%02d:00 %s)",
		addr, cfg.Env, cfg.Room.Layout.Name, cfg.Room.CutoffHour, cfg.Room.Location)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Printf("shutting down")

	// stopping the hub ends every open stream so Shutdown does not wait on them
	hub.Stop()
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if err := e.Shutdown(sctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := cutoff.Shutdown(); err != nil {
		log.Printf("scheduler shutdown: %v", err)
	}
	stopConsumer()
}
