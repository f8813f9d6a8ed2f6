package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hybridvamp/V2MusicBot/internal/platform/config"
	"github.com/hybridvamp/V2MusicBot/internal/platform/logger"
	"github.com/hybridvamp/V2MusicBot/internal/platform/metrics"
	"github.com/hybridvamp/V2MusicBot/internal/playback"
	"github.com/hybridvamp/V2MusicBot/internal/remote"

	"github.com/go-chi/chi/v5"
)

const (
	shutdownTimeout = 10 * time.Second
	jobStopTimeout  = 30 * time.Second
)

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	callEngineURL := config.GetEnv("CALL_ENGINE_URL", "http://localhost:8081")
	transportURL := config.GetEnv("TRANSPORT_URL", "http://localhost:8082")

	reaperCfg := playback.DefaultReaperConfig()
	reaperCfg.BotID = config.GetEnvInt64("BOT_ID", 0)
	reaperCfg.SleepInterval = config.GetEnvDuration("REAPER_INTERVAL", reaperCfg.SleepInterval)
	reaperCfg.MinPlayedTime = config.GetEnvDuration("REAPER_MIN_PLAYED", reaperCfg.MinPlayedTime)
	reaperCfg.MaxConcurrentOps = config.GetEnvInt("REAPER_MAX_OPS", reaperCfg.MaxConcurrentOps)
	reaperCfg.OperationTimeout = config.GetEnvDuration("REAPER_OP_TIMEOUT", reaperCfg.OperationTimeout)

	fleetCfg := playback.DefaultFleetConfig()
	fleetCfg.LeaveHour = config.GetEnvInt("LEAVE_HOUR", fleetCfg.LeaveHour)
	fleetCfg.LeaveMinute = config.GetEnvInt("LEAVE_MINUTE", fleetCfg.LeaveMinute)

	log := logger.New(logLevel, logFormat)

	engine := remote.NewCallEngineClient(callEngineURL, nil)
	gateway := remote.NewTransportClient(transportURL, nil)

	store := playback.NewQueueStore()
	met := metrics.New()

	reaper := playback.NewInactivityReaper(store, engine, gateway, gateway, reaperCfg,
		logger.WithComponent(log, "reaper"), met)
	fleet := playback.NewFleetLeaveScheduler(store, gateway, gateway, gateway, fleetCfg,
		logger.WithComponent(log, "fleet_leave"), met)
	supervisor := playback.NewSessionJobSupervisor(store, reaper, fleet,
		playback.DefaultSupervisorConfig(), logger.WithComponent(log, "supervisor"), met)

	supervisor.Start()

	h := playback.NewHandler(store, supervisor, fleet, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetActiveChats(store.Stats().ActiveChats) }).ServeHTTP(w, req)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("bot job manager starting",
		"port", port,
		"call_engine", callEngineURL,
		"transport", transportURL,
		"reaper_interval", reaperCfg.SleepInterval.String(),
		"leave_time", time.Date(0, 1, 1, fleetCfg.LeaveHour, fleetCfg.LeaveMinute, 0, 0, time.Local).Format("15:04"),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping jobs and draining connections")

	supervisor.Stop(jobStopTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("bot stopped")
}
