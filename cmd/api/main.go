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

	"crm-telephony/internal/audio"
	"crm-telephony/internal/callstate"
	"crm-telephony/internal/config"
	"crm-telephony/internal/directory"
	"crm-telephony/internal/history"
	"crm-telephony/internal/httpapi"
	"crm-telephony/internal/orchestrator"
	"crm-telephony/internal/telephony"
	"crm-telephony/internal/widget"
	"crm-telephony/pkg/logger"
	"crm-telephony/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
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

	recorder := history.NewRecorder(history.NewPostgresRepo(db))

	deviceCfg := telephony.DeviceProviderConfig{
		BaseURL:             cfg.Device.BaseURL,
		APIKey:              cfg.Device.APIKey,
		CallerID:            cfg.Device.CallerID,
		RegistrationTimeout: cfg.Device.RegistrationWait,
		RequestTimeout:      cfg.Device.RequestTimeout,
	}
	deviceCreds := telephony.NewDeviceCredentialCache(rdb, deviceCfg)

	callbackCfg := telephony.CallbackProviderConfig{
		BaseURL:        cfg.Callback.BaseURL,
		APIKey:         cfg.Callback.APIKey,
		AgentNumber:    cfg.Callback.AgentNumber,
		RequestTimeout: cfg.Callback.RequestTimeout,
	}
	widgetCreds := telephony.NewWidgetCredentialCache(rdb, callbackCfg)
	widgetRuntime := widget.NewHTTPRuntime(cfg.Widget.ControlURL, cfg.Callback.RequestTimeout)
	widgetBoot := widget.NewBootstrapper(widget.Config{
		PollInterval: cfg.Widget.PollInterval,
		WaitTimeout:  cfg.Widget.WaitTimeout,
		InitRetries:  cfg.Widget.InitRetries,
		RetryBackoff: cfg.Widget.RetryBackoff,
	}, widgetRuntime, func(ctx context.Context, userID string) (string, error) {
		cred, err := widgetCreds.Get(ctx, userID)
		if err != nil {
			return "", err
		}
		return cred.Token, nil
	}, log)
	// The API build carries no platform capture device; the probe degrades
	// to a no-op until a desktop build injects one.
	widgetBoot.SetMicrophoneProbe(audio.NewMonitor(nil, log))

	registry := telephony.NewRegistry(map[string]telephony.Factory{
		telephony.ProviderDevice: func() telephony.TelephonyProvider {
			return telephony.NewDeviceProvider(deviceCfg, deviceCreds, log)
		},
		telephony.ProviderCallback: func() telephony.TelephonyProvider {
			return telephony.NewCallbackProvider(callbackCfg, widgetBoot, log)
		},
	}, log)

	dirSource := directory.NewPostgresSource(db, log)
	coordinator := orchestrator.NewIncomingCoordinator(recorder, dirSource.Snapshot)
	orch := orchestrator.New(registry, callstate.New(), recorder, coordinator, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, httpapi.Handlers{Orch: orch}, db)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	orch.Shutdown(shutdownCtx)

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
