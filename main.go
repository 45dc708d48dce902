package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ScriptSuite-server/config"
	"ScriptSuite-server/intake"
	"ScriptSuite-server/logger"
	"ScriptSuite-server/models"
	"ScriptSuite-server/routers"
	"ScriptSuite-server/routers/api"
	"ScriptSuite-server/service"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	if err := config.InitConfig(path); err != nil {
		panic(err)
	}
	cfg := config.AppConfig

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Server starting", "port", cfg.Server.Port, "config", path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := models.Open(cfg.MySQL.DSN, log)
	if err != nil {
		log.Fatal("Database init failed", "error", err)
	}

	redis := service.RedisOpt(cfg.Redis.Addr, cfg.Redis.Password)
	queue := service.NewQueue(redis, log)
	defer queue.Close()

	store, err := service.NewMinIOStore(ctx, service.MinIOOptions{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
	}, log)
	if err != nil {
		log.Fatal("MinIO init failed", "error", err)
	}

	processor := service.NewProcessor(db, store, cfg.Worker.Addr, log)
	processor.PollInterval = cfg.Analysis.PollInterval
	processor.PollTimeout = cfg.Analysis.PollTimeout
	consumer, err := processor.Start(redis, cfg.Worker.Concurrency)
	if err != nil {
		log.Fatal("Processor start failed", "error", err)
	}
	defer consumer.Shutdown()

	limits := intake.FileLimits{MaxBytes: cfg.Upload.MaxBytes, AcceptedType: cfg.Upload.AcceptedType}
	handler := api.NewHandler(db, queue, store, processor, limits, log)
	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           routers.InitRouter(handler, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server stopped", "error", err)
			stop()
		}
	}()
	log.Info("Server listening", "addr", srv.Addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	log.Info("Server stopped")
}
