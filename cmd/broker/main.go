package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/log"

	"crsend/internal/broker"
	"crsend/internal/config"
)

func main() {
	var (
		configPath string
		addr       string
		ttlMinutes int
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "", "Path to the config.toml file")
	flag.StringVar(&addr, "addr", "", "Listen address")
	flag.IntVar(&ttlMinutes, "ttl", 0, "Minutes before an unclaimed registration expires")
	flag.StringVar(&logLevel, "loglevel", "", "Log level can be 'info' or 'debug'")
	flag.Parse()

	charmLogger := log.NewWithOptions(os.Stderr, log.Options{Level: log.InfoLevel})
	slog.SetDefault(slog.New(charmLogger))

	appConf, err := config.Setup(configPath)
	if err != nil {
		slog.Error("error setting up config", slog.Any("err", err))
		os.Exit(1)
	}
	if addr != "" {
		appConf.ListenAddr = addr
	}
	if ttlMinutes > 0 {
		appConf.SessionTTL = ttlMinutes
	}
	if logLevel != "" {
		appConf.LogLevel = logLevel
	}
	if appConf.LogLevel == "debug" {
		slog.SetDefault(slog.New(log.NewWithOptions(os.Stderr, log.Options{Level: log.DebugLevel, ReportCaller: true})))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	hub := broker.NewHub(appConf.SessionTTLDuration())
	go hub.Run(ctx.Done())

	srv := &http.Server{
		Addr:    appConf.ListenAddr,
		Handler: hub.Router(),
	}

	errChan := make(chan error)
	go func() {
		slog.Info("broker listening", slog.String("addr", appConf.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errChan:
		slog.Error("error running broker", slog.Any("error", err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}
