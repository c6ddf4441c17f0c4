package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/punchamoorthee/marketops/internal/api"
	"github.com/punchamoorthee/marketops/internal/bank"
	"github.com/punchamoorthee/marketops/internal/config"
	"github.com/punchamoorthee/marketops/internal/notify"
	"github.com/punchamoorthee/marketops/internal/service"
	"github.com/punchamoorthee/marketops/internal/session"
	"github.com/punchamoorthee/marketops/internal/store"
	"github.com/punchamoorthee/marketops/internal/wish"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.Env)
	defer logger.Sync()

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database.Source, cfg.Database.MaxRetries, logger)
	if err != nil {
		logger.Fatal("unable to connect to database", zap.Error(err))
	}
	defer st.Close()

	bankClient := bank.NewHTTPClient(cfg.Bank.URL, cfg.Bank.Timeout)
	registry := session.NewRegistry(cfg.Session.ProbeTimeout, logger)
	wishes := wish.NewIndex()
	dispatcher := notify.NewDispatcher(registry, st, logger)
	market := service.NewMarket(st, bankClient, registry, wishes, dispatcher, logger)

	handler := api.NewHandler(market, logger)
	wsHandler := api.NewWSHandler(market, registry, cfg.Session.WriteTimeout, logger)

	r := api.NewRouter(handler, wsHandler, cfg.Limits.PerSecond, cfg.Limits.Burst)

	logger.Info("market server starting", zap.String("port", cfg.Server.Port))
	if err := http.ListenAndServe(":"+cfg.Server.Port, r); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	if env == "production" {
		return zap.Must(zap.NewProduction())
	}
	devCfg := zap.NewDevelopmentConfig()
	devCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zap.Must(devCfg.Build())
}
