package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/api"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/prompts"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers/factory"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/runlog"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/store"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/summarize"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(os.Getenv("TGMAX_LOG_LEVEL")); err == nil {
		logrus.SetLevel(level)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("loading configuration failed")
	}

	tmpl, err := prompts.Load(cfg.Prompts)
	if err != nil {
		logrus.WithError(err).Fatal("loading prompt templates failed")
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("opening database failed")
	}
	defer st.Close()

	registry := providers.NewRegistry()
	factory.RegisterBuiltins(registry, tmpl)
	selector := providers.NewSelector(registry, cfg.Providers, cfg.FallbackOrder)

	runlogs := runlog.NewFactory(cfg.RunLogs.Dir)
	runlogs.CleanupOld(cfg.RunLogs.RetentionDays)

	svc := summarize.NewService(cfg, registry, selector, st, tmpl, runlogs)
	app := api.NewServer(cfg, svc, st)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logrus.WithField("addr", addr).Info("server listening")
		if err := app.Listen(addr); err != nil {
			logrus.WithError(err).Fatal("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("shutting down")
	if err := app.Shutdown(); err != nil {
		logrus.WithError(err).Error("shutdown failed")
	}
}
