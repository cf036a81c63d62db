package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/maxbolgarin/contem"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/helpdesk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive updates by webhook and serve /health and /metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx contem.Context, s *helpdesk.Service) error {
			return s.StartWebhook(ctx)
		})
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Receive updates by long polling, the webhook is removed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx contem.Context, s *helpdesk.Service) error {
			return s.StartPolling(ctx)
		})
	},
}

func run(start func(contem.Context, *helpdesk.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.Debug)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx := contem.New()
	defer func() {
		if err := ctx.Shutdown(); err != nil {
			log.Error("shutdown", "error", err)
		}
	}()

	s, err := helpdesk.New(ctx, cfg,
		helpdesk.WithLogger(log),
		helpdesk.WithMetrics(registry),
	)
	if err != nil {
		return errm.Wrap(err, "new helpdesk")
	}
	if err := start(ctx, s); err != nil {
		return err
	}

	log.Info("helpdesk started", "support_chat_id", cfg.SupportChatID, "storage", cfg.Storage)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("helpdesk is stopping")

	return nil
}
