package main

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hpungsan/logsift/internal/classify"
	"github.com/hpungsan/logsift/internal/config"
	"github.com/hpungsan/logsift/internal/ingest"
	"github.com/hpungsan/logsift/internal/mcp"
	"github.com/hpungsan/logsift/internal/notify"
	"github.com/hpungsan/logsift/internal/rules"
	"github.com/hpungsan/logsift/internal/store"
	"github.com/hpungsan/logsift/internal/web"
)

// drainTimeout bounds delivery of records still queued at shutdown.
const drainTimeout = 30 * time.Second

// runServe runs the ingest server, store engine, notification dispatcher and
// admin API until ctx is done. With mcpMode the MCP stdio server runs too,
// and stdin closing stops the service.
func runServe(ctx context.Context, cfg *config.Config, mcpMode bool) (err error) {
	started := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := rules.NewRegistry(cfg.RulesPath)
	if err := reg.Reload(); err != nil {
		log.Warn().Str("path", cfg.RulesPath).Msg("no site rules loaded; every origin uses the default rules")
	}

	hub := notify.NewHub()
	defer hub.Close()

	deliverers, tg, err := buildDeliverers(ctx, cfg, hub)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("service crashed")
			if tg != nil {
				alertCtx, alertCancel := context.WithTimeout(context.Background(), 10*time.Second)
				_ = tg.Alert(alertCtx, fmt.Sprintf("logsift crashed: %v", r))
				alertCancel()
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	queue := notify.NewQueue()
	engine, err := store.New(store.Options{
		DataDir:     cfg.DataDir,
		RotateLimit: cfg.RotateLimit,
		QueueSize:   cfg.QueueSize,
	}, queue)
	if err != nil {
		return err
	}
	engine.Start()
	defer engine.Stop()

	dispatcher := notify.NewDispatcher(queue, deliverers, notify.WithPause(time.Second))
	ingestSrv := ingest.NewServer(classify.NewPipeline(reg, engine), ingest.Options{
		MaxLineBytes: cfg.MaxLineBytes,
		IdleTimeout:  cfg.ReadIdleTimeout.Std(),
	})

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(name string, err error) {
		if err == nil {
			return
		}
		log.Error().Err(err).Str("component", name).Msg("component failed; shutting down")
		errOnce.Do(func() { firstErr = err })
		cancel()
	}
	goRun := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fail(name, fn())
		}()
	}

	goRun("ingest", func() error { return ingestSrv.ListenAndServe(ctx, cfg.ListenAddr) })

	var dispWG sync.WaitGroup
	dispWG.Add(1)
	go func() {
		defer dispWG.Done()
		fail("dispatcher", dispatcher.Run(ctx))
	}()

	if cfg.AdminAddr != "" {
		srv := web.NewServer(web.Deps{Engine: engine, Registry: reg, Hub: hub, Started: started}, cfg.AdminAddr)
		goRun("admin", func() error { return web.Run(ctx, srv) })
	}

	if mcpMode {
		s := mcp.NewServer(mcp.NewHandlers(engine, reg, started), cfg, Version)
		goRun("mcp", func() error {
			defer cancel()
			return mcp.Run(ctx, s)
		})
	}

	log.Info().
		Str("listen", cfg.ListenAddr).
		Str("admin", cfg.AdminAddr).
		Str("data_dir", cfg.DataDir).
		Int("rotate_limit", cfg.RotateLimit).
		Bool("mcp", mcpMode).
		Msg("logsift started")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	// Ingest first so no new writes arrive, then flush the engine, then
	// deliver whatever the engine published on the way out.
	wg.Wait()
	engine.Stop()
	dispWG.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	dispatcher.Drain(drainCtx)
	if n := queue.Len(); n > 0 {
		log.Warn().Int("records", n).Msg("undelivered notifications dropped at shutdown")
	}

	log.Info().Dur("uptime", time.Since(started)).Msg("logsift stopped")
	return firstErr
}

// buildDeliverers creates the notification channels enabled in cfg. The log
// deliverer and the WebSocket hub are always present.
func buildDeliverers(ctx context.Context, cfg *config.Config, hub *notify.Hub) ([]notify.Deliverer, *notify.Telegram, error) {
	deliverers := []notify.Deliverer{notify.LogDeliverer{}, hub}

	var tg *notify.Telegram
	if cfg.Telegram.BotToken != "" {
		if cfg.Telegram.ChatID == "" {
			return nil, nil, fmt.Errorf("telegram: chat_id is required when a bot token is set")
		}
		tg = notify.NewTelegram(cfg.Telegram.APIBase, cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		deliverers = append(deliverers, tg)
	}
	if cfg.Webhook.URL != "" {
		deliverers = append(deliverers, notify.NewWebhook(cfg.Webhook.URL))
	}
	if cfg.S3.Bucket != "" {
		archive, err := notify.NewS3ArchiveFromEnv(ctx, cfg.S3.Region, cfg.S3.Bucket, cfg.S3.Prefix)
		if err != nil {
			return nil, nil, err
		}
		deliverers = append(deliverers, archive)
	}

	names := make([]string, 0, len(deliverers))
	durable := false
	for _, d := range deliverers {
		names = append(names, d.Name())
		durable = durable || d.Durable()
	}
	log.Info().Strs("deliverers", names).Msg("notification channels configured")
	if !durable {
		log.Warn().Msg("no durable notification channel; rotated files are kept on disk")
	}
	return deliverers, tg, nil
}
