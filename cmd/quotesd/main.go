package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"quoteflow/internal/application/service"
	"quoteflow/internal/infrastructure/config"
	"quoteflow/internal/infrastructure/logger"
	"quoteflow/internal/infrastructure/svc"
	"quoteflow/internal/interfaces/console"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	watch := flag.String("watch", "", "ticker to poll through the quote gateway (disabled when empty)")
	watchEvery := flag.Duration("watch-every", time.Second, "interval between gateway polls")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Setup("info")
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service context initialization failed")
	}
	defer sc.Close()

	log.Info().
		Str("config", *configPath).
		Str("stream", cfg.Feed.Stream).
		Str("group", cfg.Feed.Group).
		Str("consumer", cfg.Feed.Consumer).
		Msg("quotesd started")

	worker, err := sc.BuildWorker()
	if err != nil {
		log.Error().Err(err).Msg("build worker failed")
		sc.Close()
		os.Exit(1)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	if *watch != "" {
		g.Go(func() error {
			runWatch(gctx, sc.Gateway(), *watch, *watchEvery)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("quotesd exited")
		sc.Close()
		os.Exit(1)
	}
	log.Info().Interface("stats", worker.Stats()).Msg("quotesd stopped")
}

// runWatch polls the gateway so breaker transitions show up in the logs.
func runWatch(ctx context.Context, gw *service.QuoteGateway, ticker string, every time.Duration) {
	sink := console.NewSink()
	tick := time.NewTicker(every)
	defer tick.Stop()

	for i := 1; ; i++ {
		res := gw.GetLatestQuote(ctx, ticker)
		if err := sink.WriteQuote(time.Now(), res); err != nil {
			log.Warn().Err(err).Msg("write gateway result failed")
		}
		log.Debug().Int("iteration", i).Str("ticker", ticker).Bool("live", res.Live).Str("reason", string(res.Reason)).Msg("gateway polled")

		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}
