package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/logs"

	"tradesim/internal/ingest"
	"tradesim/internal/obs"
	"tradesim/internal/ops"
	"tradesim/internal/persist"
	"tradesim/internal/pubsub"
	"tradesim/internal/schema"
	"tradesim/pkg/conn"
)

const publishTimeout = time.Second

func main() {
	if err := run(); err != nil {
		log.Printf("ingest: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file (yaml, json or toml)")
	metricsAddr := flag.String("metrics", ":9101", "metrics listen address, empty to disable")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		return err
	}

	stopProfiler, err := ops.StartProfiler(loaded.Pyroscope, "ingest")
	if err != nil {
		return err
	}
	defer stopProfiler()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := obs.NewMetrics(registry)

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    loaded.Redis.Addrs,
		Password: loaded.Redis.Password,
		DB:       loaded.Redis.DB,
	})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return err
	}
	publisher := pubsub.NewPublisher(client, loaded.Redis.Channel)

	var wg sync.WaitGroup

	var sink *persist.Sink
	if loaded.Postgres.Enabled {
		db, err := conn.OpenPostgres(ctx, loaded.Postgres.PostgresOption())
		if err != nil {
			return err
		}
		defer func() { _ = conn.ClosePostgres(db) }()

		store := persist.NewGormStore(db)
		if loaded.Postgres.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				return err
			}
		}
		sink = persist.NewSink(loaded.Persist, store, metrics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Run(ctx)
		}()
	}

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logs.Errorf("metrics server, err: %+v", err)
			}
		}()
		defer srv.Close()
	}

	handle := func(t schema.Tick) {
		start := time.Now()
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := publisher.Publish(pubCtx, t)
		cancel()
		if err != nil {
			metrics.IncQueueDrop("redis")
			logs.Errorf("publish tick %s %d, err: %+v", t.Instrument, t.TradeID, err)
		}
		if sink != nil {
			if err := sink.Enqueue(t); err != nil {
				metrics.IncQueueDrop("persist")
			}
		}
		metrics.ObserveTick(t.Instrument, time.Since(start))
	}

	feed := ingest.NewBinanceFeed(ctx, loaded.BinanceURL)
	normalizer := ingest.NewNormalizer(loaded.Registry, loaded.SpreadBps)
	logs.Infof("ingesting %v into redis channel %s", ingest.FeedSymbols(loaded.Registry), loaded.Redis.Channel)
	err = ingest.Pipe(ctx, feed, normalizer, loaded.Registry, handle)

	if sink != nil {
		sink.Close()
	}
	stop()
	wg.Wait()
	return err
}
