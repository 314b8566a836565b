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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/logs"

	"tradesim/internal/api"
	"tradesim/internal/core"
	"tradesim/internal/ingest"
	"tradesim/internal/notify"
	"tradesim/internal/obs"
	"tradesim/internal/ops"
	"tradesim/internal/persist"
	"tradesim/internal/pubsub"
	"tradesim/internal/risk"
	"tradesim/internal/schema"
	"tradesim/internal/stream"
	"tradesim/pkg/conn"
)

const (
	statsInterval   = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Printf("server: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file (yaml, json or toml)")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		return err
	}
	if loaded.HTTP.JWTSecret == "" {
		return errors.New("http.jwt_secret is required")
	}

	stopProfiler, err := ops.StartProfiler(loaded.Pyroscope, "server")
	if err != nil {
		return err
	}
	defer stopProfiler()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := obs.NewMetrics(registry)

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	hub := stream.NewHub(loaded.Stream.BufferSize, metrics)
	deps := core.Deps{
		Broadcaster: hub,
		Metrics:     metrics,
	}

	var producer *notify.Producer
	if loaded.Kafka.Enabled {
		writer := notify.NewKafkaWriter(loaded.Kafka.Brokers, loaded.Kafka.Topic)
		producer = notify.NewProducer(writer, loaded.Kafka.QueueSize, metrics)
		deps.Notifier = producer
		goRun(func() { producer.Run(ctx) })
		logs.Infof("notifications to kafka %v topic %s", loaded.Kafka.Brokers, writer.Topic)
	}

	var sink *persist.Sink
	if loaded.Feed == ops.FeedBinance && loaded.Postgres.Enabled {
		var closeDB func()
		sink, closeDB, err = openSink(ctx, loaded, metrics)
		if err != nil {
			return err
		}
		defer closeDB()
		deps.Sink = sink
		goRun(func() { sink.Run(ctx) })
	}

	engine := core.New(core.Config{
		QueueSize:      loaded.QueueSize,
		Timeframes:     loaded.Timeframes,
		InitialBalance: loaded.InitialBalance,
	}, loaded.Registry, risk.NewEngine(loaded.Risk), deps)
	goRun(func() { engine.Run(ctx) })

	submit := func(t schema.Tick) {
		if err := engine.SubmitTick(ctx, t); err != nil && ctx.Err() == nil {
			metrics.IncQueueDrop("core")
			logs.Errorf("submit tick %s %d, err: %+v", t.Instrument, t.TradeID, err)
		}
	}

	switch loaded.Feed {
	case ops.FeedRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    loaded.Redis.Addrs,
			Password: loaded.Redis.Password,
			DB:       loaded.Redis.DB,
		})
		defer client.Close()
		subscriber := pubsub.NewSubscriber(client, loaded.Redis.Channel, loaded.Registry)
		goRun(func() {
			if err := subscriber.Run(ctx, submit); err != nil {
				logs.Errorf("redis feed stopped, err: %+v", err)
				stop()
			}
		})
	case ops.FeedBinance:
		feed := ingest.NewBinanceFeed(ctx, loaded.BinanceURL)
		normalizer := ingest.NewNormalizer(loaded.Registry, loaded.SpreadBps)
		goRun(func() {
			if err := ingest.Pipe(ctx, feed, normalizer, loaded.Registry, submit); err != nil {
				logs.Errorf("binance feed stopped, err: %+v", err)
				stop()
			}
		})
	}

	server := api.NewServer(engine, loaded.Registry, loaded.Risk, api.NewJWTAuthenticator(loaded.HTTP.JWTSecret), api.Options{
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Stream:  hub,
	})
	httpServer := &http.Server{
		Addr:              loaded.HTTP.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	goRun(func() {
		logs.Infof("http listening on %s", loaded.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errorf("http server, err: %+v", err)
			stop()
		}
	})

	goRun(func() { logStats(ctx, metrics, hub) })

	<-ctx.Done()
	logs.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logs.Errorf("http shutdown, err: %+v", err)
	}
	hub.Close()
	engine.Stop()
	if sink != nil {
		sink.Close()
	}
	if producer != nil {
		producer.Close()
	}

	wg.Wait()
	return nil
}

// openSink connects the trades store. closeDB must run after the sink's Run
// has returned.
func openSink(ctx context.Context, loaded ops.Loaded, metrics *obs.Metrics) (sink *persist.Sink, closeDB func(), err error) {
	db, err := conn.OpenPostgres(ctx, loaded.Postgres.PostgresOption())
	if err != nil {
		return nil, nil, err
	}
	closeDB = func() {
		if err := conn.ClosePostgres(db); err != nil {
			logs.Errorf("close postgres, err: %+v", err)
		}
	}

	store := persist.NewGormStore(db)
	if loaded.Postgres.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			closeDB()
			return nil, nil, err
		}
	}
	return persist.NewSink(loaded.Persist, store, metrics), closeDB, nil
}

func logStats(ctx context.Context, metrics *obs.Metrics, hub *stream.Hub) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := metrics.TickLatency()
			logs.Infof("ticks %d latency avg %s min %s max %s, stream clients %d dropped %d",
				snap.Count, snap.Avg, snap.Min, snap.Max, hub.Len(), hub.Dropped())
		}
	}
}
