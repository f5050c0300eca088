// cmd/candled runs the candle aggregation service. Ticks flow from a feed
// into the ingest queue and the registry aggregates them into per-interval
// windows. The close cycle saves closed candles to the store and optionally
// fans them out to Redis and Kafka; the query API serves range queries.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"candle-aggregation/config"
	"candle-aggregation/internal/api"
	"candle-aggregation/internal/logger"
	"candle-aggregation/internal/marketdata/agg"
	"candle-aggregation/internal/marketdata/bus"
	"candle-aggregation/internal/marketdata/closecycle"
	"candle-aggregation/internal/marketdata/feed"
	"candle-aggregation/internal/marketdata/ingest"
	"candle-aggregation/internal/marketdata/replay"
	"candle-aggregation/internal/marketdata/wssim"
	"candle-aggregation/internal/metrics"
	"candle-aggregation/internal/model"
	kafkastore "candle-aggregation/internal/store/kafka"
	"candle-aggregation/internal/store/memory"
	redisstore "candle-aggregation/internal/store/redis"
	sqlitestore "candle-aggregation/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("candled exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init("candled", cfg.SlogLevel())
	slog.Info("starting", "intervals", labels(cfg.Intervals), "store", cfg.StoreBackend, "feed", cfg.Feed)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Metrics & health ----
	m := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	health.SetIntervals(labels(cfg.Intervals))
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, nil)

	// ---- Store ----
	store, sqlDB, closeStore, err := openStore(cfg, m)
	if err != nil {
		return err
	}
	defer closeStore()

	// ---- Aggregation ----
	registry := agg.NewRegistry(cfg.Intervals, store)
	registry.OnWindowCreated = func(instrument, interval string) {
		slog.Debug("window created", "component", "agg", "symbol", instrument, "interval", interval)
	}

	queue := ingest.New(cfg.QueueSize)
	queue.OnSubmit = m.TicksTotal.Inc
	queue.OnDrop = m.DroppedTicks.Inc

	cycle := closecycle.New(registry, cfg.CloseEvery)
	cycle.OnCycle = func(produced int, took time.Duration) {
		m.CloseCycleDur.Observe(took.Seconds())
		m.LiveWindows.Set(float64(registry.Len()))
	}

	// ---- Optional publishers behind the fan-out bus ----
	var (
		publisher *redisstore.Publisher
		rdb       *goredis.Client
		stream    *kafkastore.Publisher
	)
	if cfg.RedisAddr != "" {
		publisher, err = redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			return fmt.Errorf("redis publisher: %w", err)
		}
		defer publisher.Close()
		rdb = publisher.Client()

		publisher.OnPublished = func(took time.Duration) { m.RedisPublishDur.Observe(took.Seconds()) }
		publisher.OnSkipped = m.RedisPublishSkipped.Inc
		publisher.Breaker().OnStateChange = func(from, to redisstore.State) {
			m.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				m.RedisCircuitBreakerTrips.Inc()
			}
			slog.Warn("redis circuit breaker", "component", "redis", "from", from.String(), "to", to.String())
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		stream, err = kafkastore.New(kafkastore.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		defer stream.Close()

		stream.OnFlush = func(n int, took time.Duration) {
			m.KafkaMessages.Add(float64(n))
			m.KafkaFlushDur.Observe(took.Seconds())
		}
		stream.OnError = func(error) { m.KafkaWriteErrors.Inc() }
	}

	var fanout *bus.FanOut
	if publisher != nil || stream != nil {
		fanout = bus.New(5000)
		fanout.OnDrop = func(idx int) {
			m.FanoutDropsTotal.WithLabelValues(fmt.Sprint(idx)).Inc()
		}
	}

	registry.OnCandle = func(c model.ClosedCandle) {
		m.CandlesTotal.WithLabelValues(c.Interval).Inc()
		if fanout != nil {
			fanout.Publish(c)
		}
	}

	// ---- Query API ----
	handler := api.NewHandler(store, cfg.Intervals)
	handler.OnRequest = func(route string, code int) {
		m.APIRequests.WithLabelValues(route, fmt.Sprint(code)).Inc()
	}
	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// ---- Run ----
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		queue.Run(gctx, registry)
		return nil
	})
	g.Go(func() error {
		cycle.Run(gctx)
		return nil
	})
	if publisher != nil {
		redisCh := fanout.Subscribe()
		g.Go(func() error {
			publisher.Run(gctx, redisCh)
			return nil
		})
	}
	if stream != nil {
		kafkaCh := fanout.Subscribe()
		g.Go(func() error {
			stream.Run(gctx, kafkaCh)
			return nil
		})
	}
	if fanout != nil {
		g.Go(func() error {
			fanout.Run(gctx)
			return nil
		})
	}
	if err := startFeed(gctx, g, cfg, queue, m, health); err != nil {
		return err
	}
	g.Go(func() error {
		health.RunLivenessChecker(gctx, rdb, sqlDB, 10*time.Second)
		return nil
	})
	g.Go(func() error {
		sample(gctx, queue, fanout, registry, m, health)
		return nil
	})

	g.Go(func() error {
		return metricsSrv.ListenAndServe()
	})
	g.Go(func() error {
		slog.Info("query api listening", "component", "api", "addr", cfg.HTTPAddr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("query api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(apiSrv.Shutdown(shutdownCtx), metricsSrv.Shutdown(shutdownCtx))
	})

	err = g.Wait()
	slog.Info("stopped", "ticks", queue.Submitted(), "dropped", queue.Dropped())
	return err
}

// openStore builds the configured candle store. The returned *sql.DB is nil
// for the memory backend.
func openStore(cfg *config.Config, m *metrics.Metrics) (model.CandleStore, *sql.DB, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		st, err := sqlitestore.New(sqlitestore.Config{DSN: cfg.SQLiteDSN})
		if err != nil {
			return nil, nil, nil, err
		}
		st.OnError = func(op string, _ error) { m.StoreErrors.WithLabelValues(op).Inc() }
		return st, st.DB(), func() { st.Close() }, nil
	default:
		return memory.New(), nil, func() {}, nil
	}
}

// startFeed launches the configured tick producer.
func startFeed(ctx context.Context, g *errgroup.Group, cfg *config.Config, out model.TickSubmitter, m *metrics.Metrics, health *metrics.HealthStatus) error {
	switch cfg.Feed {
	case config.FeedSynthetic:
		instruments, err := feed.ParseInstruments(cfg.FeedSymbols)
		if err != nil {
			return fmt.Errorf("FEED_SYMBOLS: %w", err)
		}
		synth := feed.NewSynthetic(instruments, cfg.FeedEvery, time.Now().UnixNano())
		health.SetFeedConnected(true)
		g.Go(func() error {
			synth.Run(ctx, out)
			return nil
		})
	case config.FeedWS:
		ing, err := wssim.New(wssim.Config{URL: cfg.SimWSURL})
		if err != nil {
			return err
		}
		ing.OnReconnect = func() {
			m.WSReconnects.Inc()
			health.SetFeedConnected(false)
		}
		ing.OnInvalid = m.InvalidTicks.Inc
		g.Go(func() error {
			return ing.Run(ctx, out)
		})
	case config.FeedReplay:
		f, err := os.Open(cfg.ReplayFile)
		if err != nil {
			return fmt.Errorf("replay file: %w", err)
		}
		rp, err := replay.Load(f)
		f.Close()
		if err != nil {
			return err
		}
		health.SetFeedConnected(true)
		g.Go(func() error {
			if _, err := rp.Run(ctx, cfg.ReplaySpeed, out); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	default:
		slog.Info("no feed configured; ticks must be submitted by an embedding process")
	}
	return nil
}

// sample refreshes saturation gauges and tick-flow health once a second.
func sample(ctx context.Context, q *ingest.Queue, fanout *bus.FanOut, reg *agg.Registry, m *metrics.Metrics, health *metrics.HealthStatus) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastSubmitted uint64
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.ObserveSaturation("ingest", q.Len(), q.Cap())
			if fanout != nil {
				for i, st := range fanout.ChannelStats() {
					m.ObserveSaturation(fmt.Sprintf("fanout_%d", i), st.Len, st.Cap)
				}
			}
			m.LiveWindows.Set(float64(reg.Len()))

			if n := q.Submitted(); n != lastSubmitted {
				lastSubmitted = n
				health.SetLastTickTime(now)
				health.SetFeedConnected(true)
			}
		}
	}
}

func labels(ivs []model.Interval) []string {
	out := make([]string, len(ivs))
	for i, iv := range ivs {
		out[i] = iv.Label
	}
	return out
}
