// Package kafka streams closed candles to a Kafka topic. Messages are keyed
// by "instrument:interval" and hash-partitioned, so each series stays in
// order within its partition.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"candle-aggregation/internal/model"

	kafkago "github.com/segmentio/kafka-go"
)

const (
	defaultTopic      = "candles"
	defaultBatchSize  = 100
	defaultFlushEvery = 200 * time.Millisecond
	flushTimeout      = 5 * time.Second
)

// Config configures the Kafka publisher.
type Config struct {
	Brokers []string
	Topic   string // default "candles"

	BatchSize  int           // messages per write, default 100
	FlushEvery time.Duration // max time a candle waits in the batch, default 200ms
}

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher batches closed candles and writes them to Kafka.
type Publisher struct {
	w          messageWriter
	topic      string
	batchSize  int
	flushEvery time.Duration

	// Metrics hooks (optional)
	OnFlush func(n int, took time.Duration)
	OnError func(err error)
}

// New creates a Publisher. The writer connects lazily on first write.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = defaultTopic
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	slog.Info("kafka publisher configured", "component", "kafka", "brokers", cfg.Brokers, "topic", topic)
	return newPublisher(w, topic, cfg.BatchSize, cfg.FlushEvery), nil
}

func newPublisher(w messageWriter, topic string, batchSize int, flushEvery time.Duration) *Publisher {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushEvery <= 0 {
		flushEvery = defaultFlushEvery
	}
	return &Publisher{w: w, topic: topic, batchSize: batchSize, flushEvery: flushEvery}
}

// Run batches candles from in and writes them until in is closed or ctx is
// cancelled. Pending candles are flushed before returning.
func (p *Publisher) Run(ctx context.Context, in <-chan model.ClosedCandle) {
	ticker := time.NewTicker(p.flushEvery)
	defer ticker.Stop()

	batch := make([]kafkago.Message, 0, p.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		p.write(ctx, batch)
		batch = batch[:0]
	}
	finalFlush := func() {
		fctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		flush(fctx)
	}

	for {
		select {
		case <-ctx.Done():
			finalFlush()
			return
		case c, ok := <-in:
			if !ok {
				finalFlush()
				return
			}
			batch = append(batch, message(c))
			if len(batch) >= p.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

func (p *Publisher) write(ctx context.Context, batch []kafkago.Message) {
	start := time.Now()
	if err := p.w.WriteMessages(ctx, batch...); err != nil {
		slog.Warn("kafka write failed", "component", "kafka", "messages", len(batch), "error", err)
		if p.OnError != nil {
			p.OnError(err)
		}
		return
	}
	if p.OnFlush != nil {
		p.OnFlush(len(batch), time.Since(start))
	}
}

func message(c model.ClosedCandle) kafkago.Message {
	return kafkago.Message{
		Key:   []byte(c.Key()),
		Value: c.JSON(),
		Time:  time.UnixMilli(c.Candle.WindowStart),
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
