// Package publish exports quote snapshots to Kafka for downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rickgao/quotecore/internal/metrics"
	"github.com/rickgao/quotecore/internal/model"
	"github.com/rickgao/quotecore/internal/queue"
)

// maxBatch bounds messages per WriteMessages call.
const maxBatch = 100

// KafkaWriter is the subset of *kafka.Writer the publisher uses.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds publisher configuration. No brokers disables publishing.
type Config struct {
	Brokers      []string
	Topic        string
	BufferSize   int
	WriteTimeout time.Duration
}

// Enabled reports whether brokers are configured.
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0 && c.Topic != ""
}

// NewKafkaWriter builds a kafka-go writer for cfg.
func NewKafkaWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// Stats holds publisher counters.
type Stats struct {
	Sent    uint64      `json:"sent"`
	Failed  uint64      `json:"failed"`
	Dropped uint64      `json:"dropped"`
	Queue   queue.Stats `json:"queue"`
}

// message is the JSON payload written for each snapshot.
type message struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
	Seq           uint64    `json:"seq"`
	Instance      string    `json:"instance,omitempty"`
}

// Publisher writes snapshots to a Kafka topic keyed by symbol. Publish
// never blocks; a full queue drops the oldest snapshot.
type Publisher struct {
	cfg      Config
	writer   KafkaWriter
	instance string
	logger   *slog.Logger

	input *queue.Queue[model.QuoteSnapshot]

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a publisher writing through w.
func New(cfg Config, w KafkaWriter, instance string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 4096
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Publisher{
		cfg:      cfg,
		writer:   w,
		instance: instance,
		logger:   logger.With("component", "publisher", "topic", cfg.Topic),
		input:    queue.New[model.QuoteSnapshot](min(cfg.BufferSize, 256), cfg.BufferSize),
	}
}

// Publish enqueues snap for export.
func (p *Publisher) Publish(snap model.QuoteSnapshot) bool {
	ok, dropped := p.input.Push(snap)
	if dropped {
		p.dropped.Add(1)
		metrics.PublisherMessages.WithLabelValues("dropped").Inc()
	}
	return ok
}

// Start begins the export loop.
func (p *Publisher) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("snapshot publisher started", "brokers", p.cfg.Brokers)
	return nil
}

// Stop flushes queued snapshots within ctx and closes the writer.
func (p *Publisher) Stop(ctx context.Context) error {
	p.input.Close()
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("snapshot publisher stop timed out")
		return ctx.Err()
	}

	for {
		batch := p.input.Drain(maxBatch)
		if len(batch) == 0 {
			break
		}
		p.write(ctx, batch)
	}

	if err := p.writer.Close(); err != nil {
		p.logger.Warn("kafka writer close failed", "error", err)
	}
	p.logger.Info("snapshot publisher stopped")
	return nil
}

// Stats returns current counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Sent:    p.sent.Load(),
		Failed:  p.failed.Load(),
		Dropped: p.dropped.Load(),
		Queue:   p.input.Stats(),
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for {
		first, ok := p.input.Pop(p.ctx)
		if !ok {
			return
		}
		batch := append([]model.QuoteSnapshot{first}, p.input.Drain(maxBatch-1)...)
		p.write(p.ctx, batch)
	}
}

func (p *Publisher) write(ctx context.Context, batch []model.QuoteSnapshot) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, snap := range batch {
		m, err := p.encode(snap)
		if err != nil {
			p.logger.Warn("encode snapshot failed", "symbol", snap.Symbol, "error", err)
			p.failed.Add(1)
			metrics.PublisherMessages.WithLabelValues("failed").Inc()
			continue
		}
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		return
	}

	wctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(wctx, msgs...); err != nil {
		p.logger.Warn("kafka write failed", "count", len(msgs), "error", err)
		p.failed.Add(uint64(len(msgs)))
		metrics.PublisherMessages.WithLabelValues("failed").Add(float64(len(msgs)))
		return
	}
	p.sent.Add(uint64(len(msgs)))
	metrics.PublisherMessages.WithLabelValues("sent").Add(float64(len(msgs)))
}

func (p *Publisher) encode(snap model.QuoteSnapshot) (kafka.Message, error) {
	value, err := json.Marshal(message{
		Symbol:        snap.Symbol,
		Price:         snap.Price,
		Change:        snap.Change,
		ChangePercent: snap.ChangePercent,
		Volume:        snap.Volume,
		Timestamp:     snap.Timestamp.UTC(),
		Source:        string(snap.Source),
		Seq:           snap.Seq,
		Instance:      p.instance,
	})
	if err != nil {
		return kafka.Message{}, err
	}
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return kafka.Message{
		Key:   []byte(snap.Symbol),
		Value: value,
		Time:  ts,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(snap.Source)},
		},
	}, nil
}
