// Package notify publishes position lifecycle events to Kafka for an
// external mail worker.
//
// Publishing is fire-and-forget: events are queued without blocking and a
// failed write is logged and dropped. The ledger change that produced the
// event is never affected.
package notify

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradesim/internal/bus"
	"tradesim/internal/ledger"
	"tradesim/internal/obs"
)

const (
	DefaultTopic     = "trade-notifications"
	DefaultQueueSize = 1024

	writeTimeout = 10 * time.Second
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
	}
}

// Producer queues events and writes them from its own goroutine.
type Producer struct {
	writer  MessageWriter
	queue   *bus.Queue[Event]
	metrics *obs.Metrics
}

// NewProducer creates a producer with a queue of queueSize events.
func NewProducer(writer MessageWriter, queueSize int, metrics *obs.Metrics) *Producer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Producer{
		writer:  writer,
		queue:   bus.NewQueue[Event](queueSize),
		metrics: metrics,
	}
}

// PositionOpened queues a position_opened event.
func (p *Producer) PositionOpened(pos ledger.Position) error {
	return p.enqueue(OpenedEvent(pos))
}

// PositionClosed queues a position_closed event.
func (p *Producer) PositionClosed(pos ledger.Position) error {
	return p.enqueue(ClosedEvent(pos))
}

func (p *Producer) enqueue(e Event) error {
	if err := p.queue.TryPublish(e); err != nil {
		p.metrics.IncQueueDrop("notify")
		return err
	}
	return nil
}

// Close stops accepting events. Run writes what is queued and returns.
func (p *Producer) Close() {
	p.queue.Close()
}

// Run writes queued events until ctx is done or Close is called, then closes
// the writer.
func (p *Producer) Run(ctx context.Context) {
	defer func() {
		if err := p.writer.Close(); err != nil {
			logs.Errorf("close notification writer, err: %+v", err)
		}
	}()
	p.queue.Run(ctx, p.write)
}

func (p *Producer) write(e Event) {
	err := p.send(e)
	p.metrics.ObserveNotification(e.Type, err)
	if err != nil {
		logs.Errorf("drop notification %s for %s, err: %+v", e.Type, e.PositionID, err)
	}
}

func (p *Producer) send(e Event) error {
	value, err := sonic.ConfigFastest.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(e.Owner),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write kafka message")
	}
	return nil
}
