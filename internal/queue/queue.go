// Package queue consumes submission jobs from and publishes progress
// events to Kafka. Trimmed from internal/common/mq's backend-agnostic
// MessageQueue abstraction (which also modeled RabbitMQ/NATS and
// priority-weighted multi-topic fetch) down to the single Kafka consumer
// group and single-topic producer the judging daemon actually needs: one
// topic of incoming submissions, one topic of outgoing progress events,
// retried with a dead-letter topic on permanent handler failure.
package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is one queue message, trimmed from internal/common/mq.Message
// to the fields the judging daemon's handlers actually read.
type Message struct {
	ID         string
	Body       []byte
	Timestamp  time.Time
	RetryCount int
	MaxRetries int
}

// HandlerFunc processes one message. Returning a non-nil error causes a
// retry, up to Options.MaxRetries, after which the message is committed
// and forwarded to the dead-letter topic if one is configured.
type HandlerFunc func(ctx context.Context, msg Message) error

const (
	headerID         = "x-message-id"
	headerRetryCount = "x-message-retry"
)

// Producer publishes messages to a Kafka topic.
type Producer struct {
	writer *kafka.Writer
}

// Config holds the Kafka connection settings shared by Producer and
// Consumer, grounded on internal/common/mq.KafkaConfig's defaults.
type Config struct {
	Brokers      []string
	ClientID     string
	BatchTimeout time.Duration
	MinBytes     int
	MaxBytes     int
	MaxWait      time.Duration
}

func (cfg *Config) setDefaults() {
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1 << 10
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}
}

func NewProducer(cfg Config, topic string) *Producer {
	cfg.setDefaults()
	return &Producer{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: cfg.BatchTimeout,
	}}
}

func (p *Producer) Publish(ctx context.Context, msg Message) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.ID),
		Value: msg.Body,
		Time:  msg.Timestamp,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Options configures a Consumer's retry and concurrency behavior.
type Options struct {
	ConsumerGroup   string
	Concurrency     int // bounded worker pool size, default 1
	MaxRetries      int // default 3
	RetryDelay      time.Duration
	DeadLetterTopic string
}

func (o *Options) setDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
}

// Consumer reads from a single Kafka topic with a bounded-concurrency
// worker pool, grounded on internal/common/mq.KafkaQueue's
// startSubscription/handleMessage, stripped of its weighted multi-topic
// scheduling (this daemon consumes one submission topic; the sandbox
// pool's own Acquire is what actually bounds concurrency downstream).
type Consumer struct {
	reader  *kafka.Reader
	dlq     *Producer
	opts    Options
	handler HandlerFunc

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewConsumer(cfg Config, topic string, opts Options, handler HandlerFunc) *Consumer {
	cfg.setDefaults()
	opts.setDefaults()
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     opts.ConsumerGroup,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.LastOffset,
	})
	c := &Consumer{reader: reader, opts: opts, handler: handler}
	if opts.DeadLetterTopic != "" {
		c.dlq = NewProducer(cfg, opts.DeadLetterTopic)
	}
	return c
}

// Start begins consuming in the background until Stop is called.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	msgCh := make(chan kafka.Message, c.opts.Concurrency)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(msgCh)
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				time.Sleep(100 * time.Millisecond)
				continue
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < c.opts.Concurrency; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for msg := range msgCh {
				c.handle(ctx, msg)
			}
		}()
	}
}

func (c *Consumer) handle(ctx context.Context, kmsg kafka.Message) {
	msg := fromKafkaMessage(kmsg)
	for {
		if err := c.handler(ctx, msg); err == nil {
			_ = c.reader.CommitMessages(ctx, kmsg)
			return
		}
		msg.RetryCount++
		if msg.RetryCount > c.opts.MaxRetries {
			if c.dlq != nil {
				_ = c.dlq.Publish(ctx, msg)
			}
			_ = c.reader.CommitMessages(ctx, kmsg)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.RetryDelay):
		}
	}
}

// Stop waits for in-flight messages to finish and closes the reader.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.dlq != nil {
		_ = c.dlq.Close()
	}
	return c.reader.Close()
}

func fromKafkaMessage(kmsg kafka.Message) Message {
	msg := Message{Body: kmsg.Value, Timestamp: kmsg.Time, ID: string(kmsg.Key)}
	for _, h := range kmsg.Headers {
		switch h.Key {
		case headerID:
			msg.ID = string(h.Value)
		case headerRetryCount:
			if v, err := strconv.Atoi(string(h.Value)); err == nil && v >= 0 {
				msg.RetryCount = v
			}
		}
	}
	return msg
}
