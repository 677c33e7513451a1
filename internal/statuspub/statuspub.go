// Package statuspub publishes a submission's next/end progress events
// onto the status topic, implementing internal/orchestrator's
// transport.Publisher. Grounded on the teacher's
// status_repository.go/status_event_publisher.go (MQStatusEventPublisher
// publishing to one fixed topic via mq.MessageQueue), reusing
// internal/queue's producer rather than holding its own kafka.Writer.
package statuspub

import (
	"context"
	"encoding/json"

	"judgecore/internal/queue"
	"judgecore/internal/transport"
)

// Producer is the publish side internal/queue.Producer satisfies.
type Producer interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Publisher publishes spec-shaped next/end events as JSON onto the
// status topic the given Producer was constructed against.
type Publisher struct {
	producer Producer
}

func New(producer Producer) *Publisher {
	return &Publisher{producer: producer}
}

func (p *Publisher) Next(ctx context.Context, ev transport.NextEvent) error {
	return p.publish(ctx, ev.Tag, ev)
}

func (p *Publisher) End(ctx context.Context, ev transport.EndEvent) error {
	return p.publish(ctx, ev.Tag, ev)
}

func (p *Publisher) publish(ctx context.Context, tag string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, queue.Message{ID: tag, Body: body})
}

var _ transport.Publisher = (*Publisher)(nil)
