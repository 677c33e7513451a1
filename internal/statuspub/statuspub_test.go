package statuspub

import (
	"context"
	"encoding/json"
	"testing"

	"judgecore/internal/queue"
	"judgecore/internal/transport"
)

type fakeProducer struct {
	published []queue.Message
}

func (p *fakeProducer) Publish(ctx context.Context, msg queue.Message) error {
	p.published = append(p.published, msg)
	return nil
}

func TestPublisher_Next(t *testing.T) {
	producer := &fakeProducer{}
	pub := New(producer)

	ev := transport.NextEvent{Tag: "tag-1"}
	if err := pub.Next(context.Background(), ev); err != nil {
		t.Fatalf("Next: %v", err)
	}

	if len(producer.published) != 1 {
		t.Fatalf("published = %d messages, want 1", len(producer.published))
	}
	if producer.published[0].ID != "tag-1" {
		t.Errorf("ID = %q, want tag-1", producer.published[0].ID)
	}

	var decoded transport.NextEvent
	if err := json.Unmarshal(producer.published[0].Body, &decoded); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if decoded.Tag != "tag-1" {
		t.Errorf("decoded tag = %q, want tag-1", decoded.Tag)
	}
}

func TestPublisher_End(t *testing.T) {
	producer := &fakeProducer{}
	pub := New(producer)

	ev := transport.EndEvent{Tag: "tag-2"}
	if err := pub.End(context.Background(), ev); err != nil {
		t.Fatalf("End: %v", err)
	}

	if len(producer.published) != 1 || producer.published[0].ID != "tag-2" {
		t.Fatalf("published = %+v, want one message with ID tag-2", producer.published)
	}
}

var _ transport.Publisher = (*Publisher)(nil)
