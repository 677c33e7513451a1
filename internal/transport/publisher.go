package transport

import "context"

// Publisher delivers progress events to a submission's upstream caller.
// internal/statuspub implements this over Kafka; tests use an in-memory
// recorder.
type Publisher interface {
	Next(ctx context.Context, ev NextEvent) error
	End(ctx context.Context, ev EndEvent) error
}
