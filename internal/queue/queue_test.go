package queue

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestConfig_SetDefaults(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()

	if cfg.BatchTimeout != 50*time.Millisecond {
		t.Errorf("BatchTimeout = %v, want 50ms", cfg.BatchTimeout)
	}
	if cfg.MinBytes != 1<<10 {
		t.Errorf("MinBytes = %v, want 1024", cfg.MinBytes)
	}
	if cfg.MaxBytes != 10<<20 {
		t.Errorf("MaxBytes = %v, want 10MiB", cfg.MaxBytes)
	}
	if cfg.MaxWait != time.Second {
		t.Errorf("MaxWait = %v, want 1s", cfg.MaxWait)
	}
}

func TestConfig_SetDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := Config{BatchTimeout: time.Minute, MinBytes: 5, MaxBytes: 6, MaxWait: time.Hour}
	cfg.setDefaults()

	if cfg.BatchTimeout != time.Minute || cfg.MinBytes != 5 || cfg.MaxBytes != 6 || cfg.MaxWait != time.Hour {
		t.Errorf("setDefaults overwrote explicit values: %+v", cfg)
	}
}

func TestOptions_SetDefaults(t *testing.T) {
	opts := Options{}
	opts.setDefaults()

	if opts.Concurrency != 1 {
		t.Errorf("Concurrency = %d, want 1", opts.Concurrency)
	}
	if opts.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", opts.MaxRetries)
	}
	if opts.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %v, want 1s", opts.RetryDelay)
	}
}

func TestFromKafkaMessage_DefaultsToKeyAndZeroRetries(t *testing.T) {
	kmsg := kafka.Message{Key: []byte("tag-1"), Value: []byte("payload")}

	msg := fromKafkaMessage(kmsg)

	if msg.ID != "tag-1" {
		t.Errorf("ID = %q, want tag-1", msg.ID)
	}
	if string(msg.Body) != "payload" {
		t.Errorf("Body = %q, want payload", msg.Body)
	}
	if msg.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", msg.RetryCount)
	}
}

func TestFromKafkaMessage_HeadersOverrideKey(t *testing.T) {
	kmsg := kafka.Message{
		Key:   []byte("fallback-id"),
		Value: []byte("payload"),
		Headers: []kafka.Header{
			{Key: headerID, Value: []byte("header-id")},
			{Key: headerRetryCount, Value: []byte("2")},
		},
	}

	msg := fromKafkaMessage(kmsg)

	if msg.ID != "header-id" {
		t.Errorf("ID = %q, want header-id", msg.ID)
	}
	if msg.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", msg.RetryCount)
	}
}

func TestFromKafkaMessage_IgnoresMalformedRetryHeader(t *testing.T) {
	kmsg := kafka.Message{
		Key: []byte("id"),
		Headers: []kafka.Header{
			{Key: headerRetryCount, Value: []byte("not-a-number")},
		},
	}

	msg := fromKafkaMessage(kmsg)

	if msg.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 for malformed header", msg.RetryCount)
	}
}
