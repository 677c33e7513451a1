package objectstore

import "testing"

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := New(Config{AccessKey: "ak", SecretKey: "sk"})
	if err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{Endpoint: "localhost:9000"})
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
}

func TestNew_Succeeds(t *testing.T) {
	store, err := New(Config{Endpoint: "localhost:9000", AccessKey: "ak", SecretKey: "sk"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if store == nil {
		t.Fatal("New returned nil store")
	}
}
