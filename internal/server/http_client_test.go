package server

import (
	"testing"
	"time"

	"github.com/pkgwire/pkgwire/internal/config"
)

func TestNewUpstreamClientUsesConfiguredTimeout(t *testing.T) {
	cfg := &config.Config{UpstreamTimeout: config.Duration(12 * time.Second)}
	client := NewUpstreamClient(cfg)
	if client.Timeout != 12*time.Second {
		t.Fatalf("expected configured timeout, got %v", client.Timeout)
	}
}

func TestNewUpstreamClientDefaultTimeout(t *testing.T) {
	client := NewUpstreamClient(nil)
	if client.Timeout != 30*time.Second {
		t.Fatalf("expected default timeout, got %v", client.Timeout)
	}
	if client.Transport == nil {
		t.Fatalf("expected a tuned transport")
	}
}

func TestNewUpstreamClientIndependentTransports(t *testing.T) {
	first := NewUpstreamClient(nil)
	second := NewUpstreamClient(nil)
	if first.Transport == second.Transport {
		t.Fatalf("clients should not share a mutable transport instance")
	}
}
