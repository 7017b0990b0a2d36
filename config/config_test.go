package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataTransferMode != ModeRabbitMQ {
		t.Fatalf("expected default data_transfer_mode %q, got %q", ModeRabbitMQ, cfg.DataTransferMode)
	}
	if cfg.TCPServer.MaxConcurrentConnections != 50000 {
		t.Fatalf("expected default max_concurrent_connections 50000, got %d", cfg.TCPServer.MaxConcurrentConnections)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"node_id": "edge-7", "tcp_server": {"listen_addr": ":7027"}, "data_transfer_mode": "LOGS"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeID != "edge-7" {
		t.Fatalf("expected node_id edge-7, got %q", cfg.NodeID)
	}
	if cfg.TCPServer.ListenAddr != ":7027" {
		t.Fatalf("expected listen_addr :7027, got %q", cfg.TCPServer.ListenAddr)
	}
	if cfg.DataTransferMode != ModeLogs {
		t.Fatalf("expected data_transfer_mode LOGS, got %q", cfg.DataTransferMode)
	}
	// Defaults not present in the file must survive the merge.
	if cfg.Broker.Exchange != "tracking_data_exchange" {
		t.Fatalf("expected default exchange to survive merge, got %q", cfg.Broker.Exchange)
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("DATABASE_PASSWORD", "s3cret")
	t.Setenv("BROKER_PASSWORD", "b3rd")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Password != "s3cret" {
		t.Fatalf("expected DATABASE_PASSWORD override, got %q", cfg.Database.Password)
	}
	if cfg.Broker.Password != "b3rd" {
		t.Fatalf("expected BROKER_PASSWORD override, got %q", cfg.Broker.Password)
	}
}

func TestValidateRejectsUnknownDataTransferMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"data_transfer_mode": "CARRIER_PIGEON"}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid data_transfer_mode")
	}
}
