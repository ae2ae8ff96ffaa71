package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"ESCALATION_THRESHOLD", "IMPORT_BATCH_SIZE", "AI_PROVIDER", "KAFKA_BROKERS", "CLASSIFICATION_CACHE_TTL", "AUTO_PROMOTE"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.EscalationThreshold != 0.7 {
		t.Fatalf("expected default escalation threshold 0.7, got %v", cfg.EscalationThreshold)
	}
	if cfg.ImportBatchSize != 1000 {
		t.Fatalf("expected default import batch size 1000, got %d", cfg.ImportBatchSize)
	}
	if cfg.AIProvider != "none" {
		t.Fatalf("expected default ai provider none, got %q", cfg.AIProvider)
	}
	if cfg.KafkaBrokers != nil {
		t.Fatalf("expected no kafka brokers, got %v", cfg.KafkaBrokers)
	}
	if cfg.CacheTTL != time.Hour || cfg.AutoPromote {
		t.Fatalf("unexpected cache ttl %v or auto promote %v", cfg.CacheTTL, cfg.AutoPromote)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("ESCALATION_THRESHOLD", "0.65")
	t.Setenv("AI_PROVIDER", "Anthropic")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, ,kafka-2:9092")
	t.Setenv("CLASSIFICATION_CACHE_TTL", "15m")
	t.Setenv("AUTO_PROMOTE", "true")

	cfg := Load()
	if cfg.EscalationThreshold != 0.65 {
		t.Fatalf("expected escalation threshold override, got %v", cfg.EscalationThreshold)
	}
	if cfg.AIProvider != "anthropic" {
		t.Fatalf("expected lowercased provider, got %q", cfg.AIProvider)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.CacheTTL != 15*time.Minute || !cfg.AutoPromote {
		t.Fatalf("unexpected cache ttl %v or auto promote %v", cfg.CacheTTL, cfg.AutoPromote)
	}
}

func TestLoadFallsBackOnMalformedValues(t *testing.T) {
	t.Setenv("ESCALATION_THRESHOLD", "high")
	t.Setenv("CLASSIFICATION_CACHE_TTL", "forever")
	t.Setenv("IMPORT_BATCH_SIZE", "lots")

	cfg := Load()
	if cfg.EscalationThreshold != 0.7 || cfg.CacheTTL != time.Hour || cfg.ImportBatchSize != 1000 {
		t.Fatalf("expected fallbacks, got %v %v %d", cfg.EscalationThreshold, cfg.CacheTTL, cfg.ImportBatchSize)
	}
}
