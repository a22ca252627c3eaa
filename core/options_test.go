package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingRawLoader struct{}

func (failingRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return nil, errors.New("config file unreadable")
}

func TestResolveConfig_Defaults(t *testing.T) {
	cfg, err := ResolveConfig(context.Background(), nil, nil, Config{})
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.ServiceName != "webhooks" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.Reconcile.MaxPages != 50 {
		t.Fatalf("expected default max pages 50, got %d", cfg.Reconcile.MaxPages)
	}
	if cfg.Reconcile.SplitWatermark {
		t.Fatalf("expected single watermark by default")
	}
}

func TestResolveConfig_RuntimeOverridesLoaded(t *testing.T) {
	provider := NewCfgxConfigProvider(StaticRawConfigLoader{Values: map[string]any{
		"service_name": "ingest",
		"reconcile": map[string]any{
			"max_pages": 10,
		},
	}})
	cfg, err := ResolveConfig(context.Background(), provider, GoOptionsResolver{}, Config{
		Reconcile: ReconcileConfig{MaxPages: 3, SplitWatermark: true},
	})
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.ServiceName != "ingest" {
		t.Fatalf("expected loaded service name, got %q", cfg.ServiceName)
	}
	if cfg.Reconcile.MaxPages != 3 {
		t.Fatalf("expected runtime max pages override, got %d", cfg.Reconcile.MaxPages)
	}
	if !cfg.Reconcile.SplitWatermark {
		t.Fatalf("expected runtime split watermark override")
	}
	if cfg.Reconcile.PageTimeout != 15*time.Second {
		t.Fatalf("expected default page timeout to survive, got %s", cfg.Reconcile.PageTimeout)
	}
}

func TestResolveConfig_PropagatesLoaderErrors(t *testing.T) {
	_, err := ResolveConfig(context.Background(), NewCfgxConfigProvider(failingRawLoader{}), nil, Config{})
	if err == nil {
		t.Fatalf("expected loader error")
	}
}

func TestConfigValidate_RejectsEmptyBudgets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Reconcile.MaxPages = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected max pages validation error")
	}
	cfg = DefaultConfig()
	cfg.ServiceName = " "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected service name validation error")
	}
}
