package main

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/san-kum/kiteopt/internal/config"
	"github.com/san-kum/kiteopt/internal/telemetry"
)

func TestStartTelemetryDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Telemetry.Enabled = false
	if pub := startTelemetry(context.Background(), cfg, zap.NewNop()); pub != nil {
		pub.Close()
		t.Error("expected no publisher with telemetry disabled")
	}
}

func TestStartTelemetryBindFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taken, err := telemetry.ListenPUB(ctx, "tcp://127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot bind loopback: %v", err)
	}
	defer taken.Close()

	cfg := config.DefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = "tcp://" + taken.Addr()

	core, logs := observer.New(zapcore.WarnLevel)
	if pub := startTelemetry(ctx, cfg, zap.New(core)); pub != nil {
		pub.Close()
		t.Fatal("expected no publisher when the endpoint is taken")
	}
	if logs.FilterMessage("telemetry disabled").Len() != 1 {
		t.Errorf("expected a warning, got %v", logs.All())
	}
}

func TestStartTelemetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.DefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = "tcp://127.0.0.1:0"

	pub := startTelemetry(ctx, cfg, zap.NewNop())
	if pub == nil {
		t.Skip("cannot bind loopback")
	}
	if err := pub.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}
