package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"volatility-prover/consistency"
	"volatility-prover/infrastructure/logger"
)

type policySink struct {
	mu       sync.Mutex
	policies []consistency.Policy
}

func (s *policySink) SetPolicy(p consistency.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = append(s.policies, p)
}

func (s *policySink) last() (consistency.Policy, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.policies) == 0 {
		return consistency.Policy{}, 0
	}
	return s.policies[len(s.policies)-1], len(s.policies)
}

func writeConfig(t *testing.T, path string, tolerance int, strict bool) {
	t.Helper()
	content := fmt.Sprintf("consistency:\n  tolerance: %d\n  strict: %t\n", tolerance, strict)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestReloadAppliesPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 5, true)

	core, logs := observer.New(zapcore.DebugLevel)
	sink := &policySink{}
	reloader, err := NewHotReloader(path, HotReloadConfig{Enabled: true}, sink, logger.NewWithCore(core))
	if err != nil {
		t.Fatalf("Failed to create hot reloader: %v", err)
	}
	defer reloader.Stop()

	if err := reloader.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	got, n := sink.last()
	if n != 1 || got.Tolerance != 5 || !got.Strict {
		t.Fatalf("unexpected policy %+v (%d applied)", got, n)
	}
	if logs.FilterMessage("config_reloaded").Len() != 1 {
		t.Errorf("expected config_reloaded event")
	}
	if reloader.LastReloadTime().IsZero() {
		t.Errorf("last reload time not set")
	}
}

func TestReloadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("circuit:\n  sampleCount: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sink := &policySink{}
	reloader, err := NewHotReloader(path, DefaultHotReloadConfig(), sink, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer reloader.Stop()

	if err := reloader.Reload(); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, n := sink.last(); n != 0 {
		t.Fatalf("invalid config must not be applied")
	}
}

func TestReloadCooldown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 1, false)
	sink := &policySink{}
	reloader, _ := NewHotReloader(path, HotReloadConfig{Enabled: true, CooldownTime: time.Hour}, sink, logger.NewNop())
	defer reloader.Stop()

	_ = reloader.Reload()
	writeConfig(t, path, 3, false)
	_ = reloader.Reload()
	if got, n := sink.last(); n != 1 || got.Tolerance != 1 {
		t.Fatalf("second reload inside cooldown should be ignored, got %+v (%d)", got, n)
	}
}

func TestWatchPicksUpWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 2, false)
	sink := &policySink{}
	reloader, err := NewHotReloader(path, HotReloadConfig{Enabled: true}, sink, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := reloader.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer reloader.Stop()

	writeConfig(t, path, 4, true)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := sink.last(); got.Tolerance == 4 && got.Strict {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("policy not reloaded after write")
}

func TestDisabledReloaderDoesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 2, false)
	reloader, err := NewHotReloader(path, HotReloadConfig{Enabled: false}, &policySink{}, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := reloader.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := reloader.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
