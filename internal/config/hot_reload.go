package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	appconfig "volatility-prover/config"
	"volatility-prover/consistency"
	"volatility-prover/infrastructure/logger"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免频繁更新
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 2 * time.Second,
	}
}

// PolicyApplier receives a validated policy; engine.Engine implements it.
type PolicyApplier interface {
	SetPolicy(p consistency.Policy)
}

// HotReloader 监听配置文件，只热更新一致性策略（容差、strict）。
// Circuit parameters are fixed at key generation and need a restart.
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	applier    PolicyApplier
	log        *logger.Logger
	lastReload time.Time
	mu         sync.Mutex
	stopChan   chan struct{}
	doneChan   chan struct{}
	stopOnce   sync.Once
	started    bool
}

// NewHotReloader 创建热更新器
func NewHotReloader(configPath string, cfg HotReloadConfig, applier PolicyApplier, log *logger.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &HotReloader{
		config:     cfg,
		configPath: configPath,
		watcher:    watcher,
		applier:    applier,
		log:        log,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// Start 启动热更新监听
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		return nil
	}
	if err := h.watcher.Add(h.configPath); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	go h.watch(ctx)
	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	h.stopOnce.Do(func() { close(h.stopChan) })
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if started {
		select {
		case <-h.doneChan:
		case <-time.After(time.Second):
		}
	}
	return h.watcher.Close()
}

func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := h.Reload(); err != nil {
					h.log.LogError(err, map[string]interface{}{"action": "config_reload", "path": h.configPath})
				}
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Reload loads the file and applies its consistency policy. Invalid files
// are rejected and the current policy stays. Calls inside the cooldown
// are ignored.
func (h *HotReloader) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.lastReload.IsZero() && time.Since(h.lastReload) < h.config.CooldownTime {
		return nil
	}
	// 编辑器先截断再写入，空文件等下一次事件
	if st, err := os.Stat(h.configPath); err == nil && st.Size() == 0 {
		return nil
	}
	cfg, err := appconfig.Load(h.configPath)
	if err != nil {
		return fmt.Errorf("reload %s: %w", h.configPath, err)
	}
	h.applier.SetPolicy(cfg.Consistency)
	h.lastReload = time.Now()
	h.log.LogEvent("config_reloaded", map[string]interface{}{
		"path":      h.configPath,
		"tolerance": cfg.Consistency.Tolerance,
		"strict":    cfg.Consistency.Strict,
	})
	return nil
}

// LastReloadTime 获取最后重载时间
func (h *HotReloader) LastReloadTime() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastReload
}
