// Package watch 监听 substream 导出目录，出现更新的区块文件时触发一次计算。
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"volatility-prover/infrastructure/logger"
	"volatility-prover/ingest"
)

// Handler processes one window; its error is logged and does not stop
// the watcher.
type Handler func(ctx context.Context, w ingest.Window) error

// Config 监听配置
type Config struct {
	Dir         string
	SampleCount int
	Debounce    time.Duration
	// LastBlock skips files ending at or before this block.
	LastBlock uint64
}

// Watcher 目录监听器
type Watcher struct {
	cfg     Config
	handler Handler
	log     *logger.Logger
	watcher *fsnotify.Watcher

	mu        sync.Mutex
	lastBlock uint64

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

func New(cfg Config, handler Handler, log *logger.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("watch: dir is required")
	}
	if cfg.SampleCount < 2 {
		return nil, fmt.Errorf("watch: sample count must be >= 2, got %d", cfg.SampleCount)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		cfg:       cfg,
		handler:   handler,
		log:       log,
		watcher:   fw,
		lastBlock: cfg.LastBlock,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}, nil
}

// Start scans the directory once and then watches it in the background.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.cfg.Dir, err)
	}
	w.Scan(ctx)
	w.started.Store(true)
	go w.loop(ctx)
	return nil
}

// Stop ends the loop and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	if w.started.Load() {
		select {
		case <-w.doneChan:
		case <-time.After(time.Second):
		}
	}
	return w.watcher.Close()
}

// LastBlock is the end block of the last processed window.
func (w *Watcher) LastBlock() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastBlock
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneChan)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if _, _, err := ingest.ParseFilename(filepath.Base(ev.Name)); err != nil {
				continue
			}
			// 写入通常分多次到达，等目录安静下来再读
			if timer == nil {
				timer = time.NewTimer(w.cfg.Debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.cfg.Debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.Scan(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// Scan processes the newest window if its end block is new. It reports
// whether the handler ran.
func (w *Watcher) Scan(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	win, err := ingest.LatestWindow(w.cfg.Dir, w.lastBlock, w.cfg.SampleCount)
	if errors.Is(err, ingest.ErrNoNewBlocks) {
		w.log.Debug("no new blocks", zap.Uint64("lastBlock", w.lastBlock))
		return false
	}
	if err != nil {
		w.log.LogError(err, map[string]interface{}{"action": "read_window", "dir": w.cfg.Dir})
		return false
	}

	// 无论处理成败都推进，坏文件不会被反复重试
	w.lastBlock = win.EndBlock
	w.log.LogEvent("watch_trigger", map[string]interface{}{
		"file":     win.Files[0],
		"endBlock": win.EndBlock,
		"samples":  len(win.Samples),
	})
	if err := w.handler(ctx, win); err != nil {
		w.log.LogError(err, map[string]interface{}{"action": "handle_window", "endBlock": win.EndBlock})
	}
	return true
}
