package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"volatility-prover/config"
	"volatility-prover/infrastructure/alert"
	"volatility-prover/infrastructure/logger"
	"volatility-prover/infrastructure/monitor"
	hotreload "volatility-prover/internal/config"
	"volatility-prover/internal/engine"
	"volatility-prover/internal/server"
	"volatility-prover/internal/store"
	"volatility-prover/internal/watch"
	"volatility-prover/ingest"
	"volatility-prover/market"
	"volatility-prover/prover"
	"volatility-prover/volatility"
)

// Mode 决定 Build 装配哪些组件
type Mode int

const (
	// ModeCLI builds the engine only; nothing is registered for Start.
	ModeCLI Mode = iota
	// ModeServe adds the HTTP API, websocket hub and config hot reload.
	ModeServe
	// ModeWatch adds the directory watcher and config hot reload.
	ModeWatch
)

// Options 构建选项
type Options struct {
	Mode Mode
	// RequireKeys fails Build when the key directory is missing or stale.
	// Otherwise the engine runs compute-only without a prover.
	RequireKeys bool
	// Logger overrides the logger built from config.
	Logger *logger.Logger
}

// ErrKeysUnavailable is returned when proving is required but keys cannot
// be loaded for the configured circuit.
var ErrKeysUnavailable = errors.New("proving keys unavailable")

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        *config.AppConfig
	configPath string

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 存储
	pgPool *pgxpool.Pool
	rdb    *redis.Client
	store  store.Store

	// 核心服务
	keys   *prover.Keys
	engine *engine.Engine
	hub    *server.Hub

	// 生命周期管理
	lifecycle *LifecycleManager
	notify    func(state string) (bool, error)
}

// New 创建新的Container实例
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg, configPath), nil
}

// NewWithConfig uses an already loaded config. configPath may be empty, in
// which case hot reload is disabled.
func NewWithConfig(cfg config.AppConfig, configPath string) *Container {
	return &Container{
		cfg:        &cfg,
		configPath: configPath,
		lifecycle:  NewLifecycleManager(),
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

// Build 构建所有组件
func (c *Container) Build(ctx context.Context, opts Options) error {
	if err := c.buildInfrastructure(opts); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildStore(ctx); err != nil {
		return fmt.Errorf("build store failed: %w", err)
	}
	if err := c.buildEngine(opts); err != nil {
		return fmt.Errorf("build engine failed: %w", err)
	}
	if err := c.registerLifecycleComponents(opts); err != nil {
		return fmt.Errorf("register components failed: %w", err)
	}

	c.logger.Info("container built",
		zap.Int("sampleCount", c.cfg.Circuit.SampleCount),
		zap.Uint8("scale", c.cfg.Circuit.Scale),
		zap.Bool("prover", c.keys != nil),
	)
	return nil
}

func (c *Container) buildInfrastructure(opts Options) error {
	if opts.Logger != nil {
		c.logger = opts.Logger
	} else {
		var err error
		c.logger, err = logger.New(c.cfg.Log)
		if err != nil {
			return fmt.Errorf("create logger failed: %w", err)
		}
	}

	c.monitor = monitor.New(monitor.DefaultConfig())
	c.alerts = alert.NewManager([]alert.Channel{alert.NewLogChannel("log", c.logger)}, time.Minute)
	return nil
}

func (c *Container) buildStore(ctx context.Context) error {
	var primary store.Store = store.NewMemoryStore()

	if url := c.cfg.Store.DatabaseURL; url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("migrate postgres: %w", err)
		}
		c.pgPool = pool
		primary = pg
	}

	if url := c.cfg.Store.RedisURL; url != "" {
		ropts, err := redis.ParseURL(url)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		c.rdb = redis.NewClient(ropts)
		if err := c.rdb.Ping(ctx).Err(); err != nil {
			// 缓存不可用时只告警，读写仍走主存储
			c.logger.Warn("redis unavailable, cache disabled", zap.Error(err))
			_ = c.rdb.Close()
			c.rdb = nil
		} else {
			primary = store.NewCachedStore(primary, c.rdb, c.cfg.Store.CacheTTL)
		}
	}

	c.store = primary
	return nil
}

func (c *Container) buildEngine(opts Options) error {
	mode, err := market.ParseDeltaMode(c.cfg.Circuit.DeltaMode)
	if err != nil {
		return err
	}
	params := c.cfg.Circuit.Params()
	comp := engine.Components{
		Logger:  c.logger,
		Monitor: c.monitor,
		Alerts:  c.alerts,
		Store:   c.store,
	}
	if opts.Mode == ModeServe {
		c.hub = server.NewHub(c.logger)
		comp.Publisher = c.hub
	}

	calc, err := volatility.NewCircuit(params, c.cfg.Circuit.SampleCount)
	if err != nil {
		return err
	}
	keys, err := c.loadKeys(calc)
	switch {
	case err == nil:
		c.keys = keys
		comp.Prover = &prover.Client{
			Backend:    prover.NewLocalBackend(keys),
			Timeout:    c.cfg.Backend.Timeout,
			MaxRetries: c.cfg.Backend.MaxRetries,
			RetryDelay: c.cfg.Backend.RetryDelay,
		}
		c.monitor.UpdateCircuitRows(keys.Verifying.Rows)
	case opts.RequireKeys:
		return err
	default:
		c.logger.Warn("proving disabled", zap.String("keyDir", c.cfg.Backend.KeyDir), zap.Error(err))
	}

	c.engine, err = engine.New(engine.Config{
		Params:      params,
		SampleCount: c.cfg.Circuit.SampleCount,
		DeltaMode:   mode,
		Policy:      c.cfg.Consistency,
		Concurrency: c.cfg.Batch.Concurrency,
	}, comp)
	return err
}

func (c *Container) loadKeys(calc *volatility.CircuitCalculator) (*prover.Keys, error) {
	dir := c.cfg.Backend.KeyDir
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	keys, err := prover.LoadKeys(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	if err := keys.Matches(calc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeysUnavailable, err)
	}
	return keys, nil
}

func (c *Container) registerLifecycleComponents(opts Options) error {
	if opts.Mode == ModeCLI {
		return nil
	}

	if c.configPath != "" {
		reloader, err := hotreload.NewHotReloader(c.configPath, hotreload.DefaultHotReloadConfig(), c.engine, c.logger)
		if err != nil {
			return err
		}
		c.lifecycle.Register(&funcComponent{name: "config_reloader", start: reloader.Start, stop: reloader.Stop})
	}

	if c.cfg.Metrics.Addr != "" {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
		})
	}

	switch opts.Mode {
	case ModeServe:
		hubCtx, cancel := context.WithCancel(context.Background())
		c.lifecycle.Register(&funcComponent{
			name: "ws_hub",
			start: func(context.Context) error {
				go c.hub.Run(hubCtx)
				return nil
			},
			stop: func() error {
				cancel()
				return nil
			},
		})
		api := &server.Server{
			Engine:  c.engine,
			Store:   c.store,
			Monitor: c.monitor,
			Hub:     c.hub,
			Log:     c.logger,
		}
		c.lifecycle.Register(&httpServerComponent{
			name:            "api_server",
			handler:         api.Routes(),
			addr:            c.cfg.Server.Addr,
			shutdownTimeout: c.cfg.Server.ShutdownTimeout,
			logger:          c.logger,
		})

	case ModeWatch:
		w, err := watch.New(watch.Config{
			Dir:         c.cfg.Watch.Dir,
			SampleCount: c.cfg.Circuit.SampleCount,
			Debounce:    c.cfg.Watch.Debounce,
		}, c.handleWindow, c.logger)
		if err != nil {
			return err
		}
		c.lifecycle.Register(&funcComponent{name: "watcher", start: w.Start, stop: w.Stop})
	}
	return nil
}

// handleWindow proves a window when keys are loaded and only computes
// otherwise.
func (c *Container) handleWindow(ctx context.Context, w ingest.Window) error {
	req := engine.Request{
		ID:      fmt.Sprintf("block-%d", w.EndBlock),
		Source:  fmt.Sprintf("watch:%d", w.EndBlock),
		Samples: w.Samples,
	}
	if c.keys == nil {
		_, err := c.engine.Compute(ctx, req)
		return err
	}
	_, err := c.engine.Prove(ctx, req)
	return err
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	if sent, err := c.notify(daemon.SdNotifyReady); err != nil {
		c.logger.Warn("sd_notify ready failed", zap.Error(err))
	} else if sent {
		c.logger.Info("notified systemd ready")
	}

	c.logger.Info("container started")
	return nil
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")
	if _, err := c.notify(daemon.SdNotifyStopping); err != nil {
		c.logger.Warn("sd_notify stopping failed", zap.Error(err))
	}

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	c.Close()
	return err
}

// Close releases connections without touching lifecycle components.
func (c *Container) Close() {
	if c.rdb != nil {
		_ = c.rdb.Close()
		c.rdb = nil
	}
	if c.pgPool != nil {
		c.pgPool.Close()
		c.pgPool = nil
	}
	if c.logger != nil {
		_ = c.logger.Close()
	}
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// 访问器
func (c *Container) Config() config.AppConfig  { return *c.cfg }
func (c *Container) Logger() *logger.Logger    { return c.logger }
func (c *Container) Monitor() *monitor.Monitor { return c.monitor }
func (c *Container) Engine() *engine.Engine    { return c.engine }
func (c *Container) Store() store.Store        { return c.store }
func (c *Container) Keys() *prover.Keys        { return c.keys }
