package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"volatility-prover/config"
	"volatility-prover/infrastructure/logger"
	"volatility-prover/ingest"
	"volatility-prover/internal/container"
	"volatility-prover/internal/engine"
	"volatility-prover/market"
	"volatility-prover/prover"
	"volatility-prover/volatility"
)

var stdout io.Writer = os.Stdout

// common 所有子命令共享的参数
type common struct {
	config string
	keys   string
	degree int
}

func newFlagSet(name string, c *common) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&c.config, "config", "", "配置文件路径（JSON 或 YAML），留空使用默认值")
	fs.StringVar(&c.keys, "keys", "", "密钥目录，覆盖 backend.keyDir")
	fs.IntVar(&c.degree, "degree", 0, "电路规模参数（2^degree 行），覆盖 circuit.degree")
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return err
		}
		return configError{err: err}
	}
	return nil
}

func (c common) load() (config.AppConfig, error) {
	cfg, err := config.LoadWithEnvOverrides(c.config)
	if err != nil {
		return cfg, configError{err: err}
	}
	if c.keys != "" {
		cfg.Backend.KeyDir = c.keys
	}
	if c.degree != 0 {
		cfg.Circuit.Degree = c.degree
		if err := config.Validate(cfg); err != nil {
			return cfg, configError{err: err}
		}
	}
	return cfg, nil
}

func build(ctx context.Context, c common, cfg config.AppConfig, opts container.Options) (*container.Container, error) {
	ct := container.NewWithConfig(cfg, c.config)
	if err := ct.Build(ctx, opts); err != nil {
		return nil, err
	}
	return ct, nil
}

func runKeygen(ctx context.Context, args []string) error {
	var c common
	fs := newFlagSet("keygen", &c)
	if err := parse(fs, args); err != nil {
		return err
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return configError{err: err}
	}
	defer log.Close()

	calc, err := volatility.NewCircuit(cfg.Circuit.Params(), cfg.Circuit.SampleCount)
	if err != nil {
		return configError{err: err}
	}
	keys, err := prover.Keygen(calc, cfg.Circuit.Degree)
	if err != nil {
		return configError{err: err}
	}
	if err := prover.SaveKeys(cfg.Backend.KeyDir, keys); err != nil {
		return err
	}

	vk := keys.Verifying
	log.LogEvent("keys_generated", map[string]interface{}{
		"sampleCount": vk.SampleCount,
		"degree":      vk.Degree,
		"rows":        vk.Rows,
		"signer":      vk.Signer.Hex(),
		"dir":         cfg.Backend.KeyDir,
	})
	return writeJSON(vk)
}

// resultView 计算结果输出
type resultView struct {
	RequestID            string `json:"requestId"`
	SampleCount          int    `json:"sampleCount"`
	Reference            string `json:"reference"`
	Optimized            string `json:"optimized"`
	Circuit              string `json:"circuit"`
	CircuitRaw           int64  `json:"circuitRaw"`
	ReferenceVsOptimized uint64 `json:"referenceVsOptimized"`
	OptimizedVsCircuit   uint64 `json:"optimizedVsCircuit"`
	WithinTolerance      bool   `json:"withinTolerance"`
	ArtifactID           string `json:"artifactId,omitempty"`
}

func viewOf(out engine.Outcome) resultView {
	r := out.Report
	v := resultView{
		RequestID:            out.RequestID,
		SampleCount:          r.Circuit.SampleCount,
		Reference:            r.Reference.Value.String(),
		Optimized:            r.Optimized.Value.String(),
		Circuit:              r.Circuit.Value.String(),
		CircuitRaw:           r.Circuit.Value.Raw(),
		ReferenceVsOptimized: r.ReferenceVsOptimized,
		OptimizedVsCircuit:   r.OptimizedVsCircuit,
		WithinTolerance:      r.WithinTolerance,
	}
	if out.Artifact != nil {
		v.ArtifactID = out.Artifact.ID.String()
	}
	return v
}

func loadSamples(path string) ([]market.TickSample, error) {
	if path == "" {
		return nil, configErr("--input is required")
	}
	return ingest.LoadFile(path)
}

func runCompute(ctx context.Context, args []string) error {
	var c common
	fs := newFlagSet("run", &c)
	input := fs.String("input", "", "样本文件（.json / .jsonl / .csv）")
	if err := parse(fs, args); err != nil {
		return err
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	samples, err := loadSamples(*input)
	if err != nil {
		return err
	}
	ct, err := build(ctx, c, cfg, container.Options{Mode: container.ModeCLI})
	if err != nil {
		return err
	}
	defer ct.Close()

	out, err := ct.Engine().Compute(ctx, engine.Request{Source: *input, Samples: samples})
	if err != nil {
		return err
	}
	return writeJSON(viewOf(out))
}

func runProve(ctx context.Context, args []string) error {
	var c common
	fs := newFlagSet("prove", &c)
	input := fs.String("input", "", "样本文件（.json / .jsonl / .csv）")
	outPath := fs.String("out", "", "证明文件输出路径，留空输出到 stdout")
	if err := parse(fs, args); err != nil {
		return err
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	samples, err := loadSamples(*input)
	if err != nil {
		return err
	}
	ct, err := build(ctx, c, cfg, container.Options{Mode: container.ModeCLI, RequireKeys: true})
	if err != nil {
		return err
	}
	defer ct.Close()

	out, err := ct.Engine().Prove(ctx, engine.Request{Source: *input, Samples: samples})
	if err != nil {
		return err
	}
	if *outPath == "" {
		return writeJSON(out.Artifact)
	}
	if err := prover.WriteArtifact(*outPath, *out.Artifact); err != nil {
		return err
	}
	return writeJSON(viewOf(out))
}

// batchLine 批处理每一项的输出
type batchLine struct {
	RequestID string      `json:"requestId"`
	Status    string      `json:"status"`
	Error     string      `json:"error,omitempty"`
	Result    *resultView `json:"result,omitempty"`
}

func runBatch(ctx context.Context, args []string) error {
	var c common
	fs := newFlagSet("batch", &c)
	prove := fs.Bool("prove", false, "同时提交证明")
	outDir := fs.String("out", "", "证明文件输出目录")
	if err := parse(fs, args); err != nil {
		return err
	}
	inputs := fs.Args()
	if len(inputs) == 0 {
		return configErr("batch needs at least one input file")
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	ct, err := build(ctx, c, cfg, container.Options{Mode: container.ModeCLI, RequireKeys: *prove})
	if err != nil {
		return err
	}
	defer ct.Close()

	// 读取失败的文件单独记为失败，不影响其他文件
	outcomes := make([]engine.Outcome, len(inputs))
	var reqs []engine.Request
	var slots []int
	for i, path := range inputs {
		id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		samples, err := ingest.LoadFile(path)
		if err != nil {
			outcomes[i] = engine.Outcome{RequestID: id, Err: err}
			continue
		}
		reqs = append(reqs, engine.Request{ID: id, Source: path, Samples: samples})
		slots = append(slots, i)
	}
	for j, out := range ct.Engine().RunBatch(ctx, reqs, *prove) {
		outcomes[slots[j]] = out
	}

	var firstErr error
	failed := 0
	enc := json.NewEncoder(stdout)
	for _, out := range outcomes {
		line := batchLine{RequestID: out.RequestID, Status: engine.Classify(out.Err)}
		if out.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = out.Err
			}
			line.Error = out.Err.Error()
		} else {
			v := viewOf(out)
			line.Result = &v
			if out.Artifact != nil && *outDir != "" {
				if err := prover.WriteArtifact(filepath.Join(*outDir, out.RequestID+".json"), *out.Artifact); err != nil {
					return err
				}
			}
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("%d of %d items failed: %w", failed, len(outcomes), firstErr)
	}
	return nil
}

func runWatch(ctx context.Context, args []string) error {
	var c common
	fs := newFlagSet("watch", &c)
	dir := fs.String("dir", "", "substream 输出目录，覆盖 watch.dir")
	execute := fs.Bool("execute", false, "没有密钥时只计算不证明")
	if err := parse(fs, args); err != nil {
		return err
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	if *dir != "" {
		cfg.Watch.Dir = *dir
	}
	if cfg.Watch.Dir == "" {
		return configErr("watch dir is required (--dir or watch.dir)")
	}
	return serveUntilDone(ctx, c, cfg, container.Options{Mode: container.ModeWatch, RequireKeys: !*execute})
}

func runServe(ctx context.Context, args []string) error {
	var c common
	fs := newFlagSet("serve", &c)
	addr := fs.String("addr", "", "HTTP 监听地址，覆盖 server.addr")
	if err := parse(fs, args); err != nil {
		return err
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	return serveUntilDone(ctx, c, cfg, container.Options{Mode: container.ModeServe})
}

// serveUntilDone runs the container until ctx is cancelled by a signal.
func serveUntilDone(ctx context.Context, c common, cfg config.AppConfig, opts container.Options) error {
	ct, err := build(ctx, c, cfg, opts)
	if err != nil {
		return err
	}
	if err := ct.Start(ctx); err != nil {
		ct.Close()
		return err
	}
	<-ctx.Done()
	ct.Logger().Info("shutdown signal received", zap.Error(context.Cause(ctx)))
	return ct.Stop()
}

func runFetch(ctx context.Context, args []string) error {
	var c common
	fs := newFlagSet("fetch", &c)
	from := fs.Uint64("from", 0, "起始区块")
	to := fs.Uint64("to", 0, "结束区块（含）")
	pool := fs.String("pool", "", "Uniswap V3 池地址，覆盖 ingest.pool")
	outPath := fs.String("out", "", "样本文件输出路径，留空输出到 stdout")
	if err := parse(fs, args); err != nil {
		return err
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	if cfg.Ingest.ProviderURI == "" {
		return configErr("PROVIDER_URI or ingest.providerURI is required")
	}
	if *to < *from {
		return configErr("--to %d is before --from %d", *to, *from)
	}
	if *pool != "" {
		cfg.Ingest.Pool = *pool
	}
	if cfg.Ingest.Pool == "" {
		cfg.Ingest.Pool = ingest.DefaultPool
	}

	src, client, err := ingest.Dial(ctx, cfg.Ingest.ProviderURI, cfg.Ingest.Pool)
	if err != nil {
		return err
	}
	defer client.Close()

	samples, err := src.Fetch(ctx, *from, *to)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "fetched %d swaps from blocks %d-%d\n", len(samples), *from, *to)

	if *outPath == "" {
		return market.WriteJSON(stdout, samples)
	}
	f, err := os.Create(*outPath)
	if err != nil {
		return err
	}
	if err := market.WriteJSON(f, samples); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
