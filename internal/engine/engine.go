// Package engine 把构建、三路计算、一致性检查、证明提交和记录串成一条流水线。
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"volatility-prover/consistency"
	"volatility-prover/fixed"
	"volatility-prover/infrastructure/alert"
	"volatility-prover/infrastructure/logger"
	"volatility-prover/infrastructure/monitor"
	"volatility-prover/internal/store"
	"volatility-prover/market"
	"volatility-prover/prover"
	"volatility-prover/volatility"
)

// Config 引擎配置
type Config struct {
	Params      volatility.Params
	SampleCount int
	DeltaMode   market.DeltaMode
	Policy      consistency.Policy
	Concurrency int
}

// Components 引擎依赖组件；除 Logger 外都可以为空。
type Components struct {
	Logger    *logger.Logger
	Monitor   *monitor.Monitor
	Alerts    *alert.Manager
	Store     store.Store
	Prover    *prover.Client
	Publisher Publisher
}

// Publisher receives a copy of every stored record.
type Publisher interface {
	Publish(Event)
}

// Event 推送给订阅者的消息
type Event struct {
	Type   string       `json:"type"` // computed | proved
	Record store.Record `json:"record"`
}

// Request is one window of samples to check and optionally prove.
type Request struct {
	ID      string
	Source  string
	Samples []market.TickSample
}

// Outcome is the result of one request.
type Outcome struct {
	RequestID string
	Report    consistency.Report
	Record    *store.Record
	Artifact  *prover.Artifact
	Err       error
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg     Config
	builder market.Builder
	checker *consistency.Checker
	comp    Components
	now     func() time.Time

	mu     sync.RWMutex
	policy consistency.Policy
}

func New(cfg Config, comp Components) (*Engine, error) {
	if comp.Logger == nil {
		return nil, errors.New("engine: logger is required")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	checker, err := consistency.NewChecker(cfg.Params, cfg.SampleCount, cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return &Engine{
		cfg: cfg,
		builder: market.Builder{
			Scale:           cfg.Params.Scale,
			Mode:            cfg.DeltaMode,
			DeclaredSamples: cfg.SampleCount,
		},
		checker: checker,
		comp:    comp,
		now:     time.Now,
		policy:  cfg.Policy,
	}, nil
}

// Policy returns the tolerance policy in effect.
func (e *Engine) Policy() consistency.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// SetPolicy swaps the tolerance policy; in-flight checks keep the old one.
func (e *Engine) SetPolicy(p consistency.Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = p
}

// Circuit exposes the circuit calculator, for key generation.
func (e *Engine) Circuit() *volatility.CircuitCalculator {
	return e.checker.Circuit.(*volatility.CircuitCalculator)
}

// Compute builds the series, runs all three calculators and stores the
// record. A divergence defect, or a warning under a strict policy, fails
// the request.
func (e *Engine) Compute(ctx context.Context, req Request) (Outcome, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	out := Outcome{RequestID: req.ID}
	if err := ctx.Err(); err != nil {
		out.Err = err
		return out, err
	}

	start := e.now()
	report, err := e.check(req)
	out.Report = report
	if e.comp.Monitor != nil {
		e.comp.Monitor.RecordComputeLatency(e.now().Sub(start))
		e.comp.Monitor.RecordComputation("all", Classify(err))
	}
	if err != nil {
		e.reportFailure(req.ID, report, err)
		out.Err = err
		return out, err
	}
	e.observe(report)

	e.comp.Logger.LogComputation(req.ID, map[string]interface{}{
		"source":          req.Source,
		"samples":         report.Optimized.SampleCount,
		"reference":       report.Reference.Value.String(),
		"optimized":       report.Optimized.Value.String(),
		"circuit":         report.Circuit.Value.String(),
		"withinTolerance": report.WithinTolerance,
	})

	rec := &store.Record{
		ID:                   req.ID,
		Source:               req.Source,
		SampleCount:          report.Optimized.SampleCount,
		Scale:                uint8(e.cfg.Params.Scale),
		Reference:            report.Reference.Value.Raw(),
		Optimized:            report.Optimized.Value.Raw(),
		Circuit:              report.Circuit.Value.Raw(),
		Volatility:           report.Optimized.Value.Decimal(),
		ReferenceVsOptimized: report.ReferenceVsOptimized,
		WithinTolerance:      report.WithinTolerance,
		CreatedAt:            e.now().UTC(),
	}
	if e.comp.Store != nil {
		if err := e.comp.Store.Save(ctx, rec); err != nil {
			e.comp.Logger.LogError(err, map[string]interface{}{"action": "save_record", "requestId": req.ID})
		}
	}
	out.Record = rec
	e.publish("computed", rec)
	return out, nil
}

// Prove runs Compute and submits the trace through the prover client.
func (e *Engine) Prove(ctx context.Context, req Request) (Outcome, error) {
	if e.comp.Prover == nil {
		return Outcome{RequestID: req.ID}, errors.New("engine: no prover configured")
	}
	out, err := e.Compute(ctx, req)
	if err != nil {
		return out, err
	}

	client := *e.comp.Prover
	client.OnAttempt = func(attempt int, err error) {
		if e.comp.Monitor != nil {
			e.comp.Monitor.RecordBackendFailure(client.Backend.Kind())
		}
		e.comp.Logger.LogEvent("proof_attempt_failed", map[string]interface{}{
			"requestId": out.RequestID,
			"attempt":   attempt,
			"error":     err.Error(),
		})
	}

	start := e.now()
	art, err := client.Prove(ctx, out.Report.Trace)
	if err != nil {
		if errors.Is(err, prover.ErrBackendFailure) && e.comp.Alerts != nil {
			_ = e.comp.Alerts.BackendFailure(client.Backend.Kind(), err)
		}
		e.comp.Logger.LogError(err, map[string]interface{}{"action": "prove", "requestId": out.RequestID})
		out.Err = err
		return out, err
	}
	if e.comp.Monitor != nil {
		e.comp.Monitor.RecordProof(e.now().Sub(start))
		e.comp.Monitor.UpdateCircuitRows(out.Report.Trace.Rows())
	}
	e.comp.Logger.LogProof("proof_submitted", art.ID.String(), map[string]interface{}{
		"requestId":   out.RequestID,
		"backend":     art.Backend,
		"volatility":  art.PublicInputs.Volatility,
		"sampleCount": art.PublicInputs.SampleCount,
	})

	out.Artifact = &art
	out.Record.ArtifactID = art.ID.String()
	if e.comp.Store != nil {
		if err := e.comp.Store.AttachArtifact(ctx, out.Record.ID, out.Record.ArtifactID); err != nil {
			e.comp.Logger.LogError(err, map[string]interface{}{"action": "attach_artifact", "requestId": out.RequestID})
		}
	}
	e.publish("proved", out.Record)
	return out, nil
}

// RunBatch processes requests with at most Concurrency in flight. A
// failing request does not affect the others; outcomes keep input order.
func (e *Engine) RunBatch(ctx context.Context, reqs []Request, prove bool) []Outcome {
	outcomes := make([]Outcome, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i := range reqs {
		i := i
		g.Go(func() error {
			run := e.Compute
			if prove {
				run = e.Prove
			}
			out, err := run(gctx, reqs[i])
			out.Err = err
			outcomes[i] = out
			if e.comp.Monitor != nil {
				e.comp.Monitor.RecordBatchItem(Classify(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (e *Engine) check(req Request) (consistency.Report, error) {
	series, err := e.builder.Build(req.Samples)
	if err != nil {
		return consistency.Report{}, err
	}
	chk := *e.checker
	chk.Policy = e.Policy()
	chk.OnWarning = func(r consistency.Report) { e.warn(req.ID, chk.Policy, r) }
	return chk.Check(series)
}

func (e *Engine) warn(requestID string, p consistency.Policy, r consistency.Report) {
	fields := map[string]interface{}{
		"requestId":            requestID,
		"referenceVsOptimized": r.ReferenceVsOptimized,
		"tolerance":            p.Tolerance,
		"reference":            r.Reference.Value.String(),
		"optimized":            r.Optimized.Value.String(),
	}
	e.comp.Logger.LogDivergence("divergence_warning", fields)
	if e.comp.Alerts != nil {
		_ = e.comp.Alerts.Divergence(false, fields)
	}
}

func (e *Engine) reportFailure(requestID string, r consistency.Report, err error) {
	if errors.Is(err, consistency.ErrDivergenceDefect) {
		fields := map[string]interface{}{
			"requestId": requestID,
			"optimized": r.Optimized.Value.String(),
			"circuit":   r.Circuit.Value.String(),
		}
		e.comp.Logger.LogDivergence("divergence_defect", fields)
		if e.comp.Alerts != nil {
			_ = e.comp.Alerts.Divergence(true, fields)
		}
		return
	}
	e.comp.Logger.LogError(err, map[string]interface{}{"action": "compute", "requestId": requestID})
}

func (e *Engine) observe(r consistency.Report) {
	m := e.comp.Monitor
	if m == nil {
		return
	}
	for _, res := range []volatility.Result{r.Reference, r.Optimized, r.Circuit} {
		m.UpdateVolatility(res.Mode.String(), res.Value.Raw())
	}
	m.RecordDivergence("reference_optimized", r.ReferenceVsOptimized)
	m.RecordDivergence("optimized_circuit", r.OptimizedVsCircuit)
}

func (e *Engine) publish(kind string, rec *store.Record) {
	if e.comp.Publisher != nil && rec != nil {
		e.comp.Publisher.Publish(Event{Type: kind, Record: *rec})
	}
}

// Classify maps an error onto the taxonomy used for metrics labels and
// exit codes.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, market.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, fixed.ErrOverflow):
		return "overflow"
	case errors.Is(err, consistency.ErrDivergenceDefect):
		return "defect"
	case errors.Is(err, consistency.ErrDivergenceWarning):
		return "divergence"
	case errors.Is(err, prover.ErrBackendFailure):
		return "backend"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
