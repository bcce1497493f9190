package prover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"volatility-prover/circuit"
)

// Client 包装 Backend：每次提交都有超时，失败按线性退避重试。
type Client struct {
	Backend    Backend
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	// OnAttempt is called after every failed attempt.
	OnAttempt func(attempt int, err error)
}

// Prove submits trace and verifies the returned artifact before handing
// it back. Constraint and shape failures are permanent and returned
// without retrying; everything else is retried up to MaxRetries times and
// then reported as ErrBackendFailure wrapping the last error.
func (c *Client) Prove(ctx context.Context, trace *circuit.Trace) (Artifact, error) {
	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * c.RetryDelay
			select {
			case <-ctx.Done():
				return Artifact{}, fmt.Errorf("%w: %w (last error: %v)", ErrBackendFailure, ctx.Err(), lastErr)
			case <-time.After(backoff):
			}
		}

		art, err := c.submitOnce(ctx, trace)
		if err == nil {
			return art, nil
		}
		lastErr = err
		if c.OnAttempt != nil {
			c.OnAttempt(attempt+1, err)
		}
		if permanent(err) {
			return Artifact{}, err
		}
		if ctx.Err() != nil {
			return Artifact{}, fmt.Errorf("%w: %w", ErrBackendFailure, err)
		}
	}
	return Artifact{}, fmt.Errorf("%w after %d attempts: %w", ErrBackendFailure, c.MaxRetries+1, lastErr)
}

type submitResult struct {
	art Artifact
	err error
}

// submitOnce bounds a single attempt by Timeout even if the backend
// ignores its context.
func (c *Client) submitOnce(ctx context.Context, trace *circuit.Trace) (Artifact, error) {
	attemptCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	done := make(chan submitResult, 1)
	go func() {
		art, err := c.Backend.Submit(attemptCtx, trace)
		done <- submitResult{art: art, err: err}
	}()

	select {
	case <-attemptCtx.Done():
		return Artifact{}, fmt.Errorf("submit to %s backend: %w", c.Backend.Kind(), attemptCtx.Err())
	case res := <-done:
		if res.err != nil {
			return Artifact{}, res.err
		}
		pub := res.art.PublicInputs
		ok, err := c.Backend.Verify(attemptCtx, res.art, pub)
		if err != nil {
			return Artifact{}, fmt.Errorf("verify artifact: %w", err)
		}
		if !ok {
			return Artifact{}, fmt.Errorf("%s backend returned an artifact that does not verify", c.Backend.Kind())
		}
		return res.art, nil
	}
}

// Verify checks an artifact against expected public inputs.
func (c *Client) Verify(ctx context.Context, art Artifact, pub PublicInputs) (bool, error) {
	return c.Backend.Verify(ctx, art, pub)
}

func permanent(err error) bool {
	return errors.Is(err, circuit.ErrConstraintViolation) ||
		errors.Is(err, ErrShapeMismatch) ||
		errors.Is(err, ErrDegreeTooSmall)
}
