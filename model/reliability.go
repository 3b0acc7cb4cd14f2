package model

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/gitscout/core"
	"github.com/hupe1980/gitscout/retry"
)

// ReliableClient wraps a Client with the per-call timeout and bounded
// retry-with-backoff required at the model boundary. The two failure families
// are handled differently by contract:
//
//   - Timeouts become *core.ModelTimeoutError and are retried, but only while
//     no chunk of the attempt has been forwarded downstream; the stream is
//     non-restartable, so once a consumer observed output the timeout is
//     surfaced instead.
//   - *core.MalformedResponseError is never retried and passes straight
//     through so the loop can decide to re-prompt or fail.
//
// All other errors pass through unretried as well.
type ReliableClient struct {
	inner   Client
	policy  retry.Policy
	timeout time.Duration
}

// NewReliableClient wraps inner. A zero timeout disables the per-call
// deadline; the policy still bounds retries of timeouts propagated by the
// backend itself.
func NewReliableClient(inner Client, policy retry.Policy, timeout time.Duration) *ReliableClient {
	return &ReliableClient{inner: inner, policy: policy, timeout: timeout}
}

// Info implements the Client interface.
func (c *ReliableClient) Info() Info { return c.inner.Info() }

// Generate implements the Client interface.
func (c *ReliableClient) Generate(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, 32)
	errOut := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errOut)

		attempts := c.policy.MaxAttempts
		if attempts < 1 {
			attempts = 1
		}

		for attempt := 0; attempt < attempts; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					errOut <- ctx.Err()
					return
				case <-time.After(c.policy.Delay(attempt)):
				}
			}

			delivered, err := c.attempt(ctx, req, out)
			if err == nil {
				return
			}

			var timeout *core.ModelTimeoutError
			if errors.As(err, &timeout) && !delivered && attempt < attempts-1 {
				continue
			}
			errOut <- err
			return
		}
	}()

	return out, errOut
}

// attempt runs one generation call, forwarding chunks downstream. It reports
// whether any chunk was forwarded and the classified terminal error, if any.
func (c *ReliableClient) attempt(ctx context.Context, req Request, out chan<- Chunk) (bool, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	chunks, errs := c.inner.Generate(callCtx, req)
	delivered := false

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				// Stream closed; pick up a terminal error if one is pending.
				select {
				case err, ok := <-errs:
					if ok && err != nil {
						return delivered, c.classify(ctx, err)
					}
				default:
				}
				return delivered, nil
			}
			select {
			case out <- chunk:
				delivered = true
			case <-ctx.Done():
				return delivered, ctx.Err()
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil // keep draining chunks
				continue
			}
			if err != nil {
				return delivered, c.classify(ctx, err)
			}

		case <-callCtx.Done():
			return delivered, c.classify(ctx, callCtx.Err())
		}
	}
}

// classify converts per-call deadline hits into ModelTimeoutError while the
// parent context is still live; parent cancellation and every other error
// stay untouched.
func (c *ReliableClient) classify(parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return &core.ModelTimeoutError{Timeout: c.timeout}
	}
	return err
}
