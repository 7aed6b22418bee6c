package connectivity

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/reelscan/kit"
)

// RetryPolicy bounds the retries of transient failures.
type RetryPolicy struct {
	// Max is the number of retries after the first attempt.
	Max int
	// Backoff is the first delay, doubled on each retry.
	Backoff time.Duration
	// MaxBackoff caps a single delay. Zero means 8x Backoff.
	MaxBackoff time.Duration
}

func (p RetryPolicy) delay(retry int) time.Duration {
	ceiling := p.MaxBackoff
	if ceiling <= 0 {
		ceiling = 8 * p.Backoff
	}
	d := p.Backoff << uint(retry)
	if d <= 0 || d > ceiling {
		d = ceiling
	}
	return d
}

// WithRetry retries failed calls under p. Permanent failures (open
// circuit, 4xx other than 408 and 429) and a done context end the loop at
// once.
func WithRetry(p RetryPolicy, logger *slog.Logger) HandlerMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			for retry := 0; ; retry++ {
				resp, err := next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				if retry >= p.Max || ctx.Err() != nil || isPermanent(err) {
					return nil, err
				}

				wait := p.delay(retry)
				logger.WarnContext(ctx, "connectivity: retrying",
					"retry", retry+1, "max", p.Max, "backoff", wait,
					"run", kit.GetRunID(ctx), "error", err)
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return nil, err
				case <-t.C:
				}
			}
		}
	}
}
