package connectivity

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hazyhaar/reelscan/kit"
)

// HandlerMiddleware wraps a Handler without changing its signature.
type HandlerMiddleware func(next Handler) Handler

// Chain composes middlewares; the first one is the outermost wrapper.
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Observe logs each call to target with its duration and the run it
// belongs to. Failures log at warn, successes at debug.
func Observe(logger *slog.Logger, target string) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			attrs := []any{
				"target", target,
				"run", kit.GetRunID(ctx),
				"duration", time.Since(start),
				"request_bytes", len(payload),
			}
			if err != nil {
				logger.WarnContext(ctx, "connectivity: call failed", append(attrs, "error", err)...)
				return nil, err
			}
			logger.DebugContext(ctx, "connectivity: call", append(attrs, "response_bytes", len(resp))...)
			return resp, nil
		}
	}
}

// Timeout bounds each call. Zero disables it.
func Timeout(d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, payload)
		}
	}
}

// ErrPanic is a recovered handler panic.
type ErrPanic struct {
	Service string
	Value   any
}

func (e *ErrPanic) Error() string {
	return "connectivity: handler for " + e.Service + " panicked"
}

// Recovery turns a panic of a local handler into *ErrPanic.
func Recovery(logger *slog.Logger, service string) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if v := recover(); v != nil {
					logger.ErrorContext(ctx, "connectivity: panic in local handler",
						"service", service, "panic", v, "stack", string(debug.Stack()))
					resp, err = nil, &ErrPanic{Service: service, Value: v}
				}
			}()
			return next(ctx, payload)
		}
	}
}
