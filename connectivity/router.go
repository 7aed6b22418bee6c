// Package connectivity dispatches reelscan service calls either to an
// in-process handler or to a remote HTTP endpoint, based on a routes table
// kept in the run store and reloaded at runtime.
//
// The OCR microservice is reached through three services:
//
//	ocr_health         GET  /health
//	ocr_process_image  POST /process-image
//	ocr_correct_texts  POST /correct-texts
//
// Tests register local handlers under the same names instead of routing to
// a live service:
//
//	router := connectivity.New()
//	router.RegisterLocal("ocr_process_image", fakeOCR)
//	resp, err := router.Call(ctx, "ocr_process_image", payload)
package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Route strategies stored in the routes table.
const (
	StrategyLocal = "local"
	StrategyHTTP  = "http"
	StrategyNoop  = "noop"
)

// Handler is a transport-agnostic service function: bytes in, bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// TransportFactory builds a Handler for a remote endpoint. close runs when
// the route is replaced or removed and may be nil.
type TransportFactory func(endpoint string, config json.RawMessage) (handler Handler, close func(), err error)

type route struct {
	Service  string
	Strategy string
	Endpoint string
	Config   json.RawMessage
}

func (rt route) sameTarget(o route) bool {
	return rt.Strategy == o.Strategy && rt.Endpoint == o.Endpoint && string(rt.Config) == string(o.Config)
}

type remote struct {
	route   route
	handler Handler
	close   func()
}

// table is an immutable routing snapshot. Reload builds a new one and
// swaps it in, so Call never blocks on a reload.
type table struct {
	noop   map[string]bool
	remote map[string]remote
}

// Router resolves service names to handlers.
type Router struct {
	logger *slog.Logger
	table  atomic.Pointer[table]

	mu        sync.Mutex // guards local, factories and serialises Reload
	local     map[string]Handler
	factories map[string]TransportFactory
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New returns a Router with an empty table.
func New(opts ...Option) *Router {
	r := &Router{
		logger:    slog.Default(),
		local:     make(map[string]Handler),
		factories: make(map[string]TransportFactory),
	}
	for _, o := range opts {
		o(r)
	}
	r.table.Store(&table{})
	return r
}

// RegisterLocal serves service in-process. A panic in h comes back as
// *ErrPanic.
func (r *Router) RegisterLocal(service string, h Handler) {
	h = Recovery(r.logger, service)(h)
	r.mu.Lock()
	r.local[service] = h
	r.mu.Unlock()
}

// RegisterTransport installs the factory used for routes of strategy.
func (r *Router) RegisterTransport(strategy string, f TransportFactory) {
	r.mu.Lock()
	r.factories[strategy] = f
	r.mu.Unlock()
}

// Has reports whether Call would find a handler for service.
func (r *Router) Has(service string) bool {
	t := r.table.Load()
	if t.noop[service] {
		return true
	}
	if _, ok := t.remote[service]; ok {
		return true
	}
	r.mu.Lock()
	_, ok := r.local[service]
	r.mu.Unlock()
	return ok
}

// Call resolves service in order noop route, remote route, local handler.
func (r *Router) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	t := r.table.Load()
	if t.noop[service] {
		r.logger.DebugContext(ctx, "connectivity: noop", "service", service)
		return nil, nil
	}
	if rm, ok := t.remote[service]; ok {
		r.logger.DebugContext(ctx, "connectivity: remote", "service", service, "endpoint", rm.route.Endpoint)
		return rm.handler(ctx, payload)
	}
	r.mu.Lock()
	h := r.local[service]
	r.mu.Unlock()
	if h == nil {
		return nil, &ErrServiceNotFound{Service: service}
	}
	r.logger.DebugContext(ctx, "connectivity: local", "service", service)
	return h(ctx, payload)
}

// Reload rebuilds the table from the routes table in db. Remote handlers
// whose target did not change are carried over, the others are closed
// after the swap.
func (r *Router) Reload(ctx context.Context, db *sql.DB) error {
	routes, err := loadRoutes(ctx, db)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.table.Load()
	next := &table{noop: make(map[string]bool), remote: make(map[string]remote)}

	for _, rt := range routes {
		switch rt.Strategy {
		case StrategyLocal:
			continue
		case StrategyNoop:
			next.noop[rt.Service] = true
			continue
		}
		if prev, ok := old.remote[rt.Service]; ok && prev.route.sameTarget(rt) {
			next.remote[rt.Service] = prev
			continue
		}
		factory, ok := r.factories[rt.Strategy]
		if !ok {
			r.logger.Warn("connectivity: no transport for strategy", "service", rt.Service, "strategy", rt.Strategy)
			continue
		}
		h, closeFn, err := factory(rt.Endpoint, rt.Config)
		if err != nil {
			r.logger.Error("connectivity: route skipped", "error",
				&ErrFactoryFailed{Service: rt.Service, Strategy: rt.Strategy, Endpoint: rt.Endpoint, Cause: err})
			continue
		}
		next.remote[rt.Service] = remote{route: rt, handler: h, close: closeFn}
		r.logger.Info("connectivity: route built", "service", rt.Service, "strategy", rt.Strategy, "endpoint", rt.Endpoint)
	}

	r.table.Store(next)
	for name, prev := range old.remote {
		if cur, ok := next.remote[name]; (!ok || !cur.route.sameTarget(prev.route)) && prev.close != nil {
			prev.close()
		}
	}
	r.logger.Info("connectivity: routes reloaded", "total", len(routes), "remote", len(next.remote), "noop", len(next.noop))
	return nil
}

// Close drops every route and closes remote handlers. Local handlers stay.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.table.Swap(&table{})
	for _, rm := range old.remote {
		if rm.close != nil {
			rm.close()
		}
	}
	return nil
}

func loadRoutes(ctx context.Context, db *sql.DB) ([]route, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT service_name, strategy, COALESCE(endpoint, ''), COALESCE(config, '{}') FROM routes ORDER BY service_name`)
	if err != nil {
		return nil, fmt.Errorf("connectivity: query routes: %w", err)
	}
	defer rows.Close()
	var out []route
	for rows.Next() {
		var rt route
		var cfg string
		if err := rows.Scan(&rt.Service, &rt.Strategy, &rt.Endpoint, &cfg); err != nil {
			return nil, fmt.Errorf("connectivity: scan route: %w", err)
		}
		rt.Config = json.RawMessage(cfg)
		out = append(out, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("connectivity: routes: %w", err)
	}
	return out, nil
}
