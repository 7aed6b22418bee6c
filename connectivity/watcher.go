package connectivity

import (
	"context"
	"database/sql"
	"time"
)

// Watch reloads the routes whenever the routes database changes, until
// ctx is done. PRAGMA data_version is per connection, so the poll pins
// one pooled connection:
//
//	go router.Watch(ctx, db, 2*time.Second)
func (r *Router) Watch(ctx context.Context, db *sql.DB, interval time.Duration) {
	conn, err := db.Conn(ctx)
	if err != nil {
		r.logger.Error("connectivity: watch: pin connection", "error", err)
		return
	}
	defer conn.Close()

	version := func() (int64, error) {
		var v int64
		err := conn.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
		return v, err
	}

	last, err := version()
	if err != nil {
		r.logger.Warn("connectivity: watch: data_version", "error", err)
	}
	if err := r.Reload(ctx, db); err != nil {
		r.logger.Error("connectivity: watch: reload", "error", err)
	}

	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		v, err := version()
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Warn("connectivity: watch: data_version", "error", err)
			}
			continue
		}
		if v == last {
			continue
		}
		last = v
		if err := r.Reload(ctx, db); err != nil {
			r.logger.Error("connectivity: watch: reload", "error", err)
		}
	}
}
