package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/reelscan/dbopen"
)

// Schema holds the routes table. strategy is one of StrategyLocal,
// StrategyHTTP or StrategyNoop; config is the JSON for the transport
// factory (HTTPRouteConfig for http routes).
const Schema = `
CREATE TABLE IF NOT EXISTS routes (
    service_name TEXT PRIMARY KEY,
    strategy     TEXT NOT NULL CHECK(strategy IN ('local', 'http', 'noop')),
    endpoint     TEXT,
    config       TEXT NOT NULL DEFAULT '{}',
    updated_at   INTEGER NOT NULL DEFAULT (unixepoch())
);
`

// UpsertRoute writes the route for service. A running Watch applies it on
// its next poll; otherwise call Reload.
func UpsertRoute(ctx context.Context, db *sql.DB, service, strategy, endpoint string, cfg any) error {
	raw := "{}"
	if cfg != nil {
		b, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("connectivity: route %s config: %w", service, err)
		}
		raw = string(b)
	}
	_, err := dbopen.Exec(ctx, db, `
		INSERT INTO routes (service_name, strategy, endpoint, config) VALUES (?, ?, ?, ?)
		ON CONFLICT(service_name) DO UPDATE SET
			strategy   = excluded.strategy,
			endpoint   = excluded.endpoint,
			config     = excluded.config,
			updated_at = unixepoch()`,
		service, strategy, endpoint, raw)
	if err != nil {
		return fmt.Errorf("connectivity: upsert route %s: %w", service, err)
	}
	return nil
}
