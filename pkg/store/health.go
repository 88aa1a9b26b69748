package store

import (
	"context"
	"database/sql"
	"time"
)

// DBHealth is the database section of the health endpoint: ping round-trip
// time plus connection pool pressure.
type DBHealth struct {
	PingMS          int64 `json:"ping_ms"`
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
	WaitMS          int64 `json:"wait_ms"`
	MaxOpenConns    int   `json:"max_open_conns"`
}

// CheckDB pings the database and snapshots pool statistics. A non-nil error
// means the ping failed; the returned value still carries the ping time so
// the health endpoint can report how long the failed attempt took.
func CheckDB(ctx context.Context, db *sql.DB) (DBHealth, error) {
	start := time.Now()
	err := db.PingContext(ctx)
	health := DBHealth{PingMS: time.Since(start).Milliseconds()}
	if err != nil {
		return health, err
	}

	stats := db.Stats()
	health.OpenConnections = stats.OpenConnections
	health.InUse = stats.InUse
	health.Idle = stats.Idle
	health.WaitCount = stats.WaitCount
	health.WaitMS = stats.WaitDuration.Milliseconds()
	health.MaxOpenConns = stats.MaxOpenConnections
	return health, nil
}
