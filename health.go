package connkit

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus is the structured result of a liveness probe. Health never
// returns an error value; failures are reported in the Error field.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	PoolStats PoolStats     `json:"pool_stats"`
}

// PoolStats contains connection pool statistics
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
	MaxIdleClosed      int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed  int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed  int64         `json:"max_lifetime_closed"`
}

// Health probes the connection with a single ping bounded by the health
// timeout. An uninitialized manager short-circuits without any I/O. A
// sporadic probe failure does not re-trigger initialization; it is only
// reported.
func (m *Manager) Health(ctx context.Context) HealthStatus {
	m.mu.Lock()
	db := m.db
	initialized := m.state == StateInitialized
	timeout := m.cfg.HealthTimeout
	m.mu.Unlock()

	if !initialized || db == nil {
		return HealthStatus{Healthy: false, Error: "not initialized"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := db.PingContext(probeCtx)
	latency := time.Since(start)

	status := HealthStatus{
		Healthy:   err == nil,
		Latency:   latency,
		PoolStats: PoolStatsFromSQL(db.Stats()),
	}
	if err != nil {
		status.Error = err.Error()
	}

	return status
}

// IsHealthy returns true if the manager holds a reachable connection
func (m *Manager) IsHealthy(ctx context.Context) bool {
	return m.Health(ctx).Healthy
}

// PoolStatsFromSQL converts sql.DBStats to PoolStats
func PoolStatsFromSQL(stats sql.DBStats) PoolStats {
	return PoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
		MaxIdleClosed:      stats.MaxIdleClosed,
		MaxIdleTimeClosed:  stats.MaxIdleTimeClosed,
		MaxLifetimeClosed:  stats.MaxLifetimeClosed,
	}
}
