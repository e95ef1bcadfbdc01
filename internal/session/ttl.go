package session

import (
	"context"
	"time"
)

const defaultSweepInterval = 5 * time.Minute

// Sweep deletes sessions idle for longer than the TTL.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	return m.repo.DeleteIdleTurnSessions(ctx, m.ttl)
}

// RunSweeper purges idle sessions every interval until ctx is done. It always returns nil
// so it can run in an errgroup next to the servers.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.logger.Info("Session sweeper started", "interval", interval, "ttl", m.ttl)

	for {
		select {
		case <-ticker.C:
			deleted, err := m.Sweep(ctx)
			if err != nil {
				m.logger.Error("Session sweeper failed", "error", err)
				continue
			}
			if deleted > 0 {
				m.logger.Info("Session sweeper purged idle sessions", "count", deleted)
			}
		case <-ctx.Done():
			m.logger.Info("Session sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}
