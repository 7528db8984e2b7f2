package db

import (
	"context"
	"time"

	"github.com/anstrom/poolmeter/internal/logging"
)

// LoggingPool delegates to a Pool and logs slow or failed acquires.
type LoggingPool struct {
	pool      *Pool
	threshold time.Duration
	logger    *logging.Logger
}

// NewLoggingPool wraps pool. A nil logger uses the package default.
func NewLoggingPool(pool *Pool, threshold time.Duration, logger *logging.Logger) *LoggingPool {
	if logger == nil {
		logger = logging.Default()
	}
	return &LoggingPool{
		pool:      pool,
		threshold: threshold,
		logger:    logger.WithComponent("database").WithPool(pool.Name()),
	}
}

// Unwrap returns the delegate pool.
func (l *LoggingPool) Unwrap() any {
	return l.pool
}

// Acquire takes a connection from the delegate pool.
func (l *LoggingPool) Acquire(ctx context.Context) (*Conn, error) {
	start := time.Now()
	conn, err := l.pool.Acquire(ctx)
	elapsed := time.Since(start)
	if err != nil {
		l.logger.Warn("Connection acquire failed", "error", err, "elapsed", elapsed)
		return nil, err
	}
	if elapsed >= l.threshold {
		l.logger.Warn("Slow connection acquire", "elapsed", elapsed, "threshold", l.threshold)
	}
	return conn, nil
}

// Ping checks the delegate pool.
func (l *LoggingPool) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Close closes the delegate pool.
func (l *LoggingPool) Close() error {
	return l.pool.Close()
}
