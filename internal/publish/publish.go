// Package publish delivers emitted plans to downstream consumers. The
// transport is resolved from a URL: a redis:// URL appends plans to a Redis
// stream, an empty URL keeps them in an in-process ring.
package publish

import (
	"context"
	"log/slog"

	"github.com/juny6654/longplan/internal/domain/model"
)

// Publisher is a plan sink with a named transport and a lifecycle.
type Publisher interface {
	Accept(ctx context.Context, plan model.Plan) error
	Name() string
	Close() error
}

const (
	transportRedis  = "redis"
	transportMemory = "memory"

	// Stream trim bound: an unconsumed stream must not grow without limit.
	defaultStreamMaxLen = 10000

	// One minute of plans at the actuation cadence.
	defaultRingCapacity = 1200
)

// New resolves the plan transport from the configured URL.
func New(url, stream string, logger *slog.Logger) (Publisher, error) {
	if url == "" {
		logger.Info("no publish url configured, keeping plans in memory",
			"capacity", defaultRingCapacity)
		return NewMemoryPublisher(defaultRingCapacity), nil
	}
	return NewRedisPublisher(url, stream, logger)
}
