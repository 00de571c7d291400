package cache

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

const DefaultSweepSpec = "@every 1m"

// Purger is implemented by caches that can drop expired entries eagerly.
type Purger interface {
	PurgeExpired() int
}

// NewSweeper schedules p.PurgeExpired on spec. The returned scheduler is not
// started.
func NewSweeper(p Purger, spec string, logger *slog.Logger) (*cron.Cron, error) {
	if spec == "" {
		spec = DefaultSweepSpec
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if n := p.PurgeExpired(); n > 0 {
			logger.Debug("purged expired cache entries", "count", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule cache sweep %q: %w", spec, err)
	}
	return c, nil
}
