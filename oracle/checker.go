package oracle

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/cr0ssing/iota-local-gtta/logger"
	"github.com/cr0ssing/iota-local-gtta/metrics"

	"go.uber.org/zap"
)

// Oracle decides whether a set of transactions is free of conflicting spends.
// Any error means "not verified".
type Oracle interface {
	CheckConsistency(ctx context.Context, hashes []string) error
}

// Checker memoizes positive oracle verdicts per transaction hash.
// It is safe for concurrent use; concurrent checks of overlapping sets may both call the oracle.
type Checker struct {
	oracle  Oracle
	cache   *ttlcache.Cache[string, struct{}]
	expires bool
	metrics *metrics.Metrics
}

// NewChecker creates a checker. A ttl of 0 keeps verdicts until they are forgotten explicitly.
func NewChecker(oracle Oracle, ttl time.Duration, m *metrics.Metrics) *Checker {
	cache := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	if ttl > 0 {
		go cache.Start() // removes expired verdicts
	}
	return &Checker{
		oracle:  oracle,
		cache:   cache,
		expires: ttl > 0,
		metrics: m,
	}
}

// CheckConsistent returns true if all hashes are known or verified to be consistent.
func (c *Checker) CheckConsistent(ctx context.Context, hashes ...string) bool {
	toCheck := make([]string, 0, len(hashes))
	seen := make(map[string]struct{}, len(hashes))
	for _, hash := range hashes {
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = struct{}{}
		if !c.cache.Has(hash) {
			toCheck = append(toCheck, hash)
		}
	}
	if len(toCheck) == 0 {
		c.metrics.IncOracleChecks("cached")
		return true
	}

	if err := c.oracle.CheckConsistency(ctx, toCheck); err != nil {
		logger.Logger.Debug("Transactions not verified consistent",
			zap.Int("count", len(toCheck)), zap.Error(err))
		c.metrics.IncOracleChecks("inconsistent")
		return false
	}
	for _, hash := range toCheck {
		c.cache.Set(hash, struct{}{}, ttlcache.DefaultTTL)
	}
	c.metrics.IncOracleChecks("consistent")
	return true
}

// Forget drops cached verdicts, e.g. for transactions removed from the tangle.
func (c *Checker) Forget(hashes ...string) {
	for _, hash := range hashes {
		c.cache.Delete(hash)
	}
}

// Known reports whether hash has a cached positive verdict.
func (c *Checker) Known(hash string) bool {
	return c.cache.Has(hash)
}

// Len returns the number of cached verdicts.
func (c *Checker) Len() int {
	return c.cache.Len()
}

// Close stops the expiry loop of the cache, if it runs.
func (c *Checker) Close() {
	if c.expires {
		c.cache.Stop()
	}
}
