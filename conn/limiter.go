package conn

import (
	"golang.org/x/time/rate"

	"relay.dev/config"
)

// publishRateLimit and publishBurst bound a single connection's EVENT
// submission rate once whitelisting and global limits are accounted for.
// A connection on the configured IP whitelist gets no limiter at all.
const (
	publishRateLimit = 10
	publishBurst     = 20
)

// NewPubLimiter returns the per-connection publisher rate limiter for a
// client at the given IP, or nil if that IP is exempt (spec §3:
// "optional pub_limiter").
func NewPubLimiter(cfg *config.C, ip string) *rate.Limiter {
	for _, w := range cfg.RateLimitWhitelist {
		if w == ip {
			return nil
		}
	}
	return rate.NewLimiter(publishRateLimit, publishBurst)
}
