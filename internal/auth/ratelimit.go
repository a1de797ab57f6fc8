package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sdko-org/site-gateway/internal/kv"
	"github.com/sirupsen/logrus"
)

const rateLimitPrefix = "_ratelimit:"

// LoginLimiter counts failed logins per client IP in the KV store. The
// counter is global per IP, not per site. Increments are read-modify-write
// without compare-and-swap, so concurrent failures can under-count.
type LoginLimiter struct {
	store       kv.Store
	maxAttempts int
	window      time.Duration
	log         *logrus.Entry
}

func NewLoginLimiter(logger *logrus.Logger, store kv.Store, maxAttempts int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{
		store:       store,
		maxAttempts: maxAttempts,
		window:      window,
		log:         logger.WithField("component", "login_limiter"),
	}
}

func rateLimitKey(ip string) string {
	return rateLimitPrefix + ip
}

// Failures returns the current failure count for ip.
func (l *LoginLimiter) Failures(ctx context.Context, ip string) (int, error) {
	raw, err := l.store.Get(ctx, rateLimitKey(ip))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Allowed reports whether ip may attempt another login. A store failure
// lets the attempt through.
func (l *LoginLimiter) Allowed(ctx context.Context, ip string) bool {
	n, err := l.Failures(ctx, ip)
	if err != nil {
		l.log.WithError(err).WithField("client_ip", ip).Warn("Rate limit lookup failed, allowing attempt")
		return true
	}
	return n < l.maxAttempts
}

// RecordFailure bumps the counter and restarts its TTL.
func (l *LoginLimiter) RecordFailure(ctx context.Context, ip string) {
	n, err := l.Failures(ctx, ip)
	if err != nil {
		l.log.WithError(err).WithField("client_ip", ip).Warn("Rate limit lookup failed")
	}
	if err := l.store.Put(ctx, rateLimitKey(ip), []byte(strconv.Itoa(n+1)), l.window); err != nil {
		l.log.WithError(err).WithField("client_ip", ip).Warn("Failed to record login failure")
	}
}

// Reset clears the counter after a successful login.
func (l *LoginLimiter) Reset(ctx context.Context, ip string) {
	if err := l.store.Delete(ctx, rateLimitKey(ip)); err != nil {
		l.log.WithError(err).WithField("client_ip", ip).Warn("Failed to reset login failures")
	}
}
