package apiclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrymomot/authproxy/core/logger"
)

// exchange returns a fresh pair for refreshToken.
//
// One exchange runs per refresh token at a time. Callers arriving while it
// runs wait for its outcome, which is delivered to them in join order.
// Their replays then run concurrently. A pair
// obtained within RefreshGrace is reused, so requests that were already in
// flight with the old refresh token do not start a second exchange.
//
// The exchange is detached from ctx and bounded by RefreshTimeout. A caller
// whose ctx ends stops waiting without affecting the others.
func (c *Client) exchange(ctx context.Context, refreshToken string) (TokenPair, error) {
	key := flightKey(refreshToken)

	c.mu.Lock()
	if e, ok := c.recent[key]; ok && c.now().Sub(e.at) < c.cfg.RefreshGrace {
		c.mu.Unlock()
		c.observer.RefreshCoalesced()
		return e.pair, nil
	}
	joined := c.waiting[key] > 0
	c.waiting[key]++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.waiting[key]--; c.waiting[key] <= 0 {
			delete(c.waiting, key)
		}
		c.mu.Unlock()
	}()

	if joined {
		c.observer.RefreshCoalesced()
	}

	ch := c.flights.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RefreshTimeout)
		defer cancel()

		start := time.Now()
		pair, err := c.Refresh(rctx, refreshToken)
		elapsed := time.Since(start)
		c.observer.RefreshCompleted(err, elapsed)

		if err != nil {
			c.logger.WarnContext(rctx, "token refresh failed", logger.Error(err), logger.Duration(elapsed))
			return TokenPair{}, err
		}

		c.mu.Lock()
		c.pruneRecent()
		c.recent[key] = exchanged{pair: pair, at: c.now()}
		c.mu.Unlock()

		c.logger.DebugContext(rctx, "token refreshed", logger.Duration(elapsed))
		return pair, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return TokenPair{}, res.Err
		}
		return res.Val.(TokenPair), nil
	case <-ctx.Done():
		return TokenPair{}, ctx.Err()
	}
}

// pruneRecent drops expired grace entries. c.mu must be held.
func (c *Client) pruneRecent() {
	now := c.now()
	for k, e := range c.recent {
		if now.Sub(e.at) >= c.cfg.RefreshGrace {
			delete(c.recent, k)
		}
	}
}

// expiresSoon reports whether creds should be refreshed before sending.
// Tokens that are not JWTs or carry no exp claim never expire early.
func (c *Client) expiresSoon(creds Credentials) bool {
	if !c.cfg.PreemptiveRefresh || creds.RefreshToken == "" || creds.AccessToken == "" {
		return false
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(creds.AccessToken, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Sub(c.now()) <= c.cfg.ExpiryLeeway
}

// flightKey keeps raw refresh tokens out of the coordinator's maps.
func flightKey(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:])
}
