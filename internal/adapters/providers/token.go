package providers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// expirySkew is subtracted from a token's expiry so that a token is not
// used in a request that would outlive it.
const expirySkew = 30 * time.Second

// fetchTimeout bounds a shared credential fetch, which runs detached from
// the caller that started it.
const fetchTimeout = 30 * time.Second

// Token is a cached bearer credential.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the token can still be used at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Add(expirySkew).Before(t.ExpiresAt)
}

// TokenCache stores bearer credentials per provider key.
type TokenCache interface {
	Get(ctx context.Context, key string) (Token, bool)
	Set(ctx context.Context, key string, tok Token)
}

type MemoryTokenCache struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{tokens: make(map[string]Token)}
}

func (c *MemoryTokenCache) Get(_ context.Context, key string) (Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tokens[key]
	return t, ok
}

func (c *MemoryTokenCache) Set(_ context.Context, key string, tok Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[key] = tok
}

// RedisTokenCache shares credentials between replicas. Redis errors degrade
// to a cache miss; the caller then fetches a fresh token.
type RedisTokenCache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisTokenCache(client *redis.Client, logger *zap.Logger) *RedisTokenCache {
	return &RedisTokenCache{client: client, prefix: "trust:provider-token:", logger: logger.With(zap.String("component", "token_cache"))}
}

func (c *RedisTokenCache) Get(ctx context.Context, key string) (Token, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, false
	}
	if err != nil {
		c.logger.Warn("token cache read failed", zap.String("key", key), zap.Error(err))
		return Token{}, false
	}
	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return Token{}, false
	}
	return t, true
}

func (c *RedisTokenCache) Set(ctx context.Context, key string, tok Token) {
	ttl := time.Until(tok.ExpiresAt)
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		c.logger.Warn("token cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// tokenSource refreshes a provider credential lazily. Concurrent callers that
// all see a stale cache share one fetch.
type tokenSource struct {
	key     string
	cache   TokenCache
	fetch   func(ctx context.Context) (Token, error)
	now     func() time.Time
	timeout time.Duration
	group   singleflight.Group
}

func newTokenSource(key string, cache TokenCache, fetch func(ctx context.Context) (Token, error)) *tokenSource {
	if cache == nil {
		cache = NewMemoryTokenCache()
	}
	return &tokenSource{key: key, cache: cache, fetch: fetch, now: time.Now, timeout: fetchTimeout}
}

func (s *tokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := s.cache.Get(ctx, s.key); ok && tok.Valid(s.now()) {
		return tok.AccessToken, nil
	}
	ch := s.group.DoChan(s.key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		tok, err := s.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		s.cache.Set(fetchCtx, s.key, tok)
		return tok, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(Token).AccessToken, nil
	}
}
