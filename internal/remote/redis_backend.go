package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Voskan/ccachego/pkg/hash"
)

// defaultKeyspacePrefix matches ccache's own redisstorage.cpp default.
const defaultKeyspacePrefix = "ccache"

// RedisBackend stores entries as plain redis keys ("<prefix>:<digest>"),
// grounded on original_source's redisstorage.hpp/cpp "redis:" scheme.
type RedisBackend struct {
	client      *redis.Client
	redactedURL string
	readOnly    bool
	timeout     time.Duration
	prefix      string
	log         *zap.Logger
}

func newRedisBackend(u *url.URL, attrs []Attribute, log *zap.Logger) (*RedisBackend, error) {
	opts := &redis.Options{Addr: u.Host}
	if u.Scheme == "redis+unix" {
		// "redis+unix:///path/to/socket" addresses a unix domain socket;
		// the path component carries the socket path, not a db selector.
		opts.Network = "unix"
		opts.Addr = u.Path
	}
	if u.User != nil {
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
		opts.Username = u.User.Username()
	}
	if u.Scheme != "redis+unix" {
		if db, ok := parseRedisDB(u.Path); ok {
			opts.DB = db
		}
	}
	if u.Scheme == "redis+tls" {
		// go-redis switches to TLS when opts.TLSConfig is non-nil; an empty
		// *tls.Config is enough to request the system default verification.
		opts.TLSConfig = &tls.Config{}
	}
	client := redis.NewClient(opts)

	return &RedisBackend{
		client:      client,
		redactedURL: Redact(u.String()),
		readOnly:    attrBool(attrs, "read-only", false),
		timeout:     attrTimeout(attrs, DefaultTimeout),
		prefix:      attrString(attrs, "keyspace-prefix", defaultKeyspacePrefix),
		log:         log,
	}, nil
}

// parseRedisDB extracts a SELECT database index from a redis:// URL's path
// component ("redis://host:port/3"), mirroring go-redis's own convention.
func parseRedisDB(path string) (int, bool) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return 0, false
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (b *RedisBackend) key(key hash.Digest) string { return b.prefix + ":" + key.String() }

func (b *RedisBackend) ctxWithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.timeout)
}

func (b *RedisBackend) Get(ctx context.Context, key hash.Digest) ([]byte, bool, error) {
	ctx, cancel := b.ctxWithTimeout(ctx)
	defer cancel()
	data, err := b.client.Get(ctx, b.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, b.wrap(ctx, "get", err)
	}
	return data, true, nil
}

func (b *RedisBackend) Put(ctx context.Context, key hash.Digest, value []byte, onlyIfMissing bool) (bool, error) {
	if b.readOnly {
		return false, errFailure(FailureError, "remote(redis %s): %w", b.redactedURL, errReadOnly)
	}
	ctx, cancel := b.ctxWithTimeout(ctx)
	defer cancel()

	if onlyIfMissing {
		ok, err := b.client.SetNX(ctx, b.key(key), value, 0).Result()
		if err != nil {
			return false, b.wrap(ctx, "setnx", err)
		}
		return ok, nil
	}
	if err := b.client.Set(ctx, b.key(key), value, 0).Err(); err != nil {
		return false, b.wrap(ctx, "set", err)
	}
	return true, nil
}

func (b *RedisBackend) Remove(ctx context.Context, key hash.Digest) error {
	if b.readOnly {
		return errFailure(FailureError, "remote(redis %s): %w", b.redactedURL, errReadOnly)
	}
	ctx, cancel := b.ctxWithTimeout(ctx)
	defer cancel()
	if err := b.client.Del(ctx, b.key(key)).Err(); err != nil {
		return b.wrap(ctx, "del", err)
	}
	return nil
}

func (b *RedisBackend) wrap(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errFailure(FailureTimeout, "remote(redis %s): %s: %w", b.redactedURL, op, err)
	}
	return errFailure(FailureError, "remote(redis %s): %s: %w", b.redactedURL, op, err)
}

func (b *RedisBackend) String() string { return "redis:" + b.redactedURL }
