package perfcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantflow/perfcore/retrier"
)

// Remote tier operations. All remote access goes through the circuit breaker
// and retrier; reads for the same key are coalesced through singleflight so
// a cold key produces one round trip regardless of concurrent callers.
//
// Stored values carry a one-byte header so the compression flag survives the
// round trip and re-insertion into the local tiers.

const (
	remotePlain      byte = 0x00
	remoteCompressed byte = 0x01
)

type remoteValue struct {
	data       []byte
	compressed bool
}

func encodeRemotePayload(data []byte, compressed bool) []byte {
	flag := remotePlain
	if compressed {
		flag = remoteCompressed
	}
	payload := make([]byte, 0, len(data)+1)
	return append(append(payload, flag), data...)
}

func decodeRemotePayload(payload []byte) ([]byte, bool, error) {
	if len(payload) == 0 {
		return nil, false, errors.New("empty remote payload")
	}
	switch payload[0] {
	case remotePlain:
		return payload[1:], false, nil
	case remoteCompressed:
		return payload[1:], true, nil
	default:
		return nil, false, fmt.Errorf("unknown remote payload header %#x", payload[0])
	}
}

func (c *CacheEngine) getFromRemote(ctx context.Context, key string) ([]byte, bool, error) {
	if c.remote == nil {
		return nil, false, ErrNoRemoteTier
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.RemoteTimeout)
		defer cancel()

		var payload []byte
		err := c.executeWithResilience(ctx, func() error {
			var err error
			payload, err = c.remote.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				// A miss is not retryable.
				return retrier.Permanent(err)
			}
			return err
		})
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrKeyNotFound
			}
			return nil, fmt.Errorf("remote get failed: %w", err)
		}

		data, compressed, err := decodeRemotePayload(payload)
		if err != nil {
			return nil, fmt.Errorf("remote get failed for key %s: %w", key, err)
		}
		return remoteValue{data: data, compressed: compressed}, nil
	})
	if err != nil {
		return nil, false, err
	}
	rv := v.(remoteValue)
	return rv.data, rv.compressed, nil
}

func (c *CacheEngine) setRemote(ctx context.Context, key string, data []byte, compressed bool, ttl time.Duration) error {
	if c.remote == nil {
		return ErrNoRemoteTier
	}
	if ttl <= 0 {
		ttl = c.cfg.SlowTierTTL
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RemoteTimeout)
	defer cancel()

	payload := encodeRemotePayload(data, compressed)
	return c.executeWithResilience(ctx, func() error {
		return c.remote.Set(ctx, key, payload, ttl).Err()
	})
}

func (c *CacheEngine) deleteRemote(ctx context.Context, key string) error {
	if c.remote == nil {
		return ErrNoRemoteTier
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RemoteTimeout)
	defer cancel()

	return c.executeWithResilience(ctx, func() error {
		return c.remote.Del(ctx, key).Err()
	})
}

func (c *CacheEngine) clearRemote(ctx context.Context) error {
	if c.remote == nil {
		return ErrNoRemoteTier
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RemoteTimeout)
	defer cancel()

	return c.executeWithResilience(ctx, func() error {
		return c.remote.FlushDB(ctx).Err()
	})
}
