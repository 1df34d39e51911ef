package payments

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	claimPending = "pending"
	claimDone    = "done"
)

// RedisClaims shares payment claims between driver-session replicas.
type RedisClaims struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisClaims(client redis.UniversalClient) *RedisClaims {
	return &RedisClaims{client: client, prefix: "driver-session:payment:"}
}

func (r *RedisClaims) Claim(ctx context.Context, key string, ttl time.Duration) (ClaimState, error) {
	k := r.prefix + key
	ok, err := r.client.SetNX(ctx, k, claimPending, ttl).Result()
	if err != nil {
		return 0, err
	}
	if ok {
		return ClaimAcquired, nil
	}
	v, err := r.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SetNX and Get; try once more
		ok, err = r.client.SetNX(ctx, k, claimPending, ttl).Result()
		if err != nil {
			return 0, err
		}
		if ok {
			return ClaimAcquired, nil
		}
		return ClaimPending, nil
	}
	if err != nil {
		return 0, err
	}
	if v == claimDone {
		return ClaimDone, nil
	}
	return ClaimPending, nil
}

func (r *RedisClaims) Complete(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, claimDone, ttl).Err()
}

func (r *RedisClaims) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
