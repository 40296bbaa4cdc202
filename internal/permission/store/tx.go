package store

import (
	"context"
	"time"

	dErrors "permguard/pkg/domain-errors"
	txcontext "permguard/pkg/platform/tx"
)

// numTxShards spreads in-memory transactions over independent locks keyed by
// the row being mutated, so unrelated mutations never wait on each other.
const numTxShards = 128

// defaultTxTimeout is the maximum duration for a permission transaction.
const defaultTxTimeout = 5 * time.Second

func (s *InMemoryStore) runSharded(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel, err := beginTx(ctx, s.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	mu := &s.shards[selectShard(txcontext.LockKey(ctx))]
	mu.Lock()
	defer mu.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx)
}

// beginTx rejects cancelled contexts and applies the default timeout when the
// caller set no deadline.
func beginTx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return ctx, func() {}, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, nil
}

// selectShard picks a shard from the lock key, or shard 0 without one.
func selectShard(key string) int {
	if key == "" {
		return 0
	}
	return int(hashString(key) % numTxShards)
}

// hashString is FNV-1a.
func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
