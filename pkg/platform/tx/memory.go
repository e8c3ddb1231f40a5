package tx

import (
	"context"
	"sync"
	"time"

	dErrors "custody/pkg/domain-errors"
)

// numShards spreads in-memory units of work over independent mutexes keyed
// by a hash of the shard key, so unrelated manifests do not contend.
const numShards = 64

const defaultTxTimeout = 5 * time.Second

// ShardedMemory is the in-memory Runner. It provides isolation (one unit of
// work per shard at a time) but no rollback: in-memory stores apply writes
// immediately.
type ShardedMemory struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

func NewShardedMemory() *ShardedMemory {
	return &ShardedMemory{timeout: defaultTxTimeout}
}

type memoryTxKey struct{}

func (t *ShardedMemory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	// Joining an active unit of work mirrors the postgres runner and avoids
	// self-deadlock when services compose.
	if ctx.Value(memoryTxKey{}) == t {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	shard := hashString(shardKeyFrom(ctx)) % numShards
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(context.WithValue(ctx, memoryTxKey{}, t))
}

// Nested runs fn directly; there is nothing to roll back in memory.
func (t *ShardedMemory) Nested(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
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
