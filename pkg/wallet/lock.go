package wallet

import (
	"hash/fnv"
	"sync"
)

// accountLocks serializes in-process mutation per account. It is a contention
// optimization: the reference uniqueness constraint and the row lock taken by
// GetAccountForUpdate remain the correctness mechanism across processes.
type accountLocks struct {
	shards [lockShardCount]sync.Mutex
}

func (locks *accountLocks) acquire(accountID AccountID) func() {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(accountID.String()))
	shard := &locks.shards[hasher.Sum32()%lockShardCount]
	shard.Lock()
	return shard.Unlock
}
