package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a contact stays locked past the caller's deadline
var ErrLockTimeout = errors.New("timed out waiting for contact lock")

// ContactLocker serializes work per contact. Lock blocks until the contact is free
// or ctx is done; the returned function releases the lock.
type ContactLocker interface {
	Lock(ctx context.Context, contactID uint) (func(), error)
}

// LocalContactLocker is an in-process keyed mutex
type LocalContactLocker struct {
	mu    sync.Mutex
	slots map[uint]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalContactLocker creates an in-process locker
func NewLocalContactLocker() *LocalContactLocker {
	return &LocalContactLocker{slots: make(map[uint]*lockSlot)}
}

func (l *LocalContactLocker) Lock(ctx context.Context, contactID uint) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[contactID]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[contactID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(contactID, slot, false)
		return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(contactID, slot, true) })
	}, nil
}

func (l *LocalContactLocker) release(contactID uint, slot *lockSlot, held bool) {
	if held {
		<-slot.ch
	}
	l.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, contactID)
	}
	l.mu.Unlock()
}

// unlockScript deletes the key only while it still carries our token
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisContactLocker guards contacts across processes with SETNX plus a TTL.
// It takes the in-process lock first so local waiters do not poll redis.
// The TTL is renewed while the lock is held; it only bounds how long a crashed holder blocks others.
type RedisContactLocker struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
	local  *LocalContactLocker
}

// NewRedisContactLocker creates a distributed locker
func NewRedisContactLocker(rc *redis.Client, prefix string, ttl time.Duration) *RedisContactLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisContactLocker{
		rc:     rc,
		prefix: prefix,
		ttl:    ttl,
		poll:   50 * time.Millisecond,
		local:  NewLocalContactLocker(),
	}
}

func (l *RedisContactLocker) Lock(ctx context.Context, contactID uint) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, contactID)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%scontact_lock:%d", l.prefix, contactID)
	token := uuid.NewString()

	for {
		ok, err := l.rc.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			unlockLocal()
			return nil, fmt.Errorf("failed to acquire contact lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-time.After(l.poll):
		case <-ctx.Done():
			unlockLocal()
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		}
	}

	stop := make(chan struct{})
	go l.renew(key, token, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			_ = unlockScript.Run(context.Background(), l.rc, []string{key}, token).Err()
			unlockLocal()
		})
	}, nil
}

// renew extends the key every third of the TTL until stop closes or the token is gone
func (l *RedisContactLocker) renew(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(renewInterval(l.ttl))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			held, err := renewScript.Run(ctx, l.rc, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && held == 0 {
				return
			}
		}
	}
}

func renewInterval(ttl time.Duration) time.Duration {
	if d := ttl / 3; d > 0 {
		return d
	}
	return time.Millisecond
}
