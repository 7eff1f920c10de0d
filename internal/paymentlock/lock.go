// Package paymentlock serializes mutations of one shift payment across instances.
package paymentlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const DefaultTTL = 30 * time.Second

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// ErrLocked is returned when another instance holds the payment lock.
var ErrLocked = errors.New("payment_locked")

// Locker guards a payment id with a redis SET NX token. A nil Locker, or one
// built from a nil client, grants every lock; the database version check still
// rejects concurrent writers.
type Locker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    DefaultTTL,
	}
}

func key(paymentID string) string {
	return fmt.Sprintf("escrow:payment:%s:lock", paymentID)
}

// TryLock returns a release token, or ErrLocked when the payment is busy.
func (l *Locker) TryLock(ctx context.Context, paymentID string) (string, error) {
	if l == nil || l.client == nil {
		return "", nil
	}
	if paymentID == "" {
		return "", errors.New("lock key is empty")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key(paymentID), token, l.ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrLocked
	}
	return token, nil
}

func (l *Locker) Release(ctx context.Context, paymentID, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if paymentID == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key(paymentID)}, token).Err()
}

// With runs fn while holding the payment lock.
func (l *Locker) With(ctx context.Context, paymentID string, fn func(context.Context) error) error {
	token, err := l.TryLock(ctx, paymentID)
	if err != nil {
		return err
	}
	defer func() {
		// The request ctx may already be cancelled; the lock must still go.
		_ = l.Release(context.WithoutCancel(ctx), paymentID, token)
	}()
	return fn(ctx)
}
