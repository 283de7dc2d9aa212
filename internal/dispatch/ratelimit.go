package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/dispatch/internal/model"
	"github.com/embermail/dispatch/internal/store"
)

// Limiter enforces per-account hourly and daily quotas. The counters live in
// the store so they survive across invocations; the per-account mutex only
// serializes concurrent admissions inside one invocation.
//
// Quota is charged at admission: an admitted message consumes quota whether
// or not the send later succeeds.
type Limiter struct {
	store store.Store

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewLimiter(st store.Store) *Limiter {
	return &Limiter{store: st, locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *Limiter) accountLock(id uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[id] = lock
	}
	return lock
}

// Admit charges one send against both windows of acct, refreshing elapsed
// windows first. It returns false with nothing charged when either window is
// exhausted. Callers in the same invocation must share the acct value so the
// in-memory counters stay coherent under the account lock.
func (l *Limiter) Admit(ctx context.Context, acct *model.SendingAccount) (bool, error) {
	lock := l.accountLock(acct.ID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	resetHourly, err := l.store.ResetHourlyWindow(ctx, acct.ID, now)
	if err != nil {
		return false, err
	}
	resetDaily, err := l.store.ResetDailyWindow(ctx, acct.ID, now)
	if err != nil {
		return false, err
	}
	if resetHourly {
		acct.SentThisHour = 0
		acct.HourlyResetAt = now
	}
	if resetDaily {
		acct.SentToday = 0
		acct.DailyResetAt = now
	}

	if acct.SentThisHour >= acct.HourlyLimit || acct.SentToday >= acct.DailyLimit {
		return false, nil
	}

	if err := l.store.IncrementSendCounters(ctx, acct.ID); err != nil {
		return false, err
	}
	acct.SentThisHour++
	acct.SentToday++
	return true, nil
}
