// Package usage enforces the send quota: a rolling per-period counter
// with an authoritative paid-unlock bypass.
package usage

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mailfit/mailfit/internal/domain"
)

const (
	recordKeyPrefix = "usage:"

	// approachingFraction triggers the soft warning.
	approachingFraction = 0.8
)

// Period selects the quota window granularity.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// Gate implements domain.UsageGate over a KV store, with the unlock
// flag read from the encrypted store. Storage failures fail open: a
// broken disk must never block the user from sending email.
type Gate struct {
	kv     domain.KVStore
	unlock domain.UnlockStore
	limit  int
	now    func() time.Time
	logger *zap.Logger

	// period can change at runtime via the settings message; guard it
	// because the coordinator and the prune ticker run on different
	// goroutines.
	mu     sync.Mutex
	period Period
}

// NewGate creates a usage gate.
func NewGate(kv domain.KVStore, unlock domain.UnlockStore, limit int, period Period, logger *zap.Logger) *Gate {
	return &Gate{
		kv:     kv,
		unlock: unlock,
		limit:  limit,
		period: period,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock overrides the time source (for tests).
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// SetPeriod switches the quota window granularity. An unknown value is
// logged and ignored so a corrupted settings file cannot wedge the
// gate.
func (g *Gate) SetPeriod(period string) {
	p := Period(period)
	if p != PeriodDay && p != PeriodMonth {
		g.logger.Warn("ignoring unknown quota period", zap.String("period", period))
		return
	}

	g.mu.Lock()
	changed := g.period != p
	g.period = p
	g.mu.Unlock()

	if changed {
		g.logger.Info("quota period changed", zap.String("period", period))
	}
}

func (g *Gate) currentPeriod() Period {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.period
}

// CheckLimit reports whether another send is allowed in the current
// period. The stored record is treated as zero when its period key no
// longer matches the current period (implicit rollover).
func (g *Gate) CheckLimit() domain.UsageStatus {
	if g.isUnlocked() {
		return domain.UsageStatus{
			Allowed:   true,
			Remaining: -1,
			Limit:     g.limit,
			Unlimited: true,
		}
	}

	rec := g.currentRecord()
	remaining := g.limit - rec.Count
	if remaining < 0 {
		remaining = 0
	}

	return domain.UsageStatus{
		Allowed:          remaining > 0,
		Remaining:        remaining,
		Limit:            g.limit,
		ApproachingLimit: remaining > 0 && float64(rec.Count) >= approachingFraction*float64(g.limit),
	}
}

// RecordSend increments the counter for the current period and returns
// the new count. The unlock flag does not suppress counting; it only
// stops the counter from ever blocking.
func (g *Gate) RecordSend() (int, error) {
	rec := g.currentRecord()
	rec.Count++

	if err := g.kv.Set(recordKeyPrefix+rec.PeriodKey, rec); err != nil {
		return rec.Count, fmt.Errorf("failed to persist usage record: %w", err)
	}
	return rec.Count, nil
}

// Prune removes usage records older than the two most recent periods.
func (g *Gate) Prune() error {
	keep := map[string]bool{
		recordKeyPrefix + g.periodKey(g.now()):  true,
		recordKeyPrefix + g.previousPeriodKey(): true,
	}

	keys, err := g.kv.Keys()
	if err != nil {
		return err
	}

	for _, key := range keys {
		if !strings.HasPrefix(key, recordKeyPrefix) || keep[key] {
			continue
		}
		if err := g.kv.Delete(key); err != nil {
			return err
		}
		g.logger.Debug("pruned stale usage record", zap.String("key", key))
	}
	return nil
}

// currentRecord loads the record for the current period, returning a
// zeroed record on rollover or storage failure.
func (g *Gate) currentRecord() domain.UsageRecord {
	key := g.periodKey(g.now())
	fresh := domain.UsageRecord{PeriodKey: key, Count: 0, Limit: g.limit}

	var rec domain.UsageRecord
	ok, err := g.kv.Get(recordKeyPrefix+key, &rec)
	if err != nil {
		g.logger.Warn("usage record read failed, failing open", zap.Error(err))
		return fresh
	}
	if !ok || rec.PeriodKey != key {
		return fresh
	}
	rec.Limit = g.limit
	return rec
}

func (g *Gate) isUnlocked() bool {
	unlocked, err := g.unlock.IsUnlocked()
	if err != nil {
		g.logger.Warn("unlock flag read failed", zap.Error(err))
		return false
	}
	return unlocked
}

// periodKey formats t's local-time period.
func (g *Gate) periodKey(t time.Time) string {
	if g.currentPeriod() == PeriodMonth {
		return t.Format("2006-01")
	}
	return t.Format("2006-01-02")
}

func (g *Gate) previousPeriodKey() string {
	t := g.now()
	if g.currentPeriod() == PeriodMonth {
		return g.periodKey(t.AddDate(0, -1, 0))
	}
	return g.periodKey(t.AddDate(0, 0, -1))
}

// Ensure Gate implements domain.UsageGate.
var _ domain.UsageGate = (*Gate)(nil)
