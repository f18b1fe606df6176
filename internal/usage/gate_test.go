package usage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailfit/mailfit/internal/domain"
)

// memStore implements domain.KVStore in memory for testing.
type memStore struct {
	values map[string]any
	getErr error
	setErr error
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]any)}
}

func (m *memStore) Get(key string, out any) (bool, error) {
	if m.getErr != nil {
		return false, m.getErr
	}
	v, ok := m.values[key]
	if !ok {
		return false, nil
	}
	if rec, ok := v.(domain.UsageRecord); ok {
		*out.(*domain.UsageRecord) = rec
	}
	return true, nil
}

func (m *memStore) Set(key string, value any) error {
	if m.setErr != nil {
		return m.setErr
	}
	if rec, ok := value.(domain.UsageRecord); ok {
		m.values[key] = rec
	} else {
		m.values[key] = value
	}
	return nil
}

func (m *memStore) Delete(key string) error {
	delete(m.values, key)
	return nil
}

func (m *memStore) Keys() ([]string, error) {
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys, nil
}

// memUnlock implements domain.UnlockStore in memory for testing.
type memUnlock struct {
	unlocked   bool
	err        error
	milestones map[string]bool
}

func newMemUnlock() *memUnlock {
	return &memUnlock{milestones: make(map[string]bool)}
}

func (m *memUnlock) IsUnlocked() (bool, error) { return m.unlocked, m.err }
func (m *memUnlock) SetUnlocked() error        { m.unlocked = true; return nil }
func (m *memUnlock) MarkMilestone(name string) error {
	m.milestones[name] = true
	return nil
}
func (m *memUnlock) HasMilestone(name string) (bool, error) { return m.milestones[name], nil }
func (m *memUnlock) Close() error                           { return nil }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestGate(kv domain.KVStore, unlock domain.UnlockStore, at time.Time) *Gate {
	return NewGate(kv, unlock, 5, PeriodDay, zap.NewNop()).WithClock(fixedClock(at))
}

func TestGate_FreshPeriodHasFullQuota(t *testing.T) {
	g := newTestGate(newMemStore(), newMemUnlock(), time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local))

	status := g.CheckLimit()

	assert.True(t, status.Allowed)
	assert.Equal(t, 5, status.Remaining)
	assert.Equal(t, 5, status.Limit)
	assert.False(t, status.ApproachingLimit)
}

func TestGate_ExhaustedQuotaBlocksSixthSend(t *testing.T) {
	kv := newMemStore()
	g := newTestGate(kv, newMemUnlock(), time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local))

	for i := 1; i <= 5; i++ {
		count, err := g.RecordSend()
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	status := g.CheckLimit()
	assert.False(t, status.Allowed)
	assert.Equal(t, 0, status.Remaining)
}

func TestGate_MidnightRolloverRestoresQuota(t *testing.T) {
	kv := newMemStore()
	beforeMidnight := time.Date(2026, 8, 31, 23, 50, 0, 0, time.Local)
	g := newTestGate(kv, newMemUnlock(), beforeMidnight)

	for i := 0; i < 5; i++ {
		_, err := g.RecordSend()
		require.NoError(t, err)
	}
	require.False(t, g.CheckLimit().Allowed)

	// Same store, new day.
	afterMidnight := time.Date(2026, 9, 1, 0, 10, 0, 0, time.Local)
	g2 := newTestGate(kv, newMemUnlock(), afterMidnight)

	status := g2.CheckLimit()
	assert.True(t, status.Allowed)
	assert.Equal(t, 5, status.Remaining)
}

func TestGate_UnlockFlagOverridesCounter(t *testing.T) {
	kv := newMemStore()
	unlock := newMemUnlock()
	g := newTestGate(kv, unlock, time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local))

	for i := 0; i < 9; i++ {
		_, err := g.RecordSend()
		require.NoError(t, err)
	}
	require.False(t, g.CheckLimit().Allowed)

	require.NoError(t, unlock.SetUnlocked())

	status := g.CheckLimit()
	assert.True(t, status.Allowed)
	assert.True(t, status.Unlimited)
}

func TestGate_ApproachingLimitWarning(t *testing.T) {
	kv := newMemStore()
	g := newTestGate(kv, newMemUnlock(), time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local))

	for i := 0; i < 4; i++ {
		_, err := g.RecordSend()
		require.NoError(t, err)
	}

	status := g.CheckLimit()
	assert.True(t, status.Allowed)
	assert.Equal(t, 1, status.Remaining)
	assert.True(t, status.ApproachingLimit)
}

func TestGate_StorageErrorFailsOpen(t *testing.T) {
	kv := newMemStore()
	kv.getErr = errors.New("disk on fire")
	g := newTestGate(kv, newMemUnlock(), time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local))

	status := g.CheckLimit()
	assert.True(t, status.Allowed, "usage check failures must not block the user")
	assert.Equal(t, 5, status.Remaining)
}

func TestGate_PruneKeepsTwoMostRecentPeriods(t *testing.T) {
	kv := newMemStore()
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local)
	g := newTestGate(kv, newMemUnlock(), now)

	for _, day := range []string{"2026-08-28", "2026-08-29", "2026-08-30", "2026-08-31"} {
		require.NoError(t, kv.Set("usage:"+day, domain.UsageRecord{PeriodKey: day, Count: 1, Limit: 5}))
	}
	require.NoError(t, kv.Set("settings", "untouched"))

	require.NoError(t, g.Prune())

	keys, err := kv.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"usage:2026-08-30", "usage:2026-08-31", "settings"}, keys)
}

func TestGate_SetPeriodSwitchesWindow(t *testing.T) {
	kv := newMemStore()
	g := newTestGate(kv, newMemUnlock(), time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local))

	// Two sends land in today's daily record.
	_, err := g.RecordSend()
	require.NoError(t, err)
	_, err = g.RecordSend()
	require.NoError(t, err)
	require.Equal(t, 3, g.CheckLimit().Remaining)

	// Switching to monthly moves the counter to a fresh window.
	g.SetPeriod("month")
	assert.Equal(t, 5, g.CheckLimit().Remaining)

	_, err = g.RecordSend()
	require.NoError(t, err)

	var rec domain.UsageRecord
	ok, err := kv.Get("usage:2026-08", &rec)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, rec.Count)

	// Switching back restores the daily counter.
	g.SetPeriod("day")
	assert.Equal(t, 3, g.CheckLimit().Remaining)
}

func TestGate_SetPeriodIgnoresUnknownValue(t *testing.T) {
	g := newTestGate(newMemStore(), newMemUnlock(), time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local))

	g.SetPeriod("fortnight")

	_, err := g.RecordSend()
	require.NoError(t, err)

	var rec domain.UsageRecord
	ok, err := g.kv.Get("usage:2026-08-31", &rec)
	require.NoError(t, err)
	assert.True(t, ok, "gate must stay on the daily window")
}

func TestGate_MonthlyPeriodKey(t *testing.T) {
	kv := newMemStore()
	g := NewGate(kv, newMemUnlock(), 50, PeriodMonth, zap.NewNop()).
		WithClock(fixedClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local)))

	_, err := g.RecordSend()
	require.NoError(t, err)

	var rec domain.UsageRecord
	ok, err := kv.Get("usage:2026-08", &rec)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, rec.Count)
}
