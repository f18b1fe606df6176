package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailfit/mailfit/internal/domain"
)

// fakeGate implements domain.UsageGate for testing.
type fakeGate struct {
	count  int
	limit  int
	status domain.UsageStatus

	mu     sync.Mutex
	period string
}

func (f *fakeGate) CheckLimit() domain.UsageStatus { return f.status }
func (f *fakeGate) RecordSend() (int, error)       { f.count++; return f.count, nil }
func (f *fakeGate) Prune() error                   { return nil }

func (f *fakeGate) SetPeriod(period string) {
	f.mu.Lock()
	f.period = period
	f.mu.Unlock()
}

func (f *fakeGate) currentPeriod() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.period
}

// fakeUnlock implements domain.UnlockStore for testing.
type fakeUnlock struct {
	unlocked bool
}

func (f *fakeUnlock) IsUnlocked() (bool, error)         { return f.unlocked, nil }
func (f *fakeUnlock) SetUnlocked() error                { f.unlocked = true; return nil }
func (f *fakeUnlock) MarkMilestone(string) error        { return nil }
func (f *fakeUnlock) HasMilestone(string) (bool, error) { return false, nil }
func (f *fakeUnlock) Close() error                      { return nil }

// fakeKV implements domain.KVStore for testing.
type fakeKV struct {
	values map[string]domain.Settings
}

func (f *fakeKV) Get(key string, out any) (bool, error) {
	v, ok := f.values[key]
	if !ok {
		return false, nil
	}
	*out.(*domain.Settings) = v
	return true, nil
}

func (f *fakeKV) Set(key string, value any) error {
	if s, ok := value.(domain.Settings); ok {
		f.values[key] = s
	}
	return nil
}

func (f *fakeKV) Delete(key string) error { delete(f.values, key); return nil }
func (f *fakeKV) Keys() ([]string, error) { return nil, nil }

// fakeVerifier implements domain.UnlockVerifier for testing.
type fakeVerifier struct {
	paid bool
	err  error
}

func (f *fakeVerifier) Verify(context.Context, string) (bool, error) {
	return f.paid, f.err
}

// fakeTabs implements domain.TabQuerier for testing.
type fakeTabs struct {
	focused    string
	recent     []string
	states     map[string]*domain.EmailState
	scrapeErrs map[string]error
	queried    []string
}

func (f *fakeTabs) FocusedTab(context.Context) string   { return f.focused }
func (f *fakeTabs) RecentTabs(context.Context) []string { return f.recent }
func (f *fakeTabs) ScrapeTab(_ context.Context, id string) (*domain.EmailState, error) {
	f.queried = append(f.queried, id)
	if err := f.scrapeErrs[id]; err != nil {
		return nil, err
	}
	return f.states[id], nil
}

func startCoordinator(t *testing.T) (*Coordinator, *fakeGate, *fakeUnlock) {
	t.Helper()

	gate := &fakeGate{limit: 5, status: domain.UsageStatus{Allowed: true, Remaining: 5, Limit: 5}}
	unlock := &fakeUnlock{}
	c := New(gate, unlock, &fakeKV{values: map[string]domain.Settings{}}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	return c, gate, unlock
}

func TestCoordinator_SubscriberGetsSnapshotOnConnect(t *testing.T) {
	c, _, _ := startCoordinator(t)

	ch, cancel := c.Subscribe()
	defer cancel()

	select {
	case state := <-ch:
		assert.False(t, state.IsActive)
		assert.Equal(t, domain.LightIdle, state.TrafficLight)
	case <-time.After(time.Second):
		t.Fatal("no snapshot pushed on connect")
	}
}

func TestCoordinator_BroadcastsContentUpdates(t *testing.T) {
	c, _, _ := startCoordinator(t)

	ch, cancel := c.Subscribe()
	defer cancel()
	<-ch // snapshot

	c.UpdateContent(domain.EmailState{
		IsActive:     true,
		Text:         "hello",
		Environment:  domain.EnvGmail,
		TrafficLight: domain.LightReady,
	})

	select {
	case state := <-ch:
		assert.Equal(t, "hello", state.Text)
		assert.Equal(t, domain.EnvGmail, state.Environment)
	case <-time.After(time.Second):
		t.Fatal("update not broadcast")
	}
}

func TestCoordinator_DeadSubscriberDoesNotAffectOthers(t *testing.T) {
	c, _, _ := startCoordinator(t)

	dead, _ := c.Subscribe()
	<-dead // snapshot, then never read again

	live, cancelLive := c.Subscribe()
	defer cancelLive()
	<-live

	// Overflow the dead subscriber's buffer.
	for i := 0; i < 40; i++ {
		c.UpdateContent(domain.EmailState{IsActive: true, CharacterCount: i})
	}

	// The live subscriber keeps receiving.
	deadline := time.After(2 * time.Second)
	var last domain.EmailState
	for {
		select {
		case st, ok := <-live:
			if !ok {
				t.Fatal("live subscriber was dropped")
			}
			last = st
			if last.CharacterCount == 39 {
				return
			}
		case <-deadline:
			t.Fatalf("live subscriber stalled at count %d", last.CharacterCount)
		}
	}
}

func TestCoordinator_EmailSentIncrementsAndResets(t *testing.T) {
	c, gate, _ := startCoordinator(t)

	c.UpdateContent(domain.EmailState{IsActive: true, Text: "draft"})

	reply := c.EmailSent(time.Now())
	assert.Equal(t, 1, reply.Count)
	assert.Equal(t, 1, gate.count)

	state := c.Snapshot()
	assert.False(t, state.IsActive)
	assert.Empty(t, state.Text)
}

func TestCoordinator_CheckUsageDelegatesToGate(t *testing.T) {
	c, gate, _ := startCoordinator(t)
	gate.status = domain.UsageStatus{Allowed: false, Remaining: 0, Limit: 5}

	status := c.CheckUsage()
	assert.False(t, status.Allowed)
	assert.Equal(t, 0, status.Remaining)
}

func TestCoordinator_VerifyAndUnlock(t *testing.T) {
	c, _, unlock := startCoordinator(t)

	err := c.VerifyAndUnlock(context.Background(), &fakeVerifier{paid: true}, "cs_123")
	require.NoError(t, err)
	assert.True(t, unlock.unlocked)
}

func TestCoordinator_VerifyFailureNeverUnlocks(t *testing.T) {
	c, _, unlock := startCoordinator(t)

	err := c.VerifyAndUnlock(context.Background(), &fakeVerifier{err: errors.New("endpoint down")}, "cs_123")
	require.Error(t, err)
	assert.False(t, unlock.unlocked)

	err = c.VerifyAndUnlock(context.Background(), &fakeVerifier{paid: false}, "cs_123")
	require.Error(t, err)
	assert.False(t, unlock.unlocked)
}

func TestCoordinator_CurrentStatePrefersFocusedTab(t *testing.T) {
	c, _, _ := startCoordinator(t)

	focused := &domain.EmailState{IsActive: true, Text: "from focused tab"}
	tabs := &fakeTabs{
		focused: "tab-1",
		recent:  []string{"tab-2"},
		states: map[string]*domain.EmailState{
			"tab-1": focused,
			"tab-2": {IsActive: true, Text: "from other tab"},
		},
		scrapeErrs: map[string]error{},
	}
	c.SetTabQuerier(tabs)

	state := c.CurrentState(context.Background())
	assert.Equal(t, "from focused tab", state.Text)
	assert.Equal(t, []string{"tab-1"}, tabs.queried)
}

func TestCoordinator_CurrentStateFallsBackThroughTabs(t *testing.T) {
	c, _, _ := startCoordinator(t)

	tabs := &fakeTabs{
		focused: "tab-1",
		recent:  []string{"tab-2", "tab-3"},
		states: map[string]*domain.EmailState{
			"tab-3": {IsActive: true, Text: "third time lucky"},
		},
		scrapeErrs: map[string]error{
			"tab-1": errors.New("tab gone"),
			"tab-2": errors.New("tab gone"),
		},
	}
	c.SetTabQuerier(tabs)

	state := c.CurrentState(context.Background())
	assert.Equal(t, "third time lucky", state.Text)
	assert.Equal(t, []string{"tab-1", "tab-2", "tab-3"}, tabs.queried)
}

func TestCoordinator_CurrentStateFallsBackToSnapshot(t *testing.T) {
	c, _, _ := startCoordinator(t)

	c.UpdateContent(domain.EmailState{IsActive: true, Text: "cached"})
	c.SetTabQuerier(&fakeTabs{scrapeErrs: map[string]error{}})

	state := c.CurrentState(context.Background())
	assert.Equal(t, "cached", state.Text)
}

func TestCoordinator_SettingsPersistAndBroadcast(t *testing.T) {
	gate := &fakeGate{limit: 5}
	kv := &fakeKV{values: map[string]domain.Settings{}}
	c := New(gate, &fakeUnlock{}, kv, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	ch, unsub := c.Subscribe()
	defer unsub()
	<-ch

	s := domain.Settings{PreviewWidth: 414, QuotaPeriod: "month", OverlayEnabled: false}
	c.UpdateSettings(s)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("settings update not broadcast")
	}

	assert.Equal(t, s, c.Settings())
	assert.Equal(t, s, kv.values[settingsKey])
}

func TestCoordinator_ReconstructsSettingsFromStorage(t *testing.T) {
	stored := domain.Settings{PreviewWidth: 414, QuotaPeriod: "month", OverlayEnabled: true}
	kv := &fakeKV{values: map[string]domain.Settings{settingsKey: stored}}
	gate := &fakeGate{}

	c := New(gate, &fakeUnlock{}, kv, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	assert.Equal(t, stored, c.Settings())
	assert.Equal(t, "month", gate.currentPeriod())
}

func TestCoordinator_SettingsUpdateSwitchesQuotaPeriod(t *testing.T) {
	c, gate, _ := startCoordinator(t)

	c.UpdateSettings(domain.Settings{PreviewWidth: 375, QuotaPeriod: "month", OverlayEnabled: true})

	require.Eventually(t, func() bool {
		return gate.currentPeriod() == "month"
	}, time.Second, 10*time.Millisecond, "quota period never reached the gate")

	c.UpdateSettings(domain.Settings{PreviewWidth: 375, QuotaPeriod: "day", OverlayEnabled: true})

	require.Eventually(t, func() bool {
		return gate.currentPeriod() == "day"
	}, time.Second, 10*time.Millisecond)
}
