package relay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mailfit/mailfit/internal/domain"
)

const (
	settingsKey = "settings"

	// subscriberBuffer absorbs broadcast bursts; a subscriber that
	// falls this far behind is treated as dead and dropped.
	subscriberBuffer = 16

	mailboxBuffer = 64
)

// subscriber is one connected popup view.
type subscriber struct {
	id uint64
	ch chan domain.EmailState
}

// Coordinator owns the canonical EmailState. All mutation happens on
// the single Run goroutine; public methods post messages into the
// mailbox. The host may kill and restart the process at any time, so
// construction reloads everything durable from storage.
type Coordinator struct {
	mailbox chan Message

	gate   domain.UsageGate
	unlock domain.UnlockStore
	kv     domain.KVStore
	tabs   domain.TabQuerier
	logger *zap.Logger

	// onToggle forwards the preview toggle to the attached tab.
	onToggle func(context.Context) error

	// Loop-owned state; never touched outside Run.
	state       domain.EmailState
	settings    domain.Settings
	subscribers map[uint64]*subscriber

	nextSubID atomic.Uint64
}

// New creates a coordinator, reconstructing durable state from the
// stores.
func New(gate domain.UsageGate, unlock domain.UnlockStore, kv domain.KVStore, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		mailbox:     make(chan Message, mailboxBuffer),
		gate:        gate,
		unlock:      unlock,
		kv:          kv,
		logger:      logger,
		state:       idleState(),
		settings:    domain.DefaultSettings(),
		subscribers: make(map[uint64]*subscriber),
	}

	var stored domain.Settings
	if ok, err := kv.Get(settingsKey, &stored); err != nil {
		logger.Warn("failed to load settings, using defaults", zap.Error(err))
	} else if ok {
		c.settings = stored
		// The persisted quota period overrides the gate's construction
		// default, same as a live settings update would.
		gate.SetPeriod(stored.QuotaPeriod)
	}

	return c
}

// SetTabQuerier wires the live-scrape source for ad hoc state pulls.
func (c *Coordinator) SetTabQuerier(tabs domain.TabQuerier) {
	c.tabs = tabs
}

// SetToggleHandler wires the preview-toggle forwarder.
func (c *Coordinator) SetToggleHandler(fn func(context.Context) error) {
	c.onToggle = fn
}

func idleState() domain.EmailState {
	return domain.EmailState{
		IsActive:     false,
		Environment:  domain.EnvUnknown,
		TrafficLight: domain.LightIdle,
		Timestamp:    time.Now(),
	}
}

// Run consumes the mailbox until ctx is canceled. This is the only
// goroutine that reads or writes coordinator state.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("relay coordinator started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("relay coordinator stopping")
			return ctx.Err()

		case msg := <-c.mailbox:
			c.dispatch(ctx, msg)
		}
	}
}

// dispatch handles one message. The switch is exhaustive over the
// sealed Message set; there is deliberately no default arm.
func (c *Coordinator) dispatch(ctx context.Context, msg Message) {
	switch m := msg.(type) {
	case ComposeOpenedMsg:
		c.state = idleState()
		c.state.IsActive = true
		c.state.Environment = m.Environment
		c.logger.Info("compose opened",
			zap.String("tab", m.TabID),
			zap.String("environment", string(m.Environment)))
		c.broadcast()

	case ComposeClosedMsg:
		c.state = idleState()
		c.logger.Info("compose closed", zap.String("tab", m.TabID))
		c.broadcast()

	case ContentUpdatedMsg:
		c.state = m.State
		c.broadcast()

	case EmailSentMsg:
		count, err := c.gate.RecordSend()
		if err != nil {
			c.logger.Warn("failed to record send", zap.Error(err))
		}
		c.logger.Info("email sent",
			zap.Time("at", m.Timestamp),
			zap.Int("period_count", count))
		c.state = idleState()
		c.broadcast()
		m.Reply <- SentReply{Count: count, Limit: c.gate.CheckLimit().Limit}

	case CheckUsageMsg:
		m.Reply <- c.gate.CheckLimit()

	case GetStateMsg:
		m.Reply <- c.state

	case SettingsUpdatedMsg:
		c.settings = m.Settings
		c.gate.SetPeriod(m.Settings.QuotaPeriod)
		if err := c.kv.Set(settingsKey, m.Settings); err != nil {
			c.logger.Warn("failed to persist settings", zap.Error(err))
		}
		c.logger.Info("settings updated")
		c.broadcast()

	case GetSettingsMsg:
		m.Reply <- c.settings

	case UnlockedMsg:
		m.Reply <- c.unlock.SetUnlocked()

	case TogglePreviewMsg:
		if c.onToggle == nil {
			m.Reply <- fmt.Errorf("no compose tab attached")
		} else {
			m.Reply <- c.onToggle(ctx)
		}

	case subscribeMsg:
		c.subscribers[m.sub.id] = m.sub
		// Push the current snapshot immediately; no polling needed.
		m.sub.ch <- c.state

	case unsubscribeMsg:
		if sub, ok := c.subscribers[m.id]; ok {
			delete(c.subscribers, m.id)
			close(sub.ch)
		}
	}
}

// broadcast fans the canonical state out to every subscriber. A
// subscriber that cannot accept the update is dropped without
// affecting the others.
func (c *Coordinator) broadcast() {
	c.state.Timestamp = time.Now()

	for id, sub := range c.subscribers {
		select {
		case sub.ch <- c.state:
		default:
			c.logger.Debug("dropping stalled subscriber", zap.Uint64("id", id))
			delete(c.subscribers, id)
			close(sub.ch)
		}
	}
}

// --- public API (any goroutine) ---

// ComposeOpened notifies the coordinator a compose dialog appeared.
func (c *Coordinator) ComposeOpened(tabID string, env domain.Environment) {
	c.post(ComposeOpenedMsg{TabID: tabID, Environment: env})
}

// ComposeClosed notifies the coordinator a compose dialog went away.
func (c *Coordinator) ComposeClosed(tabID string) {
	c.post(ComposeClosedMsg{TabID: tabID})
}

// UpdateContent replaces the canonical EmailState.
func (c *Coordinator) UpdateContent(state domain.EmailState) {
	c.post(ContentUpdatedMsg{State: state})
}

// EmailSent records a send and returns the new period count.
func (c *Coordinator) EmailSent(ts time.Time) SentReply {
	reply := make(chan SentReply, 1)
	c.post(EmailSentMsg{Timestamp: ts, Reply: reply})
	return <-reply
}

// CheckUsage asks the gate whether another send is allowed.
func (c *Coordinator) CheckUsage() domain.UsageStatus {
	reply := make(chan domain.UsageStatus, 1)
	c.post(CheckUsageMsg{Reply: reply})
	return <-reply
}

// Snapshot returns the coordinator's current state without a live
// re-scrape.
func (c *Coordinator) Snapshot() domain.EmailState {
	reply := make(chan domain.EmailState, 1)
	c.post(GetStateMsg{Reply: reply})
	return <-reply
}

// CurrentState answers an ad hoc pull: it asks the focused compatible
// tab for freshly scraped state, then other tabs by recency, before
// falling back to the last-known snapshot.
func (c *Coordinator) CurrentState(ctx context.Context) domain.EmailState {
	if c.tabs != nil {
		if id := c.tabs.FocusedTab(ctx); id != "" {
			if st := c.tryScrape(ctx, id); st != nil {
				return *st
			}
		}
		for _, id := range c.tabs.RecentTabs(ctx) {
			if st := c.tryScrape(ctx, id); st != nil {
				return *st
			}
		}
	}
	return c.Snapshot()
}

func (c *Coordinator) tryScrape(ctx context.Context, tabID string) *domain.EmailState {
	st, err := c.tabs.ScrapeTab(ctx, tabID)
	if err != nil {
		c.logger.Debug("live scrape failed", zap.String("tab", tabID), zap.Error(err))
		return nil
	}
	if st == nil || !st.IsActive {
		return nil
	}
	c.UpdateContent(*st)
	return st
}

// UpdateSettings persists new settings and fans them out.
func (c *Coordinator) UpdateSettings(s domain.Settings) {
	c.post(SettingsUpdatedMsg{Settings: s})
}

// Settings returns the current settings.
func (c *Coordinator) Settings() domain.Settings {
	reply := make(chan domain.Settings, 1)
	c.post(GetSettingsMsg{Reply: reply})
	return <-reply
}

// VerifyAndUnlock calls the external verifier and, only on the exact
// success shape, sets the durable unlock flag.
func (c *Coordinator) VerifyAndUnlock(ctx context.Context, verifier domain.UnlockVerifier, sessionID string) error {
	paid, err := verifier.Verify(ctx, sessionID)
	if err != nil {
		return err
	}
	if !paid {
		return fmt.Errorf("payment not completed for this session")
	}

	reply := make(chan error, 1)
	c.post(UnlockedMsg{Reply: reply})
	return <-reply
}

// TogglePreview forwards the preview toggle to the attached tab.
func (c *Coordinator) TogglePreview() error {
	reply := make(chan error, 1)
	c.post(TogglePreviewMsg{Reply: reply})
	return <-reply
}

// Subscribe attaches a popup view. The returned channel receives the
// current state immediately and every subsequent change; cancel
// detaches. The channel closes when dropped or canceled, which is the
// popup's cue to reconnect and request a fresh snapshot.
func (c *Coordinator) Subscribe() (<-chan domain.EmailState, func()) {
	sub := &subscriber{
		id: c.nextSubID.Add(1),
		ch: make(chan domain.EmailState, subscriberBuffer),
	}
	c.post(subscribeMsg{sub: sub})

	cancel := func() {
		c.post(unsubscribeMsg{id: sub.id})
	}
	return sub.ch, cancel
}

func (c *Coordinator) post(msg Message) {
	c.mailbox <- msg
}
