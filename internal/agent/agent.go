// Package agent runs the main loop: it scans the browser for webmail
// tabs, maintains one session per tab and sweeps stale usage records.
package agent

import (
	"context"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/mailfit/mailfit/internal/browser"
	"github.com/mailfit/mailfit/internal/config"
	"github.com/mailfit/mailfit/internal/domain"
	"github.com/mailfit/mailfit/internal/relay"
	"github.com/mailfit/mailfit/internal/score"
)

const heartbeatInterval = 60 * time.Second

// Agent owns tab discovery and session lifecycle.
type Agent struct {
	cfg         *config.Config
	chrome      *browser.Chrome
	coordinator *relay.Coordinator
	gate        domain.UsageGate
	unlock      domain.UnlockStore
	scorer      *score.Scorer
	logger      *zap.Logger

	mu       stdsync.Mutex
	sessions map[string]*session
}

// New creates the agent and wires it into the coordinator as the
// live-scrape source and preview-toggle target.
func New(
	cfg *config.Config,
	chrome *browser.Chrome,
	coordinator *relay.Coordinator,
	gate domain.UsageGate,
	unlock domain.UnlockStore,
	scorer *score.Scorer,
	logger *zap.Logger,
) *Agent {
	a := &Agent{
		cfg:         cfg,
		chrome:      chrome,
		coordinator: coordinator,
		gate:        gate,
		unlock:      unlock,
		scorer:      scorer,
		logger:      logger,
		sessions:    make(map[string]*session),
	}

	coordinator.SetTabQuerier(a)
	coordinator.SetToggleHandler(a.toggleFocused)
	return a
}

// Run starts the agent loop. Blocks until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent started",
		zap.Duration("tab_scan_interval", a.cfg.TabScanInterval),
		zap.Duration("prune_interval", a.cfg.PruneInterval))

	// Scan immediately on startup so an already-open compose is picked
	// up without waiting a tick.
	a.scanTabs(ctx)

	scanTicker := time.NewTicker(a.cfg.TabScanInterval)
	pruneTicker := time.NewTicker(a.cfg.PruneInterval)
	heartbeatTicker := time.NewTicker(heartbeatInterval)

	defer func() {
		scanTicker.Stop()
		pruneTicker.Stop()
		heartbeatTicker.Stop()
		a.stopAllSessions()
	}()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("agent stopping")
			return ctx.Err()

		case <-scanTicker.C:
			a.scanTabs(ctx)

		case <-pruneTicker.C:
			if err := a.gate.Prune(); err != nil {
				a.logger.Warn("usage prune failed", zap.Error(err))
			}

		case <-heartbeatTicker.C:
			a.logHeartbeat()
		}
	}
}

// scanTabs reconciles sessions against the browser's current tabs:
// new webmail tabs get a session, sessions whose tab closed are torn
// down.
func (a *Agent) scanTabs(ctx context.Context) {
	tabs, err := a.chrome.MailTabs(ctx)
	if err != nil {
		a.logger.Warn("tab scan failed", zap.Error(err))
		return
	}

	seen := make(map[string]bool, len(tabs))
	for _, info := range tabs {
		seen[info.ID] = true

		a.mu.Lock()
		_, exists := a.sessions[info.ID]
		a.mu.Unlock()
		if exists {
			continue
		}

		tab, err := a.chrome.AttachTab(info)
		if err != nil {
			a.logger.Warn("tab attach failed", zap.String("tab", info.ID), zap.Error(err))
			continue
		}

		s := newSession(tab, info, a.coordinator, a.unlock, a.scorer, a.cfg.Sync, a.logger)
		if err := s.start(ctx); err != nil {
			a.logger.Warn("session start failed", zap.String("tab", info.ID), zap.Error(err))
			tab.Detach()
			continue
		}

		a.mu.Lock()
		a.sessions[info.ID] = s
		a.mu.Unlock()

		a.logger.Info("watching webmail tab",
			zap.String("tab", info.ID),
			zap.String("environment", string(info.Environment)),
			zap.String("url", info.URL))
	}

	a.mu.Lock()
	var gone []*session
	for id, s := range a.sessions {
		if !seen[id] {
			gone = append(gone, s)
			delete(a.sessions, id)
		}
	}
	a.mu.Unlock()

	for _, s := range gone {
		a.logger.Info("webmail tab closed", zap.String("tab", s.info.ID))
		s.stop()
	}
}

func (a *Agent) logHeartbeat() {
	a.mu.Lock()
	watched := len(a.sessions)
	composing := 0
	for _, s := range a.sessions {
		if s.isActive() {
			composing++
		}
	}
	a.mu.Unlock()

	a.logger.Info("heartbeat",
		zap.Int("tabs_watched", watched),
		zap.Int("composes_open", composing))
}

func (a *Agent) stopAllSessions() {
	a.mu.Lock()
	sessions := make([]*session, 0, len(a.sessions))
	for id, s := range a.sessions {
		sessions = append(sessions, s)
		delete(a.sessions, id)
	}
	a.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
}

// --- domain.TabQuerier ---

// FocusedTab returns the focused compatible tab with an active compose.
func (a *Agent) FocusedTab(ctx context.Context) string {
	tabs, err := a.chrome.MailTabs(ctx)
	if err != nil {
		return ""
	}
	for _, info := range tabs {
		if !info.Focused {
			continue
		}
		if s := a.session(info.ID); s != nil && s.isActive() {
			return info.ID
		}
	}
	return ""
}

// RecentTabs returns active-compose tabs ordered by last activity,
// excluding the focused tab.
func (a *Agent) RecentTabs(ctx context.Context) []string {
	focused := a.FocusedTab(ctx)

	a.mu.Lock()
	candidates := make([]*session, 0, len(a.sessions))
	for id, s := range a.sessions {
		if id != focused && s.isActive() {
			candidates = append(candidates, s)
		}
	}
	a.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].tab.LastActive().After(candidates[j].tab.LastActive())
	})

	ids := make([]string, len(candidates))
	for i, s := range candidates {
		ids[i] = s.info.ID
	}
	return ids
}

// ScrapeTab pulls fresh scored state from one tab.
func (a *Agent) ScrapeTab(ctx context.Context, tabID string) (*domain.EmailState, error) {
	s := a.session(tabID)
	if s == nil {
		return nil, errNoSession(tabID)
	}
	return s.scrapeState(ctx)
}

func (a *Agent) session(tabID string) *session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[tabID]
}

// toggleFocused forwards the preview toggle to the focused compose,
// falling back to any active session.
func (a *Agent) toggleFocused(ctx context.Context) error {
	if id := a.FocusedTab(ctx); id != "" {
		return a.session(id).toggle(ctx)
	}

	a.mu.Lock()
	var target *session
	for _, s := range a.sessions {
		if s.isActive() {
			target = s
			break
		}
	}
	a.mu.Unlock()

	if target == nil {
		return errNoSession("")
	}
	return target.toggle(ctx)
}

func errNoSession(tabID string) error {
	if tabID == "" {
		return fmt.Errorf("no active compose session")
	}
	return fmt.Errorf("no session for tab %s", tabID)
}

// Ensure Agent implements domain.TabQuerier.
var _ domain.TabQuerier = (*Agent)(nil)
