package agent

import (
	"context"
	"encoding/json"
	"fmt"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/mailfit/mailfit/internal/browser"
	"github.com/mailfit/mailfit/internal/config"
	"github.com/mailfit/mailfit/internal/detect"
	"github.com/mailfit/mailfit/internal/domain"
	"github.com/mailfit/mailfit/internal/relay"
	"github.com/mailfit/mailfit/internal/score"
	livesync "github.com/mailfit/mailfit/internal/sync"
)

const (
	editBinding = "__mailfitEdit"
	sendBinding = "__mailfitSend"

	// sessionOpTimeout bounds each DevTools round trip during session
	// setup and teardown.
	sessionOpTimeout = 10 * time.Second
)

// attachFailureNotice is shown in the overlay when the scraper cannot
// find the compose fields, so the user gets a retry path instead of a
// silently dead preview.
const attachFailureNotice = "Couldn't read this compose window. Close and reopen it to retry the preview."

// composeTab is the slice of a browser tab the session drives.
type composeTab interface {
	detect.Evaluator
	AddBinding(name string, fn func(payload string)) error
	LastActive() time.Time
	Detach()
}

// editPayload is the JSON shape the page-side listener emits.
type editPayload struct {
	Text    string `json:"text"`
	HTML    string `json:"html"`
	Subject string `json:"subject"`
}

// session tracks one attached webmail tab: the dialog detector runs for
// the tab's whole life, the overlay and sync engine only exist while a
// compose dialog is open.
type session struct {
	tab         composeTab
	info        browser.TabInfo
	detector    *detect.Detector
	scraper     *detect.Scraper
	coordinator *relay.Coordinator
	unlock      domain.UnlockStore
	scorer      *score.Scorer
	syncCfg     config.SyncConfig
	logger      *zap.Logger

	cancel context.CancelFunc

	mu      stdsync.Mutex
	active  bool
	overlay *detect.Overlay
	engine  *livesync.Engine
	opened  time.Time
}

func newSession(
	tab composeTab,
	info browser.TabInfo,
	coordinator *relay.Coordinator,
	unlock domain.UnlockStore,
	scorer *score.Scorer,
	syncCfg config.SyncConfig,
	logger *zap.Logger,
) *session {
	return &session{
		tab:         tab,
		info:        info,
		detector:    detect.NewDetector(tab, syncCfg.RebindGrace, logger),
		scraper:     detect.NewScraper(tab, syncCfg.ScrapeMaxRetries, logger),
		coordinator: coordinator,
		unlock:      unlock,
		scorer:      scorer,
		syncCfg:     syncCfg,
		logger:      logger.With(zap.String("tab", info.ID)),
	}
}

// start registers the page bindings and begins dialog detection.
func (s *session) start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.tab.AddBinding(editBinding, s.onEditPayload); err != nil {
		cancel()
		return fmt.Errorf("failed to register edit binding: %w", err)
	}
	if err := s.tab.AddBinding(sendBinding, s.onSendPayload); err != nil {
		cancel()
		return fmt.Errorf("failed to register send binding: %w", err)
	}

	s.detector.OnOpened = func(dialogID string) { s.onOpened(runCtx, dialogID) }
	s.detector.OnClosed = func(dialogID string) { s.onClosed(dialogID) }

	go func() { _ = s.detector.Run(runCtx) }()

	s.detector.Poll(runCtx)
	return nil
}

// stop tears the session down and detaches the tab.
func (s *session) stop() {
	s.onClosed("")

	if s.cancel != nil {
		s.cancel()
	}
	s.tab.Detach()
}

func (s *session) onOpened(ctx context.Context, dialogID string) {
	opCtx, cancel := context.WithTimeout(ctx, sessionOpTimeout)
	defer cancel()

	settings := s.coordinator.Settings()

	overlay, err := detect.NewOverlay(opCtx, s.tab, settings.PreviewWidth)
	if err != nil {
		s.logger.Warn("overlay install failed", zap.Error(err))
		return
	}
	if !settings.OverlayEnabled {
		if err := overlay.Toggle(opCtx); err != nil {
			s.logger.Debug("overlay hide failed", zap.Error(err))
		}
	}

	if err := s.scraper.Bind(opCtx); err != nil {
		s.attachFailed(opCtx, overlay, "compose bind failed", err)
		return
	}
	if err := s.scraper.InstallListeners(opCtx); err != nil {
		s.attachFailed(opCtx, overlay, "listener install failed", err)
		return
	}

	// Clear any notice left by a previous failed attach.
	if err := overlay.ShowPaywall(opCtx, ""); err != nil {
		s.logger.Debug("notice clear failed", zap.Error(err))
	}

	engine := livesync.NewEngine(overlay, s.scorer, s.coordinator, s.info.Environment, s.syncCfg, s.logger)

	s.mu.Lock()
	s.active = true
	s.overlay = overlay
	s.engine = engine
	s.opened = time.Now()
	s.mu.Unlock()

	s.coordinator.ComposeOpened(s.info.ID, s.info.Environment)
	s.markMilestone("first_compose")

	// Seed the pipeline with whatever is already in the dialog, so a
	// reply draft scores without waiting for a keystroke.
	if content, err := s.scraper.Scrape(opCtx); err == nil {
		engine.OnEdit(livesync.Edit{Text: content.Text, HTML: content.HTML, Subject: content.Subject})
	}

	s.logger.Info("compose session started", zap.String("dialog", dialogID))
}

// attachFailed surfaces a failed compose attach in the overlay instead
// of tearing it down, so the user sees the retry path. The overlay is
// kept so onClosed can still remove it when the dialog goes away.
func (s *session) attachFailed(ctx context.Context, overlay *detect.Overlay, what string, err error) {
	s.logger.Warn(what, zap.Error(err))
	if nerr := overlay.ShowPaywall(ctx, attachFailureNotice); nerr != nil {
		s.logger.Debug("attach notice failed", zap.Error(nerr))
	}

	s.mu.Lock()
	s.overlay = overlay
	s.mu.Unlock()
}

func (s *session) onClosed(dialogID string) {
	s.mu.Lock()
	wasActive := s.active
	overlay := s.overlay
	engine := s.engine
	s.active = false
	s.overlay = nil
	s.engine = nil
	s.mu.Unlock()

	if engine != nil {
		engine.Stop()
		engine.ClearCaches()
	}

	if overlay != nil {
		opCtx, cancel := context.WithTimeout(context.Background(), sessionOpTimeout)
		defer cancel()
		if err := overlay.Remove(opCtx); err != nil {
			s.logger.Debug("overlay removal failed", zap.Error(err))
		}
	}

	if wasActive {
		s.coordinator.ComposeClosed(s.info.ID)
		s.logger.Info("compose session ended", zap.String("dialog", dialogID))
	}
}

// onEditPayload receives one edit event from the page binding.
func (s *session) onEditPayload(payload string) {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return
	}

	var p editPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		s.logger.Debug("malformed edit payload", zap.Error(err))
		return
	}
	engine.OnEdit(livesync.Edit{Text: p.Text, HTML: p.HTML, Subject: p.Subject})
}

// onSendPayload handles send-button activation: consult the quota
// first, record the send only when allowed.
func (s *session) onSendPayload(string) {
	s.mu.Lock()
	overlay := s.overlay
	active := s.active
	s.mu.Unlock()
	if !active {
		return
	}

	opCtx, cancel := context.WithTimeout(context.Background(), sessionOpTimeout)
	defer cancel()

	status := s.coordinator.CheckUsage()
	if !status.Allowed {
		s.markMilestone("quota_hit")
		msg := fmt.Sprintf("You've used all %d previewed sends this period. Unlock unlimited sends to continue.", status.Limit)
		if err := overlay.ShowPaywall(opCtx, msg); err != nil {
			s.logger.Debug("paywall display failed", zap.Error(err))
		}
		s.logger.Info("send blocked by quota", zap.Int("limit", status.Limit))
		return
	}

	reply := s.coordinator.EmailSent(time.Now())
	s.markMilestone("first_send")
	s.logger.Info("send recorded",
		zap.Int("period_count", reply.Count),
		zap.Int("limit", reply.Limit))

	if status.ApproachingLimit {
		msg := fmt.Sprintf("Heads up: %d of %d sends left this period.", status.Remaining-1, status.Limit)
		if err := overlay.ShowPaywall(opCtx, msg); err != nil {
			s.logger.Debug("quota notice failed", zap.Error(err))
		}
	}
}

// scrapeState answers an ad hoc state pull with freshly scraped and
// scored content.
func (s *session) scrapeState(ctx context.Context) (*domain.EmailState, error) {
	s.mu.Lock()
	engine := s.engine
	active := s.active
	s.mu.Unlock()
	if !active || engine == nil {
		return nil, fmt.Errorf("no active compose in tab %s", s.info.ID)
	}

	content, err := s.scraper.Scrape(ctx)
	if err != nil {
		return nil, err
	}

	state := engine.StateFor(livesync.Edit{Text: content.Text, HTML: content.HTML, Subject: content.Subject})
	return &state, nil
}

// toggle collapses or expands the overlay, if a compose is open.
func (s *session) toggle(ctx context.Context) error {
	s.mu.Lock()
	overlay := s.overlay
	s.mu.Unlock()
	if overlay == nil {
		return fmt.Errorf("no active compose in tab %s", s.info.ID)
	}
	return overlay.Toggle(ctx)
}

func (s *session) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// markMilestone records a one-time marker, ignoring duplicates.
func (s *session) markMilestone(name string) {
	done, err := s.unlock.HasMilestone(name)
	if err != nil || done {
		return
	}
	if err := s.unlock.MarkMilestone(name); err != nil {
		s.logger.Debug("milestone write failed", zap.String("milestone", name), zap.Error(err))
		return
	}
	s.logger.Info("milestone reached", zap.String("milestone", name))
}
