// Package sync implements the live-sync engine: it receives edit
// events from the compose tab, mirrors content into the preview
// overlay on a frame tick (light pass) and recomputes the score behind
// a debounce and a content-hash gate (heavy pass).
package sync

import (
	"context"
	"strings"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/mailfit/mailfit/internal/cache"
	"github.com/mailfit/mailfit/internal/config"
	"github.com/mailfit/mailfit/internal/domain"
	"github.com/mailfit/mailfit/internal/sched"
	"github.com/mailfit/mailfit/internal/score"
)

// Edit is one observed change to the compose body or subject.
type Edit struct {
	Text    string
	HTML    string
	Subject string
}

// StatePusher receives recomputed EmailStates. The relay coordinator
// satisfies this.
type StatePusher interface {
	UpdateContent(state domain.EmailState)
}

// Engine drives the two-pass pipeline for one compose session.
type Engine struct {
	preview domain.PreviewSurface
	scorer  *score.Scorer
	pusher  StatePusher
	env     domain.Environment
	logger  *zap.Logger

	frame    *sched.Coalescer[Edit]
	debounce *sched.Debouncer
	throttle *sched.Throttler[domain.EmailState]

	mu     stdsync.Mutex
	latest Edit

	// lastHeavyHash is the content hash recorded at the previous heavy
	// pass. Only the heavy pass may write it; if the light pass ever
	// touched it the heavy pass would see "no change" forever.
	lastHeavyHash string

	// cacheMu guards the memo caches; the heavy pass and ad hoc
	// StateFor calls run on different goroutines.
	cacheMu        stdsync.Mutex
	ctaCache       *cache.LRU[score.CTAInfo]
	preflightCache *cache.LRU[map[string]domain.CheckResult]
	scoreCache     *cache.LRU[domain.MobileScore]
}

// NewEngine creates a sync engine for one compose session.
func NewEngine(
	preview domain.PreviewSurface,
	scorer *score.Scorer,
	pusher StatePusher,
	env domain.Environment,
	cfg config.SyncConfig,
	logger *zap.Logger,
) *Engine {
	e := &Engine{
		preview:        preview,
		scorer:         scorer,
		pusher:         pusher,
		env:            env,
		logger:         logger,
		ctaCache:       cache.NewLRU[score.CTAInfo](cache.DefaultCapacity),
		preflightCache: cache.NewLRU[map[string]domain.CheckResult](cache.DefaultCapacity),
		scoreCache:     cache.NewLRU[domain.MobileScore](cache.DefaultCapacity),
	}

	e.frame = sched.NewCoalescer[Edit](cfg.FrameInterval, e.lightPass)
	e.debounce = sched.NewDebouncer(cfg.DebounceQuiet, e.heavyPass)
	e.throttle = sched.NewThrottler[domain.EmailState](cfg.BroadcastMinGap, e.pusher.UpdateContent)

	return e
}

// OnEdit feeds one edit event into the pipeline. Called for every
// input, mutation or keystroke observed in the tab.
func (e *Engine) OnEdit(edit Edit) {
	e.mu.Lock()
	e.latest = edit
	e.mu.Unlock()

	e.frame.Offer(edit)
	e.debounce.Trigger()
}

// lightPass mirrors content into the preview and updates the subject
// badge. No heuristic work, and no writes to lastHeavyHash.
func (e *Engine) lightPass(edit Edit) {
	defer e.recoverPass("light")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := e.preview.Render(ctx, edit.HTML); err != nil {
		e.logger.Warn("preview render failed", zap.Error(err))
	}

	subjectLen := len([]rune(edit.Subject))
	if err := e.preview.SetBadge(ctx, subjectLen, e.scorer.BadgeTier(subjectLen)); err != nil {
		e.logger.Warn("badge update failed", zap.Error(err))
	}
}

// heavyPass recomputes score and preflight checks, gated on the
// content hash recorded at the previous heavy pass.
func (e *Engine) heavyPass() {
	defer e.recoverPass("heavy")

	e.mu.Lock()
	edit := e.latest
	last := e.lastHeavyHash
	e.mu.Unlock()

	hash := ContentHash(edit.Text, edit.HTML, edit.Subject)
	if hash == last {
		return
	}

	state := e.computeState(hash, edit)

	e.mu.Lock()
	e.lastHeavyHash = hash
	e.mu.Unlock()

	e.throttle.Offer(state)
}

func (e *Engine) computeState(hash string, edit Edit) domain.EmailState {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	cta, ok := e.ctaCache.Get(hash)
	if !ok {
		cta = e.scorer.CTA(edit.Text, edit.HTML)
		e.ctaCache.Put(hash, cta)
	}

	checks, ok := e.preflightCache.Get(hash)
	if !ok {
		checks = e.scorer.Preflight(edit.Text, edit.HTML, edit.Subject)
		e.preflightCache.Put(hash, checks)
	}

	result, ok := e.scoreCache.Get(hash)
	if !ok {
		result = e.scorer.Score(edit.Text, edit.HTML, edit.Subject)
		e.scoreCache.Put(hash, result)
	}

	return domain.EmailState{
		IsActive:        true,
		HTML:            edit.HTML,
		Text:            edit.Text,
		Subject:         edit.Subject,
		CharacterCount:  len([]rune(edit.Text)),
		WordCount:       len(splitWords(edit.Text)),
		Environment:     e.env,
		MobileScore:     &result,
		PreflightChecks: checks,
		TrafficLight:    trafficLight(result, checks, cta),
		Timestamp:       time.Now(),
	}
}

// StateFor computes a full EmailState for one edit on demand, outside
// the scheduled pipeline. Shares the memo caches with the heavy pass
// but never writes lastHeavyHash.
func (e *Engine) StateFor(edit Edit) domain.EmailState {
	return e.computeState(ContentHash(edit.Text, edit.HTML, edit.Subject), edit)
}

// trafficLight reduces the heavy-pass results to the badge colour.
func trafficLight(result domain.MobileScore, checks map[string]domain.CheckResult, cta score.CTAInfo) domain.TrafficLight {
	pendingOnly := true
	for _, c := range checks {
		if c == domain.CheckFail {
			return domain.LightIssues
		}
		if c != domain.CheckPending {
			pendingOnly = false
		}
	}
	if pendingOnly {
		return domain.LightIdle
	}

	if result.Grade == domain.GradeA || result.Grade == domain.GradeB {
		return domain.LightReady
	}
	return domain.LightIssues
}

// ClearCaches drops all memoized results. Called when the compose
// session ends so nothing leaks into the next email.
func (e *Engine) ClearCaches() {
	e.cacheMu.Lock()
	e.ctaCache.Purge()
	e.preflightCache.Purge()
	e.scoreCache.Purge()
	e.cacheMu.Unlock()

	e.mu.Lock()
	e.lastHeavyHash = ""
	e.mu.Unlock()
}

// Stop cancels all pending scheduled work.
func (e *Engine) Stop() {
	e.frame.Stop()
	e.debounce.Stop()
	e.throttle.Stop()
}

// recoverPass keeps a single bad render or score from killing the
// engine; the pass is skipped and stale results stay visible.
func (e *Engine) recoverPass(pass string) {
	if r := recover(); r != nil {
		e.logger.Error("pass panicked, skipping",
			zap.String("pass", pass),
			zap.Any("panic", r))
	}
}

func splitWords(text string) []string {
	return strings.Fields(text)
}
