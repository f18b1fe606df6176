//go:build integration

package integration

import (
	"context"
	"os"
	stdsync "sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/mailfit/mailfit/internal/config"
	"github.com/mailfit/mailfit/internal/domain"
	"github.com/mailfit/mailfit/internal/relay"
	"github.com/mailfit/mailfit/internal/score"
	"github.com/mailfit/mailfit/internal/store"
	livesync "github.com/mailfit/mailfit/internal/sync"
	"github.com/mailfit/mailfit/internal/usage"
	"github.com/mailfit/mailfit/test/fixtures"
)

// recordingSurface captures light-pass writes in place of a real tab.
type recordingSurface struct {
	mu      stdsync.Mutex
	html    string
	badge   int
	tier    string
	toggles int
}

func (r *recordingSurface) Render(_ context.Context, html string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.html = html
	return nil
}

func (r *recordingSurface) SetBadge(_ context.Context, count int, tier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.badge = count
	r.tier = tier
	return nil
}

func (r *recordingSurface) Toggle(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toggles++
	return nil
}

func (r *recordingSurface) renderedHTML() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.html
}

func fastSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		FrameInterval:    5 * time.Millisecond,
		DebounceQuiet:    20 * time.Millisecond,
		BroadcastMinGap:  10 * time.Millisecond,
		RebindGrace:      time.Second,
		ScrapeMaxRetries: 3,
	}
}

var _ = Describe("Compose pipeline", func() {
	var (
		tmpDir      string
		kv          *store.FileStore
		unlock      *store.EncryptedUnlockStore
		gate        *usage.Gate
		coordinator *relay.Coordinator
		surface     *recordingSurface
		engine      *livesync.Engine
		cancel      context.CancelFunc
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "mailfit-integration-*")
		Expect(err).NotTo(HaveOccurred())

		kv, err = store.NewFileStore(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		key, err := store.NewFileKeyProvider(tmpDir).EnsureKey()
		Expect(err).NotTo(HaveOccurred())
		unlock, err = store.NewEncryptedUnlockStore(tmpDir, key)
		Expect(err).NotTo(HaveOccurred())

		gate = usage.NewGate(kv, unlock, 3, usage.PeriodDay, zap.NewNop())
		coordinator = relay.New(gate, unlock, kv, zap.NewNop())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		go func() { _ = coordinator.Run(ctx) }()

		surface = &recordingSurface{}
		engine = livesync.NewEngine(surface, score.NewScorer(), coordinator,
			domain.EnvGmail, fastSyncConfig(), zap.NewNop())
	})

	AfterEach(func() {
		engine.Stop()
		cancel()
		unlock.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("editing a draft", func() {
		Context("with a strong draft", func() {
			It("mirrors content and scores it well", func() {
				draft := fixtures.StrongDraft()
				engine.OnEdit(livesync.Edit{Text: draft.Text, HTML: draft.HTML, Subject: draft.Subject})

				Eventually(func() string {
					return surface.renderedHTML()
				}, time.Second, 10*time.Millisecond).Should(Equal(draft.HTML))

				Eventually(func() *domain.MobileScore {
					return coordinator.Snapshot().MobileScore
				}, time.Second, 10*time.Millisecond).ShouldNot(BeNil())

				state := coordinator.Snapshot()
				Expect(state.MobileScore.Grade).To(BeElementOf(domain.GradeA, domain.GradeB))
				Expect(state.TrafficLight).To(Equal(domain.LightReady))
				Expect(state.PreflightChecks).To(HaveLen(3))
			})
		})

		Context("with a weak draft", func() {
			It("flags issues", func() {
				draft := fixtures.WeakDraft()
				engine.OnEdit(livesync.Edit{Text: draft.Text, HTML: draft.HTML, Subject: draft.Subject})

				Eventually(func() *domain.MobileScore {
					return coordinator.Snapshot().MobileScore
				}, time.Second, 10*time.Millisecond).ShouldNot(BeNil())

				state := coordinator.Snapshot()
				Expect(state.MobileScore.Score).To(BeNumerically("<", 60))
				Expect(state.TrafficLight).To(Equal(domain.LightIssues))
				Expect(state.PreflightChecks[domain.CheckSubjectHook]).To(Equal(domain.CheckFail))
			})
		})

		Context("when a burst of keystrokes arrives", func() {
			It("settles on the final content", func() {
				draft := fixtures.StrongDraft()
				for i := 1; i <= len(draft.Text); i += 40 {
					engine.OnEdit(livesync.Edit{Text: draft.Text[:i], HTML: draft.HTML, Subject: draft.Subject})
				}
				engine.OnEdit(livesync.Edit{Text: draft.Text, HTML: draft.HTML, Subject: draft.Subject})

				Eventually(func() int {
					return coordinator.Snapshot().CharacterCount
				}, 2*time.Second, 10*time.Millisecond).Should(Equal(len([]rune(draft.Text))))
			})
		})
	})

	Describe("closing the compose", func() {
		It("resets the canonical state", func() {
			draft := fixtures.StrongDraft()
			engine.OnEdit(livesync.Edit{Text: draft.Text, HTML: draft.HTML, Subject: draft.Subject})

			Eventually(func() bool {
				return coordinator.Snapshot().IsActive
			}, time.Second, 10*time.Millisecond).Should(BeTrue())

			engine.Stop()
			engine.ClearCaches()
			coordinator.ComposeClosed("tab-1")

			Eventually(func() bool {
				return coordinator.Snapshot().IsActive
			}, time.Second, 10*time.Millisecond).Should(BeFalse())
		})
	})
})
