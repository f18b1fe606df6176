//go:build integration

package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/mailfit/mailfit/internal/relay"
	"github.com/mailfit/mailfit/internal/store"
	"github.com/mailfit/mailfit/internal/usage"
	"github.com/mailfit/mailfit/internal/verify"
)

var _ = Describe("Send quota", func() {
	var (
		tmpDir      string
		kv          *store.FileStore
		key         []byte
		unlock      *store.EncryptedUnlockStore
		gate        *usage.Gate
		coordinator *relay.Coordinator
		cancel      context.CancelFunc
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "mailfit-integration-*")
		Expect(err).NotTo(HaveOccurred())

		kv, err = store.NewFileStore(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		key, err = store.NewFileKeyProvider(tmpDir).EnsureKey()
		Expect(err).NotTo(HaveOccurred())
		unlock, err = store.NewEncryptedUnlockStore(tmpDir, key)
		Expect(err).NotTo(HaveOccurred())

		gate = usage.NewGate(kv, unlock, 3, usage.PeriodDay, zap.NewNop())
		coordinator = relay.New(gate, unlock, kv, zap.NewNop())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		go func() { _ = coordinator.Run(ctx) }()
	})

	AfterEach(func() {
		cancel()
		unlock.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("hitting the limit", func() {
		It("blocks further sends after the quota is spent", func() {
			for i := 0; i < 3; i++ {
				Expect(coordinator.CheckUsage().Allowed).To(BeTrue())
				coordinator.EmailSent(time.Now())
			}

			status := coordinator.CheckUsage()
			Expect(status.Allowed).To(BeFalse())
			Expect(status.Remaining).To(Equal(0))
			Expect(status.Limit).To(Equal(3))
		})

		It("warns when approaching the limit", func() {
			coordinator.EmailSent(time.Now())
			coordinator.EmailSent(time.Now())
			Expect(coordinator.CheckUsage().ApproachingLimit).To(BeTrue())
		})
	})

	Describe("counter persistence", func() {
		It("survives a process restart", func() {
			coordinator.EmailSent(time.Now())
			coordinator.EmailSent(time.Now())

			// Rebuild the whole stack over the same data directory.
			kv2, err := store.NewFileStore(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			gate2 := usage.NewGate(kv2, unlock, 3, usage.PeriodDay, zap.NewNop())

			Expect(gate2.CheckLimit().Remaining).To(Equal(1))
		})
	})

	Describe("unlocking", func() {
		Context("when the verifier confirms payment", func() {
			It("lifts the limit and persists across store reopen", func() {
				ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					Expect(r.URL.Query().Get("session_id")).To(Equal("cs_paid"))
					w.Write([]byte(`{"paid": true}`))
				}))
				defer ts.Close()

				for i := 0; i < 3; i++ {
					coordinator.EmailSent(time.Now())
				}
				Expect(coordinator.CheckUsage().Allowed).To(BeFalse())

				err := coordinator.VerifyAndUnlock(context.Background(), verify.NewClient(ts.URL), "cs_paid")
				Expect(err).NotTo(HaveOccurred())

				status := coordinator.CheckUsage()
				Expect(status.Allowed).To(BeTrue())
				Expect(status.Unlimited).To(BeTrue())

				// The flag lives in the encrypted store; reopening with
				// the same key must still see it.
				unlock.Close()
				reopened, err := store.NewEncryptedUnlockStore(tmpDir, key)
				Expect(err).NotTo(HaveOccurred())
				defer reopened.Close()

				set, err := reopened.IsUnlocked()
				Expect(err).NotTo(HaveOccurred())
				Expect(set).To(BeTrue())
			})
		})

		Context("when the verifier rejects the session", func() {
			It("leaves the quota in force", func() {
				ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Write([]byte(`{"paid": false}`))
				}))
				defer ts.Close()

				err := coordinator.VerifyAndUnlock(context.Background(), verify.NewClient(ts.URL), "cs_unpaid")
				Expect(err).To(HaveOccurred())
				Expect(coordinator.CheckUsage().Unlimited).To(BeFalse())
			})
		})
	})
})
