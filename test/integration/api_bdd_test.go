//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/mailfit/mailfit/internal/domain"
	"github.com/mailfit/mailfit/internal/relay"
	"github.com/mailfit/mailfit/internal/server"
	"github.com/mailfit/mailfit/internal/store"
	"github.com/mailfit/mailfit/internal/usage"
	"github.com/mailfit/mailfit/internal/verify"
)

var _ = Describe("Popup API", func() {
	var (
		tmpDir      string
		kv          *store.FileStore
		unlock      *store.EncryptedUnlockStore
		coordinator *relay.Coordinator
		ts          *httptest.Server
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

		gate := usage.NewGate(kv, unlock, 5, usage.PeriodDay, zap.NewNop())
		coordinator = relay.New(gate, unlock, kv, zap.NewNop())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		go func() { _ = coordinator.Run(ctx) }()

		h := server.NewHandler(coordinator, verify.NewClient(""), zap.NewNop())
		ts = httptest.NewServer(server.New("127.0.0.1:0", h, zap.NewNop()).Router())
	})

	AfterEach(func() {
		ts.Close()
		cancel()
		unlock.Close()
		os.RemoveAll(tmpDir)
	})

	It("serves the canonical state", func() {
		coordinator.UpdateContent(domain.EmailState{
			IsActive:     true,
			Text:         "draft body",
			Environment:  domain.EnvOutlook,
			TrafficLight: domain.LightReady,
		})

		Eventually(func() string {
			resp, err := http.Get(ts.URL + "/api/state")
			if err != nil {
				return ""
			}
			defer resp.Body.Close()
			var state domain.EmailState
			if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
				return ""
			}
			return state.Text
		}).Should(Equal("draft body"))
	})

	It("persists settings across a coordinator restart", func() {
		resp, err := http.Post(ts.URL+"/api/settings", "application/json",
			strings.NewReader(`{"previewWidth": 414, "quotaPeriod": "month", "overlayEnabled": false}`))
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		Eventually(func() int {
			return coordinator.Settings().PreviewWidth
		}).Should(Equal(414))

		// A brand new coordinator over the same KV store must come up
		// with the saved settings, not defaults.
		gate := usage.NewGate(kv, unlock, 5, usage.PeriodDay, zap.NewNop())
		fresh := relay.New(gate, unlock, kv, zap.NewNop())

		ctx, freshCancel := context.WithCancel(context.Background())
		defer freshCancel()
		go func() { _ = fresh.Run(ctx) }()

		settings := fresh.Settings()
		Expect(settings.PreviewWidth).To(Equal(414))
		Expect(settings.QuotaPeriod).To(Equal("month"))
		Expect(settings.OverlayEnabled).To(BeFalse())
	})

	It("reports quota usage", func() {
		resp, err := http.Get(ts.URL + "/api/usage")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		var status domain.UsageStatus
		Expect(json.NewDecoder(resp.Body).Decode(&status)).To(Succeed())
		Expect(status.Limit).To(Equal(5))
		Expect(status.Allowed).To(BeTrue())
	})
})
