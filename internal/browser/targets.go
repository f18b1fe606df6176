package browser

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/mailfit/mailfit/internal/domain"
)

// TabInfo describes one webmail tab.
type TabInfo struct {
	ID          string
	URL         string
	Title       string
	Environment domain.Environment
	Focused     bool
}

// EnvironmentForURL classifies a tab URL.
func EnvironmentForURL(url string) domain.Environment {
	switch {
	case strings.Contains(url, "mail.google.com"):
		return domain.EnvGmail
	case strings.Contains(url, "outlook.live.com"),
		strings.Contains(url, "outlook.office.com"),
		strings.Contains(url, "outlook.office365.com"):
		return domain.EnvOutlook
	default:
		return domain.EnvUnknown
	}
}

// MailTabs lists compatible webmail tabs, focused tab first, then by
// recency of attachment.
func (c *Chrome) MailTabs(ctx context.Context) ([]TabInfo, error) {
	infos, err := chromedp.Targets(c.browserCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list browser targets: %w", err)
	}

	var tabs []TabInfo
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		env := EnvironmentForURL(info.URL)
		if env == domain.EnvUnknown {
			continue
		}
		tabs = append(tabs, TabInfo{
			ID:          string(info.TargetID),
			URL:         info.URL,
			Title:       info.Title,
			Environment: env,
			Focused:     info.Attached,
		})
	}

	sort.SliceStable(tabs, func(i, j int) bool {
		return tabs[i].Focused && !tabs[j].Focused
	})
	return tabs, nil
}

// Tab is an attached webmail tab with its own chromedp context.
type Tab struct {
	Info   TabInfo
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	// UnixNano of the last activity; atomic because binding events
	// arrive on chromedp's goroutine while Eval runs on the caller's.
	lastActive atomic.Int64
}

// AttachTab creates a dedicated context for one tab.
func (c *Chrome) AttachTab(info TabInfo) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(c.browserCtx,
		chromedp.WithTargetID(target.ID(info.ID)))

	// Touch the tab so the session is established.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to attach to tab %s: %w", info.ID, err)
	}

	t := &Tab{
		Info:   info,
		ctx:    tabCtx,
		cancel: cancel,
		logger: c.logger,
	}
	t.touch()
	return t, nil
}

// Eval evaluates a script in the tab, decoding the JSON result into out.
// Pass nil to discard the result.
func (t *Tab) Eval(ctx context.Context, js string, out any) error {
	t.touch()

	evalCtx, cancel := mergeDeadline(t.ctx, ctx)
	defer cancel()

	if out == nil {
		return chromedp.Run(evalCtx, chromedp.Evaluate(js, nil))
	}
	return chromedp.Run(evalCtx, chromedp.Evaluate(js, out))
}

// AddBinding exposes a page-callable function that forwards its single
// string argument to fn. Used by the edit listener and send detector.
func (t *Tab) AddBinding(name string, fn func(payload string)) error {
	chromedp.ListenTarget(t.ctx, func(ev any) {
		if e, ok := ev.(*runtime.EventBindingCalled); ok && e.Name == name {
			t.touch()
			fn(e.Payload)
		}
	})

	return chromedp.Run(t.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return runtime.AddBinding(name).Do(ctx)
	}))
}

func (t *Tab) touch() {
	t.lastActive.Store(time.Now().UnixNano())
}

// LastActive reports when the tab last produced activity.
func (t *Tab) LastActive() time.Time {
	return time.Unix(0, t.lastActive.Load())
}

// Detach releases the tab context.
func (t *Tab) Detach() {
	t.cancel()
}

// mergeDeadline runs tab operations under the caller's deadline while
// keeping the tab's session context.
func mergeDeadline(tabCtx, callCtx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := callCtx.Deadline(); ok {
		return context.WithDeadline(tabCtx, deadline)
	}
	return context.WithCancel(tabCtx)
}
