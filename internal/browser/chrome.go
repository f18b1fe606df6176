// Package browser attaches to a running Chrome/Chromium over the
// DevTools protocol and hands out per-tab contexts.
package browser

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

var debugPortFlag = regexp.MustCompile(`--remote-debugging-port=(\d+)`)

// DiscoverDevToolsURL scans running processes for a Chrome/Chromium
// started with --remote-debugging-port and returns its DevTools URL.
func DiscoverDevToolsURL() (string, error) {
	procs, err := process.Processes()
	if err != nil {
		return "", fmt.Errorf("failed to list processes: %w", err)
	}

	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		lower := strings.ToLower(name)
		if !strings.Contains(lower, "chrome") && !strings.Contains(lower, "chromium") {
			continue
		}

		cmdline, err := p.Cmdline()
		if err != nil {
			continue
		}
		if m := debugPortFlag.FindStringSubmatch(cmdline); m != nil {
			return fmt.Sprintf("http://127.0.0.1:%s", m[1]), nil
		}
	}

	return "", fmt.Errorf("no Chrome with --remote-debugging-port found; start Chrome with remote debugging enabled")
}

// Chrome is an attached browser instance.
type Chrome struct {
	browserCtx context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
}

// Connect attaches to the DevTools endpoint. An empty devtoolsURL
// triggers process discovery.
func Connect(ctx context.Context, devtoolsURL string, logger *zap.Logger) (*Chrome, error) {
	if devtoolsURL == "" {
		discovered, err := DiscoverDevToolsURL()
		if err != nil {
			return nil, err
		}
		devtoolsURL = discovered
		logger.Info("discovered DevTools endpoint", zap.String("url", devtoolsURL))
	}

	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, devtoolsURL)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Verify the connection with a no-op run.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("failed to attach to browser at %s: %w", devtoolsURL, err)
	}

	cancel := func() {
		cancelBrowser()
		cancelAlloc()
	}

	return &Chrome{browserCtx: browserCtx, cancel: cancel, logger: logger}, nil
}

// Close detaches from the browser.
func (c *Chrome) Close() {
	c.cancel()
}
