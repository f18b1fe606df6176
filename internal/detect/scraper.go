package detect

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// bindBackoff is the wait schedule between bind attempts. After the
// schedule runs out the final gap repeats until the attempt cap.
var bindBackoff = []time.Duration{
	300 * time.Millisecond,
	500 * time.Millisecond,
	800 * time.Millisecond,
	1000 * time.Millisecond,
	1500 * time.Millisecond,
}

// Content is one scrape of the compose fields.
type Content struct {
	Attached bool   `json:"attached"`
	Text     string `json:"text"`
	HTML     string `json:"html"`
	Subject  string `json:"subject"`
}

type bindResult struct {
	Found      bool `json:"found"`
	HasSubject bool `json:"hasSubject"`
}

// Scraper binds the body and subject nodes of a detected compose
// dialog and reads their content. When the host page swaps the bound
// node out mid-session, Scrape rebinds silently on the next call.
type Scraper struct {
	tab        Evaluator
	logger     *zap.Logger
	maxRetries int

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewScraper creates a scraper for one tab.
func NewScraper(tab Evaluator, maxRetries int, logger *zap.Logger) *Scraper {
	return &Scraper{
		tab:        tab,
		logger:     logger,
		maxRetries: maxRetries,
		sleep:      sleepCtx,
	}
}

// Bind locates and stamps the compose fields, retrying on the backoff
// schedule while the host finishes rendering the dialog.
func (s *Scraper) Bind(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, backoffAt(attempt-1)); err != nil {
				return err
			}
		}

		var res bindResult
		if err := s.tab.Eval(ctx, bindScript, &res); err != nil {
			lastErr = err
			continue
		}
		if res.Found {
			if !res.HasSubject {
				s.logger.Debug("compose bound without subject field")
			}
			return nil
		}
		lastErr = fmt.Errorf("compose fields not present yet")
	}
	return fmt.Errorf("failed to bind compose fields after %d attempts: %w", s.maxRetries, lastErr)
}

// Scrape reads the bound fields. A detached body node triggers one
// silent rebind before giving up.
func (s *Scraper) Scrape(ctx context.Context) (Content, error) {
	var c Content
	if err := s.tab.Eval(ctx, scrapeScript, &c); err != nil {
		return Content{}, fmt.Errorf("failed to scrape compose fields: %w", err)
	}
	if c.Attached {
		return c, nil
	}

	s.logger.Debug("bound compose node detached, rebinding")
	if err := s.Bind(ctx); err != nil {
		return Content{}, err
	}
	if err := s.tab.Eval(ctx, scrapeScript, &c); err != nil {
		return Content{}, fmt.Errorf("failed to scrape compose fields: %w", err)
	}
	if !c.Attached {
		return Content{}, fmt.Errorf("compose fields detached after rebind")
	}
	return c, nil
}

// InstallListeners wires the page-side edit and send listeners. The
// bindings themselves must already be registered on the tab.
func (s *Scraper) InstallListeners(ctx context.Context) error {
	var ok bool
	if err := s.tab.Eval(ctx, listenerScript, &ok); err != nil {
		return fmt.Errorf("failed to install compose listeners: %w", err)
	}
	return nil
}

func backoffAt(i int) time.Duration {
	if i >= len(bindBackoff) {
		return bindBackoff[len(bindBackoff)-1]
	}
	return bindBackoff[i]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
