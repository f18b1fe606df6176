package domain

import "context"

// KVStore provides simple persistent key-value storage.
// Implementation: JSON file with atomic write-rename.
type KVStore interface {
	// Get reads the value for key into out. Returns ErrNotFound-style
	// (ok=false) semantics via the bool rather than an error.
	Get(key string, out any) (bool, error)

	// Set writes the value for key.
	Set(key string, value any) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key string) error

	// Keys returns all stored keys.
	Keys() ([]string, error)
}

// UnlockStore holds the paid-unlock flag and milestone markers.
// Implementation: SQLCipher encrypted database. The unlock flag, once
// set, is never cleared programmatically.
type UnlockStore interface {
	// IsUnlocked reports whether the paid unlock flag is set.
	IsUnlocked() (bool, error)

	// SetUnlocked sets the unlock flag. There is no clear operation.
	SetUnlocked() error

	// MarkMilestone records a named one-time marker (first-score etc).
	MarkMilestone(name string) error

	// HasMilestone reports whether a marker has been recorded.
	HasMilestone(name string) (bool, error)

	// Close releases the database connection.
	Close() error
}

// UsageGate tracks the rolling send counter and quota.
type UsageGate interface {
	// CheckLimit reports whether another send is allowed in the current
	// period. Storage errors fail open.
	CheckLimit() UsageStatus

	// RecordSend increments the counter for the current period and
	// returns the new count.
	RecordSend() (int, error)

	// Prune removes usage records older than the two most recent periods.
	Prune() error

	// SetPeriod switches the quota window granularity ("day" or
	// "month"). Unknown values are ignored.
	SetPeriod(period string)
}

// Scorer computes a mobile readiness score from compose content.
// Must be deterministic for identical inputs.
type Scorer interface {
	Score(bodyText, bodyHTML, subject string) MobileScore
	Preflight(bodyText, bodyHTML, subject string) map[string]CheckResult
}

// PreviewSurface receives light-pass DOM writes: the mirrored preview
// content and the subject character badge.
// Implementation: script evaluation in the host tab via chromedp.
type PreviewSurface interface {
	// Render mirrors the compose HTML into the preview overlay.
	Render(ctx context.Context, html string) error

	// SetBadge updates the subject character-count badge.
	// Tier is "warn-under", "ok" or "warn-over".
	SetBadge(ctx context.Context, count int, tier string) error

	// Toggle collapses or expands the overlay.
	Toggle(ctx context.Context) error
}

// TabQuerier lets the relay pull freshly scraped state from compatible
// tabs when answering ad hoc state requests.
type TabQuerier interface {
	// FocusedTab returns the tab ID of the focused compatible tab, or
	// "" if none.
	FocusedTab(ctx context.Context) string

	// RecentTabs returns compatible tab IDs ordered by recency,
	// excluding the focused tab.
	RecentTabs(ctx context.Context) []string

	// ScrapeTab asks one tab for freshly scraped state.
	ScrapeTab(ctx context.Context, tabID string) (*EmailState, error)
}

// UnlockVerifier calls the external payment-verification endpoint.
type UnlockVerifier interface {
	// Verify reports whether the session id corresponds to a completed
	// payment. A transport or shape error is returned as err and must
	// never be treated as success.
	Verify(ctx context.Context, sessionID string) (bool, error)
}
