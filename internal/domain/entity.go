// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// Environment identifies the webmail host a tab belongs to.
type Environment string

const (
	EnvGmail   Environment = "gmail"
	EnvOutlook Environment = "outlook"
	EnvUnknown Environment = "unknown"
)

// TrafficLight is the coarse readiness indicator shown on the badge.
type TrafficLight string

const (
	LightReady  TrafficLight = "ready"
	LightIssues TrafficLight = "issues"
	LightIdle   TrafficLight = "idle"
)

// Grade is the letter grade derived from a mobile score.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// GradeFor maps a 0-100 score to a letter grade.
func GradeFor(score int) Grade {
	switch {
	case score >= 90:
		return GradeA
	case score >= 80:
		return GradeB
	case score >= 70:
		return GradeC
	case score >= 60:
		return GradeD
	default:
		return GradeF
	}
}

// CheckResult is the ternary outcome of a preflight check.
// Pending means no heavy pass has evaluated the check yet.
type CheckResult string

const (
	CheckPass    CheckResult = "pass"
	CheckFail    CheckResult = "fail"
	CheckPending CheckResult = "pending"
)

// Preflight check names.
const (
	CheckSubjectHook     = "subject-hook-present"
	CheckCTAAboveFold    = "cta-above-fold"
	CheckLinkTapFriendly = "link-tap-friendly"
)

// FactorScore is one factor's contribution to the mobile score.
type FactorScore struct {
	Score    int    `json:"score"`
	MaxScore int    `json:"maxScore"`
	Feedback string `json:"feedback"`
}

// MobileScore is the structured result of a heavy scoring pass.
type MobileScore struct {
	Score       int                    `json:"score"`
	Grade       Grade                  `json:"grade"`
	Breakdown   map[string]FactorScore `json:"breakdown"`
	Suggestions []string               `json:"suggestions"`
}

// EmailState is a snapshot of compose content plus derived data.
// The relay coordinator owns the canonical copy; the sync engine sends
// updates and popup views only read.
type EmailState struct {
	IsActive        bool                   `json:"isActive"`
	HTML            string                 `json:"html"`
	Text            string                 `json:"text"`
	Subject         string                 `json:"subject"`
	CharacterCount  int                    `json:"characterCount"`
	WordCount       int                    `json:"wordCount"`
	Environment     Environment            `json:"environment"`
	MobileScore     *MobileScore           `json:"mobileScore,omitempty"`
	PreflightChecks map[string]CheckResult `json:"preflightChecks,omitempty"`
	TrafficLight    TrafficLight           `json:"trafficLight"`
	Timestamp       time.Time              `json:"timestamp"`
}

// ComposeSession represents one active compose dialog in one tab.
// Node IDs are opaque handles into the host page; when the host
// replaces a node the session rebinds rather than being torn down.
type ComposeSession struct {
	TabID       string
	Environment Environment
	DialogID    string
	BodyNodeID  string
	SubjectID   string
	Attached    bool
	Collapsed   bool
	OpenedAt    time.Time
}

// UsageRecord maps one local-time period to a send count and limit.
type UsageRecord struct {
	PeriodKey string `json:"periodKey"`
	Count     int    `json:"count"`
	Limit     int    `json:"limit"`
}

// UsageStatus is the answer to a usage-limit check.
type UsageStatus struct {
	Allowed          bool `json:"allowed"`
	Remaining        int  `json:"remaining"`
	Limit            int  `json:"limit"`
	ApproachingLimit bool `json:"approachingLimit"`
	Unlimited        bool `json:"unlimited"`
}

// Settings is the small persisted settings object broadcast to tabs.
type Settings struct {
	PreviewWidth   int    `json:"previewWidth"`
	QuotaPeriod    string `json:"quotaPeriod"` // "day" or "month"
	OverlayEnabled bool   `json:"overlayEnabled"`
}

// DefaultSettings returns the settings used before the user changes anything.
func DefaultSettings() Settings {
	return Settings{
		PreviewWidth:   375,
		QuotaPeriod:    "day",
		OverlayEnabled: true,
	}
}
