package score

import (
	"strings"

	"github.com/mailfit/mailfit/internal/domain"
)

// Preflight evaluates the three named go/no-go checks. Trivial content
// (no body and no subject) leaves every check pending; the checks only
// become defined once a heavy pass has real content to judge.
func (s *Scorer) Preflight(bodyText, bodyHTML, subject string) map[string]domain.CheckResult {
	subject = strings.TrimSpace(subject)
	trimmedBody := strings.TrimSpace(bodyText)

	if trimmedBody == "" && subject == "" {
		return map[string]domain.CheckResult{
			domain.CheckSubjectHook:     domain.CheckPending,
			domain.CheckCTAAboveFold:    domain.CheckPending,
			domain.CheckLinkTapFriendly: domain.CheckPending,
		}
	}

	body := analyzeBody(bodyText, bodyHTML, s.th)

	return map[string]domain.CheckResult{
		domain.CheckSubjectHook:     boolCheck(s.subjectHookPresent(subject)),
		domain.CheckCTAAboveFold:    boolCheck(body.ctaAboveFold),
		domain.CheckLinkTapFriendly: boolCheck(s.linksTapFriendly(body)),
	}
}

// subjectHookPresent fails empty, too-short and filler-opening
// subjects ("Quick question", "Checking in", ...).
func (s *Scorer) subjectHookPresent(subject string) bool {
	if len([]rune(subject)) < s.th.SubjectLooseMin {
		return false
	}

	lower := strings.ToLower(subject)
	for _, opener := range fillerOpeners {
		if strings.HasPrefix(lower, opener) {
			return false
		}
	}
	return true
}

// linksTapFriendly passes when every link carries enough anchor text
// to hit with a thumb and the total count stays tappable. A body with
// no links has nothing to mistap and passes.
func (s *Scorer) linksTapFriendly(body bodyInfo) bool {
	if body.linkCount == 0 {
		return true
	}
	if body.linkCount > s.th.MaxTapFriendlyLinks {
		return false
	}
	for _, anchor := range body.anchors {
		if len([]rune(anchor)) < s.th.MinAnchorTextChars {
			return false
		}
	}
	return true
}

func boolCheck(ok bool) domain.CheckResult {
	if ok {
		return domain.CheckPass
	}
	return domain.CheckFail
}
