package score

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mailfit/mailfit/internal/domain"
)

// Scorer computes mobile readiness scores. Stateless and deterministic;
// safe to share across sessions.
type Scorer struct {
	th Thresholds
	w  Weights
}

// NewScorer creates a scorer with the default tuned bands.
func NewScorer() *Scorer {
	return &Scorer{th: DefaultThresholds(), w: DefaultWeights()}
}

// NewScorerWith creates a scorer with explicit bands (for tests).
func NewScorerWith(th Thresholds, w Weights) *Scorer {
	return &Scorer{th: th, w: w}
}

// Score computes the 0-100 mobile readiness score with per-factor
// breakdown and improvement suggestions.
func (s *Scorer) Score(bodyText, bodyHTML, subject string) domain.MobileScore {
	body := analyzeBody(bodyText, bodyHTML, s.th)
	subject = strings.TrimSpace(subject)

	breakdown := map[string]domain.FactorScore{
		FactorSubject:    s.scoreSubject(subject),
		FactorCTA:        s.scoreCTA(body),
		FactorLinks:      s.scoreLinks(body),
		FactorBodyLength: s.scoreBodyLength(body),
		FactorParaBreaks: s.scoreParaBreaks(body),
		FactorAvgPara:    s.scoreAvgPara(body),
	}

	total := 0
	for _, f := range breakdown {
		total += f.Score
	}
	if total > 100 {
		total = 100
	}

	return domain.MobileScore{
		Score:       total,
		Grade:       domain.GradeFor(total),
		Breakdown:   breakdown,
		Suggestions: s.suggestions(breakdown),
	}
}

// CTAInfo is the call-to-action sub-result, cacheable on its own
// because it is the most expensive part of a heavy pass.
type CTAInfo struct {
	Present   bool
	AboveFold bool
}

// CTA reports whether the body carries a call to action and whether it
// sits above the fold.
func (s *Scorer) CTA(bodyText, bodyHTML string) CTAInfo {
	body := analyzeBody(bodyText, bodyHTML, s.th)
	return CTAInfo{Present: body.ctaPresent, AboveFold: body.ctaAboveFold}
}

// BadgeTier returns the subject character badge tier for the light
// pass: "warn-under", "ok" or "warn-over".
func (s *Scorer) BadgeTier(subjectLen int) string {
	switch {
	case subjectLen < s.th.BadgeWarnUnder:
		return "warn-under"
	case subjectLen > s.th.BadgeWarnOver:
		return "warn-over"
	default:
		return "ok"
	}
}

func (s *Scorer) scoreSubject(subject string) domain.FactorScore {
	max := s.w.Subject
	n := len([]rune(subject))

	switch {
	case n >= s.th.SubjectOptimalMin && n <= s.th.SubjectOptimalMax:
		return domain.FactorScore{Score: max, MaxScore: max,
			Feedback: "Subject length sits in the mobile sweet spot"}
	case n >= s.th.SubjectLooseMin && n <= s.th.SubjectLooseMax:
		return domain.FactorScore{Score: (max * 2) / 3, MaxScore: max,
			Feedback: fmt.Sprintf("Subject is readable but aim for %d-%d characters", s.th.SubjectOptimalMin, s.th.SubjectOptimalMax)}
	case n > 0:
		return domain.FactorScore{Score: max / 3, MaxScore: max,
			Feedback: fmt.Sprintf("Subject gets truncated or lost on phones; aim for %d-%d characters", s.th.SubjectOptimalMin, s.th.SubjectOptimalMax)}
	default:
		return domain.FactorScore{Score: 0, MaxScore: max,
			Feedback: "Missing subject line"}
	}
}

func (s *Scorer) scoreCTA(body bodyInfo) domain.FactorScore {
	max := s.w.CTA

	if body.ctaAboveFold {
		return domain.FactorScore{Score: max, MaxScore: max,
			Feedback: "Call to action is visible without scrolling"}
	}
	if body.ctaPresent {
		return domain.FactorScore{Score: max / 2, MaxScore: max,
			Feedback: fmt.Sprintf("Call to action is buried; move it into the first %d characters", s.th.FoldWindowChars)}
	}
	return domain.FactorScore{Score: 0, MaxScore: max,
		Feedback: "No link or call-to-action phrase found"}
}

func (s *Scorer) scoreLinks(body bodyInfo) domain.FactorScore {
	max := s.w.Links

	switch {
	case body.linkCount == 0:
		return domain.FactorScore{Score: max / 3, MaxScore: max,
			Feedback: "No links; a single tappable link works best on mobile"}
	case body.linkCount <= s.th.LinksEasyMax:
		return domain.FactorScore{Score: max, MaxScore: max,
			Feedback: "Link count is easy to tap through"}
	case body.linkCount <= s.th.LinksCrowdedMax:
		return domain.FactorScore{Score: max / 2, MaxScore: max,
			Feedback: fmt.Sprintf("%d links crowd a phone screen; trim to %d or fewer", body.linkCount, s.th.LinksEasyMax)}
	default:
		return domain.FactorScore{Score: max / 5, MaxScore: max,
			Feedback: fmt.Sprintf("%d links make mistaps likely; trim to %d or fewer", body.linkCount, s.th.LinksEasyMax)}
	}
}

func (s *Scorer) scoreBodyLength(body bodyInfo) domain.FactorScore {
	max := s.w.BodyLength
	n := body.wordCount

	switch {
	case n >= s.th.BodyOptimalMinWords && n <= s.th.BodyOptimalMaxWords:
		return domain.FactorScore{Score: max, MaxScore: max,
			Feedback: "Body length reads well on one phone screen"}
	case n >= s.th.BodyLooseMinWords && n <= s.th.BodyLooseMaxWords:
		return domain.FactorScore{Score: (max * 3) / 5, MaxScore: max,
			Feedback: fmt.Sprintf("Aim for %d-%d words for a comfortable mobile read", s.th.BodyOptimalMinWords, s.th.BodyOptimalMaxWords)}
	case n > 0:
		return domain.FactorScore{Score: max / 4, MaxScore: max,
			Feedback: fmt.Sprintf("Body is far outside the %d-%d word mobile band", s.th.BodyOptimalMinWords, s.th.BodyOptimalMaxWords)}
	default:
		return domain.FactorScore{Score: 0, MaxScore: max,
			Feedback: "Empty body"}
	}
}

func (s *Scorer) scoreParaBreaks(body bodyInfo) domain.FactorScore {
	max := s.w.ParaBreaks

	if body.wordCount == 0 {
		return domain.FactorScore{Score: 0, MaxScore: max, Feedback: "Empty body"}
	}

	// A short note in a single paragraph is fine on a phone.
	if body.wordCount <= s.th.ShortBodyWords && body.paragraphCount <= 1 {
		return domain.FactorScore{Score: (max * 8) / 15, MaxScore: max,
			Feedback: "Short single-paragraph note; breaks matter once it grows"}
	}

	breaks := float64(body.paragraphCount-1) * 100 / float64(body.wordCount)
	switch {
	case breaks >= s.th.BreaksPer100WordsGood:
		return domain.FactorScore{Score: max, MaxScore: max,
			Feedback: "Paragraph breaks keep the text scannable"}
	case breaks >= s.th.BreaksPer100WordsOK:
		return domain.FactorScore{Score: (max * 2) / 3, MaxScore: max,
			Feedback: "Add a paragraph break or two; walls of text scroll badly"}
	default:
		return domain.FactorScore{Score: max / 4, MaxScore: max,
			Feedback: "Break the body into short paragraphs for phone screens"}
	}
}

func (s *Scorer) scoreAvgPara(body bodyInfo) domain.FactorScore {
	max := s.w.AvgPara

	if body.paragraphCount == 0 {
		return domain.FactorScore{Score: 0, MaxScore: max, Feedback: "Empty body"}
	}

	avg := body.wordCount / body.paragraphCount
	switch {
	case avg <= s.th.AvgParaGoodWords:
		return domain.FactorScore{Score: max, MaxScore: max,
			Feedback: "Paragraphs are phone-sized"}
	case avg <= s.th.AvgParaOKWords:
		return domain.FactorScore{Score: (max * 3) / 5, MaxScore: max,
			Feedback: fmt.Sprintf("Average paragraph runs %d words; keep them under %d", avg, s.th.AvgParaGoodWords)}
	default:
		return domain.FactorScore{Score: max / 5, MaxScore: max,
			Feedback: fmt.Sprintf("Average paragraph runs %d words; keep them under %d", avg, s.th.AvgParaGoodWords)}
	}
}

// suggestions emits one improvement line per factor scoring below its
// maximum, in a fixed factor order, annotated with the available gain.
func (s *Scorer) suggestions(breakdown map[string]domain.FactorScore) []string {
	order := []string{
		FactorCTA, FactorBodyLength, FactorSubject,
		FactorParaBreaks, FactorLinks, FactorAvgPara,
	}

	var out []string
	for _, name := range order {
		f := breakdown[name]
		if f.Score >= f.MaxScore {
			continue
		}
		out = append(out, fmt.Sprintf("%s (+%d points)", f.Feedback, f.MaxScore-f.Score))
	}
	return out
}

// bodyInfo is the digest of one body analysis shared by all factors.
type bodyInfo struct {
	wordCount      int
	paragraphCount int
	linkCount      int
	anchors        []string
	ctaPresent     bool
	ctaAboveFold   bool
}

// analyzeBody extracts link and paragraph structure from the body.
// Falls back to text-only analysis when the HTML does not parse.
func analyzeBody(bodyText, bodyHTML string, th Thresholds) bodyInfo {
	info := bodyInfo{
		wordCount:      countWords(bodyText),
		paragraphCount: countParagraphs(bodyText),
	}

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(bodyHTML)); err == nil {
		doc.Find("a[href], button").Each(func(_ int, sel *goquery.Selection) {
			info.linkCount++
			info.anchors = append(info.anchors, strings.TrimSpace(sel.Text()))
		})
	}

	fold := leadingWindow(bodyText, th.FoldWindowChars)
	foldLower := strings.ToLower(fold)
	textLower := strings.ToLower(bodyText)

	for _, phrase := range ctaPhrases {
		if strings.Contains(foldLower, phrase) {
			info.ctaPresent = true
			info.ctaAboveFold = true
			break
		}
		if strings.Contains(textLower, phrase) {
			info.ctaPresent = true
		}
	}

	// A link counts as a CTA; above the fold when its anchor text
	// appears inside the leading window.
	if info.linkCount > 0 {
		info.ctaPresent = true
		for _, anchor := range info.anchors {
			if anchor == "" {
				continue
			}
			if strings.Contains(foldLower, strings.ToLower(anchor)) {
				info.ctaAboveFold = true
				break
			}
		}
	}

	return info
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

// countParagraphs splits on blank lines; consecutive breaks collapse.
func countParagraphs(text string) int {
	n := 0
	for _, block := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(block) != "" {
			n++
		}
	}
	return n
}

// leadingWindow returns the first n runes without splitting a rune.
func leadingWindow(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
