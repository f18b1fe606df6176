// Package score computes the mobile readiness score and preflight
// checks from compose content. Scoring is a pure function of its
// inputs so results can be cached by content hash.
package score

// Thresholds holds the product-tuned scoring bands. The numbers have
// no derivation beyond product tuning; treat them as configuration.
type Thresholds struct {
	// Subject length bands (characters).
	SubjectOptimalMin int
	SubjectOptimalMax int
	SubjectLooseMin   int
	SubjectLooseMax   int

	// Leading window treated as "above the fold" on a phone. 200 text
	// characters approximates a 576px viewport before scrolling.
	FoldWindowChars int
	FoldViewportPx  int

	// Link count bands.
	LinksEasyMax    int
	LinksCrowdedMax int

	// Body length bands (words).
	BodyOptimalMinWords int
	BodyOptimalMaxWords int
	BodyLooseMinWords   int
	BodyLooseMaxWords   int

	// Paragraph structure.
	BreaksPer100WordsGood float64
	BreaksPer100WordsOK   float64
	ShortBodyWords        int
	AvgParaGoodWords      int
	AvgParaOKWords        int

	// Tap-friendliness.
	MinAnchorTextChars  int
	MaxTapFriendlyLinks int

	// Subject badge tiers (characters).
	BadgeWarnUnder int
	BadgeWarnOver  int
}

// Weights holds the maximum points each factor contributes. The sum
// of all maxima is 100.
type Weights struct {
	Subject    int
	CTA        int
	Links      int
	BodyLength int
	ParaBreaks int
	AvgPara    int
}

// DefaultThresholds returns the tuned bands.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SubjectOptimalMin:     30,
		SubjectOptimalMax:     50,
		SubjectLooseMin:       20,
		SubjectLooseMax:       60,
		FoldWindowChars:       200,
		FoldViewportPx:        576,
		LinksEasyMax:          3,
		LinksCrowdedMax:       6,
		BodyOptimalMinWords:   50,
		BodyOptimalMaxWords:   150,
		BodyLooseMinWords:     20,
		BodyLooseMaxWords:     300,
		BreaksPer100WordsGood: 2.0,
		BreaksPer100WordsOK:   1.0,
		ShortBodyWords:        30,
		AvgParaGoodWords:      40,
		AvgParaOKWords:        60,
		MinAnchorTextChars:    4,
		MaxTapFriendlyLinks:   8,
		BadgeWarnUnder:        20,
		BadgeWarnOver:         60,
	}
}

// DefaultWeights returns the tuned factor maxima.
func DefaultWeights() Weights {
	return Weights{
		Subject:    15,
		CTA:        25,
		Links:      15,
		BodyLength: 20,
		ParaBreaks: 15,
		AvgPara:    10,
	}
}

// Factor names used in the score breakdown.
const (
	FactorSubject    = "subject-length"
	FactorCTA        = "cta-above-fold"
	FactorLinks      = "link-density"
	FactorBodyLength = "body-length"
	FactorParaBreaks = "paragraph-breaks"
	FactorAvgPara    = "paragraph-length"
)

// fillerOpeners are leading subject phrases that bury the hook.
var fillerOpeners = []string{
	"quick question",
	"checking in",
	"touching base",
	"following up",
	"just wanted",
	"hello",
	"hi there",
	"fyi",
	"fwd:",
	"re:",
}

// ctaPhrases are call-to-action phrases recognised in body text.
var ctaPhrases = []string{
	"click here",
	"learn more",
	"get started",
	"sign up",
	"book a",
	"schedule a",
	"register",
	"reply to",
	"let me know",
	"check out",
	"view the",
	"download",
}
