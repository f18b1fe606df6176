package detect

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Evaluator runs a script in a tab. browser.Tab satisfies this; tests
// substitute a fake page.
type Evaluator interface {
	Eval(ctx context.Context, js string, out any) error
}

// detection is the detect script's result shape.
type detection struct {
	Found    bool   `json:"found"`
	DialogID string `json:"dialogId"`
}

// Detector watches one tab for a compose dialog appearing or
// disappearing. Open and close fire exactly once per dialog instance;
// a host re-render inside the grace period is treated as the same
// instance (reattachment), not close+reopen.
type Detector struct {
	tab    Evaluator
	logger *zap.Logger

	pollInterval time.Duration
	grace        time.Duration

	// OnOpened and OnClosed are invoked from the Run goroutine.
	OnOpened func(dialogID string)
	OnClosed func(dialogID string)

	currentDialog string
	lastSeen      time.Time
	lostAt        time.Time
}

// NewDetector creates a detector for one tab.
func NewDetector(tab Evaluator, grace time.Duration, logger *zap.Logger) *Detector {
	return &Detector{
		tab:          tab,
		logger:       logger,
		pollInterval: 500 * time.Millisecond,
		grace:        grace,
	}
}

// Run polls until ctx is canceled.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Poll(ctx)
		}
	}
}

// Poll runs one detection pass. Exported so the agent can force a
// check right after attaching a tab.
func (d *Detector) Poll(ctx context.Context) {
	var det detection
	if err := d.tab.Eval(ctx, detectScript, &det); err != nil {
		// DOM-shape errors are expected while the page renders.
		d.logger.Debug("detect pass failed", zap.Error(err))
		return
	}

	switch {
	case det.Found && det.DialogID == d.currentDialog:
		// Same instance still present; a pending loss was transient.
		d.lastSeen = time.Now()
		d.lostAt = time.Time{}

	case det.Found && d.currentDialog == "":
		d.currentDialog = det.DialogID
		d.lastSeen = time.Now()
		d.lostAt = time.Time{}
		d.logger.Info("compose dialog detected", zap.String("dialog", det.DialogID))
		if d.OnOpened != nil {
			d.OnOpened(det.DialogID)
		}

	case det.Found && det.DialogID != d.currentDialog:
		// A different node appeared. Within the grace window of the
		// last successful sighting this is the host re-rendering the
		// dialog, with or without an intervening missed poll: the live
		// session adopts it silently.
		if !d.lastSeen.IsZero() && time.Since(d.lastSeen) <= d.grace {
			d.logger.Debug("compose dialog re-rendered, reattaching",
				zap.String("old", d.currentDialog),
				zap.String("new", det.DialogID))
			d.currentDialog = det.DialogID
			d.lastSeen = time.Now()
			d.lostAt = time.Time{}
			return
		}
		// Outside the grace window: real close then reopen.
		old := d.currentDialog
		d.currentDialog = det.DialogID
		d.lastSeen = time.Now()
		d.lostAt = time.Time{}
		if d.OnClosed != nil {
			d.OnClosed(old)
		}
		if d.OnOpened != nil {
			d.OnOpened(det.DialogID)
		}

	case !det.Found && d.currentDialog != "":
		if d.lostAt.IsZero() {
			d.lostAt = time.Now()
			return
		}
		if time.Since(d.lostAt) > d.grace {
			old := d.currentDialog
			d.currentDialog = ""
			d.lostAt = time.Time{}
			d.logger.Info("compose dialog closed", zap.String("dialog", old))
			if d.OnClosed != nil {
				d.OnClosed(old)
			}
		}
	}
}
