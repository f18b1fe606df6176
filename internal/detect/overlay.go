package detect

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mailfit/mailfit/internal/domain"
)

// overlayScript installs the shadow-DOM preview beside the compose
// dialog and exposes the render/badge/toggle/paywall entry points.
// The shadow root keeps the host page's CSS out of the preview.
const overlayScript = `((width) => {
	if (window.__mailfitRender) {
		return true;
	}

	const host = document.createElement('div');
	host.id = '__mailfit-overlay';
	host.style.cssText = 'position:fixed;right:16px;bottom:16px;z-index:2147483647;';
	document.body.appendChild(host);

	const root = host.attachShadow({ mode: 'open' });
	root.innerHTML =
		'<div id="frame" style="width:' + width + 'px;max-height:70vh;overflow:auto;' +
		'border:1px solid #ccc;border-radius:12px;background:#fff;' +
		'box-shadow:0 4px 24px rgba(0,0,0,.2);font-family:sans-serif;">' +
		'<div id="badge" style="padding:4px 8px;font-size:11px;color:#555;"></div>' +
		'<div id="paywall" style="display:none;padding:12px;font-size:13px;color:#b00;"></div>' +
		'<div id="content" style="padding:12px;font-size:14px;line-height:1.4;"></div>' +
		'</div>';

	const content = root.getElementById('content');
	const badge = root.getElementById('badge');
	const paywall = root.getElementById('paywall');
	const tierColors = { 'warn-under': '#c80', 'ok': '#080', 'warn-over': '#c00' };

	window.__mailfitRender = (html) => { content.innerHTML = html; };
	window.__mailfitBadge = (count, tier) => {
		badge.textContent = 'Subject: ' + count + ' chars';
		badge.style.color = tierColors[tier] || '#555';
	};
	window.__mailfitToggle = () => {
		host.style.display = host.style.display === 'none' ? '' : 'none';
	};
	window.__mailfitPaywall = (message) => {
		paywall.style.display = message ? '' : 'none';
		paywall.textContent = message || '';
	};
	window.__mailfitRemove = () => {
		host.remove();
		delete window.__mailfitRender;
		delete window.__mailfitBadge;
		delete window.__mailfitToggle;
		delete window.__mailfitPaywall;
		delete window.__mailfitRemove;
	};

	return true;
})(%d);`

// Overlay implements domain.PreviewSurface by evaluating small calls
// against the installed overlay script.
type Overlay struct {
	tab Evaluator
}

// NewOverlay installs the preview overlay in the tab.
func NewOverlay(ctx context.Context, tab Evaluator, previewWidth int) (*Overlay, error) {
	var ok bool
	if err := tab.Eval(ctx, fmt.Sprintf(overlayScript, previewWidth), &ok); err != nil {
		return nil, fmt.Errorf("failed to install preview overlay: %w", err)
	}
	return &Overlay{tab: tab}, nil
}

// Render mirrors the compose HTML into the preview overlay.
func (o *Overlay) Render(ctx context.Context, html string) error {
	encoded, err := json.Marshal(html)
	if err != nil {
		return err
	}
	return o.tab.Eval(ctx, fmt.Sprintf("window.__mailfitRender && window.__mailfitRender(%s)", encoded), nil)
}

// SetBadge updates the subject character-count badge.
func (o *Overlay) SetBadge(ctx context.Context, count int, tier string) error {
	encoded, err := json.Marshal(tier)
	if err != nil {
		return err
	}
	return o.tab.Eval(ctx, fmt.Sprintf("window.__mailfitBadge && window.__mailfitBadge(%d, %s)", count, encoded), nil)
}

// Toggle collapses or expands the overlay.
func (o *Overlay) Toggle(ctx context.Context) error {
	return o.tab.Eval(ctx, "window.__mailfitToggle && window.__mailfitToggle()", nil)
}

// ShowPaywall displays (or clears, with an empty message) the quota
// message in the overlay.
func (o *Overlay) ShowPaywall(ctx context.Context, message string) error {
	encoded, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return o.tab.Eval(ctx, fmt.Sprintf("window.__mailfitPaywall && window.__mailfitPaywall(%s)", encoded), nil)
}

// Remove tears the overlay out of the page.
func (o *Overlay) Remove(ctx context.Context) error {
	return o.tab.Eval(ctx, "window.__mailfitRemove && window.__mailfitRemove()", nil)
}

// Ensure Overlay implements domain.PreviewSurface.
var _ domain.PreviewSurface = (*Overlay)(nil)
