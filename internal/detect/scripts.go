// Package detect finds the compose dialog in a webmail tab, binds its
// body and subject nodes and streams edits back to the agent.
package detect

// script to detect an open compose dialog. Signatures are evaluated in
// priority order; ties between editable regions break on rendered
// area, largest wins. A freshly discovered dialog is stamped with an
// instance id so a host re-render shows up as a new instance.
const detectScript = `(() => {
	const signatures = [
		// Gmail compose dialog
		'div[role="dialog"] div[aria-label*="Message Body"]',
		'div[role="dialog"] div[g_editable="true"]',
		// Outlook compose dialog
		'div[role="dialog"] div[aria-label*="Message body"]',
		// Generic: any dialog with a large editable region
		'div[role="dialog"] [contenteditable="true"]',
		// Generic: any dialog with a subject-like input
		'div[role="dialog"] input[name*="subject" i]',
	];

	let dialog = null;
	for (const sig of signatures) {
		let best = null;
		let bestArea = 0;
		for (const el of document.querySelectorAll(sig)) {
			const rect = el.getBoundingClientRect();
			const area = rect.width * rect.height;
			if (area > bestArea) {
				best = el;
				bestArea = area;
			}
		}
		if (best) {
			dialog = best.closest('div[role="dialog"]');
			break;
		}
	}

	if (!dialog) {
		return { found: false, dialogId: "" };
	}

	if (!dialog.dataset.mailfitDialogId) {
		dialog.dataset.mailfitDialogId = "dlg-" + Date.now() + "-" + Math.floor(Math.random() * 1e6);
	}

	return { found: true, dialogId: dialog.dataset.mailfitDialogId };
})();`

// script to locate and stamp the body and subject nodes inside the
// detected dialog. First matching signature wins; ties between
// editable candidates break on rendered area.
const bindScript = `(() => {
	const dialog = document.querySelector('div[role="dialog"][data-mailfit-dialog-id]');
	if (!dialog) {
		return { found: false };
	}

	const bodySignatures = [
		'div[aria-label*="Message Body"]',
		'div[g_editable="true"]',
		'div[aria-label*="Message body"]',
		'[contenteditable="true"]',
		'textarea[name*="body" i]',
	];
	const subjectSignatures = [
		'input[name="subjectbox"]',
		'input[aria-label*="Subject"]',
		'input[name*="subject" i]',
		'input[placeholder*="subject" i]',
	];

	let body = null;
	for (const sig of bodySignatures) {
		let best = null;
		let bestArea = 0;
		for (const el of dialog.querySelectorAll(sig)) {
			const rect = el.getBoundingClientRect();
			const area = rect.width * rect.height;
			if (area > bestArea) {
				best = el;
				bestArea = area;
			}
		}
		if (best) {
			body = best;
			break;
		}
	}

	let subject = null;
	for (const sig of subjectSignatures) {
		subject = dialog.querySelector(sig);
		if (subject) break;
	}

	if (!body) {
		return { found: false };
	}

	// Clear stale stamps from a replaced node, then stamp the winners.
	for (const el of document.querySelectorAll('[data-mailfit-body]')) {
		delete el.dataset.mailfitBody;
	}
	for (const el of document.querySelectorAll('[data-mailfit-subject]')) {
		delete el.dataset.mailfitSubject;
	}
	body.dataset.mailfitBody = "1";
	if (subject) {
		subject.dataset.mailfitSubject = "1";
	}

	return { found: true, hasSubject: !!subject };
})();`

// script to read current content from the stamped nodes. attached
// turns false when the host page replaced the body node.
const scrapeScript = `(() => {
	const body = document.querySelector('[data-mailfit-body]');
	if (!body || !document.contains(body)) {
		return { attached: false, text: "", html: "", subject: "" };
	}

	const subjectEl = document.querySelector('[data-mailfit-subject]');
	const subject = subjectEl ? (subjectEl.value || "") : "";

	return {
		attached: true,
		text: body.innerText || body.value || "",
		html: body.innerHTML || "",
		subject: subject,
	};
})();`

// script to install the edit and send listeners. Edits flow through
// the __mailfitEdit binding; send-button activation flows through
// __mailfitSend, which consults the agent before letting the click
// through (the paywall).
const listenerScript = `(() => {
	if (window.__mailfitListening) {
		return true;
	}
	window.__mailfitListening = true;

	const emit = () => {
		const body = document.querySelector('[data-mailfit-body]');
		if (!body || !document.contains(body)) {
			return;
		}
		const subjectEl = document.querySelector('[data-mailfit-subject]');
		window.__mailfitEdit(JSON.stringify({
			text: body.innerText || body.value || "",
			html: body.innerHTML || "",
			subject: subjectEl ? (subjectEl.value || "") : "",
		}));
	};

	document.addEventListener('input', (e) => {
		if (e.target.closest && e.target.closest('div[role="dialog"]')) {
			emit();
		}
	}, true);

	const observer = new MutationObserver(() => emit());
	const body = document.querySelector('[data-mailfit-body]');
	if (body) {
		observer.observe(body, { childList: true, subtree: true, characterData: true });
	}

	// Send detection: Gmail and Outlook label their send controls.
	document.addEventListener('click', (e) => {
		const btn = e.target.closest && e.target.closest(
			'div[role="button"][aria-label*="Send" i], button[aria-label*="Send" i], button[title*="Send" i]');
		if (btn) {
			window.__mailfitSend(JSON.stringify({ ts: Date.now() }));
		}
	}, true);

	return true;
})();`
