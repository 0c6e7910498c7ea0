package recorder

import (
	"strings"

	"applyflow/internal/selector"
)

const bufferExpr = `(window.applyflowActions || [])`

// script installs click, input and navigation observers that push action
// records into window.applyflowActions. Injecting it twice is harmless.
func script(r *selector.Resolver) string {
	return strings.Replace(observerScript, "__RESOLVE__", r.Function(), 1)
}

const observerScript = `(function() {
	if (window.applyflowRecorder) return;
	window.applyflowRecorder = true;
	window.applyflowActions = window.applyflowActions || [];
	const resolve = __RESOLVE__;
	const push = function(action) { window.applyflowActions.push(action); };

	document.addEventListener('click', function(e) {
		const el = e.target;
		if (!el || el.nodeType !== 1) return;
		push({
			type: 'click',
			timestamp: Date.now(),
			selector: resolve(el),
			tagName: el.tagName,
			text: (el.textContent || '').trim(),
			url: window.location.href,
			position: {x: e.clientX, y: e.clientY}
		});
	}, true);

	document.addEventListener('input', function(e) {
		const el = e.target;
		if (!el || el.nodeType !== 1) return;
		push({
			type: 'input',
			timestamp: Date.now(),
			selector: resolve(el),
			tagName: el.tagName,
			value: el.type === 'password' ? '' : el.value,
			url: window.location.href
		});
	}, true);

	let lastUrl = window.location.href;
	new MutationObserver(function() {
		const current = window.location.href;
		if (current !== lastUrl) {
			push({type: 'navigation', timestamp: Date.now(), from: lastUrl, to: current, url: current});
			lastUrl = current;
		}
	}).observe(document, {subtree: true, childList: true});
})();`
