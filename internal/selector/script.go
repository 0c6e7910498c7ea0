package selector

import (
	"encoding/json"
	"strings"
)

// Function returns a JavaScript function expression that resolves an element
// inside the page with the same priority rules as Resolve. It evaluates to
// {type, value}.
func (r *Resolver) Function() string {
	markers, _ := json.Marshal(r.classMarkers)
	aliases, _ := json.Marshal(TestIDAttributes)
	return strings.NewReplacer(
		"__MARKERS__", string(markers),
		"__ALIASES__", string(aliases),
	).Replace(resolverFunction)
}

const resolverFunction = `(function(element) {
	const markers = __MARKERS__;
	const aliases = __ALIASES__;
	const path = function(el) {
		const id = (el.getAttribute('id') || '').trim();
		if (id && id.indexOf('"') < 0) return 'id("' + id + '")';
		if (el === document.body || !el.parentElement) return el.tagName.toUpperCase();
		let ix = 1;
		const siblings = el.parentElement.children;
		for (let i = 0; i < siblings.length; i++) {
			const sib = siblings[i];
			if (sib === el) break;
			if (sib.tagName === el.tagName) ix++;
		}
		return path(el.parentElement) + '/' + el.tagName.toUpperCase() + '[' + ix + ']';
	};
	const attr = function(name) {
		const v = element.getAttribute(name);
		return v ? v.trim() : '';
	};
	if (attr('id')) return {type: 'id', value: attr('id')};
	for (const name of aliases) {
		if (attr(name)) return {type: 'test-id', value: attr(name)};
	}
	if (attr('aria-label')) return {type: 'aria-label', value: attr('aria-label')};
	const cls = Array.from(element.classList || []).find(function(c) {
		return markers.some(function(m) { return c.includes(m); });
	});
	if (cls) return {type: 'class', value: cls};
	return {type: 'xpath', value: path(element)};
})`
