package chrome

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/mailru/easyjson"

	"applyflow/internal/driver"
	"applyflow/internal/selector"
)

// element addresses a node by backend id, which survives re-rendering of the
// surrounding tree for as long as the node itself is attached.
type element struct {
	b   *Browser
	id  cdp.BackendNodeID
	tag string
}

var (
	_ driver.Element   = (*element)(nil)
	_ driver.Describer = (*element)(nil)
)

const (
	clickableFn = `function() {
	const r = this.getBoundingClientRect();
	const style = window.getComputedStyle(this);
	return !this.disabled && r.width > 0 && r.height > 0 &&
		style.visibility !== 'hidden' && style.display !== 'none';
}`
	clickFn = `function() { this.click(); }`
	clearFn = `function() {
	if ('value' in this) this.value = '';
	this.dispatchEvent(new Event('input', {bubbles: true}));
}`
	textFn   = `function() { return (this.innerText || this.textContent || '').trim(); }`
	searchFn = `function(expr, xpath) {
	if (!xpath) return Array.from(this.querySelectorAll(expr));
	const out = [];
	const it = document.evaluate(expr, this, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	for (let i = 0; i < it.snapshotLength; i++) out.push(it.snapshotItem(i));
	return out;
}`
)

// call runs fn with this bound to the element. When res is non-nil the
// result is returned by value and decoded into it.
func (e *element) call(ctx context.Context, fn string, res any, args ...any) error {
	return e.b.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(e.id).Do(c)
		if err != nil {
			return fmt.Errorf("%w: %v", driver.ErrStaleElement, err)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(c) }()

		v, err := callFunction(c, obj.ObjectID, fn, res != nil, args...)
		if err != nil || res == nil || v == nil || len(v.Value) == 0 {
			return err
		}
		return json.Unmarshal(v.Value, res)
	}))
}

func callFunction(ctx context.Context, obj runtime.RemoteObjectID, fn string, byValue bool, args ...any) (*runtime.RemoteObject, error) {
	callArgs := make([]*runtime.CallArgument, len(args))
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		callArgs[i] = &runtime.CallArgument{Value: easyjson.RawMessage(raw)}
	}
	v, exc, err := runtime.CallFunctionOn(fn).
		WithObjectID(obj).
		WithArguments(callArgs).
		WithReturnByValue(byValue).
		WithAwaitPromise(true).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if exc != nil {
		return nil, exc
	}
	return v, nil
}

func (e *element) clickable(ctx context.Context) (bool, error) {
	var ok bool
	err := e.call(ctx, clickableFn, &ok)
	return ok, err
}

// Click scrolls the element into view and presses the left button at the
// centre of its first content quad.
func (e *element) Click(ctx context.Context) error {
	return e.b.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		if err := dom.ScrollIntoViewIfNeeded().WithBackendNodeID(e.id).Do(c); err != nil {
			return fmt.Errorf("%w: %v", driver.ErrStaleElement, err)
		}
		quads, err := dom.GetContentQuads().WithBackendNodeID(e.id).Do(c)
		if err != nil {
			return fmt.Errorf("%w: %v", driver.ErrStaleElement, err)
		}
		if len(quads) == 0 || len(quads[0]) < 8 {
			return fmt.Errorf("element %s has no clickable area", e.tag)
		}
		var x, y float64
		for i := 0; i < 8; i += 2 {
			x += quads[0][i] / 4
			y += quads[0][i+1] / 4
		}
		if err := input.DispatchMouseEvent(input.MouseMoved, x, y).Do(c); err != nil {
			return err
		}
		if err := input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(input.Left).WithClickCount(1).Do(c); err != nil {
			return err
		}
		return input.DispatchMouseEvent(input.MouseReleased, x, y).
			WithButton(input.Left).WithClickCount(1).Do(c)
	}))
}

func (e *element) ScriptClick(ctx context.Context) error {
	return e.call(ctx, clickFn, nil)
}

// SendKeys focuses the element and types text. KeyEnter presses Enter.
func (e *element) SendKeys(ctx context.Context, text string) error {
	return e.b.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		if err := dom.Focus().WithBackendNodeID(e.id).Do(c); err != nil {
			return fmt.Errorf("%w: %v", driver.ErrStaleElement, err)
		}
		return chromedp.KeyEvent(text).Do(c)
	}))
}

func (e *element) Clear(ctx context.Context) error {
	return e.call(ctx, clearFn, nil)
}

func (e *element) Text(ctx context.Context) (string, error) {
	var s string
	err := e.call(ctx, textFn, &s)
	return s, err
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	return e.b.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return dom.ScrollIntoViewIfNeeded().WithBackendNodeID(e.id).Do(c)
	}))
}

// FindElements searches the element's subtree.
func (e *element) FindElements(ctx context.Context, s driver.Strategy) ([]driver.Element, error) {
	expr, isCSS := s.CSS()
	if !isCSS {
		expr = s.XPath()
	}
	var out []driver.Element
	err := e.b.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(e.id).Do(c)
		if err != nil {
			return fmt.Errorf("%w: %v", driver.ErrStaleElement, err)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(c) }()

		arr, err := callFunction(c, obj.ObjectID, searchFn, false, expr, !isCSS)
		if err != nil {
			return err
		}
		defer func() { _ = runtime.ReleaseObject(arr.ObjectID).Do(c) }()

		props, _, _, exc, err := runtime.GetProperties(arr.ObjectID).WithOwnProperties(true).Do(c)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		for _, p := range props {
			if p.Value == nil || p.Value.Subtype != runtime.SubtypeNode {
				continue
			}
			n, err := dom.DescribeNode().WithObjectID(p.Value.ObjectID).Do(c)
			if err != nil {
				return err
			}
			out = append(out, &element{b: e.b, id: n.BackendNodeID, tag: n.LocalName})
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Describe runs the browser's selector resolver on the element.
func (e *element) Describe(ctx context.Context) (selector.Descriptor, error) {
	var d selector.Descriptor
	fn := "function() { return (" + e.b.resolver.Function() + ")(this); }"
	if err := e.call(ctx, fn, &d); err != nil {
		return selector.Descriptor{}, err
	}
	return d, nil
}
