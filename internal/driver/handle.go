package driver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"applyflow/internal/selector"
)

// ErrUnsupported is returned when the wrapped backend lacks an optional
// capability.
var ErrUnsupported = errors.New("capability not supported by driver")

// Handle wraps a Driver so that it can be invalidated. Once Quit has been
// called every call on the handle, and on elements obtained through it,
// fails with ErrSessionLost.
type Handle struct {
	d      Driver
	closed atomic.Bool
}

func NewHandle(d Driver) *Handle {
	return &Handle{d: d}
}

// Valid reports whether the handle has not been quit.
func (h *Handle) Valid() bool {
	return !h.closed.Load()
}

// Quit tears down the underlying session once. Later calls are no-ops.
func (h *Handle) Quit() error {
	if h.closed.Swap(true) {
		return nil
	}
	return h.d.Quit()
}

func (h *Handle) check(err error) error {
	if h.closed.Load() {
		return ErrSessionLost
	}
	return err
}

func (h *Handle) Navigate(ctx context.Context, url string) error {
	if err := h.check(nil); err != nil {
		return err
	}
	return h.check(h.d.Navigate(ctx, url))
}

func (h *Handle) FindElement(ctx context.Context, s Strategy, cond Condition) (Element, error) {
	if err := h.check(nil); err != nil {
		return nil, err
	}
	el, err := h.d.FindElement(ctx, s, cond)
	if err = h.check(err); err != nil {
		return nil, err
	}
	return &handleElement{h: h, el: el}, nil
}

func (h *Handle) FindElements(ctx context.Context, s Strategy) ([]Element, error) {
	if err := h.check(nil); err != nil {
		return nil, err
	}
	els, err := h.d.FindElements(ctx, s)
	if err = h.check(err); err != nil {
		return nil, err
	}
	return h.wrap(els), nil
}

func (h *Handle) ExecuteScript(ctx context.Context, script string) (any, error) {
	if err := h.check(nil); err != nil {
		return nil, err
	}
	v, err := h.d.ExecuteScript(ctx, script)
	return v, h.check(err)
}

func (h *Handle) CurrentURL(ctx context.Context) (string, error) {
	if err := h.check(nil); err != nil {
		return "", err
	}
	u, err := h.d.CurrentURL(ctx)
	return u, h.check(err)
}

func (h *Handle) InstallScript(ctx context.Context, source string) error {
	if err := h.check(nil); err != nil {
		return err
	}
	si, ok := h.d.(ScriptInstaller)
	if !ok {
		return fmt.Errorf("install script: %w", ErrUnsupported)
	}
	return h.check(si.InstallScript(ctx, source))
}

func (h *Handle) wrap(els []Element) []Element {
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = &handleElement{h: h, el: el}
	}
	return out
}

type handleElement struct {
	h  *Handle
	el Element
}

func (e *handleElement) do(fn func() error) error {
	if err := e.h.check(nil); err != nil {
		return err
	}
	return e.h.check(fn())
}

func (e *handleElement) Click(ctx context.Context) error {
	return e.do(func() error { return e.el.Click(ctx) })
}

func (e *handleElement) ScriptClick(ctx context.Context) error {
	return e.do(func() error { return e.el.ScriptClick(ctx) })
}

func (e *handleElement) SendKeys(ctx context.Context, text string) error {
	return e.do(func() error { return e.el.SendKeys(ctx, text) })
}

func (e *handleElement) Clear(ctx context.Context) error {
	return e.do(func() error { return e.el.Clear(ctx) })
}

func (e *handleElement) ScrollIntoView(ctx context.Context) error {
	return e.do(func() error { return e.el.ScrollIntoView(ctx) })
}

func (e *handleElement) Text(ctx context.Context) (string, error) {
	var text string
	err := e.do(func() (err error) {
		text, err = e.el.Text(ctx)
		return err
	})
	return text, err
}

func (e *handleElement) FindElements(ctx context.Context, s Strategy) ([]Element, error) {
	var els []Element
	err := e.do(func() (err error) {
		els, err = e.el.FindElements(ctx, s)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.h.wrap(els), nil
}

func (e *handleElement) Describe(ctx context.Context) (selector.Descriptor, error) {
	d, ok := e.el.(Describer)
	if !ok {
		return selector.Descriptor{}, fmt.Errorf("describe element: %w", ErrUnsupported)
	}
	var desc selector.Descriptor
	err := e.do(func() (err error) {
		desc, err = d.Describe(ctx)
		return err
	})
	return desc, err
}
