// Package pwdriver is the Playwright backend. It drives Chromium through
// playwright-go and implements the applyflow driver capability set.
package pwdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"applyflow/internal/driver"
	"applyflow/internal/selector"
)

const (
	pollInterval   = 100 * time.Millisecond
	defaultTimeout = 30 * time.Second
	launchTimeout  = 60 * time.Second
)

// Options configure a Playwright session.
type Options struct {
	Headless bool
	// ExecPath runs a local Chrome instead of the bundled Chromium.
	ExecPath string
	// Device names a Playwright device descriptor, e.g. "Desktop Chrome".
	Device string
	// Install downloads the bundled Chromium before launching.
	Install  bool
	Logger   *zap.Logger
	Resolver *selector.Resolver
}

// Browser is one Playwright page in its own browser.
type Browser struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	page     playwright.Page
	logger   *zap.Logger
	resolver *selector.Resolver
	lost     atomic.Bool
	quit     sync.Once
}

var (
	_ driver.Driver          = (*Browser)(nil)
	_ driver.ScriptInstaller = (*Browser)(nil)
)

// Launch starts the Playwright driver, a Chromium browser and a page.
func Launch(ctx context.Context, o Options) (*Browser, error) {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Resolver == nil {
		o.Resolver = selector.NewResolver()
	}
	if o.Install {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, fmt.Errorf("install playwright browsers: %w", err)
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(o.Headless),
		Timeout:  playwright.Float(float64(timeoutMillis(ctx, launchTimeout))),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
		},
	}
	if o.ExecPath != "" {
		launch.ExecutablePath = playwright.String(o.ExecPath)
	}
	browser, err := pw.Chromium.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	pageOpts, err := contextOptions(pw, o.Device)
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, err
	}
	page, err := browser.NewPage(pageOpts)
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("open page: %w", err)
	}

	b := &Browser{pw: pw, browser: browser, page: page, logger: o.Logger, resolver: o.Resolver}
	browser.OnDisconnected(func(playwright.Browser) { b.lost.Store(true) })
	page.OnClose(func(playwright.Page) { b.lost.Store(true) })
	page.OnDialog(func(d playwright.Dialog) { _ = d.Dismiss() })

	o.Logger.Info("Browser launched",
		zap.String("backend", "playwright"),
		zap.String("version", browser.Version()),
		zap.Bool("headless", o.Headless),
		zap.String("device", o.Device),
	)
	return b, nil
}

func contextOptions(pw *playwright.Playwright, device string) (playwright.BrowserNewPageOptions, error) {
	var opts playwright.BrowserNewPageOptions
	if device == "" {
		return opts, nil
	}
	d, ok := pw.Devices[device]
	if !ok {
		return opts, fmt.Errorf("unknown playwright device %q", device)
	}
	opts.UserAgent = playwright.String(d.UserAgent)
	opts.Viewport = d.Viewport
	opts.DeviceScaleFactor = playwright.Float(d.DeviceScaleFactor)
	opts.IsMobile = playwright.Bool(d.IsMobile)
	opts.HasTouch = playwright.Bool(d.HasTouch)
	return opts, nil
}

// timeoutMillis converts the time left on ctx to a Playwright timeout.
func timeoutMillis(ctx context.Context, fallback time.Duration) int64 {
	d := fallback
	if deadline, ok := ctx.Deadline(); ok {
		d = time.Until(deadline)
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d.Milliseconds()
}

func (b *Browser) check(ctx context.Context) error {
	if b.lost.Load() || b.page.IsClosed() {
		return driver.ErrSessionLost
	}
	return ctx.Err()
}

func (b *Browser) classify(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case b.lost.Load() || b.page.IsClosed(), errors.Is(err, playwright.ErrTargetClosed):
		b.lost.Store(true)
		return fmt.Errorf("%w: %v", driver.ErrSessionLost, err)
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	_, err := b.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(timeoutMillis(ctx, defaultTimeout))),
	})
	return b.classify(ctx, err)
}

func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	if err := b.check(ctx); err != nil {
		return "", err
	}
	// A round trip proves the page still answers; URL() alone is cached.
	if _, err := b.page.Evaluate("1"); err != nil {
		return "", b.classify(ctx, err)
	}
	return b.page.URL(), nil
}

// selectorFor renders s in Playwright selector syntax.
func selectorFor(s driver.Strategy) string {
	if css, ok := s.CSS(); ok {
		return "css=" + css
	}
	return "xpath=" + s.XPath()
}

func (b *Browser) FindElement(ctx context.Context, s driver.Strategy, cond driver.Condition) (driver.Element, error) {
	for {
		if err := b.check(ctx); err != nil {
			if errors.Is(err, driver.ErrSessionLost) {
				return nil, err
			}
			return nil, driver.ErrStrategyTimeout
		}
		handles, err := b.page.QuerySelectorAll(selectorFor(s))
		if err != nil {
			if err := b.classify(ctx, err); errors.Is(err, driver.ErrSessionLost) {
				return nil, err
			}
		}
		for _, h := range handles {
			el := &element{b: b, h: h}
			if cond == driver.Present || el.clickable() {
				return el, nil
			}
		}

		t := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, driver.ErrStrategyTimeout
		case <-t.C:
		}
	}
}

func (b *Browser) FindElements(ctx context.Context, s driver.Strategy) ([]driver.Element, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	handles, err := b.page.QuerySelectorAll(selectorFor(s))
	if err != nil {
		return nil, b.classify(ctx, err)
	}
	return b.wrap(handles), nil
}

func (b *Browser) wrap(handles []playwright.ElementHandle) []driver.Element {
	out := make([]driver.Element, len(handles))
	for i, h := range handles {
		out[i] = &element{b: b, h: h}
	}
	return out
}

// ExecuteScript evaluates an expression in the page. Undefined is returned
// as nil.
func (b *Browser) ExecuteScript(ctx context.Context, script string) (any, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	v, err := b.page.Evaluate(script)
	if err != nil {
		return nil, b.classify(ctx, err)
	}
	return v, nil
}

func (b *Browser) InstallScript(ctx context.Context, source string) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	return b.classify(ctx, b.page.AddInitScript(playwright.Script{Content: playwright.String(source)}))
}

// Quit closes the browser and stops the Playwright driver.
func (b *Browser) Quit() error {
	var err error
	b.quit.Do(func() {
		b.lost.Store(true)
		if cerr := b.browser.Close(); cerr != nil && !errors.Is(cerr, playwright.ErrTargetClosed) {
			err = cerr
		}
		if serr := b.pw.Stop(); serr != nil && err == nil {
			err = serr
		}
		b.logger.Info("Browser closed", zap.String("backend", "playwright"))
	})
	return err
}

type element struct {
	b *Browser
	h playwright.ElementHandle
}

var (
	_ driver.Element   = (*element)(nil)
	_ driver.Describer = (*element)(nil)
)

func (e *element) clickable() bool {
	visible, err := e.h.IsVisible()
	if err != nil || !visible {
		return false
	}
	enabled, err := e.h.IsEnabled()
	return err == nil && enabled
}

func (e *element) do(ctx context.Context, fn func() error) error {
	if err := e.b.check(ctx); err != nil {
		return err
	}
	return e.b.classify(ctx, fn())
}

func (e *element) Click(ctx context.Context) error {
	return e.do(ctx, func() error {
		return e.h.Click(playwright.ElementHandleClickOptions{
			Timeout: playwright.Float(float64(timeoutMillis(ctx, defaultTimeout))),
		})
	})
}

func (e *element) ScriptClick(ctx context.Context) error {
	return e.do(ctx, func() error {
		_, err := e.h.Evaluate("el => el.click()")
		return err
	})
}

// SendKeys types text into the focused element. KeyEnter presses Enter.
func (e *element) SendKeys(ctx context.Context, text string) error {
	return e.do(ctx, func() error {
		if err := e.h.Focus(); err != nil {
			return err
		}
		if text == driver.KeyEnter {
			return e.b.page.Keyboard().Press("Enter")
		}
		return e.b.page.Keyboard().Type(text)
	})
}

func (e *element) Clear(ctx context.Context) error {
	return e.do(ctx, func() error {
		return e.h.Fill("", playwright.ElementHandleFillOptions{
			Timeout: playwright.Float(float64(timeoutMillis(ctx, defaultTimeout))),
		})
	})
}

func (e *element) Text(ctx context.Context) (string, error) {
	var s string
	err := e.do(ctx, func() (err error) {
		s, err = e.h.InnerText()
		return err
	})
	return s, err
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	return e.do(ctx, func() error {
		return e.h.ScrollIntoViewIfNeeded()
	})
}

func (e *element) FindElements(ctx context.Context, s driver.Strategy) ([]driver.Element, error) {
	var handles []playwright.ElementHandle
	err := e.do(ctx, func() (err error) {
		handles, err = e.h.QuerySelectorAll(selectorFor(s))
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.b.wrap(handles), nil
}

func (e *element) Describe(ctx context.Context) (selector.Descriptor, error) {
	var raw any
	err := e.do(ctx, func() (err error) {
		raw, err = e.h.Evaluate(e.b.resolver.Function())
		return err
	})
	if err != nil {
		return selector.Descriptor{}, err
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return selector.Descriptor{}, err
	}
	var d selector.Descriptor
	if err := json.Unmarshal(b, &d); err != nil {
		return selector.Descriptor{}, fmt.Errorf("decode descriptor: %w", err)
	}
	return d, nil
}
