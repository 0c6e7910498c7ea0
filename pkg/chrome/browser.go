package chrome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"applyflow/internal/driver"
	"applyflow/internal/selector"
)

const pollInterval = 100 * time.Millisecond

// Options configure a browser session.
type Options struct {
	// ExecPath overrides executable discovery.
	ExecPath string
	// RemoteURL attaches to a running browser's DevTools websocket
	// instead of launching one.
	RemoteURL   string
	Headless    bool
	UserDataDir string
	// Device names an entry of Devices to emulate.
	Device   string
	Logger   *zap.Logger
	Resolver *selector.Resolver
}

// Browser is one chromedp tab. It implements driver.Driver.
type Browser struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
	resolver *selector.Resolver
	lost     atomic.Bool
	quit     sync.Once
}

var (
	_ driver.Driver          = (*Browser)(nil)
	_ driver.ScriptInstaller = (*Browser)(nil)
)

func allocatorOptions(o Options) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-crash-upload", true),
	)
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	if o.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(o.UserDataDir))
	}
	if dev, ok := Device(o.Device); ok {
		opts = append(opts,
			chromedp.UserAgent(dev.UserAgent),
			chromedp.WindowSize(int(dev.Width), int(dev.Height)),
		)
	}
	return opts
}

// Launch starts a browser, or attaches to one when RemoteURL is set, and
// opens a tab. The session is not bound to ctx; Quit ends it.
func Launch(ctx context.Context, o Options) (*Browser, error) {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Resolver == nil {
		o.Resolver = selector.NewResolver()
	}
	if o.Device != "" {
		if _, ok := Device(o.Device); !ok {
			return nil, fmt.Errorf("unknown device %q, expected one of %s", o.Device, strings.Join(DeviceNames(), ", "))
		}
	}
	if o.ExecPath == "" && o.RemoteURL == "" {
		o.ExecPath = ExecPath()
	}

	base := context.WithoutCancel(ctx)
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if o.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(base, o.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(base, allocatorOptions(o)...)
	}
	sugar := o.Logger.Named("cdp").Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	b := &Browser{
		ctx:      tabCtx,
		logger:   o.Logger,
		resolver: o.Resolver,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch ev.(type) {
		case *inspector.EventDetached, *inspector.EventTargetCrashed:
			b.lost.Store(true)
		}
	})

	// The first Run allocates the browser and must use the tab context
	// itself, otherwise the browser dies with the derived context.
	var actions []chromedp.Action
	if dev, ok := Device(o.Device); ok {
		actions = append(actions, chromedp.Emulate(dev))
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		b.cancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	o.Logger.Info("Browser launched",
		zap.Bool("headless", o.Headless),
		zap.String("device", o.Device),
		zap.Bool("remote", o.RemoteURL != ""),
	)
	return b, nil
}

// run executes actions on the tab, bounded by ctx.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	if b.lost.Load() || b.ctx.Err() != nil {
		return driver.ErrSessionLost
	}
	rctx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return b.classify(ctx, chromedp.Run(rctx, actions...))
}

func (b *Browser) classify(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, driver.ErrSessionLost), errors.Is(err, driver.ErrStaleElement):
		return err
	case b.lost.Load() || b.ctx.Err() != nil,
		errors.Is(err, chromedp.ErrInvalidContext),
		errors.Is(err, chromedp.ErrInvalidTarget),
		errors.Is(err, chromedp.ErrChannelClosed):
		b.lost.Store(true)
		return fmt.Errorf("%w: %v", driver.ErrSessionLost, err)
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return err
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, chromedp.Navigate(url))
}

func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := b.run(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// FindElement polls until s matches an element satisfying cond.
func (b *Browser) FindElement(ctx context.Context, s driver.Strategy, cond driver.Condition) (driver.Element, error) {
	for {
		els, err := b.findAll(ctx, s)
		if err != nil && ctx.Err() == nil {
			return nil, err
		}
		for _, el := range els {
			if cond == driver.Present {
				return el, nil
			}
			ok, err := el.clickable(ctx)
			if errors.Is(err, driver.ErrSessionLost) {
				return nil, err
			}
			if ok {
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
	els, err := b.findAll(ctx, s)
	if err != nil {
		return nil, err
	}
	out := make([]driver.Element, len(els))
	for i, el := range els {
		out[i] = el
	}
	return out, nil
}

func (b *Browser) findAll(ctx context.Context, s driver.Strategy) ([]*element, error) {
	sel, opt := query(s)
	var nodes []*cdp.Node
	if err := b.run(ctx, chromedp.Nodes(sel, &nodes, opt, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	els := make([]*element, 0, len(nodes))
	for _, n := range nodes {
		els = append(els, &element{b: b, id: n.BackendNodeID, tag: n.LocalName})
	}
	return els, nil
}

// query renders s for chromedp. XPath goes through DOM search.
func query(s driver.Strategy) (string, chromedp.QueryOption) {
	if css, ok := s.CSS(); ok {
		return css, chromedp.ByQueryAll
	}
	return s.XPath(), chromedp.BySearch
}

// ExecuteScript evaluates script and returns its JSON value. An undefined
// result is returned as nil.
func (b *Browser) ExecuteScript(ctx context.Context, script string) (any, error) {
	var raw json.RawMessage
	err := b.run(ctx, chromedp.Evaluate(expression(script), &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode script result: %w", err)
	}
	return v, nil
}

func expression(script string) string {
	body := strings.TrimRight(strings.TrimSpace(script), "; \n\t")
	return "(function() { const v = (" + body + "\n); return v === undefined ? null : v; })()"
}

// InstallScript registers source to run in every new document.
func (b *Browser) InstallScript(ctx context.Context, source string) error {
	return b.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(source).Do(c)
		return err
	}))
}

// Quit closes the tab and, for launched browsers, the browser process.
func (b *Browser) Quit() error {
	var err error
	b.quit.Do(func() {
		if !b.lost.Load() && b.ctx.Err() == nil {
			err = chromedp.Cancel(b.ctx)
		}
		b.lost.Store(true)
		b.cancel()
		b.logger.Info("Browser closed")
	})
	return err
}
