// Package drivertest provides an in-memory driver.Driver for tests.
package drivertest

import (
	"context"
	"sync"

	"applyflow/internal/driver"
	"applyflow/internal/selector"
)

func key(s driver.Strategy) string {
	return string(s.Kind) + "|" + s.Value
}

// Driver is a programmable fake. Waiting lookups for strategies without a
// registered match block until their context expires, like a real backend.
type Driver struct {
	mu          sync.Mutex
	matches     map[string][]*Element
	errs        map[string]error
	calls       []driver.Strategy
	navigations []string
	url         string
	script      func(string) (any, error)
	onNavigate  func(string)
	dead        bool
	quits       int
}

var _ driver.Driver = (*Driver)(nil)

func New() *Driver {
	return &Driver{
		matches: make(map[string][]*Element),
		errs:    make(map[string]error),
	}
}

// Add registers elements matched by s.
func (d *Driver) Add(s driver.Strategy, els ...*Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, el := range els {
		el.attach(d)
	}
	d.matches[key(s)] = append(d.matches[key(s)], els...)
}

// Remove drops every match registered for s.
func (d *Driver) Remove(s driver.Strategy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.matches, key(s))
}

// FailWith makes lookups for s fail immediately with err.
func (d *Driver) FailWith(s driver.Strategy, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[key(s)] = err
}

// OnScript sets the ExecuteScript implementation.
func (d *Driver) OnScript(fn func(script string) (any, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = fn
}

// OnNavigate registers a hook run after every navigation.
func (d *Driver) OnNavigate(fn func(url string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onNavigate = fn
}

// SetURL changes the current URL without recording a navigation.
func (d *Driver) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

// Kill makes the session unreachable, as if the browser window was closed.
func (d *Driver) Kill() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dead = true
}

// Calls returns the strategies passed to FindElement, in order.
func (d *Driver) Calls() []driver.Strategy {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]driver.Strategy(nil), d.calls...)
}

// Navigations returns every URL passed to Navigate, in order.
func (d *Driver) Navigations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.navigations...)
}

// Quits returns how many times Quit was called.
func (d *Driver) Quits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quits
}

func (d *Driver) alive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.dead
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	if d.dead {
		d.mu.Unlock()
		return driver.ErrSessionLost
	}
	d.navigations = append(d.navigations, url)
	d.url = url
	hook := d.onNavigate
	d.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	return ctx.Err()
}

func (d *Driver) FindElement(ctx context.Context, s driver.Strategy, cond driver.Condition) (driver.Element, error) {
	d.mu.Lock()
	d.calls = append(d.calls, s)
	if d.dead {
		d.mu.Unlock()
		return nil, driver.ErrSessionLost
	}
	if err := d.errs[key(s)]; err != nil {
		d.mu.Unlock()
		return nil, err
	}
	for _, el := range d.matches[key(s)] {
		if cond == driver.Present || !el.Disabled {
			d.mu.Unlock()
			return el, nil
		}
	}
	d.mu.Unlock()

	<-ctx.Done()
	return nil, driver.ErrStrategyTimeout
}

func (d *Driver) FindElements(ctx context.Context, s driver.Strategy) ([]driver.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dead {
		return nil, driver.ErrSessionLost
	}
	if err := d.errs[key(s)]; err != nil {
		return nil, err
	}
	return toElements(d.matches[key(s)]), nil
}

func (d *Driver) ExecuteScript(ctx context.Context, script string) (any, error) {
	d.mu.Lock()
	fn, dead := d.script, d.dead
	d.mu.Unlock()
	if dead {
		return nil, driver.ErrSessionLost
	}
	if fn == nil {
		return nil, nil
	}
	return fn(script)
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dead {
		return "", driver.ErrSessionLost
	}
	return d.url, nil
}

func (d *Driver) Quit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quits++
	d.dead = true
	return nil
}

// Element is a fake node. Exported fields configure behavior; counters
// record interactions.
type Element struct {
	Name       string
	Label      string
	Descriptor selector.Descriptor
	Disabled   bool
	ClickErr   error
	// OnClick runs after a successful click.
	OnClick func()

	mu           sync.Mutex
	d            *Driver
	children     map[string][]*Element
	clicks       int
	scriptClicks int
	typed        []string
	cleared      int
}

var _ driver.Element = (*Element)(nil)

func NewElement(name string) *Element {
	return &Element{Name: name, Label: name}
}

func (e *Element) attach(d *Driver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.d = d
	for _, cs := range e.children {
		for _, c := range cs {
			c.attach(d)
		}
	}
}

// AddChild registers children matched by s when searching within e.
func (e *Element) AddChild(s driver.Strategy, els ...*Element) *Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.children == nil {
		e.children = make(map[string][]*Element)
	}
	for _, c := range els {
		if e.d != nil {
			c.attach(e.d)
		}
	}
	e.children[key(s)] = append(e.children[key(s)], els...)
	return e
}

func (e *Element) check() error {
	e.mu.Lock()
	d := e.d
	e.mu.Unlock()
	if d != nil && !d.alive() {
		return driver.ErrSessionLost
	}
	return nil
}

// Clicks returns the number of successful native clicks.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// ScriptClicks returns the number of script-dispatched clicks.
func (e *Element) ScriptClicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scriptClicks
}

// Typed returns every SendKeys payload in order.
func (e *Element) Typed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.typed...)
}

func (e *Element) Click(ctx context.Context) error {
	if err := e.check(); err != nil {
		return err
	}
	if e.ClickErr != nil {
		return e.ClickErr
	}
	e.mu.Lock()
	e.clicks++
	hook := e.OnClick
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (e *Element) ScriptClick(ctx context.Context) error {
	if err := e.check(); err != nil {
		return err
	}
	e.mu.Lock()
	e.scriptClicks++
	hook := e.OnClick
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (e *Element) SendKeys(ctx context.Context, text string) error {
	if err := e.check(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.typed = append(e.typed, text)
	return nil
}

func (e *Element) Clear(ctx context.Context) error {
	if err := e.check(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleared++
	return nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	if err := e.check(); err != nil {
		return "", err
	}
	return e.Label, nil
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	return e.check()
}

func (e *Element) FindElements(ctx context.Context, s driver.Strategy) ([]driver.Element, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return toElements(e.children[key(s)]), nil
}

func (e *Element) Describe(ctx context.Context) (selector.Descriptor, error) {
	if err := e.check(); err != nil {
		return selector.Descriptor{}, err
	}
	if e.Descriptor.Kind == "" {
		return selector.Descriptor{Kind: selector.KindPath, Value: e.Name}, nil
	}
	return e.Descriptor, nil
}

func toElements(els []*Element) []driver.Element {
	out := make([]driver.Element, len(els))
	for i, el := range els {
		out[i] = el
	}
	return out
}
