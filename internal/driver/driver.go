// Package driver defines the capability set the workflow needs from a
// browser automation backend. Backends live under pkg/.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"applyflow/internal/selector"
)

var (
	// ErrStrategyTimeout is returned when a single query did not match
	// before its deadline.
	ErrStrategyTimeout = errors.New("strategy timed out")
	// ErrSessionLost is returned once the browser session is no longer
	// reachable. It is fatal for the run.
	ErrSessionLost = errors.New("browser session lost")
	// ErrNoSuchElement is returned by non-waiting lookups.
	ErrNoSuchElement = errors.New("no such element")
	// ErrStaleElement is returned when an element handle no longer refers
	// to a node in the live document.
	ErrStaleElement = errors.New("stale element")
)

// KeyEnter submits the focused field when sent with SendKeys.
const KeyEnter = "\r"

// QueryKind names how a Strategy searches the live interface.
type QueryKind string

const (
	QueryID    QueryKind = "id"
	QueryClass QueryKind = "class name"
	QueryCSS   QueryKind = "css selector"
	QueryXPath QueryKind = "xpath"
	QueryPath  QueryKind = "path"
)

// Strategy is a single way to search for an element. Timeout overrides the
// locator's per-strategy budget when non-zero.
type Strategy struct {
	Kind    QueryKind
	Value   string
	Timeout time.Duration
}

func (s Strategy) String() string {
	return fmt.Sprintf("%s=%q", s.Kind, s.Value)
}

// CSS renders strategies expressible as CSS. XPath strategies return ok=false.
func (s Strategy) CSS() (string, bool) {
	switch s.Kind {
	case QueryID:
		return "#" + cssEscape(s.Value), true
	case QueryClass:
		return "." + cssEscape(s.Value), true
	case QueryCSS:
		return s.Value, true
	}
	return "", false
}

// XPath renders the strategy as an XPath expression.
func (s Strategy) XPath() string {
	switch s.Kind {
	case QueryID:
		return fmt.Sprintf("//*[@id=%s]", xpathLiteral(s.Value))
	case QueryClass:
		return fmt.Sprintf("//*[contains(concat(' ', normalize-space(@class), ' '), %s)]", xpathLiteral(" "+s.Value+" "))
	case QueryPath:
		if strings.HasPrefix(s.Value, "BODY") {
			return "/HTML/" + s.Value
		}
	}
	return s.Value
}

// ByID matches the element whose id attribute equals id.
func ByID(id string) Strategy { return Strategy{Kind: QueryID, Value: id} }

// ByClass matches elements carrying the class name.
func ByClass(class string) Strategy { return Strategy{Kind: QueryClass, Value: class} }

// ByCSS matches a CSS selector.
func ByCSS(sel string) Strategy { return Strategy{Kind: QueryCSS, Value: sel} }

// ByXPath matches an XPath expression.
func ByXPath(expr string) Strategy { return Strategy{Kind: QueryXPath, Value: expr} }

// ByAttribute matches elements whose attribute equals value.
func ByAttribute(name, value string) Strategy {
	return Strategy{Kind: QueryCSS, Value: fmt.Sprintf("[%s=%q]", name, value)}
}

// ByPath matches a positional path produced by selector.Path. Paths are
// XPath expressions rooted at BODY or at an id() step.
func ByPath(path string) Strategy { return Strategy{Kind: QueryPath, Value: path} }

// WithTimeout returns a copy of s with its own timeout.
func (s Strategy) WithTimeout(d time.Duration) Strategy {
	s.Timeout = d
	return s
}

// Condition is what a waiting lookup requires of a match.
type Condition int

const (
	// Present requires the element to exist in the document.
	Present Condition = iota
	// Clickable requires the element to be visible and enabled.
	Clickable
)

func (c Condition) String() string {
	if c == Clickable {
		return "clickable"
	}
	return "present"
}

// Finder performs non-waiting lookups. Both Driver and Element satisfy it,
// the latter scoping the search to its subtree.
type Finder interface {
	FindElements(ctx context.Context, s Strategy) ([]Element, error)
}

// Driver is a single browser session. Every blocking call is bounded by ctx.
type Driver interface {
	Finder
	Navigate(ctx context.Context, url string) error
	// FindElement waits until s matches an element satisfying cond or ctx
	// expires, in which case it returns ErrStrategyTimeout.
	FindElement(ctx context.Context, s Strategy, cond Condition) (Element, error)
	// ExecuteScript evaluates a JavaScript expression in the page and
	// returns its JSON-decoded value.
	ExecuteScript(ctx context.Context, script string) (any, error)
	// CurrentURL doubles as the liveness probe: it fails with
	// ErrSessionLost when the session is gone.
	CurrentURL(ctx context.Context) (string, error)
	Quit() error
}

// Element is a handle to a node in the live document.
type Element interface {
	Finder
	Click(ctx context.Context) error
	// ScriptClick dispatches a click from page script, bypassing overlay
	// hit-testing.
	ScriptClick(ctx context.Context) error
	SendKeys(ctx context.Context, text string) error
	Clear(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	ScrollIntoView(ctx context.Context) error
}

// ScriptInstaller is implemented by drivers that can register a script to run
// on every new document before page scripts.
type ScriptInstaller interface {
	InstallScript(ctx context.Context, source string) error
}

// Describer is implemented by elements that can report their own stable
// descriptor.
type Describer interface {
	Describe(ctx context.Context) (selector.Descriptor, error)
}

func cssEscape(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-', r > 0x7f:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				fmt.Fprintf(&b, "\\%x ", r)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}
