// Package locator resolves logical targets to live elements by trying an
// ordered chain of strategies, each under its own timeout.
package locator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"applyflow/internal/driver"
)

var (
	// ErrChainExhausted means no strategy in the chain matched. Callers
	// decide whether that is fatal or local to the current item.
	ErrChainExhausted = errors.New("locator chain exhausted")
	ErrEmptyChain     = errors.New("locator chain is empty")
	// ErrSkipped means the operator asked to skip the current action while
	// the chain was being tried. It is not a failure.
	ErrSkipped = errors.New("lookup abandoned on skip request")
)

// DefaultTimeout is the per-strategy budget used when none is configured.
const DefaultTimeout = 10 * time.Second

// Chain is an ordered list of strategies for one logical target, most
// specific first.
type Chain struct {
	Name       string
	Strategies []driver.Strategy
}

// NewChain builds a chain, rejecting an empty strategy list.
func NewChain(name string, strategies ...driver.Strategy) (Chain, error) {
	if len(strategies) == 0 {
		return Chain{}, fmt.Errorf("chain %q: %w", name, ErrEmptyChain)
	}
	return Chain{Name: name, Strategies: strategies}, nil
}

// MustChain is NewChain for package-level chain tables.
func MustChain(name string, strategies ...driver.Strategy) Chain {
	c, err := NewChain(name, strategies...)
	if err != nil {
		panic(err)
	}
	return c
}

// Match is a successful lookup.
type Match struct {
	Element  driver.Element
	Strategy driver.Strategy
	// Attempts counts strategies tried, including the one that matched.
	Attempts int
}

// Locator tries chains against a driver.
type Locator struct {
	timeout time.Duration
	logger  *zap.Logger
	skip    func() bool
}

type Option func(*Locator)

func WithLogger(logger *zap.Logger) Option {
	return func(l *Locator) { l.logger = logger }
}

// WithSkip installs a probe consulted before every strategy. When it returns
// true the remaining strategies are abandoned with ErrSkipped.
func WithSkip(probe func() bool) Option {
	return func(l *Locator) { l.skip = probe }
}

func New(timeout time.Duration, opts ...Option) *Locator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	l := &Locator{timeout: timeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Timeout returns the default per-strategy budget.
func (l *Locator) Timeout() time.Duration {
	return l.timeout
}

// WithTimeout returns a copy of l using a different per-strategy budget.
func (l *Locator) WithTimeout(timeout time.Duration) *Locator {
	cp := *l
	if timeout > 0 {
		cp.timeout = timeout
	}
	return &cp
}

// Locate tries each strategy in order until one yields an element meeting
// cond. A miss costs the strategy's full timeout, so an exhausted chain
// returns after roughly the sum of its timeouts. ErrSessionLost aborts the
// chain immediately.
func (l *Locator) Locate(ctx context.Context, d driver.Driver, chain Chain, cond driver.Condition) (Match, error) {
	if len(chain.Strategies) == 0 {
		return Match{}, fmt.Errorf("chain %q: %w", chain.Name, ErrEmptyChain)
	}

	log := l.logger.With(zap.String("chain", chain.Name), zap.Stringer("condition", cond))
	attempts := 0
	for _, s := range chain.Strategies {
		if l.skip != nil && l.skip() {
			log.Info("Skip requested, abandoning lookup", zap.Int("attempts", attempts))
			return Match{Attempts: attempts}, fmt.Errorf("chain %q: %w", chain.Name, ErrSkipped)
		}
		if err := ctx.Err(); err != nil {
			return Match{Attempts: attempts}, err
		}

		timeout := s.Timeout
		if timeout <= 0 {
			timeout = l.timeout
		}
		sctx, cancel := context.WithTimeout(ctx, timeout)
		el, err := d.FindElement(sctx, s, cond)
		cancel()
		attempts++

		if err == nil {
			log.Debug("Strategy matched", zap.Stringer("strategy", s), zap.Int("attempts", attempts))
			return Match{Element: el, Strategy: s, Attempts: attempts}, nil
		}
		if errors.Is(err, driver.ErrSessionLost) {
			return Match{Attempts: attempts}, err
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = driver.ErrStrategyTimeout
		}
		log.Debug("Strategy failed, trying next", zap.Stringer("strategy", s), zap.Duration("timeout", timeout), zap.Error(err))
	}

	return Match{Attempts: attempts}, fmt.Errorf("chain %q: %w", chain.Name, ErrChainExhausted)
}

// LocateAll returns the matches of the first strategy that finds at least one
// element inside scope. Lookups do not wait.
func (l *Locator) LocateAll(ctx context.Context, scope driver.Finder, chain Chain) ([]driver.Element, error) {
	if len(chain.Strategies) == 0 {
		return nil, fmt.Errorf("chain %q: %w", chain.Name, ErrEmptyChain)
	}

	log := l.logger.With(zap.String("chain", chain.Name))
	for _, s := range chain.Strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		els, err := scope.FindElements(ctx, s)
		if errors.Is(err, driver.ErrSessionLost) {
			return nil, err
		}
		if err != nil {
			log.Debug("Strategy failed, trying next", zap.Stringer("strategy", s), zap.Error(err))
			continue
		}
		if len(els) > 0 {
			log.Debug("Strategy matched", zap.Stringer("strategy", s), zap.Int("count", len(els)))
			return els, nil
		}
	}
	return nil, fmt.Errorf("chain %q: %w", chain.Name, ErrChainExhausted)
}

// Missed reports whether err means the target was not found or the lookup
// was skipped, both of which callers branch on rather than propagate.
func Missed(err error) bool {
	return errors.Is(err, ErrChainExhausted) || errors.Is(err, ErrSkipped)
}
