// Package workflow is the job application workflow: sign in, search,
// filter for Easy Apply listings and apply to each one.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"applyflow/internal/locator"
	"applyflow/internal/pipeline"
)

const (
	DefaultBaseURL  = "https://www.linkedin.com"
	DefaultKeywords = "Desenvolvedor"
)

// Credentials are the account identifier and secret. Neither is ever
// rendered by fmt, zap or encoding/json.
type Credentials struct {
	Account string
	Secret  string
}

func (c Credentials) String() string {
	return "[redacted]"
}

func (c Credentials) GoString() string {
	return "workflow.Credentials{[redacted]}"
}

func (c Credentials) MarshalJSON() ([]byte, error) {
	return json.Marshal("[redacted]")
}

// Empty reports whether either secret is missing.
func (c Credentials) Empty() bool {
	return c.Account == "" || c.Secret == ""
}

// Config tunes the workflow.
type Config struct {
	BaseURL     string
	Keywords    string
	Credentials Credentials
	// StrategyTimeout bounds each strategy of a required element.
	StrategyTimeout time.Duration
	// ProbeTimeout bounds each strategy of an optional element.
	ProbeTimeout time.Duration
	// ActionInterval is the minimum spacing between page mutations.
	ActionInterval time.Duration
	// Settle is how long to let the page react after a mutation.
	Settle       time.Duration
	MaxPages     int
	MaxFormPages int
}

func (c *Config) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Keywords == "" {
		c.Keywords = DefaultKeywords
	}
	if c.StrategyTimeout <= 0 {
		c.StrategyTimeout = 10 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 1
	}
	if c.MaxFormPages <= 0 {
		c.MaxFormPages = 5
	}
}

// Workflow builds the pipeline steps.
type Workflow struct {
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config) (*Workflow, error) {
	cfg.setDefaults()
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	limit := rate.Inf
	if cfg.ActionInterval > 0 {
		limit = rate.Every(cfg.ActionInterval)
	}
	return &Workflow{cfg: cfg, limiter: rate.NewLimiter(limit, 1)}, nil
}

func (w *Workflow) HomeURL() string {
	return w.cfg.BaseURL + "/"
}

func (w *Workflow) JobsURL() string {
	return w.cfg.BaseURL + "/jobs/"
}

func (w *Workflow) SearchURL() string {
	return w.cfg.BaseURL + "/jobs/search/?keywords=" + url.QueryEscape(w.cfg.Keywords)
}

func (w *Workflow) EasyApplyURL() string {
	return w.SearchURL() + "&f_AL=true"
}

// Steps returns the pipeline steps in order.
func (w *Workflow) Steps() []pipeline.Step {
	return []pipeline.Step{
		{
			Name:   "Initialize browser",
			Action: skippable(w.openHome),
		},
		{
			Name:         "Sign in",
			Precondition: &pipeline.Precondition{Name: "home page", URL: w.HomeURL()},
			Action:       skippable(w.signIn),
		},
		{
			Name:         "Open jobs page",
			Precondition: &pipeline.Precondition{Name: "signed-in home page", URL: w.HomeURL()},
			Action:       skippable(w.openJobs),
		},
		{
			Name:         fmt.Sprintf("Search for %q", w.cfg.Keywords),
			Precondition: &pipeline.Precondition{Name: "jobs page", URL: w.JobsURL()},
			Action:       skippable(w.search),
		},
		{
			Name:         "Apply Easy Apply filter",
			Precondition: &pipeline.Precondition{Name: "search results", URL: w.SearchURL()},
			Action:       skippable(w.applyFilters),
		},
		{
			Name:         "Process job listings",
			Precondition: &pipeline.Precondition{Name: "listing page", URL: w.EasyApplyURL()},
			Action:       skippable(w.processListings),
		},
	}
}

func (w *Workflow) locator(run *pipeline.Run) *locator.Locator {
	return locator.New(w.cfg.StrategyTimeout,
		locator.WithLogger(run.Logger().Named("locator")),
		locator.WithSkip(run.SkipRequested),
	)
}

func (w *Workflow) probe(run *pipeline.Run) *locator.Locator {
	return w.locator(run).WithTimeout(w.cfg.ProbeTimeout)
}

// pace waits until the next page mutation is allowed.
func (w *Workflow) pace(ctx context.Context) error {
	return w.limiter.Wait(ctx)
}

func (w *Workflow) settle(ctx context.Context) error {
	if w.cfg.Settle <= 0 {
		return nil
	}
	t := time.NewTimer(w.cfg.Settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// fatal reports whether err must abort the step rather than be handled
// locally.
func fatal(err error) bool {
	return err != nil && !locator.Missed(err) && !errors.Is(err, errListing)
}
