package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"applyflow/internal/control"
	"applyflow/internal/driver"
	"applyflow/internal/driver/drivertest"
	"applyflow/internal/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	base   = "https://jobs.example.com"
	secret = "hunter2-very-secret"
)

type site struct {
	d        *drivertest.Driver
	signIn   *drivertest.Element
	username *drivertest.Element
	password *drivertest.Element
	login    *drivertest.Element
	search   *drivertest.Element
	list     *drivertest.Element
	cards    []*drivertest.Element
	apply    *drivertest.Element
	submit   *drivertest.Element
}

func newSite(cards int) *site {
	s := &site{
		d:        drivertest.New(),
		signIn:   drivertest.NewElement("sign in"),
		username: drivertest.NewElement("username"),
		password: drivertest.NewElement("password"),
		login:    drivertest.NewElement("login"),
		search:   drivertest.NewElement("search"),
		list:     drivertest.NewElement("list"),
		apply:    drivertest.NewElement("apply"),
		submit:   drivertest.NewElement("submit"),
	}
	s.d.SetURL("about:blank")
	s.login.OnClick = func() { s.d.SetURL(base + "/feed/") }
	for i := 0; i < cards; i++ {
		s.cards = append(s.cards, drivertest.NewElement(fmt.Sprintf("card %d", i)))
	}
	s.list.AddChild(jobCards.Strategies[0], s.cards...)

	s.d.Add(signInButton.Strategies[0], s.signIn)
	s.d.Add(usernameField.Strategies[0], s.username)
	s.d.Add(passwordField.Strategies[0], s.password)
	s.d.Add(loginSubmit.Strategies[0], s.login)
	s.d.Add(searchBox.Strategies[0], s.search)
	s.d.Add(filtersButton.Strategies[0], drivertest.NewElement("filters"))
	s.d.Add(easyApplyToggle.Strategies[0], drivertest.NewElement("easy apply"))
	s.d.Add(showResultsButton.Strategies[0], drivertest.NewElement("show results"))
	s.d.Add(jobList.Strategies[0], s.list)
	s.d.Add(applyButton.Strategies[0], s.apply)
	s.d.Add(submitApplication.Strategies[0], s.submit)
	return s
}

func testConfig() Config {
	return Config{
		BaseURL:         base,
		Keywords:        "Go Developer",
		Credentials:     Credentials{Account: "me@example.com", Secret: secret},
		StrategyTimeout: 20 * time.Millisecond,
		ProbeTimeout:    5 * time.Millisecond,
	}
}

type runner struct {
	p  *pipeline.Pipeline
	ch *control.Channel
}

func start(t *testing.T, s *site, cfg Config, limit int) *runner {
	t.Helper()
	w, err := New(cfg)
	require.NoError(t, err)
	steps := w.Steps()
	if limit > 0 {
		steps = steps[:limit]
	}

	var once sync.Once
	open := func(ctx context.Context) (driver.Driver, error) {
		opened := false
		once.Do(func() { opened = true })
		if !opened {
			return nil, errors.New("only one browser in this test")
		}
		return s.d, nil
	}
	ch := control.New()
	p, err := pipeline.New(steps, open, ch, pipeline.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &runner{p: p, ch: ch}
}

func (r *runner) waitFor(t *testing.T, s pipeline.Status) {
	t.Helper()
	require.Eventually(t, func() bool { return r.p.Status() == s }, 5*time.Second, time.Millisecond,
		"want %s, have %s (%s)", s, r.p.Status(), r.p.Snapshot().Error)
}

func (r *runner) logged(substr string) bool {
	for _, m := range r.ch.History() {
		if strings.Contains(m.Text, substr) {
			return true
		}
	}
	return false
}

func TestFullRunAppliesToEveryListing(t *testing.T) {
	s := newSite(2)
	r := start(t, s, testConfig(), 0)

	require.NoError(t, r.ch.Start(0))
	r.waitFor(t, pipeline.StatusFinished)

	assert.Equal(t, []string{base + "/", base + "/jobs/"}, s.d.Navigations())
	assert.Equal(t, 1, s.signIn.Clicks())
	assert.Equal(t, []string{"me@example.com"}, s.username.Typed())
	assert.Equal(t, []string{secret}, s.password.Typed())
	assert.Equal(t, []string{"Go Developer", driver.KeyEnter}, s.search.Typed())
	assert.Equal(t, 2, s.apply.Clicks())
	assert.Equal(t, 2, s.submit.Clicks())
	for _, c := range s.cards {
		assert.Equal(t, 1, c.Clicks())
	}
	assert.True(t, r.logged("Application submitted"))

	for _, m := range r.ch.History() {
		assert.NotContains(t, m.Text, secret)
	}
}

func TestListingFailuresAreLoggedAndSkipped(t *testing.T) {
	s := newSite(2)
	s.d.Remove(submitApplication.Strategies[0])
	r := start(t, s, testConfig(), 0)

	ordinal, err := OrdinalFor(5)
	require.NoError(t, err)
	require.NoError(t, r.ch.Start(ordinal))
	r.waitFor(t, pipeline.StatusFinished)

	w, _ := New(testConfig())
	assert.Equal(t, []string{w.EasyApplyURL()}, s.d.Navigations())
	assert.Equal(t, 2, s.apply.Clicks())
	assert.True(t, r.logged("Could not apply to listing 1"))
	assert.True(t, r.logged("Could not apply to listing 2"))
}

func TestCardClickFallbacks(t *testing.T) {
	s := newSite(2)
	link := drivertest.NewElement("link")
	s.cards[0].ClickErr = errors.New("element click intercepted")
	s.cards[0].AddChild(cardLink.Strategies[0], link)
	s.cards[1].ClickErr = errors.New("element click intercepted")
	r := start(t, s, testConfig(), 0)

	require.NoError(t, r.ch.Start(5))
	r.waitFor(t, pipeline.StatusFinished)

	assert.Equal(t, 1, link.Clicks())
	assert.Equal(t, 0, s.cards[0].ScriptClicks())
	assert.Equal(t, 1, s.cards[1].ScriptClicks())
	assert.Equal(t, 2, s.submit.Clicks())
}

func TestPaginationIsBounded(t *testing.T) {
	s := newSite(2)
	next := drivertest.NewElement("next page")
	s.d.Add(nextResultsPage.Strategies[0], next)
	cfg := testConfig()
	cfg.MaxPages = 2
	r := start(t, s, cfg, 0)

	require.NoError(t, r.ch.Start(5))
	r.waitFor(t, pipeline.StatusFinished)

	assert.Equal(t, 1, next.Clicks())
	assert.Equal(t, 4, s.apply.Clicks())
}

func TestVerificationChallengePausesForOperator(t *testing.T) {
	s := newSite(0)
	s.login.OnClick = func() { s.d.SetURL(base + "/checkpoint/challenge/abc") }
	r := start(t, s, testConfig(), 2)

	require.NoError(t, r.ch.Start(1))
	r.waitFor(t, pipeline.StatusPaused)
	assert.True(t, r.logged("Verification challenge"))

	s.d.SetURL(base + "/feed/")
	require.NoError(t, r.ch.Resume())
	r.waitFor(t, pipeline.StatusFinished)

	assert.Equal(t, []string{"me@example.com"}, s.username.Typed())
	assert.True(t, r.logged("Signed in"))
}

func TestSignInRequiresCredentials(t *testing.T) {
	s := newSite(0)
	cfg := testConfig()
	cfg.Credentials = Credentials{}
	r := start(t, s, cfg, 2)

	require.NoError(t, r.ch.Start(0))
	r.waitFor(t, pipeline.StatusFailed)
	assert.Contains(t, r.p.Snapshot().Error, "credentials")
	assert.Empty(t, s.username.Typed())
}

func TestFilterPanelFallsBackToURL(t *testing.T) {
	s := newSite(0)
	s.d.Remove(filtersButton.Strategies[0])
	r := start(t, s, testConfig(), 5)

	require.NoError(t, r.ch.Start(4))
	r.waitFor(t, pipeline.StatusFinished)

	w, _ := New(testConfig())
	assert.Equal(t, []string{w.SearchURL(), w.EasyApplyURL()}, s.d.Navigations())
	assert.True(t, r.logged("Filter panel unavailable"))
}

func TestSearchBoxMissingFails(t *testing.T) {
	s := newSite(0)
	s.d.Remove(searchBox.Strategies[0])
	r := start(t, s, testConfig(), 4)

	require.NoError(t, r.ch.Start(3))
	r.waitFor(t, pipeline.StatusFailed)
	assert.Contains(t, r.p.Snapshot().Error, "job search box")
}

func TestEntryPoints(t *testing.T) {
	entries := EntryPoints()
	require.Len(t, entries, 11)
	for i, e := range entries {
		assert.Equal(t, i, e.Index)
		if i < 5 {
			assert.Equal(t, i, e.Ordinal)
		} else {
			assert.Equal(t, 5, e.Ordinal, e.Name)
		}
	}

	ordinal, err := OrdinalFor(10)
	require.NoError(t, err)
	assert.Equal(t, 5, ordinal)
	_, err = OrdinalFor(11)
	assert.Error(t, err)
	_, err = OrdinalFor(-1)
	assert.Error(t, err)
}

func TestURLs(t *testing.T) {
	w, err := New(Config{BaseURL: base + "/", Keywords: "Go Developer"})
	require.NoError(t, err)
	assert.Equal(t, base+"/jobs/search/?keywords=Go+Developer&f_AL=true", w.EasyApplyURL())
	assert.Len(t, w.Steps(), 6)

	_, err = New(Config{BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestCredentialsNeverRender(t *testing.T) {
	c := Credentials{Account: "me@example.com", Secret: secret}
	cfg := Config{Credentials: c}
	for _, s := range []string{
		fmt.Sprintf("%v", c), fmt.Sprintf("%+v", c), fmt.Sprintf("%#v", c), fmt.Sprintf("%+v", cfg),
	} {
		assert.NotContains(t, s, secret)
		assert.NotContains(t, s, "me@example.com")
	}
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(b), secret)
}
