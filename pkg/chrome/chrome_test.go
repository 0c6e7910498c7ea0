package chrome

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"applyflow/internal/driver"
	"applyflow/internal/selector"
)

func TestQuery(t *testing.T) {
	sel, _ := query(driver.ByID("username"))
	assert.Equal(t, "#username", sel)

	sel, _ = query(driver.ByClass("jobs-apply-button"))
	assert.Equal(t, ".jobs-apply-button", sel)

	sel, _ = query(driver.ByXPath("//button[contains(., 'Mostrar')]"))
	assert.Equal(t, "//button[contains(., 'Mostrar')]", sel)

	sel, _ = query(driver.ByPath("BODY/DIV[1]"))
	assert.Equal(t, "/HTML/BODY/DIV[1]", sel)
}

func TestExpression(t *testing.T) {
	assert.Equal(t,
		"(function() { const v = ((window.x || [])\n); return v === undefined ? null : v; })()",
		expression("(window.x || [])"))
	assert.Equal(t,
		"(function() { const v = ((function() { init(); })()\n); return v === undefined ? null : v; })()",
		expression("(function() { init(); })();\n"))
}

func TestDevices(t *testing.T) {
	names := DeviceNames()
	assert.IsIncreasing(t, names)
	for _, name := range names {
		d, ok := Device(name)
		require.True(t, ok)
		assert.Equal(t, name, d.Name)
		assert.NotEmpty(t, d.UserAgent)
	}
	_, ok := Device("Nokia 3310")
	assert.False(t, ok)
}

func TestAllocatorOptions(t *testing.T) {
	plain := allocatorOptions(Options{})
	withAll := allocatorOptions(Options{ExecPath: "/bin/chrome", UserDataDir: t.TempDir(), Device: "Laptop"})
	assert.Len(t, withAll, len(plain)+4)
	assert.Greater(t, len(plain), len(chromedp.DefaultExecAllocatorOptions))
}

func TestLaunchRejectsUnknownDevice(t *testing.T) {
	_, err := Launch(context.Background(), Options{Device: "Nokia 3310"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown device")
}

// TestBrowser drives a real headless Chrome. Set APPLYFLOW_CHROME_TESTS=1 to
// run it.
func TestBrowser(t *testing.T) {
	if os.Getenv("APPLYFLOW_CHROME_TESTS") == "" || ExecPath() == "" {
		t.Skip("set APPLYFLOW_CHROME_TESTS=1 with Chrome installed")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>
<ul class="jobs"><li class="card"><a href="#a">A</a></li><li class="card"><a href="#b">B</a></li></ul>
<input id="q" type="text">
<button id="go" disabled>Go</button>
<button class="artdeco-button" onclick="document.title='clicked'">Apply</button>
</body></html>`))
	}))
	defer srv.Close()

	b, err := Launch(context.Background(), Options{Headless: true, Logger: zaptest.NewLogger(t), Resolver: selector.NewResolver()})
	require.NoError(t, err)
	defer b.Quit()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, b.Navigate(ctx, srv.URL))

	u, err := b.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Contains(t, u, srv.URL)

	list, err := b.FindElement(ctx, driver.ByClass("jobs"), driver.Present)
	require.NoError(t, err)
	cards, err := list.FindElements(ctx, driver.ByXPath(".//li"))
	require.NoError(t, err)
	assert.Len(t, cards, 2)
	links, err := cards[1].FindElements(ctx, driver.ByCSS("a"))
	require.NoError(t, err)
	require.Len(t, links, 1)
	text, err := links[0].Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B", text)

	short, cancelShort := context.WithTimeout(ctx, 300*time.Millisecond)
	_, err = b.FindElement(short, driver.ByID("go"), driver.Clickable)
	cancelShort()
	assert.ErrorIs(t, err, driver.ErrStrategyTimeout)

	q, err := b.FindElement(ctx, driver.ByID("q"), driver.Present)
	require.NoError(t, err)
	require.NoError(t, q.SendKeys(ctx, "golang"))
	v, err := b.ExecuteScript(ctx, "document.getElementById('q').value")
	require.NoError(t, err)
	assert.Equal(t, "golang", v)

	btn, err := b.FindElement(ctx, driver.ByClass("artdeco-button"), driver.Clickable)
	require.NoError(t, err)
	require.NoError(t, btn.Click(ctx))
	v, err = b.ExecuteScript(ctx, "document.title")
	require.NoError(t, err)
	assert.Equal(t, "clicked", v)

	desc, err := btn.(driver.Describer).Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, selector.Descriptor{Kind: selector.KindClass, Value: "artdeco-button"}, desc)

	v, err = b.ExecuteScript(ctx, "undefined")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, b.Quit())
	_, err = b.CurrentURL(ctx)
	assert.ErrorIs(t, err, driver.ErrSessionLost)
}
