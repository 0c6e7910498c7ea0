package driver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"applyflow/internal/driver"
	"applyflow/internal/driver/drivertest"
)

func TestHandleInvalidatedAfterQuit(t *testing.T) {
	ctx := context.Background()
	fake := drivertest.New()
	btn := drivertest.NewElement("btn")
	fake.Add(driver.ByID("q"), btn)

	h := driver.NewHandle(fake)
	el, err := h.FindElement(ctx, driver.ByID("q"), driver.Present)
	require.NoError(t, err)
	require.NoError(t, el.Click(ctx))

	require.NoError(t, h.Quit())
	require.NoError(t, h.Quit())
	assert.Equal(t, 1, fake.Quits())
	assert.False(t, h.Valid())

	_, err = h.CurrentURL(ctx)
	assert.ErrorIs(t, err, driver.ErrSessionLost)
	assert.ErrorIs(t, h.Navigate(ctx, "https://example.com"), driver.ErrSessionLost)
	_, err = h.FindElements(ctx, driver.ByID("q"))
	assert.ErrorIs(t, err, driver.ErrSessionLost)
	assert.ErrorIs(t, el.Click(ctx), driver.ErrSessionLost)
	assert.Equal(t, 1, btn.Clicks())
}

func TestHandleInstallScriptUnsupported(t *testing.T) {
	h := driver.NewHandle(drivertest.New())
	err := h.InstallScript(context.Background(), "1")
	assert.ErrorIs(t, err, driver.ErrUnsupported)
}

func TestStrategyRendering(t *testing.T) {
	css, ok := driver.ByID("main").CSS()
	assert.True(t, ok)
	assert.Equal(t, "#main", css)

	css, ok = driver.ByID("1st").CSS()
	assert.True(t, ok)
	assert.Equal(t, `#\31 st`, css)

	_, ok = driver.ByXPath("//a").CSS()
	assert.False(t, ok)

	assert.Equal(t, `[data-testid="q"]`, driver.ByAttribute("data-testid", "q").Value)
	assert.Equal(t, "//*[@id='q']", driver.ByID("q").XPath())
	assert.Equal(t,
		"//*[contains(concat(' ', normalize-space(@class), ' '), ' job-card ')]",
		driver.ByClass("job-card").XPath())
	assert.Equal(t, "/HTML/BODY/DIV[2]/A[1]", driver.ByPath("BODY/DIV[2]/A[1]").XPath())
	assert.Equal(t, `id("main")/A[1]`, driver.ByPath(`id("main")/A[1]`).XPath())
}
