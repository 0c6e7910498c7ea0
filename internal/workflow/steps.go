package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"applyflow/internal/driver"
	"applyflow/internal/locator"
	"applyflow/internal/pipeline"
)

// errListing marks a failure confined to one listing.
var errListing = errors.New("listing not applied")

// skippable ends a step normally when the operator skipped its action.
func skippable(action pipeline.Action) pipeline.Action {
	return func(ctx context.Context, run *pipeline.Run) error {
		err := action(ctx, run)
		if errors.Is(err, locator.ErrSkipped) {
			run.Logger().Info("Action skipped, moving to the next step")
			return nil
		}
		return err
	}
}

func (w *Workflow) openHome(ctx context.Context, run *pipeline.Run) error {
	if err := run.Session().Navigate(ctx, w.HomeURL()); err != nil {
		return fmt.Errorf("open home page: %w", err)
	}
	run.Logger().Info("Browser ready", zap.String("url", w.HomeURL()))
	return w.settle(ctx)
}

func (w *Workflow) signIn(ctx context.Context, run *pipeline.Run) error {
	d := run.Session()
	log := run.Logger()

	if signedIn, err := w.checkSignIn(ctx, run); err != nil || signedIn {
		return err
	}
	if w.cfg.Credentials.Empty() {
		return errors.New("sign in: account credentials are not configured")
	}

	loc := w.locator(run)
	if m, err := w.probe(run).Locate(ctx, d, signInButton, driver.Clickable); err == nil {
		if err := w.click(ctx, m.Element); err != nil {
			return fmt.Errorf("open sign-in form: %w", err)
		}
		if err := w.settle(ctx); err != nil {
			return err
		}
	} else if fatal(err) {
		return err
	} else {
		log.Debug("No sign-in button, assuming the login form is already shown")
	}

	if err := w.fill(ctx, loc, d, usernameField, w.cfg.Credentials.Account); err != nil {
		return err
	}
	if err := w.fill(ctx, loc, d, passwordField, w.cfg.Credentials.Secret); err != nil {
		return err
	}
	m, err := loc.Locate(ctx, d, loginSubmit, driver.Clickable)
	if err != nil {
		return err
	}
	if err := w.click(ctx, m.Element); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}
	if err := w.settle(ctx); err != nil {
		return err
	}

	if signedIn, err := w.checkSignIn(ctx, run); err != nil || signedIn {
		return err
	}
	log.Info("Login submitted")
	return nil
}

// checkSignIn reports whether the session is already signed in. On a
// verification challenge it pauses the run so the operator can solve it.
func (w *Workflow) checkSignIn(ctx context.Context, run *pipeline.Run) (bool, error) {
	current, err := run.Session().CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	switch {
	case strings.Contains(current, "/checkpoint/"):
		run.Logger().Warn("Verification challenge detected, solve it in the browser and resume")
		run.Pause()
		return false, pipeline.ErrInterrupted
	case strings.Contains(current, "/feed"):
		run.Logger().Info("Signed in")
		return true, nil
	}
	return false, nil
}

func (w *Workflow) openJobs(ctx context.Context, run *pipeline.Run) error {
	if err := run.Session().Navigate(ctx, w.JobsURL()); err != nil {
		return fmt.Errorf("open jobs page: %w", err)
	}
	run.Logger().Info("Jobs page opened")
	return w.settle(ctx)
}

func (w *Workflow) search(ctx context.Context, run *pipeline.Run) error {
	d := run.Session()
	m, err := w.locator(run).Locate(ctx, d, searchBox, driver.Present)
	if err != nil {
		return err
	}
	box := m.Element
	if err := w.pace(ctx); err != nil {
		return err
	}
	if err := box.Clear(ctx); err != nil {
		return fmt.Errorf("clear search box: %w", err)
	}
	if err := box.SendKeys(ctx, w.cfg.Keywords); err != nil {
		return fmt.Errorf("type keywords: %w", err)
	}
	if err := box.SendKeys(ctx, driver.KeyEnter); err != nil {
		return fmt.Errorf("submit search: %w", err)
	}
	run.Logger().Info("Search submitted", zap.String("keywords", w.cfg.Keywords))
	return w.settle(ctx)
}

// applyFilters turns on the Easy Apply filter through the filter panel. If
// the panel cannot be driven it falls back to the filtered results URL.
func (w *Workflow) applyFilters(ctx context.Context, run *pipeline.Run) error {
	d := run.Session()
	loc := w.locator(run)

	for _, chain := range []locator.Chain{filtersButton, easyApplyToggle, showResultsButton} {
		m, err := loc.Locate(ctx, d, chain, driver.Clickable)
		if err == nil {
			err = w.click(ctx, m.Element)
		}
		if errors.Is(err, driver.ErrSessionLost) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err == nil {
			if err := w.settle(ctx); err != nil {
				return err
			}
			continue
		}

		run.Logger().Warn("Filter panel unavailable, opening filtered results directly",
			zap.String("chain", chain.Name), zap.Error(err))
		if err := d.Navigate(ctx, w.EasyApplyURL()); err != nil {
			return fmt.Errorf("open filtered results: %w", err)
		}
		return w.settle(ctx)
	}
	run.Logger().Info("Easy Apply filter applied")
	return nil
}

// processListings applies to every listing on up to MaxPages result pages.
// A failed listing is logged and the loop moves on. The loop stops at a
// checkpoint before each listing when a pause is pending.
func (w *Workflow) processListings(ctx context.Context, run *pipeline.Run) error {
	d := run.Session()
	log := run.Logger()
	loc := w.locator(run)
	cursor := run.Cursor()

	for page := cursor.Page; page < w.cfg.MaxPages; page++ {
		m, err := loc.Locate(ctx, d, jobList, driver.Present)
		if err != nil {
			return err
		}
		cards, err := loc.LocateAll(ctx, m.Element, jobCards)
		if fatal(err) {
			return err
		}
		log.Info(fmt.Sprintf("Found %d listings on page %d", len(cards), page+1))

		start := 0
		if page == cursor.Page {
			start = cursor.Item
		}
		for i := start; i < len(cards); i++ {
			if err := run.Checkpoint(); err != nil {
				run.SetCursor(pipeline.Cursor{Page: page, Item: i})
				return err
			}
			run.Status(fmt.Sprintf("Listing %d/%d on page %d", i+1, len(cards), page+1))
			if err := w.processListing(ctx, run, cards[i]); err != nil {
				if errors.Is(err, driver.ErrSessionLost) || ctx.Err() != nil {
					return err
				}
				log.Warn(fmt.Sprintf("Could not apply to listing %d", i+1), zap.Error(err))
			}
		}

		if page+1 >= w.cfg.MaxPages {
			break
		}
		if err := run.Checkpoint(); err != nil {
			run.SetCursor(pipeline.Cursor{Page: page + 1})
			return err
		}
		next, err := w.probe(run).Locate(ctx, d, nextResultsPage, driver.Clickable)
		if fatal(err) {
			return err
		}
		if err != nil {
			log.Info("No further result pages")
			break
		}
		if err := w.click(ctx, next.Element); err != nil {
			return fmt.Errorf("open result page %d: %w", page+2, err)
		}
		if err := w.settle(ctx); err != nil {
			return err
		}
	}
	log.Info("Finished processing listings")
	return nil
}

func (w *Workflow) processListing(ctx context.Context, run *pipeline.Run, card driver.Element) error {
	d := run.Session()
	if err := card.ScrollIntoView(ctx); err != nil {
		run.Logger().Debug("Scroll into view failed", zap.Error(err))
	}
	if err := w.openCard(ctx, run, card); err != nil {
		return err
	}
	if err := w.settle(ctx); err != nil {
		return err
	}

	m, err := w.probe(run).Locate(ctx, d, applyButton, driver.Clickable)
	switch {
	case errors.Is(err, locator.ErrSkipped):
		run.Logger().Info("Listing skipped")
		return nil
	case errors.Is(err, locator.ErrChainExhausted):
		run.Logger().Info("No Easy Apply button on this listing")
		return nil
	case err != nil:
		return err
	}
	if err := w.click(ctx, m.Element); err != nil {
		return fmt.Errorf("%w: open application: %w", errListing, err)
	}
	run.Logger().Debug("Application opened", zap.String("button", describe(ctx, m.Element)))
	if err := w.settle(ctx); err != nil {
		return err
	}
	return w.completeApplication(ctx, run)
}

// openCard clicks a card, falling back to its first link and then to a
// script-dispatched click when something overlays it.
func (w *Workflow) openCard(ctx context.Context, run *pipeline.Run, card driver.Element) error {
	err := w.click(ctx, card)
	if err == nil || errors.Is(err, driver.ErrSessionLost) {
		return err
	}
	run.Logger().Debug("Card click failed, trying its link", zap.Error(err))

	if links, lerr := w.locator(run).LocateAll(ctx, card, cardLink); lerr == nil {
		if err = w.click(ctx, links[0]); err == nil {
			return nil
		}
	}
	if err := card.ScriptClick(ctx); err != nil {
		return fmt.Errorf("%w: open listing: %w", errListing, err)
	}
	return nil
}

// completeApplication walks the Easy Apply dialog page by page until it can
// submit, the operator skips, or the form needs input it cannot provide.
func (w *Workflow) completeApplication(ctx context.Context, run *pipeline.Run) error {
	d := run.Session()
	probe := w.probe(run)

	for page := 0; page < w.cfg.MaxFormPages; page++ {
		m, err := probe.Locate(ctx, d, submitApplication, driver.Clickable)
		if err == nil {
			if err := w.click(ctx, m.Element); err != nil {
				return fmt.Errorf("%w: submit: %w", errListing, err)
			}
			run.Logger().Info("Application submitted")
			if err := w.settle(ctx); err != nil {
				return err
			}
			w.dismiss(ctx, run, false)
			return nil
		}
		if skipped, err := w.handleMiss(ctx, run, err); skipped || err != nil {
			return err
		}

		m, err = probe.Locate(ctx, d, nextFormPage, driver.Clickable)
		if err != nil {
			if skipped, err := w.handleMiss(ctx, run, err); skipped || err != nil {
				return err
			}
			w.dismiss(ctx, run, true)
			return fmt.Errorf("%w: form needs manual input", errListing)
		}
		if err := w.click(ctx, m.Element); err != nil {
			return fmt.Errorf("%w: next form page: %w", errListing, err)
		}
		if err := w.settle(ctx); err != nil {
			return err
		}
	}
	w.dismiss(ctx, run, true)
	return fmt.Errorf("%w: form longer than %d pages", errListing, w.cfg.MaxFormPages)
}

// handleMiss classifies a failed lookup inside the application dialog. A
// skip abandons the application without failing the listing.
func (w *Workflow) handleMiss(ctx context.Context, run *pipeline.Run, err error) (bool, error) {
	if errors.Is(err, locator.ErrSkipped) {
		run.Logger().Info("Application skipped")
		w.dismiss(ctx, run, true)
		return true, nil
	}
	if fatal(err) {
		return false, err
	}
	return false, nil
}

// dismiss closes the application dialog, discarding the draft when asked.
// It is best effort.
func (w *Workflow) dismiss(ctx context.Context, run *pipeline.Run, discard bool) {
	d := run.Session()
	probe := locator.New(w.cfg.ProbeTimeout, locator.WithLogger(run.Logger().Named("locator")))
	m, err := probe.Locate(ctx, d, dismissModal, driver.Clickable)
	if err != nil {
		return
	}
	if err := w.click(ctx, m.Element); err != nil || !discard {
		return
	}
	if m, err = probe.Locate(ctx, d, discardApplication, driver.Clickable); err == nil {
		_ = w.click(ctx, m.Element)
	}
}

func (w *Workflow) fill(ctx context.Context, loc *locator.Locator, d driver.Driver, chain locator.Chain, value string) error {
	m, err := loc.Locate(ctx, d, chain, driver.Present)
	if err != nil {
		return err
	}
	if err := w.pace(ctx); err != nil {
		return err
	}
	if err := m.Element.Clear(ctx); err != nil {
		return fmt.Errorf("clear %s: %w", chain.Name, err)
	}
	if err := m.Element.SendKeys(ctx, value); err != nil {
		return fmt.Errorf("fill %s: %w", chain.Name, err)
	}
	return nil
}

func (w *Workflow) click(ctx context.Context, el driver.Element) error {
	if err := w.pace(ctx); err != nil {
		return err
	}
	return el.Click(ctx)
}

func describe(ctx context.Context, el driver.Element) string {
	if d, ok := el.(driver.Describer); ok {
		if desc, err := d.Describe(ctx); err == nil {
			return desc.String()
		}
	}
	return "unknown"
}
