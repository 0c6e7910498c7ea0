package workflow

import (
	"applyflow/internal/driver"
	"applyflow/internal/locator"
)

// Chains are ordered from the most specific, cheapest match to the broadest
// text or structure match.
var (
	signInButton = locator.MustChain("sign-in button",
		driver.ByClass("nav__button-secondary"),
		driver.ByXPath("//a[contains(@href, '/login')]"),
	)
	usernameField = locator.MustChain("username field",
		driver.ByID("username"),
		driver.ByCSS("input[name='session_key']"),
	)
	passwordField = locator.MustChain("password field",
		driver.ByID("password"),
		driver.ByCSS("input[name='session_password']"),
	)
	loginSubmit = locator.MustChain("login submit button",
		driver.ByClass("btn__primary--large"),
		driver.ByCSS("button[type='submit']"),
	)

	searchBox = locator.MustChain("job search box",
		driver.ByClass("jobs-search-box__text-input"),
		driver.ByClass("jobs-search-box__input"),
		driver.ByXPath("//input[contains(@class, 'jobs-search-box')]"),
		driver.ByXPath("//input[@aria-label='Pesquisar cargo, competência ou empresa']"),
		driver.ByXPath("//input[contains(@placeholder, 'cargo')]"),
	)

	filtersButton = locator.MustChain("filters button",
		driver.ByXPath("//button[contains(@aria-label, 'Filtros')]"),
		driver.ByXPath("//button[contains(., 'Filtros')]"),
		driver.ByXPath("//button[contains(@class, 'filter')]"),
	)
	easyApplyToggle = locator.MustChain("easy apply filter",
		driver.ByXPath("//label[contains(., 'Candidatura simplificada')]"),
		driver.ByXPath("//span[contains(text(), 'Candidatura simplificada')]"),
		driver.ByXPath("//label[contains(., 'Easy Apply')]"),
	)
	showResultsButton = locator.MustChain("show results button",
		driver.ByXPath("//button[contains(., 'Mostrar')]"),
		driver.ByXPath("//button[contains(., 'resultados')]"),
		driver.ByXPath("//button[contains(@class, 'show-results')]"),
	)

	jobList = locator.MustChain("job list",
		driver.ByClass("jobs-search-results__list"),
		driver.ByClass("jobs-search-results-list"),
		driver.ByXPath("//ul[contains(@class, 'jobs-search')]"),
		driver.ByXPath("//div[contains(@class, 'jobs-search-results-list')]"),
	)
	jobCards = locator.MustChain("job cards",
		driver.ByClass("job-card-container"),
		driver.ByClass("jobs-search-results__list-item"),
		driver.ByXPath(".//li[contains(@class, 'jobs-search-results__list-item')]"),
		driver.ByXPath(".//div[contains(@class, 'job-card-container')]"),
	)
	cardLink = locator.MustChain("job card link",
		driver.ByCSS("a"),
	)

	applyButton = locator.MustChain("easy apply button",
		driver.ByClass("jobs-apply-button"),
		driver.ByXPath("//button[contains(@class, 'jobs-apply-button')]"),
		driver.ByXPath("//button[contains(., 'Candidatar')]"),
		driver.ByXPath("//button[contains(., 'Easy Apply')]"),
	)
	submitApplication = locator.MustChain("submit application button",
		driver.ByCSS("button[aria-label='Enviar candidatura']"),
		driver.ByCSS("button[aria-label='Submit application']"),
		driver.ByXPath("//button[contains(., 'Enviar candidatura')]"),
	)
	nextFormPage = locator.MustChain("next form page button",
		driver.ByCSS("button[aria-label='Avançar para próxima etapa']"),
		driver.ByCSS("button[aria-label='Continue to next step']"),
		driver.ByCSS("button[aria-label='Revise sua candidatura']"),
		driver.ByCSS("button[aria-label='Review your application']"),
	)
	dismissModal = locator.MustChain("dismiss dialog button",
		driver.ByClass("artdeco-modal__dismiss"),
		driver.ByCSS("button[aria-label='Fechar']"),
		driver.ByCSS("button[aria-label='Dismiss']"),
	)
	discardApplication = locator.MustChain("discard application button",
		driver.ByCSS("button[data-control-name='discard_application_confirm_btn']"),
		driver.ByXPath("//button[contains(., 'Descartar')]"),
		driver.ByXPath("//button[contains(., 'Discard')]"),
	)
	nextResultsPage = locator.MustChain("next results page button",
		driver.ByCSS("button[aria-label='Avançar']"),
		driver.ByCSS("button[aria-label='View next page']"),
		driver.ByXPath("//li[contains(@class, 'artdeco-pagination__indicator') and contains(@class, 'active')]/following-sibling::li[1]/button"),
	)
)
