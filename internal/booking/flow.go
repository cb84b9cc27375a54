package booking

import (
	"strings"

	"github.com/slok/slotrunner/internal/browser"
	"github.com/slok/slotrunner/internal/captcha"
	"github.com/slok/slotrunner/internal/model"
)

// FieldKind is how a form field is operated.
type FieldKind string

const (
	// FieldKindInput sets the field value.
	FieldKindInput FieldKind = "input"
	// FieldKindSelect selects the option by value or visible text.
	FieldKindSelect FieldKind = "select"
	// FieldKindCheck clicks the field when the value is truthy.
	FieldKindCheck FieldKind = "check"
)

// FieldSpec declares a form field. Name is the key of the account form payload and
// Default is used when the payload doesn't have it.
type FieldSpec struct {
	Name    string
	Locator browser.Locator
	Kind    FieldKind
	Default string
	// Required fields make the step fail when the field is not on the page, the rest
	// are skipped silently.
	Required bool
}

// FormStep is a form the flow fills and submits.
type FormStep struct {
	State  model.TaskState
	Fields []FieldSpec
	Submit browser.Locator
	// Next is the marker of the page after a successful submission.
	Next browser.Locator
}

// ChallengeSpec declares how a challenge artifact is found on the page.
type ChallengeSpec struct {
	Type    captcha.ChallengeType
	Locator browser.Locator
	// SiteKeyAttr is the attribute of the artifact holding the site key.
	SiteKeyAttr string
}

// Flow is the target site flow expressed as data, the machine executes it.
type Flow struct {
	BaseURL string
	// LoginPath is the authentication entry point, also used to detect if the
	// session is still on the authentication screen.
	LoginPath   string
	LoginMarker browser.Locator
	Username    browser.Locator
	Password    browser.Locator
	LoginSubmit browser.Locator
	// LoginResponseMatch selects the login response captured on submission.
	LoginResponseMatch string

	Challenges []ChallengeSpec
	// ChallengeResponse is where the solved token is injected.
	ChallengeResponse browser.Locator
	// Consent is an optional control accepted after login.
	Consent browser.Locator

	Questionnaire FormStep
	MainForm      FormStep

	SearchSelect  browser.Locator
	SearchTrigger browser.Locator
	Results       browser.Locator

	// SlotIndicators are tried in order and the first available slot wins.
	SlotIndicators     browser.Locator
	TimeSlots          browser.Locator
	Confirm            browser.Locator
	Confirmation       browser.Locator
	ConfirmationNumber browser.Locator
	ConfirmationDate   browser.Locator
	ConfirmationTime   browser.Locator
}

// LoginURL returns the authentication entry point URL.
func (f Flow) LoginURL() string {
	return strings.TrimSuffix(f.BaseURL, "/") + f.LoginPath
}

func field(name string, kind FieldKind, def string, required bool) FieldSpec {
	return FieldSpec{
		Name:     name,
		Kind:     kind,
		Default:  def,
		Required: required,
		Locator:  browser.Any(`[name="`+name+`"]`, "#"+name),
	}
}

// DefaultFlow returns the appointment site flow.
func DefaultFlow(baseURL string) Flow {
	return Flow{
		BaseURL:            baseURL,
		LoginPath:          "/login",
		LoginMarker:        browser.Any(`form#login-form`, `input[type="password"]`),
		Username:           browser.Any(`#email`, `input[name="email"]`, `input[name="username"]`, `input[type="email"]`),
		Password:           browser.Any(`#password`, `input[name="password"]`, `input[type="password"]`),
		LoginResponseMatch: "login",
		LoginSubmit: browser.Locator{
			browser.CSS(`form#login-form button[type="submit"]`),
			browser.Text("button", "Sign In"),
			browser.Text("button", "Log in"),
		},
		Challenges: []ChallengeSpec{
			{Type: captcha.ChallengeTypeReCaptchaV2, Locator: browser.Any(`.g-recaptcha[data-sitekey]`), SiteKeyAttr: "data-sitekey"},
			{Type: captcha.ChallengeTypeTurnstile, Locator: browser.Any(`.cf-turnstile[data-sitekey]`), SiteKeyAttr: "data-sitekey"},
		},
		ChallengeResponse: browser.Any(`textarea[name="g-recaptcha-response"]`, `#g-recaptcha-response`, `input[name="cf-turnstile-response"]`),
		Consent: browser.Locator{
			browser.CSS(`#consent-accept`),
			browser.Text("button", "Accept"),
			browser.Text("button", "I agree"),
		},

		Questionnaire: FormStep{
			State: model.TaskStateQuestionnaireSubmitted,
			Fields: []FieldSpec{
				field("visa_type", FieldKindSelect, "tourism", true),
				field("travel_purpose", FieldKindInput, "Tourism", false),
				field("previous_visa", FieldKindSelect, "no", false),
				field("terms", FieldKindCheck, "true", true),
			},
			Submit: browser.Locator{
				browser.CSS(`form#questionnaire button[type="submit"]`),
				browser.Text("button", "Continue"),
			},
			Next: browser.Any(`form#main-form`),
		},

		MainForm: FormStep{
			State: model.TaskStateMainFormSubmitted,
			Fields: []FieldSpec{
				field("first_name", FieldKindInput, "", true),
				field("last_name", FieldKindInput, "", true),
				field("middle_name", FieldKindInput, "", false),
				field("date_of_birth", FieldKindInput, "", true),
				field("passport_number", FieldKindInput, "", true),
				field("nationality", FieldKindSelect, "", true),
				field("phone", FieldKindInput, "", false),
				field("marketing", FieldKindCheck, "false", false),
			},
			Submit: browser.Locator{
				browser.CSS(`form#main-form button[type="submit"]`),
				browser.Text("button", "Submit"),
			},
			Next: browser.Any(`#slot-search`),
		},

		SearchSelect: browser.Any(`select#consulate`, `select[name="consulate"]`),
		SearchTrigger: browser.Locator{
			browser.CSS(`#search-slots`),
			browser.Text("button", "Search"),
		},
		Results: browser.Any(`#slot-results`),

		SlotIndicators: browser.Any(
			`td.day.available:not(.disabled)`,
			`.slot.available`,
			`[data-available="true"]`,
		),
		TimeSlots: browser.Any(`.time-slot.available`, `input[name="time-slot"]:not([disabled])`),
		Confirm: browser.Locator{
			browser.CSS(`#confirm-booking`),
			browser.Text("button", "Confirm"),
		},
		Confirmation:       browser.Any(`#booking-confirmation`),
		ConfirmationNumber: browser.Any(`#confirmation-number`),
		ConfirmationDate:   browser.Any(`#booking-date`),
		ConfirmationTime:   browser.Any(`#booking-time`),
	}
}
