package fake

import "strings"

// DemoOptions customize the demo site.
type DemoOptions struct {
	// Challenge adds a reCAPTCHA challenge to the login page.
	Challenge bool
	// NoSlots makes the search return no available slots.
	NoSlots bool
	// LoginBody is the login response body, `{"status":"ok"}` by default.
	LoginBody string
}

// DemoPages returns the pages of an appointment booking demo site that walks through
// the whole booking flow.
func DemoPages(opts DemoOptions) map[string]string {
	challenge := ""
	if opts.Challenge {
		challenge = `<div class="g-recaptcha" data-sitekey="demo-site-key"></div>
<textarea name="g-recaptcha-response" style="display:none"></textarea>`
	}

	loginBody := opts.LoginBody
	if loginBody == "" {
		loginBody = `{"status":"ok"}`
	}

	results := demoResults
	if opts.NoSlots {
		results = demoNoResults
	}

	login := strings.NewReplacer("{{challenge}}", challenge, "{{body}}", loginBody).Replace(demoLogin)

	return map[string]string{
		"/login":                login,
		"/consent":              demoConsent,
		"/questionnaire":        demoQuestionnaire,
		"/application":          demoApplication,
		"/appointments":         demoAppointments,
		"/appointments/results": results,
		"/confirmation":         demoConfirmation,
	}
}

const demoLogin = `<html><body>
<form id="login-form" action="/login">
  <input id="email" name="email" type="email">
  <input id="password" name="password" type="password">
  {{challenge}}
  <button type="submit" data-goto="/consent" data-response-url="/api/login" data-body='{{body}}'>Sign In</button>
</form>
</body></html>`

const demoConsent = `<html><body>
<div id="consent">
  <p>We use cookies.</p>
  <button id="consent-accept" data-goto="/questionnaire">Accept</button>
</div>
</body></html>`

const demoQuestionnaire = `<html><body>
<form id="questionnaire" action="/application">
  <select name="visa_type">
    <option value="tourism">Tourism</option>
    <option value="business">Business</option>
    <option value="study">Study</option>
  </select>
  <input name="travel_purpose">
  <select name="previous_visa">
    <option value="no">No</option>
    <option value="yes">Yes</option>
  </select>
  <input type="checkbox" name="terms">
  <button type="submit">Continue</button>
</form>
</body></html>`

const demoApplication = `<html><body>
<form id="main-form" action="/appointments">
  <input name="first_name">
  <input name="last_name">
  <input name="middle_name">
  <input name="date_of_birth">
  <input name="passport_number">
  <select name="nationality">
    <option value="">Choose</option>
    <option value="AL">Albania</option>
    <option value="ES">Spain</option>
    <option value="GB">United Kingdom</option>
  </select>
  <input name="phone">
  <input type="checkbox" name="marketing">
  <button type="submit">Submit</button>
</form>
</body></html>`

const demoAppointments = `<html><body>
<div id="slot-search">
  <select id="consulate" name="consulate">
    <option value="">Choose</option>
    <option value="tirana">Tirana</option>
    <option value="london">London</option>
    <option value="madrid">Madrid</option>
  </select>
  <button id="search-slots" data-goto="/appointments/results">Search</button>
</div>
</body></html>`

const demoResults = `<html><body>
<div id="slot-results">
  <table>
    <tr>
      <td class="day disabled">11</td>
      <td class="day available" data-date="2026-11-12">12</td>
      <td class="day available" data-date="2026-11-13">13</td>
    </tr>
  </table>
  <div class="time-slot available">09:30</div>
  <div class="time-slot available">10:00</div>
  <button id="confirm-booking" data-goto="/confirmation">Confirm</button>
</div>
</body></html>`

const demoNoResults = `<html><body>
<div id="slot-results">
  <p>There are no appointments available.</p>
</div>
</body></html>`

const demoConfirmation = `<html><body>
<div id="booking-confirmation">
  <span id="confirmation-number">DEMO-0001</span>
  <span id="booking-date">2026-11-12</span>
  <span id="booking-time">09:30</span>
</div>
</body></html>`
