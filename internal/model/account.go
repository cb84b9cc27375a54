package model

import "fmt"

// Account is a single identity the booking flow is executed for.
// Accounts are immutable once loaded.
type Account struct {
	Username  string
	Password  string
	Consulate string
	// Form is the opaque form payload, keys are the form field names used by the
	// booking flow steps.
	Form map[string]string
}

// FormValue returns the form payload value for a key.
func (a Account) FormValue(key string) (string, bool) {
	v, ok := a.Form[key]
	return v, ok
}

// Validate validates the account.
func (a Account) Validate() error {
	if a.Username == "" {
		return fmt.Errorf("username is required: %w", ErrNotValid)
	}
	if a.Password == "" {
		return fmt.Errorf("password is required for %q: %w", a.Username, ErrNotValid)
	}
	return nil
}
