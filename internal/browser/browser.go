package browser

import (
	"context"
	"errors"

	"github.com/slok/slotrunner/internal/model"
)

var (
	// ErrElementNotFound is returned when a selector doesn't match any element.
	ErrElementNotFound = errors.New("element not found")
	// ErrNoResponse is returned when a submission didn't produce a captured response.
	ErrNoResponse = errors.New("no response captured")
)

// SessionOptions are the options used to open a browser session.
type SessionOptions struct {
	// Proxy is optional, when nil the session uses a direct connection.
	Proxy    *model.ProxyEndpoint
	Identity Identity
}

// Response is a network response captured while submitting.
type Response struct {
	URL    string
	Status int
	Body   string
}

// Engine is the browser automation engine.
type Engine interface {
	// Check performs preflight checks and returns the results.
	Check(ctx context.Context) []model.CheckResult
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
}

// Session is an isolated browser context. All the operations are bounded by the
// context and return errors instead of terminating the process.
type Session interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	// Count returns the number of elements matching the selector.
	Count(ctx context.Context, sel Selector) (int, error)
	Click(ctx context.Context, sel Selector) error
	// SendKeys types text on the element one rune at a time.
	SendKeys(ctx context.Context, sel Selector, text string) error
	SetValue(ctx context.Context, sel Selector, value string) error
	// Select selects the option of a select element by value or visible text.
	Select(ctx context.Context, sel Selector, value string) error
	Text(ctx context.Context, sel Selector) (string, error)
	Attribute(ctx context.Context, sel Selector, name string) (value string, ok bool, err error)
	// Evaluate runs a script in the page and decodes its result into res (can be nil).
	Evaluate(ctx context.Context, script string, res any) error
	WaitFor(ctx context.Context, sel Selector) error
	// SubmitAndCapture clicks the selector and returns the first response whose URL
	// contains urlMatch.
	SubmitAndCapture(ctx context.Context, sel Selector, urlMatch string) (*Response, error)
	// Snapshot returns a visual snapshot of the page.
	Snapshot(ctx context.Context) ([]byte, error)
	Close() error
}
