package browser_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/slotrunner/internal/browser"
	"github.com/slok/slotrunner/internal/browser/fake"
)

const testPage = `<html><body>
<form id="login">
  <input type="submit" value="Sign In">
  <button class="secondary">  Forgot password  </button>
</form>
<div class="slot">Full</div>
<div class="slot available">12</div>
</body></html>`

func newTestSession(t *testing.T) browser.Session {
	t.Helper()

	eng, err := fake.NewEngine(fake.EngineConfig{Pages: map[string]string{"/": testPage}})
	require.NoError(t, err)
	s, err := eng.NewSession(context.Background(), browser.SessionOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Navigate(context.Background(), "http://fake.local/"))

	return s
}

func TestLocate(t *testing.T) {
	tests := map[string]struct {
		locator  browser.Locator
		expSel   browser.Selector
		expFound bool
		expErr   bool
	}{
		"An empty locator should not match anything": {
			locator:  browser.Locator{},
			expFound: false,
		},
		"The first matching strategy should win": {
			locator:  browser.Any("#missing", ".slot.available", ".slot"),
			expSel:   browser.CSS(".slot.available"),
			expFound: true,
		},
		"Text strategies should match trimmed text content": {
			locator:  browser.Locator{browser.Text("button", "Log in"), browser.Text("button", "Forgot password")},
			expSel:   browser.Text("button", "Forgot password"),
			expFound: true,
		},
		"Text strategies should match input values": {
			locator:  browser.Locator{browser.Text("", "Sign In")},
			expSel:   browser.Text("", "Sign In"),
			expFound: true,
		},
		"No matching strategy should return not found": {
			locator:  browser.Any("#missing", ".other"),
			expFound: false,
		},
		"Invalid selectors should fail": {
			locator: browser.Any("div[[["),
			expErr:  true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			s := newTestSession(t)
			gotSel, gotFound, err := browser.Locate(context.Background(), s, test.locator)

			if test.expErr {
				assert.Error(err)
			} else if assert.NoError(err) {
				assert.Equal(test.expFound, gotFound)
				assert.Equal(test.expSel, gotSel)
			}
		})
	}
}

func TestMustLocate(t *testing.T) {
	s := newTestSession(t)

	_, err := browser.MustLocate(context.Background(), s, browser.Any("#missing"))
	assert.ErrorIs(t, err, browser.ErrElementNotFound)

	sel, err := browser.MustLocate(context.Background(), s, browser.Any("form#login"))
	assert.NoError(t, err)
	assert.Equal(t, browser.CSS("form#login"), sel)
}

func TestRandomIdentity(t *testing.T) {
	assert := assert.New(t)

	for range 20 {
		id := browser.RandomIdentity(nil)
		assert.NotEmpty(id.UserAgent)
		assert.NotEmpty(id.AcceptLanguage)
		assert.NotEmpty(id.Timezone)
		assert.Greater(id.ViewportWidth, 0)
		assert.Greater(id.ViewportHeight, 0)
	}
}
