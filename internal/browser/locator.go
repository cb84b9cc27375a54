package browser

import (
	"context"
	"fmt"
	"strings"
)

// DefaultTextScope is the CSS used to find candidates when a selector only has text.
const DefaultTextScope = `a, button, input[type="submit"], input[type="button"], [role="button"], label, option, span`

// Selector identifies elements on a page. CSS scopes the candidates and Text (optional)
// keeps only the ones whose trimmed text (or value for inputs) contains it.
type Selector struct {
	CSS  string
	Text string
}

// CSS returns a CSS only selector.
func CSS(css string) Selector { return Selector{CSS: css} }

// Text returns a selector of the elements containing a text.
func Text(css, text string) Selector { return Selector{CSS: css, Text: text} }

// Scope returns the CSS used to find candidates.
func (s Selector) Scope() string {
	if s.CSS == "" {
		return DefaultTextScope
	}
	return s.CSS
}

// MatchesText returns true if an element text satisfies the selector text filter.
func (s Selector) MatchesText(text string) bool {
	if s.Text == "" {
		return true
	}
	return strings.Contains(strings.TrimSpace(text), s.Text)
}

func (s Selector) String() string {
	if s.Text == "" {
		return s.CSS
	}
	return fmt.Sprintf("%s:text(%q)", s.Scope(), s.Text)
}

// Locator is an ordered list of selector strategies, the first one that matches wins.
type Locator []Selector

// Any returns a locator from CSS selectors.
func Any(css ...string) Locator {
	l := make(Locator, 0, len(css))
	for _, c := range css {
		l = append(l, CSS(c))
	}
	return l
}

func (l Locator) String() string {
	ss := make([]string, 0, len(l))
	for _, s := range l {
		ss = append(ss, s.String())
	}
	return strings.Join(ss, " | ")
}

// Locate returns the first selector of the locator that matches at least one element.
func Locate(ctx context.Context, s Session, l Locator) (Selector, bool, error) {
	for _, sel := range l {
		n, err := s.Count(ctx, sel)
		if err != nil {
			return Selector{}, false, fmt.Errorf("could not count %q: %w", sel, err)
		}
		if n > 0 {
			return sel, true, nil
		}
	}

	return Selector{}, false, nil
}

// MustLocate is like Locate but returns ErrElementNotFound when nothing matches.
func MustLocate(ctx context.Context, s Session, l Locator) (Selector, error) {
	sel, ok, err := Locate(ctx, s, l)
	if err != nil {
		return Selector{}, err
	}
	if !ok {
		return Selector{}, fmt.Errorf("%s: %w", l, ErrElementNotFound)
	}
	return sel, nil
}
