package chromedp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/slok/slotrunner/internal/browser"
	"github.com/slok/slotrunner/internal/log"
)

const (
	markAttr     = "data-slotrunner-target"
	pollInterval = 250 * time.Millisecond
)

var errClosed = errors.New("session closed")

type session struct {
	ctx    context.Context
	cancel func()
	logger log.Logger
	marks  atomic.Int64

	mu     sync.Mutex
	closed bool
}

// run runs the actions on the session browser bounded by ctx.
func (s *session) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errClosed
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		runCtx, dcancel = context.WithDeadline(runCtx, dl)
		defer dcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if cerr := runCtx.Err(); cerr != nil && !errors.Is(err, cerr) {
		return fmt.Errorf("%w: %w", cerr, err)
	}
	return err
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("could not navigate to %s: %w", url, err)
	}
	return nil
}

func (s *session) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := s.run(ctx, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("could not get location: %w", err)
	}
	return u, nil
}

func (s *session) Count(ctx context.Context, sel browser.Selector) (int, error) {
	var n int
	if err := s.run(ctx, chromedp.Evaluate(findScript(sel, ""), &n)); err != nil {
		return 0, fmt.Errorf("could not query %s: %w", sel, err)
	}
	return n, nil
}

// resolve marks the first element matching the selector and returns a CSS selector
// that targets it, this way text selectors can be used with any CDP action.
func (s *session) resolve(ctx context.Context, sel browser.Selector) (string, error) {
	mark := strconv.FormatInt(s.marks.Add(1), 10)

	var n int
	if err := s.run(ctx, chromedp.Evaluate(findScript(sel, mark), &n)); err != nil {
		return "", fmt.Errorf("could not query %s: %w", sel, err)
	}
	if n == 0 {
		return "", fmt.Errorf("%s: %w", sel, browser.ErrElementNotFound)
	}

	return fmt.Sprintf(`[%s="%s"]`, markAttr, mark), nil
}

func (s *session) Click(ctx context.Context, sel browser.Selector) error {
	css, err := s.resolve(ctx, sel)
	if err != nil {
		return err
	}

	if err := s.run(ctx, chromedp.Click(css, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("could not click %s: %w", sel, err)
	}
	return nil
}

func (s *session) SendKeys(ctx context.Context, sel browser.Selector, text string) error {
	css, err := s.resolve(ctx, sel)
	if err != nil {
		return err
	}

	if err := s.run(ctx, chromedp.SendKeys(css, text, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("could not type on %s: %w", sel, err)
	}
	return nil
}

func (s *session) SetValue(ctx context.Context, sel browser.Selector, value string) error {
	css, err := s.resolve(ctx, sel)
	if err != nil {
		return err
	}

	var dispatched bool
	err = s.run(ctx,
		chromedp.SetValue(css, value, chromedp.ByQuery),
		chromedp.Evaluate(dispatchChangeScript(css), &dispatched),
	)
	if err != nil {
		return fmt.Errorf("could not set value on %s: %w", sel, err)
	}
	return nil
}

func (s *session) Select(ctx context.Context, sel browser.Selector, value string) error {
	css, err := s.resolve(ctx, sel)
	if err != nil {
		return err
	}

	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(selectScript(css, value), &ok)); err != nil {
		return fmt.Errorf("could not select on %s: %w", sel, err)
	}
	if !ok {
		return fmt.Errorf("option %q on %s: %w", value, sel, browser.ErrElementNotFound)
	}
	return nil
}

func (s *session) Text(ctx context.Context, sel browser.Selector) (string, error) {
	css, err := s.resolve(ctx, sel)
	if err != nil {
		return "", err
	}

	var text string
	if err := s.run(ctx, chromedp.Evaluate(textScript(css), &text)); err != nil {
		return "", fmt.Errorf("could not get text of %s: %w", sel, err)
	}
	return strings.TrimSpace(text), nil
}

func (s *session) Attribute(ctx context.Context, sel browser.Selector, name string) (string, bool, error) {
	css, err := s.resolve(ctx, sel)
	if err != nil {
		return "", false, err
	}

	var value string
	var ok bool
	if err := s.run(ctx, chromedp.AttributeValue(css, name, &value, &ok, chromedp.ByQuery)); err != nil {
		return "", false, fmt.Errorf("could not get attribute %s of %s: %w", name, sel, err)
	}
	return value, ok, nil
}

func (s *session) Evaluate(ctx context.Context, script string, res any) error {
	if err := s.run(ctx, chromedp.Evaluate(script, res)); err != nil {
		return fmt.Errorf("could not evaluate script: %w", err)
	}
	return nil
}

func (s *session) WaitFor(ctx context.Context, sel browser.Selector) error {
	t := time.NewTicker(pollInterval)
	defer t.Stop()

	for {
		n, err := s.Count(ctx, sel)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", sel, ctx.Err())
		case <-t.C:
		}
	}
}

type capturedResponse struct {
	url    string
	status int64
}

func (s *session) SubmitAndCapture(ctx context.Context, sel browser.Selector, urlMatch string) (*browser.Response, error) {
	css, err := s.resolve(ctx, sel)
	if err != nil {
		return nil, err
	}

	respC := make(chan *browser.Response, 1)
	var mu sync.Mutex
	captured := map[network.RequestID]capturedResponse{}

	listenCtx, stopListening := context.WithCancel(s.ctx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, func(ev any) {
		switch ev := ev.(type) {
		case *network.EventResponseReceived:
			if !strings.Contains(ev.Response.URL, urlMatch) {
				return
			}
			mu.Lock()
			captured[ev.RequestID] = capturedResponse{url: ev.Response.URL, status: ev.Response.Status}
			mu.Unlock()

		case *network.EventLoadingFinished:
			mu.Lock()
			c, ok := captured[ev.RequestID]
			mu.Unlock()
			if !ok {
				return
			}

			// Listeners can't block, the body is requested outside.
			go func() {
				var body []byte
				err := chromedp.Run(listenCtx, chromedp.ActionFunc(func(ctx context.Context) error {
					b, err := network.GetResponseBody(ev.RequestID).Do(ctx)
					body = b
					return err
				}))
				if err != nil {
					s.logger.Debugf("could not get response body of %s: %s", c.url, err)
				}
				select {
				case respC <- &browser.Response{URL: c.url, Status: int(c.status), Body: string(body)}:
				default:
				}
			}()
		}
	})

	if err := s.run(ctx, chromedp.Click(css, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("could not click %s: %w", sel, err)
	}

	select {
	case resp := <-respC:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting response %q: %w: %w", urlMatch, browser.ErrNoResponse, ctx.Err())
	}
}

func (s *session) Snapshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("could not capture screenshot: %w", err)
	}
	return buf, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}
	s.closed = true

	// Cancel closes the browser gracefully, the allocator cancel makes sure the
	// process is gone.
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("could not close browser: %w", err)
	}
	return nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// findScript returns the number of elements matching the selector and marks the
// first one when mark is set.
func findScript(sel browser.Selector, mark string) string {
	return fmt.Sprintf(`(function(scope, text, mark, attr) {
	const textOf = (el) => ["INPUT", "TEXTAREA", "SELECT"].includes(el.tagName) ? el.value : el.textContent;
	const els = Array.from(document.querySelectorAll(scope)).filter((el) => !text || (textOf(el) || "").trim().includes(text));
	if (mark && els.length > 0) {
		document.querySelectorAll("[" + attr + "]").forEach((el) => el.removeAttribute(attr));
		els[0].setAttribute(attr, mark);
	}
	return els.length;
})(%s, %s, %s, %s)`, jsString(sel.Scope()), jsString(sel.Text), jsString(mark), jsString(markAttr))
}

func dispatchChangeScript(css string) string {
	return fmt.Sprintf(`(function(el) {
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return true;
})(document.querySelector(%s))`, jsString(css))
}

func selectScript(css, value string) string {
	return fmt.Sprintf(`(function(el, value) {
	const opt = Array.from(el.options || []).find((o) => o.value === value || o.textContent.trim() === value);
	if (!opt) {
		return false;
	}
	el.value = opt.value;
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return true;
})(document.querySelector(%s), %s)`, jsString(css), jsString(value))
}

func textScript(css string) string {
	return fmt.Sprintf(`(function(el) {
	if (["INPUT", "TEXTAREA", "SELECT"].includes(el.tagName)) {
		return el.value || "";
	}
	return el.textContent || "";
})(document.querySelector(%s))`, jsString(css))
}
