package booking

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/slok/slotrunner/internal/browser"
	"github.com/slok/slotrunner/internal/captcha"
	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/model"
)

const (
	pollInterval    = 250 * time.Millisecond
	snapshotTimeout = 10 * time.Second
)

var errConditionTimeout = errors.New("condition not met in time")

// machine is the state machine of a single task, it's not safe for concurrent use.
type machine struct {
	cfg         *RunnerConfig
	task        model.Task
	session     browser.Session
	state       model.TaskState
	transitions []model.Transition
	logger      log.Logger
}

func (m *machine) run(ctx context.Context) model.Outcome {
	start := m.cfg.Now()
	m.transition(model.TaskStateInit)
	defer m.release()

	booking, err := m.execute(ctx)
	switch {
	case err == nil:
		m.transition(model.TaskStateSlotBooked)
		m.logger.Infof("Slot booked: %s %s (confirmation %s)", booking.Date, booking.Time, booking.Confirmation)
		return model.NewSuccessOutcome(m.meta(start), *booking)

	case errors.Is(err, ErrNoSlots):
		m.transition(model.TaskStateNoSlotsFound)
		m.logger.Infof("No slots available")
		return model.NewFailedOutcome(m.meta(start), ErrNoSlots.Error())
	}

	kind, state := model.ErrorKindUnknown, m.state
	var serr *StepError
	if errors.As(err, &serr) {
		kind, state = serr.Kind, serr.State
	}
	if ctx.Err() != nil {
		kind = model.ErrorKindTimeout
	}

	m.snapshot(ctx, state)
	m.transition(model.TaskStateErrored)
	m.logger.Warningf("Task errored (%s) on %s: %v", kind, state, err)

	return model.NewErroredOutcome(m.meta(start), kind, state, err.Error())
}

func (m *machine) execute(ctx context.Context) (*model.Booking, error) {
	if err := m.openBrowser(ctx); err != nil {
		return nil, err
	}

	if err := m.authenticate(ctx); err != nil {
		return nil, err
	}

	m.acceptConsent(ctx)

	if err := m.submitForm(ctx, m.cfg.Flow.Questionnaire); err != nil {
		return nil, err
	}

	if err := m.submitForm(ctx, m.cfg.Flow.MainForm); err != nil {
		return nil, err
	}

	if err := m.search(ctx); err != nil {
		return nil, err
	}

	return m.book(ctx)
}

func (m *machine) openBrowser(ctx context.Context) error {
	const state = model.TaskStateBrowserReady

	s, err := m.cfg.Engine.NewSession(ctx, browser.SessionOptions{
		Proxy:    m.task.Proxy,
		Identity: m.cfg.Identity(),
	})
	if err != nil {
		return stepErrf(model.ErrorKindNavigation, state, "could not open browser session: %w", err)
	}
	m.session = s

	loginURL := m.cfg.Flow.LoginURL()
	var navErr error
	for attempt := 1; attempt <= m.cfg.NavigationAttempts; attempt++ {
		navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigationTimeout)
		navErr = s.Navigate(navCtx, loginURL)
		cancel()
		if navErr == nil {
			m.transition(state)
			return nil
		}
		if ctx.Err() != nil {
			break
		}

		m.logger.Warningf("Navigation attempt %d/%d failed: %v", attempt, m.cfg.NavigationAttempts, navErr)
		if attempt < m.cfg.NavigationAttempts {
			if err := m.cfg.Sleep(ctx, time.Duration(attempt)*m.cfg.NavigationBackoff); err != nil {
				navErr = err
				break
			}
		}
	}

	return stepErrf(model.ErrorKindNavigation, state, "could not navigate to %s: %w", loginURL, navErr)
}

func (m *machine) authenticate(ctx context.Context) error {
	const state = model.TaskStateAuthenticating
	m.transition(state)

	flow := m.cfg.Flow
	acc := m.task.Account

	userSel, err := m.waitLocate(ctx, flow.Username)
	if err != nil {
		return stepErrf(model.ErrorKindForm, state, "could not find username field: %w", err)
	}
	if err := m.typeHuman(ctx, userSel, acc.Username); err != nil {
		return stepErrf(model.ErrorKindForm, state, "could not type username: %w", err)
	}

	passSel, err := browser.MustLocate(ctx, m.session, flow.Password)
	if err != nil {
		return stepErrf(model.ErrorKindForm, state, "could not find password field: %w", err)
	}
	if err := m.typeHuman(ctx, passSel, acc.Password); err != nil {
		return stepErrf(model.ErrorKindForm, state, "could not type password: %w", err)
	}

	if err := m.solveChallenge(ctx); err != nil {
		return err
	}

	submit, err := browser.MustLocate(ctx, m.session, flow.LoginSubmit)
	if err != nil {
		return stepErrf(model.ErrorKindForm, state, "could not find login submit: %w", err)
	}

	subCtx, cancel := context.WithTimeout(ctx, m.cfg.StepTimeout)
	resp, err := m.session.SubmitAndCapture(subCtx, submit, flow.LoginResponseMatch)
	cancel()

	result := LoginResultUnrecognized
	switch {
	case err == nil:
		result = ClassifyLoginResponse(resp)
	case errors.Is(err, browser.ErrNoResponse), errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		m.logger.Debugf("Login response not captured: %v", err)
	default:
		return stepErrf(model.ErrorKindForm, state, "could not submit credentials: %w", err)
	}

	if result == LoginResultUnrecognized && resp != nil {
		m.logger.Warningf("Unrecognized login response (status %d): %s", resp.Status, truncate(resp.Body, 200))
	}
	if kind := result.ErrorKind(); kind != "" {
		return stepErrf(kind, state, "login %s", result)
	}

	// Submission success signals can be false positives, we need to leave the login screen.
	err = m.waitUntil(ctx, func(ctx context.Context) (bool, error) {
		on, err := m.onLoginScreen(ctx)
		return !on, err
	})
	if err != nil {
		if errors.Is(err, errConditionTimeout) {
			return stepErrf(model.ErrorKindAuthRejected, state, "still on the authentication screen after submitting credentials (login response %s)", result)
		}
		return stepErr(model.ErrorKindAuthRejected, state, err)
	}

	m.logger.Debugf("Authenticated (login response %s)", result)
	return nil
}

func (m *machine) onLoginScreen(ctx context.Context) (bool, error) {
	current, err := m.session.CurrentURL(ctx)
	if err != nil {
		return false, fmt.Errorf("could not get current URL: %w", err)
	}
	if u, err := url.Parse(current); err == nil && strings.HasPrefix(u.Path, m.cfg.Flow.LoginPath) {
		return true, nil
	}

	_, found, err := browser.Locate(ctx, m.session, m.cfg.Flow.LoginMarker)
	if err != nil {
		return false, err
	}
	return found, nil
}

func (m *machine) solveChallenge(ctx context.Context) error {
	const state = model.TaskStateCaptchaChallenge

	for _, spec := range m.cfg.Flow.Challenges {
		sel, found, err := browser.Locate(ctx, m.session, spec.Locator)
		if err != nil {
			return stepErr(model.ErrorKindChallenge, state, err)
		}
		if !found {
			continue
		}
		m.transition(state)

		siteKey, _, err := m.session.Attribute(ctx, sel, spec.SiteKeyAttr)
		if err != nil {
			return stepErrf(model.ErrorKindChallenge, state, "could not read site key: %w", err)
		}
		if siteKey == "" {
			return stepErrf(model.ErrorKindChallenge, state, "%s challenge without site key", spec.Type)
		}

		if m.cfg.Solver == nil {
			return stepErrf(model.ErrorKindChallenge, state, "%s challenge found but there is no solver configured", spec.Type)
		}

		pageURL, err := m.session.CurrentURL(ctx)
		if err != nil {
			return stepErrf(model.ErrorKindChallenge, state, "could not get current URL: %w", err)
		}

		m.logger.Infof("Solving %s challenge", spec.Type)
		token, err := m.cfg.Solver.Solve(ctx, captcha.Challenge{
			Type:    spec.Type,
			SiteURL: pageURL,
			SiteKey: siteKey,
		}, m.task.Proxy)
		if err != nil {
			return stepErrf(model.ErrorKindChallenge, state, "could not solve %s challenge: %w", spec.Type, err)
		}

		target, err := browser.MustLocate(ctx, m.session, m.cfg.Flow.ChallengeResponse)
		if err != nil {
			return stepErrf(model.ErrorKindChallenge, state, "could not find challenge response field: %w", err)
		}
		if err := m.session.SetValue(ctx, target, token); err != nil {
			return stepErrf(model.ErrorKindChallenge, state, "could not inject challenge token: %w", err)
		}

		return nil
	}

	return nil
}

func (m *machine) acceptConsent(ctx context.Context) {
	sel, found, err := browser.Locate(ctx, m.session, m.cfg.Flow.Consent)
	if err != nil {
		m.logger.Debugf("Could not look for consent: %v", err)
		return
	}
	if !found {
		return
	}

	if err := m.session.Click(ctx, sel); err != nil {
		m.logger.Warningf("Could not accept consent: %v", err)
		return
	}
	m.logger.Debugf("Consent accepted")
}

func (m *machine) submitForm(ctx context.Context, step FormStep) error {
	submit, err := m.waitLocate(ctx, step.Submit)
	if err != nil {
		return stepErrf(model.ErrorKindForm, step.State, "could not find form: %w", err)
	}

	for _, f := range step.Fields {
		if err := m.fill(ctx, f); err != nil {
			if f.Required {
				return stepErr(model.ErrorKindForm, step.State, err)
			}
			m.logger.Debugf("Optional field skipped: %v", err)
		}
	}

	if err := m.session.Click(ctx, submit); err != nil {
		return stepErrf(model.ErrorKindForm, step.State, "could not submit form: %w", err)
	}

	if _, err := m.waitLocate(ctx, step.Next); err != nil {
		return stepErrf(model.ErrorKindForm, step.State, "form submission didn't reach the next step: %w", err)
	}

	m.transition(step.State)
	return nil
}

func (m *machine) fill(ctx context.Context, f FieldSpec) error {
	v, ok := m.task.Account.FormValue(f.Name)
	if !ok {
		v = f.Default
	}

	sel, found, err := browser.Locate(ctx, m.session, f.Locator)
	if err != nil {
		return fmt.Errorf("could not look for field %q: %w", f.Name, err)
	}
	if !found {
		return fmt.Errorf("field %q: %w", f.Name, browser.ErrElementNotFound)
	}

	switch f.Kind {
	case FieldKindSelect:
		if v == "" {
			return nil
		}
		err = m.session.Select(ctx, sel, v)
	case FieldKindCheck:
		if !truthy(v) {
			return nil
		}
		err = m.session.Click(ctx, sel)
	default:
		err = m.session.SetValue(ctx, sel, v)
	}
	if err != nil {
		return fmt.Errorf("could not fill field %q: %w", f.Name, err)
	}

	return nil
}

func (m *machine) search(ctx context.Context) error {
	const state = model.TaskStateSlotsSearched
	flow := m.cfg.Flow

	if consulate := m.task.Account.Consulate; consulate != "" {
		sel, found, err := browser.Locate(ctx, m.session, flow.SearchSelect)
		if err != nil {
			return stepErr(model.ErrorKindForm, state, err)
		}
		if found {
			if err := m.session.Select(ctx, sel, consulate); err != nil {
				return stepErrf(model.ErrorKindForm, state, "could not select consulate %q: %w", consulate, err)
			}
		}
	}

	trigger, found, err := browser.Locate(ctx, m.session, flow.SearchTrigger)
	if err != nil {
		return stepErr(model.ErrorKindForm, state, err)
	}
	if found {
		if err := m.session.Click(ctx, trigger); err != nil {
			return stepErrf(model.ErrorKindForm, state, "could not trigger search: %w", err)
		}
	} else {
		m.logger.Infof("Search trigger not found, assuming results load automatically")
	}

	if _, err := m.waitLocate(ctx, flow.Results); err != nil {
		if ctx.Err() != nil {
			return stepErr(model.ErrorKindTimeout, state, ctx.Err())
		}
		m.logger.Debugf("Search results marker not found: %v", err)
	}

	m.transition(state)
	return nil
}

func (m *machine) book(ctx context.Context) (*model.Booking, error) {
	const state = model.TaskStateSlotBooked
	flow := m.cfg.Flow

	slot, found, err := browser.Locate(ctx, m.session, flow.SlotIndicators)
	if err != nil {
		return nil, stepErr(model.ErrorKindBooking, state, err)
	}
	if !found {
		return nil, ErrNoSlots
	}
	if err := m.session.Click(ctx, slot); err != nil {
		return nil, stepErrf(model.ErrorKindBooking, state, "could not select slot: %w", err)
	}

	timeSlot, found, err := browser.Locate(ctx, m.session, flow.TimeSlots)
	if err != nil {
		return nil, stepErr(model.ErrorKindBooking, state, err)
	}
	if found {
		if err := m.session.Click(ctx, timeSlot); err != nil {
			return nil, stepErrf(model.ErrorKindBooking, state, "could not select time slot: %w", err)
		}
	}

	confirm, err := m.waitLocate(ctx, flow.Confirm)
	if err != nil {
		return nil, stepErrf(model.ErrorKindBooking, state, "slot selected but confirmation control is missing: %w", err)
	}
	if err := m.session.Click(ctx, confirm); err != nil {
		return nil, stepErrf(model.ErrorKindBooking, state, "could not confirm booking: %w", err)
	}

	if _, err := m.waitLocate(ctx, flow.Confirmation); err != nil {
		return nil, stepErrf(model.ErrorKindBooking, state, "booking was not confirmed: %w", err)
	}

	b := &model.Booking{
		Confirmation: m.readText(ctx, flow.ConfirmationNumber),
		Date:         m.readText(ctx, flow.ConfirmationDate),
		Time:         m.readText(ctx, flow.ConfirmationTime),
		ProxyRegion:  m.task.ProxyRegion(),
	}
	m.snapshot(ctx, state)

	return b, nil
}

func (m *machine) readText(ctx context.Context, l browser.Locator) string {
	sel, found, err := browser.Locate(ctx, m.session, l)
	if err != nil || !found {
		m.logger.Warningf("Could not find %s on the confirmation", l)
		return ""
	}

	text, err := m.session.Text(ctx, sel)
	if err != nil {
		m.logger.Warningf("Could not read %s: %v", l, err)
		return ""
	}
	return text
}

// typeHuman types the text one keystroke at a time with random pauses.
func (m *machine) typeHuman(ctx context.Context, sel browser.Selector, text string) error {
	if err := m.session.SetValue(ctx, sel, ""); err != nil {
		return err
	}

	for _, r := range text {
		if err := m.session.SendKeys(ctx, sel, string(r)); err != nil {
			return err
		}
		if err := m.cfg.Sleep(ctx, m.cfg.KeyDelay()); err != nil {
			return err
		}
	}

	return nil
}

// waitLocate waits until the locator matches or the step timeout is reached.
func (m *machine) waitLocate(ctx context.Context, l browser.Locator) (browser.Selector, error) {
	var sel browser.Selector
	err := m.waitUntil(ctx, func(ctx context.Context) (bool, error) {
		s, found, err := browser.Locate(ctx, m.session, l)
		sel = s
		return found, err
	})
	if errors.Is(err, errConditionTimeout) {
		return sel, fmt.Errorf("%s: %w", l, browser.ErrElementNotFound)
	}
	return sel, err
}

func (m *machine) waitUntil(ctx context.Context, cond func(ctx context.Context) (bool, error)) error {
	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.StepTimeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, err := cond(waitCtx)
		if err != nil && waitCtx.Err() == nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errConditionTimeout
		case <-ticker.C:
		}
	}
}

func (m *machine) transition(s model.TaskState) {
	m.state = s
	m.transitions = append(m.transitions, model.Transition{State: s, At: m.cfg.Now()})
	m.logger.Debugf("Task state: %s", s)
}

func (m *machine) meta(start time.Time) model.OutcomeMeta {
	meta := model.OutcomeFromTask(m.task)
	meta.Duration = m.cfg.Now().Sub(start)
	meta.Transitions = m.transitions
	return meta
}

// snapshot stores a diagnostic snapshot of the page, errors are only logged.
func (m *machine) snapshot(ctx context.Context, state model.TaskState) {
	if m.cfg.SnapshotDir == "" || m.session == nil {
		return
	}

	// The task context could be already done (e.g timeouts).
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
	defer cancel()

	data, err := m.session.Snapshot(ctx)
	if err != nil {
		m.logger.Warningf("Could not capture snapshot: %v", err)
		return
	}

	if err := os.MkdirAll(m.cfg.SnapshotDir, 0o755); err != nil {
		m.logger.Warningf("Could not create snapshot directory: %v", err)
		return
	}
	path := filepath.Join(m.cfg.SnapshotDir, fmt.Sprintf("%s-%s.png", m.task.ID, state))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		m.logger.Warningf("Could not write snapshot: %v", err)
		return
	}

	m.logger.Infof("Snapshot stored at %s", path)
}

func (m *machine) release() {
	if m.session == nil {
		return
	}

	if err := m.session.Close(); err != nil {
		m.logger.Warningf("Could not release browser session: %v", err)
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
