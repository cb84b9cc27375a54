package booking

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/slok/slotrunner/internal/browser"
	"github.com/slok/slotrunner/internal/model"
)

// LoginResult is the classification of a login submission response.
type LoginResult string

const (
	LoginResultOK                LoginResult = "ok"
	LoginResultChallengeRejected LoginResult = "challenge_rejected"
	LoginResultSecurityBlock     LoginResult = "security_block"
	LoginResultRateLimited       LoginResult = "rate_limited"
	LoginResultRejected          LoginResult = "rejected"
	// LoginResultUnrecognized is a response shape we don't know, the post-condition
	// check decides.
	LoginResultUnrecognized LoginResult = "unrecognized"
)

// ErrorKind returns the outcome error kind of a failed login result, empty if the
// result is not a failure.
func (r LoginResult) ErrorKind() model.ErrorKind {
	switch r {
	case LoginResultChallengeRejected:
		return model.ErrorKindChallenge
	case LoginResultSecurityBlock:
		return model.ErrorKindAuthSecurityBlock
	case LoginResultRateLimited:
		return model.ErrorKindAuthRateLimited
	case LoginResultRejected:
		return model.ErrorKindAuthRejected
	default:
		return ""
	}
}

// ClassifyLoginResponse classifies the login response payload. Markers are checked
// in order, the first one that matches wins.
func ClassifyLoginResponse(r *browser.Response) LoginResult {
	if r == nil {
		return LoginResultUnrecognized
	}
	if r.Status == http.StatusTooManyRequests {
		return LoginResultRateLimited
	}

	switch {
	case strings.Contains(r.Body, "ReCaptchaError"):
		return LoginResultChallengeRejected
	case strings.Contains(r.Body, "secblock"):
		return LoginResultSecurityBlock
	}

	// Only JSON payloads carry error fields, anything else is left to the post-condition.
	body := strings.TrimSpace(r.Body)
	if body != "" {
		if !gjson.Valid(body) {
			return LoginResultUnrecognized
		}
		if hasErrorField(body) {
			return LoginResultRejected
		}
	}

	if r.Status >= 200 && r.Status < 400 {
		return LoginResultOK
	}
	return LoginResultUnrecognized
}

// hasErrorField returns true when the payload reports an error through its `error` or
// `status` fields. Zero values don't count.
func hasErrorField(body string) bool {
	if strings.EqualFold(gjson.Get(body, "status").String(), "error") {
		return true
	}

	v := gjson.Get(body, "error")
	if !v.Exists() {
		return false
	}
	switch v.Type {
	case gjson.String:
		s := strings.TrimSpace(v.String())
		return s != "" && s != "0" && !strings.EqualFold(s, "false")
	case gjson.True:
		return true
	case gjson.Number:
		return v.Float() != 0
	case gjson.JSON:
		return v.IsObject() && len(v.Map()) > 0 || v.IsArray() && len(v.Array()) > 0
	default:
		return false
	}
}
