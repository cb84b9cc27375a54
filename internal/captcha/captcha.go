package captcha

import (
	"context"
	"errors"

	"github.com/slok/slotrunner/internal/model"
)

// ChallengeType is the kind of bot verification challenge.
type ChallengeType string

const (
	ChallengeTypeReCaptchaV2 ChallengeType = "recaptcha_v2"
	ChallengeTypeReCaptchaV3 ChallengeType = "recaptcha_v3"
	ChallengeTypeTurnstile   ChallengeType = "turnstile"
)

// ErrUnsolvable is returned when the service couldn't solve the challenge.
var ErrUnsolvable = errors.New("challenge unsolvable")

// Challenge is the descriptor of a challenge found on a page.
type Challenge struct {
	Type    ChallengeType
	SiteURL string
	SiteKey string
}

// Solver solves challenges into redeemable tokens.
type Solver interface {
	// Solve returns the token for the challenge, the proxy is optional and when set the
	// challenge is solved from the same egress as the task.
	Solve(ctx context.Context, ch Challenge, proxy *model.ProxyEndpoint) (string, error)
	// Balance returns the account balance of the service.
	Balance(ctx context.Context) (float64, error)
}

// Static is a solver that always returns the same token, used for dry runs.
type Static string

func (s Static) Solve(ctx context.Context, ch Challenge, proxy *model.ProxyEndpoint) (string, error) {
	return string(s), nil
}

func (s Static) Balance(ctx context.Context) (float64, error) { return 0, nil }
