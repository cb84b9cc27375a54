package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/notify"
)

// NotifierConfig is the configuration of the Telegram notifier.
type NotifierConfig struct {
	Token  string
	ChatID int64
	// APIEndpoint is the Bot API endpoint format, by default the official one.
	APIEndpoint string
	Logger      log.Logger
}

func (c *NotifierConfig) defaults() error {
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}

	if c.ChatID == 0 {
		return fmt.Errorf("chat ID is required")
	}

	if c.APIEndpoint == "" {
		c.APIEndpoint = tgbotapi.APIEndpoint
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "notify.Telegram"})
	return nil
}

// Notifier sends the notifications as Telegram messages.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger log.Logger
}

var _ notify.Notifier = &Notifier{}

// NewNotifier returns a new Telegram notifier, it validates the token with the API.
func NewNotifier(cfg NotifierConfig) (*Notifier, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, cfg.APIEndpoint)
	if err != nil {
		return nil, fmt.Errorf("could not connect to telegram bot API: %w", err)
	}
	cfg.Logger.Debugf("Authorized on telegram bot %s", api.Self.UserName)

	return &Notifier{
		api:    api,
		chatID: cfg.ChatID,
		logger: cfg.Logger,
	}, nil
}

// Send satisfies notify.Notifier.
func (n *Notifier) Send(ctx context.Context, e notify.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, notify.Message(e))
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("could not send telegram message: %w", err)
	}

	n.logger.Debugf("Sent %s notification", e.Kind)
	return nil
}
