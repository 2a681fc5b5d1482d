// Package bot connects the listing services to Telegram: an outbound
// gateway for publishing and a dispatcher for inbound updates.
package bot

import (
	"context"
	"errors"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"listing-bot/core/format"
	"listing-bot/core/publish"
)

type Conf struct {
	Token      string `env:"BOT_TOKEN" required:"true"`
	WebhookURL string `env:"WEBHOOK_URL"`
	// WebhookSecret is the webhook path, required with WebhookURL.
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	WebAppURL     string        `env:"WEB_APP_URL"`
	StartText     string        `env:"START"`
	Timeout       time.Duration `env:"GATEWAY_TIMEOUT" default:"10s"`
	// APIEndpoint is a printf pattern of token and method.
	APIEndpoint string `env:"TELEGRAM_API_ENDPOINT" default:"https://api.telegram.org/bot%s/%s"`
}

var ErrNoWebhookSecret = errors.New("WEBHOOK_SECRET is required with WEBHOOK_URL")

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

func NewBotAPI(conf *Conf) (*tgbotapi.BotAPI, error) {
	client := &http.Client{Timeout: conf.Timeout}
	return tgbotapi.NewBotAPIWithClient(conf.Token, conf.APIEndpoint, client)
}

// Telegram implements publish.Gateway with the Bot API.
type Telegram struct {
	api botAPI
}

func NewTelegram(api botAPI) *Telegram {
	return &Telegram{api: api}
}

func (t *Telegram) Send(ctx context.Context, msg publish.Outgoing) (publish.MessageRef, error) {
	var cfg tgbotapi.MessageConfig
	if id, ok := msg.Chat.Int64(); ok {
		cfg = tgbotapi.NewMessage(id, msg.Text)
	} else {
		cfg = tgbotapi.NewMessageToChannel(string(msg.Chat), msg.Text)
	}
	cfg.ParseMode = tgbotapi.ModeHTML
	cfg.DisableWebPagePreview = true
	if len(msg.Keyboard) > 0 {
		cfg.ReplyMarkup = inlineKeyboard(msg.Keyboard)
	}

	sent, err := call(ctx, "send", func() (tgbotapi.Message, error) { return t.api.Send(cfg) })
	if err != nil {
		return publish.MessageRef{}, err
	}
	return publish.MessageRef{Chat: msg.Chat, MessageID: sent.MessageID}, nil
}

// EditText replaces the message text. The edit carries no reply markup, so
// Telegram drops the inline keyboard.
func (t *Telegram) EditText(ctx context.Context, ref publish.MessageRef, text string) error {
	cfg := tgbotapi.EditMessageTextConfig{
		BaseEdit:              tgbotapi.BaseEdit{MessageID: ref.MessageID},
		Text:                  text,
		ParseMode:             tgbotapi.ModeHTML,
		DisableWebPagePreview: true,
	}
	if id, ok := ref.Chat.Int64(); ok {
		cfg.ChatID = id
	} else {
		cfg.ChannelUsername = string(ref.Chat)
	}

	_, err := call(ctx, "edit", func() (*tgbotapi.APIResponse, error) { return t.api.Request(cfg) })
	return err
}

func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	_, err := call(ctx, "answer", func() (*tgbotapi.APIResponse, error) {
		return t.api.Request(tgbotapi.NewCallback(callbackID, text))
	})
	return err
}

// call runs fn but gives up when ctx is done. The http client timeout
// bounds the abandoned request.
func call[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, &publish.GatewayError{Op: op, Err: err}
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return zero, &publish.GatewayError{Op: op, Err: ctx.Err()}
	case r := <-done:
		if r.err != nil {
			return zero, &publish.GatewayError{Op: op, Err: r.err}
		}
		return r.v, nil
	}
}

func inlineKeyboard(kb format.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.CallbackData))
			}
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

var _ publish.Gateway = (*Telegram)(nil)
