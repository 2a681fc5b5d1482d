package bot

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"

	"listing-bot/core/format"
	"listing-bot/core/publish"
)

const (
	defaultStartText = "✨ Добро пожаловать!\n\n" +
		"💱 Чтобы посмотреть объявления, откройте приложение кнопкой ниже.\n\n" +
		"🤖 Там же можно разместить своё объявление.\n\n" +
		"ℹ️ О боте /help"
	noUsernameText = "🛂 Чтобы пользоваться ботом, укажите имя пользователя в настройках Telegram: " +
		"«Изменить профиль» → «Имя пользователя»."
	helpText = "📣 Бот объявлений\n\n" +
		"1️⃣ Создание: заполните форму в приложении, объявление появится в общем канале, " +
		"а вам придёт копия с кнопкой снятия с публикации.\n" +
		"2️⃣ Просмотр: фильтруйте объявления по городу, валютам, маршруту и цене.\n" +
		"3️⃣ Снятие: нажмите «❌ Снять с публикации» под своей копией."
	openAppLabel  = "📲 Открыть приложение"
	unknownAction = "Неизвестное действие."
)

type Retracter interface {
	Retract(ctx context.Context, cb publish.Callback) error
}

type Users interface {
	RegisterUser(ctx context.Context, telegramID int64, username string) error
}

// Dispatcher routes inbound updates: commands, and retract button presses.
type Dispatcher struct {
	api       botAPI
	retracter Retracter
	users     Users
	conf      *Conf
}

func NewDispatcher(api botAPI, retracter Retracter, users Users, conf *Conf) *Dispatcher {
	return &Dispatcher{api: api, retracter: retracter, users: users, conf: conf}
}

// Handle processes one update. It never panics.
func (d *Dispatcher) Handle(ctx context.Context, u tgbotapi.Update) {
	defer func() {
		if err := recover(); err != nil {
			slog.ErrorContext(ctx, "recovering panic while handling update", "updateId", u.UpdateID, "err", err, "stack", string(debug.Stack()))
			if u.CallbackQuery != nil {
				d.answer(ctx, u.CallbackQuery.ID, publish.FailureNotice)
			}
		}
	}()

	switch {
	case u.CallbackQuery != nil:
		d.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.IsCommand():
		d.handleCommand(ctx, u.Message)
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, m *tgbotapi.Message) {
	switch m.Command() {
	case "start":
		d.start(ctx, m)
	case "help":
		d.reply(ctx, tgbotapi.NewMessage(m.Chat.ID, helpText))
	}
}

func (d *Dispatcher) start(ctx context.Context, m *tgbotapi.Message) {
	username := m.Chat.UserName
	if username == "" && m.From != nil {
		username = m.From.UserName
	}
	if username == "" {
		d.reply(ctx, tgbotapi.NewMessage(m.Chat.ID, noUsernameText))
		return
	}

	if err := d.users.RegisterUser(ctx, m.Chat.ID, username); err != nil {
		slog.ErrorContext(ctx, "can not register user", "chatId", m.Chat.ID, "err", err)
	}

	text := d.conf.StartText
	if text == "" {
		text = defaultStartText
	}
	msg := tgbotapi.NewMessage(m.Chat.ID, text)
	msg.DisableWebPagePreview = true
	if d.conf.WebAppURL != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(openAppLabel, d.conf.WebAppURL)),
		)
	}
	d.reply(ctx, msg)
}

func (d *Dispatcher) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	token, ok := strings.CutPrefix(q.Data, format.RetractPrefix)
	if !ok || q.Message == nil || q.Message.Chat == nil {
		d.answer(ctx, q.ID, unknownAction)
		return
	}

	err := d.retracter.Retract(ctx, publish.Callback{
		ID:    q.ID,
		Token: token,
		Message: publish.MessageRef{
			Chat:      publish.ChatID(q.Message.Chat.ID),
			MessageID: q.Message.MessageID,
		},
		Text: q.Message.Text,
	})
	if err != nil {
		slog.ErrorContext(ctx, "retraction failed", "callbackId", q.ID, "err", err)
	}
}

func (d *Dispatcher) answer(ctx context.Context, callbackID, text string) {
	if _, err := d.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		slog.ErrorContext(ctx, "can not answer the callback", "callbackId", callbackID, "err", err)
	}
}

func (d *Dispatcher) reply(ctx context.Context, c tgbotapi.Chattable) {
	if _, err := d.api.Send(c); err != nil {
		slog.ErrorContext(ctx, "can not reply", "err", err)
	}
}

// Poll handles updates from long polling until ctx is done or the channel
// closes.
func (d *Dispatcher) Poll(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			go d.Handle(ctx, u)
		}
	}
}

// WebhookHandler accepts updates pushed by Telegram.
func (d *Dispatcher) WebhookHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var u tgbotapi.Update
		if err := json.Unmarshal(c.Body(), &u); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid update")
		}

		d.Handle(c.UserContext(), u)
		return c.SendStatus(fiber.StatusOK)
	}
}

// SetupTransport registers the webhook when WebhookURL is set and removes
// it otherwise, so that long polling works.
func SetupTransport(api *tgbotapi.BotAPI, conf *Conf) error {
	if conf.WebhookURL == "" {
		_, err := api.Request(tgbotapi.DeleteWebhookConfig{})
		return err
	}
	if conf.WebhookSecret == "" {
		return ErrNoWebhookSecret
	}

	wh, err := tgbotapi.NewWebhook(strings.TrimSuffix(conf.WebhookURL, "/") + "/" + conf.WebhookSecret)
	if err != nil {
		return err
	}
	_, err = api.Request(wh)
	return err
}
