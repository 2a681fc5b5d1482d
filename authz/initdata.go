// Package authz resolves the Telegram identity behind an HTTP request from
// Mini App init data.
package authz

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	initdata "github.com/telegram-mini-apps/init-data-golang"
)

const authScheme = "tma "

// Identity is a Telegram user verified by the init data signature.
// In private chats the user id is also the chat id.
type Identity struct {
	ID       int64
	Username string
}

type identityKeyType string

var identityCtxKey = identityKeyType("identity")

// NewInitDataMiddleware verifies "Authorization: tma <initData>" against the
// bot token and stores the Identity in the user context. Mutating requests
// without valid init data are rejected when enforce is set; otherwise they
// pass through anonymously.
func NewInitDataMiddleware(botToken string, expIn time.Duration, enforce bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), authScheme)
		if !ok {
			if enforce && isMutating(c.Method()) {
				return fiber.NewError(fiber.StatusUnauthorized, "init data required")
			}
			return c.Next()
		}

		if err := initdata.Validate(raw, botToken, expIn); err != nil {
			slog.DebugContext(c.UserContext(), "rejecting init data", "err", err)
			return fiber.NewError(fiber.StatusUnauthorized, "invalid init data")
		}

		data, err := initdata.Parse(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "malformed init data")
		}

		id := Identity{ID: data.User.ID, Username: data.User.Username}
		c.SetUserContext(WithIdentity(c.UserContext(), id))
		return c.Next()
	}
}

// IdentityFromCtx returns the verified user, false for anonymous requests.
func IdentityFromCtx(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey).(Identity)
	return id, ok
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, id)
}

func isMutating(method string) bool {
	return method != fiber.MethodGet && method != fiber.MethodHead && method != fiber.MethodOptions
}
