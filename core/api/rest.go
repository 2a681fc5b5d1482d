package api

import (
	"context"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humafiber"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberRecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"listing-bot/authz"
	"listing-bot/core/listings"
	"listing-bot/version"
)

// Options for the CLI.
type Options struct {
	Port int `help:"Port to listen on" short:"p" default:"3000"`
}

type Conf struct {
	// VerifyInitData rejects writes without valid Telegram Mini App init data.
	VerifyInitData bool          `env:"VERIFY_INIT_DATA" default:"false"`
	InitDataTTL    time.Duration `env:"INIT_DATA_TTL" default:"24h"`
	CORSOrigins    []string      `env:"CORS_ORIGINS"`

	// BrowseRequired lists query params that must be set on browse requests.
	BrowseRequired []string `env:"BROWSE_REQUIRED"`

	RateLimit  int           `env:"RATE_LIMIT" default:"100"`
	RateWindow time.Duration `env:"RATE_LIMIT_WINDOW" default:"15m"`
}

type ResBody[T any] struct {
	Body T
}

// Deps are the services behind the HTTP surface.
type Deps struct {
	Publisher Publisher
	Browser   Browser
	BotToken  string

	// Ping reports store readiness.
	Ping func(ctx context.Context) error

	// Webhook, when set, receives Telegram updates on WebhookPath.
	Webhook     fiber.Handler
	WebhookPath string
}

func setFiberMiddleWares(app *fiber.App, conf *Conf) {
	app.Use(fiberRecover.New())
	app.Use(requestid.New())
	app.Use(otelfiber.Middleware(otelfiber.WithTracerProvider(otel.GetTracerProvider())))
	app.Use(helmet.New())
	app.Use(compress.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins(conf.CORSOrigins),
		AllowMethods: "GET,POST,DELETE",
		AllowHeaders: "Origin, X-Requested-With, Content-Type, Accept, Authorization",
	}))
}

func allowOrigins(origins []string) string {
	if len(origins) == 0 {
		return "*"
	}
	return strings.Join(origins, ",")
}

func registerEndpoints(api huma.API, handler Handler) {
	for _, r := range []struct {
		id, path string
		kind     listings.Kind
	}{
		{"create-listing", "/api/listings", ""},
		{"create-exchange", "/api/sendMessage", listings.KindExchange},
		{"create-cargo", "/api/cargos", listings.KindCargo},
	} {
		huma.Register(api, huma.Operation{
			OperationID:   r.id,
			Summary:       "Publish a listing",
			Description:   "Stores the listing, posts it to the public chat and sends the owner a copy with a retract button. Responds with the rendered text.",
			Method:        fiber.MethodPost,
			Path:          r.path,
			DefaultStatus: fiber.StatusCreated,
		}, handler.create(r.kind))
	}

	for _, r := range []struct {
		id, path string
		kind     listings.Kind
	}{
		{"browse-listings", "/api/listings", ""},
		{"browse-exchanges", "/api/getOrders", listings.KindExchange},
		{"browse-cargos", "/api/cargos", listings.KindCargo},
	} {
		huma.Register(api, huma.Operation{
			OperationID: r.id,
			Summary:     "Browse listings",
			Method:      fiber.MethodGet,
			Path:        r.path,
		}, handler.browse(r.kind))
	}

	for id, path := range map[string]string{
		"delete-listing": "/api/listings/{id}",
		"delete-cargo":   "/api/cargos/{id}",
	} {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Summary:     "Delete a listing and mark its messages retracted",
			Method:      fiber.MethodDelete,
			Path:        path,
		}, handler.delete)
	}
}

// NewApp builds the fiber app with the REST API, health probes, metrics and
// the optional Telegram webhook.
func NewApp(conf *Conf, deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{AppName: "listing-bot " + version.Version})

	setFiberMiddleWares(app, conf)

	app.Use(healthcheck.New(healthcheck.Config{
		ReadinessProbe: func(c *fiber.Ctx) bool {
			if deps.Ping == nil {
				return true
			}
			ctx, cancel := context.WithTimeout(c.UserContext(), 700*time.Millisecond)
			defer cancel()
			return deps.Ping(ctx) == nil
		},
	}))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	if deps.Webhook != nil {
		app.Post("/"+strings.TrimPrefix(deps.WebhookPath, "/"), deps.Webhook)
	}

	app.Use("/api", limiter.New(limiter.Config{Max: conf.RateLimit, Expiration: conf.RateWindow}))
	app.Use("/api", authz.NewInitDataMiddleware(deps.BotToken, conf.InitDataTTL, conf.VerifyInitData))
	app.Use("/api", func(c *fiber.Ctx) error {
		c.Locals(userContextKey, c.UserContext())
		return c.Next()
	})

	api := humafiber.New(app, huma.DefaultConfig("Listing API", version.Version))

	api.UseMiddleware(func(ctx huma.Context, next func(huma.Context)) {
		next(fiberHumaCtx{ctx}) // to use fiber's Ctx.Context() and Ctx.UserContext()
	})

	registerEndpoints(api, NewHandler(deps.Publisher, deps.Browser))

	return app
}

type humaCtx = huma.Context
type fiberHumaCtx struct {
	humaCtx
}

func (c fiberHumaCtx) Context() context.Context {
	return ctx{c.humaCtx.Context()}
}

// userContextKey is the fiber local holding Ctx.UserContext() for huma
// handlers.
const userContextKey = "userContext"

// ctx merges values from fiber's UserContext() into context.Context
type ctx struct {
	context.Context
}

func (c ctx) Value(key any) any {
	v := c.Context.Value(key)
	if v != nil {
		return v
	}

	fiberUserCtx, ok := c.Context.Value(userContextKey).(context.Context)
	if ok {
		return fiberUserCtx.Value(key)
	}

	return nil
}
