package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"listing-bot/config"
	"listing-bot/core/api"
	"listing-bot/core/bot"
	"listing-bot/core/events"
	"listing-bot/core/listings"
	"listing-bot/core/publish"
	"listing-bot/core/repo"
	"listing-bot/core/repo/cache"
	"listing-bot/core/repo/memstore"
	"listing-bot/pkg/observe"
)

type backend interface {
	listings.Store
	publish.Publications
	bot.Users
}

type storage struct {
	backend
	ping  func(ctx context.Context) error
	close func(ctx context.Context) error
}

func newStorage(conf *config.Config) storage {
	if conf.Store == "memory" {
		slog.Warn("using the in-memory store, listings are lost on restart")
		return storage{backend: memstore.New(), close: func(context.Context) error { return nil }}
	}

	mongoCli, err := repo.NewInsecureMongoCli(&conf.Mongo)
	if err != nil {
		panic(fmt.Errorf("can't create mongodb client: %w", err))
	}

	mongoRepo, err := repo.NewMongoRepo(mongoCli, conf.Mongo.Database)
	if err != nil {
		panic(fmt.Errorf("can't create mongodb repo: %w", err))
	}

	return storage{backend: mongoRepo, ping: mongoRepo.Ping, close: mongoCli.Disconnect}
}

func setupLogger(conf config.LogConf) {
	opts := &slog.HandlerOptions{Level: conf.SlogLevel()}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if conf.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	conf, err := config.New()
	if err != nil {
		panic(err)
	}

	setupLogger(conf.Log)

	observeOpts := observe.Options().
		WithService("listing-bot", "listings").
		EnableMeterProvider().
		EnableRuntimeMetrics()
	if conf.Otel.TracesEndpoint != "" {
		observeOpts.EnableTraceProvider(conf.Otel.TracesEndpoint, conf.Otel.Insecure)
	}

	otelShutdown, err := observe.SetupOTelSDK(context.TODO(), observeOpts)
	if err != nil {
		panic(fmt.Errorf("can't setup opentelementry: %w", err))
	}

	store := newStorage(conf)

	var listingStore listings.Store = store.backend
	if conf.Cache.Addr != "" {
		listingStore = cache.New(store.backend, cache.NewClient(&conf.Cache), conf.Cache.TTL)
	}

	sink, err := events.NewPublisher(&conf.Events)
	if err != nil {
		panic(fmt.Errorf("can't create event publisher: %w", err))
	}

	botAPI, err := bot.NewBotAPI(&conf.Bot)
	if err != nil {
		panic(fmt.Errorf("can't connect to telegram: %w", err))
	}
	if err := bot.SetupTransport(botAPI, &conf.Bot); err != nil {
		panic(fmt.Errorf("can't set up telegram updates: %w", err))
	}

	publisher := publish.NewService(&conf.Publish, listingStore, store.backend, bot.NewTelegram(botAPI), sink)
	dispatcher := bot.NewDispatcher(botAPI, publisher, store.backend, &conf.Bot)

	deps := api.Deps{
		Publisher: publisher,
		Browser:   listings.NewBrowser(listingStore, conf.API.BrowseRequired),
		BotToken:  conf.Bot.Token,
		Ping:      store.ping,
	}
	if conf.Bot.WebhookURL != "" {
		deps.Webhook = dispatcher.WebhookHandler()
		deps.WebhookPath = conf.Bot.WebhookSecret
	}

	app := api.NewApp(&conf.API, deps)

	ctx, cancel := context.WithCancel(context.Background())

	cli := huma.NewCLI(func(hooks huma.Hooks, options *api.Options) {
		hooks.OnStart(func() {
			go publisher.RunReconciler(ctx)

			if conf.Bot.WebhookURL == "" {
				u := tgbotapi.NewUpdate(0)
				u.Timeout = 60
				go dispatcher.Poll(ctx, botAPI.GetUpdatesChan(u))
			}

			slog.Info("starting server", "port", options.Port, "bot", botAPI.Self.UserName)
			if err := app.Listen(":" + strconv.Itoa(options.Port)); err != nil {
				slog.Error("server stopped", "err", err)
			}
		})

		hooks.OnStop(func() {
			cancel()
			botAPI.StopReceivingUpdates()

			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()

			if err := app.ShutdownWithContext(shutdownCtx); err != nil {
				slog.Error("can't shutdown the server", "err", err)
			}
			if err := sink.Close(); err != nil {
				slog.Error("can't close the event publisher", "err", err)
			}
			if err := store.close(shutdownCtx); err != nil {
				slog.Error("can't close the store", "err", err)
			}
			if err := otelShutdown(shutdownCtx); err != nil {
				slog.Error("can't shutdown opentelemetry", "err", err)
			}
		})
	})

	cli.Run()
}
