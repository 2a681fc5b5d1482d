package config

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"

	"listing-bot/core/api"
	"listing-bot/core/bot"
	"listing-bot/core/events"
	"listing-bot/core/publish"
	"listing-bot/core/repo"
	"listing-bot/core/repo/cache"
)

type LogConf struct {
	Level  string `env:"LOG_LEVEL" default:"info"`
	Format string `env:"LOG_FORMAT" default:"text"`
}

type OtelConf struct {
	// TracesEndpoint enables the otlp http exporter, e.g. "localhost:4318".
	TracesEndpoint string `env:"OTEL_TRACES_ENDPOINT"`
	Insecure       bool   `env:"OTEL_INSECURE" default:"true"`
}

// Config is built once at startup and handed to every component.
type Config struct {
	// Store selects the listing backend: "mongo" or "memory".
	Store string `env:"STORE" default:"mongo"`

	Log     LogConf
	Otel    OtelConf
	Mongo   repo.MongoConf
	Cache   cache.Conf
	Events  events.Conf
	Bot     bot.Conf
	Publish publish.Conf
	API     api.Conf
}

// New reads an optional .env file and then the process environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	conf := &Config{}
	if err := Parse(conf); err != nil {
		return nil, err
	}

	if conf.Store != "mongo" && conf.Store != "memory" {
		return nil, errors.New("STORE must be mongo or memory")
	}

	return conf, nil
}

func (l LogConf) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
