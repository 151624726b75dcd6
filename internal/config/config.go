package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

type Config struct {
	Bind          string
	TLSCert       string
	TLSKey        string
	AllowedOrigin string

	LogLevel  string
	LogFormat string

	Backend string
	DBPath  string
	DBDSN   string

	FallbackChannel string

	MaxFrameBytes int64
	SendBuffer    int
	ActionRate    rate.Limit
	ActionBurst   int
	HTTPRate      rate.Limit
	HTTPBurst     int

	AMQPURL      string
	AMQPExchange string
	OTLPEndpoint string

	MaintenanceSchedule string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bind", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("db.backend", "sqlite")
	v.SetDefault("db.path", "./data/murmur.db")
	v.SetDefault("store.fallback_channel", "general")
	v.SetDefault("ws.max_frame_size", "64KB")
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.action_rate", 20)
	v.SetDefault("ws.action_burst", 40)
	v.SetDefault("http.rate", 10)
	v.SetDefault("http.burst", 20)
	v.SetDefault("amqp.exchange", "murmur.events")
	v.SetDefault("maintenance.schedule", "@every 30m")
}

func replacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

// Load reads .env, then settings.toml from . or .., then MURMUR_* environment
// variables. Later sources win.
func Load() (Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("settings")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.SetEnvPrefix("MURMUR")
	v.SetEnvKeyReplacer(replacer())
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read settings: %w", err)
		}
	}
	return FromViper(v)
}

func FromViper(v *viper.Viper) (Config, error) {
	frame, err := humanize.ParseBytes(v.GetString("ws.max_frame_size"))
	if err != nil {
		return Config{}, fmt.Errorf("ws.max_frame_size: %w", err)
	}

	cfg := Config{
		Bind:                v.GetString("bind"),
		TLSCert:             v.GetString("tls.cert"),
		TLSKey:              v.GetString("tls.key"),
		AllowedOrigin:       v.GetString("allowed_origin"),
		LogLevel:            v.GetString("log.level"),
		LogFormat:           v.GetString("log.format"),
		Backend:             v.GetString("db.backend"),
		DBPath:              v.GetString("db.path"),
		DBDSN:               v.GetString("db.dsn"),
		FallbackChannel:     v.GetString("store.fallback_channel"),
		MaxFrameBytes:       int64(frame),
		SendBuffer:          v.GetInt("ws.send_buffer"),
		ActionRate:          rate.Limit(v.GetFloat64("ws.action_rate")),
		ActionBurst:         v.GetInt("ws.action_burst"),
		HTTPRate:            rate.Limit(v.GetFloat64("http.rate")),
		HTTPBurst:           v.GetInt("http.burst"),
		AMQPURL:             v.GetString("amqp.url"),
		AMQPExchange:        v.GetString("amqp.exchange"),
		OTLPEndpoint:        v.GetString("otel.endpoint"),
		MaintenanceSchedule: v.GetString("maintenance.schedule"),
	}
	if cfg.SendBuffer <= 0 {
		return Config{}, fmt.Errorf("ws.send_buffer must be positive, got %d", cfg.SendBuffer)
	}
	if cfg.Backend == "postgres" && cfg.DBDSN == "" {
		return Config{}, errors.New("db.dsn is required for the postgres backend")
	}
	return cfg, nil
}
