package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	DatabaseURL      string // 指定があればPOSTGRES_*より優先
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     int

	JWTSecret string // JWT検証用シークレット（発行はしない）

	StripeSecretKey      string
	StripeWebhookSecret  string
	StripePublishableKey string // クライアントへ返す

	ReservationWindow time.Duration // 支払い可能期間（15m）
	ReaperInterval    time.Duration // 予約切れスイープ間隔（5m）
	ReaperBatchSize   int

	RedisAddr    string   // 空ならリースなし（単一インスタンス）
	KafkaBrokers []string // 空ならイベント発行なし
	KafkaTopic   string

	OTLPEndpoint string // 空ならトレース出力なし
	ServiceName  string

	GoEnv string // dev/prod
}

// Loadは .env → 環境変数 → (任意)設定ファイル の順で読む
func Load(configFile string) (Config, error) {
	//.envは無くてもよい
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("RESERVATION_WINDOW", "15m")
	v.SetDefault("REAPER_INTERVAL", "5m")
	v.SetDefault("REAPER_BATCH_SIZE", 100)
	v.SetDefault("KAFKA_TOPIC", "order-events")
	v.SetDefault("SERVICE_NAME", "order-engine")
	v.SetDefault("GO_ENV", "dev")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := Config{
		Port: v.GetString("PORT"),

		DatabaseURL:      v.GetString("DATABASE_URL"),
		PostgresUser:     v.GetString("POSTGRES_USER"),
		PostgresPassword: v.GetString("POSTGRES_PASSWORD"),
		PostgresDB:       v.GetString("POSTGRES_DB"),
		PostgresHost:     v.GetString("POSTGRES_HOST"),
		PostgresPort:     v.GetInt("POSTGRES_PORT"),

		JWTSecret: v.GetString("JWT_SECRET"),

		StripeSecretKey:      v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:  v.GetString("STRIPE_WEBHOOK_SECRET"),
		StripePublishableKey: v.GetString("STRIPE_PUBLISHABLE_KEY"),

		ReservationWindow: v.GetDuration("RESERVATION_WINDOW"),
		ReaperInterval:    v.GetDuration("REAPER_INTERVAL"),
		ReaperBatchSize:   v.GetInt("REAPER_BATCH_SIZE"),

		RedisAddr:    v.GetString("REDIS_ADDR"),
		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("KAFKA_TOPIC"),

		OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:  v.GetString("SERVICE_NAME"),

		GoEnv: v.GetString("GO_ENV"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	//必須チェック
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.DatabaseURL == "" {
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
		if c.PostgresPassword == "" {
			return fmt.Errorf("POSTGRES_PASSWORD is required")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required")
		}
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if c.StripePublishableKey == "" {
		return fmt.Errorf("STRIPE_PUBLISHABLE_KEY is required")
	}
	if c.ReservationWindow <= 0 {
		return fmt.Errorf("RESERVATION_WINDOW must be positive")
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be positive")
	}
	return nil
}

// DSN。DATABASE_URLがあればそのまま使う
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     c.PostgresDB,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func (c Config) IsProd() bool {
	return c.GoEnv == "prod"
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
