package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"tokentrust/pkg/executor"
	"tokentrust/pkg/marketdata"
	"tokentrust/pkg/trust"
)

type DatabaseSettings struct {
	// Driver is "postgres" or "sqlite".
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	// Path is the SQLite file or DSN.
	Path           string
	MigrationsPath string
}

type RabbitMQSettings struct {
	// Enabled is set when RABBITMQ_HOST is present in the environment.
	Enabled          bool
	Host             string
	Port             string
	User             string
	Password         string
	RecommendationQ  string
	TradeEventsQueue string
}

func (r RabbitMQSettings) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", r.User, r.Password, r.Host, r.Port)
}

// Settings is the process configuration, read from the environment.
type Settings struct {
	LogLevel string
	APIAddr  string

	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int

	Database DatabaseSettings
	RabbitMQ RabbitMQSettings

	DexScreenerURL   string
	ChainID          string
	MarketDataTTL    time.Duration
	// -1 disables the retry after HTTP 429; 0 uses the cache default.
	RateLimitRetries int

	JupiterURL   string
	RPCPrimary   string
	RPCFallbacks []string

	MinTradeSize float64
	SlippageBps  int
	TradeAmount  float64

	Trust trust.Config

	KeystoreDir      string
	WalletAddress    string
	KeystorePassword string

	MonitorSpec       string
	RecentTradeWindow time.Duration
}

// LoadSettings loads an optional .env file and reads the environment.
func LoadSettings(envFiles ...string) (*Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var errs []error
	s := &Settings{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		APIAddr:  getEnv("API_ADDR", ":8080"),

		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		RateLimitRPS:   getFloat("API_RATE_LIMIT_RPS", 10, &errs),
		RateLimitBurst: getInt("API_RATE_LIMIT_BURST", 20, &errs),
		Database: DatabaseSettings{
			Driver:         getEnv("DB_DRIVER", "postgres"),
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           os.Getenv("DB_USER"),
			Password:       os.Getenv("DB_PASSWORD"),
			Name:           getEnv("DB_NAME", "tokentrust"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			Path:           getEnv("DB_PATH", "tokentrust.db"),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		RabbitMQ: RabbitMQSettings{
			Enabled:          getEnv("RABBITMQ_HOST", "") != "",
			Host:             getEnv("RABBITMQ_HOST", "localhost"),
			Port:             getEnv("RABBITMQ_PORT", "5672"),
			User:             getEnv("RABBITMQ_USER", "guest"),
			Password:         getEnv("RABBITMQ_PASSWORD", "guest"),
			RecommendationQ:  getEnv("RECOMMENDATION_QUEUE", "token_recommendations"),
			TradeEventsQueue: getEnv("TRADE_EVENTS_QUEUE", "trade_events"),
		},
		DexScreenerURL:   getEnv("DEXSCREENER_URL", marketdata.DefaultBaseURL),
		ChainID:          getEnv("CHAIN_ID", marketdata.DefaultChainID),
		MarketDataTTL:    getDuration("MARKET_DATA_TTL", marketdata.DefaultTTL, &errs),
		RateLimitRetries: getInt("MARKET_DATA_RATE_LIMIT_RETRIES", marketdata.DefaultRateLimitRetries, &errs),
		JupiterURL:       os.Getenv("JUPITER_URL"),
		RPCPrimary:       os.Getenv("SOLANA_RPC_URL"),
		RPCFallbacks:     splitList(os.Getenv("SOLANA_RPC_FALLBACKS")),
		MinTradeSize:     getFloat("MIN_TRADE_SIZE", executor.DefaultMinTradeSize, &errs),
		SlippageBps:      getInt("SLIPPAGE_BPS", executor.DefaultSlippageBps, &errs),
		TradeAmount:      getFloat("TRADE_AMOUNT_SOL", 0.1, &errs),
		Trust: trust.Config{
			HighConfidenceThreshold: getFloat("HIGH_CONFIDENCE_THRESHOLD", trust.DefaultConfig().HighConfidenceThreshold, &errs),
			LowConfidenceThreshold:  getFloat("LOW_CONFIDENCE_THRESHOLD", trust.DefaultConfig().LowConfidenceThreshold, &errs),
			MinVolume24h:            getFloat("MIN_VOLUME_24H", trust.DefaultConfig().MinVolume24h, &errs),
		},
		KeystoreDir:       getEnv("KEYSTORE_DIR", "configs/keystore"),
		WalletAddress:     os.Getenv("WALLET_ADDRESS"),
		KeystorePassword:  os.Getenv("KEYSTORE_PASSWORD"),
		MonitorSpec:       getEnv("MONITOR_CRON", "@every 1m"),
		RecentTradeWindow: getDuration("RECENT_TRADE_WINDOW", time.Hour, &errs),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

// Validate checks settings every process needs.
func (s *Settings) Validate() error {
	var errs []error
	if err := s.Trust.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch s.Database.Driver {
	case "postgres":
		if s.Database.User == "" {
			errs = append(errs, errors.New("DB_USER is required for postgres"))
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", s.Database.Driver))
	}
	if s.MinTradeSize < 0 {
		errs = append(errs, fmt.Errorf("MIN_TRADE_SIZE must not be negative: %v", s.MinTradeSize))
	}
	if s.SlippageBps <= 0 || s.SlippageBps > 10_000 {
		errs = append(errs, fmt.Errorf("SLIPPAGE_BPS out of range: %d", s.SlippageBps))
	}
	if s.RateLimitRPS <= 0 || s.RateLimitBurst <= 0 {
		errs = append(errs, fmt.Errorf("API rate limit must be positive: %v rps, burst %d", s.RateLimitRPS, s.RateLimitBurst))
	}
	if s.RateLimitRetries < -1 {
		errs = append(errs, fmt.Errorf("MARKET_DATA_RATE_LIMIT_RETRIES must be -1 (disabled) or more: %d", s.RateLimitRetries))
	}
	return errors.Join(errs...)
}

// ValidateTrading checks the extra settings needed to submit trades.
func (s *Settings) ValidateTrading() error {
	var errs []error
	if s.RPCPrimary == "" {
		errs = append(errs, errors.New("SOLANA_RPC_URL is required"))
	}
	if s.WalletAddress == "" {
		errs = append(errs, errors.New("WALLET_ADDRESS is required"))
	}
	if s.KeystorePassword == "" {
		errs = append(errs, errors.New("KEYSTORE_PASSWORD is required"))
	}
	if s.TradeAmount < s.MinTradeSize {
		errs = append(errs, fmt.Errorf("TRADE_AMOUNT_SOL %v below MIN_TRADE_SIZE %v", s.TradeAmount, s.MinTradeSize))
	}
	return errors.Join(errs...)
}

// ConfigureLogging applies LOG_LEVEL to the standard logrus logger.
func (s *Settings) ConfigureLogging(json bool) {
	level, err := log.ParseLevel(s.LogLevel)
	if err != nil {
		log.WithField("level", s.LogLevel).Warn("unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if json {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getInt(key string, def int, errs *[]error) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func getFloat(key string, def float64, errs *[]error) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
