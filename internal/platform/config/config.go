package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultShippingFlatFeeVnd       = int64(30000)
	defaultShippingFreeThresholdVnd = int64(500000)

	defaultVNPayVersion  = "2.1.0"
	defaultVNPayCommand  = "pay"
	defaultVNPayCurrCode = "VND"
	defaultVNPayLocale   = "vn"
	defaultVNPayTimeZone = "Asia/Ho_Chi_Minh"

	defaultIdempotencyHeader = "Idempotency-Key"
	defaultIdempotencyTTL    = 24 * time.Hour

	defaultKafkaOrderEventsTopic = "orders.events"
)

// Config captures all runtime configuration organised by concern. Business
// logic receives the relevant section at construction time and never reads
// process state itself.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Shipping     ShippingConfig
	BankTransfer BankTransferConfig
	VNPay        VNPayConfig
	Idempotency  IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN renders the GORM/pgx connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode)
}

// RedisConfig holds the optional Redis settings backing the idempotency store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig holds the optional event stream settings.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ShippingConfig exposes the flat-fee/free-threshold shipping policy.
type ShippingConfig struct {
	FlatFeeVnd       int64
	FreeThresholdVnd int64
}

// FeeFor returns the shipping fee for the given subtotal.
func (c ShippingConfig) FeeFor(subtotalVnd int64) int64 {
	if subtotalVnd >= c.FreeThresholdVnd {
		return 0
	}
	return c.FlatFeeVnd
}

// BankTransferConfig carries the manual transfer instruction templates. The
// note template may contain the {orderId} placeholder.
type BankTransferConfig struct {
	InstructionsImageURL string
	NoteTemplate         string
}

// NoteFor substitutes the order id into the transfer note template.
func (c BankTransferConfig) NoteFor(orderID uint) string {
	return strings.ReplaceAll(c.NoteTemplate, "{orderId}", strconv.FormatUint(uint64(orderID), 10))
}

// VNPayConfig collects the gateway protocol settings and secret.
type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	GatewayURL string
	ReturnURL  string
	Version    string
	Command    string
	CurrCode   string
	Locale     string
	TimeZone   string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// Option customises Load behaviour.
type Option func(*loader)

type loader struct {
	envFile string
	lookup  func(string) (string, bool)
}

// WithEnvFile overrides the .env file consulted before the process environment.
func WithEnvFile(path string) Option {
	return func(l *loader) {
		if strings.TrimSpace(path) != "" {
			l.envFile = path
		}
	}
}

// WithLookup overrides the environment lookup, primarily for tests.
func WithLookup(lookup func(string) (string, bool)) Option {
	return func(l *loader) {
		if lookup != nil {
			l.lookup = lookup
		}
	}
}

// Load reads configuration from the optional env file and the process
// environment, applies defaults, and validates required settings.
func Load(opts ...Option) (Config, error) {
	l := loader{
		envFile: defaultEnvFile,
		lookup:  os.LookupEnv,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&l)
		}
	}

	fileValues, err := readEnvFile(l.envFile)
	if err != nil {
		return Config{}, err
	}
	get := func(key string) string {
		if value, ok := l.lookup(key); ok {
			return strings.TrimSpace(value)
		}
		return strings.TrimSpace(fileValues[key])
	}
	getDefault := func(key, fallback string) string {
		if value := get(key); value != "" {
			return value
		}
		return fallback
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         getDefault("PORT", defaultPort),
			ReadTimeout:  durationOrDefault(get("SERVER_READ_TIMEOUT"), defaultReadTimeout),
			WriteTimeout: durationOrDefault(get("SERVER_WRITE_TIMEOUT"), defaultWriteTimeout),
			IdleTimeout:  durationOrDefault(get("SERVER_IDLE_TIMEOUT"), defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			Host:     getDefault("DB_HOST", "localhost"),
			Port:     getDefault("DB_PORT", "5432"),
			User:     getDefault("DB_USER", "postgres"),
			Password: get("DB_PASSWORD"),
			Name:     getDefault("DB_NAME", "storefront"),
			SSLMode:  getDefault("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     get("REDIS_ADDR"),
			Password: get("REDIS_PASSWORD"),
			DB:       intOrDefault(get("REDIS_DB"), 0),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(get("KAFKA_BROKERS")),
			Topic:   getDefault("KAFKA_ORDER_EVENTS_TOPIC", defaultKafkaOrderEventsTopic),
		},
		Shipping: ShippingConfig{
			FlatFeeVnd:       int64OrDefault(get("SHIPPING_FLAT_FEE_VND"), defaultShippingFlatFeeVnd),
			FreeThresholdVnd: int64OrDefault(get("SHIPPING_FREE_THRESHOLD_VND"), defaultShippingFreeThresholdVnd),
		},
		BankTransfer: BankTransferConfig{
			InstructionsImageURL: get("BANK_TRANSFER_QR_IMAGE_URL"),
			NoteTemplate:         getDefault("BANK_TRANSFER_NOTE_TEMPLATE", "Thanh toan don hang {orderId}"),
		},
		VNPay: VNPayConfig{
			TmnCode:    get("VNPAY_TMN_CODE"),
			HashSecret: get("VNPAY_HASH_SECRET"),
			GatewayURL: get("VNPAY_GATEWAY_URL"),
			ReturnURL:  get("VNPAY_RETURN_URL"),
			Version:    getDefault("VNPAY_VERSION", defaultVNPayVersion),
			Command:    getDefault("VNPAY_COMMAND", defaultVNPayCommand),
			CurrCode:   getDefault("VNPAY_CURR_CODE", defaultVNPayCurrCode),
			Locale:     getDefault("VNPAY_LOCALE", defaultVNPayLocale),
			TimeZone:   getDefault("VNPAY_TIME_ZONE", defaultVNPayTimeZone),
		},
		Idempotency: IdempotencyConfig{
			Header: getDefault("IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    durationOrDefault(get("IDEMPOTENCY_TTL"), defaultIdempotencyTTL),
		},
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var problems []string
	if cfg.Shipping.FlatFeeVnd < 0 {
		problems = append(problems, "SHIPPING_FLAT_FEE_VND must not be negative")
	}
	if cfg.Shipping.FreeThresholdVnd < 0 {
		problems = append(problems, "SHIPPING_FREE_THRESHOLD_VND must not be negative")
	}
	gateway := cfg.VNPay
	configured := gateway.TmnCode != "" || gateway.HashSecret != "" || gateway.GatewayURL != "" || gateway.ReturnURL != ""
	if configured {
		if gateway.TmnCode == "" {
			problems = append(problems, "VNPAY_TMN_CODE is required when the gateway is configured")
		}
		if gateway.HashSecret == "" {
			problems = append(problems, "VNPAY_HASH_SECRET is required when the gateway is configured")
		}
		if gateway.GatewayURL == "" {
			problems = append(problems, "VNPAY_GATEWAY_URL is required when the gateway is configured")
		}
		if gateway.ReturnURL == "" {
			problems = append(problems, "VNPAY_RETURN_URL is required when the gateway is configured")
		}
	}
	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// GatewayConfigured reports whether the VNPAY settings are present.
func (c Config) GatewayConfigured() bool {
	return c.VNPay.TmnCode != "" && c.VNPay.HashSecret != "" && c.VNPay.GatewayURL != "" && c.VNPay.ReturnURL != ""
}

func readEnvFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, fmt.Errorf("config: open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if key != "" {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read env file: %w", err)
	}
	return values, nil
}

func durationOrDefault(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func intOrDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func int64OrDefault(value string, fallback int64) int64 {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
