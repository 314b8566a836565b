package ops

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"tradesim/internal/candle"
	"tradesim/internal/ingest"
	"tradesim/internal/persist"
	"tradesim/internal/risk"
	"tradesim/internal/schema"
	"tradesim/pkg/conn"
)

// EnvPrefix prefixes every environment override, e.g. TRADESIM_HTTP_ADDR.
const EnvPrefix = "TRADESIM"

// Feed sources for the server.
const (
	FeedRedis   = "redis"
	FeedBinance = "binance"
)

// FileConfig mirrors the config file layout.
type FileConfig struct {
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	Risk        RiskConfig         `mapstructure:"risk"`
	Account     AccountConfig      `mapstructure:"account"`
	Market      MarketConfig       `mapstructure:"market"`
	Core        CoreConfig         `mapstructure:"core"`
	HTTP        HTTPConfig         `mapstructure:"http"`
	Stream      StreamConfig       `mapstructure:"stream"`
	Redis       RedisConfig        `mapstructure:"redis"`
	Kafka       KafkaConfig        `mapstructure:"kafka"`
	Postgres    PostgresConfig     `mapstructure:"postgres"`
	Persist     PersistConfig      `mapstructure:"persist"`
	Pyroscope   PyroscopeConfig    `mapstructure:"pyroscope"`
}

// InstrumentConfig describes one tradable instrument.
type InstrumentConfig struct {
	Symbol        string       `mapstructure:"symbol"`
	Name          string       `mapstructure:"name"`
	FeedSymbol    string       `mapstructure:"feed_symbol"`
	PriceScale    schema.Scale `mapstructure:"price_scale"`
	QuantityScale schema.Scale `mapstructure:"quantity_scale"`
}

type RiskConfig struct {
	LiquidationThresholdPercent int64   `mapstructure:"liquidation_threshold_percent"`
	AllowedLeverage             []int64 `mapstructure:"allowed_leverage"`
	AllowedSlippageBps          []int64 `mapstructure:"allowed_slippage_bps"`
	DefaultSlippageBps          int64   `mapstructure:"default_slippage_bps"`
}

// AccountConfig holds the balance every new owner starts with, as a decimal
// USD string.
type AccountConfig struct {
	InitialBalance string `mapstructure:"initial_balance"`
}

type MarketConfig struct {
	Feed       string   `mapstructure:"feed"`
	BinanceURL string   `mapstructure:"binance_url"`
	SpreadBps  int64    `mapstructure:"spread_bps"`
	Timeframes []string `mapstructure:"timeframes"`
}

type CoreConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type HTTPConfig struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type StreamConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type RedisConfig struct {
	Addrs    []string `mapstructure:"addrs"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
	Channel  string   `mapstructure:"channel"`
}

type KafkaConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	QueueSize int      `mapstructure:"queue_size"`
}

type PostgresConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type PersistConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
	QueueSize       int           `mapstructure:"queue_size"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

type PyroscopeConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ServerAddress   string `mapstructure:"server_address"`
	ApplicationName string `mapstructure:"application_name"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry       *schema.Registry
	Risk           risk.Config
	InitialBalance schema.USD
	SpreadBps      schema.BPS
	Timeframes     []candle.Timeframe

	Feed       string
	BinanceURL string
	QueueSize  int
	HTTP       HTTPConfig
	Stream     StreamConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Postgres   PostgresConfig
	Persist    persist.Config
	Pyroscope  PyroscopeConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("instruments", []map[string]any{
		{"symbol": "BTC", "name": "Bitcoin", "feed_symbol": "BTCUSDT", "price_scale": 8, "quantity_scale": 8},
		{"symbol": "ETH", "name": "Ethereum", "feed_symbol": "ETHUSDT", "price_scale": 8, "quantity_scale": 8},
		{"symbol": "SOL", "name": "Solana", "feed_symbol": "SOLUSDT", "price_scale": 6, "quantity_scale": 6},
		{"symbol": "BNB", "name": "BNB", "feed_symbol": "BNBUSDT", "price_scale": 8, "quantity_scale": 8},
	})

	def := risk.DefaultConfig()
	slippage := make([]int64, 0, len(def.AllowedSlippageBps))
	for _, b := range def.AllowedSlippageBps {
		slippage = append(slippage, int64(b))
	}
	v.SetDefault("risk.liquidation_threshold_percent", def.LiquidationThresholdPercent)
	v.SetDefault("risk.allowed_leverage", def.AllowedLeverage)
	v.SetDefault("risk.allowed_slippage_bps", slippage)
	v.SetDefault("risk.default_slippage_bps", int64(def.DefaultSlippageBps))

	v.SetDefault("account.initial_balance", "5000")

	v.SetDefault("market.feed", FeedRedis)
	v.SetDefault("market.binance_url", ingest.DefaultBinanceURL)
	v.SetDefault("market.spread_bps", int64(ingest.DefaultSpreadBps))
	v.SetDefault("market.timeframes", candle.DefaultTimeframes)

	v.SetDefault("core.queue_size", 4096)
	v.SetDefault("http.addr", ":3000")
	v.SetDefault("http.jwt_secret", "")
	v.SetDefault("stream.buffer_size", 256)

	v.SetDefault("redis.addrs", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "trades")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "trade-notifications")
	v.SetDefault("kafka.queue_size", 1024)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "trading")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("postgres.auto_migrate", true)

	v.SetDefault("persist.batch_size", persist.DefaultBatchSize)
	v.SetDefault("persist.flush_interval", persist.DefaultFlushInterval)
	v.SetDefault("persist.queue_size", persist.DefaultQueueSize)
	v.SetDefault("persist.breaker_failures", 5)
	v.SetDefault("persist.breaker_cooldown", 30*time.Second)

	v.SetDefault("pyroscope.enabled", false)
	v.SetDefault("pyroscope.server_address", "http://localhost:4040")
	v.SetDefault("pyroscope.application_name", "tradesim")
}

// Load reads the config file at path, if any, applies TRADESIM_* environment
// overrides and resolves the result.
func Load(path string) (Loaded, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Loaded{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return Loaded{}, fmt.Errorf("decode config: %w", err)
	}
	return Resolve(cfg)
}

// Resolve validates a decoded config and builds the runtime values.
func Resolve(cfg FileConfig) (Loaded, error) {
	registry, err := buildRegistry(cfg.Instruments)
	if err != nil {
		return Loaded{}, err
	}

	riskCfg := resolveRisk(cfg.Risk)
	if err := riskCfg.Validate(); err != nil {
		return Loaded{}, err
	}

	balance, err := schema.ParseScaled(cfg.Account.InitialBalance, schema.USDScale)
	if err != nil {
		return Loaded{}, fmt.Errorf("initial balance %q: %w", cfg.Account.InitialBalance, err)
	}
	if balance < 0 {
		return Loaded{}, fmt.Errorf("initial balance %q is negative", cfg.Account.InitialBalance)
	}

	if cfg.Market.SpreadBps < 0 || cfg.Market.SpreadBps >= 10_000 {
		return Loaded{}, fmt.Errorf("spread %d bps out of range", cfg.Market.SpreadBps)
	}
	timeframes, err := candle.ParseTimeframes(cfg.Market.Timeframes)
	if err != nil {
		return Loaded{}, err
	}

	feed := strings.ToLower(cfg.Market.Feed)
	if feed != FeedRedis && feed != FeedBinance {
		return Loaded{}, fmt.Errorf("unknown feed %q", cfg.Market.Feed)
	}

	return Loaded{
		Registry:       registry,
		Risk:           riskCfg,
		InitialBalance: schema.USD(balance),
		SpreadBps:      schema.BPS(cfg.Market.SpreadBps),
		Timeframes:     timeframes,
		Feed:           feed,
		BinanceURL:     cfg.Market.BinanceURL,
		QueueSize:      cfg.Core.QueueSize,
		HTTP:           cfg.HTTP,
		Stream:         cfg.Stream,
		Redis:          cfg.Redis,
		Kafka:          cfg.Kafka,
		Postgres:       cfg.Postgres,
		Persist: persist.Config{
			BatchSize:       cfg.Persist.BatchSize,
			FlushInterval:   cfg.Persist.FlushInterval,
			QueueSize:       cfg.Persist.QueueSize,
			BreakerFailures: cfg.Persist.BreakerFailures,
			BreakerCooldown: cfg.Persist.BreakerCooldown,
		},
		Pyroscope: cfg.Pyroscope,
	}, nil
}

func buildRegistry(instruments []InstrumentConfig) (*schema.Registry, error) {
	if len(instruments) == 0 {
		return nil, fmt.Errorf("no instruments configured")
	}
	registry := schema.NewRegistry()
	for _, inst := range instruments {
		if err := registry.Add(schema.Instrument{
			Symbol:        inst.Symbol,
			Name:          inst.Name,
			FeedSymbol:    inst.FeedSymbol,
			PriceScale:    inst.PriceScale,
			QuantityScale: inst.QuantityScale,
		}); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func resolveRisk(cfg RiskConfig) risk.Config {
	slippage := make([]schema.BPS, 0, len(cfg.AllowedSlippageBps))
	for _, b := range cfg.AllowedSlippageBps {
		slippage = append(slippage, schema.BPS(b))
	}
	return risk.Config{
		LiquidationThresholdPercent: cfg.LiquidationThresholdPercent,
		AllowedLeverage:             cfg.AllowedLeverage,
		AllowedSlippageBps:          slippage,
		DefaultSlippageBps:          schema.BPS(cfg.DefaultSlippageBps),
	}
}

// PostgresOption maps the config onto connection options.
func (c PostgresConfig) PostgresOption() conn.Postgres {
	return conn.Postgres{
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		SSLMode:         c.SSLMode,
		DSN:             c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}
