package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Market    MarketConfig    `mapstructure:"market"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Settings  SettingsConfig  `mapstructure:"settings"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	App       AppConfig       `mapstructure:"app"`
}

type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	WebhookURL     string        `mapstructure:"webhook_url"` // empty means long polling
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AdminChatIDs   []int64       `mapstructure:"-"` // parsed by hand, see parseChatIDs
}

type ChainConfig struct {
	Kind               string        `mapstructure:"kind"` // solana or evm
	RPCURL             string        `mapstructure:"rpc_url"`
	TokenAddress       string        `mapstructure:"token_address"`
	WatchAddress       string        `mapstructure:"watch_address"` // account whose history is polled; defaults to the token
	FetchLimit         int           `mapstructure:"fetch_limit"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	ExplorerTxURL      string        `mapstructure:"explorer_tx_url"`      // printf pattern with one %s
	ExplorerAccountURL string        `mapstructure:"explorer_account_url"` // printf pattern with one %s

	PairAddress    string `mapstructure:"pair_address"`
	TokenIsToken0  bool   `mapstructure:"token_is_token0"`
	TokenDecimals  int32  `mapstructure:"token_decimals"`
	QuoteDecimals  int32  `mapstructure:"quote_decimals"`
	LookbackBlocks uint64 `mapstructure:"lookback_blocks"`
}

type MarketConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

type RateLimitConfig struct {
	PlatformPerInterval int           `mapstructure:"platform_per_interval"`
	MarketPerInterval   int           `mapstructure:"market_per_interval"`
	Interval            time.Duration `mapstructure:"interval"`
	Blocking            bool          `mapstructure:"blocking"`
}

type SettingsConfig struct {
	Backend           string `mapstructure:"backend"` // file, redis, sqlite, bunt
	Path              string `mapstructure:"path"`
	RedisAddr         string `mapstructure:"redis_addr"`
	RedisPassword     string `mapstructure:"redis_password"`
	RedisKey          string `mapstructure:"redis_key"`
	FallbackOnCorrupt bool   `mapstructure:"fallback_on_corrupt"`
}

type NotifyConfig struct {
	RenderCard bool `mapstructure:"render_card"`
	MaxEmojis  int  `mapstructure:"max_emojis"`
}

type AppConfig struct {
	LogDir              string        `mapstructure:"log_dir"`
	LogLevel            string        `mapstructure:"log_level"`
	HTTPAddr            string        `mapstructure:"http_addr"`
	WebhookSecret       string        `mapstructure:"webhook_secret"`
	DrainTimeout        time.Duration `mapstructure:"drain_timeout"`
	ConversationTimeout time.Duration `mapstructure:"conversation_timeout"`
}

// LoadConfig merges, from lowest to highest priority: defaults, config.yaml,
// .env, environment variables and explicitly set flags.
// flags may be nil; configDir "" means the working directory.
func LoadConfig(flags *pflag.FlagSet, configDir string) (*Config, error) {
	if configDir == "" {
		configDir = "."
	}
	// .env is optional
	_ = godotenv.Load(configDir + "/.env")

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	}

	v.SetEnvPrefix("BUYBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setupEnvAliases(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	ids, err := parseChatIDs(v.Get("telegram.admin_chat_ids"))
	if err != nil {
		return nil, err
	}
	cfg.Telegram.AdminChatIDs = ids

	if cfg.Chain.WatchAddress == "" {
		cfg.Chain.WatchAddress = cfg.Chain.TokenAddress
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parseChatIDs accepts a comma separated string from .env or a YAML list.
func parseChatIDs(raw interface{}) ([]int64, error) {
	var parts []string
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		parts = strings.Split(val, ",")
	case []string:
		parts = val
	case []interface{}:
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
	case []int64:
		return val, nil
	default:
		return nil, fmt.Errorf("telegram.admin_chat_ids: unsupported type %T", raw)
	}

	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("telegram.admin_chat_ids: invalid chat id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func setupEnvAliases(v *viper.Viper) {
	// short names used by existing deployment scripts
	v.BindEnv("telegram.bot_token", "BUYBOT_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN", "BOT_TOKEN")
	v.BindEnv("telegram.webhook_url", "BUYBOT_TELEGRAM_WEBHOOK_URL", "WEBHOOK_URL")
	v.BindEnv("telegram.admin_chat_ids", "BUYBOT_TELEGRAM_ADMIN_CHAT_IDS", "ADMIN_CHAT_IDS")

	v.BindEnv("chain.kind", "BUYBOT_CHAIN_KIND", "CHAIN")
	v.BindEnv("chain.rpc_url", "BUYBOT_CHAIN_RPC_URL", "RPC_URL")
	v.BindEnv("chain.token_address", "BUYBOT_CHAIN_TOKEN_ADDRESS", "TOKEN_ADDRESS")
	v.BindEnv("chain.pair_address", "BUYBOT_CHAIN_PAIR_ADDRESS", "PAIR_ADDRESS")

	v.BindEnv("settings.redis_addr", "BUYBOT_SETTINGS_REDIS_ADDR", "REDIS_ADDR")
	v.BindEnv("settings.redis_password", "BUYBOT_SETTINGS_REDIS_PASSWORD", "REDIS_PASSWORD")

	v.BindEnv("app.webhook_secret", "BUYBOT_APP_WEBHOOK_SECRET", "WEBHOOK_SECRET")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.webhook_url", "")
	v.SetDefault("telegram.request_timeout", 30*time.Second)
	v.SetDefault("telegram.admin_chat_ids", "")

	v.SetDefault("chain.kind", "solana")
	v.SetDefault("chain.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("chain.token_address", "")
	v.SetDefault("chain.watch_address", "")
	v.SetDefault("chain.fetch_limit", 20)
	v.SetDefault("chain.poll_interval", 10*time.Second)
	v.SetDefault("chain.request_timeout", 15*time.Second)
	v.SetDefault("chain.explorer_tx_url", "https://solscan.io/tx/%s")
	v.SetDefault("chain.explorer_account_url", "https://solscan.io/account/%s")
	v.SetDefault("chain.pair_address", "")
	v.SetDefault("chain.token_is_token0", true)
	v.SetDefault("chain.token_decimals", 18)
	v.SetDefault("chain.quote_decimals", 18)
	v.SetDefault("chain.lookback_blocks", 500)

	v.SetDefault("market.base_url", "https://api.dexscreener.com")
	v.SetDefault("market.request_timeout", 10*time.Second)
	v.SetDefault("market.max_retries", 2)

	v.SetDefault("ratelimit.platform_per_interval", 5)
	v.SetDefault("ratelimit.market_per_interval", 5)
	v.SetDefault("ratelimit.interval", time.Second)
	v.SetDefault("ratelimit.blocking", true)

	v.SetDefault("settings.backend", "file")
	v.SetDefault("settings.path", "bot_settings.json")
	v.SetDefault("settings.redis_addr", "localhost:6379")
	v.SetDefault("settings.redis_password", "")
	v.SetDefault("settings.redis_key", "buybot:settings")
	v.SetDefault("settings.fallback_on_corrupt", false)

	v.SetDefault("notify.render_card", false)
	v.SetDefault("notify.max_emojis", 200)

	v.SetDefault("app.log_dir", "logs")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.http_addr", ":8080")
	v.SetDefault("app.webhook_secret", "")
	v.SetDefault("app.drain_timeout", 10*time.Second)
	v.SetDefault("app.conversation_timeout", 2*time.Minute)
}

// RegisterFlags declares the flags LoadConfig understands. Flag names match config keys.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("chain.kind", "solana", "Chain to watch: solana or evm (env: CHAIN)")
	fs.String("chain.rpc_url", "", "Chain RPC endpoint (env: RPC_URL)")
	fs.String("chain.token_address", "", "Tracked token mint or contract (env: TOKEN_ADDRESS)")
	fs.Duration("chain.poll_interval", 10*time.Second, "Interval between chain polls")
	fs.String("settings.backend", "file", "Settings store: file, redis, sqlite or bunt")
	fs.String("settings.path", "bot_settings.json", "Settings file or database path")
	fs.Bool("settings.fallback_on_corrupt", false, "Start with default settings when the stored settings cannot be parsed")
	fs.String("app.log_level", "info", "Log level: debug, info, warn, error")
	fs.String("app.http_addr", ":8080", "Address for /metrics, /health and webhooks (empty disables)")
}

func validateConfig(cfg *Config) error {
	switch cfg.Chain.Kind {
	case "solana", "evm":
	default:
		return fmt.Errorf("chain.kind must be solana or evm, got %q", cfg.Chain.Kind)
	}
	if cfg.Chain.TokenAddress == "" {
		return fmt.Errorf("chain.token_address is required")
	}
	if cfg.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if cfg.Chain.Kind == "evm" && cfg.Chain.PairAddress == "" {
		return fmt.Errorf("chain.pair_address is required for evm")
	}
	if cfg.Chain.PollInterval <= 0 {
		return fmt.Errorf("chain.poll_interval must be positive")
	}
	if cfg.Chain.FetchLimit < 1 || cfg.Chain.FetchLimit > 1000 {
		return fmt.Errorf("chain.fetch_limit must be between 1 and 1000")
	}
	if cfg.RateLimit.PlatformPerInterval < 1 || cfg.RateLimit.MarketPerInterval < 1 || cfg.RateLimit.Interval <= 0 {
		return fmt.Errorf("ratelimit values must be positive")
	}
	switch cfg.Settings.Backend {
	case "file", "redis", "sqlite", "bunt":
	default:
		return fmt.Errorf("settings.backend must be file, redis, sqlite or bunt, got %q", cfg.Settings.Backend)
	}
	return nil
}
