package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything read from config.env and the environment.
type Config struct {
	AppEnv string `mapstructure:"APP_ENV"`
	Port   string `mapstructure:"PORT"`

	StoreDriver string `mapstructure:"STORE_DRIVER"`
	DSN         string `mapstructure:"DSN"`

	JWTSecret   string        `mapstructure:"JWT_SECRET"`
	JWTTTL      time.Duration `mapstructure:"JWT_TTL"`
	CORSOrigins string        `mapstructure:"CORS_ORIGINS"`

	HorizonURL        string        `mapstructure:"HORIZON_URL"`
	HorizonRPS        float64       `mapstructure:"HORIZON_RPS"`
	NetworkPassphrase string        `mapstructure:"NETWORK_PASSPHRASE"`
	TxTimeout         time.Duration `mapstructure:"TX_TIMEOUT"`
	SettleTimeout     time.Duration `mapstructure:"SETTLE_TIMEOUT"`
	ReconcileInterval time.Duration `mapstructure:"RECONCILE_INTERVAL"`

	WalletBridgeURL     string        `mapstructure:"WALLET_BRIDGE_URL"`
	WalletBridgeTimeout time.Duration `mapstructure:"WALLET_BRIDGE_TIMEOUT"`
	WalletCachePath     string        `mapstructure:"WALLET_CACHE_PATH"`
}

var keys = []string{
	"APP_ENV", "PORT", "STORE_DRIVER", "DSN", "JWT_SECRET", "JWT_TTL", "CORS_ORIGINS",
	"HORIZON_URL", "HORIZON_RPS", "NETWORK_PASSPHRASE", "TX_TIMEOUT", "SETTLE_TIMEOUT",
	"RECONCILE_INTERVAL", "WALLET_BRIDGE_URL", "WALLET_BRIDGE_TIMEOUT", "WALLET_CACHE_PATH",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("STORE_DRIVER", "memory")
	v.SetDefault("JWT_TTL", 24*time.Hour)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("HORIZON_URL", "https://horizon-testnet.stellar.org")
	v.SetDefault("HORIZON_RPS", 5)
	v.SetDefault("NETWORK_PASSPHRASE", "Test SDF Network ; September 2015")
	v.SetDefault("TX_TIMEOUT", 3*time.Minute)
	v.SetDefault("SETTLE_TIMEOUT", 2*time.Minute)
	v.SetDefault("RECONCILE_INTERVAL", 30*time.Second)
	v.SetDefault("WALLET_BRIDGE_URL", "http://127.0.0.1:7777")
	v.SetDefault("WALLET_BRIDGE_TIMEOUT", 2*time.Minute)
	v.SetDefault("WALLET_CACHE_PATH", ".sirius/wallet.json")
}

// Load reads config.env from dir, then lets environment variables override
// it. A missing file is fine.
func Load(dir string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)
	// AutomaticEnv only applies to keys viper already knows about.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.StoreDriver != "memory" && c.DSN == "" {
		missing = append(missing, "DSN")
	}
	if c.HorizonURL == "" {
		missing = append(missing, "HORIZON_URL")
	}
	if c.WalletBridgeURL == "" {
		missing = append(missing, "WALLET_BRIDGE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	switch c.StoreDriver {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	return nil
}

// AllowedOrigins splits CORS_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
