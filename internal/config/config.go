package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Chain       ChainConfig
	Facilitator FacilitatorConfig
	Payment     PaymentConfig
	Redis       RedisConfig
	Detector    DetectorConfig
	Upstream    UpstreamConfig
	Admin       AdminConfig
}

type AdminConfig struct {
	// Addresses is a comma-separated list of operator wallets allowed on
	// the admin surface. Empty disables the admin routes.
	Addresses string `mapstructure:"addresses"`
}

// Operators splits the allowed-address list.
func (a AdminConfig) Operators() []string {
	if a.Addresses == "" {
		return nil
	}
	parts := strings.Split(a.Addresses, ",")
	ops := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ops = append(ops, p)
		}
	}
	return ops
}

type UpstreamConfig struct {
	// URL, when set, makes the gateway reverse-proxy admitted requests to
	// this origin instead of serving the built-in handler.
	URL string `mapstructure:"url"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type ChainConfig struct {
	RPCURL  string `mapstructure:"rpc_url"`
	Network string `mapstructure:"network"`
}

type FacilitatorConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

type PaymentConfig struct {
	PayTo             string `mapstructure:"pay_to"`
	Asset             string `mapstructure:"asset"`
	Amount            string `mapstructure:"amount"`
	Description       string `mapstructure:"description"`
	PaymentType       string `mapstructure:"payment_type"`
	MaxTimeoutSeconds int    `mapstructure:"max_timeout_seconds"`
}

type RedisConfig struct {
	// Addr empty disables the receipt journal.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type DetectorConfig struct {
	// Warmup is a comma-separated list of token addresses to detect at
	// startup.
	Warmup string `mapstructure:"warmup"`
}

// WarmupTokens splits the warm-up list.
func (d DetectorConfig) WarmupTokens() []string {
	if d.Warmup == "" {
		return nil
	}
	parts := strings.Split(d.Warmup, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("payment.payment_type", "auto")
	v.SetDefault("payment.max_timeout_seconds", 300)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":                 "PORT",
		"chain.rpc_url":               "RPC_URL",
		"chain.network":               "NETWORK",
		"facilitator.url":             "FACILITATOR_URL",
		"facilitator.api_key":         "FACILITATOR_API_KEY",
		"payment.pay_to":              "PAY_TO",
		"payment.asset":               "ASSET",
		"payment.amount":              "AMOUNT",
		"payment.description":         "PAYMENT_DESCRIPTION",
		"payment.payment_type":        "PAYMENT_TYPE",
		"payment.max_timeout_seconds": "PAYMENT_TIMEOUT_SECONDS",
		"redis.addr":                  "REDIS_ADDR",
		"redis.password":              "REDIS_PASSWORD",
		"detector.warmup":             "WARMUP_TOKENS",
		"upstream.url":                "UPSTREAM_URL",
		"admin.addresses":             "ADMIN_ADDRESSES",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Chain.RPCURL, "RPC_URL"},
		{c.Payment.PayTo, "PAY_TO"},
		{c.Payment.Asset, "ASSET"},
		{c.Payment.Amount, "AMOUNT"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	return nil
}
