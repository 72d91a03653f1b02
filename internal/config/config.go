package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrInvalid = errors.New("некорректная конфигурация")

type Config struct {
	Chain   ChainConfig
	Exit    ExitConfig
	Feed    FeedConfig
	Snipe   SnipeConfig
	Runtime RuntimeConfig
}

type ChainConfig struct {
	ChainID           int64
	HTTPRPC           []string
	WSRPC             []string
	Factory           string
	BaseCurrency      string
	SniperContract    string
	PrivateKey        string
	RPCRatePerSecond  float64
	GasLimit          uint64
	SettlementTimeout time.Duration
}

type ExitConfig struct {
	TakeProfitPercent       float64
	StopLossPercent         float64
	MaxHoldDuration         time.Duration
	MaxSellTaxPercent       float64
	MinLiquidityForExit     float64
	CheckIntervalSeconds    int
	EnablePartialExits      bool
	PartialExitFraction     float64
	TrailingStopDropPercent float64
	SellDeadlineSeconds     int
	PriceTimeout            time.Duration
}

func (c ExitConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

type FeedConfig struct {
	MaxReconnectAttempts  int
	ReconnectDelaySeconds int
	ConnectTimeoutSeconds int
	PollInterval          time.Duration
}

func (c FeedConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

func (c FeedConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

type SnipeConfig struct {
	Enabled             bool
	AmountPerSnipe      float64
	MaxTaxPercent       float64
	MinLiquidity        float64
	MaxGasPriceGwei     float64
	GasPriceBumpPercent int
	DeadlineSeconds     int
}

type RuntimeConfig struct {
	Log LogConfig
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("не удалось прочитать конфигурацию: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	v := viper.New()
	setDefaults(v)
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("chain.chain_id", 56)
	v.SetDefault("chain.http_rpc", []string{
		"https://bsc-dataseed1.binance.org/",
		"https://bsc-dataseed2.binance.org/",
		"https://bsc.publicnode.com",
	})
	v.SetDefault("chain.ws_rpc", []string{"wss://bsc.publicnode.com"})
	v.SetDefault("chain.factory", "0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73")
	v.SetDefault("chain.base_currency", "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	v.SetDefault("chain.sniper_contract", "${SNIPER_CONTRACT}")
	v.SetDefault("chain.private_key", "${PRIVATE_KEY}")
	v.SetDefault("chain.rpc_rate_per_second", 20)
	v.SetDefault("chain.gas_limit", 800000)
	v.SetDefault("chain.settlement_timeout", "60s")

	v.SetDefault("exit.take_profit_percent", 100)
	v.SetDefault("exit.stop_loss_percent", -50)
	v.SetDefault("exit.max_hold_duration", "60m")
	v.SetDefault("exit.max_sell_tax_percent", 15)
	v.SetDefault("exit.min_liquidity_for_exit", 0.5)
	v.SetDefault("exit.check_interval_seconds", 30)
	v.SetDefault("exit.enable_partial_exits", true)
	v.SetDefault("exit.partial_exit_fraction", 0.5)
	v.SetDefault("exit.trailing_stop_drop_percent", 30)
	v.SetDefault("exit.sell_deadline_seconds", 300)
	v.SetDefault("exit.price_timeout", "10s")

	v.SetDefault("feed.max_reconnect_attempts", 5)
	v.SetDefault("feed.reconnect_delay_seconds", 5)
	v.SetDefault("feed.connection_probe_timeout_seconds", 5)
	v.SetDefault("feed.poll_interval", "3s")

	v.SetDefault("snipe.enabled", false)
	v.SetDefault("snipe.amount_per_snipe", 0.05)
	v.SetDefault("snipe.max_tax_percent", 10)
	v.SetDefault("snipe.min_liquidity", 0.5)
	v.SetDefault("snipe.max_gas_price_gwei", 15)
	v.SetDefault("snipe.gas_price_bump_percent", 20)
	v.SetDefault("snipe.deadline_seconds", 300)

	v.SetDefault("runtime.log.level", "info")
	v.SetDefault("runtime.log.format", "text")
	v.SetDefault("runtime.log.file", "stdout")
	v.SetDefault("runtime.log.max_size", 100)
	v.SetDefault("runtime.log.max_backups", 5)
	v.SetDefault("runtime.log.max_age", 14)
	v.SetDefault("runtime.log.compress", true)
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Chain = ChainConfig{
		ChainID:           v.GetInt64("chain.chain_id"),
		HTTPRPC:           envSubAll(v.GetStringSlice("chain.http_rpc")),
		WSRPC:             envSubAll(v.GetStringSlice("chain.ws_rpc")),
		Factory:           v.GetString("chain.factory"),
		BaseCurrency:      v.GetString("chain.base_currency"),
		SniperContract:    envSub(v.GetString("chain.sniper_contract")),
		PrivateKey:        envSub(v.GetString("chain.private_key")),
		RPCRatePerSecond:  v.GetFloat64("chain.rpc_rate_per_second"),
		GasLimit:          v.GetUint64("chain.gas_limit"),
		SettlementTimeout: v.GetDuration("chain.settlement_timeout"),
	}

	cfg.Exit = ExitConfig{
		TakeProfitPercent:       v.GetFloat64("exit.take_profit_percent"),
		StopLossPercent:         v.GetFloat64("exit.stop_loss_percent"),
		MaxHoldDuration:         v.GetDuration("exit.max_hold_duration"),
		MaxSellTaxPercent:       v.GetFloat64("exit.max_sell_tax_percent"),
		MinLiquidityForExit:     v.GetFloat64("exit.min_liquidity_for_exit"),
		CheckIntervalSeconds:    v.GetInt("exit.check_interval_seconds"),
		EnablePartialExits:      v.GetBool("exit.enable_partial_exits"),
		PartialExitFraction:     v.GetFloat64("exit.partial_exit_fraction"),
		TrailingStopDropPercent: v.GetFloat64("exit.trailing_stop_drop_percent"),
		SellDeadlineSeconds:     v.GetInt("exit.sell_deadline_seconds"),
		PriceTimeout:            v.GetDuration("exit.price_timeout"),
	}

	cfg.Feed = FeedConfig{
		MaxReconnectAttempts:  v.GetInt("feed.max_reconnect_attempts"),
		ReconnectDelaySeconds: v.GetInt("feed.reconnect_delay_seconds"),
		ConnectTimeoutSeconds: v.GetInt("feed.connection_probe_timeout_seconds"),
		PollInterval:          v.GetDuration("feed.poll_interval"),
	}

	cfg.Snipe = SnipeConfig{
		Enabled:             v.GetBool("snipe.enabled"),
		AmountPerSnipe:      v.GetFloat64("snipe.amount_per_snipe"),
		MaxTaxPercent:       v.GetFloat64("snipe.max_tax_percent"),
		MinLiquidity:        v.GetFloat64("snipe.min_liquidity"),
		MaxGasPriceGwei:     v.GetFloat64("snipe.max_gas_price_gwei"),
		GasPriceBumpPercent: v.GetInt("snipe.gas_price_bump_percent"),
		DeadlineSeconds:     v.GetInt("snipe.deadline_seconds"),
	}

	cfg.Runtime = RuntimeConfig{
		Log: LogConfig{
			Level:      v.GetString("runtime.log.level"),
			Format:     v.GetString("runtime.log.format"),
			File:       v.GetString("runtime.log.file"),
			MaxSize:    v.GetInt("runtime.log.max_size"),
			MaxBackups: v.GetInt("runtime.log.max_backups"),
			MaxAge:     v.GetInt("runtime.log.max_age"),
			Compress:   v.GetBool("runtime.log.compress"),
		},
	}

	return cfg
}

// Validate checks every recognized option. Any failure wraps ErrInvalid.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	e := c.Exit
	for name, val := range map[string]float64{
		"exit.take_profit_percent":        e.TakeProfitPercent,
		"exit.stop_loss_percent":          e.StopLossPercent,
		"exit.max_sell_tax_percent":       e.MaxSellTaxPercent,
		"exit.min_liquidity_for_exit":     e.MinLiquidityForExit,
		"exit.partial_exit_fraction":      e.PartialExitFraction,
		"exit.trailing_stop_drop_percent": e.TrailingStopDropPercent,
	} {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			add("%s: значение должно быть конечным", name)
		}
	}
	if e.TakeProfitPercent <= 0 {
		add("exit.take_profit_percent: должно быть > 0, получено %v", e.TakeProfitPercent)
	}
	if e.StopLossPercent >= 0 || e.StopLossPercent < -100 {
		add("exit.stop_loss_percent: должно быть в [-100, 0), получено %v", e.StopLossPercent)
	}
	if e.MaxHoldDuration <= 0 {
		add("exit.max_hold_duration: должно быть > 0")
	}
	if e.MaxSellTaxPercent < 0 || e.MaxSellTaxPercent > 100 {
		add("exit.max_sell_tax_percent: должно быть в [0, 100]")
	}
	if e.MinLiquidityForExit < 0 {
		add("exit.min_liquidity_for_exit: должно быть >= 0")
	}
	if e.CheckIntervalSeconds <= 0 {
		add("exit.check_interval_seconds: должно быть > 0")
	}
	if !(e.PartialExitFraction > 0 && e.PartialExitFraction <= 1) {
		add("exit.partial_exit_fraction: должно быть в (0, 1], получено %v", e.PartialExitFraction)
	}
	if e.TrailingStopDropPercent <= 0 || e.TrailingStopDropPercent > 100 {
		add("exit.trailing_stop_drop_percent: должно быть в (0, 100]")
	}
	if e.SellDeadlineSeconds <= 0 {
		add("exit.sell_deadline_seconds: должно быть > 0")
	}
	if e.PriceTimeout <= 0 {
		add("exit.price_timeout: должно быть > 0")
	}

	f := c.Feed
	if f.MaxReconnectAttempts < 0 {
		add("feed.max_reconnect_attempts: должно быть >= 0")
	}
	if f.ReconnectDelaySeconds <= 0 {
		add("feed.reconnect_delay_seconds: должно быть > 0")
	}
	if f.ConnectTimeoutSeconds <= 0 {
		add("feed.connection_probe_timeout_seconds: должно быть > 0")
	}
	if f.PollInterval <= 0 {
		add("feed.poll_interval: должно быть > 0")
	}

	ch := c.Chain
	if len(ch.HTTPRPC) == 0 && len(ch.WSRPC) == 0 {
		add("chain: не задан ни один RPC endpoint")
	}
	for name, addr := range map[string]string{
		"chain.factory":         ch.Factory,
		"chain.base_currency":   ch.BaseCurrency,
		"chain.sniper_contract": ch.SniperContract,
	} {
		if !common.IsHexAddress(addr) {
			add("%s: некорректный адрес %q", name, addr)
		}
	}
	if ch.ChainID <= 0 {
		add("chain.chain_id: должно быть > 0")
	}
	if ch.SettlementTimeout <= 0 {
		add("chain.settlement_timeout: должно быть > 0")
	}
	if ch.GasLimit == 0 {
		add("chain.gas_limit: должно быть > 0")
	}

	s := c.Snipe
	if s.Enabled {
		if s.AmountPerSnipe <= 0 {
			add("snipe.amount_per_snipe: должно быть > 0")
		}
		if s.MaxTaxPercent < 0 || s.MaxTaxPercent > 100 {
			add("snipe.max_tax_percent: должно быть в [0, 100]")
		}
		if s.DeadlineSeconds <= 0 {
			add("snipe.deadline_seconds: должно быть > 0")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{(\w+)\}`)

func envSub(val string) string {
	if val == "" {
		return ""
	}
	return envPattern.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}

func envSubAll(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, val := range vals {
		if s := strings.TrimSpace(envSub(val)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
