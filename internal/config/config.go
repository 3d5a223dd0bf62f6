// Package config loads the engine's flat key=value configuration file,
// validating every key against a static schema before any component
// reads it.
package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/svyatogor45/triarb/internal/apperrors"
	"github.com/svyatogor45/triarb/internal/models"
	"github.com/svyatogor45/triarb/pkg/crypto"
	"github.com/svyatogor45/triarb/pkg/utils"
)

// PathStepConfig is the JSON shape accepted by path*-prefixed keys.
type PathStepConfig struct {
	Pair   string `json:"pair"`
	Action string `json:"action"`
}

// PathConfig is the JSON shape of a single path* value:
// {"route": "USDT-BTC-ETH-USDT"}. Steps is accepted for forward
// compatibility but the route string alone is enough to resolve a Path.
type PathConfig struct {
	Route string           `json:"route"`
	Steps []PathStepConfig `json:"steps"`
}

// Config is the fully parsed, typed configuration for one run of the
// engine against a single exchange account.
type Config struct {
	Exchange ExchangeConfig
	Trading  TradingConfig
	Risk     RiskConfig
	Fees     map[string]float64 // fee_rate_<PAIR> -> taker fee fraction
	Paths    []models.Path
	Logging  LoggingConfig
	Metrics  MetricsConfig
	Journal  JournalConfig
}

type ExchangeConfig struct {
	Name           string
	APIKey         string
	APISecret      string
	Passphrase     string
	RESTBaseURL    string
	WSURL          string
	RateLimitRPS   float64
	RateLimitBurst float64
}

type TradingConfig struct {
	// PublicOnly disables order placement; the engine still evaluates
	// and logs opportunities.
	PublicOnly             bool
	MonitorInterval        time.Duration
	OrderTimeout           time.Duration
	SlippageTolerance      float64
	MaxProfitRateThreshold float64
	MinProfitThreshold     float64
	BookFreshnessBudget    time.Duration
	OpportunityTTL         time.Duration
	DustThresholdUSDT      float64
}

type RiskConfig struct {
	MaxPositionRatio     float64
	MaxSingleTradeRatio  float64
	MinArbitrageInterval time.Duration
	MaxDailyTrades       int
	MaxDailyLossRatio    float64
	StopLossRatio        float64
	MinTradeAmount       float64
}

type LoggingConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Enabled bool
	Addr    string
}

type JournalConfig struct {
	Path string
}

// schemaType names the accepted primitive type of a config key.
type schemaType int

const (
	typeString schemaType = iota
	typeInt
	typeFloat
	typeBool
	typeDuration
)

type schemaEntry struct {
	typ      schemaType
	required bool
}

// schema is the static allow-list of every recognized flat key. Loading
// a file with a key not listed here, and not prefixed "path" or
// "fee_rate_", fails fast rather than silently ignoring a typo.
var schema = map[string]schemaEntry{
	"exchange_name":    {typeString, true},
	"api_key":          {typeString, false},
	"api_secret":       {typeString, false},
	"passphrase":       {typeString, false},
	"rest_base_url":    {typeString, false},
	"ws_url":           {typeString, false},
	"rate_limit_rps":   {typeFloat, false},
	"rate_limit_burst": {typeFloat, false},

	"public_only":               {typeBool, false},
	"monitor_interval":          {typeDuration, false},
	"order_timeout":             {typeDuration, false},
	"slippage_tolerance":        {typeFloat, false},
	"price_adjustment":          {typeFloat, false}, // deprecated alias of slippage_tolerance
	"max_profit_rate_threshold": {typeFloat, false},
	"min_profit_threshold":      {typeFloat, false},
	"book_freshness_budget":     {typeDuration, false},
	"opportunity_ttl":           {typeDuration, false},
	"dust_threshold_usdt":       {typeFloat, false},

	"max_position_ratio":     {typeFloat, false},
	"max_single_trade_ratio": {typeFloat, false},
	"min_arbitrage_interval": {typeDuration, false},
	"max_daily_trades":       {typeInt, false},
	"max_daily_loss_ratio":   {typeFloat, false},
	"stop_loss_ratio":        {typeFloat, false},
	"min_trade_amount":       {typeFloat, false},

	"log_level":  {typeString, false},
	"log_format": {typeString, false},

	"metrics_enabled": {typeBool, false},
	"metrics_addr":    {typeString, false},

	"journal_path": {typeString, false},
}

// deprecatedAliases maps a retired key to its replacement. A value set
// under the old key is copied to the new one; the old key must still
// appear in schema or it would be rejected as unknown before the alias
// rewrite ever runs.
var deprecatedAliases = map[string]string{
	"price_adjustment": "slippage_tolerance",
}

// Load reads and validates the flat key=value file at path, then decodes
// it into a Config. encryptionKey, if non-empty, decrypts api_secret and
// passphrase values that were stored via pkg/crypto.Encrypt.
func Load(path string, encryptionKey []byte) (*Config, error) {
	raw, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}
	applyAliases(raw)

	cfg := defaults()

	if v, ok := raw["exchange_name"]; ok {
		cfg.Exchange.Name = v
	}
	if v, ok := raw["api_key"]; ok {
		cfg.Exchange.APIKey = v
	}
	if v, ok := raw["api_secret"]; ok {
		cfg.Exchange.APISecret, err = maybeDecrypt(v, encryptionKey)
		if err != nil {
			return nil, &apperrors.ConfigError{Key: "api_secret", Msg: err.Error()}
		}
	}
	if v, ok := raw["passphrase"]; ok {
		cfg.Exchange.Passphrase, err = maybeDecrypt(v, encryptionKey)
		if err != nil {
			return nil, &apperrors.ConfigError{Key: "passphrase", Msg: err.Error()}
		}
	}
	if v, ok := raw["rest_base_url"]; ok {
		cfg.Exchange.RESTBaseURL = v
	}
	if v, ok := raw["ws_url"]; ok {
		cfg.Exchange.WSURL = v
	}
	if err := setFloat(raw, "rate_limit_rps", &cfg.Exchange.RateLimitRPS); err != nil {
		return nil, err
	}
	if err := setFloat(raw, "rate_limit_burst", &cfg.Exchange.RateLimitBurst); err != nil {
		return nil, err
	}

	if err := setBool(raw, "public_only", &cfg.Trading.PublicOnly); err != nil {
		return nil, err
	}
	if err := setDuration(raw, "monitor_interval", &cfg.Trading.MonitorInterval); err != nil {
		return nil, err
	}
	if err := setDuration(raw, "order_timeout", &cfg.Trading.OrderTimeout); err != nil {
		return nil, err
	}
	if err := setFloat(raw, "slippage_tolerance", &cfg.Trading.SlippageTolerance); err != nil {
		return nil, err
	}
	if err := setFloat(raw, "max_profit_rate_threshold", &cfg.Trading.MaxProfitRateThreshold); err != nil {
		return nil, err
	}
	if err := setFloat(raw, "min_profit_threshold", &cfg.Trading.MinProfitThreshold); err != nil {
		return nil, err
	}
	if err := setDuration(raw, "book_freshness_budget", &cfg.Trading.BookFreshnessBudget); err != nil {
		return nil, err
	}
	if err := setDuration(raw, "opportunity_ttl", &cfg.Trading.OpportunityTTL); err != nil {
		return nil, err
	}
	if err := setFloat(raw, "dust_threshold_usdt", &cfg.Trading.DustThresholdUSDT); err != nil {
		return nil, err
	}

	if err := setFloat(raw, "max_position_ratio", &cfg.Risk.MaxPositionRatio); err != nil {
		return nil, err
	}
	if err := setFloat(raw, "max_single_trade_ratio", &cfg.Risk.MaxSingleTradeRatio); err != nil {
		return nil, err
	}
	if err := setDuration(raw, "min_arbitrage_interval", &cfg.Risk.MinArbitrageInterval); err != nil {
		return nil, err
	}
	if err := setInt(raw, "max_daily_trades", &cfg.Risk.MaxDailyTrades); err != nil {
		return nil, err
	}
	if err := setFloat(raw, "max_daily_loss_ratio", &cfg.Risk.MaxDailyLossRatio); err != nil {
		return nil, err
	}
	if err := setFloat(raw, "stop_loss_ratio", &cfg.Risk.StopLossRatio); err != nil {
		return nil, err
	}
	if err := setFloat(raw, "min_trade_amount", &cfg.Risk.MinTradeAmount); err != nil {
		return nil, err
	}

	if v, ok := raw["log_level"]; ok {
		cfg.Logging.Level = v
	}
	if v, ok := raw["log_format"]; ok {
		cfg.Logging.Format = v
	}
	if err := setBool(raw, "metrics_enabled", &cfg.Metrics.Enabled); err != nil {
		return nil, err
	}
	if v, ok := raw["metrics_addr"]; ok {
		cfg.Metrics.Addr = v
	}
	if v, ok := raw["journal_path"]; ok {
		cfg.Journal.Path = v
	}

	cfg.Fees = feeRates(raw)

	paths, err := parsePaths(raw)
	if err != nil {
		return nil, err
	}
	cfg.Paths = paths

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		Trading: TradingConfig{
			MonitorInterval:        time.Second,
			OrderTimeout:           3 * time.Second,
			SlippageTolerance:      0.002,
			MaxProfitRateThreshold: 0.05,
			BookFreshnessBudget:    500 * time.Millisecond,
			OpportunityTTL:         5 * time.Second,
			DustThresholdUSDT:      1.0,
		},
		Risk: RiskConfig{
			MaxPositionRatio:     0.2,
			MaxSingleTradeRatio:  0.1,
			MinArbitrageInterval: 10 * time.Second,
			MaxDailyTrades:       100,
			MaxDailyLossRatio:    0.05,
			StopLossRatio:        0.1,
			MinTradeAmount:       10,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
		Journal: JournalConfig{Path: "trades.jsonl"},
	}
}

func parseFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &apperrors.ConfigError{Msg: fmt.Sprintf("cannot open %s: %v", path, err)}
	}
	defer f.Close()

	raw := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, &apperrors.ConfigError{Msg: fmt.Sprintf("%s:%d: missing '=' in %q", path, lineNo, line)}
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		raw[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, &apperrors.ConfigError{Msg: fmt.Sprintf("reading %s: %v", path, err)}
	}
	return raw, nil
}

// validateSchema fails fast on any key that is neither in schema nor
// prefixed "path" nor "fee_rate_", so a typo'd key is caught at startup
// instead of silently defaulting.
func validateSchema(raw map[string]string) error {
	var unknown []string
	for key := range raw {
		if _, ok := schema[key]; ok {
			continue
		}
		if strings.HasPrefix(key, "path") || strings.HasPrefix(key, "fee_rate_") {
			continue
		}
		unknown = append(unknown, key)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &apperrors.ConfigError{Msg: fmt.Sprintf("unknown config keys: %s", strings.Join(unknown, ", "))}
	}
	for key, entry := range schema {
		if entry.required {
			if v, ok := raw[key]; !ok || v == "" {
				return &apperrors.ConfigError{Key: key, Msg: "required key is missing"}
			}
		}
	}
	return nil
}

func applyAliases(raw map[string]string) {
	for old, replacement := range deprecatedAliases {
		if v, ok := raw[old]; ok {
			utils.Warn("deprecated config key", utils.String("key", old), utils.String("replacement", replacement))
			if _, already := raw[replacement]; !already {
				raw[replacement] = v
			}
			delete(raw, old)
		}
	}
}

func setFloat(raw map[string]string, key string, dst *float64) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return &apperrors.ConfigError{Key: key, Msg: fmt.Sprintf("not a float: %q", v)}
	}
	*dst = f
	return nil
}

func setInt(raw map[string]string, key string, dst *int) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return &apperrors.ConfigError{Key: key, Msg: fmt.Sprintf("not an int: %q", v)}
	}
	*dst = i
	return nil
}

func setBool(raw map[string]string, key string, dst *bool) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return &apperrors.ConfigError{Key: key, Msg: fmt.Sprintf("not a bool: %q", v)}
	}
	*dst = b
	return nil
}

func setDuration(raw map[string]string, key string, dst *time.Duration) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return &apperrors.ConfigError{Key: key, Msg: fmt.Sprintf("not a duration: %q", v)}
	}
	*dst = d
	return nil
}

func feeRates(raw map[string]string) map[string]float64 {
	fees := make(map[string]float64)
	for key, v := range raw {
		if !strings.HasPrefix(key, "fee_rate_") {
			continue
		}
		pairSymbol := strings.TrimPrefix(key, "fee_rate_")
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		fees[pairSymbol] = f
	}
	return fees
}

// parsePaths decodes every path*-prefixed key as a JSON PathConfig and
// resolves it into a models.Path.
func parsePaths(raw map[string]string) ([]models.Path, error) {
	var keys []string
	for key := range raw {
		if strings.HasPrefix(key, "path") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	json := jsoniter.ConfigCompatibleWithStandardLibrary

	paths := make([]models.Path, 0, len(keys))
	for _, key := range keys {
		var pc PathConfig
		if err := json.Unmarshal([]byte(raw[key]), &pc); err != nil {
			return nil, &apperrors.ConfigError{Key: key, Msg: fmt.Sprintf("invalid path JSON: %v", err)}
		}

		assets := strings.Split(pc.Route, "-")
		path, err := models.NewPath(pc.Route, assets...)
		if err != nil {
			return nil, &apperrors.ConfigError{Key: key, Msg: err.Error()}
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func maybeDecrypt(value string, key []byte) (string, error) {
	if len(key) == 0 {
		return value, nil
	}
	plain, err := crypto.Decrypt(value, key)
	if err != nil {
		// Not every deployment stores credentials encrypted; treat a
		// decrypt failure as "this was already plaintext".
		return value, nil
	}
	return plain, nil
}

func (c *Config) validate() error {
	if c.Exchange.Name == "" {
		return &apperrors.ConfigError{Key: "exchange_name", Msg: "required"}
	}
	if !c.Trading.PublicOnly {
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return &apperrors.ConfigError{Msg: "api_key and api_secret are required unless public_only is set"}
		}
	}
	if c.Risk.MaxPositionRatio <= 0 || c.Risk.MaxPositionRatio > 1 {
		return &apperrors.ConfigError{Key: "max_position_ratio", Msg: "must be in (0, 1]"}
	}
	if c.Risk.MaxSingleTradeRatio <= 0 || c.Risk.MaxSingleTradeRatio > c.Risk.MaxPositionRatio {
		return &apperrors.ConfigError{Key: "max_single_trade_ratio", Msg: "must be in (0, max_position_ratio]"}
	}
	if c.Trading.MonitorInterval <= 0 {
		return &apperrors.ConfigError{Key: "monitor_interval", Msg: "must be positive"}
	}
	if c.Trading.OrderTimeout <= 0 {
		return &apperrors.ConfigError{Key: "order_timeout", Msg: "must be positive"}
	}
	if len(c.Paths) == 0 {
		return &apperrors.ConfigError{Msg: "at least one path* entry is required"}
	}
	return nil
}
