package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/NethermindEth/nfaclaw-agent/ai"
	"github.com/NethermindEth/nfaclaw-agent/chain"
	"github.com/NethermindEth/nfaclaw-agent/utils"
)

// ErrMissingEnv is wrapped by every error about a required variable.
var ErrMissingEnv = errors.New("missing env")

// Rate limit stores.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
)

var openRouterKeyAliases = []string{
	"OPENROUTER_API_KEY",
	"OPEN_ROUTER_API_KEY",
	"OPENROUTER_KEY",
	"OPEN_ROUTER_KEY",
	"openrouter_api_key",
	"open_router_api_key",
	"openrouter_key",
	"open_router_key",
}

// RateLimit is the budget of one chat limiter.
type RateLimit struct {
	Max    int
	Window time.Duration
}

type Config struct {
	ChainID   uint64
	RPCURL    string
	Addresses chain.Addresses
	LLM       ai.LLMConfig

	IPRateLimit     RateLimit
	WalletRateLimit RateLimit
	ChatTimeout     time.Duration

	AuthVerboseErrors bool

	CronSecret string
	Distribute chain.DistributeConfig
	Refill     chain.RefillConfig

	NATSURL        string
	RateLimitStore string
	BadgerDir      string

	LogLevel  string
	LogFormat string
}

// LoadDotEnv reads .env files into the environment. A missing file is not
// an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if utils.FileExists(f) {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	e := env{getenv: getenv}
	llm := ai.DefaultLLMConfig()

	cfg := &Config{
		ChainID: e.uintOr("97", "CHAIN_ID", "NEXT_PUBLIC_CHAIN_ID"),
		RPCURL:  e.required("BSC_RPC_URL"),
		Addresses: chain.Addresses{
			Miner:    e.address("MINER_ADDRESS", "NEXT_PUBLIC_MINER_ADDRESS"),
			Dividend: e.address("DIVIDEND_ADDRESS", "NEXT_PUBLIC_DIVIDEND_ADDRESS"),
			Token:    e.address("TOKEN_ADDRESS", "NEXT_PUBLIC_TOKEN_ADDRESS"),
		},
		LLM: ai.LLMConfig{
			APIKey:      e.first(openRouterKeyAliases...),
			BaseURL:     e.or(llm.BaseURL, "OPENROUTER_BASE_URL"),
			Model:       e.or(llm.Model, "OPENROUTER_MODEL"),
			SiteURL:     e.first("OPENROUTER_SITE_URL"),
			AppName:     e.or(llm.AppName, "OPENROUTER_APP_NAME"),
			Temperature: llm.Temperature,
		},
		IPRateLimit:       e.rateLimit("IP"),
		WalletRateLimit:   e.rateLimit("WALLET"),
		ChatTimeout:       e.duration("60s", "CHAT_TIMEOUT"),
		AuthVerboseErrors: e.boolOr(true, "AUTH_VERBOSE_ERRORS"),
		CronSecret:        e.first("CRON_SECRET"),
		NATSURL:           e.first("NATS_URL"),
		RateLimitStore:    strings.ToLower(e.or(StoreMemory, "RATE_LIMIT_STORE")),
		BadgerDir:         e.or("./data", "BADGER_DIR"),
		LogLevel:          e.or("info", "LOG_LEVEL"),
		LogFormat:         e.or("json", "LOG_FORMAT"),
	}

	cfg.Distribute = chain.DistributeConfig{
		Enabled:       e.boolOr(false, "DISTRIBUTE_ENABLED"),
		MinPendingWei: e.wei("10000000000000000", "DISTRIBUTE_MIN_PENDING_WEI"),
	}
	if cfg.Distribute.Enabled {
		cfg.Distribute.PrivateKey = e.required("DISTRIBUTOR_PRIVATE_KEY", "DEPLOYER_PRIVATE_KEY")
	}

	cfg.Refill = chain.RefillConfig{
		Enabled:            e.boolOr(false, "DEV_REFILL_ENABLED"),
		KeepGasReserveWei:  e.wei("20000000000000000", "DEV_REFILL_KEEP_GAS_WEI"),
		MinTransferWei:     e.wei("1000000000000000", "DEV_REFILL_MIN_TRANSFER_WEI"),
		AutoClaim:          e.boolOr(true, "DEV_REFILL_AUTO_CLAIM"),
		ClaimMinPendingWei: e.wei("1", "DEV_REFILL_CLAIM_MIN_PENDING_WEI"),
	}
	if cfg.Refill.Enabled {
		cfg.Refill.PrivateKey = e.required("DEV_REFILL_PRIVATE_KEY", "DEV_PRIVATE_KEY")
	}

	if cfg.RateLimitStore != StoreMemory && cfg.RateLimitStore != StoreBadger {
		e.fail(fmt.Errorf("invalid RATE_LIMIT_STORE %q", cfg.RateLimitStore))
	}

	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	return cfg, nil
}

// env collects every problem instead of stopping at the first one.
type env struct {
	getenv func(string) string
	errs   []error
}

func (e *env) fail(err error) { e.errs = append(e.errs, err) }

// lookup returns the first key among keys with a non-empty value.
func (e *env) lookup(keys ...string) (key, value string) {
	for _, k := range keys {
		if v := e.getenv(k); v != "" {
			return k, v
		}
	}
	return "", ""
}

func (e *env) first(keys ...string) string {
	_, v := e.lookup(keys...)
	return v
}

func (e *env) or(def string, keys ...string) string {
	if v := e.first(keys...); v != "" {
		return v
	}
	return def
}

func (e *env) required(keys ...string) string {
	v := e.first(keys...)
	if v == "" {
		e.fail(fmt.Errorf("%w: one of %s", ErrMissingEnv, strings.Join(keys, ", ")))
	}
	return v
}

func (e *env) address(keys ...string) common.Address {
	v := e.required(keys...)
	if v == "" {
		return common.Address{}
	}
	if !common.IsHexAddress(v) {
		e.fail(fmt.Errorf("invalid %s: %q", keys[0], v))
		return common.Address{}
	}
	return common.HexToAddress(v)
}

func (e *env) uintOr(def string, keys ...string) uint64 {
	key, raw := e.lookup(keys...)
	if raw == "" {
		key, raw = keys[0], def
	}
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %q", key, raw))
	}
	return v
}

// rateLimit reads CHAT_<scope>_RATE_LIMIT_{MAX,WINDOW_MS}, falling back to
// the shared CHAT_RATE_LIMIT_* values.
func (e *env) rateLimit(scope string) RateLimit {
	limit := e.uintOr("80", "CHAT_"+scope+"_RATE_LIMIT_MAX", "CHAT_RATE_LIMIT_MAX")
	windowMs := e.uintOr("86400000", "CHAT_"+scope+"_RATE_LIMIT_WINDOW_MS", "CHAT_RATE_LIMIT_WINDOW_MS")
	rl := RateLimit{Max: int(limit), Window: time.Duration(windowMs) * time.Millisecond}
	if rl.Max <= 0 || rl.Window <= 0 {
		e.fail(fmt.Errorf("%s rate limit max and window must be positive", strings.ToLower(scope)))
	}
	return rl
}

func (e *env) boolOr(def bool, key string) bool {
	raw := strings.TrimSpace(e.getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	e.fail(fmt.Errorf("invalid boolean value for %s: %q", key, raw))
	return def
}

func (e *env) duration(def string, key string) time.Duration {
	raw := e.or(def, key)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		e.fail(fmt.Errorf("invalid %s: %q", key, raw))
	}
	return d
}

func (e *env) wei(def string, key string) *big.Int {
	raw := strings.TrimSpace(e.or(def, key))
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		e.fail(fmt.Errorf("invalid %s", key))
		return new(big.Int)
	}
	return v
}
