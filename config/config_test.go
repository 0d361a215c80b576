package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func baseEnv() map[string]string {
	return map[string]string{
		"BSC_RPC_URL":               "http://localhost:8545",
		"NEXT_PUBLIC_MINER_ADDRESS": "0x00000000000000000000000000000000000000a1",
		"DIVIDEND_ADDRESS":          "0x00000000000000000000000000000000000000a2",
		"NEXT_PUBLIC_TOKEN_ADDRESS": "0x00000000000000000000000000000000000000a3",
		"open_router_key":           "sk-test",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(envMap(baseEnv()))
	require.NoError(t, err)

	assert.Equal(t, uint64(97), cfg.ChainID)
	assert.Equal(t, "0x00000000000000000000000000000000000000A1", cfg.Addresses.Miner.Hex())
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "openai/gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "flapflaw-agent", cfg.LLM.AppName)
	assert.Equal(t, RateLimit{Max: 80, Window: 24 * time.Hour}, cfg.IPRateLimit)
	assert.Equal(t, RateLimit{Max: 80, Window: 24 * time.Hour}, cfg.WalletRateLimit)
	assert.Equal(t, 60*time.Second, cfg.ChatTimeout)
	assert.True(t, cfg.AuthVerboseErrors)
	assert.Equal(t, StoreMemory, cfg.RateLimitStore)

	assert.False(t, cfg.Distribute.Enabled)
	assert.Equal(t, "10000000000000000", cfg.Distribute.MinPendingWei.String())
	assert.False(t, cfg.Refill.Enabled)
	assert.True(t, cfg.Refill.AutoClaim)
	assert.Equal(t, "20000000000000000", cfg.Refill.KeepGasReserveWei.String())
	assert.Equal(t, "1000000000000000", cfg.Refill.MinTransferWei.String())
	assert.Equal(t, "1", cfg.Refill.ClaimMinPendingWei.String())
}

func TestLoadAliasPrecedence(t *testing.T) {
	env := baseEnv()
	env["CHAIN_ID"] = "56"
	env["NEXT_PUBLIC_CHAIN_ID"] = "97"
	env["OPENROUTER_API_KEY"] = "sk-primary"
	cfg, err := load(envMap(env))
	require.NoError(t, err)
	assert.Equal(t, uint64(56), cfg.ChainID)
	assert.Equal(t, "sk-primary", cfg.LLM.APIKey)
}

func TestLoadMissingRequired(t *testing.T) {
	env := baseEnv()
	delete(env, "BSC_RPC_URL")
	delete(env, "DIVIDEND_ADDRESS")
	_, err := load(envMap(env))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingEnv))
	assert.Contains(t, err.Error(), "missing env: one of BSC_RPC_URL")
	assert.Contains(t, err.Error(), "missing env: one of DIVIDEND_ADDRESS, NEXT_PUBLIC_DIVIDEND_ADDRESS")
}

func TestLoadCronKeys(t *testing.T) {
	env := baseEnv()
	env["DISTRIBUTE_ENABLED"] = "TRUE"
	env["DEV_REFILL_ENABLED"] = "true"
	_, err := load(envMap(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISTRIBUTOR_PRIVATE_KEY, DEPLOYER_PRIVATE_KEY")
	assert.Contains(t, err.Error(), "DEV_REFILL_PRIVATE_KEY, DEV_PRIVATE_KEY")

	env["DEPLOYER_PRIVATE_KEY"] = "0xabc"
	env["DEV_PRIVATE_KEY"] = "def"
	cfg, err := load(envMap(env))
	require.NoError(t, err)
	assert.Equal(t, "0xabc", cfg.Distribute.PrivateKey)
	assert.Equal(t, "def", cfg.Refill.PrivateKey)
}

func TestLoadInvalidValues(t *testing.T) {
	cases := map[string]string{
		"DISTRIBUTE_MIN_PENDING_WEI": "1e18",
		"DEV_REFILL_AUTO_CLAIM":      "yes",
		"CHAT_RATE_LIMIT_MAX":        "many",
		"CHAT_TIMEOUT":               "soon",
		"RATE_LIMIT_STORE":           "redis",
		"MINER_ADDRESS":              "0x1234",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			env := baseEnv()
			env[key] = val
			_, err := load(envMap(env))
			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrMissingEnv))
		})
	}
}

func TestLoadRateLimits(t *testing.T) {
	env := baseEnv()
	env["CHAT_RATE_LIMIT_MAX"] = "20"
	env["CHAT_RATE_LIMIT_WINDOW_MS"] = "60000"
	env["CHAT_IP_RATE_LIMIT_MAX"] = "200"
	env["CHAT_WALLET_RATE_LIMIT_WINDOW_MS"] = "3600000"
	cfg, err := load(envMap(env))
	require.NoError(t, err)
	assert.Equal(t, RateLimit{Max: 200, Window: time.Minute}, cfg.IPRateLimit)
	assert.Equal(t, RateLimit{Max: 20, Window: time.Hour}, cfg.WalletRateLimit)

	env = baseEnv()
	env["CHAT_RATE_LIMIT_MAX"] = "many"
	env["CHAT_WALLET_RATE_LIMIT_WINDOW_MS"] = "0"
	_, err = load(envMap(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid CHAT_RATE_LIMIT_MAX: "many"`)
	assert.Contains(t, err.Error(), "wallet rate limit max and window must be positive")
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("NFACLAW_TEST_DOTENV=loaded\n"), 0o600))
	t.Setenv("NFACLAW_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("NFACLAW_TEST_DOTENV"))
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("NFACLAW_TEST_DOTENV"))
}
