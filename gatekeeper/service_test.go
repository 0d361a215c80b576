package gatekeeper

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/NethermindEth/nfaclaw-agent/ai"
	"github.com/NethermindEth/nfaclaw-agent/auth"
	"github.com/NethermindEth/nfaclaw-agent/chain"
	"github.com/NethermindEth/nfaclaw-agent/crypto"
	"github.com/NethermindEth/nfaclaw-agent/metrics"
	"github.com/NethermindEth/nfaclaw-agent/traits"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testChainID = 97
	issuedAtMs  = 1_700_000_000_000
)

var testContract = "0x" + strings.Repeat("bb", 20)

type fakeChain struct {
	mu        sync.Mutex
	owner     common.Address
	identity  chain.Identity
	nfaCount  int64
	readErr   error
	ownerErr  error
	toolCalls []string
}

func (f *fakeChain) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolCalls = append(f.toolCalls, name)
}

func (f *fakeChain) OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error) {
	return f.owner, f.ownerErr
}

func (f *fakeChain) AgentIdentity(ctx context.Context, tokenID uint64) (chain.Identity, error) {
	return f.identity, f.readErr
}

func (f *fakeChain) NFABalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return big.NewInt(f.nfaCount), nil
}

func (f *fakeChain) CheckBalance(ctx context.Context, wallet common.Address) (*chain.Amount, error) {
	f.record("balance")
	return &chain.Amount{Symbol: "FLAP", Raw: "1000", Formatted: "0.000000000000001"}, nil
}

func (f *fakeChain) CheckDividend(ctx context.Context, wallet common.Address) (*chain.Amount, error) {
	f.record("dividend")
	return &chain.Amount{Symbol: "BNB", Raw: "5", Formatted: "0.000000000000000005"}, nil
}

func (f *fakeChain) PrepareClaim() chain.ClaimTx {
	f.record("claim")
	return chain.ClaimTx{To: "0xdividend", Data: "0x12345678", Value: "0"}
}

type fakeReplier struct {
	got ai.Request
}

func (f *fakeReplier) Reply(ctx context.Context, req ai.Request) ai.Reply {
	f.got = req
	return ai.Reply{Content: "hi from the claw", Model: "test-model"}
}

// counterValue reads the counter of family name carrying labelValue.
func counterValue(t *testing.T, m *metrics.Metrics, name, labelValue string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetValue() == labelValue {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

type harness struct {
	svc     *Service
	chain   *fakeChain
	llm     *fakeReplier
	metrics *metrics.Metrics
	req     ChatRequest
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)

	msg := auth.BuildMessage(auth.Fields{
		Wallet:     addr.Hex(),
		TokenID:    5,
		ChainID:    testChainID,
		Contract:   testContract,
		Nonce:      "0x0102030405060708090a0b0c0d0e0f10",
		IssuedAtMs: issuedAtMs,
		ExpiryMs:   issuedAtMs + 60_000,
	})
	sig, err := crypto.SignMessage(key, msg)
	require.NoError(t, err)

	fc := &fakeChain{owner: addr, nfaCount: 2}
	verifier := auth.NewVerifier(testChainID, testContract, fc)
	verifier.Now = func() time.Time { return time.UnixMilli(issuedAtMs + 1000) }
	llm := &fakeReplier{}
	m := metrics.New()

	return &harness{
		svc: NewService(Options{
			IPLimiter:     NewLimiter(NewMemoryStore(), 100, time.Hour, "ip"),
			WalletLimiter: NewLimiter(NewMemoryStore(), 100, time.Hour, "wallet"),
			Verifier:      verifier,
			Chain:         fc,
			LLM:           llm,
			Metrics:       m,
		}),
		chain:   fc,
		llm:     llm,
		metrics: m,
		req: ChatRequest{
			TokenID:       5,
			WalletAddress: addr.Hex(),
			Message:       "hello",
			Signature:     sig,
			AuthMessage:   msg,
			History:       []HistoryItem{{Role: "user", Content: "earlier"}},
		},
	}
}

func TestChatZeroSeed(t *testing.T) {
	h := newHarness(t)
	resp, err := h.svc.Chat(context.Background(), h.req)
	require.NoError(t, err)

	assert.Equal(t, "hi from the claw", resp.Reply)
	assert.Equal(t, "test-model", resp.Model)
	assert.False(t, resp.Fallback)
	assert.Equal(t, "2", resp.ToolResults.NFABalance)
	assert.Nil(t, resp.ToolResults.Balance)
	assert.Nil(t, resp.ToolResults.Dividend)
	assert.Nil(t, resp.ToolResults.ClaimTx)
	assert.Empty(t, h.chain.toolCalls)

	got := h.llm.got
	assert.Equal(t, "hello", got.UserMessage)
	assert.Equal(t, []ai.Message{{Role: "user", Content: "earlier"}}, got.History)
	assert.NotEmpty(t, got.SystemPrompt)
	assert.Contains(t, got.DataContext, `"tier": "Common"`)
	assert.Contains(t, got.DataContext, `"percentile": 1,`)
	assert.Contains(t, got.DataContext, `"nfaBalance": "2"`)
	assert.True(t, strings.HasPrefix(got.DataContext, "{\n  \"role\""))

	assert.Equal(t, 1.0, counterValue(t, h.metrics, "nfaclaw_chat_requests_total", metrics.OutcomeOK))
}

func TestChatTools(t *testing.T) {
	h := newHarness(t)
	h.req.Message = "帮我领取分红, and my balance"
	resp, err := h.svc.Chat(context.Background(), h.req)
	require.NoError(t, err)

	require.NotNil(t, resp.ToolResults.Balance)
	require.NotNil(t, resp.ToolResults.Dividend)
	require.NotNil(t, resp.ToolResults.ClaimTx)
	assert.Equal(t, "0x12345678", resp.ToolResults.ClaimTx.Data)
	assert.ElementsMatch(t, []string{"balance", "dividend", "claim"}, h.chain.toolCalls)
	assert.Contains(t, h.llm.got.DataContext, `"claimTx"`)
}

func TestChatClaimImpliesDividend(t *testing.T) {
	h := newHarness(t)
	h.req.Message = "claim"
	resp, err := h.svc.Chat(context.Background(), h.req)
	require.NoError(t, err)
	assert.NotNil(t, resp.ToolResults.Dividend)
	assert.NotNil(t, resp.ToolResults.ClaimTx)
	assert.Nil(t, resp.ToolResults.Balance)
}

func TestChatFallbackReply(t *testing.T) {
	h := newHarness(t)
	h.svc.llm = ai.NewClient(ai.LLMConfig{}, nil)
	resp, err := h.svc.Chat(context.Background(), h.req)
	require.NoError(t, err)

	assert.True(t, resp.Fallback)
	assert.Equal(t, ai.FallbackModel, resp.Model)
	assert.Contains(t, resp.Reply, "你刚才的问题是: hello")
	assert.Contains(t, resp.Reply, `"tier": "Common"`)
	assert.Equal(t, 1.0, counterValue(t, h.metrics, "nfaclaw_llm_fallback_total", ai.ReasonNoAPIKey))
}

func TestChatRejections(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		h := newHarness(t)
		h.req.Message = " "
		_, err := h.svc.Chat(context.Background(), h.req)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "invalid message", verr.Detail)
		assert.Equal(t, metrics.OutcomeInvalid, Outcome(err))
	})

	t.Run("forbidden", func(t *testing.T) {
		h := newHarness(t)
		h.chain.owner = common.HexToAddress("0x01")
		_, err := h.svc.Chat(context.Background(), h.req)
		var aerr *auth.Error
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, 403, aerr.StatusCode())
		assert.Equal(t, metrics.OutcomeForbidden, Outcome(err))
	})

	t.Run("wallet mismatch", func(t *testing.T) {
		h := newHarness(t)
		h.req.WalletAddress = "0x" + strings.Repeat("cd", 20)
		_, err := h.svc.Chat(context.Background(), h.req)
		var aerr *auth.Error
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, auth.ReasonWalletMismatch, aerr.Reason)
		assert.Equal(t, metrics.OutcomeUnauthorized, Outcome(err))
	})

	t.Run("owner read fails", func(t *testing.T) {
		h := newHarness(t)
		h.chain.ownerErr = errors.New("rpc down")
		_, err := h.svc.Chat(context.Background(), h.req)
		var uerr *UpstreamError
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, "chat failed", uerr.Op)
		assert.Equal(t, 500, uerr.StatusCode())
	})

	t.Run("identity read fails", func(t *testing.T) {
		h := newHarness(t)
		h.chain.readErr = chain.ErrNoContract
		_, err := h.svc.Chat(context.Background(), h.req)
		assert.ErrorIs(t, err, chain.ErrNoContract)
		assert.Equal(t, metrics.OutcomeError, Outcome(err))
	})
}

func TestChatWalletLimit(t *testing.T) {
	h := newHarness(t)
	h.svc.walletLimiter = NewLimiter(NewMemoryStore(), 3, time.Hour, "wallet")

	for i := 0; i < 3; i++ {
		_, err := h.svc.Chat(context.Background(), h.req)
		require.NoError(t, err)
	}
	_, err := h.svc.Chat(context.Background(), h.req)
	var rerr *RateLimitError
	require.ErrorAs(t, err, &rerr)
	assert.Positive(t, rerr.RetryAfter)
	assert.Equal(t, 1.0, counterValue(t, h.metrics, "nfaclaw_rate_limited_total", "wallet"))

	// Case variants of the wallet share its bucket.
	for _, wallet := range []string{
		strings.ToLower(h.req.WalletAddress),
		"0x" + strings.ToUpper(h.req.WalletAddress[2:]),
	} {
		variant := h.req
		variant.WalletAddress = wallet
		_, err = h.svc.Chat(context.Background(), variant)
		require.ErrorAs(t, err, &rerr, wallet)
	}
	assert.Equal(t, 3.0, counterValue(t, h.metrics, "nfaclaw_rate_limited_total", "wallet"))

	// A different token under the same wallet has its own budget, so the
	// request gets as far as auth, which is bound to token 5.
	other := h.req
	other.TokenID = 6
	_, err = h.svc.Chat(context.Background(), other)
	assert.False(t, errors.As(err, &rerr))
	var aerr *auth.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, auth.ReasonTokenIDMismatch, aerr.Reason)
}

func TestAllowIP(t *testing.T) {
	h := newHarness(t)
	h.svc.ipLimiter = NewLimiter(NewMemoryStore(), 1, time.Hour, "ip")
	require.NoError(t, h.svc.AllowIP(context.Background(), "1.2.3.4"))
	err := h.svc.AllowIP(context.Background(), "1.2.3.4")
	var rerr *RateLimitError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "ip", rerr.Scope)
	require.NoError(t, h.svc.AllowIP(context.Background(), "unknown"))
}

func TestAgentView(t *testing.T) {
	h := newHarness(t)
	view, err := h.svc.Agent(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, h.chain.owner, view.Owner)
	assert.Equal(t, traits.TierCommon, view.Rarity.Tier)
	assert.Equal(t, common.Hash{}, view.Validation.TraitSeed)

	want, err := TraitsHash(traits.Derive(nil).Traits)
	require.NoError(t, err)
	assert.Equal(t, want, view.Validation.TraitsHash)
	assert.Len(t, view.Validation.TraitsHash, 64)

	h.chain.ownerErr = errors.New("rpc down")
	_, err = h.svc.Agent(context.Background(), 5)
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "failed to query agent", uerr.Op)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, metrics.OutcomeOK, Outcome(nil))
	assert.Equal(t, metrics.OutcomeRateLimited, Outcome(&RateLimitError{Scope: "ip", RetryAfter: time.Second}))
	assert.Equal(t, metrics.OutcomeInvalid, Outcome(&auth.Error{Kind: auth.KindMalformed}))
	assert.Equal(t, metrics.OutcomeError, Outcome(errors.New("boom")))
}
