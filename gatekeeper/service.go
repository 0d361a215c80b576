// Package gatekeeper runs the chat pipeline: rate limits, body validation,
// auth verification, chain reads, persona assembly, intent tools and the
// model reply.
package gatekeeper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NethermindEth/nfaclaw-agent/ai"
	"github.com/NethermindEth/nfaclaw-agent/auth"
	"github.com/NethermindEth/nfaclaw-agent/chain"
	"github.com/NethermindEth/nfaclaw-agent/communication"
	"github.com/NethermindEth/nfaclaw-agent/metrics"
	"github.com/NethermindEth/nfaclaw-agent/persona"
	"github.com/NethermindEth/nfaclaw-agent/traits"
)

// ChainReader is the on-chain data the pipeline reads.
type ChainReader interface {
	auth.OwnershipChecker
	AgentIdentity(ctx context.Context, tokenID uint64) (chain.Identity, error)
	NFABalance(ctx context.Context, owner common.Address) (*big.Int, error)
	CheckBalance(ctx context.Context, wallet common.Address) (*chain.Amount, error)
	CheckDividend(ctx context.Context, wallet common.Address) (*chain.Amount, error)
	PrepareClaim() chain.ClaimTx
}

// Replier produces the model reply. It must not fail; problems degrade to a
// fallback reply.
type Replier interface {
	Reply(ctx context.Context, req ai.Request) ai.Reply
}

// ToolResults is the chain data handed to the model and returned to the
// client.
type ToolResults struct {
	NFABalance string         `json:"nfaBalance"`
	Balance    *chain.Amount  `json:"balance,omitempty"`
	Dividend   *chain.Amount  `json:"dividend,omitempty"`
	ClaimTx    *chain.ClaimTx `json:"claimTx,omitempty"`
}

// ChatResponse is a successful chat reply.
type ChatResponse struct {
	Reply       string      `json:"reply"`
	Model       string      `json:"model"`
	Fallback    bool        `json:"fallback"`
	ToolResults ToolResults `json:"toolResults"`
}

// Options wires a Service. Events, Metrics and Logger are optional.
type Options struct {
	IPLimiter     *Limiter
	WalletLimiter *Limiter
	Verifier      *auth.Verifier
	Chain         ChainReader
	Personas      *persona.Builder
	LLM           Replier
	Events        communication.Emitter
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// Service is the chat pipeline.
type Service struct {
	ipLimiter     *Limiter
	walletLimiter *Limiter
	verifier      *auth.Verifier
	chain         ChainReader
	personas      *persona.Builder
	llm           Replier
	events        communication.Emitter
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// NewService returns a Service over opts.
func NewService(opts Options) *Service {
	s := &Service{
		ipLimiter:     opts.IPLimiter,
		walletLimiter: opts.WalletLimiter,
		verifier:      opts.Verifier,
		chain:         opts.Chain,
		personas:      opts.Personas,
		llm:           opts.LLM,
		events:        opts.Events,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
	}
	if s.personas == nil {
		s.personas = persona.NewBuilder(nil)
	}
	if s.events == nil {
		s.events = communication.Fanout(nil)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// AllowIP applies the per-client-IP limit. It runs before the body is read.
func (s *Service) AllowIP(ctx context.Context, ip string) error {
	if s.ipLimiter == nil {
		return nil
	}
	err := s.ipLimiter.Allow(ctx, ip)
	s.recordRejection(err, time.Time{})
	return err
}

// Chat runs the pipeline for a decoded request body.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	resp, err := s.chat(ctx, req)
	if err != nil {
		s.recordRejection(err, start)
		s.events.Emit(communication.EventChatRejected, map[string]interface{}{
			"tokenId": req.TokenID,
			"outcome": Outcome(err),
		})
		return nil, err
	}
	s.metrics.ObserveChat(metrics.OutcomeOK, time.Since(start))
	s.events.Emit(communication.EventChatReply, map[string]interface{}{
		"tokenId":  req.TokenID,
		"model":    resp.Model,
		"fallback": resp.Fallback,
	})
	return resp, nil
}

// WalletKey is the wallet limiter identity of a chat request. The address is
// checksummed so case variants of one wallet share a bucket.
func WalletKey(wallet string, tokenID uint64) string {
	return common.HexToAddress(wallet).Hex() + ":" + strconv.FormatUint(tokenID, 10)
}

func (s *Service) chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.walletLimiter != nil {
		if err := s.walletLimiter.Allow(ctx, WalletKey(req.WalletAddress, req.TokenID)); err != nil {
			return nil, err
		}
	}

	if _, err := s.verifier.Verify(ctx, auth.Request{
		WalletAddress: req.WalletAddress,
		TokenID:       req.TokenID,
		Signature:     req.Signature,
		AuthMessage:   req.AuthMessage,
	}); err != nil {
		var aerr *auth.Error
		if errors.As(err, &aerr) {
			return nil, aerr
		}
		return nil, &UpstreamError{Op: "chat failed", Err: err}
	}

	wallet := common.HexToAddress(req.WalletAddress)
	var (
		identity chain.Identity
		nfaCount *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		identity, err = s.chain.AgentIdentity(gctx, req.TokenID)
		return err
	})
	g.Go(func() (err error) {
		nfaCount, err = s.chain.NFABalance(gctx, wallet)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, &UpstreamError{Op: "chat failed", Err: err}
	}

	p := s.personas.Build(int(identity.RoleID), new(uint256.Int).SetBytes32(identity.TraitSeed[:]))

	results, err := s.runTools(ctx, DetectIntents(req.Message), wallet, nfaCount)
	if err != nil {
		return nil, &UpstreamError{Op: "chat failed", Err: err}
	}

	dataContext, err := ContextBlob(p, results)
	if err != nil {
		return nil, &UpstreamError{Op: "chat failed", Err: err}
	}

	reply := s.llm.Reply(ctx, ai.Request{
		SystemPrompt: p.SystemPrompt,
		History:      req.history(),
		UserMessage:  req.Message,
		DataContext:  dataContext,
	})
	if reply.Fallback {
		s.metrics.LLMFallback(reply.Reason)
	}

	return &ChatResponse{
		Reply:       reply.Content,
		Model:       reply.Model,
		Fallback:    reply.Fallback,
		ToolResults: *results,
	}, nil
}

// runTools runs the balance and dividend reads the intents ask for, in
// parallel. Claim implies a dividend read and adds the claim calldata.
func (s *Service) runTools(ctx context.Context, in Intents, wallet common.Address, nfaCount *big.Int) (*ToolResults, error) {
	results := &ToolResults{NFABalance: nfaCount.String()}

	g, gctx := errgroup.WithContext(ctx)
	if in.Balance {
		g.Go(func() (err error) {
			results.Balance, err = s.chain.CheckBalance(gctx, wallet)
			return err
		})
	}
	if in.Dividend || in.Claim {
		g.Go(func() (err error) {
			results.Dividend, err = s.chain.CheckDividend(gctx, wallet)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if in.Claim {
		claim := s.chain.PrepareClaim()
		results.ClaimTx = &claim
	}
	return results, nil
}

type chatContext struct {
	Role       persona.RoleTemplate `json:"role"`
	Trait      persona.TraitSet     `json:"trait"`
	NFAProfile traits.Profile       `json:"nfaclawProfile"`
	ChainData  *ToolResults         `json:"chainData"`
}

// ContextBlob is the two-space indented JSON the model receives as chain
// context and the fallback reply echoes.
func ContextBlob(p persona.Profile, results *ToolResults) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(chatContext{
		Role:       p.Role,
		Trait:      p.TraitSet,
		NFAProfile: p.NFAProfile,
		ChainData:  results,
	}); err != nil {
		return "", fmt.Errorf("failed to encode chat context: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Outcome labels err for metrics and events.
func Outcome(err error) string {
	var (
		verr *ValidationError
		rerr *RateLimitError
		aerr *auth.Error
	)
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &verr):
		return metrics.OutcomeInvalid
	case errors.As(err, &rerr):
		return metrics.OutcomeRateLimited
	case errors.As(err, &aerr):
		switch aerr.Kind {
		case auth.KindMalformed:
			return metrics.OutcomeInvalid
		case auth.KindForbidden:
			return metrics.OutcomeForbidden
		default:
			return metrics.OutcomeUnauthorized
		}
	default:
		return metrics.OutcomeError
	}
}

// recordRejection counts a failed request. A zero start skips the latency
// observation, used for rejections before the pipeline starts.
func (s *Service) recordRejection(err error, start time.Time) {
	if err == nil {
		return
	}
	var rerr *RateLimitError
	if errors.As(err, &rerr) {
		s.metrics.RateLimited(rerr.Scope)
		s.events.Emit(communication.EventRateLimited, map[string]interface{}{
			"scope":        rerr.Scope,
			"retryAfterMs": rerr.RetryAfter.Milliseconds(),
		})
	}
	if start.IsZero() {
		return
	}
	s.metrics.ObserveChat(Outcome(err), time.Since(start))
	if Outcome(err) == metrics.OutcomeError {
		s.logger.Error("chat failed", zap.Error(err))
	}
}
