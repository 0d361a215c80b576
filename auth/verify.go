package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/NethermindEth/nfaclaw-agent/crypto"
)

// DefaultMaxTTL bounds expiryMs - issuedAtMs.
const DefaultMaxTTL = 10 * time.Minute

// OwnershipChecker reads the current holder of a token.
type OwnershipChecker interface {
	OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error)
}

// Request is the part of a chat request the auth message is bound to.
type Request struct {
	WalletAddress string
	TokenID       uint64
	Signature     string
	AuthMessage   string
}

// Verifier binds parsed auth messages to a request and to this deployment.
type Verifier struct {
	ChainID  uint64
	Contract string
	MaxTTL   time.Duration
	Owners   OwnershipChecker
	Now      func() time.Time
}

// NewVerifier returns a Verifier for the given chain and miner contract.
func NewVerifier(chainID uint64, contract string, owners OwnershipChecker) *Verifier {
	return &Verifier{
		ChainID:  chainID,
		Contract: contract,
		MaxTTL:   DefaultMaxTTL,
		Owners:   owners,
		Now:      time.Now,
	}
}

// Verify parses req.AuthMessage and runs every check against it. A rejected
// request yields an *Error; any other error comes from the ownership read.
func (v *Verifier) Verify(ctx context.Context, req Request) (*Fields, error) {
	f, err := ParseMessage(req.AuthMessage)
	if err != nil {
		return nil, err
	}
	if err := v.Bind(f, req.WalletAddress, req.TokenID); err != nil {
		return nil, err
	}

	var (
		signatureOK bool
		owner       common.Address
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The signature covers the message exactly as sent, not the parsed fields.
		signatureOK = crypto.VerifySignature(req.WalletAddress, req.AuthMessage, req.Signature)
		return nil
	})
	g.Go(func() error {
		var err error
		owner, err = v.Owners.OwnerOf(gctx, req.TokenID)
		if err != nil {
			return fmt.Errorf("failed to read owner of token %d: %w", req.TokenID, err)
		}
		return nil
	})
	ownerErr := g.Wait()

	if !signatureOK {
		return nil, unauthorized(ReasonInvalidSignature)
	}
	if ownerErr != nil {
		return nil, ownerErr
	}
	if owner != common.HexToAddress(req.WalletAddress) {
		return nil, &Error{Kind: KindForbidden, Reason: ReasonOwnershipMismatch}
	}
	return f, nil
}

// Bind checks f against the declared wallet and token, the configured chain
// and contract, and the freshness window.
func (v *Verifier) Bind(f *Fields, wallet string, tokenID uint64) error {
	if !strings.EqualFold(f.Wallet, wallet) {
		return unauthorized(ReasonWalletMismatch)
	}
	if f.TokenID != tokenID {
		return unauthorized(ReasonTokenIDMismatch)
	}
	if f.ChainID != v.ChainID {
		return unauthorized(ReasonChainIDMismatch)
	}
	if !strings.EqualFold(f.Contract, v.Contract) {
		return unauthorized(ReasonContractMismatch)
	}

	now := float64(v.now().UnixMilli())
	if f.ExpiryMs < now {
		return unauthorized(ReasonExpired)
	}
	maxTTL := v.MaxTTL
	if maxTTL <= 0 {
		maxTTL = DefaultMaxTTL
	}
	if f.ExpiryMs-f.IssuedAtMs > float64(maxTTL.Milliseconds()) {
		return unauthorized(ReasonTTLTooLong)
	}
	return nil
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}
