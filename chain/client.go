// Package chain reads the NFA miner, reward token and dividend contracts and
// sends the operator transactions used by the cron jobs.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// ErrNoContract is returned when a call comes back empty, which is what a
// node answers for an address without code.
var ErrNoContract = errors.New("no contract code at address")

const identityCacheSize = 4096

// Backend is the part of an Ethereum JSON-RPC client used here.
// *ethclient.Client satisfies it.
type Backend interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Addresses of the deployed contracts.
type Addresses struct {
	Miner    common.Address
	Dividend common.Address
	Token    common.Address
}

// Identity is the immutable per-token record written at mint.
type Identity struct {
	RoleID    uint8       `json:"roleId"`
	TraitSeed common.Hash `json:"traitSeed"`
	MintedAt  uint64      `json:"mintedAt"`
}

// TokenBalance is a raw ERC20 balance with the token's display metadata.
type TokenBalance struct {
	Raw      *big.Int
	Symbol   string
	Decimals uint8
}

// TokenInfo describes the dividend reward asset.
type TokenInfo struct {
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	Address  common.Address `json:"address"`
}

// Client wraps a Backend with the contract ABIs.
type Client struct {
	backend    Backend
	chainID    *big.Int
	addrs      Addresses
	identities *lru.Cache[uint64, Identity]
}

// NewClient returns a Client over backend.
func NewClient(backend Backend, chainID uint64, addrs Addresses) (*Client, error) {
	cache, err := lru.New[uint64, Identity](identityCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity cache: %w", err)
	}
	return &Client{
		backend:    backend,
		chainID:    new(big.Int).SetUint64(chainID),
		addrs:      addrs,
		identities: cache,
	}, nil
}

// Dial connects to rpcURL and returns a Client over it.
func Dial(ctx context.Context, rpcURL string, chainID uint64, addrs Addresses) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return NewClient(ec, chainID, addrs)
}

func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s at %s: %w", method, to.Hex(), ErrNoContract)
	}
	res, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return res, nil
}

func first[T any](method string, res []interface{}) (T, error) {
	var zero T
	if len(res) == 0 {
		return zero, fmt.Errorf("%s returned no values", method)
	}
	v, ok := res[0].(T)
	if !ok {
		return zero, fmt.Errorf("%s returned unexpected %T", method, res[0])
	}
	return v, nil
}

func callOne[T any](ctx context.Context, c *Client, contract abi.ABI, to common.Address, method string, args ...interface{}) (T, error) {
	res, err := c.call(ctx, contract, to, method, args...)
	if err != nil {
		var zero T
		return zero, err
	}
	return first[T](method, res)
}

// OwnerOf returns the current holder of tokenID.
func (c *Client) OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error) {
	return callOne[common.Address](ctx, c, minerABI, c.addrs.Miner, "ownerOf", new(big.Int).SetUint64(tokenID))
}

// AgentIdentity returns the role and trait seed of tokenID. Identities never
// change after mint, so successful reads are cached.
func (c *Client) AgentIdentity(ctx context.Context, tokenID uint64) (Identity, error) {
	if id, ok := c.identities.Get(tokenID); ok {
		return id, nil
	}
	res, err := c.call(ctx, minerABI, c.addrs.Miner, "getAgentIdentity", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return Identity{}, err
	}
	if len(res) == 0 {
		return Identity{}, fmt.Errorf("getAgentIdentity returned no values")
	}
	tuple, ok := abi.ConvertType(res[0], new(identityTuple)).(*identityTuple)
	if !ok {
		return Identity{}, fmt.Errorf("getAgentIdentity returned unexpected %T", res[0])
	}
	id := Identity{
		RoleID:    tuple.RoleId,
		TraitSeed: common.Hash(tuple.TraitSeed),
	}
	if tuple.MintedAt != nil {
		id.MintedAt = tuple.MintedAt.Uint64()
	}
	c.identities.Add(tokenID, id)
	return id, nil
}

// NFABalance returns how many NFAs owner holds.
func (c *Client) NFABalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return callOne[*big.Int](ctx, c, minerABI, c.addrs.Miner, "balanceOf", owner)
}

func (c *Client) totalSupply(ctx context.Context, nfa common.Address) (*big.Int, error) {
	return callOne[*big.Int](ctx, c, minerABI, nfa, "totalSupply")
}

// TokenBalance reads the configured token's balance for wallet along with its
// symbol and decimals.
func (c *Client) TokenBalance(ctx context.Context, wallet common.Address) (*TokenBalance, error) {
	var tb TokenBalance
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		tb.Raw, err = callOne[*big.Int](gctx, c, tokenABI, c.addrs.Token, "balanceOf", wallet)
		return err
	})
	g.Go(func() (err error) {
		tb.Symbol, err = callOne[string](gctx, c, tokenABI, c.addrs.Token, "symbol")
		return err
	})
	g.Go(func() (err error) {
		tb.Decimals, err = callOne[uint8](gctx, c, tokenABI, c.addrs.Token, "decimals")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &tb, nil
}

// PendingDividend returns the unclaimed dividend of account.
func (c *Client) PendingDividend(ctx context.Context, account common.Address) (*big.Int, error) {
	return callOne[*big.Int](ctx, c, dividendABI, c.addrs.Dividend, "pendingDividend", account)
}

func (c *Client) rewardToken(ctx context.Context) (common.Address, error) {
	return callOne[common.Address](ctx, c, dividendABI, c.addrs.Dividend, "rewardToken")
}

// DividendTokenInfo describes the dividend reward asset. The zero address
// means native BNB.
func (c *Client) DividendTokenInfo(ctx context.Context) (*TokenInfo, error) {
	reward, err := c.rewardToken(ctx)
	if err != nil {
		return nil, err
	}
	if reward == (common.Address{}) {
		return &TokenInfo{Symbol: "BNB", Decimals: 18, Address: reward}, nil
	}

	info := TokenInfo{Address: reward}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		info.Symbol, err = callOne[string](gctx, c, tokenABI, reward, "symbol")
		return err
	})
	g.Go(func() (err error) {
		info.Decimals, err = callOne[uint8](gctx, c, tokenABI, reward, "decimals")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &info, nil
}
