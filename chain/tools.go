package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/errgroup"
)

// Amount is a tool result: a raw integer amount and its decimal rendering.
type Amount struct {
	Symbol    string `json:"symbol"`
	Raw       string `json:"raw"`
	Formatted string `json:"formatted"`
}

// ClaimTx is an unsigned transaction the wallet can submit to claim its
// dividend.
type ClaimTx struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

// CheckBalance reports wallet's balance of the configured token.
func (c *Client) CheckBalance(ctx context.Context, wallet common.Address) (*Amount, error) {
	tb, err := c.TokenBalance(ctx, wallet)
	if err != nil {
		return nil, err
	}
	return &Amount{
		Symbol:    tb.Symbol,
		Raw:       tb.Raw.String(),
		Formatted: FormatUnits(tb.Raw, tb.Decimals),
	}, nil
}

// CheckDividend reports wallet's unclaimed dividend in the reward asset.
func (c *Client) CheckDividend(ctx context.Context, wallet common.Address) (*Amount, error) {
	var (
		pending *big.Int
		info    *TokenInfo
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		pending, err = c.PendingDividend(gctx, wallet)
		return err
	})
	g.Go(func() (err error) {
		info, err = c.DividendTokenInfo(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Amount{
		Symbol:    info.Symbol,
		Raw:       pending.String(),
		Formatted: FormatUnits(pending, info.Decimals),
	}, nil
}

// PrepareClaim builds the claimDividend() call against the dividend contract.
func (c *Client) PrepareClaim() ClaimTx {
	data, err := dividendABI.Pack("claimDividend")
	if err != nil {
		// The method takes no arguments; packing cannot fail.
		panic(err)
	}
	return ClaimTx{
		To:    c.addrs.Dividend.Hex(),
		Data:  hexutil.Encode(data),
		Value: "0",
	}
}

// FormatUnits renders v scaled down by 10^decimals, without trailing zeros.
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	digits := new(big.Int).Abs(v).String()
	d := int(decimals)
	if len(digits) <= d {
		digits = strings.Repeat("0", d-len(digits)+1) + digits
	}
	integer := digits[:len(digits)-d]
	fraction := strings.TrimRight(digits[len(digits)-d:], "0")

	out := integer
	if fraction != "" {
		out += "." + fraction
	}
	if v.Sign() < 0 {
		out = "-" + out
	}
	return out
}
