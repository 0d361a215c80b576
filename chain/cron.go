package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/NethermindEth/nfaclaw-agent/crypto"
)

// defaultTransferGas is used when estimating a plain value transfer fails.
const defaultTransferGas = 21000

// DistributeConfig controls the periodic distribute() call.
type DistributeConfig struct {
	Enabled       bool
	PrivateKey    string
	MinPendingWei *big.Int
}

// DistributeReport is the outcome of one distribute run.
type DistributeReport struct {
	OK               bool   `json:"ok"`
	Skipped          bool   `json:"skipped"`
	Reason           string `json:"reason,omitempty"`
	TotalSupply      string `json:"totalSupply,omitempty"`
	EstimatedPending string `json:"estimatedPending,omitempty"`
	MinPendingWei    string `json:"minPendingWei,omitempty"`
	TxHash           string `json:"txHash,omitempty"`
	BlockNumber      string `json:"blockNumber,omitempty"`
	GasUsed          string `json:"gasUsed,omitempty"`
	RewardToken      string `json:"rewardToken,omitempty"`
}

// EstimatePending is what distribute() would hand out: the contract's
// recorded incoming amount plus any balance that arrived since the last
// recording.
func EstimatePending(pendingIncoming, lastRecorded, current *big.Int) *big.Int {
	est := new(big.Int).Set(pendingIncoming)
	if current.Cmp(lastRecorded) > 0 {
		est.Add(est, new(big.Int).Sub(current, lastRecorded))
	}
	return est
}

// Distribute calls distribute() on the dividend contract when enough reward
// has accumulated.
func (c *Client) Distribute(ctx context.Context, cfg DistributeConfig) (*DistributeReport, error) {
	if !cfg.Enabled {
		return &DistributeReport{Skipped: true, Reason: "DISTRIBUTE_ENABLED=false"}, nil
	}
	key, err := parseKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid distributor private key: %w", err)
	}

	var (
		reward, nfa                   common.Address
		pendingIncoming, lastRecorded *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		reward, err = c.rewardToken(gctx)
		return err
	})
	g.Go(func() (err error) {
		nfa, err = callOne[common.Address](gctx, c, dividendABI, c.addrs.Dividend, "nfaContract")
		return err
	})
	g.Go(func() (err error) {
		pendingIncoming, err = callOne[*big.Int](gctx, c, dividendABI, c.addrs.Dividend, "pendingIncoming")
		return err
	})
	g.Go(func() (err error) {
		lastRecorded, err = callOne[*big.Int](gctx, c, dividendABI, c.addrs.Dividend, "lastRecordedBalance")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	supply, err := c.totalSupply(ctx, nfa)
	if err != nil {
		return nil, err
	}
	if supply.Sign() == 0 {
		return &DistributeReport{OK: true, Skipped: true, Reason: "totalSupply=0", TotalSupply: supply.String()}, nil
	}

	current, err := c.rewardBalance(ctx, reward, c.addrs.Dividend)
	if err != nil {
		return nil, err
	}
	estimated := EstimatePending(pendingIncoming, lastRecorded, current)
	minPending := orZero(cfg.MinPendingWei)
	if estimated.Cmp(minPending) < 0 {
		return &DistributeReport{
			OK:               true,
			Skipped:          true,
			Reason:           "pending below threshold",
			EstimatedPending: estimated.String(),
			MinPendingWei:    minPending.String(),
		}, nil
	}

	data, err := dividendABI.Pack("distribute")
	if err != nil {
		return nil, err
	}
	tx, receipt, err := c.transact(ctx, key, c.addrs.Dividend, nil, data, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("distribute failed: %w", err)
	}
	return &DistributeReport{
		OK:               true,
		TxHash:           tx.Hash().Hex(),
		BlockNumber:      receipt.BlockNumber.String(),
		GasUsed:          fmt.Sprint(receipt.GasUsed),
		EstimatedPending: estimated.String(),
		RewardToken:      reward.Hex(),
	}, nil
}

func (c *Client) rewardBalance(ctx context.Context, reward, holder common.Address) (*big.Int, error) {
	if reward == (common.Address{}) {
		return c.backend.BalanceAt(ctx, holder, nil)
	}
	return callOne[*big.Int](ctx, c, tokenABI, reward, "balanceOf", holder)
}

// RefillConfig controls the dev-wallet refill job.
type RefillConfig struct {
	Enabled            bool
	PrivateKey         string
	KeepGasReserveWei  *big.Int
	MinTransferWei     *big.Int
	AutoClaim          bool
	ClaimMinPendingWei *big.Int
}

// ClaimReport describes the optional claim step of a refill run.
type ClaimReport struct {
	Attempted          bool    `json:"attempted"`
	Claimed            bool    `json:"claimed"`
	ClaimTxHash        *string `json:"claimTxHash"`
	SkippedReason      *string `json:"skippedReason"`
	PendingBeforeClaim string  `json:"pendingBeforeClaim"`
	PendingAfterClaim  string  `json:"pendingAfterClaim"`
}

// TransferReport describes the refill transfer.
type TransferReport struct {
	TxHash      string `json:"txHash"`
	BlockNumber string `json:"blockNumber"`
	GasUsed     string `json:"gasUsed"`
	AmountWei   string `json:"amountWei"`
	To          string `json:"to"`
}

// BalanceReport tracks the dev wallet through the run.
type BalanceReport struct {
	BeforeClaimWei    string `json:"beforeClaimWei"`
	AfterClaimWei     string `json:"afterClaimWei"`
	AfterTransferWei  string `json:"afterTransferWei,omitempty"`
	KeepGasReserveWei string `json:"keepGasReserveWei"`
}

// GasReport is the gas pricing used for the transfer.
type GasReport struct {
	GasPriceWei             string `json:"gasPriceWei"`
	TransferGasLimit        string `json:"transferGasLimit"`
	EstimatedTransferFeeWei string `json:"estimatedTransferFeeWei"`
}

// RefillReport is the outcome of one refill run.
type RefillReport struct {
	OK              bool            `json:"ok"`
	Skipped         bool            `json:"skipped"`
	Reason          string          `json:"reason,omitempty"`
	DevWallet       string          `json:"devWallet,omitempty"`
	RewardToken     string          `json:"rewardToken,omitempty"`
	Claim           *ClaimReport    `json:"claim,omitempty"`
	Transfer        *TransferReport `json:"transfer,omitempty"`
	Balances        *BalanceReport  `json:"balances,omitempty"`
	Gas             *GasReport      `json:"gas,omitempty"`
	TransferableWei string          `json:"transferableWei,omitempty"`
	MinTransferWei  string          `json:"minTransferWei,omitempty"`
}

// Transferable is what remains of balance after keeping reserve and paying
// fee, floored at zero.
func Transferable(balance, reserve, fee *big.Int) *big.Int {
	avail := new(big.Int)
	if balance.Cmp(reserve) > 0 {
		avail.Sub(balance, reserve)
	}
	if avail.Cmp(fee) > 0 {
		return avail.Sub(avail, fee)
	}
	return new(big.Int)
}

// Refill claims the dev wallet's native BNB dividend and forwards what it can
// spare back into the dividend contract.
func (c *Client) Refill(ctx context.Context, cfg RefillConfig) (*RefillReport, error) {
	if !cfg.Enabled {
		return &RefillReport{Skipped: true, Reason: "DEV_REFILL_ENABLED=false"}, nil
	}
	key, err := parseKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid dev refill private key: %w", err)
	}
	dev := ethcrypto.PubkeyToAddress(key.PublicKey)

	var (
		reward                   common.Address
		pendingBefore, balBefore *big.Int
		gasPrice                 *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		reward, err = c.rewardToken(gctx)
		return err
	})
	g.Go(func() (err error) {
		pendingBefore, err = c.PendingDividend(gctx, dev)
		return err
	})
	g.Go(func() (err error) {
		balBefore, err = c.backend.BalanceAt(gctx, dev, nil)
		return err
	})
	g.Go(func() (err error) {
		gasPrice, err = c.backend.SuggestGasPrice(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if reward != (common.Address{}) {
		return &RefillReport{
			OK:          true,
			Skipped:     true,
			Reason:      "Dividend reward token is ERC20, not native BNB",
			RewardToken: reward.Hex(),
		}, nil
	}

	claim := &ClaimReport{
		Attempted:          cfg.AutoClaim,
		PendingBeforeClaim: pendingBefore.String(),
		PendingAfterClaim:  pendingBefore.String(),
	}
	balAfter := c.claim(ctx, key, cfg, claim, pendingBefore, balBefore, gasPrice)

	transferGas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: dev, To: &c.addrs.Dividend, Value: big.NewInt(1)})
	if err != nil {
		transferGas = defaultTransferGas
	}
	fee := new(big.Int).Mul(new(big.Int).SetUint64(transferGas), gasPrice)
	reserve := orZero(cfg.KeepGasReserveWei)
	minTransfer := orZero(cfg.MinTransferWei)
	amount := Transferable(balAfter, reserve, fee)

	report := &RefillReport{
		OK:          true,
		DevWallet:   dev.Hex(),
		RewardToken: reward.Hex(),
		Claim:       claim,
		Balances: &BalanceReport{
			BeforeClaimWei:    balBefore.String(),
			AfterClaimWei:     balAfter.String(),
			KeepGasReserveWei: reserve.String(),
		},
		Gas: &GasReport{
			GasPriceWei:             gasPrice.String(),
			TransferGasLimit:        fmt.Sprint(transferGas),
			EstimatedTransferFeeWei: fee.String(),
		},
	}
	if amount.Cmp(minTransfer) < 0 {
		report.Skipped = true
		report.Reason = "transferable below threshold after gas reserve"
		report.TransferableWei = amount.String()
		report.MinTransferWei = minTransfer.String()
		return report, nil
	}

	tx, receipt, err := c.transact(ctx, key, c.addrs.Dividend, amount, nil, transferGas, gasPrice)
	if err != nil {
		return nil, fmt.Errorf("refill transfer failed: %w", err)
	}
	balFinal, err := c.backend.BalanceAt(ctx, dev, nil)
	if err != nil {
		return nil, err
	}
	report.Balances.AfterTransferWei = balFinal.String()
	report.Transfer = &TransferReport{
		TxHash:      tx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.String(),
		GasUsed:     fmt.Sprint(receipt.GasUsed),
		AmountWei:   amount.String(),
		To:          c.addrs.Dividend.Hex(),
	}
	return report, nil
}

// claim runs the optional claim step into report and returns the dev balance
// after it. Failures are recorded in the report rather than aborting the
// refill. Once the claim is sent its hash is always reported.
func (c *Client) claim(ctx context.Context, key *ecdsa.PrivateKey, cfg RefillConfig, report *ClaimReport, pending, balance, gasPrice *big.Int) *big.Int {
	skip := func(reason string) *big.Int {
		report.SkippedReason = &reason
		return balance
	}
	switch {
	case !cfg.AutoClaim:
		return skip("DEV_REFILL_AUTO_CLAIM=false")
	case pending.Cmp(orZero(cfg.ClaimMinPendingWei)) < 0:
		return skip("pendingDividend below claim threshold")
	}

	dev := ethcrypto.PubkeyToAddress(key.PublicKey)
	data, err := dividendABI.Pack("claimDividend")
	if err != nil {
		return skip("claim failed: " + err.Error())
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: dev, To: &c.addrs.Dividend, Data: data})
	if err != nil {
		return skip("claim failed: " + err.Error())
	}
	fee := new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice)
	if balance.Cmp(fee) < 0 {
		return skip("insufficient BNB balance to pay claim gas")
	}

	tx, _, err := c.transact(ctx, key, c.addrs.Dividend, nil, data, gas, gasPrice)
	if tx != nil {
		hash := tx.Hash().Hex()
		report.ClaimTxHash = &hash
	}
	if err != nil {
		return skip("claim failed: " + err.Error())
	}
	report.Claimed = true

	var pendingAfter, balanceAfter *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		pendingAfter, err = c.PendingDividend(gctx, dev)
		return err
	})
	g.Go(func() (err error) {
		balanceAfter, err = c.backend.BalanceAt(gctx, dev, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return skip("claim failed: " + err.Error())
	}
	report.PendingAfterClaim = pendingAfter.String()
	return balanceAfter
}

// transact signs and sends a legacy transaction from key and waits for it to
// be mined. A zero gasLimit or nil gasPrice is filled in from the node. The
// signed transaction is returned with any error raised after it was sent.
func (c *Client) transact(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte, gasLimit uint64, gasPrice *big.Int) (*types.Transaction, *types.Receipt, error) {
	from := ethcrypto.PubkeyToAddress(key.PublicKey)
	if value == nil {
		value = new(big.Int)
	}
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	if gasPrice == nil {
		if gasPrice, err = c.backend.SuggestGasPrice(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to read gas price: %w", err)
		}
	}
	if gasLimit == 0 {
		gasLimit, err = c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, c.backend, signed)
	if err != nil {
		return signed, nil, fmt.Errorf("failed waiting for %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return signed, receipt, fmt.Errorf("transaction %s reverted", signed.Hash().Hex())
	}
	return signed, receipt, nil
}

func parseKey(raw string) (*ecdsa.PrivateKey, error) {
	hexKey, err := crypto.NormalizePrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return crypto.ParsePrivateKey(hexKey)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
