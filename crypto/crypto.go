package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var privateKeyPattern = regexp.MustCompile(`(?:0x)?([a-fA-F0-9]{64})`)

// NormalizePrivateKey extracts a 64-hex private key from raw, tolerating a
// missing 0x prefix and surrounding noise such as quotes.
func NormalizePrivateKey(raw string) (string, error) {
	m := privateKeyPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", errors.New("invalid private key format")
	}
	return m[1], nil
}

// ParsePrivateKey decodes a secp256k1 private key.
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	keyHex, err := NormalizePrivateKey(raw)
	if err != nil {
		return nil, err
	}
	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// SignMessage signs message the way wallets do for personal_sign (EIP-191)
// and returns the 65-byte signature as 0x hex with v in {27, 28}.
func SignMessage(key *ecdsa.PrivateKey, message string) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", err
	}
	sig[sigRecoveryIndex] += 27
	return hexutil.Encode(sig), nil
}

const sigRecoveryIndex = 64

// RecoverAddress returns the address that produced signatureHex over the
// personal_sign digest of message.
func RecoverAddress(message, signatureHex string) (common.Address, error) {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	if sig[sigRecoveryIndex] >= 27 {
		sig[sigRecoveryIndex] -= 27
	}
	if sig[sigRecoveryIndex] > 1 {
		return common.Address{}, errors.New("invalid signature recovery id")
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifySignature reports whether signatureHex over message recovers to
// address. Address comparison is case-insensitive.
func VerifySignature(address, message, signatureHex string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	recovered, err := RecoverAddress(message, signatureHex)
	if err != nil {
		return false
	}
	return recovered == common.HexToAddress(address)
}

// HashData creates a SHA256 hash of the input data
func HashData(data string) string {
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
