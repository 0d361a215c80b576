// Package auth implements the signed chat authorization message: a
// human-readable plaintext binding wallet, token, chain, contract and a short
// validity window, signed by the wallet with personal_sign.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Marker is the fixed first line of every auth message.
const Marker = "NFAClaw Chat Auth"

var (
	hexAddressPattern   = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	hexNoncePattern     = regexp.MustCompile(`^0x[a-fA-F0-9]{16,128}$`)
	hexSignaturePattern = regexp.MustCompile(`^0x[a-fA-F0-9]+$`)
)

// IsHexAddress reports whether s is 0x followed by 40 hex characters.
func IsHexAddress(s string) bool { return hexAddressPattern.MatchString(s) }

// IsHexNonce reports whether s is 0x followed by 16 to 128 hex characters.
func IsHexNonce(s string) bool { return hexNoncePattern.MatchString(s) }

// IsHexSignature reports whether s is a non-empty 0x hex string.
func IsHexSignature(s string) bool { return hexSignaturePattern.MatchString(s) }

// Fields are the values carried by an auth message.
type Fields struct {
	Wallet     string
	TokenID    uint64
	ChainID    uint64
	Contract   string
	Nonce      string
	IssuedAtMs float64
	ExpiryMs   float64
}

// ParseMessage reads an auth message. Lines without a usable key:value pair
// are skipped; the required-field checks below still reject a message that
// ends up missing a field. Checks run cheapest first and stop at the first
// failure.
func ParseMessage(message string) (*Fields, error) {
	var lines []string
	for _, l := range strings.Split(message, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) < 2 {
		return nil, malformed(ReasonTooShort)
	}
	if lines[0] != Marker {
		return nil, malformed(ReasonUnsupported)
	}

	kv := make(map[string]string, len(lines)-1)
	for _, l := range lines[1:] {
		idx := strings.Index(l, ":")
		if idx <= 0 {
			continue
		}
		k := strings.TrimSpace(l[:idx])
		v := strings.TrimSpace(l[idx+1:])
		if k != "" && v != "" {
			kv[k] = v
		}
	}

	f := &Fields{
		Wallet:   kv["wallet"],
		Contract: kv["contract"],
		Nonce:    kv["nonce"],
	}
	if !IsHexAddress(f.Wallet) {
		return nil, malformed(ReasonInvalidWallet)
	}
	if !IsHexAddress(f.Contract) {
		return nil, malformed(ReasonInvalidContract)
	}
	if !IsHexNonce(f.Nonce) {
		return nil, malformed(ReasonInvalidNonce)
	}

	var ok bool
	if f.TokenID, ok = positiveInteger(kv["tokenId"]); !ok {
		return nil, malformed(ReasonInvalidTokenID)
	}
	if f.ChainID, ok = positiveInteger(kv["chainId"]); !ok {
		return nil, malformed(ReasonInvalidChainID)
	}
	if f.IssuedAtMs, ok = positiveNumber(kv["issuedAtMs"]); !ok {
		return nil, malformed(ReasonInvalidIssuedAt)
	}
	if f.ExpiryMs, ok = positiveNumber(kv["expiryMs"]); !ok {
		return nil, malformed(ReasonInvalidExpiry)
	}
	return f, nil
}

// maxSafeInteger bounds integers so they survive a float64 round trip.
const maxSafeInteger = 1<<53 - 1

func positiveInteger(s string) (uint64, bool) {
	v, ok := positiveNumber(s)
	if !ok || v != math.Trunc(v) || v > maxSafeInteger {
		return 0, false
	}
	return uint64(v), true
}

func positiveNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}

// BuildMessage renders f in the format ParseMessage reads.
func BuildMessage(f Fields) string {
	return strings.Join([]string{
		Marker,
		"wallet:" + f.Wallet,
		"tokenId:" + strconv.FormatUint(f.TokenID, 10),
		"chainId:" + strconv.FormatUint(f.ChainID, 10),
		"contract:" + f.Contract,
		"nonce:" + f.Nonce,
		"issuedAtMs:" + formatMs(f.IssuedAtMs),
		"expiryMs:" + formatMs(f.ExpiryMs),
	}, "\n")
}

func formatMs(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// NewNonce returns n random bytes as 0x hex.
func NewNonce(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(buf), nil
}

// NewFields prepares a fresh message body valid for ttl from now.
func NewFields(wallet string, tokenID, chainID uint64, contract string, now time.Time, ttl time.Duration) (Fields, error) {
	nonce, err := NewNonce(16)
	if err != nil {
		return Fields{}, err
	}
	issued := float64(now.UnixMilli())
	return Fields{
		Wallet:     wallet,
		TokenID:    tokenID,
		ChainID:    chainID,
		Contract:   contract,
		Nonce:      nonce,
		IssuedAtMs: issued,
		ExpiryMs:   issued + float64(ttl.Milliseconds()),
	}, nil
}
