package auth

import "net/http"

// Kind classifies an authorization failure for transport mapping.
type Kind int

const (
	// KindMalformed means the auth message could not be parsed.
	KindMalformed Kind = iota
	// KindUnauthorized covers binding, freshness and signature failures.
	KindUnauthorized
	// KindForbidden means the signer no longer holds the token.
	KindForbidden
)

// Machine-readable failure reasons.
const (
	ReasonTooShort          = "authMessage too short"
	ReasonUnsupported       = "unsupported authMessage format"
	ReasonInvalidWallet     = "invalid auth wallet"
	ReasonInvalidContract   = "invalid auth contract"
	ReasonInvalidNonce      = "invalid auth nonce"
	ReasonInvalidTokenID    = "invalid auth tokenId"
	ReasonInvalidChainID    = "invalid auth chainId"
	ReasonInvalidIssuedAt   = "invalid auth issuedAtMs"
	ReasonInvalidExpiry     = "invalid auth expiryMs"
	ReasonWalletMismatch    = "auth wallet mismatch"
	ReasonTokenIDMismatch   = "auth tokenId mismatch"
	ReasonChainIDMismatch   = "auth chainId mismatch"
	ReasonContractMismatch  = "auth contract mismatch"
	ReasonExpired           = "auth expired"
	ReasonTTLTooLong        = "auth ttl too long"
	ReasonInvalidSignature  = "invalid signature"
	ReasonOwnershipMismatch = "wallet does not own this NFA"
)

// Error is a rejected authorization attempt.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

// StatusCode maps the failure onto an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindMalformed:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

// Category is the generic label safe to show without revealing which
// check failed.
func (e *Error) Category() string {
	switch e.Kind {
	case KindMalformed:
		return "invalid authMessage"
	case KindForbidden:
		return "forbidden"
	default:
		return "unauthorized"
	}
}

func malformed(reason string) *Error {
	return &Error{Kind: KindMalformed, Reason: reason}
}

func unauthorized(reason string) *Error {
	return &Error{Kind: KindUnauthorized, Reason: reason}
}
