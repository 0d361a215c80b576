package gatekeeper

import (
	"regexp"
	"strings"
)

var (
	balancePattern  = regexp.MustCompile(`余额|balance|token`)
	dividendPattern = regexp.MustCompile(`分红|dividend|收益`)
	claimPattern    = regexp.MustCompile(`claim|领取|提取`)
)

// Intents are the tool hints found in a chat message.
type Intents struct {
	Balance  bool `json:"balance"`
	Dividend bool `json:"dividend"`
	Claim    bool `json:"claim"`
}

// DetectIntents matches the lowercased message against the bilingual
// keyword sets. Flags are independent.
func DetectIntents(message string) Intents {
	text := strings.ToLower(message)
	return Intents{
		Balance:  balancePattern.MatchString(text),
		Dividend: dividendPattern.MatchString(text),
		Claim:    claimPattern.MatchString(text),
	}
}
