package gatekeeper

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/NethermindEth/nfaclaw-agent/ai"
	"github.com/NethermindEth/nfaclaw-agent/auth"
)

// Body limits.
const (
	MaxMessageLength = 2000
	MaxHistory       = 10
)

// HistoryItem is one prior turn sent by the client.
type HistoryItem struct {
	Role    string `json:"role" validate:"oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// ChatRequest is the body of a chat call.
type ChatRequest struct {
	TokenID       uint64        `json:"tokenId" validate:"required,lte=9007199254740991"`
	WalletAddress string        `json:"walletAddress" validate:"ethaddr"`
	Message       string        `json:"message" validate:"nonblank,max=2000"`
	Signature     string        `json:"signature" validate:"hexsig"`
	AuthMessage   string        `json:"authMessage" validate:"nonblank"`
	History       []HistoryItem `json:"history" validate:"max=10,dive"`
}

var fieldDetails = map[string]string{
	"TokenID":       "invalid tokenId",
	"WalletAddress": "invalid walletAddress",
	"Message":       "invalid message",
	"Signature":     "invalid signature",
	"AuthMessage":   "invalid authMessage",
	"History":       "invalid history",
	"Role":          "invalid history item",
	"Content":       "invalid history item",
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator with the chat tags registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		mustRegister(v, "ethaddr", func(fl validator.FieldLevel) bool { return auth.IsHexAddress(fl.Field().String()) })
		mustRegister(v, "hexsig", func(fl validator.FieldLevel) bool { return auth.IsHexSignature(fl.Field().String()) })
		mustRegister(v, "nonblank", func(fl validator.FieldLevel) bool { return strings.TrimSpace(fl.Field().String()) != "" })
		validate = v
	})
	return validate
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

// Validate checks req and reports the first failing field the way clients
// expect it.
func (req *ChatRequest) Validate() error {
	err := Validator().Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if detail, ok := fieldDetails[verrs[0].StructField()]; ok {
			return &ValidationError{Detail: detail}
		}
	}
	return &ValidationError{Detail: err.Error()}
}

func (req *ChatRequest) history() []ai.Message {
	out := make([]ai.Message, len(req.History))
	for i, h := range req.History {
		out[i] = ai.Message{Role: h.Role, Content: h.Content}
	}
	return out
}
