package gatekeeper

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/NethermindEth/nfaclaw-agent/chain"
	"github.com/NethermindEth/nfaclaw-agent/communication"
	"github.com/NethermindEth/nfaclaw-agent/crypto"
	"github.com/NethermindEth/nfaclaw-agent/persona"
	"github.com/NethermindEth/nfaclaw-agent/traits"
)

// AgentPersona is the public part of a persona profile.
type AgentPersona struct {
	Role       persona.RoleTemplate `json:"role"`
	Traits     persona.TraitSet     `json:"traits"`
	NFAProfile traits.Profile       `json:"nfaclawProfile"`
}

// Validation lets clients check the derivation independently.
type Validation struct {
	TraitSeed  common.Hash `json:"traitSeed"`
	TraitsHash string      `json:"traitsHash"`
}

// AgentView is the read-only description of one token.
type AgentView struct {
	TokenID    uint64         `json:"tokenId"`
	Owner      common.Address `json:"owner"`
	Identity   chain.Identity `json:"identity"`
	Persona    AgentPersona   `json:"persona"`
	Rarity     traits.Rarity  `json:"rarity"`
	Validation Validation     `json:"validation"`
}

// Agent reads the identity and owner of tokenID and derives its persona.
// Chain failures are *UpstreamError.
func (s *Service) Agent(ctx context.Context, tokenID uint64) (*AgentView, error) {
	var (
		identity chain.Identity
		owner    common.Address
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		identity, err = s.chain.AgentIdentity(gctx, tokenID)
		return err
	})
	g.Go(func() (err error) {
		owner, err = s.chain.OwnerOf(gctx, tokenID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, &UpstreamError{Op: "failed to query agent", Err: err}
	}

	p := s.personas.Build(int(identity.RoleID), new(uint256.Int).SetBytes32(identity.TraitSeed[:]))
	hash, err := TraitsHash(p.NFAProfile.Traits)
	if err != nil {
		return nil, &UpstreamError{Op: "failed to query agent", Err: err}
	}

	s.events.Emit(communication.EventAgentViewed, map[string]interface{}{
		"tokenId": tokenID,
		"tier":    p.NFAProfile.Rarity.Tier,
	})
	return &AgentView{
		TokenID:  tokenID,
		Owner:    owner,
		Identity: identity,
		Persona: AgentPersona{
			Role:       p.Role,
			Traits:     p.TraitSet,
			NFAProfile: p.NFAProfile,
		},
		Rarity: p.NFAProfile.Rarity,
		Validation: Validation{
			TraitSeed:  identity.TraitSeed,
			TraitsHash: hash,
		},
	}, nil
}

// TraitsHash is the sha256 hex of the compact, layer-ordered traits JSON.
func TraitsHash(m traits.TraitMap) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return crypto.HashData(string(data)), nil
}
