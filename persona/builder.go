// Package persona turns a token's role id and trait seed into the system
// prompt the chat model speaks with.
package persona

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/NethermindEth/nfaclaw-agent/traits"
)

// TraitSet is the secondary trait set drawn from the low seed bytes.
type TraitSet struct {
	Tone        string `json:"tone"`
	Verbosity   string `json:"verbosity"`
	Catchphrase string `json:"catchphrase"`
	EmojiLevel  string `json:"emojiLevel"`
}

// Profile is everything the chat path needs to speak as a token.
type Profile struct {
	Role         RoleTemplate   `json:"role"`
	TraitSet     TraitSet       `json:"traits"`
	NFAProfile   traits.Profile `json:"nfaclawProfile"`
	SystemPrompt string         `json:"systemPrompt"`
}

// Secondary trait windows. 0 and 16 overlap the layer windows used by the
// traits package on purpose; the tables are unrelated.
const (
	toneShift        = 0
	verbosityShift   = 8
	catchphraseShift = 16
	emojiShift       = 24
)

// Builder assembles persona profiles from a content catalog.
type Builder struct {
	catalog *Catalog
}

// NewBuilder returns a Builder over catalog, or the embedded catalog if nil.
func NewBuilder(catalog *Catalog) *Builder {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Builder{catalog: catalog}
}

// Catalog exposes the content the builder draws from.
func (b *Builder) Catalog() *Catalog {
	return b.catalog
}

// Build derives the persona for roleID and seed. It never fails.
func (b *Builder) Build(roleID int, seed *uint256.Int) Profile {
	if seed == nil {
		seed = new(uint256.Int)
	}
	role := b.catalog.Role(roleID)
	pools := b.catalog.Traits
	ts := TraitSet{
		Tone:        pools.Tones[window(seed, len(pools.Tones), toneShift)],
		Verbosity:   pools.Verbosity[window(seed, len(pools.Verbosity), verbosityShift)],
		Catchphrase: pools.Catchphrases[window(seed, len(pools.Catchphrases), catchphraseShift)],
		EmojiLevel:  pools.EmojiLevels[window(seed, len(pools.EmojiLevels), emojiShift)],
	}
	nfa := traits.Derive(seed)

	return Profile{
		Role:         role,
		TraitSet:     ts,
		NFAProfile:   nfa,
		SystemPrompt: systemPrompt(role, ts, nfa),
	}
}

// BuildHex is Build for a hex-encoded bytes32 seed.
func (b *Builder) BuildHex(roleID int, seedHex string) (Profile, error) {
	seed, err := traits.ParseSeed(seedHex)
	if err != nil {
		return Profile{}, err
	}
	return b.Build(roleID, seed), nil
}

func window(seed *uint256.Int, size int, shift uint) int {
	var v uint256.Int
	v.Rsh(seed, shift)
	v.Mod(&v, uint256.NewInt(uint64(size)))
	return int(v.Uint64())
}

func systemPrompt(role RoleTemplate, ts TraitSet, nfa traits.Profile) string {
	traitJSON, _ := json.Marshal(nfa.Traits)

	anchors := make([]string, 0, len(nfa.Rarity.TopTraits))
	for _, t := range nfa.Rarity.TopTraits {
		anchors = append(anchors, fmt.Sprintf("%s:%s(x%s)", t.LayerLabel, t.Trait, formatFactor(t.RarityFactor)))
	}

	lines := []string{
		"你是一个链上 Agent，角色名: " + role.Name,
		"角色风格: " + role.Style,
		"角色专长: " + role.Expertise,
		"语气: " + ts.Tone,
		"话痨程度: " + ts.Verbosity,
		"口头禅: " + ts.Catchphrase,
		"emoji频率: " + ts.EmojiLevel,
		"NFAClaw v5 特征: " + string(traitJSON),
		fmt.Sprintf("NFAClaw 稀有度: %s (score=%s, percentile=%d, hint=%s)",
			nfa.Rarity.Tier, formatFactor(nfa.Rarity.Score), nfa.Rarity.Percentile, nfa.Rarity.RankHint),
		"稀有特征锚点: " + strings.Join(anchors, ", "),
		"风格锚点: " + joinOr(nfa.StyleAnchors, "保持角色本体风格"),
		"行为准则: " + joinOr(nfa.BehaviorDirectives, "结论先行，动作可执行"),
		"可用口头禅补充: " + joinOr(nfa.CatchphraseHints, "无"),
		"输出要求: 必须简洁、可执行、尽量引用实时链上数据，不要承诺收益。",
		"如果用户询问 claim 或余额，优先根据工具返回的数据回答，并说明下一步。",
		"说话时要体现“角色本体 + NFAClaw 稀有特征”的混合人格，不要只重复模板话术。",
	}
	return strings.Join(lines, "\n")
}

func joinOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, "；")
}

// formatFactor prints a float the short way (9 not 9.000, 6.167 not 6.1670).
func formatFactor(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", v), "0"), ".")
}
