// Package traits derives the NFAClaw v5 trait profile of a token from its
// 256-bit on-chain trait seed. Everything here is pure: the same seed always
// yields the same profile.
package traits

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/holiman/uint256"
)

// Tier is the bucketed rarity class of a trait combination.
type Tier string

const (
	TierCommon    Tier = "Common"
	TierRare      Tier = "Rare"
	TierEpic      Tier = "Epic"
	TierLegendary Tier = "Legendary"
	TierMythic    Tier = "Mythic"
)

// SelectedTrait is the outcome of one layer's weighted pick.
type SelectedTrait struct {
	Layer        LayerKey `json:"layer"`
	LayerLabel   string   `json:"layerLabel"`
	Trait        string   `json:"trait"`
	Weight       uint64   `json:"weight"`
	TotalWeight  uint64   `json:"totalWeight"`
	WeightShare  float64  `json:"weightShare"`
	RarityFactor float64  `json:"rarityFactor"`
}

// Rarity aggregates the information content of a combination.
type Rarity struct {
	Score      float64         `json:"score"`
	Percentile int             `json:"percentile"`
	Tier       Tier            `json:"tier"`
	RankHint   string          `json:"rankHint"`
	TopTraits  []SelectedTrait `json:"topTraits"`
}

// Profile is the full derivation result for one seed.
type Profile struct {
	Traits             TraitMap        `json:"traits"`
	Selected           []SelectedTrait `json:"selected"`
	Rarity             Rarity          `json:"rarity"`
	StyleAnchors       []string        `json:"styleAnchors"`
	BehaviorDirectives []string        `json:"behaviorDirectives"`
	CatchphraseHints   []string        `json:"catchphraseHints"`
}

// TraitMap maps each layer to its chosen trait. It marshals in layer order
// so hashes of the JSON form are stable.
type TraitMap map[LayerKey]string

func (m TraitMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, l := range layers {
		v, ok := m[l.Key]
		if !ok {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(string(l.Key))
		val, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type scoreRange struct {
	min float64
	max float64
}

// Computed once; depends only on the layer table.
var bounds = scoreBounds()

func scoreBounds() scoreRange {
	var r scoreRange
	for _, l := range layers {
		total := float64(l.TotalWeight())
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, t := range l.Traits {
			s := math.Log2(total / float64(t.Weight))
			lo = math.Min(lo, s)
			hi = math.Max(hi, s)
		}
		r.min += lo
		r.max += hi
	}
	return r
}

// ScoreBounds returns the lowest and highest rarity score any seed can reach.
func ScoreBounds() (lo, hi float64) {
	return bounds.min, bounds.max
}

// ParseSeed decodes a 0x-prefixed hex string of at most 32 bytes. Leading
// zeros are allowed since on-chain seeds are bytes32.
func ParseSeed(s string) (*uint256.Int, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if raw == "" {
		return nil, fmt.Errorf("empty trait seed")
	}
	if len(raw)%2 == 1 {
		raw = "0" + raw
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid trait seed %q: %w", s, err)
	}
	if len(b) > 32 {
		return nil, fmt.Errorf("trait seed exceeds 256 bits")
	}
	return new(uint256.Int).SetBytes(b), nil
}

// DeriveHex parses seed and derives its profile.
func DeriveHex(seed string) (Profile, error) {
	v, err := ParseSeed(seed)
	if err != nil {
		return Profile{}, err
	}
	return Derive(v), nil
}

// Derive computes the trait profile of seed. A nil seed is treated as zero.
func Derive(seed *uint256.Int) Profile {
	if seed == nil {
		seed = new(uint256.Int)
	}

	selected := make([]SelectedTrait, 0, len(layers))
	traitMap := make(TraitMap, len(layers))
	var score float64
	for _, l := range layers {
		s := pick(seed, l)
		selected = append(selected, s)
		traitMap[s.Layer] = s.Trait
		score += math.Log2(float64(s.TotalWeight) / float64(s.Weight))
	}

	percentile := Percentile(score)
	tier := TierFor(percentile)

	top := append([]SelectedTrait(nil), selected...)
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].RarityFactor > top[j].RarityFactor
	})
	if len(top) > 3 {
		top = top[:3]
	}

	inf := influences(traitMap, tier)
	return Profile{
		Traits:   traitMap,
		Selected: selected,
		Rarity: Rarity{
			Score:      round(score, 2),
			Percentile: percentile,
			Tier:       tier,
			RankHint:   RankHint(percentile),
			TopTraits:  top,
		},
		StyleAnchors:       inf.style,
		BehaviorDirectives: inf.behavior,
		CatchphraseHints:   inf.catchphrases,
	}
}

func pick(seed *uint256.Int, l LayerDef) SelectedTrait {
	total := l.TotalWeight()
	var roll uint256.Int
	roll.Rsh(seed, l.Shift)
	roll.Mod(&roll, uint256.NewInt(total))
	return selectByRoll(l, roll.Uint64())
}

// selectByRoll walks the layer in declaration order; roll must be < total.
func selectByRoll(l LayerDef, roll uint64) SelectedTrait {
	total := l.TotalWeight()
	chosen := l.Traits[0]
	var cursor uint64
	for _, t := range l.Traits {
		cursor += t.Weight
		if roll < cursor {
			chosen = t
			break
		}
	}
	return SelectedTrait{
		Layer:        l.Key,
		LayerLabel:   l.Label,
		Trait:        chosen.Name,
		Weight:       chosen.Weight,
		TotalWeight:  total,
		WeightShare:  round(float64(chosen.Weight)/float64(total), 4),
		RarityFactor: round(float64(total)/float64(chosen.Weight), 3),
	}
}

// Percentile normalizes a raw score against the global bounds into [1, 99].
func Percentile(score float64) int {
	normalized := (score - bounds.min) / (bounds.max - bounds.min) * 100
	p := int(math.Round(normalized))
	if p < 1 {
		return 1
	}
	if p > 99 {
		return 99
	}
	return p
}

// TierFor maps a percentile onto a tier; lower bounds are inclusive.
func TierFor(percentile int) Tier {
	switch {
	case percentile >= 97:
		return TierMythic
	case percentile >= 90:
		return TierLegendary
	case percentile >= 75:
		return TierEpic
	case percentile >= 50:
		return TierRare
	default:
		return TierCommon
	}
}

var rankHints = []struct {
	min  int
	hint string
}{
	{99, "Top 1% 稀有体"},
	{95, "Top 5% 稀有体"},
	{90, "Top 10% 稀有体"},
	{75, "Top 25% 进阶体"},
	{50, "中位以上"},
}

// RankHint returns the localized rank band for a percentile. The bands do
// not line up with the tier thresholds.
func RankHint(percentile int) string {
	for _, h := range rankHints {
		if percentile >= h.min {
			return h.hint
		}
	}
	return "常见区间"
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
