package traits

// LayerKey names one categorical axis of the v5 trait set.
type LayerKey string

const (
	LayerBackground   LayerKey = "background"
	LayerWings        LayerKey = "wings"
	LayerWingPattern  LayerKey = "wingPattern"
	LayerBody         LayerKey = "body"
	LayerClawMaterial LayerKey = "clawMaterial"
	LayerAccessory    LayerKey = "accessory"
	LayerSpecial      LayerKey = "special"
)

// TraitDef is one weighted entry of a layer.
type TraitDef struct {
	Name   string
	Weight uint64
}

// LayerDef is a layer together with the bit offset its roll is taken from.
type LayerDef struct {
	Key    LayerKey
	Label  string
	Shift  uint
	Traits []TraitDef
}

// TotalWeight returns the modulus used for the layer's roll.
func (l LayerDef) TotalWeight() uint64 {
	var total uint64
	for _, t := range l.Traits {
		total += t.Weight
	}
	return total
}

// Order matters: rolls walk traits in declaration order and layers are
// reported in this order.
var layers = []LayerDef{
	{
		Key:   LayerBackground,
		Label: "Background",
		Shift: 0,
		Traits: []TraitDef{
			{"Sky Blue", 12},
			{"Sunset", 10},
			{"Night", 8},
			{"Forest", 10},
			{"Ocean", 8},
			{"Lilac", 10},
			{"Peach", 8},
			{"Mint", 8},
		},
	},
	{
		Key:   LayerWings,
		Label: "Wings",
		Shift: 16,
		Traits: []TraitDef{
			{"Blue Morpho", 10},
			{"Monarch", 10},
			{"Ruby", 6},
			{"Emerald", 8},
			{"Violet", 8},
			{"Golden", 5},
			{"Sunset Pink", 8},
			{"Ice Crystal", 6},
			{"Obsidian", 4},
			{"Pearl", 5},
			{"Neon Green", 4},
			{"Fire", 3},
			{"Teal", 5},
			{"Lavender", 8},
		},
	},
	{
		Key:   LayerWingPattern,
		Label: "Wing Pattern",
		Shift: 32,
		Traits: []TraitDef{
			{"None", 25},
			{"Eye Spots", 3},
			{"Stripe Bands", 10},
			{"Border Glow", 8},
			{"Vein Lines", 8},
			{"Dot Scatter", 8},
			{"Gradient Fade", 6},
			{"Star Pattern", 5},
			{"Crescent Marks", 5},
			{"Diamond Tips", 4},
		},
	},
	{
		Key:   LayerBody,
		Label: "Body",
		Shift: 48,
		Traits: []TraitDef{
			{"Classic Red", 18},
			{"Coral", 14},
			{"Blue Lobster", 10},
			{"Shadow", 8},
			{"Albino", 4},
			{"Golden Shell", 3},
			{"Neon Shell", 2},
		},
	},
	{
		Key:   LayerClawMaterial,
		Label: "Claw Material",
		Shift: 64,
		Traits: []TraitDef{
			{"None", 70},
			{"Obsidian Claws", 8},
			{"Golden Claws", 6},
			{"Pearl Claws", 6},
			{"Neon Claws", 4},
			{"Crimson Claws", 6},
		},
	},
	{
		Key:   LayerAccessory,
		Label: "Accessory",
		Shift: 80,
		Traits: []TraitDef{
			{"None", 65},
			{"Tiny Crown", 10},
			{"Tech Halo", 6},
			{"Horns", 6},
			{"Cyber Visor", 6},
			{"Pearl Necklace", 8},
		},
	},
	{
		Key:   LayerSpecial,
		Label: "Special",
		Shift: 96,
		Traits: []TraitDef{
			{"None", 50},
			{"Sparkle Trail", 10},
			{"Rainbow Aura", 8},
			{"Fire Glow", 5},
			{"Frost Crystals", 4},
			{"Cosmic Dust", 3},
		},
	},
}

// Layers returns a copy of the layer definitions in roll order.
func Layers() []LayerDef {
	out := make([]LayerDef, len(layers))
	for i, l := range layers {
		l.Traits = append([]TraitDef(nil), l.Traits...)
		out[i] = l
	}
	return out
}
