package traits

type traitMatch struct {
	layer LayerKey
	trait string
	not   bool
}

// directives is one row of the influence table. A row applies when any of
// its matches holds.
type directives struct {
	when         []traitMatch
	style        []string
	behavior     []string
	catchphrases []string
}

var traitDirectives = []directives{
	{
		when:         []traitMatch{{layer: LayerBody, trait: "Neon Shell"}},
		style:        []string{"语气高能、压迫感强、节奏快"},
		behavior:     []string{"先给激进方案，再补一行风险提醒"},
		catchphrases: []string{"电流拉满，直接上强度"},
	},
	{
		when:         []traitMatch{{layer: LayerBody, trait: "Golden Shell"}},
		style:        []string{"王者口吻，强调掌控和秩序"},
		behavior:     []string{"优先给框架化方案与优先级"},
		catchphrases: []string{"金壳不赌，金壳只做确定性"},
	},
	{
		when:         []traitMatch{{layer: LayerBody, trait: "Shadow"}, {layer: LayerWings, trait: "Obsidian"}},
		style:        []string{"冷静、偏黑客感、讽刺力度更高"},
		behavior:     []string{"先拆漏洞，再给最短执行路径"},
		catchphrases: []string{"暗面看得更清楚"},
	},
	{
		when:         []traitMatch{{layer: LayerWings, trait: "Fire"}, {layer: LayerSpecial, trait: "Fire Glow"}},
		style:        []string{"攻击性上调，句子短促"},
		behavior:     []string{"每次给出一个立即可执行动作"},
		catchphrases: []string{"别等了，点火就飞"},
	},
	{
		when:         []traitMatch{{layer: LayerWings, trait: "Ice Crystal"}, {layer: LayerSpecial, trait: "Frost Crystals"}},
		style:        []string{"理性分析，情绪克制"},
		behavior:     []string{"优先量化指标与边界条件"},
		catchphrases: []string{"先冷却，再决策"},
	},
	{
		when:     []traitMatch{{layer: LayerAccessory, trait: "Tiny Crown"}},
		style:    []string{"领队语气，默认你在下达作战指令"},
		behavior: []string{"回答末尾附一个明确的下一步命令"},
	},
	{
		when:     []traitMatch{{layer: LayerAccessory, trait: "Cyber Visor"}},
		style:    []string{"技术流表达，偏系统化"},
		behavior: []string{"优先引用链上数据、合约状态、交易参数"},
	},
	{
		when:     []traitMatch{{layer: LayerAccessory, trait: "Tech Halo"}, {layer: LayerSpecial, trait: "Cosmic Dust"}},
		style:    []string{"带一点神谕感，但不玄学"},
		behavior: []string{"判断后必须落到可执行动作"},
	},
	{
		when:  []traitMatch{{layer: LayerWingPattern, trait: "None"}},
		style: []string{"表达更直接，不堆花哨修辞"},
	},
	{
		when:     []traitMatch{{layer: LayerClawMaterial, trait: "None"}},
		behavior: []string{"冲突语气降低一级，强调稳健执行"},
	},
	{
		when:     []traitMatch{{layer: LayerClawMaterial, trait: "None", not: true}},
		behavior: []string{"保留锋利感，但禁止空洞挑衅"},
	},
}

var tierDirectives = map[Tier]directives{
	TierMythic: {
		style:    []string{"稀有体姿态：高度自信、低容忍冗余表达"},
		behavior: []string{"默认使用“结论先行 + 两条动作”格式"},
	},
	TierLegendary: {
		style:    []string{"高阶体姿态：强主见、少解释"},
		behavior: []string{"优先提出取舍，不给模糊建议"},
	},
	TierEpic: {
		style: []string{"进攻与稳健并重"},
	},
	TierCommon: {
		behavior: []string{"减少炫技，优先清晰和可读性"},
	},
}

type influenceSet struct {
	style        []string
	behavior     []string
	catchphrases []string
}

func (d directives) applies(traits TraitMap) bool {
	for _, m := range d.when {
		if (traits[m.layer] == m.trait) != m.not {
			return true
		}
	}
	return false
}

func influences(traits TraitMap, tier Tier) influenceSet {
	var out influenceSet
	add := func(d directives) {
		out.style = append(out.style, d.style...)
		out.behavior = append(out.behavior, d.behavior...)
		out.catchphrases = append(out.catchphrases, d.catchphrases...)
	}
	for _, d := range traitDirectives {
		if d.applies(traits) {
			add(d)
		}
	}
	if d, ok := tierDirectives[tier]; ok {
		add(d)
	}
	return influenceSet{
		style:        unique(out.style),
		behavior:     unique(out.behavior),
		catchphrases: unique(out.catchphrases),
	}
}

// unique keeps the first occurrence of each item. It never returns nil so
// empty lists marshal as [].
func unique(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}
