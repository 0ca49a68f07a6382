// internal/analysis/lexicon.go
package analysis

// Lexicon 一种语言的指示词表
type Lexicon struct {
	Positive []string
	Negative []string
	Support  []string
	Oppose   []string

	KeyPoint    []string
	Concern     []string
	Opportunity []string
	Suggestion  []string

	Action       []string
	HighPriority []string
	LowPriority  []string

	Risk     []string
	Severe   []string
	Frequent []string

	Finding        []string
	Recommendation []string
	NextStep       []string
	SuccessFactor  []string
}

var lexicons = map[Language]Lexicon{
	Chinese: {
		Positive: []string{"好", "支持", "同意", "优秀", "可行"},
		Negative: []string{"问题", "困难", "风险", "挑战", "不可行"},
		Support:  []string{"支持", "同意", "可行", "好", "优秀"},
		Oppose:   []string{"反对", "不可行", "问题", "风险", "困难"},

		KeyPoint:    []string{"重要", "关键", "核心", "必须", "建议"},
		Concern:     []string{"担心", "问题", "风险", "挑战", "困难", "障碍"},
		Opportunity: []string{"机会", "可能", "优势", "潜力", "空间"},
		Suggestion:  []string{"建议", "应该", "可以", "需要", "最好"},

		Action:       []string{"应该", "需要", "建议", "必须", "可以"},
		HighPriority: []string{"必须", "紧急", "关键", "重要"},
		LowPriority:  []string{"可以", "考虑", "可选"},

		Risk:     []string{"风险", "挑战", "问题", "困难", "威胁"},
		Severe:   []string{"严重", "重大"},
		Frequent: []string{"经常", "频繁", "普遍"},

		Finding:        []string{"发现", "表明", "显示", "结论"},
		Recommendation: []string{"建议", "应该", "需要", "推荐"},
		NextStep:       []string{"下一步", "随后", "然后", "之后"},
		SuccessFactor:  []string{"成功", "关键", "重要", "核心"},
	},
	English: {
		Positive: []string{"good", "great", "support", "agree", "excellent", "feasible", "promising", "valuable"},
		Negative: []string{"problem", "problems", "difficult", "risk", "risks", "risky", "challenge", "challenges", "infeasible", "concern", "concerns"},
		Support:  []string{"support", "agree", "feasible", "good", "excellent", "recommend"},
		Oppose:   []string{"oppose", "against", "infeasible", "problem", "risk", "risky", "difficult", "reject"},

		KeyPoint:    []string{"important", "key", "core", "must", "critical", "recommend"},
		Concern:     []string{"worry", "worried", "concern", "concerns", "problem", "problems", "risk", "risks", "challenge", "challenges", "difficult", "obstacle", "obstacles"},
		Opportunity: []string{"opportunity", "opportunities", "potential", "advantage", "advantages", "possible", "room"},
		Suggestion:  []string{"suggest", "recommend", "should", "could", "need to", "better to"},

		Action:       []string{"should", "need to", "needs to", "recommend", "must", "could"},
		HighPriority: []string{"must", "urgent", "urgently", "critical", "key", "important"},
		LowPriority:  []string{"could", "consider", "optional", "might"},

		Risk:     []string{"risk", "risks", "challenge", "challenges", "problem", "problems", "difficulty", "difficulties", "threat", "threats"},
		Severe:   []string{"severe", "serious", "major", "critical", "significant"},
		Frequent: []string{"frequent", "frequently", "often", "common", "likely"},

		Finding:        []string{"found", "finding", "findings", "shows", "indicates", "suggests", "conclusion"},
		Recommendation: []string{"recommend", "recommended", "should", "need to", "suggest"},
		NextStep:       []string{"next step", "next steps", "then", "afterwards", "follow up", "follow-up"},
		SuccessFactor:  []string{"success", "successful", "key", "important", "core", "critical"},
	},
}

// LexiconFor 返回语言对应的词表
func LexiconFor(lang Language) Lexicon {
	if lex, ok := lexicons[lang]; ok {
		return lex
	}
	return lexicons[English]
}

// 固定文案
type phrases struct {
	userExpert   string
	expertOrg    string
	userOrg      string
	research     string
	mitigation   map[string][]string
	phases       [4]string
	phaseActions [4][]string
	completed    string
	summary      string
	noConcerns   string
}

var phraseBook = map[Language]phrases{
	Chinese: {
		userExpert: "用户需求与专家建议需要进一步协调",
		expertOrg:  "考虑技术可行性与商业目标的平衡",
		userOrg:    "关注用户价值与商业可持续性的统一",
		research:   "建议进行更详细的需求分析和市场调研",
		mitigation: map[string][]string{
			QuadrantHighHigh: {"制定详细的应对计划", "建立监控机制", "准备应急方案"},
			QuadrantHighLow:  {"加强日常管理", "建立预防措施", "定期检查"},
			QuadrantLowHigh:  {"建立应急预案", "购买保险", "分散风险"},
			QuadrantLowLow:   {"定期监控", "建立预警机制", "记录经验"},
		},
		phases: [4]string{"准备阶段", "设计阶段", "开发阶段", "部署阶段"},
		phaseActions: [4][]string{
			{"需求确认", "团队组建", "资源准备"},
			{"概念设计", "技术方案", "原型开发"},
			{"核心功能开发", "集成测试", "用户测试"},
			{"系统部署", "用户培训", "运营优化"},
		},
		completed:  "%s完成",
		summary:    "针对「%s」，共收集 %d 个角色的评估，共识度 %.0f%%。",
		noConcerns: "未发现明显顾虑。",
	},
	English: {
		userExpert: "Reconcile user needs with expert advice",
		expertOrg:  "Balance technical feasibility against business goals",
		userOrg:    "Align user value with commercial sustainability",
		research:   "Run a more detailed requirements analysis and market study",
		mitigation: map[string][]string{
			QuadrantHighHigh: {"Prepare a detailed response plan", "Set up monitoring", "Keep a contingency plan ready"},
			QuadrantHighLow:  {"Tighten day-to-day management", "Add preventive measures", "Review regularly"},
			QuadrantLowHigh:  {"Write an emergency plan", "Buy insurance", "Spread the exposure"},
			QuadrantLowLow:   {"Monitor periodically", "Set up early warnings", "Record lessons learned"},
		},
		phases: [4]string{"Preparation", "Design", "Development", "Deployment"},
		phaseActions: [4][]string{
			{"Confirm requirements", "Build the team", "Prepare resources"},
			{"Concept design", "Technical plan", "Prototype"},
			{"Core feature development", "Integration testing", "User testing"},
			{"Rollout", "User training", "Operational tuning"},
		},
		completed:  "%s complete",
		summary:    "For %q, %d characters responded with a consensus level of %.0f%%.",
		noConcerns: "No major concerns were raised.",
	},
}

func phrasesFor(lang Language) phrases {
	if p, ok := phraseBook[lang]; ok {
		return p
	}
	return phraseBook[English]
}
