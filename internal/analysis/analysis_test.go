package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/PersonaKit/internal/models"
)

func TestConsensusBounds(t *testing.T) {
	identical := []string{"The plan looks good", "the plan looks good!"}
	assert.Equal(t, 1.0, Consensus(identical))

	disjoint := []string{"alpha beta", "gamma delta", "epsilon"}
	assert.Equal(t, 0.0, Consensus(disjoint))

	// common {b}, union {a,b,c} → 2/3
	partial := []string{"a b", "b c"}
	assert.InDelta(t, 2.0/3.0, Consensus(partial), 1e-9)

	for _, rs := range [][]string{identical, disjoint, partial, {"x y z", "x y", "x"}} {
		c := Consensus(rs)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
	}
}

func TestConsensusDegenerateInputs(t *testing.T) {
	assert.Equal(t, 0.0, Consensus([]string{"only one"}))
	assert.Equal(t, 0.0, Consensus(nil))
	single := NewKeywordAnalyzer().Summarize([]string{"only one"})
	assert.Equal(t, Consensus([]string{"only one"}), single.ConsensusLevel)
	assert.Equal(t, 0.0, Consensus([]string{"", "  "}))
}

func TestCommonWordsSortedAndLimited(t *testing.T) {
	got := CommonWords([]string{"c b a d", "a b c e", "b a c"}, 2)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, English, DetectLanguage("This is a risky plan."))
	assert.Equal(t, Chinese, DetectLanguage("这个方案存在风险。"))
	assert.Equal(t, Chinese, DetectLanguage("我们需要 API 支持，这是关键。"))
	assert.Equal(t, English, DetectLanguage(""))
}

func TestSentimentAndStance(t *testing.T) {
	assert.Equal(t, models.SentimentPositive, Sentiment(Chinese, "方案很好，我支持。"))
	assert.Equal(t, models.SentimentCautious, Sentiment(Chinese, "存在风险和困难。"))
	assert.Equal(t, models.SentimentNeutral, Sentiment(English, "The weather is mild."))

	assert.Equal(t, models.StanceSupport, Stance(English, "I agree and support this."))
	assert.Equal(t, models.StanceOppose, Stance(English, "I oppose it, the risk is high."))
}

func TestEnglishWordBoundaries(t *testing.T) {
	// "infeasible" 不应命中 "feasible"
	lex := LexiconFor(English)
	assert.Equal(t, 0, countTerms(English, "totally infeasible", []string{"feasible"}))
	assert.Equal(t, 1, countTerms(English, "It is feasible.", []string{"feasible"}))
	assert.True(t, hasAnyTerm(English, "We need to move fast", lex.Action))
}

func TestExtractChineseFragments(t *testing.T) {
	text := "整体可行。但我担心成本过高。市场有很大潜力。"
	lex := LexiconFor(Chinese)
	assert.Equal(t, []string{"担心成本过高"}, Extract(Chinese, text, lex.Concern, 5))
	assert.Equal(t, []string{"潜力"}, Extract(Chinese, text, []string{"潜力"}, 5))
}

func TestKeywordAnalyzerSummarize(t *testing.T) {
	a := NewKeywordAnalyzer()

	single := a.Summarize([]string{"only one voice"})
	assert.Zero(t, single.ConsensusLevel)
	assert.Empty(t, single.KeyConcerns)

	s := a.Summarize([]string{
		"The main risk is cost. There is a big opportunity in retail.",
		"I see a risk in adoption. The opportunity is clear.",
	})
	assert.Equal(t, "en", s.Language)
	assert.Greater(t, s.ConsensusLevel, 0.0)
	assert.LessOrEqual(t, s.ConsensusLevel, 1.0)
	assert.Contains(t, s.KeyConcerns, "The main risk is cost")
	assert.Contains(t, s.Opportunities, "There is a big opportunity in retail")
	assert.Contains(t, s.CommonPoints, "risk")
}

func TestPerspective(t *testing.T) {
	p := NewKeywordAnalyzer().Perspective("这是关键的一步。我建议先做试点。我担心预算不足。")
	assert.Equal(t, models.SentimentNeutral, p.Sentiment)
	assert.Equal(t, []string{"这是关键的一步", "我建议先做试点"}, p.KeyPoints)
	assert.Equal(t, []string{"担心预算不足"}, p.Concerns)
	assert.Contains(t, p.Suggestions, "建议先做试点")
}

func TestRecommendationsByTypePairs(t *testing.T) {
	all := Recommendations(Chinese, []models.CharacterType{
		models.CharacterTypeUser, models.CharacterTypeExpert, models.CharacterTypeOrganization,
	})
	assert.Equal(t, []string{
		"用户需求与专家建议需要进一步协调",
		"考虑技术可行性与商业目标的平衡",
		"关注用户价值与商业可持续性的统一",
		"建议进行更详细的需求分析和市场调研",
	}, all)

	onlyUsers := Recommendations(English, []models.CharacterType{models.CharacterTypeUser})
	assert.Equal(t, []string{"Run a more detailed requirements analysis and market study"}, onlyUsers)
}

func panel() Panel {
	return Panel{
		SessionID: "s1",
		Question:  "Should we launch the app?",
		Responses: []PanelResponse{
			{CharacterID: "u", CharacterName: "Ann", CharacterType: models.CharacterTypeUser,
				Response: "I like it. You must fix onboarding. You could consider a dark mode."},
			{CharacterID: "e", CharacterName: "Dr. Lee", CharacterType: models.CharacterTypeExpert,
				Response: "There is a severe security risk that happens often. We should run an audit. Another risk is vendor lock-in."},
			{CharacterID: "o", CharacterName: "Acme", CharacterType: models.CharacterTypeOrganization,
				Response: "Budget is a major risk. The next step is a pilot."},
		},
	}
}

func TestActionItemsPrioritized(t *testing.T) {
	items := ActionItems(panel(), "")
	require.Len(t, items, 3)
	assert.Equal(t, models.PriorityHigh, items[0].Priority)
	assert.Equal(t, "You must fix onboarding", items[0].Action)
	assert.Equal(t, "Ann", items[0].Source)
	assert.Equal(t, models.PriorityMedium, items[1].Priority)
	assert.Equal(t, "We should run an audit", items[1].Action)
	assert.Equal(t, models.PriorityLow, items[2].Priority)

	high := ActionItems(panel(), models.PriorityHigh)
	require.Len(t, high, 1)
}

func TestAssessRisks(t *testing.T) {
	r := AssessRisks(panel())
	assert.Equal(t, []string{"There is a severe security risk that happens often"}, r.Matrix.HighProbabilityHighImpact)
	assert.Equal(t, []string{"Budget is a major risk"}, r.Matrix.LowProbabilityHighImpact)
	assert.Equal(t, []string{"Another risk is vendor lock-in"}, r.Matrix.LowProbabilityLowImpact)
	assert.Empty(t, r.Matrix.HighProbabilityLowImpact)
	assert.Equal(t, 3, r.TotalRisks)
	assert.Len(t, r.Mitigation, 4)
}

func TestDecisionReport(t *testing.T) {
	rep := DecisionReport(NewKeywordAnalyzer(), panel())
	assert.Equal(t, "s1", rep.SessionID)
	assert.NotEmpty(t, rep.ExecutiveSummary)
	assert.LessOrEqual(t, len([]rune(rep.ExecutiveSummary)), executiveSummaryRunes+3)
	assert.Contains(t, rep.NextSteps, "The next step is a pilot")
	assert.Contains(t, rep.Recommendations, "We should run an audit")
	assert.Contains(t, rep.Recommendations, "Balance technical feasibility against business goals")
	assert.Len(t, rep.ActionItems, 3)
	assert.False(t, rep.GeneratedAt.IsZero())
}

func TestRoadmapScalesPhases(t *testing.T) {
	r := Roadmap(panel(), 12)
	require.Len(t, r.Phases, 4)
	assert.Equal(t, []int{1, 2, 6, 3}, []int{r.Phases[0].Months, r.Phases[1].Months, r.Phases[2].Months, r.Phases[3].Months})
	assert.Equal(t, 12, r.Milestones[3].Month)
	assert.Equal(t, "Deployment complete", r.Milestones[3].Name)

	for _, months := range []int{1, 4, 5, 6, 7, 24} {
		rm := Roadmap(panel(), months)
		total := 0
		for _, ph := range rm.Phases {
			assert.GreaterOrEqual(t, ph.Months, 1)
			total += ph.Months
		}
		assert.Equal(t, rm.TotalMonths, total)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "中文...", Truncate("中文字符", 2))
}
