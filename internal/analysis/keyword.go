// internal/analysis/keyword.go
package analysis

import (
	"sort"
	"strings"

	"github.com/Corphon/PersonaKit/internal/models"
)

const maxExtracted = 5

// TextAnalyzer 把角色回复转成结构化摘要，可替换为真正的 NLP 实现
type TextAnalyzer interface {
	Summarize(responses []string) models.ConsensusSummary
	Perspective(response string) models.PerspectiveAnalysis
}

// KeywordAnalyzer 基于固定指示词的实现，确定性且无副作用
type KeywordAnalyzer struct {
	// 为空时按文本自动检测
	Lang Language
}

// NewKeywordAnalyzer 创建自动检测语言的分析器
func NewKeywordAnalyzer() *KeywordAnalyzer {
	return &KeywordAnalyzer{}
}

func (a *KeywordAnalyzer) lang(texts ...string) Language {
	if a != nil && a.Lang != "" {
		return a.Lang
	}
	return DetectLanguage(texts...)
}

// Summarize 少于两条回复时不做分析，共识度为 0
func (a *KeywordAnalyzer) Summarize(responses []string) models.ConsensusSummary {
	lang := a.lang(responses...)
	summary := models.ConsensusSummary{
		KeyConcerns:     []string{},
		Opportunities:   []string{},
		Recommendations: []string{},
		CommonPoints:    []string{},
		Language:        string(lang),
	}
	if len(responses) < 2 {
		return summary
	}

	lex := LexiconFor(lang)
	summary.ConsensusLevel = Consensus(responses)
	summary.CommonPoints = CommonWords(responses, 10)
	summary.KeyConcerns = ExtractAll(lang, responses, lex.Concern, maxExtracted)
	summary.Opportunities = ExtractAll(lang, responses, lex.Opportunity, maxExtracted)
	return summary
}

// Perspective 单条回复的倾向、立场和要点
func (a *KeywordAnalyzer) Perspective(response string) models.PerspectiveAnalysis {
	lang := a.lang(response)
	lex := LexiconFor(lang)
	return models.PerspectiveAnalysis{
		Sentiment:   Sentiment(lang, response),
		Stance:      Stance(lang, response),
		KeyPoints:   MatchingSentences(lang, response, lex.KeyPoint, maxExtracted),
		Concerns:    Extract(lang, response, lex.Concern, maxExtracted),
		Suggestions: Extract(lang, response, lex.Suggestion, maxExtracted),
	}
}

// Consensus min(2·|共有词|/|并集|, 1)；少于两条回复或空词集为 0，与 Summarize 一致
func Consensus(responses []string) float64 {
	if len(responses) < 2 {
		return 0
	}
	union, common := wordSets(responses)
	if len(union) == 0 {
		return 0
	}
	level := 2 * float64(len(common)) / float64(len(union))
	if level > 1 {
		level = 1
	}
	return level
}

// CommonWords 所有回复共有的词，按字典序取前 limit 个
func CommonWords(responses []string, limit int) []string {
	if len(responses) < 2 {
		return []string{}
	}
	_, common := wordSets(responses)
	words := make([]string, 0, len(common))
	for w := range common {
		words = append(words, w)
	}
	sort.Strings(words)
	if limit > 0 && len(words) > limit {
		words = words[:limit]
	}
	return words
}

func wordSets(responses []string) (union, common map[string]struct{}) {
	union = make(map[string]struct{})
	sets := make([]map[string]struct{}, len(responses))
	for i, r := range responses {
		sets[i] = Words(r)
		for w := range sets[i] {
			union[w] = struct{}{}
		}
	}
	common = make(map[string]struct{})
	for w := range sets[0] {
		shared := true
		for _, s := range sets[1:] {
			if _, ok := s[w]; !ok {
				shared = false
				break
			}
		}
		if shared {
			common[w] = struct{}{}
		}
	}
	return union, common
}

// Sentiment 正负指示词多数票
func Sentiment(lang Language, text string) models.Sentiment {
	lex := LexiconFor(lang)
	pos := countTerms(lang, text, lex.Positive)
	neg := countTerms(lang, text, lex.Negative)
	switch {
	case pos > neg:
		return models.SentimentPositive
	case neg > pos:
		return models.SentimentCautious
	default:
		return models.SentimentNeutral
	}
}

// Stance 支持/反对指示词多数票
func Stance(lang Language, text string) models.Stance {
	lex := LexiconFor(lang)
	support := countTerms(lang, text, lex.Support)
	oppose := countTerms(lang, text, lex.Oppose)
	switch {
	case support > oppose:
		return models.StanceSupport
	case oppose > support:
		return models.StanceOppose
	default:
		return models.StanceNeutral
	}
}

// Extract 每个指示词取第一次出现处到句末的片段，去重后最多 limit 条
func Extract(lang Language, text string, indicators []string, limit int) []string {
	out := []string{}
	seen := make(map[string]bool)
	sentences := Sentences(text)
	for _, ind := range indicators {
		for _, s := range sentences {
			frag, ok := fragmentFrom(lang, s, ind)
			if !ok {
				continue
			}
			if !seen[frag] {
				seen[frag] = true
				out = append(out, frag)
			}
			break
		}
		if len(out) >= limit {
			break
		}
	}
	return out
}

// ExtractAll 对多条回复依次抽取并合并去重
func ExtractAll(lang Language, texts []string, indicators []string, limit int) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, t := range texts {
		for _, frag := range Extract(lang, t, indicators, limit) {
			if seen[frag] {
				continue
			}
			seen[frag] = true
			out = append(out, frag)
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// MatchingSentences 含任一指示词的完整句子，最多 limit 条
func MatchingSentences(lang Language, text string, indicators []string, limit int) []string {
	out := []string{}
	for _, s := range Sentences(text) {
		if hasAnyTerm(lang, s, indicators) {
			out = append(out, s)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

func fragmentFrom(lang Language, sentence, indicator string) (string, bool) {
	lower := strings.ToLower(sentence)
	var idx int
	if lang == Chinese {
		idx = strings.Index(lower, indicator)
	} else {
		idx = indexTerm(lower, indicator)
	}
	if idx < 0 {
		return "", false
	}
	// 英文保留整句；大小写转换改变字节长度时同样退回整句
	if lang == English || len(lower) != len(sentence) {
		return sentence, true
	}
	return strings.TrimSpace(sentence[idx:]), true
}
