// internal/analysis/language.go
package analysis

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Language 启发式规则使用的语言
type Language string

const (
	English Language = "en"
	Chinese Language = "zh"
)

// DetectLanguage 英文字母占有效字符一半以上视为英文，否则中文
func DetectLanguage(texts ...string) Language {
	letterCount := 0
	chineseCount := 0
	totalValidChars := 0

	for _, text := range texts {
		for _, r := range text {
			switch {
			case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
				letterCount++
				totalValidChars++
			case r >= 0x4E00 && r <= 0x9FFF:
				chineseCount++
				totalValidChars++
			case r >= '0' && r <= '9':
				totalValidChars++
			}
		}
	}

	if totalValidChars == 0 || chineseCount == 0 {
		return English
	}
	// 一个汉字按三个字母计，避免英文单词长度压过中文
	if float64(letterCount) > float64(chineseCount*3) {
		return English
	}
	return Chinese
}

// Words 小写并去掉首尾标点后的词集合
func Words(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(text)) {
		w := strings.TrimFunc(field, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

// Sentences 按中英文句末符号切分
func Sentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '。', '！', '？', '；', '!', '?', ';', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		// 英文句号后跟空格才算句末，避免切断小数和缩写
		for _, s := range strings.Split(p, ". ") {
			s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "."))
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// containsTerm 中文按子串，英文按词边界匹配
func containsTerm(lang Language, lowerText, term string) bool {
	if lang == Chinese {
		return strings.Contains(lowerText, term)
	}
	return indexTerm(lowerText, term) >= 0
}

// indexTerm 返回词边界匹配的字节位置，未找到为 -1
func indexTerm(lowerText, term string) int {
	offset := 0
	for {
		i := strings.Index(lowerText[offset:], term)
		if i < 0 {
			return -1
		}
		start := offset + i
		end := start + len(term)
		if boundaryBefore(lowerText, start) && boundaryAfter(lowerText, end) {
			return start
		}
		offset = start + 1
		if offset >= len(lowerText) {
			return -1
		}
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-')
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-')
}

// countTerms 命中的词条数
func countTerms(lang Language, text string, terms []string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, t := range terms {
		if containsTerm(lang, lower, t) {
			n++
		}
	}
	return n
}

func hasAnyTerm(lang Language, text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, t := range terms {
		if containsTerm(lang, lower, t) {
			return true
		}
	}
	return false
}
