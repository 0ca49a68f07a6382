// internal/services/json_extract.go
package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// 模型输出中常见的 Markdown 围栏和特殊空白
var jsonNoiseReplacer = strings.NewReplacer(
	"```json", "",
	"```JSON", "",
	"```", "",
	"\ufeff", "",
	"\u00a0", " ",
	"\u2028", "\n",
	"\u2029", "\n",
)

// 字符串外的全角结构符号
var structuralPunctuationMap = map[rune]rune{
	'：': ':',
	'，': ',',
	'【': '[',
	'】': ']',
	'［': '[',
	'］': ']',
	'｛': '{',
	'｝': '}',
}

// 字符串外出现的中文引号对
var quotePairs = map[rune]rune{
	'“': '”',
	'「': '」',
	'『': '』',
}

// extractJSON 从模型回复中截取第一个完整的 JSON 对象或数组
func extractJSON(raw string) string {
	s := strings.TrimSpace(jsonNoiseReplacer.Replace(raw))
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	start := strings.IndexAny(s, "[{")
	if start == -1 {
		return s
	}
	s = normalizeJSONStructure(s[start:])

	open, closing := byte('{'), byte('}')
	if s[0] == '[' {
		open, closing = '[', ']'
	}

	// 括号计数，忽略字符串内部
	balance := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case open:
			balance++
		case closing:
			balance--
			if balance == 0 {
				return strings.TrimSpace(s[:i+1])
			}
		}
	}

	if end := strings.LastIndexByte(s, closing); end >= 0 {
		return strings.TrimSpace(s[:end+1])
	}
	return strings.TrimSpace(s)
}

// normalizeJSONStructure 只替换字符串外的全角符号和中文引号
func normalizeJSONStructure(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	closingQuote := '"'

	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == closingQuote || r == '"':
				inString = false
				closingQuote = '"'
				b.WriteRune('"')
				continue
			}
			b.WriteRune(r)
			continue
		}

		if replacement, ok := structuralPunctuationMap[r]; ok {
			b.WriteRune(replacement)
			continue
		}
		if closing, ok := quotePairs[r]; ok {
			inString = true
			closingQuote = closing
			b.WriteRune('"')
			continue
		}
		if r == '"' {
			inString = true
			closingQuote = '"'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// decodeModelJSON 清洗后解析到 out
func decodeModelJSON(raw string, out interface{}) error {
	text := extractJSON(raw)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to parse model response as JSON: %w", err)
	}
	return nil
}
