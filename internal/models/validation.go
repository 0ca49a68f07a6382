// internal/models/validation.go
package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ValidationStatus 验证会话状态
type ValidationStatus string

const (
	ValidationOpen     ValidationStatus = "open"
	ValidationComplete ValidationStatus = "complete"
)

// CharacterResult 单个角色的验证结果；Error 非空表示该角色失败
type CharacterResult struct {
	CharacterID string `json:"character_id" yaml:"character_id"`
	Response    string `json:"response,omitempty" yaml:"response,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	DurationMs  int64  `json:"duration_ms" yaml:"duration_ms"`
}

// Failed 是否失败
func (r CharacterResult) Failed() bool {
	return r.Error != ""
}

// ValidationSession 一个问题同时询问多个角色
type ValidationSession struct {
	ID           string                     `json:"id" yaml:"id"`
	Question     string                     `json:"question" yaml:"question"`
	CharacterIDs []string                   `json:"character_ids" yaml:"character_ids"`
	Results      map[string]CharacterResult `json:"results" yaml:"results"`
	Analysis     *ConsensusSummary          `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	Warnings     []string                   `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	CreatedAt    time.Time                  `json:"created_at" yaml:"created_at"`
	CompletedAt  *time.Time                 `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// NewValidationSession 创建验证会话
func NewValidationSession(question string, characterIDs []string) *ValidationSession {
	return &ValidationSession{
		ID:           uuid.NewString(),
		Question:     question,
		CharacterIDs: append([]string(nil), characterIDs...),
		Results:      map[string]CharacterResult{},
		CreatedAt:    time.Now(),
	}
}

// Status 每个请求的角色都有结果（成功或失败）时为 complete
func (s *ValidationSession) Status() ValidationStatus {
	if len(s.CharacterIDs) == 0 {
		return ValidationOpen
	}
	for _, id := range s.CharacterIDs {
		if _, ok := s.Results[id]; !ok {
			return ValidationOpen
		}
	}
	return ValidationComplete
}

// Responses 成功角色的回复，按角色 ID 排序以保证分析结果稳定
func (s *ValidationSession) Responses() []string {
	ids := make([]string, 0, len(s.Results))
	for id, r := range s.Results {
		if !r.Failed() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Results[id].Response)
	}
	return out
}

// ResponseMap 成功角色的 characterID → response
func (s *ValidationSession) ResponseMap() map[string]string {
	out := make(map[string]string, len(s.Results))
	for id, r := range s.Results {
		if !r.Failed() {
			out[id] = r.Response
		}
	}
	return out
}

// Clone 深拷贝
func (s *ValidationSession) Clone() *ValidationSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.CharacterIDs = append([]string(nil), s.CharacterIDs...)
	cp.Warnings = append([]string(nil), s.Warnings...)
	cp.Results = make(map[string]CharacterResult, len(s.Results))
	for k, v := range s.Results {
		cp.Results[k] = v
	}
	if s.Analysis != nil {
		a := *s.Analysis
		cp.Analysis = &a
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// ValidationRun runConcurrent / runSequential 的返回值
type ValidationRun struct {
	SessionID  string                     `json:"session_id"`
	Question   string                     `json:"question"`
	Responses  map[string]string          `json:"responses"`
	Results    map[string]CharacterResult `json:"results"`
	Analysis   *ConsensusSummary          `json:"analysis"`
	Mode       string                     `json:"mode"`
	DurationMs int64                      `json:"duration_ms"`
	Timestamp  time.Time                  `json:"timestamp"`
}
