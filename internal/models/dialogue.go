// internal/models/dialogue.go
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageRole 消息角色
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// DialogueState 对话状态
type DialogueState string

const (
	DialogueCreated       DialogueState = "created"
	DialogueIdle          DialogueState = "idle"
	DialogueAwaitingReply DialogueState = "awaiting_reply"
	DialogueSummarized    DialogueState = "summarized"
)

// Message 对话消息，追加后不可修改（流式占位消息完成时整体替换除外）
type Message struct {
	ID        string                 `json:"id" yaml:"id"`
	Role      MessageRole            `json:"role" yaml:"role"`
	Content   string                 `json:"content" yaml:"content"`
	Timestamp time.Time              `json:"timestamp" yaml:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NewMessage 创建消息
func NewMessage(role MessageRole, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Dialogue 一个角色与调用方之间的有序会话
type Dialogue struct {
	ID          string                 `json:"id" yaml:"id"`
	CharacterID string                 `json:"character_id" yaml:"character_id"`
	Title       string                 `json:"title" yaml:"title"`
	State       DialogueState          `json:"state" yaml:"state"`
	Messages    []Message              `json:"messages" yaml:"messages"`
	Summary     *DialogueSummary       `json:"summary,omitempty" yaml:"summary,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" yaml:"updated_at"`
}

// NewDialogue 创建对话
func NewDialogue(characterID, title string) *Dialogue {
	now := time.Now()
	return &Dialogue{
		ID:          uuid.NewString(),
		CharacterID: characterID,
		Title:       title,
		State:       DialogueCreated,
		Messages:    []Message{},
		Metadata:    map[string]interface{}{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// LastMessages 最后 n 条消息；n<=0 返回全部
func (d *Dialogue) LastMessages(n int) []Message {
	if n <= 0 || n >= len(d.Messages) {
		return d.Messages
	}
	return d.Messages[len(d.Messages)-n:]
}

// Clone 深拷贝
func (d *Dialogue) Clone() *Dialogue {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Messages = make([]Message, len(d.Messages))
	for i, m := range d.Messages {
		cp.Messages[i] = m
		if m.Metadata != nil {
			md := make(map[string]interface{}, len(m.Metadata))
			for k, v := range m.Metadata {
				md[k] = v
			}
			cp.Messages[i].Metadata = md
		}
	}
	if d.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(d.Metadata))
		for k, v := range d.Metadata {
			cp.Metadata[k] = v
		}
	}
	if d.Summary != nil {
		s := *d.Summary
		s.KeyTopics = append([]string(nil), d.Summary.KeyTopics...)
		cp.Summary = &s
	}
	return &cp
}

// Matches 标题或消息内容的子串匹配
func (d *Dialogue) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(d.Title), q) {
		return true
	}
	for _, m := range d.Messages {
		if strings.Contains(strings.ToLower(m.Content), q) {
			return true
		}
	}
	return false
}

// DialogueSummary 对话总结
type DialogueSummary struct {
	Summary      string    `json:"summary" yaml:"summary"`
	KeyTopics    []string  `json:"key_topics" yaml:"key_topics"`
	Sentiment    string    `json:"sentiment" yaml:"sentiment"`
	MessageCount int       `json:"message_count" yaml:"message_count"`
	DurationSecs float64   `json:"duration_seconds" yaml:"duration_seconds"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}
