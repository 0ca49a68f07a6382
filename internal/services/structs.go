// internal/services/structs.go
package services

import (
	"time"

	"github.com/Corphon/PersonaKit/internal/storage"
)

// Persistence 以实体 ID 为键的存取契约，storage.Repository 实现它
type Persistence interface {
	Save(c storage.Collection, id string, entity interface{}) error
	Load(c storage.Collection, id string, out interface{}) (bool, error)
	List(c storage.Collection) ([]string, error)
	Delete(c storage.Collection, id string) error
}

// DialogueOptions 对话参数
type DialogueOptions struct {
	ContextWindow int
	MaxHistory    int
	MaxTokens     int
	Temperature   float64
}

// 默认对话参数
const (
	DefaultContextWindow = 10
	DefaultMaxHistory    = 50
	DefaultDialogueMax   = 1500
	DefaultValidationTTL = 60 * time.Second
)

func (o DialogueOptions) withDefaults() DialogueOptions {
	if o.ContextWindow <= 0 {
		o.ContextWindow = DefaultContextWindow
	}
	if o.MaxHistory <= 0 {
		o.MaxHistory = DefaultMaxHistory
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultDialogueMax
	}
	if o.Temperature <= 0 {
		o.Temperature = 0.7
	}
	return o
}

// ValidatorOptions 并发验证参数
type ValidatorOptions struct {
	Timeout    time.Duration
	MaxWorkers int
	MaxTokens  int
}

func (o ValidatorOptions) withDefaults() ValidatorOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultValidationTTL
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 1000
	}
	return o
}

// StreamEvent 流式回复的增量事件
type StreamEvent struct {
	DialogueID string `json:"dialogue_id"`
	MessageID  string `json:"message_id"`
	Fragment   string `json:"fragment,omitempty"`
	Done       bool   `json:"done"`
}
