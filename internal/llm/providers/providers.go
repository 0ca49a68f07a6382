// internal/llm/providers/providers.go

// Package providers 导入即注册全部内置提供者
package providers

import (
	_ "github.com/Corphon/PersonaKit/internal/llm/providers/anthropic"
	_ "github.com/Corphon/PersonaKit/internal/llm/providers/glm"
	_ "github.com/Corphon/PersonaKit/internal/llm/providers/google"
	_ "github.com/Corphon/PersonaKit/internal/llm/providers/openai"
)
