// internal/templates/renderer.go
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/models"
)

//go:embed prompts/*.tmpl
var builtin embed.FS

// 模板名称
const (
	UserCharacter         = "user_character"
	ExpertCharacter       = "expert_character"
	OrganizationCharacter = "organization_character"
	CharacterGeneration   = "character_generation"
	CreativeExploration   = "creative_exploration"
	DialogueResponse      = "dialogue_response"
	ConcurrentValidation  = "concurrent_validation"
	DialogueSummary       = "dialogue_summary"
	CharacterRefinement   = "character_refinement"
)

// Renderer 渲染命名模板
type Renderer interface {
	Render(name string, vars map[string]interface{}) (string, error)
}

// TemplateRenderer 内置模板 + 可选目录覆盖
type TemplateRenderer struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewRenderer 加载内置模板；dir 非空时用其中同名的 .tmpl 覆盖
func NewRenderer(dir string) (*TemplateRenderer, error) {
	r := &TemplateRenderer{templates: make(map[string]*template.Template)}

	entries, err := builtin.ReadDir("prompts")
	if err != nil {
		return nil, fmt.Errorf("读取内置模板失败: %w", err)
	}
	for _, e := range entries {
		data, err := builtin.ReadFile("prompts/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("读取内置模板失败: %w", err)
		}
		if err := r.add(strings.TrimSuffix(e.Name(), ".tmpl"), string(data)); err != nil {
			return nil, err
		}
	}

	if dir == "" {
		return r, nil
	}
	custom, err := filepath.Glob(filepath.Join(dir, "*.tmpl"))
	if err != nil {
		return nil, apperrors.NewConfigError("invalid template directory", err)
	}
	for _, path := range custom {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.NewConfigError(fmt.Sprintf("read template %s", path), err)
		}
		if err := r.add(strings.TrimSuffix(filepath.Base(path), ".tmpl"), string(data)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRenderer 只加载内置模板，解析失败直接 panic
func MustRenderer() *TemplateRenderer {
	r, err := NewRenderer("")
	if err != nil {
		panic(err)
	}
	return r
}

func (r *TemplateRenderer) add(name, text string) error {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("parse template %s", name), err)
	}
	r.mu.Lock()
	r.templates[name] = tmpl
	r.mu.Unlock()
	return nil
}

// Render 渲染模板
func (r *TemplateRenderer) Render(name string, vars map[string]interface{}) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[name]
	r.mu.RUnlock()
	if !ok {
		return "", apperrors.NewNotFoundError(fmt.Sprintf("template %s not found", name), nil)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", apperrors.NewValidationError(fmt.Sprintf("render template %s", name), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Names 已加载的模板名
func (r *TemplateRenderer) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CharacterTemplate 角色类型对应的系统提示模板
func CharacterTemplate(t models.CharacterType) string {
	switch t {
	case models.CharacterTypeExpert:
		return ExpertCharacter
	case models.CharacterTypeOrganization:
		return OrganizationCharacter
	default:
		return UserCharacter
	}
}

// TypeLabel 模板中使用的中文类型名
func TypeLabel(t models.CharacterType) string {
	switch t {
	case models.CharacterTypeExpert:
		return "专家"
	case models.CharacterTypeOrganization:
		return "组织"
	default:
		return "用户"
	}
}
