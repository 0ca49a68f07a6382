// internal/services/integration_service.go
package services

import (
	"fmt"

	"github.com/Corphon/PersonaKit/internal/analysis"
	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/models"
	"github.com/Corphon/PersonaKit/internal/utils"
)

// IntegrationService 把完成的验证会话整理成决策支持结构
// 纯文本处理，不调用模型
type IntegrationService struct {
	validator *Validator
	logger    *utils.Logger
}

// NewIntegrationService 创建整合服务
func NewIntegrationService(validator *Validator, logger *utils.Logger) *IntegrationService {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &IntegrationService{validator: validator, logger: logger}
}

// AnalyzeSession 主题、关注点、机会与各角色情感
func (s *IntegrationService) AnalyzeSession(sessionID string) (*models.SessionInsights, error) {
	panel, err := s.validator.Panel(sessionID)
	if err != nil {
		return nil, err
	}
	insights := analysis.Insights(s.validator.Analyzer(), panel)
	return &insights, nil
}

// GenerateDecisionReport 决策报告
func (s *IntegrationService) GenerateDecisionReport(sessionID string) (*models.DecisionReport, error) {
	panel, err := s.validator.Panel(sessionID)
	if err != nil {
		return nil, err
	}
	report := analysis.DecisionReport(s.validator.Analyzer(), panel)
	s.logger.Info("decision report generated", map[string]interface{}{
		"session":      sessionID,
		"findings":     len(report.KeyFindings),
		"action_items": len(report.ActionItems),
	})
	return &report, nil
}

// IdentifyActionItems priority 为空时返回全部，按高、中、低排序
func (s *IntegrationService) IdentifyActionItems(sessionID, priority string) ([]models.ActionItem, error) {
	p, ok := models.ParsePriority(priority)
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid priority %q", priority), nil)
	}
	panel, err := s.validator.Panel(sessionID)
	if err != nil {
		return nil, err
	}
	items := analysis.ActionItems(panel, p)
	if items == nil {
		items = []models.ActionItem{}
	}
	return items, nil
}

// AssessRiskMatrix 概率/影响四象限与缓解策略
func (s *IntegrationService) AssessRiskMatrix(sessionID string) (*models.RiskAssessment, error) {
	panel, err := s.validator.Panel(sessionID)
	if err != nil {
		return nil, err
	}
	risks := analysis.AssessRisks(panel)
	return &risks, nil
}

// GenerateRoadmap 四阶段实施路线图；months<=0 时取 12
func (s *IntegrationService) GenerateRoadmap(sessionID string, months int) (*models.Roadmap, error) {
	if months <= 0 {
		months = 12
	}
	panel, err := s.validator.Panel(sessionID)
	if err != nil {
		return nil, err
	}
	roadmap := analysis.Roadmap(panel, months)
	return &roadmap, nil
}
