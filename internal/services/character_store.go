// internal/services/character_store.go
package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/models"
	"github.com/Corphon/PersonaKit/internal/storage"
	"github.com/Corphon/PersonaKit/internal/utils"
)

// CharacterStore id → Character 的唯一权威来源
// 读不互斥，写串行；对外只返回副本
type CharacterStore struct {
	mu         sync.RWMutex
	characters map[string]*models.Character

	persist Persistence
	logger  *utils.Logger
}

// NewCharacterStore persist 为 nil 时只保存在内存
func NewCharacterStore(persist Persistence, logger *utils.Logger) *CharacterStore {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &CharacterStore{
		characters: make(map[string]*models.Character),
		persist:    persist,
		logger:     logger,
	}
}

// LoadAll 启动时从持久化加载全部角色，返回加载数量
func (s *CharacterStore) LoadAll() (int, error) {
	if s.persist == nil {
		return 0, nil
	}
	ids, err := s.persist.List(storage.CollectionCharacters)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := 0
	for _, id := range ids {
		var c models.Character
		found, err := s.persist.Load(storage.CollectionCharacters, id, &c)
		if err != nil {
			s.logger.Warn("skip unreadable character", map[string]interface{}{"id": id, "error": err})
			continue
		}
		if !found || c.ID == "" {
			continue
		}
		s.characters[c.ID] = &c
		loaded++
	}
	return loaded, nil
}

// Create 保存新角色；ID 为空时自动生成
func (s *CharacterStore) Create(c *models.Character) (*models.Character, error) {
	if c == nil {
		return nil, apperrors.NewValidationError("character is nil", nil)
	}
	if strings.TrimSpace(c.Name) == "" {
		return nil, apperrors.NewValidationError("character name is required", nil)
	}
	if _, ok := models.ParseCharacterType(string(c.Type)); !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid character type %q", c.Type), nil)
	}

	stored := c.Clone()
	if stored.ID == "" {
		stored.ID = models.NewCharacter(stored.Name, stored.Type, "").ID
	}
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if stored.Tags == nil {
		stored.Tags = []string{}
	}
	if stored.Info.Name == "" {
		stored.Info.Name = stored.Name
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.characters[stored.ID]; exists {
		return nil, apperrors.NewConflictError(fmt.Sprintf("character %s already exists", stored.ID), nil)
	}
	if err := s.save(stored); err != nil {
		return nil, err
	}
	s.characters[stored.ID] = stored
	s.logger.Info("character created", map[string]interface{}{
		"id":   stored.ID,
		"name": stored.Name,
		"type": stored.Type,
	})
	return stored.Clone(), nil
}

// Get 内存未命中时从持久化懒加载
func (s *CharacterStore) Get(id string) (*models.Character, error) {
	s.mu.RLock()
	c, ok := s.characters[id]
	s.mu.RUnlock()
	if ok {
		return c.Clone(), nil
	}

	if s.persist != nil && id != "" {
		var loaded models.Character
		found, err := s.persist.Load(storage.CollectionCharacters, id, &loaded)
		if err != nil && !apperrors.IsValidationError(err) {
			return nil, err
		}
		if found && loaded.ID == id {
			s.mu.Lock()
			if existing, ok := s.characters[id]; ok {
				s.mu.Unlock()
				return existing.Clone(), nil
			}
			s.characters[id] = &loaded
			s.mu.Unlock()
			return loaded.Clone(), nil
		}
	}
	return nil, apperrors.NewNotFoundError(fmt.Sprintf("character %s not found", id), nil)
}

// Exists 是否存在
func (s *CharacterStore) Exists(id string) bool {
	_, err := s.Get(id)
	return err == nil
}

// Update 替换指定的字段并刷新 UpdatedAt；不允许修改 ID 和类型
func (s *CharacterStore) Update(id string, upd models.CharacterUpdate) (*models.Character, error) {
	if upd.ID != nil && *upd.ID != id {
		return nil, apperrors.NewValidationError("character id is immutable", nil)
	}
	if _, err := s.Get(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.characters[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("character %s not found", id), nil)
	}
	if upd.Type != nil && *upd.Type != current.Type {
		return nil, apperrors.NewValidationError("character type is immutable", nil)
	}

	next := current.Clone()
	if upd.Name != nil {
		if strings.TrimSpace(*upd.Name) == "" {
			return nil, apperrors.NewValidationError("character name is required", nil)
		}
		next.Name = *upd.Name
	}
	if upd.Description != nil {
		next.Description = *upd.Description
	}
	if upd.Info != nil {
		next.Info = *upd.Info
	}
	if upd.Context != nil {
		next.Context = *upd.Context
	}
	if upd.Expertise != nil {
		next.Expertise = *upd.Expertise
	}
	if upd.Behavior != nil {
		next.Behavior = *upd.Behavior
	}
	if upd.Response != nil {
		next.Response = *upd.Response
	}
	if upd.Tags != nil {
		next.Tags = append([]string(nil), upd.Tags...)
	}
	if upd.Metadata != nil {
		if next.Metadata == nil {
			next.Metadata = make(map[string]interface{}, len(upd.Metadata))
		}
		for k, v := range upd.Metadata {
			next.Metadata[k] = v
		}
	}
	next.UpdatedAt = time.Now()
	if !next.UpdatedAt.After(current.UpdatedAt) {
		next.UpdatedAt = current.UpdatedAt.Add(time.Nanosecond)
	}

	if err := s.save(next); err != nil {
		return nil, err
	}
	s.characters[id] = next
	return next.Clone(), nil
}

// Delete 删除角色
func (s *CharacterStore) Delete(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.characters[id]; !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("character %s not found", id), nil)
	}
	if s.persist != nil {
		if err := s.persist.Delete(storage.CollectionCharacters, id); err != nil && !apperrors.IsNotFoundError(err) {
			return err
		}
	}
	delete(s.characters, id)
	s.logger.Info("character deleted", map[string]interface{}{"id": id})
	return nil
}

// List 按创建时间排序；typ 为空时返回全部
func (s *CharacterStore) List(typ models.CharacterType) []*models.Character {
	s.mu.RLock()
	out := make([]*models.Character, 0, len(s.characters))
	for _, c := range s.characters {
		if typ == "" || c.Type == typ {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()
	sortCharacters(out)
	return out
}

// Search 名称、描述、标签的子串匹配
func (s *CharacterStore) Search(query string) []*models.Character {
	s.mu.RLock()
	out := make([]*models.Character, 0)
	for _, c := range s.characters {
		if c.Matches(query) {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()
	sortCharacters(out)
	return out
}

// Count 角色数量
func (s *CharacterStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.characters)
}

// 持有写锁时调用
func (s *CharacterStore) save(c *models.Character) error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist.Save(storage.CollectionCharacters, c.ID, c); err != nil {
		return fmt.Errorf("保存角色失败: %w", err)
	}
	return nil
}

func sortCharacters(cs []*models.Character) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].ID < cs[j].ID
		}
		return cs[i].CreatedAt.Before(cs[j].CreatedAt)
	})
}
