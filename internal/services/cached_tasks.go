package services

import (
	"fmt"
	"time"

	"tempo/backend/internal/cache"
	"tempo/backend/internal/models"

	"gorm.io/gorm"
)

const (
	taskListCacheKey = "all_tasks"
	taskCacheTTL     = 30 * time.Minute
	taskListCacheTTL = 10 * time.Minute
)

// CachedTaskService puts a read-through Redis cache in front of a
// TaskService. Cache failures fall back to the store; every write invalidates.
type CachedTaskService struct {
	taskService TaskService
	cache       *cache.RedisCache
}

func NewCachedTaskService(taskService TaskService, cacheInstance *cache.RedisCache) *CachedTaskService {
	return &CachedTaskService{taskService: taskService, cache: cacheInstance}
}

func (s *CachedTaskService) CreateTask(db *gorm.DB, input TaskInput) (models.Task, error) {
	task, err := s.taskService.CreateTask(db, input)
	if err != nil {
		return task, err
	}

	s.cache.Set(taskKey(task.ID), task, taskCacheTTL)
	s.cache.Delete(taskListCacheKey)
	return task, nil
}

func (s *CachedTaskService) GetTasks(db *gorm.DB) ([]models.Task, error) {
	var cached []models.Task
	if err := s.cache.Get(taskListCacheKey, &cached); err == nil {
		return cached, nil
	}

	tasks, err := s.taskService.GetTasks(db)
	if err != nil {
		return nil, err
	}

	s.cache.Set(taskListCacheKey, tasks, taskListCacheTTL)
	return tasks, nil
}

func (s *CachedTaskService) GetTaskByID(db *gorm.DB, id uint) (models.Task, error) {
	var cached models.Task
	if err := s.cache.Get(taskKey(id), &cached); err == nil {
		return cached, nil
	}

	task, err := s.taskService.GetTaskByID(db, id)
	if err != nil {
		return task, err
	}

	s.cache.Set(taskKey(id), task, taskCacheTTL)
	return task, nil
}

func (s *CachedTaskService) UpdateTask(db *gorm.DB, id uint, input TaskInput) (models.Task, error) {
	task, err := s.taskService.UpdateTask(db, id, input)
	if err != nil {
		return task, err
	}

	s.cache.Set(taskKey(id), task, taskCacheTTL)
	s.cache.Delete(taskListCacheKey)
	return task, nil
}

func (s *CachedTaskService) DeleteTask(db *gorm.DB, id uint) error {
	if err := s.taskService.DeleteTask(db, id); err != nil {
		return err
	}

	s.cache.Delete(taskKey(id))
	s.cache.Delete(taskListCacheKey)
	return nil
}

func taskKey(id uint) string {
	return fmt.Sprintf("task:%d", id)
}
