package services

import (
	"fmt"
	"time"

	"tempo/backend/internal/models"

	"gorm.io/gorm"
)

// TaskInput is the mutable surface of a task as the calendar client submits
// it. Boolean flags are pointers so an omitted flag keeps its default.
type TaskInput struct {
	Title            string    `json:"title" binding:"required"`
	Start            time.Time `json:"start" binding:"required"`
	End              time.Time `json:"end"`
	Priority         string    `json:"priority" binding:"omitempty,oneof=high medium low"`
	NotificationTime int       `json:"notificationTime"`
	Color            string    `json:"color"`
	TextColor        string    `json:"textColor"`
	AgendaAvatar     string    `json:"agendaAvatar"`
	Editable         *bool     `json:"editable"`
	Deletable        *bool     `json:"deletable"`
	Draggable        *bool     `json:"draggable"`
	AllDay           *bool     `json:"allDay"`
	Disabled         *bool     `json:"disabled"`
	Checked          *bool     `json:"checked"`
}

type TaskService interface {
	CreateTask(db *gorm.DB, input TaskInput) (models.Task, error)
	GetTasks(db *gorm.DB) ([]models.Task, error)
	GetTaskByID(db *gorm.DB, id uint) (models.Task, error)
	UpdateTask(db *gorm.DB, id uint, input TaskInput) (models.Task, error)
	DeleteTask(db *gorm.DB, id uint) error
}

type TaskServiceImpl struct{}

func NewTaskService() *TaskServiceImpl {
	return &TaskServiceImpl{}
}

// CreateTask mints the next sequential task identifier and inserts the task
// in one transaction, so an insert failure never burns a visible gap and two
// concurrent creates never share an id.
func (s *TaskServiceImpl) CreateTask(db *gorm.DB, input TaskInput) (models.Task, error) {
	var task models.Task

	err := db.Transaction(func(tx *gorm.DB) error {
		id, err := models.NextSeq(tx, models.TaskIDCounter)
		if err != nil {
			return fmt.Errorf("failed to mint task id: %w", err)
		}

		task = models.Task{ID: id}
		applyInput(&task, input)

		return tx.Create(&task).Error
	})
	if err != nil {
		return models.Task{}, err
	}
	return task, nil
}

func (s *TaskServiceImpl) GetTasks(db *gorm.DB) ([]models.Task, error) {
	var tasks []models.Task
	if err := db.Order("id").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *TaskServiceImpl) GetTaskByID(db *gorm.DB, id uint) (models.Task, error) {
	var task models.Task
	if err := db.First(&task, "id = ?", id).Error; err != nil {
		return models.Task{}, err
	}
	return task, nil
}

func (s *TaskServiceImpl) UpdateTask(db *gorm.DB, id uint, input TaskInput) (models.Task, error) {
	var task models.Task
	if err := db.First(&task, "id = ?", id).Error; err != nil {
		return models.Task{}, err
	}

	applyInput(&task, input)

	if err := db.Save(&task).Error; err != nil {
		return models.Task{}, err
	}
	return task, nil
}

func (s *TaskServiceImpl) DeleteTask(db *gorm.DB, id uint) error {
	result := db.Delete(&models.Task{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func applyInput(task *models.Task, input TaskInput) {
	task.Title = input.Title
	task.Start = input.Start
	task.End = input.End
	task.Priority = input.Priority
	task.NotificationTime = input.NotificationTime
	task.Color = input.Color
	task.TextColor = input.TextColor
	task.AgendaAvatar = input.AgendaAvatar

	task.Editable = boolOr(input.Editable, true)
	task.Deletable = boolOr(input.Deletable, true)
	task.Draggable = boolOr(input.Draggable, true)
	task.AllDay = boolOr(input.AllDay, false)
	task.Disabled = boolOr(input.Disabled, false)
	task.Checked = boolOr(input.Checked, false)
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
