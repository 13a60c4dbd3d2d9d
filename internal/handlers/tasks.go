package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"tempo/backend/internal/models"
	"tempo/backend/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ReminderScheduler is the slice of the scheduler the task routes need: the
// create and update paths re-schedule, the delete path cancels.
type ReminderScheduler interface {
	Schedule(task models.Task)
	Cancel(taskID uint)
}

type TaskHandler struct {
	db          *gorm.DB
	taskService services.TaskService
	scheduler   ReminderScheduler
}

func NewTaskHandler(db *gorm.DB, taskService services.TaskService, scheduler ReminderScheduler) *TaskHandler {
	return &TaskHandler{db: db, taskService: taskService, scheduler: scheduler}
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	var input services.TaskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.taskService.CreateTask(h.db, input)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task"})
		return
	}

	h.scheduler.Schedule(task)

	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) GetTasks(c *gin.Context) {
	tasks, err := h.taskService.GetTasks(h.db)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch tasks"})
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *TaskHandler) UpdateTask(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}

	var input services.TaskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.taskService.UpdateTask(h.db, id, input)
	if err != nil {
		handleTaskError(c, err)
		return
	}

	// Re-scheduling cancels any timer still pending from before the edit.
	h.scheduler.Schedule(task)

	c.JSON(http.StatusOK, task)
}

// DeleteTask removes the task, cancels its pending reminder, and returns the
// refreshed task list so the calendar can redraw without a second request.
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}

	if err := h.taskService.DeleteTask(h.db, id); err != nil {
		handleTaskError(c, err)
		return
	}

	h.scheduler.Cancel(id)

	tasks, err := h.taskService.GetTasks(h.db)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch tasks"})
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

func parseTaskID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return 0, false
	}
	return uint(id), true
}

func handleTaskError(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Task not found"})
	} else {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process task request"})
	}
}
