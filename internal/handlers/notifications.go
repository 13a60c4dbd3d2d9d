package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"tempo/backend/internal/models"
	"tempo/backend/internal/stream"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type NotificationHandler struct {
	db  *gorm.DB
	hub *stream.Hub
}

func NewNotificationHandler(db *gorm.DB, hub *stream.Hub) *NotificationHandler {
	return &NotificationHandler{db: db, hub: hub}
}

// Stream is the long-lived SSE connection. It greets the viewer with a
// handshake event immediately, then relays every broadcast verbatim until the
// client goes away. Events broadcast before the connection opened are gone;
// there is no replay.
func (h *NotificationHandler) Stream(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	id, events := h.hub.Register()
	defer h.hub.Deregister(id)

	handshake := stream.Event{
		Type:    stream.EventTypeTaskNotification,
		Title:   "Connected to notification stream",
		Message: "Connected to notification stream",
	}
	if err := writeSSE(c, handshake); err != nil {
		return
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case data := <-events:
			fmt.Fprintf(c.Writer, "data: %s\n\n", data)
			c.Writer.Flush()
		}
	}
}

func writeSSE(c *gin.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

func (h *NotificationHandler) Create(c *gin.Context) {
	var notification models.Notification
	if err := c.ShouldBindJSON(&notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	if err := h.db.Create(&notification).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	// Connected viewers see new in-app notifications without polling.
	h.hub.Broadcast(notification)

	c.JSON(http.StatusCreated, notification)
}

func (h *NotificationHandler) List(c *gin.Context) {
	var notifications []models.Notification
	if err := h.db.Order("created_at desc").Find(&notifications).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to fetch notifications"})
		return
	}
	c.JSON(http.StatusOK, notifications)
}

func (h *NotificationHandler) Get(c *gin.Context) {
	id, ok := parseNotificationID(c)
	if !ok {
		return
	}

	var notification models.Notification
	if err := h.db.First(&notification, "id = ?", id).Error; err != nil {
		handleNotificationError(c, err)
		return
	}
	c.JSON(http.StatusOK, notification)
}

// Update applies a partial update, typically marking a notification read.
func (h *NotificationHandler) Update(c *gin.Context) {
	id, ok := parseNotificationID(c)
	if !ok {
		return
	}

	var notification models.Notification
	if err := h.db.First(&notification, "id = ?", id).Error; err != nil {
		handleNotificationError(c, err)
		return
	}

	var input struct {
		Title   *string `json:"title"`
		Message *string `json:"message"`
		Read    *bool   `json:"read"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	if input.Title != nil {
		notification.Title = *input.Title
	}
	if input.Message != nil {
		notification.Message = *input.Message
	}
	if input.Read != nil {
		notification.Read = *input.Read
	}

	if err := h.db.Save(&notification).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to update notification"})
		return
	}
	c.JSON(http.StatusOK, notification)
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	id, ok := parseNotificationID(c)
	if !ok {
		return
	}

	result := h.db.Delete(&models.Notification{}, "id = ?", id)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to delete notification"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"message": "Notification not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification deleted"})
}

func parseNotificationID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid notification id"})
		return 0, false
	}
	return uint(id), true
}

func handleNotificationError(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Notification not found"})
	} else {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to process notification request"})
	}
}
