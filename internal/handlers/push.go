package handlers

import (
	"net/http"

	"tempo/backend/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PushHandler struct {
	db *gorm.DB
}

func NewPushHandler(db *gorm.DB) *PushHandler {
	return &PushHandler{db: db}
}

type pushSubscriptionInput struct {
	Endpoint string `json:"endpoint" binding:"required,url"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Subscribe stores the browser's push subscription. Re-submitting the same
// endpoint refreshes its keys instead of erroring.
func (h *PushHandler) Subscribe(c *gin.Context) {
	var input pushSubscriptionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	sub := models.PushSubscription{
		Endpoint: input.Endpoint,
		P256dh:   input.Keys.P256dh,
		Auth:     input.Keys.Auth,
	}

	err := h.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(&sub).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error saving subscription"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Subscription added successfully"})
}

// Unsubscribe removes the subscription for the given endpoint. Removing an
// unknown endpoint is not an error.
func (h *PushHandler) Unsubscribe(c *gin.Context) {
	var input struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	if err := h.db.Where("endpoint = ?", input.Endpoint).Delete(&models.PushSubscription{}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error removing subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Subscription removed"})
}
