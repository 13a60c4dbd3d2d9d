package models

import "time"

// Notification is the persisted in-app notification record. It has its own
// CRUD surface and no lifecycle coupling to the reminder scheduler, which
// broadcasts transient events instead.
type Notification struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Read      bool      `json:"read" gorm:"default:false"`
	CreatedAt time.Time `json:"createdAt"`
}

// PushSubscription mirrors the browser PushSubscription object, keyed by its
// endpoint URL.
type PushSubscription struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Endpoint  string    `json:"endpoint" gorm:"unique;not null"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}
