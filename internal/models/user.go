package models

import (
	"time"
)

const (
	SubscriptionActive   = "active"
	SubscriptionInactive = "inactive"
	SubscriptionCanceled = "canceled"
	SubscriptionPastDue  = "past_due"
)

// SchedulePreferences are the per-user anchor times the calendar plans around.
type SchedulePreferences struct {
	LunchTime  *time.Time `json:"lunchTime,omitempty"`
	DinnerTime *time.Time `json:"dinnerTime,omitempty"`
	SleepTime  *time.Time `json:"sleepTime,omitempty"`
	WakeUpTime *time.Time `json:"wakeUpTime,omitempty"`
}

type User struct {
	ID                  uint                `json:"id" gorm:"primaryKey"`
	Username            string              `json:"username" gorm:"unique;not null"`
	Email               string              `json:"email" gorm:"unique;not null"`
	Password            string              `json:"-" gorm:"not null"`
	SubscriptionID      string              `json:"subscriptionId"`
	SubscriptionStatus  string              `json:"subscriptionStatus" gorm:"not null;default:'inactive'"`
	SchedulePreferences SchedulePreferences `json:"schedulePreferences" gorm:"embedded;embeddedPrefix:pref_"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

func (u *User) HasActiveSubscription() bool {
	return u.SubscriptionStatus == SubscriptionActive
}

// RegistrationCode is a single-use token minted by the billing webhook when a
// checkout completes. Registration consumes it; a consumed code never works
// again.
type RegistrationCode struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	Code           string    `json:"code" gorm:"unique;not null"`
	Email          string    `json:"email"`
	SubscriptionID string    `json:"subscriptionId"`
	Used           bool      `json:"used" gorm:"default:false"`
	CreatedAt      time.Time `json:"created_at"`
}
