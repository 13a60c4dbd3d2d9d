package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Task is a user-scheduled calendar item. IDs are small sequential numbers
// minted from the Counter table, not database-generated keys, because the
// calendar client addresses tasks by that sequence.
type Task struct {
	ID               uint      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Title            string    `json:"title"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	Priority         string    `json:"priority"`
	Disabled         bool      `json:"disabled" gorm:"default:false"`
	Color            string    `json:"color"`
	TextColor        string    `json:"textColor"`
	Editable         bool      `json:"editable" gorm:"default:true"`
	Deletable        bool      `json:"deletable" gorm:"default:true"`
	Draggable        bool      `json:"draggable" gorm:"default:true"`
	AllDay           bool      `json:"allDay" gorm:"default:false"`
	AgendaAvatar     string    `json:"agendaAvatar"`
	NotificationTime int       `json:"notificationTime"`
	Checked          bool      `json:"checked" gorm:"default:false"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// FireAt is the instant a reminder for the task should be delivered.
func (t Task) FireAt() time.Time {
	return t.Start.Add(-time.Duration(t.NotificationTime) * time.Minute)
}

// Counter mints sequential identifiers. One row per sequence name.
type Counter struct {
	Name string `gorm:"primaryKey"`
	Seq  uint   `gorm:"not null;default:0"`
}

const TaskIDCounter = "task_id"

// NextSeq increments the named counter and returns the new value. The
// increment is a single upsert statement, so two concurrent callers can never
// observe the same sequence number. Must run inside the caller's transaction.
func NextSeq(tx *gorm.DB, name string) (uint, error) {
	counter := Counter{Name: name, Seq: 1}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"seq": gorm.Expr("seq + 1")}),
	}).Create(&counter).Error
	if err != nil {
		return 0, err
	}

	if err := tx.Where("name = ?", name).First(&counter).Error; err != nil {
		return 0, err
	}
	return counter.Seq, nil
}
