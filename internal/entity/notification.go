package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	NotificationAchievementUnlocked = "achievement_unlocked"
	NotificationLevelUp             = "level_up"
	NotificationAnomaly             = "points_anomaly"
)

type Notification struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     string    `gorm:"size:64;not null;index:idx_notifications_user_read,priority:1" json:"userId"` // User who receives the notification
	EntityID   string    `gorm:"size:64" json:"entityId"`                                                     // Achievement or transaction id
	EntityType string    `gorm:"size:50;not null" json:"entityType"`                                          // 'achievement' or 'points'
	Type       string    `gorm:"size:50;not null" json:"type"`
	Message    string    `gorm:"type:text" json:"message"`
	IsRead     bool      `gorm:"not null;default:false;index:idx_notifications_user_read,priority:2" json:"isRead"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
