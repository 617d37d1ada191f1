package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeProgress  Type = "PROGRESS"
	TypeCompleted Type = "COMPLETED"
	TypeEarned    Type = "EARNED"
)

// AchievementSummary is the slice of a definition carried on progress events.
type AchievementSummary struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Tier         string    `json:"tier"`
	PointsReward int64     `json:"pointsReward"`
}

// Event is the single envelope for PROGRESS, COMPLETED and EARNED notifications.
// Fields not relevant to a type are left zero and omitted from JSON.
type Event struct {
	Type          Type                `json:"type"`
	UserID        string              `json:"userId"`
	AchievementID string              `json:"achievementId,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
	Achievement   *AchievementSummary `json:"achievement,omitempty"`
	Progress      *int                `json:"progress,omitempty"`

	Amount          int64  `json:"amount,omitempty"`
	Source          string `json:"source,omitempty"`
	TransactionType string `json:"transactionType,omitempty"`
	TransactionID   string `json:"transactionId,omitempty"`
	NewTotal        *int64 `json:"newTotal,omitempty"`
	NewLevel        *int   `json:"newLevel,omitempty"`
	Anomaly         bool   `json:"anomaly,omitempty"`
}

// NewProgressEvent builds a PROGRESS event.
func NewProgressEvent(userID string, summary AchievementSummary, progress int) Event {
	return achievementEvent(TypeProgress, userID, summary, progress)
}

// NewCompletedEvent builds a COMPLETED event.
func NewCompletedEvent(userID string, summary AchievementSummary, progress int) Event {
	return achievementEvent(TypeCompleted, userID, summary, progress)
}

func achievementEvent(t Type, userID string, summary AchievementSummary, progress int) Event {
	return Event{
		Type:          t,
		UserID:        userID,
		AchievementID: summary.ID.String(),
		Timestamp:     time.Now().UTC(),
		Achievement:   &summary,
		Progress:      &progress,
	}
}

// Handler consumes one event. Errors are logged by the bus and never reach the publisher.
type Handler func(ctx context.Context, e Event) error

// Publisher is the fire-and-forget side of the bus handed to services.
type Publisher interface {
	Publish(e Event)
}
