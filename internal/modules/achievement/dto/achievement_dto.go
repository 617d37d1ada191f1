package dto

import (
	"time"

	"anoa.com/refurnish/internal/entity"
	"github.com/google/uuid"
)

type CriteriaRequest struct {
	Type      string   `json:"type" binding:"required,oneof=PROGRESS METADATA_MIN METADATA_FLAG"`
	Key       string   `json:"key" binding:"max=64"`
	Threshold *float64 `json:"threshold"`
}

type CreateAchievementRequest struct {
	Name         string           `json:"name" binding:"required,max=150"`
	Description  string           `json:"description" binding:"required"`
	Category     string           `json:"category" binding:"required,max=50"`
	Tier         string           `json:"tier" binding:"required,oneof=BRONZE SILVER GOLD PLATINUM"`
	PointsReward *int64           `json:"pointsReward" binding:"required,gte=0"`
	Criteria     *CriteriaRequest `json:"criteria" binding:"required"`
}

type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

type ListAchievementsQuery struct {
	Category   string `form:"category"`
	Tier       string `form:"tier"`
	Search     string `form:"search"`
	ActiveOnly bool   `form:"activeOnly"`
}

type TrackProgressRequest struct {
	Progress *float64      `json:"progress" binding:"required,gte=0,lte=100"`
	Metadata map[string]any `json:"metadata"`
}

// Progress states.
const (
	StatusNotStarted = "NOT_STARTED"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
)

// ProgressView is a user's progress record joined with its definition.
type ProgressView struct {
	ID            uuid.UUID                     `json:"id"`
	UserID        string                        `json:"userId"`
	AchievementID uuid.UUID                     `json:"achievementId"`
	Progress      int                           `json:"progress"`
	IsCompleted   bool                          `json:"isCompleted"`
	CompletedAt   *time.Time                    `json:"completedAt,omitempty"`
	Status        string                        `json:"status"`
	Metadata      map[string]any                `json:"metadata,omitempty"`
	Achievement   *entity.AchievementDefinition `json:"achievement,omitempty"`
	UpdatedAt     time.Time                     `json:"updatedAt"`
}

// NewProgressView builds the view for a stored record. def may be nil.
func NewProgressView(p *entity.UserAchievementProgress, def *entity.AchievementDefinition) ProgressView {
	if def == nil {
		def = p.Achievement
	}
	return ProgressView{
		ID:            p.ID,
		UserID:        p.UserID,
		AchievementID: p.AchievementID,
		Progress:      p.Progress,
		IsCompleted:   p.IsCompleted,
		CompletedAt:   p.CompletedAt,
		Status:        Status(p),
		Metadata:      p.Metadata,
		Achievement:   def,
		UpdatedAt:     p.UpdatedAt,
	}
}

func Status(p *entity.UserAchievementProgress) string {
	switch {
	case p == nil:
		return StatusNotStarted
	case p.IsCompleted:
		return StatusCompleted
	case p.Progress == 0 && len(p.Metadata) == 0:
		return StatusNotStarted
	default:
		return StatusInProgress
	}
}
