package entity

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AchievementTier string

const (
	TierBronze   AchievementTier = "BRONZE"
	TierSilver   AchievementTier = "SILVER"
	TierGold     AchievementTier = "GOLD"
	TierPlatinum AchievementTier = "PLATINUM"
)

func (t AchievementTier) Valid() bool {
	switch t {
	case TierBronze, TierSilver, TierGold, TierPlatinum:
		return true
	}
	return false
}

type CriteriaType string

const (
	// CriteriaProgress is satisfied by reaching 100 progress alone.
	CriteriaProgress CriteriaType = "PROGRESS"
	// CriteriaMetadataMin requires metadata[key] to be a number >= threshold.
	CriteriaMetadataMin CriteriaType = "METADATA_MIN"
	// CriteriaMetadataFlag requires metadata[key] to be true.
	CriteriaMetadataFlag CriteriaType = "METADATA_FLAG"
)

// AchievementCriteria is the completion predicate checked when progress reaches 100.
type AchievementCriteria struct {
	Type      CriteriaType `json:"type"`
	Key       string       `json:"key,omitempty"`
	Threshold *float64     `json:"threshold,omitempty"`
}

// Validate reports whether the criteria description is well formed.
func (c AchievementCriteria) Validate() error {
	switch c.Type {
	case CriteriaProgress:
		return nil
	case CriteriaMetadataMin:
		if c.Key == "" {
			return fmt.Errorf("key is required for %s", c.Type)
		}
		if c.Threshold == nil || math.IsNaN(*c.Threshold) || math.IsInf(*c.Threshold, 0) {
			return fmt.Errorf("threshold is required for %s", c.Type)
		}
		return nil
	case CriteriaMetadataFlag:
		if c.Key == "" {
			return fmt.Errorf("key is required for %s", c.Type)
		}
		return nil
	default:
		return fmt.Errorf("unknown criteria type %q", c.Type)
	}
}

// Evaluate checks the criteria against recorded progress metadata.
func (c AchievementCriteria) Evaluate(metadata map[string]any) bool {
	switch c.Type {
	case CriteriaProgress:
		return true
	case CriteriaMetadataMin:
		if c.Threshold == nil {
			return false
		}
		n, ok := toFloat(metadata[c.Key])
		return ok && n >= *c.Threshold
	case CriteriaMetadataFlag:
		v, ok := metadata[c.Key].(bool)
		return ok && v
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

type AchievementDefinition struct {
	ID           uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string              `gorm:"size:150;not null;uniqueIndex" json:"name"`
	Description  string              `gorm:"type:text;not null" json:"description"`
	Category     string              `gorm:"size:50;not null;index" json:"category"`
	Tier         AchievementTier     `gorm:"size:20;not null;index" json:"tier"`
	PointsReward int64               `gorm:"not null;default:0" json:"pointsReward"`
	Criteria     AchievementCriteria `gorm:"serializer:json;type:text;not null" json:"criteria"`
	Active       bool                `gorm:"not null;default:true;index" json:"active"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

func (a *AchievementDefinition) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// UserAchievementProgress is one row per user and achievement. Once IsCompleted
// is true, CompletedAt is fixed and only Metadata changes.
type UserAchievementProgress struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        string         `gorm:"size:64;not null;uniqueIndex:idx_progress_user_achievement,priority:1" json:"userId"`
	AchievementID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_progress_user_achievement,priority:2" json:"achievementId"`
	Progress      int            `gorm:"not null;default:0" json:"progress"`
	IsCompleted   bool           `gorm:"not null;default:false" json:"isCompleted"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
	Metadata      map[string]any `gorm:"serializer:json;type:text" json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`

	Achievement *AchievementDefinition `gorm:"foreignKey:AchievementID" json:"achievement,omitempty"`
}

func (UserAchievementProgress) TableName() string {
	return "user_achievement_progress"
}

func (p *UserAchievementProgress) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
