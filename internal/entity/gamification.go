package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TransactionType string

const (
	TransactionEarned      TransactionType = "EARNED"
	TransactionSpent       TransactionType = "SPENT"
	TransactionBonus       TransactionType = "BONUS"
	TransactionAchievement TransactionType = "ACHIEVEMENT"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionEarned, TransactionSpent, TransactionBonus, TransactionAchievement:
		return true
	}
	return false
}

type PointsSource string

const (
	SourceListingCreated       PointsSource = "LISTING_CREATED"
	SourceItemCollected        PointsSource = "ITEM_COLLECTED"
	SourceAchievementCompleted PointsSource = "ACHIEVEMENT_COMPLETED"
	SourceCommunityAction      PointsSource = "COMMUNITY_ACTION"
	SourceProfileCompleted     PointsSource = "PROFILE_COMPLETED"
	SourceDailyLogin           PointsSource = "DAILY_LOGIN"
	SourceReferral             PointsSource = "REFERRAL"
	SourceRedemption           PointsSource = "REDEMPTION"
	SourceAdminAdjustment      PointsSource = "ADMIN_ADJUSTMENT"
)

var pointsSources = []PointsSource{
	SourceListingCreated,
	SourceItemCollected,
	SourceAchievementCompleted,
	SourceCommunityAction,
	SourceProfileCompleted,
	SourceDailyLogin,
	SourceReferral,
	SourceRedemption,
	SourceAdminAdjustment,
}

func (s PointsSource) Valid() bool {
	for _, known := range pointsSources {
		if s == known {
			return true
		}
	}
	return false
}

// PointsSources lists every recognised source in declaration order.
func PointsSources() []PointsSource {
	out := make([]PointsSource, len(pointsSources))
	copy(out, pointsSources)
	return out
}

// PointsTransaction is an append-only ledger row. Only Active may change after insert.
type PointsTransaction struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      string          `gorm:"size:64;not null;index:idx_points_user_type,priority:1;index:idx_points_user_source,priority:1;index:idx_points_user_created,priority:1;uniqueIndex:idx_points_dedupe,priority:1" json:"userId"`
	Amount      int64           `gorm:"not null" json:"amount"`
	Type        TransactionType `gorm:"size:20;not null;index:idx_points_user_type,priority:2" json:"type"`
	Source      PointsSource    `gorm:"size:40;not null;index:idx_points_user_source,priority:2;uniqueIndex:idx_points_dedupe,priority:2" json:"source"`
	ReferenceID *string         `gorm:"size:128;uniqueIndex:idx_points_dedupe,priority:3" json:"referenceId,omitempty"`
	Metadata    map[string]any  `gorm:"serializer:json;type:text" json:"metadata,omitempty"`
	Active      bool            `gorm:"not null;default:true;index" json:"active"`
	CreatedAt   time.Time       `gorm:"index:idx_points_user_created,priority:2" json:"createdAt"`
}

func (t *PointsTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// UserPointsAccount is the per-user aggregate derived from the ledger.
type UserPointsAccount struct {
	UserID         string      `gorm:"size:64;primaryKey" json:"userId"`
	TotalPoints    int64       `gorm:"not null;default:0" json:"totalPoints"`
	LifetimePoints int64       `gorm:"not null;default:0;index" json:"lifetimePoints"`
	Level          int         `gorm:"not null;default:1" json:"level"`
	Stats          PointsStats `gorm:"-" json:"stats"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

type StatBucket struct {
	Points int64 `json:"points"`
	Count  int64 `json:"count"`
}

// PointsStats is the breakdown of active ledger rows by type and by source.
type PointsStats struct {
	ByType   map[TransactionType]StatBucket `json:"byType"`
	BySource map[PointsSource]StatBucket    `json:"bySource"`
}

const (
	StatDimensionType   = "type"
	StatDimensionSource = "source"
)

// PointsStatCounter backs PointsStats. Rows are only changed with SQL-side increments.
type PointsStatCounter struct {
	UserID    string `gorm:"size:64;primaryKey"`
	Dimension string `gorm:"size:10;primaryKey"`
	StatKey   string `gorm:"size:40;primaryKey"`
	Points    int64  `gorm:"not null;default:0"`
	Entries   int64  `gorm:"not null;default:0"`
}

// BuildStats folds counter rows into a PointsStats value.
func BuildStats(counters []PointsStatCounter) PointsStats {
	stats := PointsStats{
		ByType:   make(map[TransactionType]StatBucket),
		BySource: make(map[PointsSource]StatBucket),
	}
	for _, c := range counters {
		bucket := StatBucket{Points: c.Points, Count: c.Entries}
		switch c.Dimension {
		case StatDimensionType:
			stats.ByType[TransactionType(c.StatKey)] = bucket
		case StatDimensionSource:
			stats.BySource[PointsSource(c.StatKey)] = bucket
		}
	}
	return stats
}
