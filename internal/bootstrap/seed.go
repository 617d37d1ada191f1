package bootstrap

import (
	"context"

	"anoa.com/refurnish/internal/entity"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entity.PointsTransaction{},
		&entity.UserPointsAccount{},
		&entity.PointsStatCounter{},
		&entity.AchievementDefinition{},
		&entity.UserAchievementProgress{},
		&entity.Notification{},
	)
}

func float(v float64) *float64 {
	return &v
}

// DefaultAchievements is the starter catalogue seeded in development.
func DefaultAchievements() []entity.AchievementDefinition {
	return []entity.AchievementDefinition{
		{
			Name:         "First Rescue",
			Description:  "Post your first piece of rescued furniture.",
			Category:     "listing",
			Tier:         entity.TierBronze,
			PointsReward: 50,
			Criteria:     entity.AchievementCriteria{Type: entity.CriteriaProgress},
		},
		{
			Name:         "Curb Collector",
			Description:  "Collect ten listed items from other members.",
			Category:     "collection",
			Tier:         entity.TierSilver,
			PointsReward: 200,
			Criteria:     entity.AchievementCriteria{Type: entity.CriteriaMetadataMin, Key: "itemsCollected", Threshold: float(10)},
		},
		{
			Name:         "Neighbourhood Hero",
			Description:  "Complete fifty community actions.",
			Category:     "community",
			Tier:         entity.TierGold,
			PointsReward: 500,
			Criteria:     entity.AchievementCriteria{Type: entity.CriteriaMetadataMin, Key: "communityActions", Threshold: float(50)},
		},
		{
			Name:         "Verified Restorer",
			Description:  "Have a restoration verified by a moderator.",
			Category:     "community",
			Tier:         entity.TierPlatinum,
			PointsReward: 1000,
			Criteria:     entity.AchievementCriteria{Type: entity.CriteriaMetadataFlag, Key: "verified"},
		},
	}
}

// SeedAchievements inserts every default definition whose name is not yet taken.
func SeedAchievements(ctx context.Context, db *gorm.DB, log *zap.Logger) error {
	for _, def := range DefaultAchievements() {
		var count int64
		if err := db.WithContext(ctx).Model(&entity.AchievementDefinition{}).
			Where("name = ?", def.Name).
			Count(&count).Error; err != nil {
			return err
		}

		if count > 0 {
			continue
		}

		def.Active = true
		if err := db.WithContext(ctx).Create(&def).Error; err != nil {
			return err
		}
		log.Info("achievement seeded", zap.String("name", def.Name), zap.String("tier", string(def.Tier)))
	}

	return nil
}
