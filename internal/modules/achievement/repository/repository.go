package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"anoa.com/refurnish/internal/entity"
	"anoa.com/refurnish/pkg/apperror"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DefinitionFilter struct {
	Category   string
	Tier       entity.AchievementTier
	Search     string
	ActiveOnly bool
	IDs        []uuid.UUID // restricts the result to these ids when non-nil
}

type AchievementRepository interface {
	WithTx(tx *gorm.DB) AchievementRepository

	CreateDefinition(ctx context.Context, def *entity.AchievementDefinition) error
	FindDefinitionByID(ctx context.Context, id uuid.UUID) (*entity.AchievementDefinition, error)
	FindDefinitionByName(ctx context.Context, name string) (*entity.AchievementDefinition, error)
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]entity.AchievementDefinition, error)
	SetDefinitionActive(ctx context.Context, id uuid.UUID, active bool) error

	// EnsureProgress creates the zero progress row for the pair if it is missing.
	EnsureProgress(ctx context.Context, userID string, achievementID uuid.UUID) error
	LockProgress(ctx context.Context, userID string, achievementID uuid.UUID) error
	FindProgress(ctx context.Context, userID string, achievementID uuid.UUID) (*entity.UserAchievementProgress, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int, metadata map[string]any) error
	// MarkCompleted flips is_completed from false to true. It reports false when
	// another caller already completed the row.
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListUserProgress(ctx context.Context, userID string) ([]entity.UserAchievementProgress, error)
}

type achievementRepository struct {
	db *gorm.DB
}

func NewAchievementRepository(db *gorm.DB) AchievementRepository {
	return &achievementRepository{db: db}
}

func (r *achievementRepository) WithTx(tx *gorm.DB) AchievementRepository {
	return &achievementRepository{db: tx}
}

func (r *achievementRepository) CreateDefinition(ctx context.Context, def *entity.AchievementDefinition) error {
	err := r.db.WithContext(ctx).Create(def).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperror.ErrConflict
	}
	return err
}

func (r *achievementRepository) FindDefinitionByID(ctx context.Context, id uuid.UUID) (*entity.AchievementDefinition, error) {
	var def entity.AchievementDefinition
	if err := r.db.WithContext(ctx).First(&def, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &def, nil
}

func (r *achievementRepository) FindDefinitionByName(ctx context.Context, name string) (*entity.AchievementDefinition, error) {
	var def entity.AchievementDefinition
	if err := r.db.WithContext(ctx).Where("LOWER(name) = ?", strings.ToLower(name)).First(&def).Error; err != nil {
		return nil, notFound(err)
	}
	return &def, nil
}

func (r *achievementRepository) ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]entity.AchievementDefinition, error) {
	query := r.db.WithContext(ctx).Model(&entity.AchievementDefinition{})

	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Tier != "" {
		query = query.Where("tier = ?", filter.Tier)
	}
	if filter.ActiveOnly {
		query = query.Where("active = ?", true)
	}
	if filter.IDs != nil {
		if len(filter.IDs) == 0 {
			return []entity.AchievementDefinition{}, nil
		}
		query = query.Where("id IN ?", filter.IDs)
	} else if filter.Search != "" {
		like := "%" + strings.ToLower(filter.Search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}

	var defs []entity.AchievementDefinition
	if err := query.Order("category ASC").Order("name ASC").Find(&defs).Error; err != nil {
		return nil, err
	}
	return defs, nil
}

func (r *achievementRepository) SetDefinitionActive(ctx context.Context, id uuid.UUID, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&entity.AchievementDefinition{}).
		Where("id = ?", id).
		Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.ErrNotFound
	}
	return nil
}

func (r *achievementRepository) EnsureProgress(ctx context.Context, userID string, achievementID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entity.UserAchievementProgress{UserID: userID, AchievementID: achievementID}).Error
}

func (r *achievementRepository) LockProgress(ctx context.Context, userID string, achievementID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&entity.UserAchievementProgress{}).
		Where("user_id = ? AND achievement_id = ?", userID, achievementID).
		UpdateColumn("progress", gorm.Expr("progress")).Error
}

func (r *achievementRepository) FindProgress(ctx context.Context, userID string, achievementID uuid.UUID) (*entity.UserAchievementProgress, error) {
	var progress entity.UserAchievementProgress
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND achievement_id = ?", userID, achievementID).
		First(&progress).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &progress, nil
}

func (r *achievementRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, metadata map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&entity.UserAchievementProgress{}).
		Where("id = ?", id).
		Select("progress", "metadata", "updated_at").
		Updates(&entity.UserAchievementProgress{
			Progress:  progress,
			Metadata:  metadata,
			UpdatedAt: time.Now(),
		}).Error
}

func (r *achievementRepository) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.UserAchievementProgress{}).
		Where("id = ? AND is_completed = ? AND progress = ?", id, false, 100).
		Updates(map[string]any{
			"is_completed": true,
			"completed_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *achievementRepository) ListUserProgress(ctx context.Context, userID string) ([]entity.UserAchievementProgress, error) {
	var rows []entity.UserAchievementProgress
	err := r.db.WithContext(ctx).
		Preload("Achievement").
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.ErrNotFound
	}
	return err
}
