package service

import (
	"context"
	"errors"
	"math"
	"time"

	"anoa.com/refurnish/internal/entity"
	"anoa.com/refurnish/internal/event"
	"anoa.com/refurnish/internal/metrics"
	achievementDto "anoa.com/refurnish/internal/modules/achievement/dto"
	achievementRepo "anoa.com/refurnish/internal/modules/achievement/repository"
	points "anoa.com/refurnish/internal/modules/points/service"
	"anoa.com/refurnish/pkg/apperror"
	"anoa.com/refurnish/pkg/database"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxProgress = 100

type TrackInput struct {
	Progress float64
	Metadata map[string]any
}

type Tracker interface {
	TrackProgress(ctx context.Context, userID string, achievementID uuid.UUID, in TrackInput) (*achievementDto.ProgressView, error)
	GetUserAchievements(ctx context.Context, userID string) ([]achievementDto.ProgressView, error)
	GetUserAchievement(ctx context.Context, userID string, achievementID uuid.UUID) (*achievementDto.ProgressView, error)
}

type tracker struct {
	repo         achievementRepo.AchievementRepository
	registry     Registry
	points       points.PointsService
	tx           database.Transactor
	publisher    event.Publisher
	log          *zap.Logger
	storeTimeout time.Duration
}

func NewTracker(repo achievementRepo.AchievementRepository, registry Registry, pointsSvc points.PointsService, tx database.Transactor, publisher event.Publisher, log *zap.Logger, storeTimeout time.Duration) Tracker {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &tracker{
		repo:         repo,
		registry:     registry,
		points:       pointsSvc,
		tx:           tx,
		publisher:    publisher,
		log:          log.Named("achievement_tracker"),
		storeTimeout: storeTimeout,
	}
}

// trackOutcome is what one committed TrackProgress call produced.
type trackOutcome struct {
	record    *entity.UserAchievementProgress
	completed bool
	award     *points.Result
}

func (t *tracker) TrackProgress(ctx context.Context, userID string, achievementID uuid.UUID, in TrackInput) (*achievementDto.ProgressView, error) {
	verr := &apperror.ValidationError{}
	if msg := points.UserIDProblem(userID); msg != "" {
		verr.Add("userId", msg)
	}
	if math.IsNaN(in.Progress) || math.IsInf(in.Progress, 0) {
		verr.Add("progress", "progress must be a finite number")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	def, err := t.activeDefinition(ctx, achievementID)
	if err != nil {
		return nil, err
	}
	progress := clampProgress(in.Progress)

	ctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	defer cancel()

	start := time.Now()
	var out trackOutcome
	err = t.tx.Do(ctx, func(tx *gorm.DB) error {
		var err error
		out, err = t.track(ctx, tx, userID, def, progress, in.Metadata)
		return err
	})
	metrics.RecordStoreOperation("track_progress", time.Since(start), err)
	if err != nil {
		return nil, apperror.Storage("track progress", err)
	}

	t.announce(userID, def, out)

	view := achievementDto.NewProgressView(out.record, def)
	return &view, nil
}

func (t *tracker) activeDefinition(ctx context.Context, id uuid.UUID) (*entity.AchievementDefinition, error) {
	def, err := t.registry.GetDefinition(ctx, id)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NewValidationError("achievementId", "unknown achievement")
	}
	if err != nil {
		return nil, err
	}
	if !def.Active {
		return nil, apperror.NewValidationError("achievementId", "achievement is not active")
	}
	return def, nil
}

// clampProgress bounds progress to [0, 100] and drops the fraction.
func clampProgress(p float64) int {
	switch {
	case p <= 0:
		return 0
	case p >= maxProgress:
		return maxProgress
	}
	return int(math.Floor(p))
}

func (t *tracker) track(ctx context.Context, tx *gorm.DB, userID string, def *entity.AchievementDefinition, progress int, metadata map[string]any) (trackOutcome, error) {
	repo := t.repo.WithTx(tx)

	if err := repo.EnsureProgress(ctx, userID, def.ID); err != nil {
		return trackOutcome{}, err
	}
	if err := repo.LockProgress(ctx, userID, def.ID); err != nil {
		return trackOutcome{}, err
	}
	record, err := repo.FindProgress(ctx, userID, def.ID)
	if err != nil {
		return trackOutcome{}, err
	}

	if progress < record.Progress {
		t.log.Info("progress regression ignored",
			zap.String("user_id", userID),
			zap.String("achievement_id", def.ID.String()),
			zap.Int("stored", record.Progress),
			zap.Int("received", progress),
		)
		progress = record.Progress
	}

	merged := mergeMetadata(record.Metadata, metadata)
	if err := repo.UpdateProgress(ctx, record.ID, progress, merged); err != nil {
		return trackOutcome{}, err
	}
	record.Progress = progress
	record.Metadata = merged
	record.UpdatedAt = time.Now()

	out := trackOutcome{record: record}
	if record.IsCompleted || progress < maxProgress {
		return out, nil
	}
	if !def.Criteria.Evaluate(merged) {
		t.log.Info("progress complete but criteria not met",
			zap.String("user_id", userID),
			zap.String("achievement_id", def.ID.String()),
			zap.String("criteria", string(def.Criteria.Type)),
		)
		return out, nil
	}

	now := time.Now().UTC()
	won, err := repo.MarkCompleted(ctx, record.ID, now)
	if err != nil {
		return trackOutcome{}, err
	}
	if !won {
		return out, nil
	}
	record.IsCompleted = true
	record.CompletedAt = &now
	out.completed = true

	if def.PointsReward > 0 {
		reference := def.ID.String()
		out.award, err = t.points.AwardInTx(ctx, tx, points.AwardInput{
			UserID:      userID,
			Amount:      def.PointsReward,
			Type:        entity.TransactionAchievement,
			Source:      entity.SourceAchievementCompleted,
			ReferenceID: &reference,
			Metadata: map[string]any{
				"achievementId":   reference,
				"achievementName": def.Name,
				"tier":            string(def.Tier),
			},
		})
		if err != nil {
			return trackOutcome{}, err
		}
	}
	return out, nil
}

func mergeMetadata(stored, incoming map[string]any) map[string]any {
	if len(stored) == 0 && len(incoming) == 0 {
		return stored
	}
	merged := make(map[string]any, len(stored)+len(incoming))
	for k, v := range stored {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

// announce publishes after commit: EARNED for the bonus, then PROGRESS, then COMPLETED.
func (t *tracker) announce(userID string, def *entity.AchievementDefinition, out trackOutcome) {
	if out.award != nil {
		t.points.Announce(out.award)
	}

	summary := event.AchievementSummary{
		ID:           def.ID,
		Name:         def.Name,
		Category:     def.Category,
		Tier:         string(def.Tier),
		PointsReward: def.PointsReward,
	}
	t.publisher.Publish(event.NewProgressEvent(userID, summary, out.record.Progress))

	if out.completed {
		t.log.Info("achievement completed",
			zap.String("user_id", userID),
			zap.String("achievement_id", def.ID.String()),
			zap.String("tier", string(def.Tier)),
			zap.Int64("points_reward", def.PointsReward),
		)
		t.publisher.Publish(event.NewCompletedEvent(userID, summary, out.record.Progress))
	}
}

func (t *tracker) GetUserAchievements(ctx context.Context, userID string) ([]achievementDto.ProgressView, error) {
	if msg := points.UserIDProblem(userID); msg != "" {
		return nil, apperror.NewValidationError("userId", msg)
	}

	ctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	defer cancel()

	rows, err := t.repo.ListUserProgress(ctx, userID)
	if err != nil {
		return nil, apperror.Storage("user achievements", err)
	}

	views := make([]achievementDto.ProgressView, 0, len(rows))
	for i := range rows {
		views = append(views, achievementDto.NewProgressView(&rows[i], nil))
	}
	return views, nil
}

func (t *tracker) GetUserAchievement(ctx context.Context, userID string, achievementID uuid.UUID) (*achievementDto.ProgressView, error) {
	if msg := points.UserIDProblem(userID); msg != "" {
		return nil, apperror.NewValidationError("userId", msg)
	}
	def, err := t.registry.GetDefinition(ctx, achievementID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	defer cancel()

	record, err := t.repo.FindProgress(ctx, userID, achievementID)
	if errors.Is(err, apperror.ErrNotFound) {
		view := achievementDto.ProgressView{
			UserID:        userID,
			AchievementID: achievementID,
			Status:        achievementDto.StatusNotStarted,
			Achievement:   def,
		}
		return &view, nil
	}
	if err != nil {
		return nil, apperror.Storage("user achievement", err)
	}

	view := achievementDto.NewProgressView(record, def)
	return &view, nil
}
