package service

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"anoa.com/refurnish/internal/entity"
	"anoa.com/refurnish/internal/event"
	"anoa.com/refurnish/internal/event/eventtest"
	achievementDto "anoa.com/refurnish/internal/modules/achievement/dto"
	achievementRepo "anoa.com/refurnish/internal/modules/achievement/repository"
	pointsRepo "anoa.com/refurnish/internal/modules/points/repository"
	points "anoa.com/refurnish/internal/modules/points/service"
	"anoa.com/refurnish/internal/testutil"
	"anoa.com/refurnish/pkg/apperror"
	"anoa.com/refurnish/pkg/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type trackerFixture struct {
	db       *gorm.DB
	rec      *eventtest.Recorder
	registry Registry
	tracker  Tracker
	points   points.PointsService
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()
	db := testutil.NewDB(t)
	rec := eventtest.NewRecorder()
	tx := database.NewTxManager(db)
	repo := achievementRepo.NewAchievementRepository(db)

	pointsSvc := points.NewPointsService(pointsRepo.NewPointsRepository(db), tx, rec, zap.NewNop(), points.Config{})
	reg := NewRegistry(repo, nil, nil, zap.NewNop(), RegistryConfig{})
	return &trackerFixture{
		db:       db,
		rec:      rec,
		registry: reg,
		tracker:  NewTracker(repo, reg, pointsSvc, tx, rec, zap.NewNop(), 0),
		points:   pointsSvc,
	}
}

func (f *trackerFixture) define(t *testing.T, name string, points int64, criteria achievementDto.CriteriaRequest) *entity.AchievementDefinition {
	t.Helper()
	def, err := f.registry.CreateDefinition(context.Background(), createRequest(name, points, criteria))
	require.NoError(t, err)
	return def
}

func (f *trackerFixture) track(t *testing.T, userID string, id uuid.UUID, progress float64, metadata map[string]any) *achievementDto.ProgressView {
	t.Helper()
	view, err := f.tracker.TrackProgress(context.Background(), userID, id, TrackInput{Progress: progress, Metadata: metadata})
	require.NoError(t, err)
	return view
}

func TestTrackProgressRegressionThenCompletion(t *testing.T) {
	f := newTrackerFixture(t)
	def := f.define(t, "First Rescue", 200, achievementDto.CriteriaRequest{Type: "PROGRESS"})

	var stored []int
	for _, p := range []float64{40, 30, 100} {
		view := f.track(t, "user-1", def.ID, p, nil)
		stored = append(stored, view.Progress)
	}
	assert.Equal(t, []int{40, 40, 100}, stored)

	view, err := f.tracker.GetUserAchievement(context.Background(), "user-1", def.ID)
	require.NoError(t, err)
	assert.True(t, view.IsCompleted)
	assert.Equal(t, achievementDto.StatusCompleted, view.Status)
	require.NotNil(t, view.CompletedAt)

	assert.Equal(t, 3, f.rec.Count(event.TypeProgress))
	completed := f.rec.OfType(event.TypeCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, def.ID.String(), completed[0].AchievementID)
	require.NotNil(t, completed[0].Achievement)
	assert.Equal(t, "First Rescue", completed[0].Achievement.Name)
	require.NotNil(t, completed[0].Progress)
	assert.Equal(t, 100, *completed[0].Progress)

	earned := f.rec.OfType(event.TypeEarned)
	require.Len(t, earned, 1)
	assert.Equal(t, int64(200), earned[0].Amount)
	assert.Equal(t, string(entity.SourceAchievementCompleted), earned[0].Source)
	assert.Equal(t, string(entity.TransactionAchievement), earned[0].TransactionType)

	// the final call publishes the bonus, then progress, then completion
	tail := f.rec.Types()
	assert.Equal(t, []event.Type{event.TypeEarned, event.TypeProgress, event.TypeCompleted}, tail[len(tail)-3:])

	// tracking a completed achievement again changes nothing
	f.track(t, "user-1", def.ID, 100, nil)
	assert.Equal(t, 1, f.rec.Count(event.TypeCompleted))
	assert.Equal(t, 1, f.rec.Count(event.TypeEarned))

	account, err := f.points.GetUserPoints(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), account.TotalPoints)
	assert.Equal(t, entity.StatBucket{Points: 200, Count: 1}, account.Stats.ByType[entity.TransactionAchievement])

	var txn entity.PointsTransaction
	require.NoError(t, f.db.Where("user_id = ?", "user-1").First(&txn).Error)
	require.NotNil(t, txn.ReferenceID)
	assert.Equal(t, def.ID.String(), *txn.ReferenceID)
}

func TestTrackProgressWaitsForCriteria(t *testing.T) {
	f := newTrackerFixture(t)
	def := f.define(t, "Curb Collector", 50, achievementDto.CriteriaRequest{Type: "METADATA_MIN", Key: "itemsCollected", Threshold: threshold(10)})

	view := f.track(t, "user-1", def.ID, 100, map[string]any{"itemsCollected": 3, "note": "first haul"})
	assert.Equal(t, 100, view.Progress)
	assert.False(t, view.IsCompleted)
	assert.Equal(t, achievementDto.StatusInProgress, view.Status)
	assert.Zero(t, f.rec.Count(event.TypeCompleted))

	view = f.track(t, "user-1", def.ID, 100, map[string]any{"itemsCollected": 12})
	assert.True(t, view.IsCompleted)
	assert.Equal(t, "first haul", view.Metadata["note"])
	assert.Equal(t, 1, f.rec.Count(event.TypeCompleted))
	assert.Equal(t, 1, f.rec.Count(event.TypeEarned))
}

func TestTrackProgressFlagCriteria(t *testing.T) {
	f := newTrackerFixture(t)
	def := f.define(t, "Verified Restorer", 0, achievementDto.CriteriaRequest{Type: "METADATA_FLAG", Key: "verified"})

	view := f.track(t, "user-1", def.ID, 100, map[string]any{"verified": "yes"})
	assert.False(t, view.IsCompleted)

	view = f.track(t, "user-1", def.ID, 100, map[string]any{"verified": true})
	assert.True(t, view.IsCompleted)

	// zero reward completes without touching the ledger
	assert.Equal(t, 1, f.rec.Count(event.TypeCompleted))
	assert.Zero(t, f.rec.Count(event.TypeEarned))
	var n int64
	require.NoError(t, f.db.Model(&entity.PointsTransaction{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestTrackProgressClampsInput(t *testing.T) {
	f := newTrackerFixture(t)
	def := f.define(t, "Clamp", 10, achievementDto.CriteriaRequest{Type: "METADATA_FLAG", Key: "done"})

	assert.Equal(t, 0, f.track(t, "user-1", def.ID, -20, nil).Progress)
	assert.Equal(t, 55, f.track(t, "user-1", def.ID, 55.9, nil).Progress)
	assert.Equal(t, 100, f.track(t, "user-1", def.ID, 150, nil).Progress)
}

func TestTrackProgressCompletesAtMostOnce(t *testing.T) {
	f := newTrackerFixture(t)
	def := f.define(t, "Race", 300, achievementDto.CriteriaRequest{Type: "PROGRESS"})

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.tracker.TrackProgress(context.Background(), "user-1", def.ID, TrackInput{Progress: 100})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, callers, f.rec.Count(event.TypeProgress))
	assert.Equal(t, 1, f.rec.Count(event.TypeCompleted))
	assert.Equal(t, 1, f.rec.Count(event.TypeEarned))

	account, err := f.points.GetUserPoints(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), account.TotalPoints)
}

// lostRaceRepo behaves as if another caller committed the completion first.
type lostRaceRepo struct {
	achievementRepo.AchievementRepository
}

func (r lostRaceRepo) WithTx(tx *gorm.DB) achievementRepo.AchievementRepository {
	return lostRaceRepo{r.AchievementRepository.WithTx(tx)}
}

func (lostRaceRepo) MarkCompleted(context.Context, uuid.UUID, time.Time) (bool, error) {
	return false, nil
}

func TestTrackProgressLosingCompletionHasNoSideEffects(t *testing.T) {
	f := newTrackerFixture(t)
	def := f.define(t, "Contested", 300, achievementDto.CriteriaRequest{Type: "PROGRESS"})

	repo := lostRaceRepo{achievementRepo.NewAchievementRepository(f.db)}
	tr := NewTracker(repo, f.registry, f.points, database.NewTxManager(f.db), f.rec, zap.NewNop(), 0)

	view, err := tr.TrackProgress(context.Background(), "user-1", def.ID, TrackInput{Progress: 100})
	require.NoError(t, err)
	assert.Equal(t, 100, view.Progress)
	assert.False(t, view.IsCompleted)
	assert.Nil(t, view.CompletedAt)

	assert.Equal(t, 1, f.rec.Count(event.TypeProgress))
	assert.Zero(t, f.rec.Count(event.TypeCompleted))
	assert.Zero(t, f.rec.Count(event.TypeEarned))

	var n int64
	require.NoError(t, f.db.Model(&entity.PointsTransaction{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestTrackProgressRejectsOversizedUserID(t *testing.T) {
	f := newTrackerFixture(t)
	def := f.define(t, "Long Names", 25, achievementDto.CriteriaRequest{Type: "PROGRESS"})
	longID := strings.Repeat("u", 70)

	_, err := f.tracker.TrackProgress(context.Background(), longID, def.ID, TrackInput{Progress: 50})
	require.ErrorIs(t, err, apperror.ErrValidation)

	var n int64
	require.NoError(t, f.db.Model(&entity.UserAchievementProgress{}).Count(&n).Error)
	assert.Zero(t, n)

	_, err = f.tracker.GetUserAchievements(context.Background(), longID)
	assert.ErrorIs(t, err, apperror.ErrValidation)
	_, err = f.tracker.GetUserAchievement(context.Background(), longID, def.ID)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	// a user id at the limit completes normally
	view := f.track(t, strings.Repeat("u", 64), def.ID, 100, nil)
	assert.True(t, view.IsCompleted)
}

func TestTrackProgressValidation(t *testing.T) {
	f := newTrackerFixture(t)
	def := f.define(t, "Valid", 10, achievementDto.CriteriaRequest{Type: "PROGRESS"})
	inactive := f.define(t, "Retired", 10, achievementDto.CriteriaRequest{Type: "PROGRESS"})
	_, err := f.registry.SetActive(context.Background(), inactive.ID, false)
	require.NoError(t, err)

	cases := []struct {
		name   string
		userID string
		id     uuid.UUID
		value  float64
		field  string
	}{
		{"not a number", "user-1", def.ID, math.NaN(), "progress"},
		{"infinite", "user-1", def.ID, math.Inf(1), "progress"},
		{"empty user", "", def.ID, 10, "userId"},
		{"user id too long", strings.Repeat("u", 70), def.ID, 50, "userId"},
		{"unknown achievement", "user-1", uuid.New(), 10, "achievementId"},
		{"inactive achievement", "user-1", inactive.ID, 10, "achievementId"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.tracker.TrackProgress(context.Background(), tc.userID, tc.id, TrackInput{Progress: tc.value})
			require.ErrorIs(t, err, apperror.ErrValidation)
			var verr *apperror.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
		})
	}

	assert.Empty(t, f.rec.Events())
}

func TestGetUserAchievements(t *testing.T) {
	f := newTrackerFixture(t)
	sofa := f.define(t, "Sofa", 10, achievementDto.CriteriaRequest{Type: "PROGRESS"})
	lamp := f.define(t, "Lamp", 10, achievementDto.CriteriaRequest{Type: "PROGRESS"})

	f.track(t, "user-1", sofa.ID, 100, nil)
	f.track(t, "user-1", lamp.ID, 20, nil)
	f.track(t, "user-2", lamp.ID, 60, nil)

	views, err := f.tracker.GetUserAchievements(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, views, 2)

	byName := make(map[string]achievementDto.ProgressView)
	for _, v := range views {
		require.NotNil(t, v.Achievement)
		byName[v.Achievement.Name] = v
	}
	assert.Equal(t, achievementDto.StatusCompleted, byName["Sofa"].Status)
	assert.Equal(t, 20, byName["Lamp"].Progress)
	assert.Equal(t, achievementDto.StatusInProgress, byName["Lamp"].Status)

	none, err := f.tracker.GetUserAchievements(context.Background(), "user-3")
	require.NoError(t, err)
	assert.Empty(t, none)

	view, err := f.tracker.GetUserAchievement(context.Background(), "user-3", sofa.ID)
	require.NoError(t, err)
	assert.Equal(t, achievementDto.StatusNotStarted, view.Status)
	assert.Equal(t, "Sofa", view.Achievement.Name)

	_, err = f.tracker.GetUserAchievement(context.Background(), "user-3", uuid.New())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
