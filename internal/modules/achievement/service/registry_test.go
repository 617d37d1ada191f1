package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"anoa.com/refurnish/internal/entity"
	achievementDto "anoa.com/refurnish/internal/modules/achievement/dto"
	achievementRepo "anoa.com/refurnish/internal/modules/achievement/repository"
	searchService "anoa.com/refurnish/internal/modules/search/service"
	"anoa.com/refurnish/internal/testutil"
	"anoa.com/refurnish/pkg/apperror"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubIndex struct {
	indexed []uuid.UUID
	hits    []uuid.UUID
	err     error
}

func (s *stubIndex) IndexAchievement(def *entity.AchievementDefinition) error {
	s.indexed = append(s.indexed, def.ID)
	return nil
}


func (s *stubIndex) SearchAchievements(string, int64) ([]uuid.UUID, error) {
	return s.hits, s.err
}

func reward(n int64) *int64 {
	return &n
}

func threshold(f float64) *float64 {
	return &f
}

func createRequest(name string, points int64, criteria achievementDto.CriteriaRequest) achievementDto.CreateAchievementRequest {
	return achievementDto.CreateAchievementRequest{
		Name:         name,
		Description:  "Awarded for " + name,
		Category:     "community",
		Tier:         "BRONZE",
		PointsReward: reward(points),
		Criteria:     &criteria,
	}
}

func newTestRegistry(t *testing.T, client *redis.Client, index *stubIndex) Registry {
	t.Helper()
	db := testutil.NewDB(t)
	var idx searchService.AchievementIndex
	if index != nil {
		idx = index
	}
	return NewRegistry(achievementRepo.NewAchievementRepository(db), client, idx, zap.NewNop(), RegistryConfig{})
}

func TestCreateDefinition(t *testing.T) {
	index := &stubIndex{}
	reg := newTestRegistry(t, nil, index)
	ctx := context.Background()

	req := createRequest("<b>Sofa</b> Saver", 150, achievementDto.CriteriaRequest{Type: "metadata_min", Key: "sofas", Threshold: threshold(3)})
	req.Description = "<i>Rescue</i> three sofas"
	req.Category = " Listing "
	req.Tier = "gold"

	def, err := reg.CreateDefinition(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, def.ID)
	assert.Equal(t, "Sofa Saver", def.Name)
	assert.Equal(t, "Rescue three sofas", def.Description)
	assert.Equal(t, "listing", def.Category)
	assert.Equal(t, entity.TierGold, def.Tier)
	assert.Equal(t, entity.CriteriaMetadataMin, def.Criteria.Type)
	assert.True(t, def.Active)
	assert.Equal(t, []uuid.UUID{def.ID}, index.indexed)

	stored, err := reg.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.Name, stored.Name)
	require.NotNil(t, stored.Criteria.Threshold)
	assert.Equal(t, 3.0, *stored.Criteria.Threshold)

	_, err = reg.CreateDefinition(ctx, createRequest("sofa saver", 10, achievementDto.CriteriaRequest{Type: "PROGRESS"}))
	assert.ErrorIs(t, err, apperror.ErrConflict)
	assert.Equal(t, 409, apperror.MapErrorToStatus(err))
}

func TestCreateDefinitionValidation(t *testing.T) {
	reg := newTestRegistry(t, nil, nil)

	cases := []struct {
		name   string
		mutate func(*achievementDto.CreateAchievementRequest)
		field  string
	}{
		{"markup only name", func(r *achievementDto.CreateAchievementRequest) { r.Name = "<p></p>" }, "name"},
		{"missing description", func(r *achievementDto.CreateAchievementRequest) { r.Description = "" }, "description"},
		{"missing category", func(r *achievementDto.CreateAchievementRequest) { r.Category = " " }, "category"},
		{"unknown tier", func(r *achievementDto.CreateAchievementRequest) { r.Tier = "DIAMOND" }, "tier"},
		{"missing reward", func(r *achievementDto.CreateAchievementRequest) { r.PointsReward = nil }, "pointsReward"},
		{"negative reward", func(r *achievementDto.CreateAchievementRequest) { r.PointsReward = reward(-1) }, "pointsReward"},
		{"missing criteria", func(r *achievementDto.CreateAchievementRequest) { r.Criteria = nil }, "criteria"},
		{"criteria without key", func(r *achievementDto.CreateAchievementRequest) {
			r.Criteria = &achievementDto.CriteriaRequest{Type: "METADATA_FLAG"}
		}, "criteria"},
		{"criteria without threshold", func(r *achievementDto.CreateAchievementRequest) {
			r.Criteria = &achievementDto.CriteriaRequest{Type: "METADATA_MIN", Key: "items"}
		}, "criteria"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := createRequest("Valid Name", 10, achievementDto.CriteriaRequest{Type: "PROGRESS"})
			tc.mutate(&req)

			_, err := reg.CreateDefinition(context.Background(), req)
			require.ErrorIs(t, err, apperror.ErrValidation)
			var verr *apperror.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, tc.field)
		})
	}
}

func TestListDefinitions(t *testing.T) {
	reg := newTestRegistry(t, nil, nil)
	ctx := context.Background()

	sofa, err := reg.CreateDefinition(ctx, createRequest("Sofa Saver", 10, achievementDto.CriteriaRequest{Type: "PROGRESS"}))
	require.NoError(t, err)
	chair := createRequest("Chair Champion", 20, achievementDto.CriteriaRequest{Type: "PROGRESS"})
	chair.Category = "listing"
	chair.Tier = "SILVER"
	_, err = reg.CreateDefinition(ctx, chair)
	require.NoError(t, err)
	_, err = reg.CreateDefinition(ctx, createRequest("Table Tamer", 30, achievementDto.CriteriaRequest{Type: "PROGRESS"}))
	require.NoError(t, err)

	all, err := reg.ListDefinitions(ctx, achievementDto.ListAchievementsQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byCategory, err := reg.ListDefinitions(ctx, achievementDto.ListAchievementsQuery{Category: "Listing"})
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, "Chair Champion", byCategory[0].Name)

	byTier, err := reg.ListDefinitions(ctx, achievementDto.ListAchievementsQuery{Tier: "bronze"})
	require.NoError(t, err)
	assert.Len(t, byTier, 2)

	bySearch, err := reg.ListDefinitions(ctx, achievementDto.ListAchievementsQuery{Search: "SOFA"})
	require.NoError(t, err)
	require.Len(t, bySearch, 1)
	assert.Equal(t, sofa.ID, bySearch[0].ID)

	_, err = reg.SetActive(ctx, sofa.ID, false)
	require.NoError(t, err)
	active, err := reg.ListDefinitions(ctx, achievementDto.ListAchievementsQuery{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	_, err = reg.ListDefinitions(ctx, achievementDto.ListAchievementsQuery{Tier: "DIAMOND"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestListDefinitionsUsesSearchIndex(t *testing.T) {
	index := &stubIndex{}
	reg := newTestRegistry(t, nil, index)
	ctx := context.Background()

	a, err := reg.CreateDefinition(ctx, createRequest("Alpha", 10, achievementDto.CriteriaRequest{Type: "PROGRESS"}))
	require.NoError(t, err)
	b, err := reg.CreateDefinition(ctx, createRequest("Beta", 10, achievementDto.CriteriaRequest{Type: "PROGRESS"}))
	require.NoError(t, err)
	_, err = reg.CreateDefinition(ctx, createRequest("Gamma", 10, achievementDto.CriteriaRequest{Type: "PROGRESS"}))
	require.NoError(t, err)

	index.hits = []uuid.UUID{b.ID, a.ID}
	found, err := reg.ListDefinitions(ctx, achievementDto.ListAchievementsQuery{Search: "typo tolerant"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, b.ID, found[0].ID)
	assert.Equal(t, a.ID, found[1].ID)

	index.hits = []uuid.UUID{}
	found, err = reg.ListDefinitions(ctx, achievementDto.ListAchievementsQuery{Search: "nothing"})
	require.NoError(t, err)
	assert.Empty(t, found)

	index.err = errors.New("meilisearch down")
	found, err = reg.ListDefinitions(ctx, achievementDto.ListAchievementsQuery{Search: "gam"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Gamma", found[0].Name)
}

func TestGetDefinitionAndSetActive(t *testing.T) {
	reg := newTestRegistry(t, nil, nil)
	ctx := context.Background()

	_, err := reg.GetDefinition(ctx, uuid.New())
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = reg.SetActive(ctx, uuid.New(), false)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	def, err := reg.CreateDefinition(ctx, createRequest("Lamp Lifter", 5, achievementDto.CriteriaRequest{Type: "PROGRESS"}))
	require.NoError(t, err)

	updated, err := reg.SetActive(ctx, def.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.Active)

	got, err := reg.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestGetDefinitionFallsBackWhenCacheUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	reg := newTestRegistry(t, client, nil)
	ctx := context.Background()

	def, err := reg.CreateDefinition(ctx, createRequest("Shelf Saviour", 25, achievementDto.CriteriaRequest{Type: "PROGRESS"}))
	require.NoError(t, err)

	got, err := reg.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)
	assert.Equal(t, int64(25), got.PointsReward)
}

func TestSetActiveInvalidatesCacheTwice(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	reg := newTestRegistry(t, client, nil)
	var delays []time.Duration
	var deferred []func()
	reg.(*registry).after = func(d time.Duration, f func()) {
		delays = append(delays, d)
		deferred = append(deferred, f)
	}
	ctx := context.Background()

	def, err := reg.CreateDefinition(ctx, createRequest("Stool Rescuer", 15, achievementDto.CriteriaRequest{Type: "PROGRESS"}))
	require.NoError(t, err)
	assert.Empty(t, delays)

	_, err = reg.SetActive(ctx, def.ID, false)
	require.NoError(t, err)
	require.Len(t, delays, 1)
	assert.Equal(t, defaultInvalidationDelay, delays[0])

	// the second delete tolerates an unavailable cache
	deferred[0]()

	got, err := reg.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestSetActiveWithoutCacheSchedulesNothing(t *testing.T) {
	reg := newTestRegistry(t, nil, nil)
	scheduled := 0
	reg.(*registry).after = func(time.Duration, func()) { scheduled++ }

	def, err := reg.CreateDefinition(context.Background(), createRequest("Desk Defender", 15, achievementDto.CriteriaRequest{Type: "PROGRESS"}))
	require.NoError(t, err)
	_, err = reg.SetActive(context.Background(), def.ID, false)
	require.NoError(t, err)
	assert.Zero(t, scheduled)
}
