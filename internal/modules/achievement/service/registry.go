package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"anoa.com/refurnish/internal/entity"
	"anoa.com/refurnish/internal/metrics"
	achievementDto "anoa.com/refurnish/internal/modules/achievement/dto"
	achievementRepo "anoa.com/refurnish/internal/modules/achievement/repository"
	searchService "anoa.com/refurnish/internal/modules/search/service"
	"anoa.com/refurnish/pkg/apperror"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	definitionCachePrefix    = "achievement:def:"
	searchLimit              = 100
	defaultInvalidationDelay = 500 * time.Millisecond
)

type RegistryConfig struct {
	CacheTTL     time.Duration
	StoreTimeout time.Duration
	// InvalidationDelay is how long after an availability change the cache key is
	// dropped a second time.
	InvalidationDelay time.Duration
}

type Registry interface {
	CreateDefinition(ctx context.Context, req achievementDto.CreateAchievementRequest) (*entity.AchievementDefinition, error)
	GetDefinition(ctx context.Context, id uuid.UUID) (*entity.AchievementDefinition, error)
	ListDefinitions(ctx context.Context, query achievementDto.ListAchievementsQuery) ([]entity.AchievementDefinition, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*entity.AchievementDefinition, error)
}

type registry struct {
	repo        achievementRepo.AchievementRepository
	redisClient *redis.Client
	index       searchService.AchievementIndex
	sanitizer   *bluemonday.Policy
	log         *zap.Logger
	cfg         RegistryConfig
	after       func(d time.Duration, f func())
}

// NewRegistry builds the definition store. A nil redisClient disables caching and
// a nil index sends searches to the database.
func NewRegistry(repo achievementRepo.AchievementRepository, redisClient *redis.Client, index searchService.AchievementIndex, log *zap.Logger, cfg RegistryConfig) Registry {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.InvalidationDelay <= 0 {
		cfg.InvalidationDelay = defaultInvalidationDelay
	}
	return &registry{
		repo:        repo,
		redisClient: redisClient,
		index:       index,
		sanitizer:   bluemonday.StrictPolicy(),
		log:         log.Named("achievement_registry"),
		cfg:         cfg,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

func (r *registry) sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(r.sanitizer.Sanitize(s)))
}

func (r *registry) CreateDefinition(ctx context.Context, req achievementDto.CreateAchievementRequest) (*entity.AchievementDefinition, error) {
	def, err := r.buildDefinition(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	existing, err := r.repo.FindDefinitionByName(ctx, def.Name)
	switch {
	case err == nil:
		return nil, fmt.Errorf("achievement %q already exists (%s): %w", existing.Name, existing.ID, apperror.ErrConflict)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, apperror.Storage("create achievement", err)
	}

	if err := r.repo.CreateDefinition(ctx, def); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, fmt.Errorf("achievement %q already exists: %w", def.Name, apperror.ErrConflict)
		}
		return nil, apperror.Storage("create achievement", err)
	}

	r.invalidate(ctx, def.ID)
	r.reindex(def)
	r.log.Info("achievement created",
		zap.String("id", def.ID.String()),
		zap.String("name", def.Name),
		zap.String("tier", string(def.Tier)),
		zap.Int64("points_reward", def.PointsReward),
	)
	return def, nil
}

func (r *registry) buildDefinition(req achievementDto.CreateAchievementRequest) (*entity.AchievementDefinition, error) {
	verr := &apperror.ValidationError{}

	name := r.sanitize(req.Name)
	description := r.sanitize(req.Description)
	category := strings.ToLower(strings.TrimSpace(req.Category))
	tier := entity.AchievementTier(strings.ToUpper(req.Tier))

	if name == "" {
		verr.Add("name", "name is required")
	}
	if description == "" {
		verr.Add("description", "description is required")
	}
	if category == "" {
		verr.Add("category", "category is required")
	}
	if !tier.Valid() {
		verr.Add("tier", fmt.Sprintf("unknown tier %q", req.Tier))
	}
	if req.PointsReward == nil {
		verr.Add("pointsReward", "pointsReward is required")
	} else if *req.PointsReward < 0 {
		verr.Add("pointsReward", "pointsReward must not be negative")
	}

	var criteria entity.AchievementCriteria
	if req.Criteria == nil {
		verr.Add("criteria", "criteria is required")
	} else {
		criteria = entity.AchievementCriteria{
			Type:      entity.CriteriaType(strings.ToUpper(req.Criteria.Type)),
			Key:       strings.TrimSpace(req.Criteria.Key),
			Threshold: req.Criteria.Threshold,
		}
		if err := criteria.Validate(); err != nil {
			verr.Add("criteria", err.Error())
		}
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	return &entity.AchievementDefinition{
		Name:         name,
		Description:  description,
		Category:     category,
		Tier:         tier,
		PointsReward: *req.PointsReward,
		Criteria:     criteria,
		Active:       true,
	}, nil
}

func (r *registry) GetDefinition(ctx context.Context, id uuid.UUID) (*entity.AchievementDefinition, error) {
	if def, ok := r.cached(ctx, id); ok {
		return def, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	def, err := r.repo.FindDefinitionByID(ctx, id)
	if err != nil {
		return nil, apperror.Storage("get achievement", err)
	}

	r.store(ctx, def)
	return def, nil
}

func (r *registry) cached(ctx context.Context, id uuid.UUID) (*entity.AchievementDefinition, bool) {
	if r.redisClient == nil {
		return nil, false
	}

	raw, err := r.redisClient.Get(ctx, definitionCachePrefix+id.String()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("achievement cache read failed", zap.String("id", id.String()), zap.Error(err))
		}
		metrics.AchievementCacheMisses.Inc()
		return nil, false
	}

	var def entity.AchievementDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		r.log.Warn("achievement cache entry unreadable", zap.String("id", id.String()), zap.Error(err))
		metrics.AchievementCacheMisses.Inc()
		return nil, false
	}
	metrics.AchievementCacheHits.Inc()
	return &def, true
}

func (r *registry) store(ctx context.Context, def *entity.AchievementDefinition) {
	if r.redisClient == nil {
		return
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return
	}
	if err := r.redisClient.Set(ctx, definitionCachePrefix+def.ID.String(), raw, r.cfg.CacheTTL).Err(); err != nil {
		r.log.Warn("achievement cache write failed", zap.String("id", def.ID.String()), zap.Error(err))
	}
}

func (r *registry) invalidate(ctx context.Context, id uuid.UUID) {
	if r.redisClient == nil {
		return
	}
	if err := r.redisClient.Del(ctx, definitionCachePrefix+id.String()).Err(); err != nil {
		r.log.Warn("achievement cache invalidation failed", zap.String("id", id.String()), zap.Error(err))
	}
}

// invalidateLater drops the key again once a GetDefinition that read the row before
// the update can no longer write it back.
func (r *registry) invalidateLater(id uuid.UUID) {
	if r.redisClient == nil {
		return
	}
	r.after(r.cfg.InvalidationDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StoreTimeout)
		defer cancel()
		r.invalidate(ctx, id)
	})
}

func (r *registry) reindex(def *entity.AchievementDefinition) {
	if r.index == nil {
		return
	}
	if err := r.index.IndexAchievement(def); err != nil {
		r.log.Warn("achievement indexing failed", zap.String("id", def.ID.String()), zap.Error(err))
	}
}

func (r *registry) ListDefinitions(ctx context.Context, query achievementDto.ListAchievementsQuery) ([]entity.AchievementDefinition, error) {
	filter := achievementRepo.DefinitionFilter{
		Category:   strings.ToLower(strings.TrimSpace(query.Category)),
		Search:     strings.TrimSpace(query.Search),
		ActiveOnly: query.ActiveOnly,
	}
	if query.Tier != "" {
		filter.Tier = entity.AchievementTier(strings.ToUpper(query.Tier))
		if !filter.Tier.Valid() {
			return nil, apperror.NewValidationError("tier", fmt.Sprintf("unknown tier %q", query.Tier))
		}
	}

	if filter.Search != "" && r.index != nil {
		ids, err := r.index.SearchAchievements(filter.Search, searchLimit)
		if err != nil {
			r.log.Warn("achievement search failed, using database", zap.String("query", filter.Search), zap.Error(err))
		} else {
			filter.IDs = ids
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	defs, err := r.repo.ListDefinitions(ctx, filter)
	if err != nil {
		return nil, apperror.Storage("list achievements", err)
	}
	if filter.IDs != nil {
		orderByRank(defs, filter.IDs)
	}
	if defs == nil {
		defs = []entity.AchievementDefinition{}
	}
	return defs, nil
}

// orderByRank sorts defs into the order of ids.
func orderByRank(defs []entity.AchievementDefinition, ids []uuid.UUID) {
	rank := make(map[uuid.UUID]int, len(ids))
	for i, id := range ids {
		rank[id] = i
	}
	sort.SliceStable(defs, func(i, j int) bool {
		return rank[defs[i].ID] < rank[defs[j].ID]
	})
}

func (r *registry) SetActive(ctx context.Context, id uuid.UUID, active bool) (*entity.AchievementDefinition, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	if err := r.repo.SetDefinitionActive(ctx, id, active); err != nil {
		return nil, apperror.Storage("set achievement active", err)
	}
	def, err := r.repo.FindDefinitionByID(ctx, id)
	if err != nil {
		return nil, apperror.Storage("set achievement active", err)
	}

	r.invalidate(ctx, id)
	r.invalidateLater(id)
	r.reindex(def)
	r.log.Info("achievement availability changed", zap.String("id", id.String()), zap.Bool("active", active))
	return def, nil
}
