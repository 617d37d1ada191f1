package service

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"anoa.com/refurnish/internal/entity"
	"github.com/google/uuid"
	"github.com/meilisearch/meilisearch-go"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

const achievementsIndex = "achievements"

// AchievementIndex keeps the achievement catalogue searchable by name and description.
type AchievementIndex interface {
	IndexAchievement(def *entity.AchievementDefinition) error
	// SearchAchievements returns ids of matching definitions, best match first.
	SearchAchievements(query string, limit int64) ([]uuid.UUID, error)
}

type meiliSearchService struct {
	client    meilisearch.ServiceManager
	sanitizer *bluemonday.Policy
	log       *zap.Logger
}

func NewMeiliSearchService(client meilisearch.ServiceManager, log *zap.Logger) AchievementIndex {
	s := &meiliSearchService{
		client:    client,
		sanitizer: bluemonday.StrictPolicy(),
		log:       log.Named("meilisearch"),
	}
	s.initIndexes()
	return s
}

func (s *meiliSearchService) initIndexes() {
	filterableAttrs := []string{"category", "tier", "active"}
	filterableInterface := make([]any, len(filterableAttrs))
	for i, v := range filterableAttrs {
		filterableInterface[i] = v
	}
	if _, err := s.client.Index(achievementsIndex).UpdateFilterableAttributes(&filterableInterface); err != nil {
		s.log.Warn("failed to update achievements filterable attributes", zap.Error(err))
	}

	sortableAttrs := []string{"points_reward", "created_at"}
	if _, err := s.client.Index(achievementsIndex).UpdateSortableAttributes(&sortableAttrs); err != nil {
		s.log.Warn("failed to update achievements sortable attributes", zap.Error(err))
	}

	s.log.Info("meilisearch indexes initialized")
}

type meiliAchievementDoc struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	Tier         string `json:"tier"`
	PointsReward int64  `json:"points_reward"`
	Active       bool   `json:"active"`
	CreatedAt    int64  `json:"created_at"`
}

func (s *meiliSearchService) cleanContentForIndex(content string) string {
	content = strings.ReplaceAll(content, "</p>", " ")
	content = strings.ReplaceAll(content, "<br>", " ")

	cleanText := html.UnescapeString(s.sanitizer.Sanitize(content))
	return strings.Join(strings.Fields(cleanText), " ")
}

func (s *meiliSearchService) IndexAchievement(def *entity.AchievementDefinition) error {
	doc := meiliAchievementDoc{
		ID:           def.ID.String(),
		Name:         s.cleanContentForIndex(def.Name),
		Description:  s.cleanContentForIndex(def.Description),
		Category:     def.Category,
		Tier:         string(def.Tier),
		PointsReward: def.PointsReward,
		Active:       def.Active,
		CreatedAt:    def.CreatedAt.Unix(),
	}

	task, err := s.client.Index(achievementsIndex).AddDocuments([]meiliAchievementDoc{doc}, strPtr("id"))
	if err != nil {
		return fmt.Errorf("index achievement %s: %w", def.ID, err)
	}
	s.log.Debug("achievement indexed", zap.String("id", doc.ID), zap.Any("task_uid", task.TaskUID))
	return nil
}

func (s *meiliSearchService) SearchAchievements(query string, limit int64) ([]uuid.UUID, error) {
	resp, err := s.client.Index(achievementsIndex).Search(query, &meilisearch.SearchRequest{
		Limit:                limit,
		AttributesToRetrieve: []string{"id"},
	})
	if err != nil {
		return nil, fmt.Errorf("search achievements: %w", err)
	}

	raw, err := json.Marshal(resp.Hits)
	if err != nil {
		return nil, err
	}
	var hits []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &hits); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(hits))
	for _, hit := range hits {
		id, err := uuid.Parse(hit.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func strPtr(s string) *string {
	return &s
}
