package handler

import (
	"net/http"

	achievementDto "anoa.com/refurnish/internal/modules/achievement/dto"
	achievement "anoa.com/refurnish/internal/modules/achievement/service"
	"anoa.com/refurnish/pkg/apperror"
	"anoa.com/refurnish/pkg/response"
	"anoa.com/refurnish/pkg/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AchievementHandler struct {
	registry achievement.Registry
	tracker  achievement.Tracker
}

func NewAchievementHandler(registry achievement.Registry, tracker achievement.Tracker) *AchievementHandler {
	return &AchievementHandler{registry: registry, tracker: tracker}
}

func (h *AchievementHandler) CreateAchievement(c *gin.Context) {
	var req achievementDto.CreateAchievementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseError(c, validator.ToValidationError(err))
		return
	}

	def, err := h.registry.CreateDefinition(c.Request.Context(), req)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, def)
}

func (h *AchievementHandler) ListAchievements(c *gin.Context) {
	var query achievementDto.ListAchievementsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.ResponseError(c, validator.ToValidationError(err))
		return
	}

	defs, err := h.registry.ListDefinitions(c.Request.Context(), query)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	response.Success(c, http.StatusOK, defs)
}

func (h *AchievementHandler) GetAchievement(c *gin.Context) {
	id, ok := achievementID(c)
	if !ok {
		return
	}

	def, err := h.registry.GetDefinition(c.Request.Context(), id)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	response.Success(c, http.StatusOK, def)
}

func (h *AchievementHandler) SetActive(c *gin.Context) {
	id, ok := achievementID(c)
	if !ok {
		return
	}

	var req achievementDto.SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseError(c, validator.ToValidationError(err))
		return
	}

	def, err := h.registry.SetActive(c.Request.Context(), id, *req.Active)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	response.Success(c, http.StatusOK, def)
}

func (h *AchievementHandler) GetUserAchievements(c *gin.Context) {
	views, err := h.tracker.GetUserAchievements(c.Request.Context(), c.Param("userId"))
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	response.Success(c, http.StatusOK, views)
}

func (h *AchievementHandler) GetUserAchievement(c *gin.Context) {
	id, ok := achievementID(c)
	if !ok {
		return
	}

	view, err := h.tracker.GetUserAchievement(c.Request.Context(), c.Param("userId"), id)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

func (h *AchievementHandler) TrackProgress(c *gin.Context) {
	id, ok := achievementID(c)
	if !ok {
		return
	}

	var req achievementDto.TrackProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseError(c, validator.ToValidationError(err))
		return
	}

	view, err := h.tracker.TrackProgress(c.Request.Context(), c.Param("userId"), id, achievement.TrackInput{
		Progress: *req.Progress,
		Metadata: req.Metadata,
	})
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

func achievementID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ResponseError(c, apperror.NewValidationError("achievementId", "invalid achievement id"))
		return uuid.Nil, false
	}
	return id, true
}
