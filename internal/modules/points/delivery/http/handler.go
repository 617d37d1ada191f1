package handler

import (
	"net/http"

	"anoa.com/refurnish/internal/entity"
	pointsDto "anoa.com/refurnish/internal/modules/points/dto"
	points "anoa.com/refurnish/internal/modules/points/service"
	"anoa.com/refurnish/pkg/apperror"
	"anoa.com/refurnish/pkg/response"
	"anoa.com/refurnish/pkg/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type PointsHandler struct {
	service points.PointsService
}

func NewPointsHandler(service points.PointsService) *PointsHandler {
	return &PointsHandler{service: service}
}

func (h *PointsHandler) AwardPoints(c *gin.Context) {
	var req pointsDto.AwardPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseError(c, validator.ToValidationError(err))
		return
	}

	res, err := h.service.AwardPoints(c.Request.Context(), points.AwardInput{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Type:        entity.TransactionType(req.Type),
		Source:      entity.PointsSource(req.Source),
		ReferenceID: req.ReferenceID,
		Metadata:    req.Metadata,
	})
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	writeResult(c, res)
}

func (h *PointsHandler) SpendPoints(c *gin.Context) {
	var req pointsDto.SpendPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseError(c, validator.ToValidationError(err))
		return
	}

	res, err := h.service.SpendPoints(c.Request.Context(), points.SpendInput{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Source:      entity.PointsSource(req.Source),
		ReferenceID: req.ReferenceID,
		Metadata:    req.Metadata,
	})
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	writeResult(c, res)
}

// writeResult answers 201 for a new ledger row and 200 when the reference was already recorded.
func writeResult(c *gin.Context, res *points.Result) {
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	response.Success(c, status, pointsDto.TransactionResponse{
		Transaction: res.Transaction,
		Duplicate:   res.Duplicate,
		NewTotal:    res.NewTotal,
		NewLevel:    res.NewLevel,
	})
}

func (h *PointsHandler) GetUserPoints(c *gin.Context) {
	account, err := h.service.GetUserPoints(c.Request.Context(), c.Param("userId"))
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"account":       account,
		"levelProgress": points.LevelProgress(account.LifetimePoints),
	})
}

func (h *PointsHandler) GetTransactionHistory(c *gin.Context) {
	var query pointsDto.HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.ResponseError(c, validator.ToValidationError(err))
		return
	}

	history, err := h.service.GetTransactionHistory(c.Request.Context(), c.Param("userId"), query)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, history)
}

func (h *PointsHandler) GetLeaderboard(c *gin.Context) {
	var query pointsDto.LeaderboardQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.ResponseError(c, validator.ToValidationError(err))
		return
	}

	entries, err := h.service.GetLeaderboard(c.Request.Context(), query.Limit)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	response.Success(c, http.StatusOK, entries)
}

func (h *PointsHandler) DeactivateTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ResponseError(c, apperror.NewValidationError("id", "invalid transaction id"))
		return
	}

	txn, err := h.service.DeactivateTransaction(c.Request.Context(), id)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	response.Success(c, http.StatusOK, txn)
}

func (h *PointsHandler) Reconcile(c *gin.Context) {
	report, err := h.service.Reconcile(c.Request.Context())
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	response.Success(c, http.StatusOK, report)
}
