package dto

import (
	"time"

	"anoa.com/refurnish/internal/entity"
	commonDto "anoa.com/refurnish/pkg/dto"
)

type AwardPointsRequest struct {
	UserID      string         `json:"userId" binding:"required,max=64"`
	Amount      int64          `json:"amount"`
	Source      string         `json:"source" binding:"required"`
	Type        string         `json:"type" binding:"omitempty,oneof=EARNED BONUS"`
	ReferenceID *string        `json:"referenceId" binding:"omitempty,max=128"`
	Metadata    map[string]any `json:"metadata"`
}

type SpendPointsRequest struct {
	UserID      string         `json:"userId" binding:"required,max=64"`
	Amount      int64          `json:"amount"`
	Source      string         `json:"source"`
	ReferenceID *string        `json:"referenceId" binding:"omitempty,max=128"`
	Metadata    map[string]any `json:"metadata"`
}

type HistoryQuery struct {
	Page      int        `form:"page"`
	Limit     int        `form:"limit"`
	SortBy    string     `form:"sortBy"`
	SortOrder string     `form:"sortOrder"`
	Type      string     `form:"type"`
	Source    string     `form:"source"`
	From      *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To        *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

type LeaderboardQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1"`
}

type HistoryResponse struct {
	Data []entity.PointsTransaction `json:"data"`
	Meta commonDto.PaginationMeta   `json:"meta"`
}

type TransactionResponse struct {
	Transaction *entity.PointsTransaction `json:"transaction"`
	Duplicate   bool                      `json:"duplicate"`
	NewTotal    int64                     `json:"newTotal"`
	NewLevel    *int                      `json:"newLevel,omitempty"`
}

// LeaderboardEntry is one ranked account. Position is 1-based.
type LeaderboardEntry struct {
	Position       int     `json:"position"`
	UserID         string  `json:"userId"`
	TotalPoints    int64   `json:"totalPoints"`
	LifetimePoints int64   `json:"lifetimePoints"`
	Level          int     `json:"level"`
	NextLevelAt    int64   `json:"nextLevelAt"`
	LevelProgress  float64 `json:"levelProgress"`
}

type ReconcileReport struct {
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
	AccountsChecked int       `json:"accountsChecked"`
	AccountsFixed   int       `json:"accountsFixed"`
	FixedUserIDs    []string  `json:"fixedUserIds,omitempty"`
}
