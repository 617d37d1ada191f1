package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anoa.com/refurnish/internal/entity"
	"anoa.com/refurnish/pkg/apperror"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HistoryFilter selects a page of active ledger rows. SortBy and SortOrder must
// already be whitelisted by the caller.
type HistoryFilter struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
	Type      entity.TransactionType
	Source    entity.PointsSource
	From      *time.Time
	To        *time.Time
}

// LedgerTotals is an account recomputed from active ledger rows.
type LedgerTotals struct {
	Total    int64
	Lifetime int64
}

type PointsRepository interface {
	WithTx(tx *gorm.DB) PointsRepository

	// CreateTransaction appends a ledger row. It reports false, without error, when
	// the (user, source, reference) triple already exists.
	CreateTransaction(ctx context.Context, txn *entity.PointsTransaction) (bool, error)
	FindTransactionByID(ctx context.Context, id uuid.UUID) (*entity.PointsTransaction, error)
	FindTransactionByReference(ctx context.Context, userID string, source entity.PointsSource, referenceID string) (*entity.PointsTransaction, error)
	DeactivateTransaction(ctx context.Context, id uuid.UUID) (bool, error)
	ListTransactions(ctx context.Context, userID string, filter HistoryFilter) ([]entity.PointsTransaction, int64, error)

	EnsureAccount(ctx context.Context, userID string) error
	LockAccount(ctx context.Context, userID string) error
	FindAccount(ctx context.Context, userID string) (*entity.UserPointsAccount, error)
	IncrementAccount(ctx context.Context, userID string, totalDelta, lifetimeDelta int64) error
	DecrementBalance(ctx context.Context, userID string, amount int64) (bool, error)
	UpdateLevel(ctx context.Context, userID string, level int) (bool, error)
	OverwriteAccount(ctx context.Context, userID string, totals LedgerTotals, level int) error
	TopAccounts(ctx context.Context, limit int) ([]entity.UserPointsAccount, error)

	IncrementStats(ctx context.Context, userID string, txType entity.TransactionType, source entity.PointsSource, points, entries int64) error
	FindStats(ctx context.Context, userID string) ([]entity.PointsStatCounter, error)
	ReplaceStats(ctx context.Context, userID string, counters []entity.PointsStatCounter) error

	LedgerUserIDs(ctx context.Context) ([]string, error)
	SumLedger(ctx context.Context, userID string) (LedgerTotals, error)
	SumLedgerStats(ctx context.Context, userID string) ([]entity.PointsStatCounter, error)
}

type pointsRepository struct {
	db *gorm.DB
}

func NewPointsRepository(db *gorm.DB) PointsRepository {
	return &pointsRepository{db: db}
}

func (r *pointsRepository) WithTx(tx *gorm.DB) PointsRepository {
	return &pointsRepository{db: tx}
}

func (r *pointsRepository) CreateTransaction(ctx context.Context, txn *entity.PointsTransaction) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(txn)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *pointsRepository) FindTransactionByID(ctx context.Context, id uuid.UUID) (*entity.PointsTransaction, error) {
	var txn entity.PointsTransaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, notFound(err)
	}
	return &txn, nil
}

func (r *pointsRepository) FindTransactionByReference(ctx context.Context, userID string, source entity.PointsSource, referenceID string) (*entity.PointsTransaction, error) {
	var txn entity.PointsTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND source = ? AND reference_id = ?", userID, source, referenceID).
		First(&txn).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &txn, nil
}

func (r *pointsRepository) DeactivateTransaction(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.PointsTransaction{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	return res.RowsAffected == 1, res.Error
}

func (r *pointsRepository) ListTransactions(ctx context.Context, userID string, filter HistoryFilter) ([]entity.PointsTransaction, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&entity.PointsTransaction{}).
		Where("user_id = ? AND active = ?", userID, true)

	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var txns []entity.PointsTransaction
	err := query.
		Order(fmt.Sprintf("%s %s", filter.SortBy, filter.SortOrder)).
		Order(fmt.Sprintf("id %s", filter.SortOrder)).
		Limit(filter.Limit).
		Offset((filter.Page - 1) * filter.Limit).
		Find(&txns).Error
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

func (r *pointsRepository) EnsureAccount(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entity.UserPointsAccount{UserID: userID, Level: 1}).Error
}

// LockAccount takes the account row lock for the rest of the transaction.
func (r *pointsRepository) LockAccount(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).
		Model(&entity.UserPointsAccount{}).
		Where("user_id = ?", userID).
		UpdateColumn("level", gorm.Expr("level")).Error
}

func (r *pointsRepository) FindAccount(ctx context.Context, userID string) (*entity.UserPointsAccount, error) {
	var account entity.UserPointsAccount
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error; err != nil {
		return nil, notFound(err)
	}
	return &account, nil
}

func (r *pointsRepository) IncrementAccount(ctx context.Context, userID string, totalDelta, lifetimeDelta int64) error {
	res := r.db.WithContext(ctx).
		Model(&entity.UserPointsAccount{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"total_points":    gorm.Expr("total_points + ?", totalDelta),
			"lifetime_points": gorm.Expr("lifetime_points + ?", lifetimeDelta),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.ErrNotFound
	}
	return nil
}

func (r *pointsRepository) DecrementBalance(ctx context.Context, userID string, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.UserPointsAccount{}).
		Where("user_id = ? AND total_points >= ?", userID, amount).
		Update("total_points", gorm.Expr("total_points - ?", amount))
	return res.RowsAffected == 1, res.Error
}

func (r *pointsRepository) UpdateLevel(ctx context.Context, userID string, level int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.UserPointsAccount{}).
		Where("user_id = ? AND level <> ?", userID, level).
		Update("level", level)
	return res.RowsAffected == 1, res.Error
}

func (r *pointsRepository) OverwriteAccount(ctx context.Context, userID string, totals LedgerTotals, level int) error {
	return r.db.WithContext(ctx).
		Model(&entity.UserPointsAccount{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"total_points":    totals.Total,
			"lifetime_points": totals.Lifetime,
			"level":           level,
		}).Error
}

func (r *pointsRepository) TopAccounts(ctx context.Context, limit int) ([]entity.UserPointsAccount, error) {
	var accounts []entity.UserPointsAccount
	err := r.db.WithContext(ctx).
		Order("lifetime_points DESC").
		Order("user_id ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

func (r *pointsRepository) IncrementStats(ctx context.Context, userID string, txType entity.TransactionType, source entity.PointsSource, points, entries int64) error {
	db := r.db.WithContext(ctx)

	keys := []entity.PointsStatCounter{
		{UserID: userID, Dimension: entity.StatDimensionType, StatKey: string(txType)},
		{UserID: userID, Dimension: entity.StatDimensionSource, StatKey: string(source)},
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&keys).Error; err != nil {
		return err
	}

	for _, k := range keys {
		err := db.Model(&entity.PointsStatCounter{}).
			Where("user_id = ? AND dimension = ? AND stat_key = ?", k.UserID, k.Dimension, k.StatKey).
			Updates(map[string]any{
				"points":  gorm.Expr("points + ?", points),
				"entries": gorm.Expr("entries + ?", entries),
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *pointsRepository) FindStats(ctx context.Context, userID string) ([]entity.PointsStatCounter, error) {
	var counters []entity.PointsStatCounter
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("dimension, stat_key").
		Find(&counters).Error
	return counters, err
}

func (r *pointsRepository) ReplaceStats(ctx context.Context, userID string, counters []entity.PointsStatCounter) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("user_id = ?", userID).Delete(&entity.PointsStatCounter{}).Error; err != nil {
		return err
	}
	if len(counters) == 0 {
		return nil
	}
	return db.Create(&counters).Error
}

func (r *pointsRepository) LedgerUserIDs(ctx context.Context) ([]string, error) {
	db := r.db.WithContext(ctx)

	var fromLedger []string
	if err := db.Model(&entity.PointsTransaction{}).Distinct("user_id").Pluck("user_id", &fromLedger).Error; err != nil {
		return nil, err
	}
	var fromAccounts []string
	if err := db.Model(&entity.UserPointsAccount{}).Pluck("user_id", &fromAccounts).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(fromLedger)+len(fromAccounts))
	ids := make([]string, 0, len(fromLedger)+len(fromAccounts))
	for _, id := range append(fromLedger, fromAccounts...) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *pointsRepository) SumLedger(ctx context.Context, userID string) (LedgerTotals, error) {
	var totals LedgerTotals
	err := r.db.WithContext(ctx).
		Model(&entity.PointsTransaction{}).
		Select("COALESCE(SUM(amount), 0) AS total, COALESCE(SUM(CASE WHEN amount > 0 THEN amount ELSE 0 END), 0) AS lifetime").
		Where("user_id = ? AND active = ?", userID, true).
		Scan(&totals).Error
	return totals, err
}

type statRow struct {
	StatKey string
	Points  int64
	Entries int64
}

func (r *pointsRepository) SumLedgerStats(ctx context.Context, userID string) ([]entity.PointsStatCounter, error) {
	var counters []entity.PointsStatCounter
	for _, dim := range []string{entity.StatDimensionType, entity.StatDimensionSource} {
		var rows []statRow
		err := r.db.WithContext(ctx).
			Model(&entity.PointsTransaction{}).
			Select(fmt.Sprintf("%s AS stat_key, SUM(amount) AS points, COUNT(*) AS entries", dim)).
			Where("user_id = ? AND active = ?", userID, true).
			Group(dim).
			Order(dim).
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			counters = append(counters, entity.PointsStatCounter{
				UserID:    userID,
				Dimension: dim,
				StatKey:   row.StatKey,
				Points:    row.Points,
				Entries:   row.Entries,
			})
		}
	}
	return counters, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.ErrNotFound
	}
	return err
}
