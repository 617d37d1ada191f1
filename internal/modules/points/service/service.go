package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"anoa.com/refurnish/internal/entity"
	"anoa.com/refurnish/internal/event"
	"anoa.com/refurnish/internal/metrics"
	pointsDto "anoa.com/refurnish/internal/modules/points/dto"
	pointsRepo "anoa.com/refurnish/internal/modules/points/repository"
	"anoa.com/refurnish/pkg/apperror"
	"anoa.com/refurnish/pkg/database"
	commonDto "anoa.com/refurnish/pkg/dto"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxUserIDLength      = 64
	maxReferenceIDLength = 128

	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 50
)

type Config struct {
	StoreTimeout     time.Duration
	AnomalyThreshold int64 // awards above this are flagged; 0 disables the check
	DefaultPageSize  int
	MaxPageSize      int
}

func (c Config) withDefaults() Config {
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 100
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 20
	}
	if c.DefaultPageSize > c.MaxPageSize {
		c.DefaultPageSize = c.MaxPageSize
	}
	return c
}

// AwardInput credits points. Type defaults to EARNED.
type AwardInput struct {
	UserID      string
	Amount      int64
	Type        entity.TransactionType
	Source      entity.PointsSource
	ReferenceID *string
	Metadata    map[string]any
}

// SpendInput debits points. Amount is the positive number of points to remove.
type SpendInput struct {
	UserID      string
	Amount      int64
	Source      entity.PointsSource
	ReferenceID *string
	Metadata    map[string]any
}

// Result is the outcome of a ledger write. A Duplicate result carries the row
// recorded earlier for the same reference and changed nothing.
type Result struct {
	Transaction *entity.PointsTransaction
	Duplicate   bool
	NewTotal    int64
	NewLevel    *int
	Anomaly     bool
}

type PointsService interface {
	AwardPoints(ctx context.Context, in AwardInput) (*Result, error)
	// AwardInTx runs the award inside a caller-owned transaction. The caller must
	// call Announce with the result once the transaction has committed.
	AwardInTx(ctx context.Context, tx *gorm.DB, in AwardInput) (*Result, error)
	Announce(res *Result)
	SpendPoints(ctx context.Context, in SpendInput) (*Result, error)
	DeactivateTransaction(ctx context.Context, id uuid.UUID) (*entity.PointsTransaction, error)
	GetUserPoints(ctx context.Context, userID string) (*entity.UserPointsAccount, error)
	GetTransactionHistory(ctx context.Context, userID string, query pointsDto.HistoryQuery) (*pointsDto.HistoryResponse, error)
	GetLeaderboard(ctx context.Context, limit int) ([]pointsDto.LeaderboardEntry, error)
	Reconcile(ctx context.Context) (*pointsDto.ReconcileReport, error)
}

type pointsService struct {
	repo      pointsRepo.PointsRepository
	tx        database.Transactor
	publisher event.Publisher
	log       *zap.Logger
	cfg       Config
}

func NewPointsService(repo pointsRepo.PointsRepository, tx database.Transactor, publisher event.Publisher, log *zap.Logger, cfg Config) PointsService {
	return &pointsService{
		repo:      repo,
		tx:        tx,
		publisher: publisher,
		log:       log.Named("points"),
		cfg:       cfg.withDefaults(),
	}
}

func (s *pointsService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *pointsService) AwardPoints(ctx context.Context, in AwardInput) (*Result, error) {
	if in.Type == "" {
		in.Type = entity.TransactionEarned
	}
	if err := validateAward(in); err != nil {
		return nil, err
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	start := time.Now()
	var res *Result
	err := s.tx.Do(ctx, func(tx *gorm.DB) error {
		var err error
		res, err = s.award(ctx, s.repo.WithTx(tx), in)
		return err
	})
	metrics.RecordStoreOperation("award_points", time.Since(start), err)
	if err != nil {
		return nil, apperror.Storage("award points", err)
	}

	s.Announce(res)
	return res, nil
}

func (s *pointsService) AwardInTx(ctx context.Context, tx *gorm.DB, in AwardInput) (*Result, error) {
	if in.Type == "" {
		in.Type = entity.TransactionEarned
	}
	if err := validateAward(in); err != nil {
		return nil, err
	}

	res, err := s.award(ctx, s.repo.WithTx(tx), in)
	if err != nil {
		return nil, apperror.Storage("award points", err)
	}
	return res, nil
}

// award appends the ledger row then applies the aggregate increments and level write.
func (s *pointsService) award(ctx context.Context, repo pointsRepo.PointsRepository, in AwardInput) (*Result, error) {
	txn := &entity.PointsTransaction{
		UserID:      in.UserID,
		Amount:      in.Amount,
		Type:        in.Type,
		Source:      in.Source,
		ReferenceID: in.ReferenceID,
		Metadata:    in.Metadata,
		Active:      true,
	}

	created, err := repo.CreateTransaction(ctx, txn)
	if err != nil {
		return nil, err
	}
	if !created {
		return s.duplicate(ctx, repo, in.UserID, in.Source, in.ReferenceID)
	}

	if err := repo.EnsureAccount(ctx, in.UserID); err != nil {
		return nil, err
	}
	if err := repo.IncrementAccount(ctx, in.UserID, in.Amount, in.Amount); err != nil {
		return nil, err
	}
	if err := repo.IncrementStats(ctx, in.UserID, in.Type, in.Source, in.Amount, 1); err != nil {
		return nil, err
	}

	res, err := s.settleLevel(ctx, repo, txn)
	if err != nil {
		return nil, err
	}
	res.Anomaly = s.cfg.AnomalyThreshold > 0 && in.Amount > s.cfg.AnomalyThreshold
	return res, nil
}

// settleLevel re-derives the level from the freshly incremented lifetime points
// and writes it only when it differs from the stored value.
func (s *pointsService) settleLevel(ctx context.Context, repo pointsRepo.PointsRepository, txn *entity.PointsTransaction) (*Result, error) {
	account, err := repo.FindAccount(ctx, txn.UserID)
	if err != nil {
		return nil, err
	}

	level := LevelFor(account.LifetimePoints)
	changed, err := repo.UpdateLevel(ctx, txn.UserID, level)
	if err != nil {
		return nil, err
	}

	res := &Result{Transaction: txn, NewTotal: account.TotalPoints}
	if changed {
		res.NewLevel = &level
	}
	return res, nil
}

func (s *pointsService) duplicate(ctx context.Context, repo pointsRepo.PointsRepository, userID string, source entity.PointsSource, referenceID *string) (*Result, error) {
	if referenceID == nil {
		return nil, fmt.Errorf("ledger insert for user %s affected no rows", userID)
	}

	existing, err := repo.FindTransactionByReference(ctx, userID, source, *referenceID)
	if err != nil {
		return nil, err
	}

	res := &Result{Transaction: existing, Duplicate: true}
	account, err := repo.FindAccount(ctx, userID)
	switch {
	case err == nil:
		res.NewTotal = account.TotalPoints
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, err
	}

	metrics.DuplicateAwards.WithLabelValues(string(source)).Inc()
	s.log.Info("duplicate ledger write suppressed",
		zap.String("user_id", userID),
		zap.String("source", string(source)),
		zap.String("reference_id", *referenceID),
		zap.String("transaction_id", existing.ID.String()),
	)
	return res, nil
}

// Announce records metrics and publishes the EARNED event for a committed credit.
func (s *pointsService) Announce(res *Result) {
	if res == nil || res.Duplicate || res.Transaction == nil {
		return
	}
	txn := res.Transaction

	if res.NewLevel != nil {
		metrics.LevelUps.Inc()
		s.log.Info("level changed", zap.String("user_id", txn.UserID), zap.Int("level", *res.NewLevel))
	}

	if txn.Amount <= 0 {
		return
	}

	metrics.PointsAwarded.WithLabelValues(string(txn.Type), string(txn.Source)).Add(float64(txn.Amount))

	if res.Anomaly {
		metrics.PointsAnomalies.WithLabelValues(string(txn.Source)).Inc()
		s.log.Warn("consistency warning: large transaction",
			zap.String("user_id", txn.UserID),
			zap.Int64("amount", txn.Amount),
			zap.Int64("threshold", s.cfg.AnomalyThreshold),
			zap.String("source", string(txn.Source)),
			zap.String("transaction_id", txn.ID.String()),
		)
	}

	total := res.NewTotal
	s.publisher.Publish(event.Event{
		Type:            event.TypeEarned,
		UserID:          txn.UserID,
		Timestamp:       time.Now().UTC(),
		Amount:          txn.Amount,
		Source:          string(txn.Source),
		TransactionType: string(txn.Type),
		TransactionID:   txn.ID.String(),
		NewTotal:        &total,
		NewLevel:        res.NewLevel,
		Anomaly:         res.Anomaly,
	})
}

func (s *pointsService) SpendPoints(ctx context.Context, in SpendInput) (*Result, error) {
	if in.Source == "" {
		in.Source = entity.SourceRedemption
	}
	if err := validateSpend(in); err != nil {
		return nil, err
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	start := time.Now()
	var res *Result
	err := s.tx.Do(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		txn := &entity.PointsTransaction{
			UserID:      in.UserID,
			Amount:      -in.Amount,
			Type:        entity.TransactionSpent,
			Source:      in.Source,
			ReferenceID: in.ReferenceID,
			Metadata:    in.Metadata,
			Active:      true,
		}
		created, err := repo.CreateTransaction(ctx, txn)
		if err != nil {
			return err
		}
		if !created {
			res, err = s.duplicate(ctx, repo, in.UserID, in.Source, in.ReferenceID)
			return err
		}

		if err := repo.EnsureAccount(ctx, in.UserID); err != nil {
			return err
		}
		ok, err := repo.DecrementBalance(ctx, in.UserID, in.Amount)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.ErrInsufficientPoints
		}
		if err := repo.IncrementStats(ctx, in.UserID, entity.TransactionSpent, in.Source, -in.Amount, 1); err != nil {
			return err
		}

		account, err := repo.FindAccount(ctx, in.UserID)
		if err != nil {
			return err
		}
		res = &Result{Transaction: txn, NewTotal: account.TotalPoints}
		return nil
	})
	metrics.RecordStoreOperation("spend_points", time.Since(start), err)
	if err != nil {
		return nil, apperror.Storage("spend points", err)
	}

	if !res.Duplicate {
		metrics.PointsSpent.Add(float64(in.Amount))
		s.log.Info("points spent",
			zap.String("user_id", in.UserID),
			zap.Int64("amount", in.Amount),
			zap.Int64("new_total", res.NewTotal),
		)
	}
	return res, nil
}

// DeactivateTransaction soft-deletes a ledger row and reverses its effect on the
// aggregate. Deactivating an inactive row is a no-op.
func (s *pointsService) DeactivateTransaction(ctx context.Context, id uuid.UUID) (*entity.PointsTransaction, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	start := time.Now()
	var txn *entity.PointsTransaction
	err := s.tx.Do(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		var err error
		txn, err = repo.FindTransactionByID(ctx, id)
		if err != nil {
			return err
		}

		changed, err := repo.DeactivateTransaction(ctx, id)
		if err != nil {
			return err
		}
		txn.Active = false
		if !changed {
			return nil
		}

		var lifetimeDelta int64
		if txn.Amount > 0 {
			lifetimeDelta = -txn.Amount
		}
		if err := repo.EnsureAccount(ctx, txn.UserID); err != nil {
			return err
		}
		if err := repo.IncrementAccount(ctx, txn.UserID, -txn.Amount, lifetimeDelta); err != nil {
			return err
		}
		if err := repo.IncrementStats(ctx, txn.UserID, txn.Type, txn.Source, -txn.Amount, -1); err != nil {
			return err
		}
		_, err = s.settleLevel(ctx, repo, txn)
		return err
	})
	metrics.RecordStoreOperation("deactivate_transaction", time.Since(start), err)
	if err != nil {
		return nil, apperror.Storage("deactivate transaction", err)
	}

	s.log.Info("transaction deactivated",
		zap.String("transaction_id", id.String()),
		zap.String("user_id", txn.UserID),
		zap.Int64("amount", txn.Amount),
	)
	return txn, nil
}

func (s *pointsService) GetUserPoints(ctx context.Context, userID string) (*entity.UserPointsAccount, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	start := time.Now()
	account, err := s.loadAccount(ctx, userID)
	metrics.RecordStoreOperation("get_user_points", time.Since(start), err)
	if err != nil {
		return nil, apperror.Storage("get user points", err)
	}
	return account, nil
}

func (s *pointsService) loadAccount(ctx context.Context, userID string) (*entity.UserPointsAccount, error) {
	if err := s.repo.EnsureAccount(ctx, userID); err != nil {
		return nil, err
	}
	account, err := s.repo.FindAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	counters, err := s.repo.FindStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	account.Stats = entity.BuildStats(counters)
	return account, nil
}

func (s *pointsService) GetTransactionHistory(ctx context.Context, userID string, query pointsDto.HistoryQuery) (*pointsDto.HistoryResponse, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	filter, err := s.historyFilter(query)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	start := time.Now()
	txns, total, err := s.repo.ListTransactions(ctx, userID, filter)
	metrics.RecordStoreOperation("transaction_history", time.Since(start), err)
	if err != nil {
		return nil, apperror.Storage("transaction history", err)
	}
	if txns == nil {
		txns = []entity.PointsTransaction{}
	}

	return &pointsDto.HistoryResponse{
		Data: txns,
		Meta: commonDto.NewPaginationMeta(filter.Page, filter.Limit, total),
	}, nil
}

func (s *pointsService) historyFilter(q pointsDto.HistoryQuery) (pointsRepo.HistoryFilter, error) {
	filter := pointsRepo.HistoryFilter{
		Page:      q.Page,
		Limit:     q.Limit,
		SortBy:    pointsRepo.ValidateSortField(q.SortBy, pointsRepo.TransactionSortFields, "created_at"),
		SortOrder: pointsRepo.ValidateSortOrder(q.SortOrder),
		From:      q.From,
		To:        q.To,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = s.cfg.DefaultPageSize
	}
	if filter.Limit > s.cfg.MaxPageSize {
		filter.Limit = s.cfg.MaxPageSize
	}

	verr := &apperror.ValidationError{}
	if q.Type != "" {
		filter.Type = entity.TransactionType(strings.ToUpper(q.Type))
		if !filter.Type.Valid() {
			verr.Add("type", fmt.Sprintf("unknown transaction type %q", q.Type))
		}
	}
	if q.Source != "" {
		filter.Source = entity.PointsSource(strings.ToUpper(q.Source))
		if !filter.Source.Valid() {
			verr.Add("source", unknownSource(q.Source))
		}
	}
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		verr.Add("from", "from must not be after to")
	}
	return filter, verr.OrNil()
}

func (s *pointsService) GetLeaderboard(ctx context.Context, limit int) ([]pointsDto.LeaderboardEntry, error) {
	if limit < 1 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	accounts, err := s.repo.TopAccounts(ctx, limit)
	if err != nil {
		return nil, apperror.Storage("leaderboard", err)
	}

	entries := make([]pointsDto.LeaderboardEntry, 0, len(accounts))
	for i, account := range accounts {
		status := LevelProgress(account.LifetimePoints)
		entries = append(entries, pointsDto.LeaderboardEntry{
			Position:       i + 1,
			UserID:         account.UserID,
			TotalPoints:    account.TotalPoints,
			LifetimePoints: account.LifetimePoints,
			Level:          account.Level,
			NextLevelAt:    status.NextLevelPoints,
			LevelProgress:  status.Progress,
		})
	}
	return entries, nil
}

func validateUserID(userID string) error {
	if msg := UserIDProblem(userID); msg != "" {
		return apperror.NewValidationError("userId", msg)
	}
	return nil
}

// UserIDProblem describes why userID is not acceptable as a ledger key, or returns "".
func UserIDProblem(userID string) string {
	switch {
	case strings.TrimSpace(userID) == "":
		return "userId is required"
	case len(userID) > maxUserIDLength:
		return fmt.Sprintf("userId must be at most %d characters", maxUserIDLength)
	}
	return ""
}

func unknownSource(source string) string {
	known := entity.PointsSources()
	names := make([]string, len(known))
	for i, src := range known {
		names[i] = string(src)
	}
	return fmt.Sprintf("unknown source %q, expected one of [%s]", source, strings.Join(names, " "))
}

func validateReference(verr *apperror.ValidationError, referenceID *string) {
	if referenceID == nil {
		return
	}
	switch {
	case strings.TrimSpace(*referenceID) == "":
		verr.Add("referenceId", "referenceId must not be blank")
	case len(*referenceID) > maxReferenceIDLength:
		verr.Add("referenceId", fmt.Sprintf("referenceId must be at most %d characters", maxReferenceIDLength))
	}
}

func validateAward(in AwardInput) error {
	verr := &apperror.ValidationError{}
	if msg := UserIDProblem(in.UserID); msg != "" {
		verr.Add("userId", msg)
	}
	if in.Amount <= 0 {
		verr.Add("amount", "amount must be greater than 0")
	}
	if !in.Source.Valid() {
		verr.Add("source", unknownSource(string(in.Source)))
	}
	if !in.Type.Valid() || in.Type == entity.TransactionSpent {
		verr.Add("type", fmt.Sprintf("transaction type %q cannot credit points", in.Type))
	}
	validateReference(verr, in.ReferenceID)
	return verr.OrNil()
}

func validateSpend(in SpendInput) error {
	verr := &apperror.ValidationError{}
	if msg := UserIDProblem(in.UserID); msg != "" {
		verr.Add("userId", msg)
	}
	if in.Amount <= 0 {
		verr.Add("amount", "amount must be greater than 0")
	}
	if !in.Source.Valid() {
		verr.Add("source", unknownSource(string(in.Source)))
	}
	validateReference(verr, in.ReferenceID)
	return verr.OrNil()
}
