package service

import (
	"context"
	"time"

	"anoa.com/refurnish/internal/entity"
	"anoa.com/refurnish/internal/metrics"
	pointsDto "anoa.com/refurnish/internal/modules/points/dto"
	"anoa.com/refurnish/pkg/apperror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reconcile recomputes every account from its active ledger rows and rewrites
// aggregates that drifted. Each account is fixed in its own transaction.
func (s *pointsService) Reconcile(ctx context.Context) (*pointsDto.ReconcileReport, error) {
	report := &pointsDto.ReconcileReport{StartedAt: time.Now().UTC()}

	listCtx, cancel := s.storeContext(ctx)
	userIDs, err := s.repo.LedgerUserIDs(listCtx)
	cancel()
	if err != nil {
		return nil, apperror.Storage("reconcile: list accounts", err)
	}

	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return report, apperror.Storage("reconcile", err)
		}

		fixed, err := s.reconcileAccount(ctx, userID)
		if err != nil {
			return report, apperror.Storage("reconcile account "+userID, err)
		}
		report.AccountsChecked++
		if fixed {
			report.AccountsFixed++
			report.FixedUserIDs = append(report.FixedUserIDs, userID)
		}
	}

	report.FinishedAt = time.Now().UTC()
	s.log.Info("reconciliation finished",
		zap.Int("accounts_checked", report.AccountsChecked),
		zap.Int("accounts_fixed", report.AccountsFixed),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (s *pointsService) reconcileAccount(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	var fixed bool
	err := s.tx.Do(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if err := repo.EnsureAccount(ctx, userID); err != nil {
			return err
		}
		// Holding the row lock makes concurrent awards queue behind the rewrite.
		if err := repo.LockAccount(ctx, userID); err != nil {
			return err
		}

		totals, err := repo.SumLedger(ctx, userID)
		if err != nil {
			return err
		}
		account, err := repo.FindAccount(ctx, userID)
		if err != nil {
			return err
		}
		stored, err := repo.FindStats(ctx, userID)
		if err != nil {
			return err
		}
		expected, err := repo.SumLedgerStats(ctx, userID)
		if err != nil {
			return err
		}

		level := LevelFor(totals.Lifetime)
		if account.TotalPoints == totals.Total &&
			account.LifetimePoints == totals.Lifetime &&
			account.Level == level &&
			sameCounters(stored, expected) {
			return nil
		}

		s.log.Warn("consistency warning: account drifted from ledger",
			zap.String("user_id", userID),
			zap.Int64("stored_total", account.TotalPoints),
			zap.Int64("ledger_total", totals.Total),
			zap.Int64("stored_lifetime", account.LifetimePoints),
			zap.Int64("ledger_lifetime", totals.Lifetime),
			zap.Int("stored_level", account.Level),
			zap.Int("ledger_level", level),
		)

		if err := repo.OverwriteAccount(ctx, userID, totals, level); err != nil {
			return err
		}
		if err := repo.ReplaceStats(ctx, userID, expected); err != nil {
			return err
		}
		fixed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if fixed {
		metrics.ReconcileDrift.Inc()
	}
	return fixed, nil
}

// sameCounters compares two counter sets, ignoring empty rows left by deactivations.
func sameCounters(a, b []entity.PointsStatCounter) bool {
	type key struct{ dim, stat string }
	index := func(cs []entity.PointsStatCounter) map[key]entity.PointsStatCounter {
		m := make(map[key]entity.PointsStatCounter, len(cs))
		for _, c := range cs {
			if c.Points == 0 && c.Entries == 0 {
				continue
			}
			m[key{c.Dimension, c.StatKey}] = c
		}
		return m
	}

	left, right := index(a), index(b)
	if len(left) != len(right) {
		return false
	}
	for k, l := range left {
		r, ok := right[k]
		if !ok || l.Points != r.Points || l.Entries != r.Entries {
			return false
		}
	}
	return true
}
