package database

import (
	"context"

	"gorm.io/gorm"
)

// Transactor runs fn inside one database transaction, committing when fn returns nil.
type Transactor interface {
	Do(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type TxManager struct {
	db *gorm.DB
}

func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

func (m *TxManager) Do(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return m.db.WithContext(ctx).Transaction(fn)
}

var _ Transactor = (*TxManager)(nil)
