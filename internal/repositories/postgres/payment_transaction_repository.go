package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mekongcart/api/internal/domain"
	"github.com/mekongcart/api/internal/repositories"
)

// PaymentTransactionRepository persists gateway payment attempts in Postgres.
type PaymentTransactionRepository struct {
	db *gorm.DB
}

// Insert stores a new payment attempt. The unique index on txn_ref turns a
// duplicate reference into a conflict error.
func (r *PaymentTransactionRepository) Insert(ctx context.Context, txn *domain.PaymentTransaction) error {
	if err := session(ctx, r.db).Create(txn).Error; err != nil {
		return wrapError("payment_transactions.insert", err)
	}
	return nil
}

// FindByTxnRef returns the transaction carrying the given gateway reference.
func (r *PaymentTransactionRepository) FindByTxnRef(ctx context.Context, txnRef string) (domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	err := session(ctx, r.db).Where("txn_ref = ?", txnRef).First(&txn).Error
	if err != nil {
		return domain.PaymentTransaction{}, wrapError("payment_transactions.find_by_txn_ref", err)
	}
	return txn, nil
}

// FindByTxnRefForUpdate locks the transaction row so concurrent gateway
// callbacks for the same reference serialise.
func (r *PaymentTransactionRepository) FindByTxnRefForUpdate(ctx context.Context, txnRef string) (domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	err := session(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("txn_ref = ?", txnRef).
		First(&txn).Error
	if err != nil {
		return domain.PaymentTransaction{}, wrapError("payment_transactions.find_by_txn_ref_for_update", err)
	}
	return txn, nil
}

// Update saves the mutable fields of a payment attempt.
func (r *PaymentTransactionRepository) Update(ctx context.Context, txn *domain.PaymentTransaction) error {
	if txn == nil || txn.ID == 0 {
		return repositories.NewError("payment_transactions.update", repositories.ErrorNotFound, gorm.ErrRecordNotFound)
	}
	if err := session(ctx, r.db).Save(txn).Error; err != nil {
		return wrapError("payment_transactions.update", err)
	}
	return nil
}
