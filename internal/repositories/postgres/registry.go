package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/mekongcart/api/internal/repositories"
)

type txContextKey struct{}

// Registry wires every Postgres-backed repository over a shared GORM handle.
type Registry struct {
	db *gorm.DB

	variants  *VariantRepository
	carts     *CartRepository
	addresses *AddressRepository
	orders    *OrderRepository
	payments  *PaymentTransactionRepository
	health    *HealthRepository
}

// NewRegistry constructs the repository registry over the supplied database handle.
func NewRegistry(db *gorm.DB) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres registry: db is required")
	}
	return &Registry{
		db:        db,
		variants:  &VariantRepository{db: db},
		carts:     &CartRepository{db: db},
		addresses: &AddressRepository{db: db},
		orders:    &OrderRepository{db: db},
		payments:  &PaymentTransactionRepository{db: db},
		health:    &HealthRepository{db: db},
	}, nil
}

// Close releases the underlying connection pool.
func (r *Registry) Close(context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("postgres registry: unwrap sql db: %w", err)
	}
	return sqlDB.Close()
}

// Variants implements repositories.Registry.
func (r *Registry) Variants() repositories.VariantRepository { return r.variants }

// Carts implements repositories.Registry.
func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// Addresses implements repositories.Registry.
func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }

// Orders implements repositories.Registry.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// PaymentTransactions implements repositories.Registry.
func (r *Registry) PaymentTransactions() repositories.PaymentTransactionRepository {
	return r.payments
}

// Health implements repositories.Registry.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a single database transaction. Repository calls
// made with the context passed to fn join that transaction; nested calls reuse
// the transaction already carried by the context.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("postgres registry: fn is required")
	}
	if tx := txFromContext(ctx); tx != nil {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txContextKey{}, tx))
	})
}

func txFromContext(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txContextKey{}).(*gorm.DB)
	return tx
}

// session returns the transaction bound to ctx when present, otherwise the
// base handle scoped to ctx.
func session(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx := txFromContext(ctx); tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

const uniqueViolationCode = "23505"

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	code := repositories.ErrorUnknown
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		code = repositories.ErrorNotFound
	case isUniqueViolation(err):
		code = repositories.ErrorConflict
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		code = repositories.ErrorUnavailable
	}
	return repositories.NewError(op, code, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
