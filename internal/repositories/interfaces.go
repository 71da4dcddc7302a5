package repositories

import (
	"context"

	"github.com/mekongcart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Variants() VariantRepository
	Carts() CartRepository
	Addresses() AddressRepository
	Orders() OrderRepository
	PaymentTransactions() PaymentTransactionRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary.
// Repository calls made with the context passed to fn run inside the same
// database transaction; returning an error rolls everything back.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// VariantRepository reads catalogue variants used to price carts.
type VariantRepository interface {
	FindByIDs(ctx context.Context, ids []uint) ([]domain.ProductVariant, error)
	// FindByIDsForUpdate acquires row locks on the returned variants and must
	// run inside a unit of work.
	FindByIDsForUpdate(ctx context.Context, ids []uint) ([]domain.ProductVariant, error)
}

// CartRepository owns cart line persistence for a user.
type CartRepository interface {
	ListByUser(ctx context.Context, userID uint) ([]domain.CartItem, error)
	// ListByUserForUpdate acquires row locks on the returned cart lines and
	// must run inside a unit of work.
	ListByUserForUpdate(ctx context.Context, userID uint) ([]domain.CartItem, error)
	DeleteByUserAndVariants(ctx context.Context, userID uint, variantIDs []uint) error
}

// AddressRepository reads stored shipping addresses.
type AddressRepository interface {
	FindByID(ctx context.Context, id uint) (domain.Address, error)
	FindByIDForUpdate(ctx context.Context, id uint) (domain.Address, error)
}

// OrderListFilter narrows and pages admin order listings.
type OrderListFilter struct {
	Status        *domain.OrderStatus
	PaymentStatus *domain.PaymentStatus
	UserID        *uint
	Offset        int
	Limit         int
}

// OrderRepository persists orders together with their immutable receipt lines.
type OrderRepository interface {
	Insert(ctx context.Context, order *domain.Order) error
	FindByID(ctx context.Context, id uint) (domain.Order, error)
	// FindByIDForUpdate acquires a row lock on the order and must run inside
	// a unit of work.
	FindByIDForUpdate(ctx context.Context, id uint) (domain.Order, error)
	UpdateStatuses(ctx context.Context, order domain.Order) error
	// UpdateInstructions writes the opaque payment instructions document.
	// Bank transfer notes embed the order id, so they are written after insert.
	UpdateInstructions(ctx context.Context, id uint, snapshot []byte) error
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, int64, error)
}

// PaymentTransactionRepository persists gateway payment attempts keyed by transaction reference.
type PaymentTransactionRepository interface {
	Insert(ctx context.Context, txn *domain.PaymentTransaction) error
	FindByTxnRef(ctx context.Context, txnRef string) (domain.PaymentTransaction, error)
	// FindByTxnRefForUpdate acquires a row lock on the transaction and must
	// run inside a unit of work.
	FindByTxnRefForUpdate(ctx context.Context, txnRef string) (domain.PaymentTransaction, error)
	Update(ctx context.Context, txn *domain.PaymentTransaction) error
}

// HealthRepository verifies datastore connectivity for readiness probes.
type HealthRepository interface {
	Ping(ctx context.Context) error
}
