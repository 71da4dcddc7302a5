package services

import (
	"context"

	"github.com/mekongcart/api/internal/domain"
	"github.com/mekongcart/api/internal/repositories"
	"gorm.io/datatypes"
)

// stubRegistry is an in-memory repositories.Registry. RunInTx snapshots the
// mutable state and restores it when fn fails, mirroring rollback semantics.
type stubRegistry struct {
	variants    map[uint]domain.ProductVariant
	cart        []domain.CartItem
	addresses   map[uint]domain.Address
	orders      map[uint]domain.Order
	nextOrderID uint
	txns        map[string]domain.PaymentTransaction
	nextTxnID   uint

	deletedVariants []uint
	failCartDelete  error
	lastListFilter  repositories.OrderListFilter
	listResult      []domain.Order
	listTotal       int64
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{
		variants:    make(map[uint]domain.ProductVariant),
		addresses:   make(map[uint]domain.Address),
		orders:      make(map[uint]domain.Order),
		nextOrderID: 1,
		txns:        make(map[string]domain.PaymentTransaction),
		nextTxnID:   1,
	}
}

type registrySnapshot struct {
	cart            []domain.CartItem
	orders          map[uint]domain.Order
	nextOrderID     uint
	txns            map[string]domain.PaymentTransaction
	nextTxnID       uint
	deletedVariants []uint
}

func (r *stubRegistry) snapshot() registrySnapshot {
	snap := registrySnapshot{
		cart:            append([]domain.CartItem(nil), r.cart...),
		orders:          make(map[uint]domain.Order, len(r.orders)),
		nextOrderID:     r.nextOrderID,
		txns:            make(map[string]domain.PaymentTransaction, len(r.txns)),
		nextTxnID:       r.nextTxnID,
		deletedVariants: append([]uint(nil), r.deletedVariants...),
	}
	for id, order := range r.orders {
		order.Items = append([]domain.OrderItem(nil), order.Items...)
		snap.orders[id] = order
	}
	for ref, txn := range r.txns {
		snap.txns[ref] = txn
	}
	return snap
}

func (r *stubRegistry) restore(snap registrySnapshot) {
	r.cart = snap.cart
	r.orders = snap.orders
	r.nextOrderID = snap.nextOrderID
	r.txns = snap.txns
	r.nextTxnID = snap.nextTxnID
	r.deletedVariants = snap.deletedVariants
}

func (r *stubRegistry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := r.snapshot()
	if err := fn(ctx); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *stubRegistry) Close(context.Context) error { return nil }

func (r *stubRegistry) Variants() repositories.VariantRepository { return stubVariantRepo{r} }
func (r *stubRegistry) Carts() repositories.CartRepository       { return stubCartRepo{r} }
func (r *stubRegistry) Addresses() repositories.AddressRepository {
	return stubAddressRepo{r}
}
func (r *stubRegistry) Orders() repositories.OrderRepository { return stubOrderRepo{r} }
func (r *stubRegistry) PaymentTransactions() repositories.PaymentTransactionRepository {
	return stubTxnRepo{r}
}
func (r *stubRegistry) Health() repositories.HealthRepository { return stubHealthRepo{} }

func notFound(op string) error {
	return repositories.NewError(op, repositories.ErrorNotFound, nil)
}

type stubVariantRepo struct{ r *stubRegistry }

func (s stubVariantRepo) FindByIDs(_ context.Context, ids []uint) ([]domain.ProductVariant, error) {
	found := make([]domain.ProductVariant, 0, len(ids))
	for _, id := range ids {
		if v, ok := s.r.variants[id]; ok {
			found = append(found, v)
		}
	}
	return found, nil
}

func (s stubVariantRepo) FindByIDsForUpdate(ctx context.Context, ids []uint) ([]domain.ProductVariant, error) {
	return s.FindByIDs(ctx, ids)
}

type stubCartRepo struct{ r *stubRegistry }

func (s stubCartRepo) ListByUser(_ context.Context, userID uint) ([]domain.CartItem, error) {
	var items []domain.CartItem
	for _, ci := range s.r.cart {
		if ci.UserID == userID {
			items = append(items, ci)
		}
	}
	return items, nil
}

func (s stubCartRepo) ListByUserForUpdate(ctx context.Context, userID uint) ([]domain.CartItem, error) {
	return s.ListByUser(ctx, userID)
}

func (s stubCartRepo) DeleteByUserAndVariants(_ context.Context, userID uint, variantIDs []uint) error {
	if s.r.failCartDelete != nil {
		return s.r.failCartDelete
	}
	drop := make(map[uint]bool, len(variantIDs))
	for _, id := range variantIDs {
		drop[id] = true
	}
	kept := s.r.cart[:0]
	for _, ci := range s.r.cart {
		if ci.UserID == userID && drop[ci.VariantID] {
			s.r.deletedVariants = append(s.r.deletedVariants, ci.VariantID)
			continue
		}
		kept = append(kept, ci)
	}
	s.r.cart = kept
	return nil
}

type stubAddressRepo struct{ r *stubRegistry }

func (s stubAddressRepo) FindByID(_ context.Context, id uint) (domain.Address, error) {
	addr, ok := s.r.addresses[id]
	if !ok {
		return domain.Address{}, notFound("stub: find address")
	}
	return addr, nil
}

func (s stubAddressRepo) FindByIDForUpdate(ctx context.Context, id uint) (domain.Address, error) {
	return s.FindByID(ctx, id)
}

type stubOrderRepo struct{ r *stubRegistry }

func (s stubOrderRepo) Insert(_ context.Context, order *domain.Order) error {
	order.ID = s.r.nextOrderID
	s.r.nextOrderID++
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}
	stored := *order
	stored.Items = append([]domain.OrderItem(nil), order.Items...)
	s.r.orders[order.ID] = stored
	return nil
}

func (s stubOrderRepo) FindByID(_ context.Context, id uint) (domain.Order, error) {
	order, ok := s.r.orders[id]
	if !ok {
		return domain.Order{}, notFound("stub: find order")
	}
	return order, nil
}

func (s stubOrderRepo) FindByIDForUpdate(ctx context.Context, id uint) (domain.Order, error) {
	return s.FindByID(ctx, id)
}

func (s stubOrderRepo) UpdateStatuses(_ context.Context, order domain.Order) error {
	stored, ok := s.r.orders[order.ID]
	if !ok {
		return notFound("stub: update order statuses")
	}
	stored.Status = order.Status
	stored.PaymentStatus = order.PaymentStatus
	stored.PaidAt = order.PaidAt
	s.r.orders[order.ID] = stored
	return nil
}

func (s stubOrderRepo) UpdateInstructions(_ context.Context, id uint, snapshot []byte) error {
	stored, ok := s.r.orders[id]
	if !ok {
		return notFound("stub: update order instructions")
	}
	stored.PaymentInstructionsSnapshot = datatypes.JSON(snapshot)
	s.r.orders[id] = stored
	return nil
}

func (s stubOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, int64, error) {
	s.r.lastListFilter = filter
	return s.r.listResult, s.r.listTotal, nil
}

type stubTxnRepo struct{ r *stubRegistry }

func (s stubTxnRepo) Insert(_ context.Context, txn *domain.PaymentTransaction) error {
	txn.ID = s.r.nextTxnID
	s.r.nextTxnID++
	s.r.txns[txn.TxnRef] = *txn
	return nil
}

func (s stubTxnRepo) FindByTxnRef(_ context.Context, txnRef string) (domain.PaymentTransaction, error) {
	txn, ok := s.r.txns[txnRef]
	if !ok {
		return domain.PaymentTransaction{}, notFound("stub: find payment transaction")
	}
	return txn, nil
}

func (s stubTxnRepo) FindByTxnRefForUpdate(ctx context.Context, txnRef string) (domain.PaymentTransaction, error) {
	return s.FindByTxnRef(ctx, txnRef)
}

func (s stubTxnRepo) Update(_ context.Context, txn *domain.PaymentTransaction) error {
	if _, ok := s.r.txns[txn.TxnRef]; !ok {
		return notFound("stub: update payment transaction")
	}
	s.r.txns[txn.TxnRef] = *txn
	return nil
}

type stubHealthRepo struct{}

func (stubHealthRepo) Ping(context.Context) error { return nil }

// recordingPublisher captures published order events for assertions.
type recordingPublisher struct {
	messages []OrderEventMessage
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, message OrderEventMessage) (string, error) {
	p.messages = append(p.messages, message)
	return "stub-event-id", nil
}
