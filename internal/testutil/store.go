// Package testutil provides an in-memory, transactional implementation of
// the service store interfaces so business logic can be tested without a
// database. Transactions are serializable: Begin takes the store lock,
// Commit releases it, Rollback restores the pre-transaction snapshot.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/oakmart/storefront/internal/domain"
	"github.com/oakmart/storefront/internal/repository"
)

type MemStore struct {
	mu sync.Mutex

	users       map[int64]domain.User
	addresses   map[int64]domain.Address
	products    map[int64]domain.Product
	variants    map[int64]domain.ProductVariant
	coupons     map[int64]domain.Coupon
	redemptions map[int64]domain.CouponRedemption
	orders      map[int64]domain.Order
	orderItems  []domain.OrderItem
	nextID      int64

	// FailOrderItems makes every InsertOrderItem fail, to exercise rollback
	// paths.
	FailOrderItems bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		users:       make(map[int64]domain.User),
		addresses:   make(map[int64]domain.Address),
		products:    make(map[int64]domain.Product),
		variants:    make(map[int64]domain.ProductVariant),
		coupons:     make(map[int64]domain.Coupon),
		redemptions: make(map[int64]domain.CouponRedemption),
		orders:      make(map[int64]domain.Order),
		nextID:      1,
	}
}

// --- seeding helpers -------------------------------------------------------

func (m *MemStore) AddUser(id int64) {
	m.users[id] = domain.User{ID: id, Email: "user@example.com", CreatedAt: time.Now()}
}

func (m *MemStore) AddAddress(id, userID int64) {
	m.addresses[id] = domain.Address{ID: id, UserID: userID, Line1: "1 Main St"}
}

func (m *MemStore) AddProduct(productID int64, stock int64) {
	m.products[productID] = domain.Product{ID: productID, Name: "product", Stock: stock}
}

func (m *MemStore) AddVariant(variantID, productID int64, price decimal.Decimal, stock int64) {
	m.variants[variantID] = domain.ProductVariant{
		ID:        variantID,
		ProductID: productID,
		SKU:       "sku",
		Price:     price,
		Stock:     stock,
	}
}

func (m *MemStore) AddCoupon(c domain.Coupon) int64 {
	id := m.nextID
	m.nextID++
	c.ID = id
	m.coupons[id] = c
	return id
}

func (m *MemStore) VariantStock(variantID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.variants[variantID].Stock
}

func (m *MemStore) ProductStock(productID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[productID].Stock
}

func (m *MemStore) CouponUsedCount(couponID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coupons[couponID].UsedCount
}

func (m *MemStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *MemStore) OrderItemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orderItems)
}

func (m *MemStore) RedemptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redemptions)
}

// --- transactions ----------------------------------------------------------

type snapshot struct {
	products    map[int64]domain.Product
	variants    map[int64]domain.ProductVariant
	coupons     map[int64]domain.Coupon
	redemptions map[int64]domain.CouponRedemption
	orders      map[int64]domain.Order
	orderItems  []domain.OrderItem
	nextID      int64
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// MemTx holds the store lock from Begin until Commit or Rollback.
type MemTx struct {
	pgx.Tx
	store *MemStore
	snap  snapshot
	done  bool
}

func (m *MemStore) Begin(_ context.Context) (pgx.Tx, error) {
	m.mu.Lock()
	return &MemTx{
		store: m,
		snap: snapshot{
			products:    cloneMap(m.products),
			variants:    cloneMap(m.variants),
			coupons:     cloneMap(m.coupons),
			redemptions: cloneMap(m.redemptions),
			orders:      cloneMap(m.orders),
			orderItems:  append([]domain.OrderItem(nil), m.orderItems...),
			nextID:      m.nextID,
		},
	}, nil
}

func (tx *MemTx) Commit(_ context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	tx.store.mu.Unlock()
	return nil
}

func (tx *MemTx) Rollback(_ context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	s := tx.store
	s.products = tx.snap.products
	s.variants = tx.snap.variants
	s.coupons = tx.snap.coupons
	s.redemptions = tx.snap.redemptions
	s.orders = tx.snap.orders
	s.orderItems = tx.snap.orderItems
	s.nextID = tx.snap.nextID
	s.mu.Unlock()
	return nil
}

// withLock runs fn under the store lock unless q already is an open
// transaction holding it.
func (m *MemStore) withLock(q repository.Querier, fn func()) {
	if _, inTx := q.(*MemTx); !inTx {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	fn()
}

// Raw SQL is never issued against the in-memory store.

func (m *MemStore) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("raw SQL not supported by MemStore")
}

func (m *MemStore) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("raw SQL not supported by MemStore")
}

func (m *MemStore) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("raw SQL not supported by MemStore")
}

// --- service.StockStore ----------------------------------------------------

func (m *MemStore) VariantsForUpdate(_ context.Context, q repository.Querier, variantIDs []int64) (map[int64]domain.LockedVariant, error) {
	out := make(map[int64]domain.LockedVariant, len(variantIDs))
	m.withLock(q, func() {
		for _, id := range variantIDs {
			if v, ok := m.variants[id]; ok {
				out[id] = domain.LockedVariant{ID: v.ID, ProductID: v.ProductID, Price: v.Price, Stock: v.Stock}
			}
		}
	})
	return out, nil
}

func (m *MemStore) DecrementVariantStock(_ context.Context, q repository.Querier, variantID, qty int64) (ok bool, err error) {
	m.withLock(q, func() {
		v, found := m.variants[variantID]
		if !found || v.Stock < qty {
			return
		}
		v.Stock -= qty
		m.variants[variantID] = v
		ok = true
	})
	return ok, nil
}

func (m *MemStore) DecrementProductStock(_ context.Context, q repository.Querier, productID, qty int64) (ok bool, err error) {
	m.withLock(q, func() {
		p, found := m.products[productID]
		if !found || p.Stock < qty {
			return
		}
		p.Stock -= qty
		m.products[productID] = p
		ok = true
	})
	return ok, nil
}

func (m *MemStore) IncrementVariantStock(_ context.Context, q repository.Querier, variantID, qty int64) error {
	m.withLock(q, func() {
		v := m.variants[variantID]
		v.Stock += qty
		m.variants[variantID] = v
	})
	return nil
}

func (m *MemStore) IncrementProductStock(_ context.Context, q repository.Querier, productID, qty int64) error {
	m.withLock(q, func() {
		p := m.products[productID]
		p.Stock += qty
		m.products[productID] = p
	})
	return nil
}

// --- service.OrderStore ----------------------------------------------------

func (m *MemStore) GetUser(_ context.Context, q repository.Querier, id int64) (*domain.User, error) {
	var u *domain.User
	m.withLock(q, func() {
		if found, ok := m.users[id]; ok {
			u = &found
		}
	})
	if u == nil {
		return nil, domain.ErrUserNotFound
	}
	return u, nil
}

func (m *MemStore) GetAddress(_ context.Context, q repository.Querier, id, userID int64) (*domain.Address, error) {
	var a *domain.Address
	m.withLock(q, func() {
		if found, ok := m.addresses[id]; ok && found.UserID == userID {
			a = &found
		}
	})
	if a == nil {
		return nil, domain.ErrAddressNotFound
	}
	return a, nil
}

func (m *MemStore) InsertOrder(_ context.Context, q repository.Querier, o *domain.Order) error {
	m.withLock(q, func() {
		o.ID = m.nextID
		m.nextID++
		o.CreatedAt = time.Now()
		o.UpdatedAt = o.CreatedAt
		stored := *o
		stored.Items = nil
		m.orders[o.ID] = stored
	})
	return nil
}

func (m *MemStore) InsertOrderItem(_ context.Context, q repository.Querier, it *domain.OrderItem) error {
	if m.FailOrderItems {
		return errors.New("induced order item failure")
	}
	m.withLock(q, func() {
		it.ID = m.nextID
		m.nextID++
		m.orderItems = append(m.orderItems, *it)
	})
	return nil
}

func (m *MemStore) GetOrderByNumber(_ context.Context, q repository.Querier, orderNumber string) (*domain.Order, error) {
	var out *domain.Order
	m.withLock(q, func() {
		for _, o := range m.orders {
			if o.OrderNumber == orderNumber {
				found := o
				out = &found
				return
			}
		}
	})
	if out == nil {
		return nil, domain.ErrOrderNotFound
	}
	return out, nil
}

func (m *MemStore) ListOrderItems(_ context.Context, q repository.Querier, orderID int64) ([]domain.OrderItem, error) {
	var items []domain.OrderItem
	m.withLock(q, func() {
		for _, it := range m.orderItems {
			if it.OrderID == orderID {
				items = append(items, it)
			}
		}
	})
	return items, nil
}

// --- service.CouponStore ---------------------------------------------------

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
}

func (m *MemStore) findCouponByCode(code string) (domain.Coupon, bool) {
	for _, c := range m.coupons {
		if c.Code == code {
			return c, true
		}
	}
	return domain.Coupon{}, false
}

func (m *MemStore) GetCouponByCode(_ context.Context, q repository.Querier, code string) (*domain.Coupon, error) {
	var out *domain.Coupon
	m.withLock(q, func() {
		if c, ok := m.findCouponByCode(code); ok {
			out = &c
		}
	})
	if out == nil {
		return nil, domain.ErrCouponNotFound
	}
	return out, nil
}

func (m *MemStore) LockCouponByCode(ctx context.Context, q repository.Querier, code string) (*domain.Coupon, error) {
	return m.GetCouponByCode(ctx, q, code)
}

func (m *MemStore) InsertCoupon(_ context.Context, q repository.Querier, c *domain.Coupon) (err error) {
	m.withLock(q, func() {
		if _, exists := m.findCouponByCode(c.Code); exists {
			err = uniqueViolation()
			return
		}
		c.ID = m.nextID
		m.nextID++
		c.CreatedAt = time.Now()
		c.UpdatedAt = c.CreatedAt
		m.coupons[c.ID] = *c
	})
	return err
}

func (m *MemStore) IncrementUsedCount(_ context.Context, q repository.Querier, couponID int64) error {
	m.withLock(q, func() {
		c := m.coupons[couponID]
		c.UsedCount++
		m.coupons[couponID] = c
	})
	return nil
}

func (m *MemStore) DecrementUsedCount(_ context.Context, q repository.Querier, couponID int64) error {
	m.withLock(q, func() {
		c := m.coupons[couponID]
		if c.UsedCount > 0 {
			c.UsedCount--
			m.coupons[couponID] = c
		}
	})
	return nil
}

func (m *MemStore) CountUserRedemptions(_ context.Context, q repository.Querier, couponID, userID int64) (int, error) {
	n := 0
	m.withLock(q, func() {
		for _, r := range m.redemptions {
			if r.CouponID == couponID && r.UserID == userID {
				n++
			}
		}
	})
	return n, nil
}

func (m *MemStore) InsertRedemption(_ context.Context, q repository.Querier, r *domain.CouponRedemption) (err error) {
	m.withLock(q, func() {
		for _, existing := range m.redemptions {
			if existing.CouponID == r.CouponID && existing.UserID == r.UserID && existing.OrderID == r.OrderID {
				err = uniqueViolation()
				return
			}
		}
		r.ID = m.nextID
		m.nextID++
		r.RedeemedAt = time.Now()
		m.redemptions[r.ID] = *r
	})
	return err
}

func (m *MemStore) LockRedemptionByID(_ context.Context, q repository.Querier, id int64) (*domain.CouponRedemption, error) {
	var out *domain.CouponRedemption
	m.withLock(q, func() {
		if r, ok := m.redemptions[id]; ok {
			out = &r
		}
	})
	if out == nil {
		return nil, domain.ErrRedemptionNotFound
	}
	return out, nil
}

func (m *MemStore) LockRedemptionByUserOrder(_ context.Context, q repository.Querier, couponID, userID, orderID int64) (*domain.CouponRedemption, error) {
	var out *domain.CouponRedemption
	m.withLock(q, func() {
		for _, r := range m.redemptions {
			if r.CouponID == couponID && r.UserID == userID && r.OrderID == orderID {
				found := r
				out = &found
				return
			}
		}
	})
	if out == nil {
		return nil, domain.ErrRedemptionNotFound
	}
	return out, nil
}

func (m *MemStore) DeleteRedemption(_ context.Context, q repository.Querier, id int64) (bool, error) {
	deleted := false
	m.withLock(q, func() {
		if _, ok := m.redemptions[id]; ok {
			delete(m.redemptions, id)
			deleted = true
		}
	})
	return deleted, nil
}
