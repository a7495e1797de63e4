// Package servicetest provides an in-memory unit of work for tests. It
// serialises transactions with one mutex and restores the previous state when
// a transaction function fails.
package servicetest

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/xenking/teamcart/internal/domain/coupon"
	"github.com/xenking/teamcart/internal/domain/menu"
	"github.com/xenking/teamcart/internal/domain/order"
	"github.com/xenking/teamcart/internal/domain/teamcart"
	"github.com/xenking/teamcart/internal/outbox"
	"github.com/xenking/teamcart/internal/service"
)

// DB is an in-memory store implementing service.UnitOfWork.
type DB struct {
	mu       sync.Mutex
	carts    map[teamcart.CartID]teamcart.Snapshot
	coupons  map[coupon.ID]coupon.Rule
	userUses map[string]int
	orders   map[order.ID]*order.Order
	outbox   []outbox.Message
	ledger   map[string]string
	commits  int
}

var _ service.UnitOfWork = (*DB)(nil)

// New returns an empty DB.
func New() *DB {
	return &DB{
		carts:    map[teamcart.CartID]teamcart.Snapshot{},
		coupons:  map[coupon.ID]coupon.Rule{},
		userUses: map[string]int{},
		orders:   map[order.ID]*order.Order{},
		ledger:   map[string]string{},
	}
}

type state struct {
	carts    map[teamcart.CartID]teamcart.Snapshot
	coupons  map[coupon.ID]coupon.Rule
	userUses map[string]int
	orders   map[order.ID]*order.Order
	outbox   int
	ledger   map[string]string
}

func (db *DB) save() state {
	return state{
		carts:    maps.Clone(db.carts),
		coupons:  maps.Clone(db.coupons),
		userUses: maps.Clone(db.userUses),
		orders:   maps.Clone(db.orders),
		outbox:   len(db.outbox),
		ledger:   maps.Clone(db.ledger),
	}
}

func (db *DB) restore(s state) {
	db.carts = s.carts
	db.coupons = s.coupons
	db.userUses = s.userUses
	db.orders = s.orders
	db.outbox = db.outbox[:s.outbox]
	db.ledger = s.ledger
}

// Do implements service.UnitOfWork.
func (db *DB) Do(ctx context.Context, fn func(ctx context.Context, tx service.Repositories) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	saved := db.save()
	if err := fn(ctx, tx{db}); err != nil {
		db.restore(saved)
		return err
	}
	db.commits++
	return nil
}

// AddCoupon stores rule.
func (db *DB) AddCoupon(rule coupon.Rule) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.coupons[rule.ID] = rule
}

// Coupon returns the stored rule.
func (db *DB) Coupon(id coupon.ID) coupon.Rule {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.coupons[id]
}

// CouponRepository returns a coupon.Repository over db. It does not lock and
// must only be used inside Do, which is how the services call it.
func (db *DB) CouponRepository() coupon.Repository {
	return coupons{db}
}

// Cart returns the committed snapshot of a cart.
func (db *DB) Cart(id teamcart.CartID) (teamcart.Snapshot, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.carts[id]
	return s, ok
}

// PutCart stores a cart directly, bypassing events.
func (db *DB) PutCart(c *teamcart.TeamCart) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.carts[c.ID()] = c.Snapshot()
}

// Orders returns all committed orders.
func (db *DB) Orders() []*order.Order {
	db.mu.Lock()
	defer db.mu.Unlock()
	return slices.Collect(maps.Values(db.orders))
}

// Events returns the committed outbox event types in order.
func (db *DB) Events() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, len(db.outbox))
	for i, m := range db.outbox {
		out[i] = m.EventType
	}
	return out
}

// Processed reports whether a gateway event id was recorded.
func (db *DB) Processed(eventID string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.ledger[eventID]
	return ok
}

// Commits returns how many transactions committed.
func (db *DB) Commits() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.commits
}

type tx struct{ db *DB }

func (t tx) TeamCarts() service.TeamCartRepository { return carts(t) }
func (t tx) Coupons() coupon.Repository            { return coupons(t) }
func (t tx) Orders() order.Repository              { return orders(t) }
func (t tx) Outbox() outbox.Writer                 { return outboxWriter(t) }
func (t tx) Ledger() service.Ledger                { return ledger(t) }

type carts struct{ db *DB }

func (r carts) Get(_ context.Context, id teamcart.CartID) (*teamcart.TeamCart, error) {
	s, ok := r.db.carts[id]
	if !ok {
		return nil, teamcart.ErrNotFound
	}
	return teamcart.Restore(s), nil
}

func (r carts) GetForUpdate(ctx context.Context, id teamcart.CartID) (*teamcart.TeamCart, error) {
	return r.Get(ctx, id)
}

func (r carts) Create(_ context.Context, c *teamcart.TeamCart) error {
	r.db.carts[c.ID()] = c.Snapshot()
	return nil
}

func (r carts) Update(_ context.Context, c *teamcart.TeamCart) error {
	if _, ok := r.db.carts[c.ID()]; !ok {
		return teamcart.ErrNotFound
	}
	r.db.carts[c.ID()] = c.Snapshot()
	return nil
}

func (r carts) ListExpired(_ context.Context, now time.Time, limit int) ([]teamcart.CartID, error) {
	var ids []teamcart.CartID
	for id, s := range r.db.carts {
		if s.Status.Terminal() || s.Deadline == nil || now.Before(*s.Deadline) {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type coupons struct{ db *DB }

func (r coupons) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	for _, rule := range r.db.coupons {
		if rule.Code == code {
			return &rule, nil
		}
	}
	return nil, coupon.ErrInvalidCoupon
}

func (r coupons) FindByID(_ context.Context, id coupon.ID) (*coupon.Rule, error) {
	rule, ok := r.db.coupons[id]
	if !ok {
		return nil, coupon.ErrInvalidCoupon
	}
	return &rule, nil
}

func (r coupons) FinalizeUsage(_ context.Context, id coupon.ID, userID string, perUserLimit int) (bool, error) {
	rule, ok := r.db.coupons[id]
	if !ok {
		return false, coupon.ErrInvalidCoupon
	}
	key := string(id) + "|" + userID
	if perUserLimit > 0 && r.db.userUses[key] >= perUserLimit {
		return false, nil
	}
	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		return false, nil
	}
	rule.Uses++
	r.db.coupons[id] = rule
	r.db.userUses[key]++
	return true, nil
}

type orders struct{ db *DB }

func (r orders) Create(_ context.Context, o *order.Order) error {
	r.db.orders[o.ID] = o
	return nil
}

func (r orders) GetByID(_ context.Context, id order.ID) (*order.Order, error) {
	o, ok := r.db.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

type outboxWriter struct{ db *DB }

func (w outboxWriter) Append(_ context.Context, msgs ...outbox.Message) error {
	w.db.outbox = append(w.db.outbox, msgs...)
	return nil
}

type ledger struct{ db *DB }

func (l ledger) MarkProcessed(_ context.Context, eventID, eventType string) (bool, error) {
	if _, ok := l.db.ledger[eventID]; ok {
		return false, nil
	}
	l.db.ledger[eventID] = eventType
	return true, nil
}

// Menu is an in-memory menu.Repository.
type Menu map[string]*menu.Item

// GetByID implements menu.Repository.
func (m Menu) GetByID(_ context.Context, id string) (*menu.Item, error) {
	it, ok := m[id]
	if !ok {
		return nil, menu.ErrNotFound
	}
	return it, nil
}
