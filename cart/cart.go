package cart

import (
	"math"
	"sync"
	"time"
)

// MaxQuantity caps the quantity of a single line.
const MaxQuantity = math.MaxInt32

// ProductRef is the part of a product the cart needs. Price is in the
// smallest currency unit; zero means unknown.
type ProductRef struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Image string `json:"image,omitempty"`
}

// Item is one cart line. Quantity is always in [1, MaxQuantity].
type Item struct {
	Product  ProductRef `json:"product"`
	Quantity int        `json:"quantity"`
}

// Snapshot is a copy of the cart state.
type Snapshot struct {
	Items      []Item `json:"items"`
	IsOpen     bool   `json:"isOpen"`
	TotalItems int    `json:"totalItems"`
	TotalPrice int64  `json:"totalPrice"`
}

// Option configures a [Store].
type Option func(*Store)

// WithOpenOnAdd controls whether AddToCart opens the cart. Defaults to true.
func WithOpenOnAdd(open bool) Option {
	return func(s *Store) {
		s.openOnAdd = open
	}
}

// Store is safe for concurrent use. Mutations apply in call order.
type Store struct {
	mu        sync.RWMutex
	items     []Item
	isOpen    bool
	openOnAdd bool

	subMu   sync.Mutex
	subs    map[uint64]func(Snapshot)
	nextSub uint64
}

func New(opts ...Option) *Store {
	s := &Store{
		openOnAdd: true,
		subs:      make(map[uint64]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) indexOf(productID int64) int {
	for i := range s.items {
		if s.items[i].Product.ID == productID {
			return i
		}
	}
	return -1
}

// AddToCart merges quantity onto the existing line for p.ID, keeping its
// position, or appends a new line. A quantity below 1 adds one; the merged
// quantity saturates at [MaxQuantity]. The cart is opened unless disabled
// with [WithOpenOnAdd].
func (s *Store) AddToCart(p ProductRef, quantity int) {
	quantity = clampQuantity(quantity)

	s.mu.Lock()
	if i := s.indexOf(p.ID); i >= 0 {
		if quantity > MaxQuantity-s.items[i].Quantity {
			s.items[i].Quantity = MaxQuantity
		} else {
			s.items[i].Quantity += quantity
		}
	} else {
		s.items = append(s.items, Item{Product: p, Quantity: quantity})
	}
	if s.openOnAdd {
		s.isOpen = true
	}
	s.mu.Unlock()

	s.notify()
}

// RemoveFromCart deletes the line for productID. Unknown ids are ignored.
func (s *Store) RemoveFromCart(productID int64) {
	s.mu.Lock()
	removed := s.removeLocked(productID)
	s.mu.Unlock()

	if removed {
		s.notify()
	}
}

func (s *Store) removeLocked(productID int64) bool {
	i := s.indexOf(productID)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

// UpdateQuantity sets the quantity of the line for productID in place. A
// quantity <= 0 removes the line. Unknown ids are ignored.
func (s *Store) UpdateQuantity(productID int64, quantity int) {
	if quantity > MaxQuantity {
		quantity = MaxQuantity
	}

	s.mu.Lock()
	changed := false
	if quantity <= 0 {
		changed = s.removeLocked(productID)
	} else if i := s.indexOf(productID); i >= 0 && s.items[i].Quantity != quantity {
		s.items[i].Quantity = quantity
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// ClearCart empties the cart. Visibility is unchanged.
func (s *Store) ClearCart() {
	s.mu.Lock()
	changed := len(s.items) > 0
	s.items = nil
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

func (s *Store) OpenCart() {
	s.setOpen(true)
}

func (s *Store) CloseCart() {
	s.setOpen(false)
}

func (s *Store) setOpen(open bool) {
	s.mu.Lock()
	changed := s.isOpen != open
	s.isOpen = open
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

func (s *Store) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOpen
}

// Items returns a copy of the lines in display order.
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyItemsLocked()
}

func (s *Store) copyItemsLocked() []Item {
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// TotalPrice is the sum of price times quantity. Unknown or negative prices
// count as zero, so the total is never negative.
func (s *Store) TotalPrice() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return totalPrice(s.items)
}

func (s *Store) TotalItems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return totalItems(s.items)
}

// clampQuantity maps q into [1, MaxQuantity].
func clampQuantity(q int) int {
	switch {
	case q < 1:
		return 1
	case q > MaxQuantity:
		return MaxQuantity
	default:
		return q
	}
}

func unitPrice(p ProductRef) int64 {
	if p.Price < 0 {
		return 0
	}
	return p.Price
}

// lineTotal is price times quantity, saturating at math.MaxInt64.
func lineTotal(it Item) int64 {
	price, qty := unitPrice(it.Product), int64(it.Quantity)
	if qty > 0 && price > math.MaxInt64/qty {
		return math.MaxInt64
	}
	return price * qty
}

// addSaturated adds two non-negative amounts, saturating at math.MaxInt64.
func addSaturated(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func totalPrice(items []Item) int64 {
	var total int64
	for _, it := range items {
		total = addSaturated(total, lineTotal(it))
	}
	return total
}

func totalItems(items []Item) int {
	n := 0
	for _, it := range items {
		if n > math.MaxInt-it.Quantity {
			return math.MaxInt
		}
		n += it.Quantity
	}
	return n
}

// Snapshot returns a consistent copy of items, visibility and totals.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Items:      s.copyItemsLocked(),
		IsOpen:     s.isOpen,
		TotalItems: totalItems(s.items),
		TotalPrice: totalPrice(s.items),
	}
}

// Subscribe registers fn to receive a snapshot after every change and returns
// a function that unregisters it.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	if len(s.subs) == 0 {
		s.subMu.Unlock()
		return
	}
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	snap := s.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

// CheckoutLine is one line of the checkout hand-off.
type CheckoutLine struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Subtotal    int64  `json:"subtotal"`
}

// Checkout is the cart as handed to the checkout backend.
type Checkout struct {
	Lines       []CheckoutLine `json:"items"`
	TotalAmount int64          `json:"total_amount"`
	CapturedAt  time.Time      `json:"captured_at"`
}

// CheckoutLines captures the cart for checkout. The cart itself is left as
// is; callers clear it once the backend accepts the order.
func (s *Store) CheckoutLines() Checkout {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Checkout{
		Lines:      make([]CheckoutLine, 0, len(s.items)),
		CapturedAt: time.Now().UTC(),
	}
	for _, it := range s.items {
		price := unitPrice(it.Product)
		line := CheckoutLine{
			ProductID:   it.Product.ID,
			ProductName: it.Product.Name,
			Quantity:    it.Quantity,
			UnitPrice:   price,
			Subtotal:    lineTotal(it),
		}
		out.Lines = append(out.Lines, line)
		out.TotalAmount = addSaturated(out.TotalAmount, line.Subtotal)
	}
	return out
}
