// Package cart holds the ordered sequence of purchase lines and keeps it
// persisted under the storage.KeyCart entry.
package cart

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jmcleod/emporia/api"
	"github.com/jmcleod/emporia/storage"
)

var (
	// ErrInvalidQuantity matches every InvalidQuantityError.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrQuantityOverflow is returned when a change would take a line or the
	// cart's total count past the largest representable quantity.
	ErrQuantityOverflow = errors.New("quantity exceeds the cart limit")
)

// InvalidQuantityError is returned when a line would be added with a
// quantity below one.
type InvalidQuantityError struct {
	ProductID int64
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("product %d: quantity %d must be at least 1", e.ProductID, e.Quantity)
}

func (e *InvalidQuantityError) Is(target error) bool {
	return target == ErrInvalidQuantity
}

// Line is one product in the cart. The descriptive fields are a snapshot
// taken when the product was first added.
type Line struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Image    string          `json:"image,omitempty"`
	Stock    int             `json:"stock"`
	Quantity int             `json:"quantity"`
}

// Subtotal is quantity times unit price.
func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Manager owns the cart. It is safe for concurrent use.
type Manager struct {
	store  storage.Store
	logger *zap.Logger

	mu    sync.RWMutex
	lines []Line
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger. Default: no-op.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates an empty cart. Call Restore to load the persisted one.
func NewManager(store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "cart"))
	return m
}

// Restore loads the persisted cart. A missing entry gives an empty cart, as
// does an entry that does not decode into a well-formed line sequence; that
// entry is removed. A failed read also gives an empty cart but leaves the
// stored entry in place.
func (m *Manager) Restore() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = nil

	var lines []Line
	err := storage.LoadJSON(m.store, storage.KeyCart, &lines)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err == nil {
		err = CheckLines(lines)
	}
	if err != nil && !errors.Is(err, storage.ErrCorrupt) {
		m.logger.Warn("reading persisted cart failed", zap.Error(err))
		return
	}
	if err != nil {
		m.logger.Warn("resetting cart state", zap.Error(err))
		if err := m.store.Delete(storage.KeyCart); err != nil {
			m.logger.Warn("removing persisted cart failed", zap.Error(err))
		}
		return
	}
	m.lines = lines
	m.logger.Debug("cart restored", zap.Int("lines", len(lines)))
}

// CheckLines reports a persisted line sequence that breaks the cart invariants.
// Errors wrap storage.ErrCorrupt.
func CheckLines(lines []Line) error {
	seen := make(map[int64]bool, len(lines))
	for _, l := range lines {
		if l.Quantity < 1 {
			return fmt.Errorf("%w: line %d has quantity %d", storage.ErrCorrupt, l.ID, l.Quantity)
		}
		if seen[l.ID] {
			return fmt.Errorf("%w: line %d appears more than once", storage.ErrCorrupt, l.ID)
		}
		seen[l.ID] = true
	}
	if _, ok := countLines(lines); !ok {
		return fmt.Errorf("%w: total quantity overflows", storage.ErrCorrupt)
	}
	return nil
}

// commitLocked persists next and adopts it. The in-memory cart is left
// untouched when the write fails.
func (m *Manager) commitLocked(next []Line) error {
	if _, ok := countLines(next); !ok {
		return ErrQuantityOverflow
	}
	if err := storage.SaveJSON(m.store, storage.KeyCart, next); err != nil {
		return fmt.Errorf("persisting cart: %w", err)
	}
	m.lines = next
	return nil
}

// countLines sums the line quantities. It reports false if the sum does not
// fit in an int.
func countLines(lines []Line) (int, bool) {
	total := 0
	for _, l := range lines {
		if l.Quantity > math.MaxInt-total {
			return 0, false
		}
		total += l.Quantity
	}
	return total, true
}

func (m *Manager) indexLocked(id int64) int {
	return slices.IndexFunc(m.lines, func(l Line) bool { return l.ID == id })
}

// AddItem adds quantity units of p. An existing line is incremented;
// otherwise a new line is appended with a snapshot of p.
func (m *Manager) AddItem(p api.Product, quantity int) error {
	if quantity < 1 {
		return &InvalidQuantityError{ProductID: p.ID, Quantity: quantity}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := slices.Clone(m.lines)
	if i := m.indexLocked(p.ID); i >= 0 {
		if next[i].Quantity > math.MaxInt-quantity {
			return fmt.Errorf("%w: product %d", ErrQuantityOverflow, p.ID)
		}
		next[i].Quantity += quantity
	} else {
		next = append(next, Line{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price,
			Image:    p.Image,
			Stock:    p.Stock,
			Quantity: quantity,
		})
	}
	if err := m.commitLocked(next); err != nil {
		return err
	}
	m.logger.Debug("item added", zap.Int64("product_id", p.ID), zap.Int("quantity", quantity))
	return nil
}

// RemoveItem deletes the line for id. Removing an absent id is a no-op.
func (m *Manager) RemoveItem(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

func (m *Manager) removeLocked(id int64) error {
	i := m.indexLocked(id)
	if i < 0 {
		return nil
	}
	next := slices.Delete(slices.Clone(m.lines), i, i+1)
	if err := m.commitLocked(next); err != nil {
		return err
	}
	m.logger.Debug("item removed", zap.Int64("product_id", id))
	return nil
}

// UpdateQuantity sets the quantity of the line for id in place. A quantity
// of zero or less removes the line. Updating an absent id is a no-op.
func (m *Manager) UpdateQuantity(id int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if quantity <= 0 {
		return m.removeLocked(id)
	}
	i := m.indexLocked(id)
	if i < 0 {
		return nil
	}
	next := slices.Clone(m.lines)
	next[i].Quantity = quantity
	return m.commitLocked(next)
}

// Clear empties the cart.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.commitLocked([]Line{}); err != nil {
		return err
	}
	m.logger.Debug("cart cleared")
	return nil
}

// Lines returns a copy of the cart in insertion order.
func (m *Manager) Lines() []Line {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.lines)
}

// Line returns the line for id, if present.
func (m *Manager) Line(id int64) (Line, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.indexLocked(id); i >= 0 {
		return m.lines[i], true
	}
	return Line{}, false
}

// Len is the number of distinct lines.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.lines)
}

// TotalCount is the sum of line quantities.
func (m *Manager) TotalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, _ := countLines(m.lines)
	return n
}

// TotalValue is the sum of line subtotals.
func (m *Manager) TotalValue() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, l := range m.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}
