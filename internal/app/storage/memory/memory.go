package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/R3E-Network/supplychain/internal/app/domain/audit"
	"github.com/R3E-Network/supplychain/internal/app/domain/escrow"
	"github.com/R3E-Network/supplychain/internal/app/domain/product"
	"github.com/R3E-Network/supplychain/internal/app/domain/rating"
	"github.com/R3E-Network/supplychain/internal/app/domain/role"
	"github.com/R3E-Network/supplychain/internal/app/storage"
)

// Store is an in-memory implementation of storage.Store. Update holds the
// write lock for the whole callback and undoes every write when the callback
// fails. It is safe for concurrent use and backs tests and local development.
type Store struct {
	mu sync.RWMutex

	lastProductID int64
	assignments   map[string]role.Assignment
	admins        map[string]struct{}
	products      map[int64]product.Product
	history       map[int64][]product.StatusRecord
	owners        map[string][]int64
	balances      map[string]int64
	movements     map[string][]escrow.Movement
	records       []audit.Record
	ratings       map[int64]map[string]rating.Rating
	ratingLog     map[int64][]rating.Rating
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		assignments: make(map[string]role.Assignment),
		admins:      make(map[string]struct{}),
		products:    make(map[int64]product.Product),
		history:     make(map[int64][]product.StatusRecord),
		owners:      make(map[string][]int64),
		balances:    make(map[string]int64),
		movements:   make(map[string][]escrow.Movement),
		ratings:     make(map[int64]map[string]rating.Rating),
		ratingLog:   make(map[int64][]rating.Rating),
	}
}

// Update runs fn under the write lock.
func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{s: s, writable: true}
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// View runs fn under the read lock.
func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{s: s})
}

// tx implements every sub-store over the shared maps. Writes push an undo
// closure so a failed Update restores the previous state.
type tx struct {
	s        *Store
	writable bool
	undo     []func()
}

var (
	_ storage.RoleStore    = (*tx)(nil)
	_ storage.ProductStore = (*tx)(nil)
	_ storage.BalanceStore = (*tx)(nil)
	_ storage.AuditStore   = (*tx)(nil)
	_ storage.RatingStore  = (*tx)(nil)
)

func (t *tx) Roles() storage.RoleStore       { return t }
func (t *tx) Products() storage.ProductStore { return t }
func (t *tx) Balances() storage.BalanceStore { return t }
func (t *tx) Audit() storage.AuditStore      { return t }
func (t *tx) Ratings() storage.RatingStore   { return t }

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) write(ctx context.Context) error {
	if !t.writable {
		return storage.ErrReadOnly
	}
	return ctx.Err()
}

// saveMapEntry records how to restore m[key] to its current value.
func saveMapEntry[K comparable, V any](t *tx, m map[K]V, key K) {
	prev, existed := m[key]
	t.undo = append(t.undo, func() {
		if existed {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
}

// --- RoleStore --------------------------------------------------------------

func (t *tx) GetAssignment(_ context.Context, account string) (role.Assignment, error) {
	a, ok := t.s.assignments[account]
	if !ok {
		return role.Assignment{Account: account}, nil
	}
	return a, nil
}

func (t *tx) PutAssignment(ctx context.Context, a role.Assignment) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	saveMapEntry(t, t.s.assignments, a.Account)
	if a.Flags.Empty() && !a.Selected {
		delete(t.s.assignments, a.Account)
		return nil
	}
	t.s.assignments[a.Account] = a
	return nil
}

func (t *tx) IsAdmin(_ context.Context, account string) (bool, error) {
	_, ok := t.s.admins[account]
	return ok, nil
}

func (t *tx) AddAdmin(ctx context.Context, account string) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	saveMapEntry(t, t.s.admins, account)
	t.s.admins[account] = struct{}{}
	return nil
}

func (t *tx) RemoveAdmin(ctx context.Context, account string) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if _, ok := t.s.admins[account]; !ok {
		return storage.ErrNotFound
	}
	saveMapEntry(t, t.s.admins, account)
	delete(t.s.admins, account)
	return nil
}

func (t *tx) ListAdmins(_ context.Context) ([]string, error) {
	result := make([]string, 0, len(t.s.admins))
	for account := range t.s.admins {
		result = append(result, account)
	}
	sort.Strings(result)
	return result, nil
}

// --- ProductStore -----------------------------------------------------------

func (t *tx) NextProductID(ctx context.Context) (int64, error) {
	if err := t.write(ctx); err != nil {
		return 0, err
	}
	prev := t.s.lastProductID
	t.undo = append(t.undo, func() { t.s.lastProductID = prev })
	t.s.lastProductID++
	return t.s.lastProductID, nil
}

func (t *tx) CreateProduct(ctx context.Context, p product.Product) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if _, exists := t.s.products[p.ID]; exists {
		return storage.ErrExists
	}
	saveMapEntry(t, t.s.products, p.ID)
	t.s.products[p.ID] = p
	return nil
}

func (t *tx) UpdateProduct(ctx context.Context, p product.Product) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if _, ok := t.s.products[p.ID]; !ok {
		return storage.ErrNotFound
	}
	saveMapEntry(t, t.s.products, p.ID)
	t.s.products[p.ID] = p
	return nil
}

func (t *tx) GetProduct(_ context.Context, id int64) (product.Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return product.Product{}, storage.ErrNotFound
	}
	return p, nil
}

func (t *tx) DeleteProduct(ctx context.Context, id int64) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if _, ok := t.s.products[id]; !ok {
		return storage.ErrNotFound
	}
	saveMapEntry(t, t.s.products, id)
	saveMapEntry(t, t.s.history, id)
	delete(t.s.products, id)
	delete(t.s.history, id)
	return nil
}

func (t *tx) ListProducts(_ context.Context) ([]product.Product, error) {
	result := make([]product.Product, 0, len(t.s.products))
	for _, p := range t.s.products {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (t *tx) AppendHistory(ctx context.Context, rec product.StatusRecord) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	saveMapEntry(t, t.s.history, rec.ProductID)
	// Copy so the saved slice header is not aliased by the append.
	prev := t.s.history[rec.ProductID]
	next := make([]product.StatusRecord, len(prev), len(prev)+1)
	copy(next, prev)
	t.s.history[rec.ProductID] = append(next, rec)
	return nil
}

func (t *tx) ListHistory(_ context.Context, id int64) ([]product.StatusRecord, error) {
	return append([]product.StatusRecord(nil), t.s.history[id]...), nil
}

func (t *tx) OwnerIndex(_ context.Context, owner string) ([]int64, error) {
	return append([]int64(nil), t.s.owners[owner]...), nil
}

func (t *tx) IndexAppend(ctx context.Context, owner string, id int64) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	saveMapEntry(t, t.s.owners, owner)
	prev := t.s.owners[owner]
	next := make([]int64, len(prev), len(prev)+1)
	copy(next, prev)
	t.s.owners[owner] = append(next, id)
	return nil
}

func (t *tx) IndexRemove(ctx context.Context, owner string, id int64) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	ids := t.s.owners[owner]
	pos := -1
	for i, candidate := range ids {
		if candidate == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil
	}
	saveMapEntry(t, t.s.owners, owner)
	next := append([]int64(nil), ids...)
	last := len(next) - 1
	next[pos] = next[last]
	next = next[:last]
	if len(next) == 0 {
		delete(t.s.owners, owner)
		return nil
	}
	t.s.owners[owner] = next
	return nil
}

// --- BalanceStore -----------------------------------------------------------

func (t *tx) GetBalance(_ context.Context, account string) (int64, error) {
	return t.s.balances[account], nil
}

func (t *tx) SetBalance(ctx context.Context, account string, amount int64) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	saveMapEntry(t, t.s.balances, account)
	t.s.balances[account] = amount
	return nil
}

func (t *tx) AppendMovement(ctx context.Context, m escrow.Movement) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	saveMapEntry(t, t.s.movements, m.Account)
	prev := t.s.movements[m.Account]
	next := make([]escrow.Movement, len(prev), len(prev)+1)
	copy(next, prev)
	t.s.movements[m.Account] = append(next, m)
	return nil
}

func (t *tx) ListMovements(_ context.Context, account string) ([]escrow.Movement, error) {
	return append([]escrow.Movement(nil), t.s.movements[account]...), nil
}

// --- AuditStore -------------------------------------------------------------

func (t *tx) AppendRecord(ctx context.Context, rec audit.Record) (audit.Record, error) {
	if err := t.write(ctx); err != nil {
		return audit.Record{}, err
	}
	prevLen := len(t.s.records)
	t.undo = append(t.undo, func() { t.s.records = t.s.records[:prevLen] })
	rec.Seq = int64(prevLen) + 1
	t.s.records = append(t.s.records, rec)
	return rec, nil
}

func (t *tx) ListRecords(_ context.Context) ([]audit.Record, error) {
	return append([]audit.Record(nil), t.s.records...), nil
}

func (t *tx) ListProductRecords(_ context.Context, productID int64) ([]audit.Record, error) {
	var result []audit.Record
	for _, rec := range t.s.records {
		if rec.ProductID == productID {
			result = append(result, rec)
		}
	}
	return result, nil
}

// --- RatingStore ------------------------------------------------------------

func (t *tx) AddRating(ctx context.Context, r rating.Rating) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	saveMapEntry(t, t.s.ratings, r.ProductID)
	saveMapEntry(t, t.s.ratingLog, r.ProductID)

	latest := make(map[string]rating.Rating, len(t.s.ratings[r.ProductID])+1)
	for rater, existing := range t.s.ratings[r.ProductID] {
		latest[rater] = existing
	}
	latest[r.Rater] = r
	t.s.ratings[r.ProductID] = latest

	prev := t.s.ratingLog[r.ProductID]
	next := make([]rating.Rating, len(prev), len(prev)+1)
	copy(next, prev)
	t.s.ratingLog[r.ProductID] = append(next, r)
	return nil
}

func (t *tx) GetRating(_ context.Context, productID int64, rater string) (rating.Rating, error) {
	r, ok := t.s.ratings[productID][rater]
	if !ok {
		return rating.Rating{}, storage.ErrNotFound
	}
	return r, nil
}

func (t *tx) RatingSummary(_ context.Context, productID int64) (rating.Summary, error) {
	summary := rating.Summary{ProductID: productID}
	for _, r := range t.s.ratingLog[productID] {
		summary.Count++
		summary.Sum += int64(r.Stars)
	}
	summary.Average = rating.Average(summary.Sum, summary.Count)
	return summary, nil
}
