package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/supplychain/internal/app/domain/audit"
	"github.com/R3E-Network/supplychain/internal/app/domain/escrow"
	"github.com/R3E-Network/supplychain/internal/app/domain/product"
	"github.com/R3E-Network/supplychain/internal/app/domain/rating"
	"github.com/R3E-Network/supplychain/internal/app/domain/role"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrExists is returned when creating a record whose key is taken.
	ErrExists = errors.New("storage: already exists")
	// ErrReadOnly is returned by writes attempted inside View.
	ErrReadOnly = errors.New("storage: read-only transaction")
)

// RoleStore persists role assignments and the admin set.
type RoleStore interface {
	// GetAssignment returns the stored assignment. Unknown accounts yield an
	// empty assignment rather than ErrNotFound.
	GetAssignment(ctx context.Context, account string) (role.Assignment, error)
	PutAssignment(ctx context.Context, a role.Assignment) error

	IsAdmin(ctx context.Context, account string) (bool, error)
	AddAdmin(ctx context.Context, account string) error
	RemoveAdmin(ctx context.Context, account string) error
	ListAdmins(ctx context.Context) ([]string, error)
}

// ProductStore persists products, their status history and the per-owner
// product index.
type ProductStore interface {
	// NextProductID allocates the next id. Ids start at 1 and are never
	// handed out twice by a committed transaction.
	NextProductID(ctx context.Context) (int64, error)
	CreateProduct(ctx context.Context, p product.Product) error
	UpdateProduct(ctx context.Context, p product.Product) error
	GetProduct(ctx context.Context, id int64) (product.Product, error)
	// DeleteProduct removes the record together with its status history.
	DeleteProduct(ctx context.Context, id int64) error
	ListProducts(ctx context.Context) ([]product.Product, error)

	AppendHistory(ctx context.Context, rec product.StatusRecord) error
	ListHistory(ctx context.Context, id int64) ([]product.StatusRecord, error)

	OwnerIndex(ctx context.Context, owner string) ([]int64, error)
	IndexAppend(ctx context.Context, owner string, id int64) error
	// IndexRemove swaps id with the last entry and truncates. Missing ids are
	// ignored.
	IndexRemove(ctx context.Context, owner string, id int64) error
}

// BalanceStore persists escrow balances and their movement journal.
type BalanceStore interface {
	// GetBalance returns 0 for accounts that never deposited.
	GetBalance(ctx context.Context, account string) (int64, error)
	SetBalance(ctx context.Context, account string, amount int64) error
	AppendMovement(ctx context.Context, m escrow.Movement) error
	ListMovements(ctx context.Context, account string) ([]escrow.Movement, error)
}

// AuditStore persists the append-only audit log.
type AuditStore interface {
	// AppendRecord assigns the next sequence number and stores the record.
	AppendRecord(ctx context.Context, rec audit.Record) (audit.Record, error)
	ListRecords(ctx context.Context) ([]audit.Record, error)
	ListProductRecords(ctx context.Context, productID int64) ([]audit.Record, error)
}

// RatingStore persists ratings.
type RatingStore interface {
	// AddRating overwrites the latest (product, rater) entry and appends to
	// the product's rating log.
	AddRating(ctx context.Context, r rating.Rating) error
	GetRating(ctx context.Context, productID int64, rater string) (rating.Rating, error)
	RatingSummary(ctx context.Context, productID int64) (rating.Summary, error)
}

// Tx exposes one sub-store per component for the duration of a transaction.
type Tx interface {
	Roles() RoleStore
	Products() ProductStore
	Balances() BalanceStore
	Audit() AuditStore
	Ratings() RatingStore
}

// Store runs transactions. Update is serialized and atomic: if fn returns an
// error, nothing it wrote is kept. View sees a consistent snapshot.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}
