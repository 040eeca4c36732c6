package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/R3E-Network/supplychain/internal/app/domain/audit"
	"github.com/R3E-Network/supplychain/internal/app/domain/escrow"
	"github.com/R3E-Network/supplychain/internal/app/domain/product"
	"github.com/R3E-Network/supplychain/internal/app/domain/rating"
	"github.com/R3E-Network/supplychain/internal/app/domain/role"
	"github.com/R3E-Network/supplychain/internal/app/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Store implements storage.Store backed by PostgreSQL. Update runs in a
// serializable transaction; View runs in a read-only repeatable-read one.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// Update runs fn inside a serializable transaction and commits when fn
// succeeds.
func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	if err := fn(&txStore{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// View runs fn inside a read-only snapshot.
func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type txStore struct {
	tx *sqlx.Tx
}

var (
	_ storage.RoleStore    = (*txStore)(nil)
	_ storage.ProductStore = (*txStore)(nil)
	_ storage.BalanceStore = (*txStore)(nil)
	_ storage.AuditStore   = (*txStore)(nil)
	_ storage.RatingStore  = (*txStore)(nil)
)

func (t *txStore) Roles() storage.RoleStore       { return t }
func (t *txStore) Products() storage.ProductStore { return t }
func (t *txStore) Balances() storage.BalanceStore { return t }
func (t *txStore) Audit() storage.AuditStore      { return t }
func (t *txStore) Ratings() storage.RatingStore   { return t }

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- RoleStore --------------------------------------------------------------

type assignmentRow struct {
	Account  string `db:"account"`
	Flags    int16  `db:"flags"`
	Selected bool   `db:"selected"`
}

func (t *txStore) GetAssignment(ctx context.Context, account string) (role.Assignment, error) {
	var row assignmentRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT account, flags, selected
		FROM sc_role_assignments
		WHERE account = $1
	`, account)
	if errors.Is(err, sql.ErrNoRows) {
		return role.Assignment{Account: account}, nil
	}
	if err != nil {
		return role.Assignment{}, err
	}
	return role.Assignment{Account: row.Account, Flags: role.Set(row.Flags), Selected: row.Selected}, nil
}

func (t *txStore) PutAssignment(ctx context.Context, a role.Assignment) error {
	if a.Flags.Empty() && !a.Selected {
		_, err := t.tx.ExecContext(ctx, `DELETE FROM sc_role_assignments WHERE account = $1`, a.Account)
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sc_role_assignments (account, flags, selected)
		VALUES ($1, $2, $3)
		ON CONFLICT (account) DO UPDATE SET flags = EXCLUDED.flags, selected = EXCLUDED.selected
	`, a.Account, int16(a.Flags), a.Selected)
	return err
}

func (t *txStore) IsAdmin(ctx context.Context, account string) (bool, error) {
	var ok bool
	err := t.tx.GetContext(ctx, &ok, `SELECT EXISTS (SELECT 1 FROM sc_admins WHERE account = $1)`, account)
	return ok, err
}

func (t *txStore) AddAdmin(ctx context.Context, account string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sc_admins (account, added_at)
		VALUES ($1, $2)
		ON CONFLICT (account) DO NOTHING
	`, account, time.Now().UTC())
	return err
}

func (t *txStore) RemoveAdmin(ctx context.Context, account string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM sc_admins WHERE account = $1`, account)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (t *txStore) ListAdmins(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := t.tx.SelectContext(ctx, &accounts, `SELECT account FROM sc_admins ORDER BY account`); err != nil {
		return nil, err
	}
	return accounts, nil
}

// --- ProductStore -----------------------------------------------------------

const productColumns = `id, name, price, expiry, owner, previous_owner, original_owner, final_customer,
	state, status, human_verified, storage_conditions, returned_to_original, origin_cid, document_cid,
	created_at, updated_at`

type productRow struct {
	ID                 int64        `db:"id"`
	Name               string       `db:"name"`
	Price              int64        `db:"price"`
	Expiry             sql.NullTime `db:"expiry"`
	Owner              string       `db:"owner"`
	PreviousOwner      string       `db:"previous_owner"`
	OriginalOwner      string       `db:"original_owner"`
	FinalCustomer      string       `db:"final_customer"`
	State              int16        `db:"state"`
	Status             string       `db:"status"`
	HumanVerified      bool         `db:"human_verified"`
	StorageConditions  string       `db:"storage_conditions"`
	ReturnedToOriginal bool         `db:"returned_to_original"`
	OriginCID          string       `db:"origin_cid"`
	DocumentCID        string       `db:"document_cid"`
	CreatedAt          time.Time    `db:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at"`
}

func toProductRow(p product.Product) productRow {
	row := productRow{
		ID:                 p.ID,
		Name:               p.Name,
		Price:              p.Price,
		Owner:              p.Owner,
		PreviousOwner:      p.PreviousOwner,
		OriginalOwner:      p.OriginalOwner,
		FinalCustomer:      p.FinalCustomer,
		State:              int16(p.State),
		Status:             p.Status,
		HumanVerified:      p.HumanVerified,
		StorageConditions:  p.StorageConditions,
		ReturnedToOriginal: p.ReturnedToOriginal,
		OriginCID:          p.OriginCID,
		DocumentCID:        p.DocumentCID,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
	if p.HasExpiry() {
		row.Expiry = sql.NullTime{Time: p.Expiry, Valid: true}
	}
	return row
}

func (r productRow) product() product.Product {
	p := product.Product{
		ID:                 r.ID,
		Name:               r.Name,
		Price:              r.Price,
		Owner:              r.Owner,
		PreviousOwner:      r.PreviousOwner,
		OriginalOwner:      r.OriginalOwner,
		FinalCustomer:      r.FinalCustomer,
		State:              product.State(r.State),
		Status:             r.Status,
		HumanVerified:      r.HumanVerified,
		StorageConditions:  r.StorageConditions,
		ReturnedToOriginal: r.ReturnedToOriginal,
		OriginCID:          r.OriginCID,
		DocumentCID:        r.DocumentCID,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	if r.Expiry.Valid {
		p.Expiry = r.Expiry.Time.UTC()
	}
	return p
}

func (t *txStore) NextProductID(ctx context.Context) (int64, error) {
	var id int64
	err := t.tx.GetContext(ctx, &id, `SELECT nextval('sc_product_id_seq')`)
	return id, err
}

func (t *txStore) CreateProduct(ctx context.Context, p product.Product) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO sc_products (`+productColumns+`)
		VALUES (:id, :name, :price, :expiry, :owner, :previous_owner, :original_owner, :final_customer,
			:state, :status, :human_verified, :storage_conditions, :returned_to_original, :origin_cid,
			:document_cid, :created_at, :updated_at)
	`, toProductRow(p))
	if isUniqueViolation(err) {
		return storage.ErrExists
	}
	return err
}

func (t *txStore) UpdateProduct(ctx context.Context, p product.Product) error {
	result, err := t.tx.NamedExecContext(ctx, `
		UPDATE sc_products
		SET owner = :owner, previous_owner = :previous_owner, final_customer = :final_customer,
			state = :state, status = :status, human_verified = :human_verified,
			storage_conditions = :storage_conditions, returned_to_original = :returned_to_original,
			origin_cid = :origin_cid, document_cid = :document_cid, updated_at = :updated_at
		WHERE id = :id
	`, toProductRow(p))
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (t *txStore) GetProduct(ctx context.Context, id int64) (product.Product, error) {
	var row productRow
	if err := t.tx.GetContext(ctx, &row, `SELECT `+productColumns+` FROM sc_products WHERE id = $1`, id); err != nil {
		return product.Product{}, mapNoRows(err)
	}
	return row.product(), nil
}

func (t *txStore) DeleteProduct(ctx context.Context, id int64) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM sc_products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (t *txStore) ListProducts(ctx context.Context) ([]product.Product, error) {
	var rows []productRow
	if err := t.tx.SelectContext(ctx, &rows, `SELECT `+productColumns+` FROM sc_products ORDER BY id`); err != nil {
		return nil, err
	}
	result := make([]product.Product, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.product())
	}
	return result, nil
}

type historyRow struct {
	ProductID  int64     `db:"product_id"`
	State      int16     `db:"state"`
	Status     string    `db:"status"`
	UpdatedBy  string    `db:"updated_by"`
	RecordedAt time.Time `db:"recorded_at"`
}

func (t *txStore) AppendHistory(ctx context.Context, rec product.StatusRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sc_status_history (product_id, state, status, updated_by, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ProductID, int16(rec.State), rec.Status, rec.UpdatedBy, rec.Timestamp)
	return err
}

func (t *txStore) ListHistory(ctx context.Context, id int64) ([]product.StatusRecord, error) {
	var rows []historyRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT product_id, state, status, updated_by, recorded_at
		FROM sc_status_history
		WHERE product_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	result := make([]product.StatusRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, product.StatusRecord{
			ProductID: row.ProductID,
			State:     product.State(row.State),
			Status:    row.Status,
			UpdatedBy: row.UpdatedBy,
			Timestamp: row.RecordedAt.UTC(),
		})
	}
	return result, nil
}

func (t *txStore) OwnerIndex(ctx context.Context, owner string) ([]int64, error) {
	var ids []int64
	err := t.tx.SelectContext(ctx, &ids, `
		SELECT product_id FROM sc_owner_index WHERE owner = $1 ORDER BY position
	`, owner)
	return ids, err
}

func (t *txStore) IndexAppend(ctx context.Context, owner string, id int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sc_owner_index (owner, position, product_id)
		SELECT $1, COALESCE(MAX(position), -1) + 1, $2
		FROM sc_owner_index
		WHERE owner = $1
	`, owner, id)
	return err
}

func (t *txStore) IndexRemove(ctx context.Context, owner string, id int64) error {
	var pos int
	err := t.tx.GetContext(ctx, &pos, `
		SELECT position FROM sc_owner_index WHERE owner = $1 AND product_id = $2 ORDER BY position LIMIT 1
	`, owner, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	var last int
	if err := t.tx.GetContext(ctx, &last, `SELECT MAX(position) FROM sc_owner_index WHERE owner = $1`, owner); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM sc_owner_index WHERE owner = $1 AND position = $2`, owner, pos); err != nil {
		return err
	}
	if last == pos {
		return nil
	}
	_, err = t.tx.ExecContext(ctx, `
		UPDATE sc_owner_index SET position = $3 WHERE owner = $1 AND position = $2
	`, owner, last, pos)
	return err
}

// --- BalanceStore -----------------------------------------------------------

type movementRow struct {
	ID           string    `db:"id"`
	Account      string    `db:"account"`
	Type         string    `db:"type"`
	Amount       int64     `db:"amount"`
	BalanceAfter int64     `db:"balance_after"`
	ProductID    int64     `db:"product_id"`
	Counterparty string    `db:"counterparty"`
	CreatedAt    time.Time `db:"created_at"`
}

func (t *txStore) GetBalance(ctx context.Context, account string) (int64, error) {
	var balance int64
	err := t.tx.GetContext(ctx, &balance, `SELECT balance FROM sc_balances WHERE account = $1`, account)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (t *txStore) SetBalance(ctx context.Context, account string, amount int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sc_balances (account, balance)
		VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET balance = EXCLUDED.balance
	`, account, amount)
	return err
}

func (t *txStore) AppendMovement(ctx context.Context, m escrow.Movement) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO sc_movements (id, account, type, amount, balance_after, product_id, counterparty, created_at)
		VALUES (:id, :account, :type, :amount, :balance_after, :product_id, :counterparty, :created_at)
	`, movementRow{
		ID:           m.ID,
		Account:      m.Account,
		Type:         string(m.Type),
		Amount:       m.Amount,
		BalanceAfter: m.BalanceAfter,
		ProductID:    m.ProductID,
		Counterparty: m.Counterparty,
		CreatedAt:    m.CreatedAt,
	})
	return err
}

func (t *txStore) ListMovements(ctx context.Context, account string) ([]escrow.Movement, error) {
	var rows []movementRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT id, account, type, amount, balance_after, product_id, counterparty, created_at
		FROM sc_movements
		WHERE account = $1
		ORDER BY created_at, id
	`, account)
	if err != nil {
		return nil, err
	}
	result := make([]escrow.Movement, 0, len(rows))
	for _, row := range rows {
		result = append(result, escrow.Movement{
			ID:           row.ID,
			Account:      row.Account,
			Type:         escrow.MovementType(row.Type),
			Amount:       row.Amount,
			BalanceAfter: row.BalanceAfter,
			ProductID:    row.ProductID,
			Counterparty: row.Counterparty,
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return result, nil
}

// --- AuditStore -------------------------------------------------------------

type auditRow struct {
	Seq         int64     `db:"seq"`
	ProductID   int64     `db:"product_id"`
	Actor       string    `db:"actor"`
	Action      string    `db:"action"`
	Status      string    `db:"status"`
	FromAccount string    `db:"from_account"`
	ToAccount   string    `db:"to_account"`
	RecordedAt  time.Time `db:"recorded_at"`
}

func (r auditRow) record() audit.Record {
	return audit.Record{
		Seq:       r.Seq,
		ProductID: r.ProductID,
		Actor:     r.Actor,
		Action:    r.Action,
		Status:    r.Status,
		From:      r.FromAccount,
		To:        r.ToAccount,
		Timestamp: r.RecordedAt.UTC(),
	}
}

const auditColumns = `seq, product_id, actor, action, status, from_account, to_account, recorded_at`

func (t *txStore) AppendRecord(ctx context.Context, rec audit.Record) (audit.Record, error) {
	var seq int64
	err := t.tx.GetContext(ctx, &seq, `
		INSERT INTO sc_audit_records (`+auditColumns+`)
		SELECT COALESCE(MAX(seq), 0) + 1, $1, $2, $3, $4, $5, $6, $7
		FROM sc_audit_records
		RETURNING seq
	`, rec.ProductID, rec.Actor, rec.Action, rec.Status, rec.From, rec.To, rec.Timestamp)
	if err != nil {
		return audit.Record{}, err
	}
	rec.Seq = seq
	return rec, nil
}

func (t *txStore) ListRecords(ctx context.Context) ([]audit.Record, error) {
	var rows []auditRow
	if err := t.tx.SelectContext(ctx, &rows, `SELECT `+auditColumns+` FROM sc_audit_records ORDER BY seq`); err != nil {
		return nil, err
	}
	return auditRecords(rows), nil
}

func (t *txStore) ListProductRecords(ctx context.Context, productID int64) ([]audit.Record, error) {
	var rows []auditRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+auditColumns+` FROM sc_audit_records WHERE product_id = $1 ORDER BY seq
	`, productID)
	if err != nil {
		return nil, err
	}
	return auditRecords(rows), nil
}

func auditRecords(rows []auditRow) []audit.Record {
	result := make([]audit.Record, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.record())
	}
	return result
}

// --- RatingStore ------------------------------------------------------------

type ratingRow struct {
	ProductID   int64     `db:"product_id"`
	Rater       string    `db:"rater"`
	Stars       int16     `db:"stars"`
	Fingerprint string    `db:"fingerprint"`
	RatedAt     time.Time `db:"rated_at"`
}

func (t *txStore) AddRating(ctx context.Context, r rating.Rating) error {
	row := ratingRow{
		ProductID:   r.ProductID,
		Rater:       r.Rater,
		Stars:       int16(r.Stars),
		Fingerprint: r.Fingerprint,
		RatedAt:     r.CreatedAt,
	}
	if _, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO sc_ratings (product_id, rater, stars, fingerprint, rated_at)
		VALUES (:product_id, :rater, :stars, :fingerprint, :rated_at)
		ON CONFLICT (product_id, rater) DO UPDATE
		SET stars = EXCLUDED.stars, fingerprint = EXCLUDED.fingerprint, rated_at = EXCLUDED.rated_at
	`, row); err != nil {
		return err
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO sc_rating_log (product_id, rater, stars, fingerprint, rated_at)
		VALUES (:product_id, :rater, :stars, :fingerprint, :rated_at)
	`, row)
	return err
}

func (t *txStore) GetRating(ctx context.Context, productID int64, rater string) (rating.Rating, error) {
	var row ratingRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT product_id, rater, stars, fingerprint, rated_at
		FROM sc_ratings
		WHERE product_id = $1 AND rater = $2
	`, productID, rater)
	if err != nil {
		return rating.Rating{}, mapNoRows(err)
	}
	return rating.Rating{
		ProductID:   row.ProductID,
		Rater:       row.Rater,
		Stars:       int(row.Stars),
		Fingerprint: row.Fingerprint,
		CreatedAt:   row.RatedAt.UTC(),
	}, nil
}

func (t *txStore) RatingSummary(ctx context.Context, productID int64) (rating.Summary, error) {
	var agg struct {
		Count int64 `db:"count"`
		Sum   int64 `db:"sum"`
	}
	err := t.tx.GetContext(ctx, &agg, `
		SELECT COUNT(*) AS count, COALESCE(SUM(stars), 0) AS sum
		FROM sc_rating_log
		WHERE product_id = $1
	`, productID)
	if err != nil {
		return rating.Summary{}, err
	}
	return rating.Summary{
		ProductID: productID,
		Count:     agg.Count,
		Sum:       agg.Sum,
		Average:   rating.Average(agg.Sum, agg.Count),
	}, nil
}
